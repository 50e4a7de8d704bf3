package privacy

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	// ErrInvalidScope is returned when a caller passes an unknown scope.
	ErrInvalidScope = errors.New("invalid content scope")
	// ErrEncoding is returned for input that is not valid UTF-8.
	ErrEncoding = errors.New("input is not valid UTF-8")
	// ErrUnknownCategory is returned when a category name cannot be parsed.
	ErrUnknownCategory = errors.New("unknown PII category")
)

func validateInput(text string, scope Scope) error {
	if !scope.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidScope, uint8(scope))
	}
	if !utf8.ValidString(text) {
		return fmt.Errorf("%w: invalid byte sequence at offset %d", ErrEncoding, firstInvalid(text))
	}
	return nil
}

func firstInvalid(text string) int {
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		if r == utf8.RuneError && size <= 1 {
			return i
		}
		i += size
	}
	return -1
}
