package batch

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/segmentio/parquet-go"
)

// Source yields documents until it returns io.EOF.
type Source func() (Document, error)

// errBadRow marks a row that could not be decoded; the run continues.
var errBadRow = errors.New("malformed row")

// CSVSource reads "id,scope,text" rows. A header row is required; columns
// may appear in any order and scope may be omitted.
func CSVSource(r io.Reader) (Source, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	cols := map[string]int{"id": -1, "scope": -1, "text": -1}
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(name))
		if _, ok := cols[name]; ok {
			cols[name] = i
		}
	}
	if cols["text"] < 0 {
		return nil, fmt.Errorf("CSV header has no text column: %v", header)
	}

	field := func(row []string, name string) string {
		i := cols[name]
		if i < 0 || i >= len(row) {
			return ""
		}
		return row[i]
	}

	return func() (Document, error) {
		row, err := reader.Read()
		if err == io.EOF {
			return Document{}, io.EOF
		}
		if err != nil {
			return Document{}, fmt.Errorf("%w: %v", errBadRow, err)
		}
		return Document{
			ID:    strings.TrimSpace(field(row, "id")),
			Scope: strings.TrimSpace(field(row, "scope")),
			Text:  field(row, "text"),
		}, nil
	}, nil
}

// JSONLSource reads one JSON document per line.
func JSONLSource(r io.Reader) Source {
	decoder := json.NewDecoder(r)
	return func() (Document, error) {
		var doc Document
		err := decoder.Decode(&doc)
		if err == io.EOF {
			return Document{}, io.EOF
		}
		if err != nil {
			var syntax *json.SyntaxError
			if errors.As(err, &syntax) {
				// The decoder cannot resynchronise after a syntax error.
				return Document{}, fmt.Errorf("failed to decode JSON document: %w", err)
			}
			return Document{}, fmt.Errorf("%w: %v", errBadRow, err)
		}
		return doc, nil
	}
}

// ParquetSource reads rows with id, scope and text columns.
func ParquetSource(r io.ReaderAt) (Source, func() error) {
	reader := parquet.NewReader(r)
	return func() (Document, error) {
		var doc Document
		err := reader.Read(&doc)
		if err == io.EOF {
			return Document{}, io.EOF
		}
		if err != nil {
			return Document{}, fmt.Errorf("failed to read Parquet row: %w", err)
		}
		return doc, nil
	}, reader.Close
}
