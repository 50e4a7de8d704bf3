package privacy

import (
	"cmp"
	"fmt"
	"iter"
	"slices"
	"sync/atomic"

	"go.uber.org/zap"
)

// Detector scans text against the registry.
type Detector struct {
	registry *Registry
	enabled  map[Category]bool
	logger   *zap.Logger
}

// NewDetector creates a detector with the given categories switched on.
// "all" (or an empty list) enables every category.
func NewDetector(registry *Registry, detectors []string, logger *zap.Logger) (*Detector, error) {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	d := &Detector{
		registry: registry,
		enabled:  make(map[Category]bool),
		logger:   logger,
	}

	if err := d.configureDetectors(detectors); err != nil {
		return nil, fmt.Errorf("failed to configure detectors: %w", err)
	}

	logger.Info("Privacy detector initialized",
		zap.Int("total_rules", registry.Len()),
		zap.Int("enabled_rules", d.countEnabledRules()),
	)

	return d, nil
}

// configureDetectors enables categories based on configuration
func (d *Detector) configureDetectors(detectors []string) error {
	if len(detectors) == 0 {
		detectors = []string{"all"}
	}

	for _, detector := range detectors {
		if detector == "all" {
			for _, rule := range d.registry.rules {
				d.enabled[rule.Category] = true
			}
			continue
		}

		c, err := ParseCategory(detector)
		if err != nil {
			return err
		}
		d.enabled[c] = true
	}

	return nil
}

// Registry returns the registry backing this detector.
func (d *Detector) Registry() *Registry {
	return d.registry
}

// EnabledCategories returns the enabled categories in registry order.
func (d *Detector) EnabledCategories() []Category {
	var out []Category
	for _, rule := range d.registry.rules {
		if d.enabled[rule.Category] {
			out = append(out, rule.Category)
		}
	}
	return out
}

// Detect returns the matches in text for the given scope, ordered by start
// offset. The sequence is lazy and single-use: no pattern runs until the
// first value is pulled, and ranging over it a second time yields nothing.
func (d *Detector) Detect(text string, scope Scope) (iter.Seq[Match], error) {
	if err := validateInput(text, scope); err != nil {
		return nil, err
	}

	var consumed atomic.Bool
	return func(yield func(Match) bool) {
		if !consumed.CompareAndSwap(false, true) {
			return
		}
		for _, m := range d.collect(text, scope) {
			if !yield(m) {
				return
			}
		}
	}, nil
}

// collect runs every enabled, in-scope rule and merges the results. Matches
// from different categories may overlap; nothing is deduplicated here.
func (d *Detector) collect(text string, scope Scope) []Match {
	var matches []Match
	for rank, rule := range d.registry.rules {
		if !d.enabled[rule.Category] || scope.suppresses(rule.Category) {
			continue
		}
		for _, span := range rule.Matcher.FindAll(text, scope) {
			matches = append(matches, Match{
				Category: rule.Category,
				Severity: rule.Severity,
				Start:    span.Start,
				End:      span.End,
				Length:   span.End - span.Start,
				rank:     rank,
			})
		}
	}

	slices.SortFunc(matches, func(a, b Match) int {
		if c := cmp.Compare(a.Start, b.Start); c != 0 {
			return c
		}
		if c := cmp.Compare(a.rank, b.rank); c != 0 {
			return c
		}
		return cmp.Compare(a.End, b.End)
	})
	return matches
}

// countEnabledRules returns the number of enabled detection rules
func (d *Detector) countEnabledRules() int {
	count := 0
	for _, enabled := range d.enabled {
		if enabled {
			count++
		}
	}
	return count
}

// resolve picks a non-overlapping subset of matches. Rules claim spans in
// registry order, so when two matches overlap the earlier rule always wins.
// The result is ordered by start offset.
func resolve(matches []Match) []Match {
	byRank := slices.Clone(matches)
	slices.SortStableFunc(byRank, func(a, b Match) int {
		if c := cmp.Compare(a.rank, b.rank); c != 0 {
			return c
		}
		return cmp.Compare(a.Start, b.Start)
	})

	claimed := make([]Match, 0, len(byRank))
	for _, m := range byRank {
		if m.Start >= m.End {
			continue
		}
		taken := false
		for _, c := range claimed {
			if c.overlaps(m) {
				taken = true
				break
			}
		}
		if !taken {
			claimed = append(claimed, m)
		}
	}

	slices.SortFunc(claimed, func(a, b Match) int { return cmp.Compare(a.Start, b.Start) })
	return claimed
}
