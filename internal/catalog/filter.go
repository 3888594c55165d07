package catalog

import (
	"fmt"
	"path/filepath"
)

// Filter selects cases by glob. The pattern uses filepath.Match syntax and
// is matched against the set name and against "set/case". The zero Filter
// matches everything.
type Filter struct {
	pattern string
}

// NewFilter validates pattern and returns a Filter for it.
func NewFilter(pattern string) (Filter, error) {
	if pattern == "" {
		return Filter{}, nil
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return Filter{}, fmt.Errorf("invalid filter %q: %w", pattern, err)
	}
	return Filter{pattern: pattern}, nil
}

// Pattern returns the glob, or "" for the match-all filter.
func (f Filter) Pattern() string {
	return f.pattern
}

// MatchSet reports whether every case of set is selected.
func (f Filter) MatchSet(set string) bool {
	if f.pattern == "" {
		return true
	}
	ok, _ := filepath.Match(f.pattern, set)
	return ok
}

// Match reports whether the case is selected.
func (f Filter) Match(set, name string) bool {
	if f.MatchSet(set) {
		return true
	}
	ok, _ := filepath.Match(f.pattern, set+"/"+name)
	return ok
}
