// Package scanner finds every occurrence of a byte pattern in memory.
//
// Three interchangeable strategies are provided. They always report the
// same offsets; they differ only in speed:
//
//   - Naive compares the pattern at every offset.
//   - Skip runs a Boyer-Moore-Horspool search for the pattern's longest
//     concrete run and verifies the full pattern around each candidate.
//   - Regexp compiles the pattern to a Latin-1 RE2 program.
//
// ScanAll drives a strategy over a Source in parallel.
package scanner

import (
	"fmt"
	"iter"
	"strings"

	"github.com/sansecio/sigscan/pattern"
)

// Strategy selects a single-region search algorithm.
type Strategy int

const (
	Skip Strategy = iota
	Naive
	Regexp
)

func (s Strategy) String() string {
	switch s {
	case Skip:
		return "skip"
	case Naive:
		return "naive"
	case Regexp:
		return "regexp"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy returns the strategy with the given name. The empty string
// selects Skip.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(name) {
	case "", "skip":
		return Skip, nil
	case "naive":
		return Naive, nil
	case "regexp", "regex", "re2":
		return Regexp, nil
	}
	return 0, fmt.Errorf("unknown scan strategy %q", name)
}

// Matcher finds pattern occurrences in a single contiguous buffer.
type Matcher interface {
	// Offsets yields, in ascending order, every offset at which the whole
	// pattern fits in data and matches. Overlapping occurrences are all
	// reported.
	Offsets(data []byte) iter.Seq[int]
	// Pattern returns the pattern being searched for.
	Pattern() *pattern.Pattern
}

// New returns a Matcher for p using strategy s.
func New(s Strategy, p *pattern.Pattern) (Matcher, error) {
	switch s {
	case Skip:
		return newSkipMatcher(p), nil
	case Naive:
		return naiveMatcher{pat: p}, nil
	case Regexp:
		return newRegexpMatcher(p)
	}
	return nil, fmt.Errorf("unknown scan strategy %v", s)
}

// FindAll returns every match offset in data.
func FindAll(m Matcher, data []byte) []int {
	var offs []int
	for off := range m.Offsets(data) {
		offs = append(offs, off)
	}
	return offs
}

// FindN returns at most n match offsets. A negative n means no limit.
func FindN(m Matcher, data []byte, n int) []int {
	if n < 0 {
		return FindAll(m, data)
	}
	var offs []int
	if n == 0 {
		return offs
	}
	for off := range m.Offsets(data) {
		offs = append(offs, off)
		if len(offs) == n {
			break
		}
	}
	return offs
}

// Find returns the first match offset.
func Find(m Matcher, data []byte) (int, bool) {
	for off := range m.Offsets(data) {
		return off, true
	}
	return 0, false
}

type naiveMatcher struct {
	pat *pattern.Pattern
}

func (m naiveMatcher) Pattern() *pattern.Pattern { return m.pat }

func (m naiveMatcher) Offsets(data []byte) iter.Seq[int] {
	return func(yield func(int) bool) {
		n := m.pat.Len()
		for i := 0; i+n <= len(data); i++ {
			if m.pat.Match(data[i:]) && !yield(i) {
				return
			}
		}
	}
}
