package scanner

import (
	"iter"

	"github.com/sansecio/sigscan/ahocorasick"
	"github.com/sansecio/sigscan/pattern"
)

// Set matches many patterns in one pass. The longest concrete run of each
// pattern is its atom; atoms are fed to one Aho-Corasick automaton and every
// atom hit is verified against the full pattern.
type Set struct {
	patterns []*pattern.Pattern
	runStart []int
	matcher  ahocorasick.AhoCorasick
	maxLen   int
}

// NewSet builds a Set. Pattern indices in reported matches refer to the
// order of patterns.
func NewSet(patterns []*pattern.Pattern) *Set {
	s := &Set{
		patterns: patterns,
		runStart: make([]int, len(patterns)),
	}
	atoms := make([][]byte, len(patterns))
	for i, p := range patterns {
		s.runStart[i], _ = p.LongestRun()
		atoms[i] = p.Run()
		s.maxLen = max(s.maxLen, p.Len())
	}
	builder := ahocorasick.NewAhoCorasickBuilder()
	s.matcher = builder.BuildByte(atoms)
	return s
}

// Len returns the number of patterns in the set.
func (s *Set) Len() int {
	return len(s.patterns)
}

// MaxLen returns the length of the longest pattern.
func (s *Set) MaxLen() int {
	return s.maxLen
}

// Offsets yields (pattern index, offset) for every occurrence of every
// pattern that fits entirely within data. Pairs are ordered by the end of
// the atom hit, not by offset.
func (s *Set) Offsets(data []byte) iter.Seq2[int, int] {
	return func(yield func(int, int) bool) {
		it := s.matcher.IterOverlappingByte(data)
		for m := it.Next(); m != nil; m = it.Next() {
			pi := m.Pattern()
			p := s.patterns[pi]
			off := m.Start() - s.runStart[pi]
			if off < 0 || off+p.Len() > len(data) {
				continue
			}
			if p.Match(data[off:]) && !yield(pi, off) {
				return
			}
		}
	}
}
