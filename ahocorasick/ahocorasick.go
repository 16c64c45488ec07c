// Package ahocorasick implements a multi-pattern byte matcher reporting
// every, possibly overlapping, occurrence of each pattern.
package ahocorasick

// AhoCorasick is the main data structure that does most of the work.
// It is immutable after building and safe for concurrent use.
type AhoCorasick struct {
	i *iNFA
}

// PatternCount returns the number of patterns the automaton was built from.
func (ac AhoCorasick) PatternCount() int {
	return ac.i.patternCount
}

// MaxPatternLen returns the length of the longest pattern.
func (ac AhoCorasick) MaxPatternLen() int {
	return ac.i.maxPatternLen
}

// IterOverlappingByte gives an iterator over the built patterns with overlapping matches.
func (ac AhoCorasick) IterOverlappingByte(haystack []byte) *overlappingIter {
	return &overlappingIter{
		fsm:      ac.i,
		haystack: haystack,
		stateID:  startStateID,
	}
}

// AhoCorasickBuilder defines a set of options applied before the patterns are built.
type AhoCorasickBuilder struct {
	nfaBuilder *iNFABuilder
}

// NewAhoCorasickBuilder creates a new AhoCorasickBuilder.
func NewAhoCorasickBuilder() AhoCorasickBuilder {
	return AhoCorasickBuilder{
		nfaBuilder: newNFABuilder(),
	}
}

// Prefilter enables or disables the start byte prefilter. It is enabled by default.
func (a *AhoCorasickBuilder) Prefilter(enabled bool) *AhoCorasickBuilder {
	a.nfaBuilder.prefilter = enabled
	return a
}

// BuildByte builds an automaton from the user provided patterns. Empty
// patterns are accepted but never match.
func (a *AhoCorasickBuilder) BuildByte(patterns [][]byte) AhoCorasick {
	nfa := newCompiler(*a.nfaBuilder).compile(patterns)
	return AhoCorasick{nfa}
}

// A representation of a match reported by an Aho-Corasick automaton.
//
// A match has two essential pieces of information: the identifier of the
// pattern that matched, along with the start and end offsets of the match
// in the haystack.
type Match struct {
	pattern int
	len     int
	end     int
}

// Pattern returns the index of the pattern in the slice of the patterns provided by the user that
// was matched.
func (m *Match) Pattern() int {
	return m.pattern
}

// End gives the offset just past the last byte of this match.
func (m *Match) End() int {
	return m.end
}

// Start gives the index of the first character of this match inside the haystack.
func (m *Match) Start() int {
	return m.end - m.len
}

type overlappingIter struct {
	fsm        *iNFA
	haystack   []byte
	pos        int
	stateID    stateID
	matchIndex int
	pending    bool
}

// Next gives a pointer to the next match yielded by the iterator or nil, if there is none.
// Matches are ordered by end offset.
func (f *overlappingIter) Next() *Match {
	for {
		if f.pending {
			if f.matchIndex < len(f.fsm.states[f.stateID].matches) {
				m := f.fsm.match(f.stateID, f.matchIndex, f.pos)
				f.matchIndex++
				return m
			}
			f.pending = false
		}

		if f.pos >= len(f.haystack) {
			return nil
		}
		if f.stateID == startStateID && f.fsm.prefil != nil {
			c := f.fsm.prefil.NextCandidate(f.haystack, f.pos)
			if c == noneCandidate {
				f.pos = len(f.haystack)
				return nil
			}
			f.pos = c
		}

		f.stateID = f.fsm.nextState(f.stateID, f.haystack[f.pos])
		f.pos++
		if f.fsm.hasMatch(f.stateID) {
			f.pending = true
			f.matchIndex = 0
		}
	}
}
