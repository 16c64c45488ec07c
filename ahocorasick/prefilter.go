package ahocorasick

import "bytes"

const noneCandidate = -1

// prefilter skips haystack positions that cannot start a match while the
// automaton sits in its start state.
type prefilter interface {
	NextCandidate(haystack []byte, at int) int
}

type byteSet [256]bool

func (b *byteSet) contains(bb byte) bool {
	return b[bb]
}

func (b *byteSet) insert(bb byte) bool {
	n := !b.contains(bb)
	b[bb] = true
	return n
}

// startBytes is used when every pattern begins with one of at most three
// distinct bytes.
type startBytes struct {
	bytes [3]byte
	count int
}

func (s startBytes) NextCandidate(haystack []byte, at int) int {
	rest := haystack[at:]
	if s.count == 1 {
		if i := bytes.IndexByte(rest, s.bytes[0]); i >= 0 {
			return at + i
		}
		return noneCandidate
	}
	for i, b := range rest {
		for _, c := range s.bytes[:s.count] {
			if b == c {
				return at + i
			}
		}
	}
	return noneCandidate
}

type prefilterBuilder struct {
	set   byteSet
	count int
}

func newPrefilterBuilder() prefilterBuilder {
	return prefilterBuilder{}
}

func (p *prefilterBuilder) add(pat []byte) {
	if p.set.insert(pat[0]) {
		p.count++
	}
}

func (p *prefilterBuilder) build() prefilter {
	if p.count == 0 || p.count > 3 {
		return nil
	}
	var sb startBytes
	for b := 0; b < 256; b++ {
		if p.set.contains(byte(b)) {
			sb.bytes[sb.count] = byte(b)
			sb.count++
		}
	}
	return sb
}
