package scanner

import (
	"bytes"
	"iter"

	"github.com/sansecio/sigscan/pattern"
)

// skipMatcher searches for the longest concrete run of the pattern with a
// Horspool shift table and verifies the full pattern at each run hit.
type skipMatcher struct {
	pat      *pattern.Pattern
	run      []byte
	runStart int
	shift    [256]int
}

func newSkipMatcher(p *pattern.Pattern) *skipMatcher {
	start, n := p.LongestRun()
	m := &skipMatcher{
		pat:      p,
		run:      p.Run(),
		runStart: start,
	}
	for i := range m.shift {
		m.shift[i] = n
	}
	for i := 0; i < n-1; i++ {
		m.shift[m.run[i]] = n - 1 - i
	}
	return m
}

func (m *skipMatcher) Pattern() *pattern.Pattern { return m.pat }

func (m *skipMatcher) Offsets(data []byte) iter.Seq[int] {
	return func(yield func(int) bool) {
		rl := len(m.run)
		// p is the position of the run; the pattern then starts at p-runStart
		// and must end inside data.
		last := len(data) - m.pat.Len() + m.runStart
		tail := m.run[rl-1]
		head := m.run[:rl-1]

		if rl == 1 {
			for p := m.runStart; p <= last; p++ {
				i := bytes.IndexByte(data[p:last+1], tail)
				if i < 0 {
					return
				}
				p += i
				if m.pat.Match(data[p-m.runStart:]) && !yield(p-m.runStart) {
					return
				}
			}
			return
		}

		for p := m.runStart; p <= last; {
			c := data[p+rl-1]
			if c == tail && bytes.Equal(data[p:p+rl-1], head) {
				s := p - m.runStart
				if m.pat.Match(data[s:]) && !yield(s) {
					return
				}
			}
			p += m.shift[c]
		}
	}
}
