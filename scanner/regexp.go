package scanner

import (
	"fmt"
	"iter"

	regexp "github.com/wasilibs/go-re2"
	"github.com/wasilibs/go-re2/experimental"

	"github.com/sansecio/sigscan/pattern"
)

// regexpMatcher runs the pattern as a Latin-1 RE2 program. RE2 reports
// non-overlapping matches only, so the m-1 offsets following each hit are
// verified directly; the next regexp hit is never closer than m bytes.
type regexpMatcher struct {
	pat *pattern.Pattern
	re  *regexp.Regexp
}

func newRegexpMatcher(p *pattern.Pattern) (*regexpMatcher, error) {
	re, err := experimental.CompileLatin1(p.Regexp())
	if err != nil {
		return nil, fmt.Errorf("compiling %q: %w", p.String(), err)
	}
	return &regexpMatcher{pat: p, re: re}, nil
}

func (m *regexpMatcher) Pattern() *pattern.Pattern { return m.pat }

func (m *regexpMatcher) Offsets(data []byte) iter.Seq[int] {
	return func(yield func(int) bool) {
		n := m.pat.Len()
		for _, loc := range m.re.FindAllIndex(data, -1) {
			s := loc[0]
			if !yield(s) {
				return
			}
			for i := s + 1; i < s+n && i+n <= len(data); i++ {
				if m.pat.Match(data[i:]) && !yield(i) {
					return
				}
			}
		}
	}
}
