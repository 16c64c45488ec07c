package memory

import (
	"testing"

	"github.com/sansecio/sigscan/pattern"
)

func mustPattern(t *testing.T, text string) *pattern.Pattern {
	t.Helper()
	p, err := pattern.Parse(text)
	if err != nil {
		t.Fatal(err)
	}
	return p
}
