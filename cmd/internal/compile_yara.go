//go:build yara

package internal

import (
	yara "github.com/hillu/go-yara/v4"

	"github.com/sansecio/sigscan/pattern"
)

// YaraRules compiles the patterns with libyara.
func YaraRules(patterns []*pattern.Pattern) (*yara.Rules, []int, error) {
	compiler, err := yara.NewCompiler()
	if err != nil {
		return nil, nil, err
	}
	defer compiler.Destroy()

	src, skipped := YaraSource(patterns)
	if err := compiler.AddString(src, ""); err != nil {
		return nil, nil, err
	}
	rules, err := compiler.GetRules()
	return rules, skipped, err
}
