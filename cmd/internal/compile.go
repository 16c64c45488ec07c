package internal

import (
	"fmt"

	"github.com/sansecio/sigscan/ast"
	"github.com/sansecio/sigscan/parser"
	"github.com/sansecio/sigscan/pattern"
)

// Signatures is a parsed signature file with its compiled patterns.
type Signatures struct {
	List     []*ast.Signature
	Patterns []*pattern.Pattern
	Warnings []string
}

// LoadSignatures parses the signature files and compiles every pattern.
// Signatures whose pattern does not compile are reported as warnings.
func LoadSignatures(paths ...string) (*Signatures, error) {
	out := &Signatures{}
	p := parser.New()
	for _, path := range paths {
		set, err := p.ParseFile(path)
		if err != nil {
			return nil, err
		}
		for _, w := range p.Warnings() {
			out.Warnings = append(out.Warnings, path+": "+w)
		}
		for _, sig := range set.Signatures {
			pat, err := pattern.Parse(sig.Pattern)
			if err != nil {
				out.Warnings = append(out.Warnings, fmt.Sprintf("%s: %s: %v", path, sig.Name, err))
				continue
			}
			out.List = append(out.List, sig)
			out.Patterns = append(out.Patterns, pat)
		}
	}
	return out, nil
}
