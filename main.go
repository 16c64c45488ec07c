package main

import (
	"fmt"
	"os"

	"github.com/sansecio/sigscan/parser"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <signature-file>\n", os.Args[0])
		os.Exit(1)
	}

	filename := os.Args[1]

	p := parser.New()

	set, err := p.ParseFile(filename)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing %s: %v\n", filename, err)
		os.Exit(1)
	}
	for _, w := range p.Warnings() {
		fmt.Fprintf(os.Stderr, "warning: %s\n", w)
	}

	fmt.Printf("Parsed %d signatures from %s\n", len(set.Signatures), filename)

	for _, s := range set.Signatures {
		transform := "none"
		switch {
		case s.Expr != nil:
			transform = fmt.Sprintf("%q", s.Expr.Text)
		case len(s.Ops) > 0:
			transform = fmt.Sprintf("%d ops", len(s.Ops))
		}
		fmt.Printf("  - %s (%s, pattern: %q, transform: %s)\n",
			s.Name, s.Category, s.Pattern, transform)
	}
}
