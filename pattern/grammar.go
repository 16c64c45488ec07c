package pattern

import (
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// Grammar structs for the pattern text form. The optional braces accept
// the YARA hex-string spelling of the same pattern.

type patternGrammar struct {
	Open   bool            `parser:"@'{'?"`
	Tokens []*tokenGrammar `parser:"@@*"`
	Close  bool            `parser:"@'}'?"`
}

type tokenGrammar struct {
	Pos lexer.Position

	Byte     *string `parser:"( @HexByte"`
	Wildcard *string `parser:"| @Wildcard )"`
}

func (t *tokenGrammar) text() string {
	if t.Byte != nil {
		return *t.Byte
	}
	return *t.Wildcard
}

var patternLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "HexByte", Pattern: `[0-9A-Fa-f]{2}`},
	{Name: "Wildcard", Pattern: `\?\??`},
	{Name: "Brace", Pattern: `[{}]`},
	{Name: "Whitespace", Pattern: `\s+`},
})

var patternParser = participle.MustBuild[patternGrammar](
	participle.Lexer(patternLexer),
	participle.Elide("Whitespace"),
)
