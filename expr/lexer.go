package expr

import (
	"errors"
	"fmt"

	"github.com/alecthomas/participle/v2/lexer"
)

// The dialects share literals and symbols but not brackets: in infix a
// bracket encloses an address expression, in postfix it names a load width.

var infixLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `\s+`},
	{Name: "Number", Pattern: `(?:0[xX])?[0-9A-Fa-f]+`},
	{Name: "Symbol", Pattern: `\$[A-Za-z0-9_]*`},
	{Name: "Suffix", Pattern: `\.r?s?[bwdq]?`},
	{Name: "Punct", Pattern: `[-+*/%&|^()\[\]]`},
})

var postfixLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `\s+`},
	{Name: "Load", Pattern: `\[[su]?[bwdq]\]`},
	{Name: "Number", Pattern: `(?:0[xX])?[0-9A-Fa-f]+`},
	{Name: "Symbol", Pattern: `\$[A-Za-z0-9_]*`},
	{Name: "Punct", Pattern: `[-+*/%&|^<>]`},
})

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokSymbol
	tokSuffix
	tokLoad
	tokPunct
)

type token struct {
	kind   tokenKind
	value  string
	offset int
}

// ErrSyntax is matched by every *SyntaxError.
var ErrSyntax = errors.New("syntax error")

// SyntaxError describes an expression that cannot be compiled.
type SyntaxError struct {
	Offset int // byte offset into the source text
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at offset %d: %s", e.Offset, e.Msg)
}

func (e *SyntaxError) Unwrap() error {
	return ErrSyntax
}

func syntaxErrorf(offset int, format string, args ...any) *SyntaxError {
	return &SyntaxError{Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

func tokenize(def *lexer.StatefulDefinition, text string) ([]token, error) {
	lex, err := def.LexString("", text)
	if err != nil {
		return nil, syntaxErrorf(0, "%v", err)
	}
	raw, err := lexer.ConsumeAll(lex)
	if err != nil {
		var lerr *lexer.Error
		if errors.As(err, &lerr) {
			return nil, syntaxErrorf(lerr.Pos.Offset, "%s", lerr.Msg)
		}
		return nil, syntaxErrorf(0, "%v", err)
	}

	kinds := map[lexer.TokenType]tokenKind{}
	for name, tt := range def.Symbols() {
		switch name {
		case "Number":
			kinds[tt] = tokNumber
		case "Symbol":
			kinds[tt] = tokSymbol
		case "Suffix":
			kinds[tt] = tokSuffix
		case "Load":
			kinds[tt] = tokLoad
		case "Punct":
			kinds[tt] = tokPunct
		}
	}

	toks := make([]token, 0, len(raw))
	for _, t := range raw {
		kind, ok := kinds[t.Type]
		if !ok {
			continue // whitespace and EOF
		}
		toks = append(toks, token{kind: kind, value: t.Value, offset: t.Pos.Offset})
	}
	return toks, nil
}
