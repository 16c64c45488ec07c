// Package expr compiles small pointer-arithmetic expressions to bytecode and
// runs them on a stack machine.
//
// Two dialects are understood. Infix uses the usual operators with
// precedence, parentheses for grouping and brackets for memory reads:
//
//	[$ + 3].rd + 4
//
// Postfix uses the same operators in reverse Polish order, '>' to duplicate,
// '<' to drop and bracketed width specifiers for memory reads:
//
//	$ 3 + > [sd] + 4 +
//
// All values are unsigned 64-bit words. Literals are hexadecimal, with an
// optional 0x prefix. The symbol $ (or $here) is the address being
// evaluated.
package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect selects the source syntax.
type Dialect int

const (
	Infix Dialect = iota
	Postfix
)

func (d Dialect) String() string {
	if d == Postfix {
		return "postfix"
	}
	return "infix"
}

// Symbol identifies a value supplied by the environment at run time.
type Symbol uint64

// SymHere is the address currently being evaluated.
const SymHere Symbol = 0

var symbols = map[string]Symbol{
	"":     SymHere,
	"here": SymHere,
}

var binaryOps = map[string]Opcode{
	"+": OpAdd,
	"-": OpSub,
	"*": OpMul,
	"/": OpDiv,
	"%": OpMod,
	"&": OpAnd,
	"|": OpOr,
	"^": OpXor,
}

var widths = map[byte]uint64{
	'b': 1,
	'w': 2,
	'd': 4,
	'q': 8,
}

// Compile compiles text in the given dialect.
func Compile(text string, d Dialect) (Program, error) {
	if d == Postfix {
		return CompilePostfix(text)
	}
	return CompileInfix(text)
}

func parseNumber(t token) (uint64, error) {
	digits := strings.TrimPrefix(strings.TrimPrefix(t.value, "0x"), "0X")
	v, err := strconv.ParseUint(digits, 16, 64)
	if err != nil {
		return 0, syntaxErrorf(t.offset, "literal %s does not fit in 64 bits", t.value)
	}
	return v, nil
}

func parseSymbol(t token) (Symbol, error) {
	name := strings.TrimPrefix(t.value, "$")
	sym, ok := symbols[name]
	if !ok {
		return 0, syntaxErrorf(t.offset, "unknown symbol %s", t.value)
	}
	return sym, nil
}

// emitOperand appends the code for a literal or symbol token.
func emitOperand(prog Program, t token) (Program, error) {
	switch t.kind {
	case tokNumber:
		v, err := parseNumber(t)
		if err != nil {
			return nil, err
		}
		return prog.emit(OpPush, v), nil
	case tokSymbol:
		sym, err := parseSymbol(t)
		if err != nil {
			return nil, err
		}
		return prog.emit(OpSym, uint64(sym)), nil
	}
	return nil, fmt.Errorf("internal: %q is not an operand", t.value)
}
