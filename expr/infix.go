package expr

import "strings"

type pending struct {
	op      Opcode
	bracket bool // for opParen: opened by '[' rather than '('
	offset  int
}

// CompileInfix compiles an infix expression with a shunting-yard pass.
//
// Binding strength, loosest first: '|', '^', '&', '+' '-', '*' '/' '%',
// unary '-'. Operators of equal strength associate to the left.
//
// A bracketed expression reads memory at the address it computes. The
// bracket may be followed by a suffix: '.' then optionally 'r' (add the
// value read to the address it was read from), 's' (sign extend) and a
// width b, w, d or q. Without a width the read is address sized; ".r"
// alone reads a signed 32-bit displacement.
func CompileInfix(text string) (Program, error) {
	toks, err := tokenize(infixLexer, text)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, syntaxErrorf(0, "empty expression")
	}

	var (
		prog          Program
		ops           []pending
		expectOperand = true
	)

	popWhile := func(prec int) {
		for len(ops) > 0 {
			top := ops[len(ops)-1]
			if top.op == opParen || top.op.Info().Prec < prec {
				return
			}
			prog = prog.emit(top.op)
			ops = ops[:len(ops)-1]
		}
	}

	closeGroup := func(t token, bracket bool) error {
		for len(ops) > 0 {
			top := ops[len(ops)-1]
			ops = ops[:len(ops)-1]
			if top.op != opParen {
				prog = prog.emit(top.op)
				continue
			}
			if top.bracket != bracket {
				return syntaxErrorf(t.offset, "%q closes group opened at offset %d", t.value, top.offset)
			}
			return nil
		}
		return syntaxErrorf(t.offset, "unmatched %q", t.value)
	}

	for i := 0; i < len(toks); i++ {
		t := toks[i]

		if expectOperand {
			switch {
			case t.kind == tokNumber || t.kind == tokSymbol:
				if prog, err = emitOperand(prog, t); err != nil {
					return nil, err
				}
				expectOperand = false
			case t.kind == tokPunct && t.value == "(":
				ops = append(ops, pending{op: opParen, offset: t.offset})
			case t.kind == tokPunct && t.value == "[":
				ops = append(ops, pending{op: opParen, bracket: true, offset: t.offset})
			case t.kind == tokPunct && t.value == "-":
				ops = append(ops, pending{op: OpNeg, offset: t.offset})
			default:
				return nil, syntaxErrorf(t.offset, "expected operand, found %q", t.value)
			}
			continue
		}

		switch {
		case t.kind == tokPunct && t.value == ")":
			if err := closeGroup(t, false); err != nil {
				return nil, err
			}
		case t.kind == tokPunct && t.value == "]":
			if err := closeGroup(t, true); err != nil {
				return nil, err
			}
			var suffix *token
			if i+1 < len(toks) && toks[i+1].kind == tokSuffix {
				suffix = &toks[i+1]
				i++
			}
			if prog, err = emitDeref(prog, suffix); err != nil {
				return nil, err
			}
		case t.kind == tokPunct && isBinary(t.value):
			op := binaryOps[t.value]
			popWhile(op.Info().Prec)
			ops = append(ops, pending{op: op, offset: t.offset})
			expectOperand = true
		case t.kind == tokSuffix:
			return nil, syntaxErrorf(t.offset, "suffix %q must follow ']'", t.value)
		default:
			return nil, syntaxErrorf(t.offset, "expected operator, found %q", t.value)
		}
	}

	if expectOperand {
		return nil, syntaxErrorf(len(text), "unexpected end of expression")
	}
	for len(ops) > 0 {
		top := ops[len(ops)-1]
		ops = ops[:len(ops)-1]
		if top.op == opParen {
			open := "("
			if top.bracket {
				open = "["
			}
			return nil, syntaxErrorf(top.offset, "unmatched %q", open)
		}
		prog = prog.emit(top.op)
	}
	return prog, nil
}

func isBinary(s string) bool {
	_, ok := binaryOps[s]
	return ok
}

// emitDeref appends the read for a closed bracket group whose address is on
// top of the stack.
func emitDeref(prog Program, suffix *token) (Program, error) {
	var (
		size     uint64
		signed   bool
		relative bool
	)
	if suffix != nil {
		s := strings.TrimPrefix(suffix.value, ".")
		if rest, ok := strings.CutPrefix(s, "r"); ok {
			relative, s = true, rest
		}
		if rest, ok := strings.CutPrefix(s, "s"); ok {
			signed, s = true, rest
		}
		if s != "" {
			size = widths[s[0]]
		}
		if size == 0 {
			if !relative {
				return nil, syntaxErrorf(suffix.offset, "suffix %q needs a width", suffix.value)
			}
			size, signed = 4, true
		}
	}

	if relative {
		prog = prog.emit(OpDup)
	}
	prog = prog.emit(OpLoad, size)
	if signed {
		prog = prog.emit(OpSx, size*8)
	}
	if relative {
		prog = prog.emit(OpAdd)
	}
	return prog, nil
}
