package expr

// CompilePostfix compiles a reverse Polish expression. Besides the binary
// operators it accepts '>' (dup), '<' (drop) and loads written as
// [{s|u}{b|w|d|q}], which pop an address and push the value read there,
// sign extended for 's'.
func CompilePostfix(text string) (Program, error) {
	toks, err := tokenize(postfixLexer, text)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return nil, syntaxErrorf(0, "empty expression")
	}

	var prog Program
	for _, t := range toks {
		switch t.kind {
		case tokNumber, tokSymbol:
			if prog, err = emitOperand(prog, t); err != nil {
				return nil, err
			}
		case tokLoad:
			spec := t.value[1 : len(t.value)-1]
			signed := spec[0] == 's'
			if spec[0] == 's' || spec[0] == 'u' {
				spec = spec[1:]
			}
			size := widths[spec[0]]
			prog = prog.emit(OpLoad, size)
			if signed {
				prog = prog.emit(OpSx, size*8)
			}
		case tokPunct:
			switch t.value {
			case ">":
				prog = prog.emit(OpDup)
			case "<":
				prog = prog.emit(OpDrop)
			default:
				prog = prog.emit(binaryOps[t.value])
			}
		default:
			return nil, syntaxErrorf(t.offset, "unexpected %q", t.value)
		}
	}
	return prog, nil
}
