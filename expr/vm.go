package expr

import (
	"errors"
	"fmt"
)

// DefaultStackSize is the stack capacity used by Eval.
const DefaultStackSize = 16

// Execution errors. Each is wrapped with the failing instruction offset.
var (
	ErrStackUnderflow = errors.New("stack underflow")
	ErrStackOverflow  = errors.New("stack overflow")
	ErrDivideByZero   = errors.New("division by zero")
	ErrNoReader       = errors.New("memory reads not available")
	ErrNoResolver     = errors.New("symbols not available")
	ErrBadOpcode      = errors.New("unknown opcode")
	ErrTruncated      = errors.New("missing operand")
	ErrBadWidth       = errors.New("invalid width")
	ErrNotScalar      = errors.New("expression did not produce a single value")
)

// Env supplies what a program may ask of its surroundings. Both functions
// are optional; a program that needs a missing one fails.
type Env struct {
	// ReadInteger reads a little or big endian integer of size bytes at
	// addr, as the target dictates. Size 0 means the target's address width.
	ReadInteger func(addr uint64, size int) (uint64, error)
	// ResolveSymbol returns the value of sym.
	ResolveSymbol func(sym Symbol) (uint64, error)
}

// At returns a copy of e in which SymHere resolves to here. Other symbols
// are passed to e.ResolveSymbol, if set.
func (e Env) At(here uint64) Env {
	next := e.ResolveSymbol
	e.ResolveSymbol = func(sym Symbol) (uint64, error) {
		if sym == SymHere {
			return here, nil
		}
		if next == nil {
			return 0, fmt.Errorf("%w: symbol %d", ErrNoResolver, uint64(sym))
		}
		return next(sym)
	}
	return e
}

// SignExtend interprets the low bits of v as a two's complement number
// and widens it to 64 bits. bits must be in [1, 64].
func SignExtend(v uint64, bits uint) uint64 {
	if bits < 64 {
		v &= 1<<bits - 1
	}
	m := uint64(1) << (bits - 1)
	return (v ^ m) - m
}

// Execute runs prog using stack as the value stack; its length is the
// capacity. The stack is cleared first. It returns the final stack depth;
// the result, if any, is stack[depth-1].
func Execute(prog Program, stack []uint64, env Env) (int, error) {
	clear(stack)
	sp := 0

	fail := func(pc int, op Opcode, err error) (int, error) {
		return sp, fmt.Errorf("%s at %d: %w", op, pc, err)
	}

	for ip := 0; ip < len(prog); {
		pc := ip
		op := Opcode(prog[ip])
		ip++

		var operand uint64
		info, known := opcodeTable[op]
		if !known || op == opParen {
			return fail(pc, op, ErrBadOpcode)
		}
		if info.Operands > 0 {
			if ip >= len(prog) {
				return fail(pc, op, ErrTruncated)
			}
			operand = prog[ip]
			ip++
		}

		switch op {
		case OpPush, OpSym:
			if sp == len(stack) {
				return fail(pc, op, ErrStackOverflow)
			}
			v := operand
			if op == OpSym {
				if env.ResolveSymbol == nil {
					return fail(pc, op, ErrNoResolver)
				}
				var err error
				if v, err = env.ResolveSymbol(Symbol(operand)); err != nil {
					return fail(pc, op, err)
				}
			}
			stack[sp] = v
			sp++

		case OpDup:
			if sp == 0 {
				return fail(pc, op, ErrStackUnderflow)
			}
			if sp == len(stack) {
				return fail(pc, op, ErrStackOverflow)
			}
			stack[sp] = stack[sp-1]
			sp++

		case OpDrop:
			if sp == 0 {
				return fail(pc, op, ErrStackUnderflow)
			}
			sp--

		case OpNeg:
			if sp == 0 {
				return fail(pc, op, ErrStackUnderflow)
			}
			stack[sp-1] = -stack[sp-1]

		case OpSx:
			if sp == 0 {
				return fail(pc, op, ErrStackUnderflow)
			}
			if operand == 0 || operand > 64 {
				return fail(pc, op, fmt.Errorf("%w: %d bits", ErrBadWidth, operand))
			}
			stack[sp-1] = SignExtend(stack[sp-1], uint(operand))

		case OpLoad:
			if sp == 0 {
				return fail(pc, op, ErrStackUnderflow)
			}
			if operand > 8 {
				return fail(pc, op, fmt.Errorf("%w: %d bytes", ErrBadWidth, operand))
			}
			if env.ReadInteger == nil {
				return fail(pc, op, ErrNoReader)
			}
			v, err := env.ReadInteger(stack[sp-1], int(operand))
			if err != nil {
				return fail(pc, op, err)
			}
			stack[sp-1] = v

		default:
			if sp < 2 {
				return fail(pc, op, ErrStackUnderflow)
			}
			a, b := stack[sp-2], stack[sp-1]
			var r uint64
			switch op {
			case OpAdd:
				r = a + b
			case OpSub:
				r = a - b
			case OpMul:
				r = a * b
			case OpDiv, OpMod:
				if b == 0 {
					return fail(pc, op, ErrDivideByZero)
				}
				if op == OpDiv {
					r = a / b
				} else {
					r = a % b
				}
			case OpAnd:
				r = a & b
			case OpOr:
				r = a | b
			case OpXor:
				r = a ^ b
			}
			sp--
			stack[sp-1] = r
		}
	}
	return sp, nil
}

// Eval runs prog on a DefaultStackSize stack and returns its single result.
func Eval(prog Program, env Env) (uint64, error) {
	var stack [DefaultStackSize]uint64
	depth, err := Execute(prog, stack[:], env)
	if err != nil {
		return 0, err
	}
	if depth != 1 {
		return 0, fmt.Errorf("%w: stack depth %d", ErrNotScalar, depth)
	}
	return stack[0], nil
}
