package expr

import (
	"fmt"
	"strings"
)

// Opcode is a single VM instruction. Operands, if any, follow the opcode
// as separate words in the Program.
type Opcode uint64

const (
	OpPush Opcode = iota // push literal (1 operand: value)
	OpAdd                // a + b
	OpSub                // a - b
	OpMul                // a * b
	OpDiv                // a / b, unsigned
	OpMod                // a % b, unsigned
	OpAnd                // a & b
	OpOr                 // a | b
	OpXor                // a ^ b
	OpNeg                // -a
	OpSx                 // sign extend from bit width (1 operand: bits)
	OpDup                // duplicate top of stack
	OpDrop               // discard top of stack
	OpLoad               // read integer at address (1 operand: size, 0 = address width)
	OpSym                // push symbol value (1 operand: symbol id)

	opParen // grouping marker, compiler only
)

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name     string // mnemonic
	Operands int    // inline operand words
	Prec     int    // infix binding strength, 0 for non-operators
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpPush: {"push", 1, 0},
	OpAdd:  {"add", 0, 5},
	OpSub:  {"sub", 0, 5},
	OpMul:  {"mul", 0, 6},
	OpDiv:  {"div", 0, 6},
	OpMod:  {"mod", 0, 6},
	OpAnd:  {"and", 0, 4},
	OpOr:   {"or", 0, 2},
	OpXor:  {"xor", 0, 3},
	OpNeg:  {"neg", 0, 7},
	OpSx:   {"sx", 1, 0},
	OpDup:  {"dup", 0, 0},
	OpDrop: {"drop", 0, 0},
	OpLoad: {"load", 1, 0},
	OpSym:  {"sym", 1, 0},

	opParen: {"paren", 0, 0},
}

// Info returns the metadata for op.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("op%d", uint64(op))}
}

func (op Opcode) String() string {
	return op.Info().Name
}

// Program is compiled bytecode. It is immutable once compiled and may be
// executed any number of times, concurrently.
type Program []uint64

func (p Program) emit(op Opcode, operands ...uint64) Program {
	p = append(p, uint64(op))
	return append(p, operands...)
}

// String disassembles the program, one instruction per line.
func (p Program) String() string {
	var sb strings.Builder
	for ip := 0; ip < len(p); {
		op := Opcode(p[ip])
		info := op.Info()
		fmt.Fprintf(&sb, "%04d  %s", ip, info.Name)
		ip++
		for range info.Operands {
			if ip >= len(p) {
				sb.WriteString(" <truncated>")
				break
			}
			fmt.Fprintf(&sb, " %#x", p[ip])
			ip++
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
