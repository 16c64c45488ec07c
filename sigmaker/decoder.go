package sigmaker

import (
	"errors"
	"fmt"
	"reflect"

	"golang.org/x/arch/arm64/arm64asm"
	"golang.org/x/arch/x86/x86asm"

	"github.com/sansecio/sigscan/memory"
)

var (
	ErrDecode          = errors.New("cannot decode instruction")
	ErrUnsupportedArch = errors.New("unsupported architecture")
)

// Decoder measures one instruction and reports which of its bytes vary
// between otherwise identical instructions, such as displacements,
// immediates and branch targets.
type Decoder interface {
	Decode(code []byte) (length int, variable []int, err error)
}

// DecoderFor returns the decoder for arch.
func DecoderFor(arch memory.Arch) (Decoder, error) {
	switch arch {
	case memory.ArchAMD64:
		return X86Decoder{Mode: 64}, nil
	case memory.ArchX86:
		return X86Decoder{Mode: 32}, nil
	case memory.ArchARM64:
		return ARM64Decoder{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedArch, arch)
}

// flips are the perturbations applied to each byte: the lowest and the
// highest bit.
var flips = [...]byte{0x01, 0x80}

// variableBytes flips bits in each byte of an instruction and keeps the
// bytes for which every flip decodes to the same instruction shape and at
// least one flip changes an operand value.
func variableBytes[I any](code []byte, orig I, decode func([]byte) (I, error), same func(a, b I) (shape, args bool)) []int {
	var variable []int
	scratch := make([]byte, len(code))
	for i := range code {
		ok, changed := true, false
		for _, f := range flips {
			copy(scratch, code)
			scratch[i] ^= f
			inst, err := decode(scratch)
			if err != nil {
				ok = false
				break
			}
			shape, args := same(orig, inst)
			if !shape {
				ok = false
				break
			}
			if !args {
				changed = true
			}
		}
		if ok && changed {
			variable = append(variable, i)
		}
	}
	return variable
}

// X86Decoder decodes x86 code in 16, 32 or 64 bit mode.
type X86Decoder struct {
	Mode int
}

func (d X86Decoder) Decode(code []byte) (int, []int, error) {
	inst, err := d.decode(code)
	if err != nil {
		return 0, nil, err
	}
	body := code[:inst.Len]
	return inst.Len, variableBytes(body, inst, d.decode, sameX86), nil
}

// decode rejects the pseudo-instruction x86asm returns for truncated input:
// Op 0 with only the first byte consumed.
func (d X86Decoder) decode(code []byte) (x86asm.Inst, error) {
	inst, err := x86asm.Decode(code, d.Mode)
	if err != nil {
		return inst, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if inst.Op == 0 || inst.Len == 0 || inst.Len > len(code) {
		return inst, fmt.Errorf("%w: truncated instruction % X", ErrDecode, code)
	}
	return inst, nil
}

func sameX86(a, b x86asm.Inst) (shape, args bool) {
	if a.Op != b.Op || a.Opcode != b.Opcode || a.Len != b.Len || a.Prefix != b.Prefix ||
		a.DataSize != b.DataSize || a.AddrSize != b.AddrSize || a.MemBytes != b.MemBytes {
		return false, false
	}
	args = true
	for i := range a.Args {
		x, y := a.Args[i], b.Args[i]
		if reflect.TypeOf(x) != reflect.TypeOf(y) {
			return false, false
		}
		switch x := x.(type) {
		case x86asm.Mem:
			y := y.(x86asm.Mem)
			if x.Segment != y.Segment || x.Base != y.Base || x.Scale != y.Scale || x.Index != y.Index {
				return false, false
			}
			if x.Disp != y.Disp {
				args = false
			}
		case x86asm.Imm, x86asm.Rel:
			if x != y {
				args = false
			}
		default:
			if x != y {
				return false, false
			}
		}
	}
	return true, args
}

// ARM64Decoder decodes AArch64 code.
type ARM64Decoder struct{}

func (ARM64Decoder) Decode(code []byte) (int, []int, error) {
	if len(code) < 4 {
		return 0, nil, fmt.Errorf("%w: %d bytes", ErrDecode, len(code))
	}
	body := code[:4]
	inst, err := arm64asm.Decode(body)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return 4, variableBytes(body, inst, arm64asm.Decode, sameARM64), nil
}

func sameARM64(a, b arm64asm.Inst) (shape, args bool) {
	if a.Op != b.Op {
		return false, false
	}
	args = true
	for i := range a.Args {
		x, y := a.Args[i], b.Args[i]
		if (x == nil) != (y == nil) {
			return false, false
		}
		if x == nil {
			break
		}
		if _, ok := x.(arm64asm.PCRel); ok {
			py, ok := y.(arm64asm.PCRel)
			if !ok {
				return false, false
			}
			if x.(arm64asm.PCRel) != py {
				args = false
			}
			continue
		}
		if x.String() != y.String() {
			return false, false
		}
	}
	return true, args
}
