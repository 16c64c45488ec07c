package expr_test

import (
	"encoding/binary"
	"fmt"

	"github.com/sansecio/sigscan/expr"
)

func ExampleCompileInfix() {
	// mov rax, [rip+0x2010] at 0x1000; the displacement sits at offset 3
	// and is relative to the end of the 7-byte instruction.
	code := []byte{0x48, 0x8B, 0x05, 0x10, 0x20, 0x00, 0x00}
	read := func(addr uint64, size int) (uint64, error) {
		off := addr - 0x1000
		switch size {
		case 4:
			return uint64(binary.LittleEndian.Uint32(code[off:])), nil
		}
		return 0, fmt.Errorf("unsupported read of %d bytes", size)
	}

	prog, err := expr.CompileInfix("[$ + 3].r + 4")
	if err != nil {
		fmt.Println("compile error:", err)
		return
	}
	target, err := expr.Eval(prog, expr.Env{ReadInteger: read}.At(0x1000))
	if err != nil {
		fmt.Println("eval error:", err)
		return
	}
	fmt.Printf("%#x\n", target)
	// Output:
	// 0x3017
}
