package pipeline

import (
	"fmt"

	"github.com/sansecio/sigscan/ast"
	"github.com/sansecio/sigscan/expr"
)

// step transforms one address.
type step func(addr uint64, env expr.Env) (uint64, error)

// opTable maps each pointer operation to a constructor that validates the
// operation once and returns the step run for every hit.
var opTable = map[ast.OpKind]func(op ast.PointerOp) (step, error){
	ast.OpAdd: func(op ast.PointerOp) (step, error) {
		return func(addr uint64, _ expr.Env) (uint64, error) {
			return addr + op.Value, nil
		}, nil
	},
	ast.OpSub: func(op ast.PointerOp) (step, error) {
		return func(addr uint64, _ expr.Env) (uint64, error) {
			return addr - op.Value, nil
		}, nil
	},
	ast.OpAbs: func(op ast.PointerOp) (step, error) {
		return func(addr uint64, env expr.Env) (uint64, error) {
			if env.ReadInteger == nil {
				return 0, expr.ErrNoReader
			}
			return env.ReadInteger(addr, op.Size)
		}, nil
	},
	ast.OpRel: func(op ast.PointerOp) (step, error) {
		size := op.Size
		if size == 0 {
			size = 4
		}
		return func(addr uint64, env expr.Env) (uint64, error) {
			if env.ReadInteger == nil {
				return 0, expr.ErrNoReader
			}
			v, err := env.ReadInteger(addr, size)
			if err != nil {
				return 0, err
			}
			disp := expr.SignExtend(v, uint(size*8))
			return addr + uint64(size) + uint64(op.Extra) + disp, nil
		}, nil
	},
	ast.OpExpr: func(op ast.PointerOp) (step, error) {
		if op.Expr == nil {
			return nil, fmt.Errorf("expr operation without expression")
		}
		prog, err := compileExpr(op.Expr)
		if err != nil {
			return nil, err
		}
		return func(addr uint64, env expr.Env) (uint64, error) {
			return expr.Eval(prog, env.At(addr))
		}, nil
	},
}

func compileExpr(e *ast.Expr) (expr.Program, error) {
	d := expr.Infix
	if e.Postfix {
		d = expr.Postfix
	}
	return expr.Compile(e.Text, d)
}

// compileOps chains ops into a single step.
func compileOps(ops []ast.PointerOp) (step, error) {
	steps := make([]step, 0, len(ops))
	for i, op := range ops {
		build, ok := opTable[op.Kind]
		if !ok {
			return nil, fmt.Errorf("op %d: unknown operation %q", i, op.Kind)
		}
		s, err := build(op)
		if err != nil {
			return nil, fmt.Errorf("op %d (%s): %w", i, op.Kind, err)
		}
		steps = append(steps, s)
	}
	return func(addr uint64, env expr.Env) (uint64, error) {
		var err error
		for _, s := range steps {
			if addr, err = s(addr, env); err != nil {
				return 0, err
			}
		}
		return addr, nil
	}, nil
}
