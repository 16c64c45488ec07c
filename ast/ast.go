// Package ast defines the parsed form of signature definitions.
package ast

import (
	"fmt"
	"strings"
)

// SignatureSet represents a collection of signatures loaded from one source.
type SignatureSet struct {
	Signatures []*Signature
}

// Signature locates one address: a pattern to scan for, an optional
// transformation applied to each hit, and the rules used to pick a single
// result when several remain.
type Signature struct {
	Name        string
	Category    Category
	Description string
	Pattern     string // textual pattern, see package pattern

	// At most one of Expr and Ops is set. With neither, hits are used as is.
	Expr *Expr
	Ops  []PointerOp

	Count *int // expected number of hits, when more than one is normal
	Index *int // which hit to keep, in ascending address order
}

// Expr is an expression evaluated with the hit address bound to $.
type Expr struct {
	Text    string
	Postfix bool
}

// Category tells a consumer what kind of symbol the resolved address is.
type Category int

const (
	CategoryData Category = iota
	CategoryFunction
)

func (c Category) String() string {
	switch c {
	case CategoryData:
		return "Data"
	case CategoryFunction:
		return "Function"
	}
	return fmt.Sprintf("Category(%d)", int(c))
}

// ParseCategory accepts "Data" or "Function" in any case. The empty string
// is Data.
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(s) {
	case "", "data":
		return CategoryData, nil
	case "function", "func", "code":
		return CategoryFunction, nil
	}
	return 0, fmt.Errorf("unknown category %q", s)
}

// OpKind names a declarative pointer operation.
type OpKind string

const (
	OpAdd  OpKind = "add"  // address + Value
	OpSub  OpKind = "sub"  // address - Value
	OpAbs  OpKind = "abs"  // read an absolute pointer of Size bytes at the address
	OpRel  OpKind = "rel"  // address + Size + Extra + signed displacement of Size bytes read at the address
	OpExpr OpKind = "expr" // evaluate Expr with $ bound to the address
)

// PointerOp is one step of a declarative transformation. Which fields are
// meaningful depends on Kind.
type PointerOp struct {
	Kind  OpKind
	Value uint64
	Size  int
	Extra int64
	Expr  *Expr
}

func (op PointerOp) String() string {
	switch op.Kind {
	case OpAdd, OpSub:
		return fmt.Sprintf("%s %#x", op.Kind, op.Value)
	case OpAbs:
		return fmt.Sprintf("%s %d", op.Kind, op.Size)
	case OpRel:
		return fmt.Sprintf("%s %d%+d", op.Kind, op.Size, op.Extra)
	case OpExpr:
		if op.Expr != nil {
			return fmt.Sprintf("%s %q", op.Kind, op.Expr.Text)
		}
	}
	return string(op.Kind)
}
