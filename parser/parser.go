// Package parser reads signature files.
//
// A signature file is a YAML document with a list of patterns:
//
//	patterns:
//	  - name: GetPlayer
//	    category: Function
//	    pattern: "48 8B 05 ?? ?? ?? ?? C3"
//	    ops: "[$ + 3].r + 4"
//
// "ops" is either an infix expression or a list of pointer operations;
// "postfix" holds an expression in postfix form instead.
package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"

	"github.com/sansecio/sigscan/ast"
)

// Parser parses signature files.
type Parser struct {
	warnings []string
}

// New creates a new signature file parser.
func New() *Parser {
	return &Parser{}
}

// Parse parses a signature document. Entries that cannot be converted are
// skipped and reported through Warnings; a document that is not valid YAML
// is an error.
func (p *Parser) Parse(input []byte) (*ast.SignatureSet, error) {
	p.warnings = nil
	var doc Document
	dec := yaml.NewDecoder(bytes.NewReader(input))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return &ast.SignatureSet{}, nil
		}
		return nil, fmt.Errorf("decoding signatures: %w", err)
	}
	return p.convertToAST(&doc), nil
}

// ParseFile parses the signature file at filename.
func (p *Parser) ParseFile(filename string) (*ast.SignatureSet, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	set, err := p.Parse(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return set, nil
}

// Warnings returns any warnings generated during the last parse.
func (p *Parser) Warnings() []string {
	return p.warnings
}

func (p *Parser) warnf(format string, args ...any) {
	p.warnings = append(p.warnings, fmt.Sprintf(format, args...))
}

func (p *Parser) convertToAST(doc *Document) *ast.SignatureSet {
	set := &ast.SignatureSet{Signatures: make([]*ast.Signature, 0, len(doc.Patterns))}
	for i, e := range doc.Patterns {
		if e == nil {
			p.warnf("pattern %d: empty entry", i)
			continue
		}
		sig, err := convertEntry(e)
		if err != nil {
			name := e.Name
			if name == "" {
				name = fmt.Sprintf("#%d", i)
			}
			p.warnf("pattern %s: %v", name, err)
			continue
		}
		set.Signatures = append(set.Signatures, sig)
	}
	return set
}

func convertEntry(e *Entry) (*ast.Signature, error) {
	if e.Name == "" {
		return nil, fmt.Errorf("missing name")
	}
	if e.Pattern == "" {
		return nil, fmt.Errorf("missing pattern")
	}
	cat, err := ast.ParseCategory(e.Category)
	if err != nil {
		return nil, err
	}
	if e.Count != nil && *e.Count < 1 {
		return nil, fmt.Errorf("count must be at least 1, got %d", *e.Count)
	}
	if e.Index != nil && *e.Index < 0 {
		return nil, fmt.Errorf("index must not be negative, got %d", *e.Index)
	}

	sig := &ast.Signature{
		Name:        e.Name,
		Category:    cat,
		Description: e.Desc,
		Pattern:     e.Pattern,
		Count:       e.Count,
		Index:       e.Index,
	}

	switch {
	case e.Postfix != "" && !e.Ops.IsZero():
		return nil, fmt.Errorf("ops and postfix are mutually exclusive")
	case e.Postfix != "":
		sig.Expr = &ast.Expr{Text: e.Postfix, Postfix: true}
	case e.Ops.Expr != "":
		sig.Expr = &ast.Expr{Text: e.Ops.Expr}
	case len(e.Ops.List) > 0:
		for i, oe := range e.Ops.List {
			op, err := convertOp(oe)
			if err != nil {
				return nil, fmt.Errorf("op %d: %w", i, err)
			}
			sig.Ops = append(sig.Ops, op)
		}
	}
	return sig, nil
}

func convertOp(oe *OpEntry) (ast.PointerOp, error) {
	if oe == nil {
		return ast.PointerOp{}, fmt.Errorf("empty operation")
	}
	op := ast.PointerOp{
		Kind:  ast.OpKind(oe.Op),
		Value: oe.Value,
		Size:  oe.Size,
		Extra: oe.Extra,
	}
	switch op.Kind {
	case ast.OpAdd, ast.OpSub, ast.OpAbs, ast.OpRel:
	case ast.OpExpr:
		if oe.Expr == "" {
			return op, fmt.Errorf("expr operation without expression")
		}
		op.Expr = &ast.Expr{Text: oe.Expr}
	default:
		return op, fmt.Errorf("unknown operation %q", oe.Op)
	}
	switch op.Size {
	case 0, 1, 2, 4, 8:
	default:
		return op, fmt.Errorf("invalid size %d", op.Size)
	}
	return op, nil
}

// Schema returns the JSON schema of signature files.
func Schema() ([]byte, error) {
	r := &jsonschema.Reflector{FieldNameTag: "yaml"}
	s := r.Reflect(&Document{})
	s.Title = "sigscan signature file"
	bts, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return bts, nil
}
