package parser

import (
	"fmt"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

// Grammar structs for signature files. These define the YAML document
// layout and, through their jsonschema tags, the published schema.

// Document is the top level of a signature file.
type Document struct {
	Patterns []*Entry `yaml:"patterns" jsonschema:"title=Patterns,description=Signatures to resolve"`
}

// Entry is one signature.
type Entry struct {
	Name     string `yaml:"name" jsonschema:"required,description=Name of the resolved symbol"`
	Category string `yaml:"category,omitempty" jsonschema:"enum=Function,enum=Data,default=Data"`
	Desc     string `yaml:"desc,omitempty" jsonschema:"description=Free form description"`
	Pattern  string `yaml:"pattern" jsonschema:"required,description=Hex bytes and ?? wildcards,example=48 8B 05 ?? ?? ?? ??"`
	Ops      Ops    `yaml:"ops,omitempty" jsonschema:"description=Infix expression or list of pointer operations applied to each hit"`
	Postfix  string `yaml:"postfix,omitempty" jsonschema:"description=Postfix expression applied to each hit"`
	Count    *int   `yaml:"count,omitempty" jsonschema:"minimum=1,description=Expected number of hits"`
	Index    *int   `yaml:"index,omitempty" jsonschema:"minimum=0,description=Hit to keep in ascending address order"`
}

// OpEntry is one declarative pointer operation.
type OpEntry struct {
	Op    string `yaml:"op" jsonschema:"required,enum=add,enum=sub,enum=abs,enum=rel,enum=expr"`
	Value uint64 `yaml:"value,omitempty"`
	Size  int    `yaml:"size,omitempty" jsonschema:"enum=0,enum=1,enum=2,enum=4,enum=8"`
	Extra int64  `yaml:"extra,omitempty"`
	Expr  string `yaml:"expr,omitempty"`
}

// Ops holds the "ops" key, which is either an infix expression or a list
// of pointer operations.
type Ops struct {
	Expr string
	List []*OpEntry
}

// IsZero lets yaml omit an empty Ops.
func (o Ops) IsZero() bool {
	return o.Expr == "" && len(o.List) == 0
}

func (o *Ops) UnmarshalYAML(n *yaml.Node) error {
	switch n.Kind {
	case yaml.ScalarNode:
		return n.Decode(&o.Expr)
	case yaml.SequenceNode:
		return n.Decode(&o.List)
	}
	return fmt.Errorf("line %d: ops must be a string or a list", n.Line)
}

func (o Ops) MarshalYAML() (any, error) {
	if len(o.List) > 0 {
		return o.List, nil
	}
	return o.Expr, nil
}

// JSONSchema describes Ops as either form.
func (Ops) JSONSchema() *jsonschema.Schema {
	r := &jsonschema.Reflector{FieldNameTag: "yaml", DoNotReference: true}
	return &jsonschema.Schema{
		OneOf: []*jsonschema.Schema{
			{Type: "string"},
			{Type: "array", Items: r.Reflect(&OpEntry{})},
		},
	}
}
