package codec

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Kind identifies a type descriptor shape.
type Kind string

// Descriptor kinds. Primitives are resolvable without a schema entry;
// vector/option are derived from the type name; composites come from
// the schema document.
const (
	KindBool      Kind = "bool"
	KindU8        Kind = "u8"
	KindU16       Kind = "u16"
	KindU32       Kind = "u32"
	KindU64       Kind = "u64"
	KindCompact   Kind = "compact"
	KindBytes     Kind = "bytes"
	KindString    Kind = "string"
	KindAccountID Kind = "accountid"
	KindVector    Kind = "vector"
	KindOption    Kind = "option"
	KindComposite Kind = "composite"
	KindAlias     Kind = "alias"
)

// Field is one ordered member of a composite type.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// TypeDef describes how one named type is encoded.
type TypeDef struct {
	Kind   Kind    `json:"kind"`
	Elem   string  `json:"elem,omitempty"`   // vector/option/alias element
	Fields []Field `json:"fields,omitempty"` // composite members, order is binding
}

// Schema is the self-describing type table for one chain-spec version.
// Resolved once per connection and immutable afterwards.
type Schema struct {
	SpecVersion uint32
	types       map[string]TypeDef
}

// schemaDocument is the wire form of the registry served by the node.
type schemaDocument struct {
	SpecVersion uint32             `json:"specVersion"`
	Types       map[string]TypeDef `json:"types"`
}

// ParseSchema decodes a schema document fetched from the node.
func ParseSchema(data []byte) (*Schema, error) {
	var doc schemaDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse schema document: %w", err)
	}
	if doc.Types == nil {
		doc.Types = map[string]TypeDef{}
	}
	return &Schema{SpecVersion: doc.SpecVersion, types: doc.Types}, nil
}

// NewSchema builds a schema from an in-process type table.
func NewSchema(specVersion uint32, types map[string]TypeDef) *Schema {
	cp := make(map[string]TypeDef, len(types))
	for k, v := range types {
		cp[k] = v
	}
	return &Schema{SpecVersion: specVersion, types: cp}
}

var primitives = map[string]Kind{
	"bool":      KindBool,
	"u8":        KindU8,
	"u16":       KindU16,
	"u32":       KindU32,
	"u64":       KindU64,
	"compact":   KindCompact,
	"bytes":     KindBytes,
	"string":    KindString,
	"accountid": KindAccountID,
}

// maxAliasDepth bounds alias chains; node-supplied schema documents
// may contain cycles.
const maxAliasDepth = 16

// Resolve maps a type name to its descriptor. Primitive names and
// vec<...>/option<...> forms resolve structurally; anything else must
// have a schema entry.
func (s *Schema) Resolve(name string) (TypeDef, error) {
	return s.resolve(name, 0)
}

func (s *Schema) resolve(name string, depth int) (TypeDef, error) {
	if depth > maxAliasDepth {
		return TypeDef{}, fmt.Errorf("type %q: alias chain exceeds %d links: %w", name, maxAliasDepth, ErrUnsupportedType)
	}
	if k, ok := primitives[name]; ok {
		return TypeDef{Kind: k}, nil
	}
	if elem, ok := wrapped(name, "vec"); ok {
		return TypeDef{Kind: KindVector, Elem: elem}, nil
	}
	if elem, ok := wrapped(name, "option"); ok {
		return TypeDef{Kind: KindOption, Elem: elem}, nil
	}
	def, ok := s.types[name]
	if !ok {
		return TypeDef{}, fmt.Errorf("type %q: %w", name, ErrUnknownType)
	}
	if def.Kind == KindAlias {
		return s.resolve(def.Elem, depth+1)
	}
	return def, nil
}

// wrapped matches names of the form prefix<elem>.
func wrapped(name, prefix string) (string, bool) {
	if strings.HasPrefix(name, prefix+"<") && strings.HasSuffix(name, ">") {
		return name[len(prefix)+1 : len(name)-1], true
	}
	return "", false
}

// BuiltinTypes is the client's fallback type table, used when the node
// predates the registry RPC. Matches the chain runtime's layout.
func BuiltinTypes() map[string]TypeDef {
	return map[string]TypeDef{
		"Balance": {Kind: KindAlias, Elem: "u64"},
		"Score":   {Kind: KindAlias, Elem: "u16"},
		"NeuronInfo": {Kind: KindComposite, Fields: []Field{
			{Name: "uid", Type: "u16"},
			{Name: "hotkey", Type: "accountid"},
			{Name: "coldkey", Type: "accountid"},
			{Name: "stake", Type: "Balance"},
			{Name: "rank", Type: "Score"},
			{Name: "trust", Type: "Score"},
			{Name: "consensus", Type: "Score"},
			{Name: "incentive", Type: "Score"},
			{Name: "dividends", Type: "Score"},
			{Name: "active", Type: "bool"},
			{Name: "last_update", Type: "u64"},
		}},
		"AccountInfo": {Kind: KindComposite, Fields: []Field{
			{Name: "nonce", Type: "u32"},
			{Name: "free", Type: "Balance"},
			{Name: "staked", Type: "Balance"},
		}},
		"WeightEntry": {Kind: KindComposite, Fields: []Field{
			{Name: "uid", Type: "u16"},
			{Name: "weight", Type: "u16"},
		}},
	}
}

// BuiltinSchema wraps BuiltinTypes with an unknown spec version.
func BuiltinSchema() *Schema {
	return NewSchema(0, BuiltinTypes())
}
