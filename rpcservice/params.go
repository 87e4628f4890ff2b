package rpcservice

import (
	"encoding/json"
	"reflect"

	"github.com/invopop/jsonschema"
)

// Param constrains one positional argument of a method. The set of
// implementations is closed: use Any, String, Number, Boolean, Object, Array
// or Shape.
type Param interface {
	// Kind names the constraint in error messages and listings.
	Kind() string
	// Match reports whether v satisfies the constraint.
	Match(v any) bool
	// Schema describes the constraint as JSON schema.
	Schema() *jsonschema.Schema

	param()
}

type primitiveParam struct {
	kind string
}

func (p primitiveParam) Kind() string { return p.kind }

func (p primitiveParam) Match(v any) bool {
	if p.kind == "any" {
		return true
	}
	return KindOf(v) == p.kind
}

func (p primitiveParam) Schema() *jsonschema.Schema {
	if p.kind == "any" {
		return &jsonschema.Schema{}
	}
	return &jsonschema.Schema{Type: p.kind}
}

func (primitiveParam) param() {}

// Any accepts every value, including null.
func Any() Param { return primitiveParam{kind: "any"} }

func String() Param  { return primitiveParam{kind: "string"} }
func Number() Param  { return primitiveParam{kind: "number"} }
func Boolean() Param { return primitiveParam{kind: "boolean"} }
func Object() Param  { return primitiveParam{kind: "object"} }
func Array() Param   { return primitiveParam{kind: "array"} }

type shapeParam struct {
	name   string
	typ    reflect.Type
	schema *jsonschema.Schema
}

// Shape accepts values of the named type T (or *T), and JSON objects that
// carry every required property of T with a value of the right kind.
func Shape[T any]() Param {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	typ := reflect.TypeOf((*T)(nil)).Elem()
	name := typ.Name()
	if name == "" {
		name = typ.String()
	}
	return shapeParam{name: name, typ: typ, schema: r.Reflect(new(T))}
}

func (p shapeParam) Kind() string               { return p.name }
func (p shapeParam) Schema() *jsonschema.Schema { return p.schema }
func (shapeParam) param()                       {}

func (p shapeParam) Match(v any) bool {
	if v == nil {
		return false
	}
	t := reflect.TypeOf(v)
	if t == p.typ || (t.Kind() == reflect.Pointer && t.Elem() == p.typ) {
		return true
	}
	if p.schema == nil || p.schema.Type != "object" {
		return p.schema != nil && p.schema.Type != "" && schemaKindMatches(p.schema.Type, v)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return false
	}
	for _, req := range p.schema.Required {
		if _, ok := obj[req]; !ok {
			return false
		}
	}
	if p.schema.Properties == nil {
		return true
	}
	for el := p.schema.Properties.Oldest(); el != nil; el = el.Next() {
		pv, ok := obj[el.Key]
		if !ok || el.Value == nil || el.Value.Type == "" {
			continue
		}
		if !schemaKindMatches(el.Value.Type, pv) {
			return false
		}
	}
	return true
}

func schemaKindMatches(schemaType string, v any) bool {
	kind := KindOf(v)
	switch schemaType {
	case "integer":
		if kind != "number" {
			return false
		}
		f, ok := toFloat(v)
		return !ok || f == float64(int64(f))
	case "null":
		return v == nil
	default:
		return kind == schemaType
	}
}

// KindOf classifies v as one of "null", "string", "number", "boolean",
// "object" or "array". Values that fit none of those report their Go type.
func KindOf(v any) string {
	if v == nil {
		return "null"
	}
	if _, ok := v.(json.Number); ok {
		return "number"
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "null"
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.String:
		return "string"
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return "number"
	case reflect.Map, reflect.Struct:
		return "object"
	case reflect.Slice, reflect.Array:
		return "array"
	default:
		return rv.Type().String()
	}
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
