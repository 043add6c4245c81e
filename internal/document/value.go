package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

const (
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeBool   = "bool"
	TypeString = "string"
)

// Var is a typed save value.
type Var[T any] struct {
	key string
	typ string
	def T
	val T
}

func NewVar[T any](key, typeTag string, def T) *Var[T] {
	return &Var[T]{key: key, typ: typeTag, def: def, val: def}
}

func Int(key string, def int) *Var[int]             { return NewVar(key, TypeInt, def) }
func Float(key string, def float64) *Var[float64]   { return NewVar(key, TypeFloat, def) }
func Bool(key string, def bool) *Var[bool]          { return NewVar(key, TypeBool, def) }
func String(key string, def string) *Var[string]    { return NewVar(key, TypeString, def) }
func JSON[T any](key, typeTag string, def T) *Var[T] { return NewVar(key, typeTag, def) }

func (v *Var[T]) Key() string  { return v.key }
func (v *Var[T]) Type() string { return v.typ }
func (v *Var[T]) Get() T       { return v.val }
func (v *Var[T]) Set(val T)    { v.val = val }
func (v *Var[T]) Default() T   { return v.def }
func (v *Var[T]) Reset()       { v.val = v.def }

func (v *Var[T]) Marshal() (json.RawMessage, error) {
	return json.Marshal(v.val)
}

func (v *Var[T]) DefaultJSON() (json.RawMessage, error) {
	return json.Marshal(v.def)
}

func (v *Var[T]) Unmarshal(raw json.RawMessage) error {
	if err := CheckKind(v.typ, raw); err != nil {
		return err
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	v.val = out
	return nil
}

// Dynamic is an untyped save value declared in schema.yaml. It holds raw
// JSON checked against its type tag.
type Dynamic struct {
	key string
	typ string
	def json.RawMessage
	val json.RawMessage
}

func NewDynamic(key, typeTag string, def json.RawMessage) (*Dynamic, error) {
	if def == nil {
		def = zeroFor(typeTag)
	}
	compact, err := compactJSON(def)
	if err != nil {
		return nil, fmt.Errorf("value %q default: %w", key, err)
	}
	if err := CheckKind(typeTag, compact); err != nil {
		return nil, fmt.Errorf("value %q default: %w", key, err)
	}
	return &Dynamic{key: key, typ: typeTag, def: compact, val: compact}, nil
}

func (d *Dynamic) Key() string                           { return d.key }
func (d *Dynamic) Type() string                          { return d.typ }
func (d *Dynamic) Get() json.RawMessage                  { return d.val }
func (d *Dynamic) Reset()                                { d.val = d.def }
func (d *Dynamic) Marshal() (json.RawMessage, error)     { return d.val, nil }
func (d *Dynamic) DefaultJSON() (json.RawMessage, error) { return d.def, nil }

func (d *Dynamic) Set(raw json.RawMessage) error {
	return d.Unmarshal(raw)
}

func (d *Dynamic) Unmarshal(raw json.RawMessage) error {
	compact, err := compactJSON(raw)
	if err != nil {
		return err
	}
	if err := CheckKind(d.typ, compact); err != nil {
		return err
	}
	d.val = compact
	return nil
}

// CheckKind verifies that raw holds a JSON value of the kind the primitive
// type tags promise. Other tags only require valid JSON.
func CheckKind(typeTag string, raw json.RawMessage) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return fmt.Errorf("empty value for type %s", typeTag)
	}
	if !json.Valid(trimmed) {
		return fmt.Errorf("invalid JSON for type %s", typeTag)
	}
	switch typeTag {
	case TypeInt:
		if _, err := strconv.ParseInt(string(trimmed), 10, 64); err != nil {
			return fmt.Errorf("expected integer, got %s", trimmed)
		}
	case TypeFloat:
		if _, err := strconv.ParseFloat(string(trimmed), 64); err != nil || trimmed[0] == '"' {
			return fmt.Errorf("expected number, got %s", trimmed)
		}
	case TypeBool:
		if s := string(trimmed); s != "true" && s != "false" {
			return fmt.Errorf("expected boolean, got %s", trimmed)
		}
	case TypeString:
		if trimmed[0] != '"' {
			return fmt.Errorf("expected string, got %s", trimmed)
		}
	}
	return nil
}

func zeroFor(typeTag string) json.RawMessage {
	switch typeTag {
	case TypeInt, TypeFloat:
		return json.RawMessage("0")
	case TypeBool:
		return json.RawMessage("false")
	case TypeString:
		return json.RawMessage(`""`)
	default:
		return json.RawMessage("null")
	}
}

func compactJSON(raw json.RawMessage) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
