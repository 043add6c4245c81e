package document

import (
	"encoding/json"
	"fmt"
	"strings"

	"savekit/internal/config"
)

type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeSlot   Scope = "slot"
)

// Value is one keyed, typed field of a save object.
type Value interface {
	Key() string
	Type() string
	Marshal() (json.RawMessage, error)
	Unmarshal(raw json.RawMessage) error
	DefaultJSON() (json.RawMessage, error)
	Reset()
}

type SaveObject struct {
	Name   string
	Scope  Scope
	Values []Value
}

// Registry is the explicit list of save objects a document is built from.
// Objects register once at startup; the registry is never scanned for types.
type Registry struct {
	objects []SaveObject
	names   map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{names: map[string]struct{}{}}
}

func (r *Registry) Register(obj SaveObject) error {
	name := strings.ToLower(strings.TrimSpace(obj.Name))
	if name == "" {
		return fmt.Errorf("save object name is required")
	}
	if _, exists := r.names[name]; exists {
		return fmt.Errorf("save object %s is already registered", obj.Name)
	}
	if obj.Scope == "" {
		obj.Scope = ScopeGlobal
	}
	if obj.Scope != ScopeGlobal && obj.Scope != ScopeSlot {
		return fmt.Errorf("save object %s has invalid scope %q", obj.Name, obj.Scope)
	}
	for i, v := range obj.Values {
		if v == nil {
			return fmt.Errorf("save object %s value %d is nil", obj.Name, i)
		}
	}
	r.names[name] = struct{}{}
	r.objects = append(r.objects, obj)
	return nil
}

func (r *Registry) MustRegister(obj SaveObject) {
	if err := r.Register(obj); err != nil {
		panic(err)
	}
}

func (r *Registry) Objects(scope Scope) []SaveObject {
	var out []SaveObject
	for _, obj := range r.objects {
		if obj.Scope == scope {
			out = append(out, obj)
		}
	}
	return out
}

// Values returns every declared value in scope, in registration order.
func (r *Registry) Values(scope Scope) []Value {
	var out []Value
	for _, obj := range r.objects {
		if obj.Scope == scope {
			out = append(out, obj.Values...)
		}
	}
	return out
}

func (r *Registry) Lookup(scope Scope, key string) (Value, bool) {
	for _, v := range r.Values(scope) {
		if v.Key() == key {
			return v, true
		}
	}
	return nil, false
}

// Duplicates lists keys declared more than once in scope.
func (r *Registry) Duplicates(scope Scope) []string {
	counts := map[string]int{}
	var order []string
	for _, v := range r.Values(scope) {
		if !HasKey(v) {
			continue
		}
		key := v.Key()
		if counts[key] == 0 {
			order = append(order, key)
		}
		counts[key]++
	}
	var dups []string
	for _, key := range order {
		if counts[key] > 1 {
			dups = append(dups, key)
		}
	}
	return dups
}

// HasKey reports whether v has a usable key. A blank key counts as
// unassigned.
func HasKey(v Value) bool {
	return strings.TrimSpace(v.Key()) != ""
}

// Unassigned counts values in scope with an empty key.
func (r *Registry) Unassigned(scope Scope) int {
	n := 0
	for _, v := range r.Values(scope) {
		if !HasKey(v) {
			n++
		}
	}
	return n
}

func (r *Registry) Reset(scope Scope) {
	for _, v := range r.Values(scope) {
		v.Reset()
	}
}

// RegistryFromSchema declares one Dynamic value per schema entry.
func RegistryFromSchema(schema *config.Schema) (*Registry, error) {
	reg := NewRegistry()
	if schema == nil {
		return reg, nil
	}
	for _, obj := range schema.Objects {
		values := make([]Value, 0, len(obj.Values))
		for _, decl := range obj.Values {
			def := json.RawMessage(decl.Default)
			if decl.Default == "" {
				def = nil
			}
			v, err := NewDynamic(decl.Key, decl.Type, def)
			if err != nil {
				return nil, fmt.Errorf("save object %s: %w", obj.Name, err)
			}
			values = append(values, v)
		}
		if err := reg.Register(SaveObject{Name: obj.Name, Scope: Scope(obj.Scope), Values: values}); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
