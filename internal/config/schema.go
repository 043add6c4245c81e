package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ScopeGlobal = "global"
	ScopeSlot   = "slot"
)

// Schema declares the save objects whose values make up a document.
type Schema struct {
	Version int          `yaml:"version"`
	Objects []SaveObject `yaml:"objects"`

	objectIndex map[string]*SaveObject
}

type SaveObject struct {
	Name   string      `yaml:"name"`
	Scope  string      `yaml:"scope"`
	Values []SaveValue `yaml:"values"`
}

type SaveValue struct {
	Key     string `yaml:"key"`
	Type    string `yaml:"type"`
	Default string `yaml:"default"`
}

func LoadSchema(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("loading schema: %w", err)
	}

	var schema Schema
	if err := yaml.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("loading schema: %w", err)
	}

	if err := validateSchema(&schema); err != nil {
		return nil, fmt.Errorf("loading schema: %w", err)
	}

	schema.objectIndex = make(map[string]*SaveObject)
	for i := range schema.Objects {
		obj := &schema.Objects[i]
		schema.objectIndex[strings.ToLower(obj.Name)] = obj
	}

	return &schema, nil
}

// Duplicate and empty value keys pass validation on purpose; the pipeline
// reports them when it loads or saves.
func validateSchema(s *Schema) error {
	if s.Version != 1 {
		return fmt.Errorf("unsupported version: %d", s.Version)
	}
	if len(s.Objects) == 0 {
		return fmt.Errorf("at least one save object is required")
	}

	names := make(map[string]struct{})
	for i := range s.Objects {
		obj := &s.Objects[i]
		if strings.TrimSpace(obj.Name) == "" {
			return fmt.Errorf("save object %d name is required", i)
		}
		key := strings.ToLower(obj.Name)
		if _, exists := names[key]; exists {
			return fmt.Errorf("duplicate save object name: %s", obj.Name)
		}
		names[key] = struct{}{}

		if obj.Scope == "" {
			obj.Scope = ScopeGlobal
		}
		obj.Scope = strings.ToLower(obj.Scope)
		if obj.Scope != ScopeGlobal && obj.Scope != ScopeSlot {
			return fmt.Errorf("save object %s has invalid scope: %s", obj.Name, obj.Scope)
		}

		for j := range obj.Values {
			value := &obj.Values[j]
			if strings.TrimSpace(value.Type) == "" {
				return fmt.Errorf("save object %s value %q has no type", obj.Name, value.Key)
			}
			if value.Default == "" {
				continue
			}
			if !json.Valid([]byte(value.Default)) {
				return fmt.Errorf("save object %s value %q default is not valid JSON", obj.Name, value.Key)
			}
		}
	}

	return nil
}

func (s *Schema) ObjectByName(name string) (*SaveObject, bool) {
	if s == nil {
		return nil, false
	}
	obj, ok := s.objectIndex[strings.ToLower(name)]
	return obj, ok
}

func (s *Schema) ObjectsInScope(scope string) []SaveObject {
	if s == nil {
		return nil
	}
	var out []SaveObject
	for _, obj := range s.Objects {
		if obj.Scope == scope {
			out = append(out, obj)
		}
	}
	return out
}
