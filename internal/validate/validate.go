// Package validate checks a stored document against the registered save
// values without loading anything into them.
package validate

import (
	"fmt"

	"savekit/internal/document"
)

type Severity string

const (
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warning"
)

const (
	codeDuplicateKey    = "duplicate_key"
	codeUnassignedKey   = "unassigned_key"
	codeMissingEntry    = "missing_entry"
	codeTypeMismatch    = "type_mismatch"
	codeInvalidValue    = "invalid_value"
	codeUndeclaredEntry = "undeclared_entry"
)

type Issue struct {
	Severity Severity
	Code     string
	Message  string
	Scope    string
	Key      string
}

type Report struct {
	Issues []Issue
}

func (r *Report) Count(severity Severity) int {
	n := 0
	for _, issue := range r.Issues {
		if issue.Severity == severity {
			n++
		}
	}
	return n
}

func (r *Report) HasErrors() bool {
	return r.Count(SeverityError) > 0
}

// Run compares the registry's declarations with doc. A nil doc checks the
// declarations alone.
func Run(registry *document.Registry, doc *document.Document) (*Report, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry is required")
	}

	issues := make([]Issue, 0)
	for _, scope := range []document.Scope{document.ScopeGlobal, document.ScopeSlot} {
		issues = append(issues, validateDeclarations(registry, scope)...)
	}
	if doc == nil {
		return &Report{Issues: issues}, nil
	}

	issues = append(issues, validateEntries(string(document.ScopeGlobal), registry.Values(document.ScopeGlobal), doc.Global)...)
	for _, slot := range doc.Slots {
		issues = append(issues, validateEntries(document.SlotScope(slot.Index), registry.Values(document.ScopeSlot), slot.Entries)...)
	}

	return &Report{Issues: issues}, nil
}

func validateDeclarations(registry *document.Registry, scope document.Scope) []Issue {
	var issues []Issue
	for _, key := range registry.Duplicates(scope) {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Code:     codeDuplicateKey,
			Message:  fmt.Sprintf("key %s is declared more than once", key),
			Scope:    string(scope),
			Key:      key,
		})
	}
	if n := registry.Unassigned(scope); n > 0 {
		issues = append(issues, Issue{
			Severity: SeverityWarn,
			Code:     codeUnassignedKey,
			Message:  fmt.Sprintf("%d values have no key and are never saved", n),
			Scope:    string(scope),
		})
	}
	return issues
}

func validateEntries(scope string, values []document.Value, entries []document.Entry) []Issue {
	var issues []Issue
	declared := make(map[string]struct{}, len(values))
	for _, v := range values {
		if !document.HasKey(v) {
			continue
		}
		key := v.Key()
		if _, seen := declared[key]; seen {
			continue
		}
		declared[key] = struct{}{}

		entry, ok := document.FindEntry(entries, key)
		if !ok {
			issues = append(issues, Issue{
				Severity: SeverityWarn,
				Code:     codeMissingEntry,
				Message:  "no stored entry, default will be used",
				Scope:    scope,
				Key:      key,
			})
			continue
		}
		if entry.Type != v.Type() {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Code:     codeTypeMismatch,
				Message:  fmt.Sprintf("stored type %s, declared %s", entry.Type, v.Type()),
				Scope:    scope,
				Key:      key,
			})
			continue
		}
		if err := document.CheckKind(v.Type(), entry.Value); err != nil {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Code:     codeInvalidValue,
				Message:  err.Error(),
				Scope:    scope,
				Key:      key,
			})
		}
	}

	for _, entry := range entries {
		if _, ok := declared[entry.Key]; ok {
			continue
		}
		issues = append(issues, Issue{
			Severity: SeverityWarn,
			Code:     codeUndeclaredEntry,
			Message:  "stored entry has no declaration and is carried over unchanged",
			Scope:    scope,
			Key:      entry.Key,
		})
	}
	return issues
}
