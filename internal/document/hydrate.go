package document

import (
	"encoding/json"
	"fmt"

	"savekit/internal/saveerr"
)

// Hydrate loads each declared value from the stored entries of one scope.
// Failures are isolated: the failing value falls back to its default and the
// rest keep loading. Values without a key are reset and left to the caller to
// report, since they were never saved.
func Hydrate(scope string, values []Value, entries []Entry) []*saveerr.Error {
	var issues []*saveerr.Error
	for _, v := range values {
		if !HasKey(v) {
			v.Reset()
			continue
		}
		if err := hydrateValue(v, entries); err != nil {
			v.Reset()
			issues = append(issues, err.At(scope, v.Key()))
		}
	}
	return issues
}

func hydrateValue(v Value, entries []Entry) (issue *saveerr.Error) {
	entry, ok := FindEntry(entries, v.Key())
	if !ok {
		return saveerr.New(saveerr.NoSaveValueFound, "no stored entry")
	}
	if entry.Type != v.Type() {
		return saveerr.Newf(saveerr.SaveValueTypeMismatch, "stored type %q, declared %q", entry.Type, v.Type())
	}

	defer func() {
		if r := recover(); r != nil {
			issue = saveerr.Wrap(saveerr.SaveValueLoadFailed, fmt.Errorf("panic: %v", r), "hydrating value")
		}
	}()
	if err := v.Unmarshal(entry.Value); err != nil {
		return saveerr.Wrap(saveerr.SaveValueLoadFailed, err, "hydrating value")
	}
	return nil
}

// Assemble renders the declared values of one scope as entries. Previous
// holds the entries currently stored for the scope: entries no value declares
// are carried over, and a value that fails to marshal keeps its previous
// entry so a bad write never drops saved data.
func Assemble(scope string, values []Value, previous []Entry) ([]Entry, []*saveerr.Error) {
	var (
		out    []Entry
		issues []*saveerr.Error
		seen   = map[string]struct{}{}
	)
	for _, v := range values {
		key := v.Key()
		if !HasKey(v) {
			issues = append(issues, saveerr.New(saveerr.NoSaveKeyAssigned, "value has no key and was not saved").At(scope, ""))
			continue
		}
		if _, dup := seen[key]; dup {
			issues = append(issues, saveerr.New(saveerr.DuplicateSaveKeys, "key declared more than once; first declaration saved").At(scope, key))
			continue
		}
		seen[key] = struct{}{}

		entry, err := assembleValue(v)
		if err != nil {
			issues = append(issues, err.At(scope, key))
			if prev, ok := FindEntry(previous, key); ok {
				out = append(out, prev)
			}
			continue
		}
		out = append(out, entry)
	}

	for _, prev := range previous {
		if _, declared := seen[prev.Key]; declared {
			continue
		}
		seen[prev.Key] = struct{}{}
		out = append(out, prev)
	}
	return nonNil(out), issues
}

func assembleValue(v Value) (entry Entry, issue *saveerr.Error) {
	defer func() {
		if r := recover(); r != nil {
			issue = saveerr.Wrap(saveerr.SaveValueWriteFailed, fmt.Errorf("panic: %v", r), "marshaling value")
		}
	}()
	raw, err := v.Marshal()
	if err != nil {
		return Entry{}, saveerr.Wrap(saveerr.SaveValueWriteFailed, err, "marshaling value")
	}
	value, err := compactJSON(raw)
	if err != nil {
		return Entry{}, saveerr.Wrap(saveerr.SaveValueWriteFailed, err, "marshaling value")
	}
	entry = Entry{Key: v.Key(), Value: value, Type: v.Type()}
	if def, err := v.DefaultJSON(); err == nil && len(def) > 0 {
		if compact, err := compactJSON(def); err == nil {
			entry.Default = compact
		}
	}
	return entry, nil
}

// DefaultEntries assembles values as they are after a reset, without
// disturbing their current state.
func DefaultEntries(values []Value) []Entry {
	out := []Entry{}
	seen := map[string]struct{}{}
	for _, v := range values {
		key := v.Key()
		if !HasKey(v) {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		def, err := v.DefaultJSON()
		if err != nil {
			continue
		}
		value, err := compactJSON(def)
		if err != nil {
			continue
		}
		out = append(out, Entry{Key: key, Value: value, Type: v.Type(), Default: append(json.RawMessage(nil), value...)})
	}
	return out
}
