// Package legacy upgrades documents written in the pre-$content format.
//
// A legacy document carries a top-level "save_data" object mapping each save
// key to an array of [value, default]. The default is optional, and either
// element may be a JSON value or a JSON-encoded string.
package legacy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"savekit/internal/document"
	"savekit/internal/saveerr"
)

const Marker = "save_data"

// Data maps a legacy key to its [value, default] array. Handlers must treat it
// as read-only.
type Data map[string][]json.RawMessage

// Value returns the stored value for key.
func (d Data) Value(key string) (json.RawMessage, bool) {
	vals, ok := d[key]
	if !ok || len(vals) == 0 {
		return nil, false
	}
	return vals[0], true
}

func (d Data) Default(key string) (json.RawMessage, bool) {
	vals, ok := d[key]
	if !ok || len(vals) < 2 {
		return nil, false
	}
	return vals[1], true
}

// Detect reports whether raw carries the legacy marker and extracts its data.
// A marker with the wrong shape is an error.
func Detect(raw []byte) (Data, bool, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(raw, &root); err != nil {
		return nil, false, nil
	}
	marker, ok := root[Marker]
	if !ok {
		return nil, false, nil
	}

	var data Data
	if err := json.Unmarshal(marker, &data); err != nil {
		return nil, true, fmt.Errorf("decoding %s: %w", Marker, err)
	}
	if data == nil {
		data = Data{}
	}
	return data, true, nil
}

type Handler interface {
	Name() string
	Order() int
	Migrate(doc *document.Document, data Data) error
}

// Chain runs handlers in ascending order. Handlers with the same order run in
// the order they were added.
type Chain struct {
	handlers []Handler
}

func NewChain(handlers ...Handler) *Chain {
	c := &Chain{}
	for _, h := range handlers {
		c.Add(h)
	}
	return c
}

func (c *Chain) Add(h Handler) {
	c.handlers = append(c.handlers, h)
	sort.SliceStable(c.handlers, func(i, j int) bool {
		return c.handlers[i].Order() < c.handlers[j].Order()
	})
}

func (c *Chain) Handlers() []Handler {
	return append([]Handler(nil), c.handlers...)
}

func (c *Chain) Run(doc *document.Document, data Data) error {
	for _, h := range c.handlers {
		if err := h.Migrate(doc, data); err != nil {
			return fmt.Errorf("legacy handler %s: %w", h.Name(), err)
		}
	}
	return nil
}

// Convert upgrades raw when it carries the legacy marker. The base document
// is raw's own $content when present, otherwise the one base returns. The
// boolean reports whether a migration ran.
func Convert(raw []byte, chain *Chain, base func() *document.Document) (*document.Document, bool, error) {
	data, found, err := Detect(raw)
	if !found {
		return nil, false, nil
	}
	if err != nil {
		return nil, true, saveerr.Wrap(saveerr.LegacyMigrationFailed, err, "reading legacy data")
	}

	var doc *document.Document
	if hasContent(raw) {
		doc, err = document.Parse(raw)
		if err != nil {
			return nil, true, saveerr.Wrap(saveerr.LegacyMigrationFailed, err, "parsing legacy base document")
		}
	} else {
		doc = base()
	}

	if err := chain.Run(doc, data); err != nil {
		return nil, true, saveerr.Wrap(saveerr.LegacyMigrationFailed, err, "running migration chain")
	}
	return doc, true, nil
}

func hasContent(raw []byte) bool {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(raw, &root); err != nil {
		return false
	}
	_, ok := root[document.FieldContent]
	return ok
}

// GlobalHandler rewrites the value and default of $global entries from the
// legacy data. Slot entries are left untouched.
type GlobalHandler struct{}

func (GlobalHandler) Name() string { return "global" }
func (GlobalHandler) Order() int   { return 0 }

func (GlobalHandler) Migrate(doc *document.Document, data Data) error {
	for i := range doc.Global {
		entry := &doc.Global[i]
		if raw, ok := data.Value(entry.Key); ok {
			value, err := normalize(raw, entry.Type)
			if err != nil {
				return fmt.Errorf("key %q value: %w", entry.Key, err)
			}
			entry.Value = value
		}
		if raw, ok := data.Default(entry.Key); ok {
			def, err := normalize(raw, entry.Type)
			if err != nil {
				return fmt.Errorf("key %q default: %w", entry.Key, err)
			}
			entry.Default = def
		}
	}
	return nil
}

// normalize unwraps JSON-encoded strings unless the entry itself is a string.
func normalize(raw json.RawMessage, typeTag string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || !json.Valid([]byte(trimmed)) {
		return nil, fmt.Errorf("invalid JSON %q", trimmed)
	}
	if typeTag == document.TypeString || trimmed[0] != '"' {
		return compact(trimmed)
	}
	var inner string
	if err := json.Unmarshal([]byte(trimmed), &inner); err != nil {
		return nil, err
	}
	if !json.Valid([]byte(inner)) {
		return json.RawMessage(trimmed), nil
	}
	return compact(inner)
}

func compact(s string) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(s)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
