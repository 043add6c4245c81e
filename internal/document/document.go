// Package document defines the persisted save document and its JSON form.
//
// A document holds global entries, zero or more slots with their own entries,
// and advisory metadata objects. Structural fields are "$"-prefixed so they
// never collide with user save keys:
//
//	{
//	  "$content": {
//	    "$global": [{"$key": "coins", "$value": 10, "$type": "int", "$default": 0}],
//	    "$slots": [{
//	      "$slot_id": 0,
//	      "$slot_save_date": "2024-05-01T10:00:00",
//	      "$slot_playtime": "3600.000",
//	      "$slot_data": [...]
//	    }]
//	  },
//	  "$system_info": {...}
//	}
package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"savekit/internal/saveerr"
)

const (
	FieldContent = "$content"
	DateLayout   = "2006-01-02T15:04:05"
)

type Entry struct {
	Key     string          `json:"$key"`
	Value   json.RawMessage `json:"$value"`
	Type    string          `json:"$type"`
	Default json.RawMessage `json:"$default,omitempty"`
}

// Slot is one save-game slot. SaveDate has second resolution and Playtime
// millisecond resolution, matching what survives serialization.
type Slot struct {
	Index    int
	SaveDate time.Time
	Playtime time.Duration
	Entries  []Entry
}

type Document struct {
	Global []Entry
	Slots  []Slot
	// Metadata is keyed without the "$" prefix. It is written for tooling
	// and never consulted when values are loaded.
	Metadata map[string]json.RawMessage
}

type contentJSON struct {
	Global []Entry    `json:"$global"`
	Slots  []slotJSON `json:"$slots"`
}

type slotJSON struct {
	ID       *int    `json:"$slot_id,omitempty"`
	SaveDate string  `json:"$slot_save_date"`
	Playtime string  `json:"$slot_playtime"`
	Data     []Entry `json:"$slot_data"`
}

func New() *Document {
	return &Document{Global: []Entry{}, Slots: []Slot{}}
}

func FindEntry(entries []Entry, key string) (Entry, bool) {
	for _, entry := range entries {
		if entry.Key == key {
			return entry, true
		}
	}
	return Entry{}, false
}

func (d *Document) Slot(index int) (*Slot, bool) {
	for i := range d.Slots {
		if d.Slots[i].Index == index {
			return &d.Slots[i], true
		}
	}
	return nil, false
}

func (d *Document) RemoveSlot(index int) bool {
	for i := range d.Slots {
		if d.Slots[i].Index == index {
			d.Slots = append(d.Slots[:i], d.Slots[i+1:]...)
			return true
		}
	}
	return false
}

// PutSlot inserts or replaces a slot, keeping slots ordered by index.
func (d *Document) PutSlot(slot Slot) {
	if existing, ok := d.Slot(slot.Index); ok {
		*existing = slot
		return
	}
	d.Slots = append(d.Slots, slot)
	sort.SliceStable(d.Slots, func(i, j int) bool { return d.Slots[i].Index < d.Slots[j].Index })
}

func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	out := &Document{
		Global: cloneEntries(d.Global),
		Slots:  make([]Slot, 0, len(d.Slots)),
	}
	for _, slot := range d.Slots {
		slot.Entries = cloneEntries(slot.Entries)
		out.Slots = append(out.Slots, slot)
	}
	if d.Metadata != nil {
		out.Metadata = make(map[string]json.RawMessage, len(d.Metadata))
		for k, v := range d.Metadata {
			out.Metadata[k] = append(json.RawMessage(nil), v...)
		}
	}
	return out
}

func cloneEntries(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		entry.Value = append(json.RawMessage(nil), entry.Value...)
		if entry.Default != nil {
			entry.Default = append(json.RawMessage(nil), entry.Default...)
		}
		out = append(out, entry)
	}
	return out
}

// Marshal renders the document. "$content" comes first, followed by the
// metadata objects in key order.
func (d *Document) Marshal() ([]byte, error) {
	content := contentJSON{
		Global: nonNil(d.Global),
		Slots:  make([]slotJSON, 0, len(d.Slots)),
	}
	for _, slot := range d.Slots {
		index := slot.Index
		content.Slots = append(content.Slots, slotJSON{
			ID:       &index,
			SaveDate: slot.SaveDate.UTC().Format(DateLayout),
			Playtime: FormatPlaytime(slot.Playtime),
			Data:     nonNil(slot.Entries),
		})
	}
	body, err := json.Marshal(content)
	if err != nil {
		return nil, fmt.Errorf("encoding content: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString(`{"` + FieldContent + `":`)
	buf.Write(body)

	keys := make([]string, 0, len(d.Metadata))
	for key := range d.Metadata {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		name, _ := json.Marshal("$" + key)
		value := d.Metadata[key]
		if !json.Valid(value) {
			return nil, fmt.Errorf("metadata %q is not valid JSON", key)
		}
		buf.WriteByte(',')
		buf.Write(name)
		buf.WriteByte(':')
		if err := json.Compact(&buf, value); err != nil {
			return nil, fmt.Errorf("compacting metadata %q: %w", key, err)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (d *Document) String() string {
	data, err := d.Marshal()
	if err != nil {
		return ""
	}
	return string(data)
}

// Parse decodes a current-format document. Any structural problem is a
// document-level error: the caller falls back to backups rather than loading
// part of a broken file.
func Parse(data []byte) (*Document, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, saveerr.Wrap(saveerr.MalformedDocument, err, "decoding document")
	}
	if root == nil {
		return nil, saveerr.New(saveerr.MalformedDocument, "document is not an object")
	}
	rawContent, ok := root[FieldContent]
	if !ok {
		return nil, saveerr.New(saveerr.MalformedDocument, "document has no $content")
	}

	var content contentJSON
	if err := json.Unmarshal(rawContent, &content); err != nil {
		return nil, saveerr.Wrap(saveerr.MalformedDocument, err, "decoding $content")
	}

	doc := New()
	if err := checkEntries("global", content.Global); err != nil {
		return nil, err
	}
	doc.Global = nonNil(content.Global)

	indexes, err := slotIndexes(content.Slots)
	if err != nil {
		return nil, err
	}
	for i, raw := range content.Slots {
		index := indexes[i]
		scope := SlotScope(index)
		if err := checkEntries(scope, raw.Data); err != nil {
			return nil, err
		}
		date, err := parseDate(raw.SaveDate)
		if err != nil {
			return nil, saveerr.Wrap(saveerr.MalformedDocument, err, "decoding "+scope+" save date")
		}
		playtime, err := ParsePlaytime(raw.Playtime)
		if err != nil {
			return nil, saveerr.Wrap(saveerr.MalformedDocument, err, "decoding "+scope+" playtime")
		}
		doc.Slots = append(doc.Slots, Slot{
			Index:    index,
			SaveDate: date,
			Playtime: playtime,
			Entries:  nonNil(raw.Data),
		})
	}
	sort.SliceStable(doc.Slots, func(i, j int) bool { return doc.Slots[i].Index < doc.Slots[j].Index })

	for key, value := range root {
		if key == FieldContent || !strings.HasPrefix(key, "$") {
			continue
		}
		if doc.Metadata == nil {
			doc.Metadata = map[string]json.RawMessage{}
		}
		doc.Metadata[strings.TrimPrefix(key, "$")] = value
	}

	return doc, nil
}

// slotIndexes resolves the index of every stored slot. An explicit $slot_id
// wins; a slot without one takes its array position, or the lowest index no
// other slot claims when that position is already taken.
func slotIndexes(slots []slotJSON) ([]int, error) {
	indexes := make([]int, len(slots))
	taken := make(map[int]struct{}, len(slots))
	for i, raw := range slots {
		if raw.ID == nil {
			indexes[i] = -1
			continue
		}
		id := *raw.ID
		if id < 0 {
			return nil, saveerr.Newf(saveerr.MalformedDocument, "slot id %d is negative", id)
		}
		if _, dup := taken[id]; dup {
			return nil, saveerr.Newf(saveerr.MalformedDocument, "slot id %d appears more than once", id)
		}
		taken[id] = struct{}{}
		indexes[i] = id
	}

	next := 0
	for i := range slots {
		if indexes[i] >= 0 {
			continue
		}
		index := i
		if _, ok := taken[index]; ok {
			for {
				if _, ok := taken[next]; !ok {
					break
				}
				next++
			}
			index = next
		}
		taken[index] = struct{}{}
		indexes[i] = index
	}
	return indexes, nil
}

func checkEntries(scope string, entries []Entry) error {
	seen := make(map[string]struct{}, len(entries))
	for i, entry := range entries {
		if strings.TrimSpace(entry.Key) == "" {
			return saveerr.Newf(saveerr.MalformedDocument, "entry %d has no key", i).At(scope, "")
		}
		if _, dup := seen[entry.Key]; dup {
			return saveerr.New(saveerr.DuplicateSaveKeys, "stored entries repeat a key").At(scope, entry.Key)
		}
		seen[entry.Key] = struct{}{}
	}
	return nil
}

func SlotScope(index int) string {
	return "slot:" + strconv.Itoa(index)
}

// FormatPlaytime renders a duration as decimal seconds with millisecond precision.
func FormatPlaytime(d time.Duration) string {
	return strconv.FormatFloat(d.Round(time.Millisecond).Seconds(), 'f', 3, 64)
}

func ParsePlaytime(s string) (time.Duration, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	seconds, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, err
	}
	if seconds < 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return 0, fmt.Errorf("invalid playtime %q", s)
	}
	return time.Duration(math.Round(seconds*1000)) * time.Millisecond, nil
}

func parseDate(s string) (time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(DateLayout, s, time.UTC)
}

func nonNil(entries []Entry) []Entry {
	if entries == nil {
		return []Entry{}
	}
	return entries
}
