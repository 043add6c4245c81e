package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"savekit/internal/saveerr"
)

func sampleDocument() *Document {
	doc := New()
	doc.Global = []Entry{
		{Key: "coins", Value: json.RawMessage("10"), Type: "int", Default: json.RawMessage("0")},
		{Key: "name", Value: json.RawMessage(`"hero"`), Type: "string"},
		{Key: "$tricky", Value: json.RawMessage(`{"$slot_data":[1,2]}`), Type: "object"},
	}
	doc.PutSlot(Slot{
		Index:    2,
		SaveDate: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		Playtime: 3600*time.Second + 250*time.Millisecond,
		Entries:  []Entry{{Key: "hp", Value: json.RawMessage("80"), Type: "int", Default: json.RawMessage("100")}},
	})
	doc.PutSlot(Slot{
		Index:   0,
		Entries: []Entry{},
	})
	doc.Metadata = map[string]json.RawMessage{
		"system_info": json.RawMessage(`{"os":"linux"}`),
		"game_info":   json.RawMessage(`{"version":"1.0.0"}`),
	}
	return doc
}

func TestDocumentRoundTrip(t *testing.T) {
	doc := sampleDocument()
	data, err := doc.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	parsed, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if !reflect.DeepEqual(parsed.Global, doc.Global) {
		t.Fatalf("global entries differ:\n got %+v\nwant %+v", parsed.Global, doc.Global)
	}
	if len(parsed.Slots) != len(doc.Slots) {
		t.Fatalf("expected %d slots, got %d", len(doc.Slots), len(parsed.Slots))
	}
	for i, want := range doc.Slots {
		got := parsed.Slots[i]
		if got.Index != want.Index || !got.SaveDate.Equal(want.SaveDate) || got.Playtime != want.Playtime {
			t.Fatalf("slot %d header differs: got %+v want %+v", i, got, want)
		}
		if !reflect.DeepEqual(got.Entries, want.Entries) {
			t.Fatalf("slot %d entries differ: got %+v want %+v", i, got.Entries, want.Entries)
		}
	}
	if !reflect.DeepEqual(parsed.Metadata, doc.Metadata) {
		t.Fatalf("metadata differs: got %v", parsed.Metadata)
	}

	again, err := parsed.Marshal()
	if err != nil {
		t.Fatalf("Marshal parsed: %v", err)
	}
	if !bytes.Equal(again, data) {
		t.Fatalf("second serialization differs:\n%s\n%s", again, data)
	}
}

func TestMarshalLayout(t *testing.T) {
	data, err := sampleDocument().Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(data)
	if !strings.HasPrefix(s, `{"$content":{"$global":[`) {
		t.Fatalf("unexpected prefix: %s", s)
	}
	for _, want := range []string{
		`"$slot_id":0`,
		`"$slot_save_date":"2024-05-01T10:00:00"`,
		`"$slot_playtime":"3600.250"`,
		`"$game_info":{"version":"1.0.0"},"$system_info":{"os":"linux"}}`,
	} {
		if !strings.Contains(s, want) {
			t.Fatalf("expected %s in %s", want, s)
		}
	}
	if strings.Index(s, `"$slot_id":0`) > strings.Index(s, `"$slot_id":2`) {
		t.Fatalf("slots not ordered by index: %s", s)
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		data string
		code saveerr.Code
	}{
		{"invalid json", `{"$content":`, saveerr.MalformedDocument},
		{"not an object", `[1,2]`, saveerr.MalformedDocument},
		{"null", `null`, saveerr.MalformedDocument},
		{"no content", `{"$system_info":{}}`, saveerr.MalformedDocument},
		{"bad global", `{"$content":{"$global":{}}}`, saveerr.MalformedDocument},
		{"empty key", `{"$content":{"$global":[{"$key":"","$value":1,"$type":"int"}]}}`, saveerr.MalformedDocument},
		{"blank key", `{"$content":{"$global":[{"$key":"  ","$value":1,"$type":"int"}]}}`, saveerr.MalformedDocument},
		{"duplicate global", `{"$content":{"$global":[{"$key":"a","$value":1,"$type":"int"},{"$key":"a","$value":2,"$type":"int"}]}}`, saveerr.DuplicateSaveKeys},
		{"duplicate slot key", `{"$content":{"$slots":[{"$slot_id":0,"$slot_data":[{"$key":"a","$value":1,"$type":"int"},{"$key":"a","$value":1,"$type":"int"}]}]}}`, saveerr.DuplicateSaveKeys},
		{"duplicate slot id", `{"$content":{"$slots":[{"$slot_id":1},{"$slot_id":1}]}}`, saveerr.MalformedDocument},
		{"negative slot id", `{"$content":{"$slots":[{"$slot_id":-1}]}}`, saveerr.MalformedDocument},
		{"bad date", `{"$content":{"$slots":[{"$slot_id":0,"$slot_save_date":"yesterday"}]}}`, saveerr.MalformedDocument},
		{"bad playtime", `{"$content":{"$slots":[{"$slot_id":0,"$slot_playtime":"-3"}]}}`, saveerr.MalformedDocument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, saveerr.Sentinel(tt.code)) {
				t.Fatalf("expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestParseSlotsWithoutIDs(t *testing.T) {
	data := `{"$content":{"$global":[{"$key":"coins","$value":5,"$type":"int"}],"$slots":[
		{"$slot_save_date":"2024-05-01T10:00:00","$slot_playtime":"90.500","$slot_data":[{"$key":"hp","$value":80,"$type":"int"}]},
		{"$slot_save_date":"2024-05-02T11:30:00","$slot_playtime":"12.000","$slot_data":[{"$key":"hp","$value":40,"$type":"int"}]},
		{"$slot_save_date":"","$slot_playtime":"","$slot_data":[]}
	]},"$save_info":{"id":"abc"}}`

	doc, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Slots) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(doc.Slots))
	}
	for i, slot := range doc.Slots {
		if slot.Index != i {
			t.Fatalf("slot %d has index %d", i, slot.Index)
		}
	}
	second, ok := doc.Slot(1)
	if !ok {
		t.Fatal("slot 1 missing")
	}
	if hp, _ := FindEntry(second.Entries, "hp"); string(hp.Value) != "40" {
		t.Fatalf("unexpected slot 1 hp %s", hp.Value)
	}
	if second.Playtime != 12*time.Second || !second.SaveDate.Equal(time.Date(2024, 5, 2, 11, 30, 0, 0, time.UTC)) {
		t.Fatalf("unexpected slot 1 header %+v", second)
	}
	if first, _ := doc.Slot(0); first.Playtime != 90*time.Second+500*time.Millisecond {
		t.Fatalf("unexpected slot 0 playtime %s", first.Playtime)
	}
}

func TestParseMixedSlotIDs(t *testing.T) {
	// The slot without an id would sit at position 0, which slot 0 claims.
	data := `{"$content":{"$slots":[
		{"$slot_data":[{"$key":"hp","$value":1,"$type":"int"}]},
		{"$slot_id":0,"$slot_data":[{"$key":"hp","$value":2,"$type":"int"}]},
		{"$slot_id":3,"$slot_data":[]}
	]}}`

	doc, err := Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	got := make([]int, 0, len(doc.Slots))
	for _, slot := range doc.Slots {
		got = append(got, slot.Index)
	}
	if !reflect.DeepEqual(got, []int{0, 1, 3}) {
		t.Fatalf("unexpected indexes %v", got)
	}
	if slot, _ := doc.Slot(1); string(slot.Entries[0].Value) != "1" {
		t.Fatalf("positional slot moved to wrong index: %+v", slot)
	}
}

func TestParseEmptyContent(t *testing.T) {
	doc, err := Parse([]byte(`{"$content":{}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(doc.Global) != 0 || len(doc.Slots) != 0 || doc.Metadata != nil {
		t.Fatalf("expected empty document, got %+v", doc)
	}
}

func TestPlaytimeFormat(t *testing.T) {
	if got := FormatPlaytime(12*time.Second + 500*time.Millisecond); got != "12.500" {
		t.Fatalf("FormatPlaytime = %q", got)
	}
	d, err := ParsePlaytime("12.5")
	if err != nil || d != 12500*time.Millisecond {
		t.Fatalf("ParsePlaytime = %v, %v", d, err)
	}
	if _, err := ParsePlaytime("abc"); err == nil {
		t.Fatal("expected error for non-numeric playtime")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	doc := sampleDocument()
	clone := doc.Clone()
	clone.Global[0].Value[0] = '9'
	clone.Slots[0].Entries = append(clone.Slots[0].Entries, Entry{Key: "x"})
	clone.Metadata["system_info"] = json.RawMessage("{}")

	if string(doc.Global[0].Value) != "10" {
		t.Fatalf("clone shares value bytes: %s", doc.Global[0].Value)
	}
	if len(doc.Slots[0].Entries) != 0 {
		t.Fatal("clone shares slot entries")
	}
	if string(doc.Metadata["system_info"]) != `{"os":"linux"}` {
		t.Fatal("clone shares metadata")
	}
}

func TestSlotOperations(t *testing.T) {
	doc := New()
	doc.PutSlot(Slot{Index: 3})
	doc.PutSlot(Slot{Index: 1})
	doc.PutSlot(Slot{Index: 3, Playtime: time.Second})

	if len(doc.Slots) != 2 || doc.Slots[0].Index != 1 || doc.Slots[1].Index != 3 {
		t.Fatalf("unexpected slots: %+v", doc.Slots)
	}
	slot, ok := doc.Slot(3)
	if !ok || slot.Playtime != time.Second {
		t.Fatalf("PutSlot did not replace slot 3: %+v", slot)
	}
	if !doc.RemoveSlot(1) || doc.RemoveSlot(1) {
		t.Fatal("RemoveSlot should succeed once")
	}
	if _, ok := doc.Slot(1); ok {
		t.Fatal("slot 1 still present")
	}
}
