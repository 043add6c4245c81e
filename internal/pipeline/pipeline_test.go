package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"testing"
	"time"

	"savekit/internal/backup"
	"savekit/internal/crypt"
	"savekit/internal/document"
	"savekit/internal/saveerr"
	"savekit/internal/storage"
)

const (
	docPath    = "save.json"
	backupPath = "save.backups"
)

type harness struct {
	reg   *document.Registry
	coins *document.Var[int]
	name  *document.Var[string]
	hp    *document.Var[int]
	loc   storage.Location
	now   time.Time
}

func newHarness() *harness {
	h := &harness{
		coins: document.Int("coins", 0),
		name:  document.String("name", "hero"),
		hp:    document.Int("hp", 100),
		loc:   storage.NewChunkedLocation(storage.NewMemoryStore(), "", 128),
		now:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	h.reg = document.NewRegistry()
	h.reg.MustRegister(document.SaveObject{Name: "player", Values: []document.Value{h.coins, h.name}})
	h.reg.MustRegister(document.SaveObject{Name: "hero", Scope: document.ScopeSlot, Values: []document.Value{h.hp}})
	return h
}

func (h *harness) clock() time.Time { return h.now }

func (h *harness) options() Options {
	return Options{
		Registry:       h.reg,
		Location:       h.loc,
		Path:           docPath,
		BackupPath:     backupPath,
		BackupCapacity: 3,
	}
}

func (h *harness) start(t *testing.T, opts Options) *Manager {
	t.Helper()
	m, err := New(opts, WithClock(h.clock))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Initialize(context.Background(), nil); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return m
}

func (h *harness) write(t *testing.T, path, data string) {
	t.Helper()
	if err := h.loc.Save(context.Background(), path, data); err != nil {
		t.Fatalf("Save %s: %v", path, err)
	}
}

func (h *harness) stored(t *testing.T) *document.Document {
	t.Helper()
	raw, err := h.loc.Load(context.Background(), docPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	doc, err := document.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse stored document: %v", err)
	}
	return doc
}

func coinsJSON(t *testing.T, coins int) string {
	t.Helper()
	doc := document.New()
	doc.Global = []document.Entry{{Key: "coins", Value: json.RawMessage(strconv.Itoa(coins)), Type: "int"}}
	data, err := doc.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return string(data)
}

func entryValue(t *testing.T, entries []document.Entry, key string) string {
	t.Helper()
	entry, ok := document.FindEntry(entries, key)
	if !ok {
		t.Fatalf("entry %q missing", key)
	}
	return string(entry.Value)
}

func hasCode(issues []*saveerr.Error, code saveerr.Code, key string) bool {
	for _, issue := range issues {
		if issue.Code == code && issue.Key == key {
			return true
		}
	}
	return false
}

type flakyLocation struct {
	storage.Location
	failPath string
}

func (f *flakyLocation) Save(ctx context.Context, path, data string) error {
	if f.failPath == "*" || f.failPath == path {
		return errors.New("disk full")
	}
	return f.Location.Save(ctx, path, data)
}

func TestInitialize(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	opts := h.options()
	opts.LoadOnInitialize = true
	m, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := m.Load(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}

	h.coins.Set(9)
	var got *LoadReport
	calls := 0
	err = m.Initialize(ctx, func(report *LoadReport, err error) {
		calls++
		got = report
		if err != nil {
			t.Errorf("done error: %v", err)
		}
	})
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if calls != 1 || got == nil || got.Source != SourceNone {
		t.Fatalf("unexpected done report %+v (calls=%d)", got, calls)
	}
	if h.coins.Get() != 0 {
		t.Fatalf("values not reset to defaults: %d", h.coins.Get())
	}
	if err := m.Initialize(ctx, nil); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestNewValidatesOptions(t *testing.T) {
	h := newHarness()
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"no registry", func(o *Options) { o.Registry = nil }},
		{"no location", func(o *Options) { o.Location = nil }},
		{"no path", func(o *Options) { o.Path = "" }},
		{"no backup path", func(o *Options) { o.BackupPath = "" }},
		{"same paths", func(o *Options) { o.BackupPath = docPath }},
		{"negative slots", func(o *Options) { o.MaxSlots = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := h.options()
			tt.mutate(&opts)
			if _, err := New(opts); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSaveThenLoad(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	opts := h.options()
	opts.Providers = []Provider{GameInfo{Product: "Game", Version: "1.2.0"}, SaveInfo{Now: h.clock}}
	m := h.start(t, opts)

	h.coins.Set(42)
	h.name.Set("Aria")
	report, err := m.Save(ctx)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if report.Bytes == 0 || report.Backup.Iteration != 1 || report.BackupErr != nil {
		t.Fatalf("unexpected report %+v", report)
	}

	stored := h.stored(t)
	if entryValue(t, stored.Global, "coins") != "42" || entryValue(t, stored.Global, "name") != `"Aria"` {
		t.Fatalf("unexpected stored globals %+v", stored.Global)
	}
	if !strings.Contains(string(stored.Metadata["game_info"]), `"version":"1.2.0"`) {
		t.Fatalf("game info missing: %s", stored.Metadata["game_info"])
	}
	if !strings.Contains(string(stored.Metadata["save_info"]), `"saved_at":"2024-01-02T03:04:05"`) {
		t.Fatalf("save info missing: %s", stored.Metadata["save_info"])
	}

	h.coins.Set(0)
	h.name.Set("")
	loaded, err := m.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Source != SourcePrimary || len(loaded.Issues) != 0 {
		t.Fatalf("unexpected load report %+v", loaded)
	}
	if h.coins.Get() != 42 || h.name.Get() != "Aria" {
		t.Fatalf("values not restored: %d %q", h.coins.Get(), h.name.Get())
	}
}

func TestSaveKeepsUndeclaredEntries(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.write(t, docPath, `{"$content":{"$global":[{"$key":"retired","$value":true,"$type":"bool"},{"$key":"coins","$value":5,"$type":"int"}]}}`)
	opts := h.options()
	opts.LoadOnInitialize = true
	m := h.start(t, opts)

	h.coins.Set(6)
	if _, err := m.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	stored := h.stored(t)
	if entryValue(t, stored.Global, "retired") != "true" || entryValue(t, stored.Global, "coins") != "6" {
		t.Fatalf("unexpected stored globals %+v", stored.Global)
	}
}

func TestSaveFailureKeepsPreviousDocument(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	flaky := &flakyLocation{Location: h.loc}
	var failures []error
	opts := h.options()
	opts.Location = flaky
	opts.Events.OnGameSaveFailed = func(err error) { failures = append(failures, err) }
	m := h.start(t, opts)

	h.coins.Set(1)
	if _, err := m.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	flaky.failPath = "*"
	h.coins.Set(2)
	_, err := m.Save(ctx)
	if !errors.Is(err, saveerr.Sentinel(saveerr.StorageWriteFailed)) {
		t.Fatalf("expected StorageWriteFailed, got %v", err)
	}
	if len(failures) != 1 {
		t.Fatalf("expected one save-failed event, got %d", len(failures))
	}
	if entryValue(t, h.stored(t).Global, "coins") != "1" {
		t.Fatal("stored document changed after failed save")
	}
	doc, _ := m.Document()
	if entryValue(t, doc.Global, "coins") != "1" {
		t.Fatal("in-memory document changed after failed save")
	}
	if got := m.Backups(); len(got) != 1 {
		t.Fatalf("expected one backup, got %d", len(got))
	}
}

func TestBackupFailureDoesNotFailSave(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	opts := h.options()
	opts.Location = &flakyLocation{Location: h.loc, failPath: backupPath}
	m := h.start(t, opts)

	report, err := m.Save(ctx)
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !errors.Is(report.BackupErr, saveerr.Sentinel(saveerr.BackupWriteFailed)) {
		t.Fatalf("expected BackupWriteFailed, got %v", report.BackupErr)
	}
	if ok, _ := h.loc.HasData(ctx, docPath); !ok {
		t.Fatal("document not written")
	}
}

func TestBackupRotation(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	opts := h.options()
	opts.BackupCapacity = 2
	m := h.start(t, opts)

	for i := 1; i <= 3; i++ {
		h.coins.Set(i)
		if _, err := m.Save(ctx); err != nil {
			t.Fatalf("Save %d: %v", i, err)
		}
	}
	records := m.Backups()
	if len(records) != 2 || records[0].Iteration != 3 || records[1].Iteration != 2 {
		t.Fatalf("unexpected backups %+v", records)
	}
}

func TestLoadFallsBackToNewestValidBackup(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	ring, err := json.Marshal([]backup.Record{
		{Iteration: 1, JSON: coinsJSON(t, 1)},
		{Iteration: 2, JSON: coinsJSON(t, 2)},
		{Iteration: 3, JSON: "garbage"},
		{Iteration: 4, JSON: `{"$content":{"$global":{}}}`},
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	h.write(t, backupPath, string(ring))
	h.write(t, docPath, "garbage{")

	var failed []LoadFailure
	completed := 0
	opts := h.options()
	opts.BackupCapacity = 5
	opts.Events.OnGameLoadFailed = func(f LoadFailure) { failed = append(failed, f) }
	opts.Events.OnGameLoadCompleted = func(*LoadReport) { completed++ }
	m := h.start(t, opts)

	report, err := m.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if report.Source != SourceBackup || report.Iteration != 2 {
		t.Fatalf("expected backup 2, got %s %d", report.Source, report.Iteration)
	}
	if h.coins.Get() != 2 {
		t.Fatalf("expected coins 2, got %d", h.coins.Get())
	}
	if len(failed) != 3 || failed[0].Source != SourcePrimary || failed[1].Iteration != 4 || failed[2].Iteration != 3 {
		t.Fatalf("unexpected failures %+v", failed)
	}
	if completed != 1 {
		t.Fatalf("expected one completed event, got %d", completed)
	}
	if !hasCode(report.Issues, saveerr.NoSaveValueFound, "name") {
		t.Fatalf("expected NoSaveValueFound for name, got %v", report.Issues)
	}
	if m.State() != Idle {
		t.Fatalf("expected idle, got %s", m.State())
	}
}

func TestLoadFailsCompletely(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	ring, _ := json.Marshal([]backup.Record{{Iteration: 1, JSON: "nope"}})
	h.write(t, backupPath, string(ring))
	h.write(t, docPath, `{"$content":[]}`)

	completely := 0
	opts := h.options()
	opts.Events.OnGameLoadFailedCompletely = func(*LoadReport) { completely++ }
	m := h.start(t, opts)

	h.coins.Set(77)
	report, err := m.Load(ctx)
	if !errors.Is(err, saveerr.Sentinel(saveerr.LoadFailedCompletely)) {
		t.Fatalf("expected LoadFailedCompletely, got %v", err)
	}
	if report == nil || len(report.Failures) != 2 || report.Source != SourceNone {
		t.Fatalf("unexpected report %+v", report)
	}
	if completely != 1 {
		t.Fatalf("expected one failed-completely event, got %d", completely)
	}
	if h.coins.Get() != 0 {
		t.Fatalf("values not reset: %d", h.coins.Get())
	}
}

func TestDecryptionFailureFallsBack(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	keys := crypt.NewKeyStore(storage.NewChunkedLocation(storage.NewMemoryStore(), "", 64), "save.key")
	opts := h.options()
	opts.Encryption = crypt.NewHandler(keys, crypt.AESGCM())
	m := h.start(t, opts)

	for _, coins := range []int{10, 20} {
		h.coins.Set(coins)
		if _, err := m.Save(ctx); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	raw, _ := h.loc.Load(ctx, docPath)
	if strings.Contains(raw, "coins") {
		t.Fatal("document stored in plaintext")
	}

	h.write(t, docPath, "not-ciphertext")
	report, err := m.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if report.Source != SourceBackup || report.Iteration != 2 || h.coins.Get() != 20 {
		t.Fatalf("unexpected recovery %+v coins=%d", report, h.coins.Get())
	}
	if code, _ := saveerr.CodeOf(report.Failures[0].Err); code != saveerr.DecryptionFailed {
		t.Fatalf("expected DecryptionFailed, got %v", report.Failures[0].Err)
	}
}

func TestStorageReadFailureIsFatal(t *testing.T) {
	h := newHarness()
	m := h.start(t, h.options())
	m.raw = brokenReader{h.loc}
	m.active = m.raw

	_, err := m.Load(context.Background())
	if !errors.Is(err, saveerr.Sentinel(saveerr.StorageReadFailed)) {
		t.Fatalf("expected StorageReadFailed, got %v", err)
	}
}

type brokenReader struct{ storage.Location }

func (brokenReader) Load(context.Context, string) (string, error) {
	return "", errors.New("io error")
}

func TestPreLoadHooks(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.write(t, docPath, coinsJSON(t, 1))
	opts := h.options()
	opts.Hooks = []Hook{
		HookFunc{Priority: 2, Fn: func(raw string) (string, error) {
			return strings.Replace(raw, `"$value":5`, `"$value":7`, 1), nil
		}},
		HookFunc{Priority: 1, Fn: func(raw string) (string, error) {
			return strings.Replace(raw, `"$value":1`, `"$value":5`, 1), nil
		}},
	}
	m := h.start(t, opts)

	if _, err := m.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if h.coins.Get() != 7 {
		t.Fatalf("hooks ran out of order: coins=%d", h.coins.Get())
	}
}

func TestPreLoadHookFailureSkipsBackups(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	ring, _ := json.Marshal([]backup.Record{{Iteration: 1, JSON: coinsJSON(t, 3)}})
	h.write(t, backupPath, string(ring))
	h.write(t, docPath, coinsJSON(t, 1))

	opts := h.options()
	opts.Hooks = []Hook{HookFunc{Fn: func(string) (string, error) { return "", errors.New("rejected") }}}
	m := h.start(t, opts)

	report, err := m.Load(ctx)
	if !errors.Is(err, saveerr.Sentinel(saveerr.PreLoadHookFailed)) {
		t.Fatalf("expected PreLoadHookFailed, got %v", err)
	}
	if report != nil || h.coins.Get() != 0 {
		t.Fatalf("backup should not be used: %+v coins=%d", report, h.coins.Get())
	}
}

func TestInitializeFatalLoadCanBeRetried(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.write(t, docPath, coinsJSON(t, 4))
	h.coins.Set(9)

	reject := true
	opts := h.options()
	opts.LoadOnInitialize = true
	opts.Hooks = []Hook{HookFunc{Fn: func(raw string) (string, error) {
		if reject {
			return "", errors.New("rejected")
		}
		return raw, nil
	}}}
	m, err := New(opts, WithClock(h.clock))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := m.Initialize(ctx, nil); !errors.Is(err, saveerr.Sentinel(saveerr.PreLoadHookFailed)) {
		t.Fatalf("expected PreLoadHookFailed, got %v", err)
	}
	if h.coins.Get() != 0 {
		t.Fatalf("expected defaults after failed initialize, coins=%d", h.coins.Get())
	}
	if doc, err := m.Document(); doc != nil || !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v, %v", doc, err)
	}
	if _, err := m.Save(ctx); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected save to be refused, got %v", err)
	}

	reject = false
	if err := m.Initialize(ctx, nil); err != nil {
		t.Fatalf("retry Initialize: %v", err)
	}
	if h.coins.Get() != 4 {
		t.Fatalf("expected coins=4 after retry, got %d", h.coins.Get())
	}
	if doc, err := m.Document(); err != nil || doc == nil {
		t.Fatalf("Document after retry: %v, %v", doc, err)
	}
}

func TestLegacyDocumentIsMigrated(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.write(t, docPath, `{"save_data":{"coins":["12","3"],"name":["Bo"]}}`)
	m := h.start(t, h.options())

	report, err := m.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !report.Migrated || h.coins.Get() != 12 {
		t.Fatalf("unexpected migration %+v coins=%d", report, h.coins.Get())
	}
	if _, err := m.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	raw, _ := h.loc.Load(ctx, docPath)
	if strings.Contains(raw, "save_data") {
		t.Fatal("legacy marker written back")
	}
}

func TestTypeMismatchIsIsolated(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	h.write(t, docPath, `{"$content":{"$global":[{"$key":"coins","$value":100,"$type":"string"},{"$key":"name","$value":"Cy","$type":"string"}]}}`)
	m := h.start(t, h.options())

	report, err := m.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if h.coins.Get() != 0 || h.name.Get() != "Cy" {
		t.Fatalf("coins=%d name=%q", h.coins.Get(), h.name.Get())
	}
	if !hasCode(report.Issues, saveerr.SaveValueTypeMismatch, "coins") {
		t.Fatalf("expected SaveValueTypeMismatch, got %v", report.Issues)
	}
}

func TestConfigIssuesReported(t *testing.T) {
	h := newHarness()
	h.reg.MustRegister(document.SaveObject{Name: "extra", Values: []document.Value{document.Int("coins", 1), document.Int("", 0)}})
	m := h.start(t, h.options())

	report, err := m.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !hasCode(report.Issues, saveerr.DuplicateSaveKeys, "coins") || !hasCode(report.Issues, saveerr.NoSaveKeyAssigned, "") {
		t.Fatalf("expected configuration issues, got %v", report.Issues)
	}
}

func TestSlots(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	opts := h.options()
	opts.MaxSlots = 2
	m := h.start(t, opts)

	for want := 0; want < 2; want++ {
		got, err := m.CreateSlot()
		if err != nil || got != want {
			t.Fatalf("CreateSlot = %d, %v", got, err)
		}
	}
	if _, err := m.CreateSlot(); !errors.Is(err, saveerr.Sentinel(saveerr.SlotLimitReached)) {
		t.Fatalf("expected SlotLimitReached, got %v", err)
	}

	if _, err := m.LoadSlot(0); err != nil {
		t.Fatalf("LoadSlot: %v", err)
	}
	if h.hp.Get() != 100 {
		t.Fatalf("slot not seeded with defaults: %d", h.hp.Get())
	}
	h.hp.Set(80)
	h.now = h.now.Add(90 * time.Second)
	if _, err := m.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}
	stored, _ := h.stored(t).Slot(0)
	if stored.Playtime != 90*time.Second || entryValue(t, stored.Entries, "hp") != "80" {
		t.Fatalf("slot not synced on save: %+v", stored)
	}
	if !stored.SaveDate.Equal(h.now) {
		t.Fatalf("save date %v, want %v", stored.SaveDate, h.now)
	}

	h.now = h.now.Add(30 * time.Second)
	if _, err := m.UnloadSlot(); err != nil {
		t.Fatalf("UnloadSlot: %v", err)
	}
	if h.hp.Get() != 100 {
		t.Fatalf("slot values not reset on unload: %d", h.hp.Get())
	}
	if _, err := m.UnloadSlot(); !errors.Is(err, ErrNoActiveSlot) {
		t.Fatalf("expected ErrNoActiveSlot, got %v", err)
	}

	slots, err := m.Slots()
	if err != nil || len(slots) != 2 {
		t.Fatalf("Slots = %+v, %v", slots, err)
	}
	if slots[0].Playtime != 120*time.Second || slots[0].Active {
		t.Fatalf("unexpected slot 0 %+v", slots[0])
	}

	h.now = h.now.Add(time.Hour)
	if _, err := m.LoadSlot(0); err != nil || h.hp.Get() != 80 {
		t.Fatalf("LoadSlot = %v hp=%d", err, h.hp.Get())
	}
	if slots, _ := m.Slots(); slots[0].Playtime != 120*time.Second {
		t.Fatalf("time while unloaded counted: %v", slots[0].Playtime)
	}

	if err := m.DeleteSlot(0); err != nil {
		t.Fatalf("DeleteSlot: %v", err)
	}
	if _, ok := m.ActiveSlot(); ok {
		t.Fatal("deleted slot still active")
	}
	if err := m.DeleteSlot(5); !errors.Is(err, saveerr.Sentinel(saveerr.SlotNotFound)) {
		t.Fatalf("expected SlotNotFound, got %v", err)
	}
	if idx, err := m.CreateSlot(); err != nil || idx != 0 {
		t.Fatalf("expected lowest free index 0, got %d %v", idx, err)
	}
}

func TestSwitchLocation(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	m := h.start(t, h.options())
	h.coins.Set(3)
	if _, err := m.Save(ctx); err != nil {
		t.Fatalf("Save: %v", err)
	}

	broken := &flakyLocation{Location: storage.NewChunkedLocation(storage.NewMemoryStore(), "", 128), failPath: "*"}
	if err := m.SwitchLocation(ctx, broken); !errors.Is(err, saveerr.Sentinel(saveerr.LocationMigrationFailed)) {
		t.Fatalf("expected LocationMigrationFailed, got %v", err)
	}
	if m.Location() != h.loc {
		t.Fatal("active location changed after failed switch")
	}

	target := storage.NewChunkedLocation(storage.NewMemoryStore(), "moved_", 32)
	if err := m.SwitchLocation(ctx, target); err != nil {
		t.Fatalf("SwitchLocation: %v", err)
	}
	for _, p := range []string{docPath, backupPath} {
		if ok, _ := target.HasData(ctx, p); !ok {
			t.Fatalf("%s not migrated", p)
		}
	}

	h.coins.Set(0)
	if _, err := m.Load(ctx); err != nil || h.coins.Get() != 3 {
		t.Fatalf("Load after switch = %v coins=%d", err, h.coins.Get())
	}
	h.coins.Set(4)
	report, err := m.Save(ctx)
	if err != nil || report.Backup.Iteration != 2 {
		t.Fatalf("Save after switch = %+v, %v", report, err)
	}
	if entryValue(t, h.stored(t).Global, "coins") != "3" {
		t.Fatal("old location written after switch")
	}
}

func TestSwitchLocationClearsStaleTarget(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	m := h.start(t, h.options())

	target := storage.NewChunkedLocation(storage.NewMemoryStore(), "", 64)
	ring, _ := json.Marshal([]backup.Record{{Iteration: 7, JSON: coinsJSON(t, 70)}})
	for path, data := range map[string]string{docPath: coinsJSON(t, 50), backupPath: string(ring)} {
		if err := target.Save(ctx, path, data); err != nil {
			t.Fatalf("seed %s: %v", path, err)
		}
	}

	if err := m.SwitchLocation(ctx, target); err != nil {
		t.Fatalf("SwitchLocation: %v", err)
	}
	for _, p := range []string{docPath, backupPath} {
		if ok, _ := target.HasData(ctx, p); ok {
			t.Fatalf("stale %s left on target", p)
		}
	}

	report, err := m.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if report.Source != SourceNone || h.coins.Get() != 0 {
		t.Fatalf("stale data loaded: source=%s coins=%d", report.Source, h.coins.Get())
	}
}

func TestRestoreBackup(t *testing.T) {
	ctx := context.Background()
	h := newHarness()
	m := h.start(t, h.options())
	for _, coins := range []int{1, 2} {
		h.coins.Set(coins)
		if _, err := m.Save(ctx); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}

	report, err := m.RestoreBackup(ctx, 1)
	if err != nil {
		t.Fatalf("RestoreBackup: %v", err)
	}
	if report.Source != SourcePrimary || h.coins.Get() != 1 {
		t.Fatalf("unexpected restore %+v coins=%d", report, h.coins.Get())
	}
	if entryValue(t, h.stored(t).Global, "coins") != "1" {
		t.Fatal("backup not written as primary")
	}
	if _, err := m.RestoreBackup(ctx, 9); err == nil {
		t.Fatal("expected error for missing backup")
	}
}

type failingProvider struct{}

func (failingProvider) Key() string    { return "broken" }
func (failingProvider) CanWrite() bool { return true }
func (failingProvider) Metadata(context.Context) (any, error) {
	return nil, errors.New("unavailable")
}

type silentProvider struct{}

func (silentProvider) Key() string                           { return "silent" }
func (silentProvider) CanWrite() bool                        { return false }
func (silentProvider) Metadata(context.Context) (any, error) { return "x", nil }

func TestMetadataProviders(t *testing.T) {
	h := newHarness()
	opts := h.options()
	opts.Providers = []Provider{failingProvider{}, silentProvider{}, SystemInfo{}}
	m := h.start(t, opts)

	if _, err := m.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	meta := h.stored(t).Metadata
	if _, ok := meta["broken"]; ok {
		t.Fatal("failed provider written")
	}
	if _, ok := meta["silent"]; ok {
		t.Fatal("provider with CanWrite false written")
	}
	if !strings.Contains(string(meta["system_info"]), `"os"`) {
		t.Fatalf("system info missing: %v", meta)
	}
}

func TestStateTransitions(t *testing.T) {
	h := newHarness()
	var transitions []string
	opts := h.options()
	opts.Events.OnStateChange = func(from, to State) {
		transitions = append(transitions, from.String()+">"+to.String())
	}
	m := h.start(t, opts)

	if _, err := m.Save(context.Background()); err != nil {
		t.Fatalf("Save: %v", err)
	}
	want := "idle>saving,saving>save_succeeded,save_succeeded>idle"
	if got := strings.Join(transitions, ","); got != want {
		t.Fatalf("transitions = %s, want %s", got, want)
	}
}
