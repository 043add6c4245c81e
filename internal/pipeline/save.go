package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"savekit/internal/document"
	"savekit/internal/saveerr"
)

// Save assembles the registered values into a document, writes it to the
// active location and appends it to the backup ring. A failed write leaves
// the stored document and the in-memory state untouched. A failed backup is
// reported but does not fail the save.
func (m *Manager) Save(ctx context.Context) (*SaveReport, error) {
	m.mu.Lock()
	defer m.unlock()
	if err := m.requireInit(); err != nil {
		return nil, err
	}
	return m.save(ctx)
}

func (m *Manager) save(ctx context.Context) (*SaveReport, error) {
	m.setState(Saving)
	defer m.setState(Idle)

	report := &SaveReport{}
	now := m.now()

	next := m.doc.Clone()
	if next == nil {
		next = document.New()
	}
	global, issues := document.Assemble(string(document.ScopeGlobal), m.registry.Values(document.ScopeGlobal), next.Global)
	next.Global = global
	report.Issues = append(report.Issues, issues...)

	if m.activeSlot >= 0 {
		report.Issues = append(report.Issues, m.syncSlot(next, now)...)
	}
	m.attachMetadata(ctx, next)

	for _, issue := range report.Issues {
		m.logIssue(issue)
	}

	data, err := next.Marshal()
	if err != nil {
		return nil, m.failSave(saveerr.Wrap(saveerr.StorageWriteFailed, err, "encoding document"))
	}
	if err := m.active.Save(ctx, m.path, string(data)); err != nil {
		return nil, m.failSave(saveerr.Wrap(saveerr.StorageWriteFailed, err, "writing "+m.path))
	}

	m.doc = next
	if m.activeSlot >= 0 {
		m.slotStarted = now
	}
	report.Bytes = len(data)
	report.Document = next.Clone()

	rec, err := m.backups.Append(ctx, string(data))
	if err != nil {
		issue := asIssue(err)
		m.logIssue(issue)
		report.BackupErr = issue
	}
	report.Backup = rec

	m.setState(SaveSucceeded)
	m.log.Info("save completed", "path", m.path, "bytes", report.Bytes, "backup", rec.Iteration, "issues", len(report.Issues))
	if fn := m.events.OnGameSaveCompleted; fn != nil {
		m.emit(func() { fn(report) })
	}
	return report, nil
}

// syncSlot writes the active slot's values into doc, bumps its save date and
// adds the playtime accrued since the clock was last started.
func (m *Manager) syncSlot(doc *document.Document, now time.Time) []*saveerr.Error {
	slot, ok := doc.Slot(m.activeSlot)
	if !ok {
		return []*saveerr.Error{saveerr.Newf(saveerr.SlotNotFound, "active slot %d is missing", m.activeSlot)}
	}
	entries, issues := document.Assemble(document.SlotScope(slot.Index), m.registry.Values(document.ScopeSlot), slot.Entries)
	slot.Entries = entries
	slot.SaveDate = now.UTC().Truncate(time.Second)
	if elapsed := now.Sub(m.slotStarted); elapsed > 0 {
		slot.Playtime = (slot.Playtime + elapsed).Round(time.Millisecond)
	}
	return issues
}

func (m *Manager) attachMetadata(ctx context.Context, doc *document.Document) {
	for _, p := range m.providers {
		if !p.CanWrite() {
			continue
		}
		value, err := p.Metadata(ctx)
		if err != nil {
			m.logIssue(saveerr.Wrap(saveerr.MetadataProviderFailed, err, "metadata provider").At("metadata", p.Key()))
			continue
		}
		raw, err := json.Marshal(value)
		if err != nil {
			m.logIssue(saveerr.Wrap(saveerr.MetadataProviderFailed, err, "encoding metadata").At("metadata", p.Key()))
			continue
		}
		if doc.Metadata == nil {
			doc.Metadata = map[string]json.RawMessage{}
		}
		doc.Metadata[p.Key()] = raw
	}
}

func (m *Manager) failSave(issue *saveerr.Error) error {
	m.logIssue(issue)
	m.setState(SaveFailed)
	if fn := m.events.OnGameSaveFailed; fn != nil {
		m.emit(func() { fn(issue) })
	}
	return issue
}
