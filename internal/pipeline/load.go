package pipeline

import (
	"context"
	"errors"
	"fmt"

	"savekit/internal/crypt"
	"savekit/internal/document"
	"savekit/internal/legacy"
	"savekit/internal/saveerr"
)

// Load reads the document from the active location and hydrates every
// registered value. When the primary document cannot be decrypted or parsed,
// backups are tried newest first. Storage and hook failures abort the load.
func (m *Manager) Load(ctx context.Context) (*LoadReport, error) {
	m.mu.Lock()
	defer m.unlock()
	if err := m.requireInit(); err != nil {
		return nil, err
	}
	return m.load(ctx)
}

func (m *Manager) load(ctx context.Context) (*LoadReport, error) {
	m.emit(m.events.OnGameLoadCalled)
	m.setState(Loading)
	defer m.setState(Idle)

	report := &LoadReport{Source: SourcePrimary}
	for _, issue := range m.configIssues() {
		m.logIssue(issue)
		report.Issues = append(report.Issues, issue)
	}

	raw, err := m.active.Load(ctx, m.path)
	if err != nil && !errors.Is(err, crypt.ErrDecrypt) {
		return nil, m.fatalLoad(saveerr.Wrap(saveerr.StorageReadFailed, err, "reading "+m.path))
	}

	var topLevel *saveerr.Error
	if err != nil {
		topLevel = saveerr.Wrap(saveerr.DecryptionFailed, err, "decrypting "+m.path)
	} else {
		if raw == "" {
			m.resetToDefaults()
			report.Source = SourceNone
			report.Document = m.doc.Clone()
			m.log.Info("no save data, using defaults", "path", m.path)
			m.setState(LoadSucceeded)
			m.completeLoad(report)
			return report, nil
		}

		raw, err = m.intercept(raw)
		if err != nil {
			return nil, m.fatalLoad(saveerr.Wrap(saveerr.PreLoadHookFailed, err, "pre-load hook"))
		}

		doc, migrated, err := m.decode(raw)
		if err == nil {
			report.Migrated = migrated
			m.apply(doc, report)
			m.setState(LoadSucceeded)
			m.completeLoad(report)
			return report, nil
		}
		topLevel = asIssue(err)
	}

	m.logIssue(topLevel)
	failure := LoadFailure{Source: SourcePrimary, Err: topLevel}
	report.Failures = append(report.Failures, failure)
	m.emitLoadFailed(failure)
	m.setState(LoadFailed)
	return m.recover(report)
}

func (m *Manager) recover(report *LoadReport) (*LoadReport, error) {
	m.setState(BackupRecovery)
	for _, rec := range m.backups.Records() {
		doc, migrated, err := m.decode(rec.JSON)
		if err != nil {
			issue := asIssue(err)
			m.logIssue(issue.At("backup", fmt.Sprint(rec.Iteration)))
			failure := LoadFailure{Source: SourceBackup, Iteration: rec.Iteration, Err: issue}
			report.Failures = append(report.Failures, failure)
			m.emitLoadFailed(failure)
			continue
		}
		report.Source = SourceBackup
		report.Iteration = rec.Iteration
		report.Migrated = migrated
		m.apply(doc, report)
		m.log.Warn("document recovered from backup", "iteration", rec.Iteration)
		m.setState(RecoverySucceeded)
		m.completeLoad(report)
		return report, nil
	}

	m.resetToDefaults()
	report.Source = SourceNone
	report.Document = m.doc.Clone()
	m.setState(RecoveryFailed)

	var last error
	if n := len(report.Failures); n > 0 {
		last = report.Failures[n-1].Err
	}
	issue := saveerr.Wrap(saveerr.LoadFailedCompletely, last,
		fmt.Sprintf("primary document and %d backups failed", len(report.Failures)-1))
	m.logIssue(issue)
	report.Issues = append(report.Issues, issue)
	if fn := m.events.OnGameLoadFailedCompletely; fn != nil {
		m.emit(func() { fn(report) })
	}
	return report, issue
}

// decode turns raw JSON into a current-format document, migrating legacy
// documents on the way.
func (m *Manager) decode(raw string) (*document.Document, bool, error) {
	doc, migrated, err := legacy.Convert([]byte(raw), m.chain, m.defaultDocument)
	if err != nil {
		return nil, true, err
	}
	if migrated {
		return doc, true, nil
	}
	doc, err = document.Parse([]byte(raw))
	return doc, false, err
}

func (m *Manager) intercept(raw string) (string, error) {
	for _, h := range m.hooks {
		out, err := h.Intercept(raw)
		if err != nil {
			return "", err
		}
		raw = out
	}
	return raw, nil
}

// apply makes doc current and hydrates the global values and, if one is
// loaded, the active slot's values.
func (m *Manager) apply(doc *document.Document, report *LoadReport) {
	m.doc = doc
	issues := document.Hydrate(string(document.ScopeGlobal), m.registry.Values(document.ScopeGlobal), doc.Global)

	if m.activeSlot >= 0 {
		if slot, ok := doc.Slot(m.activeSlot); ok {
			issues = append(issues, document.Hydrate(document.SlotScope(slot.Index), m.registry.Values(document.ScopeSlot), slot.Entries)...)
		} else {
			m.log.Warn("active slot missing from loaded document, unloading", "slot", m.activeSlot)
			m.registry.Reset(document.ScopeSlot)
			m.activeSlot = -1
		}
	}

	for _, issue := range issues {
		m.logIssue(issue)
	}
	report.Issues = append(report.Issues, issues...)
	report.Document = doc.Clone()
}

func (m *Manager) completeLoad(report *LoadReport) {
	m.log.Info("load completed", "source", report.Source, "iteration", report.Iteration, "issues", len(report.Issues))
	if fn := m.events.OnGameLoadCompleted; fn != nil {
		m.emit(func() { fn(report) })
	}
}

func (m *Manager) emitLoadFailed(failure LoadFailure) {
	if fn := m.events.OnGameLoadFailed; fn != nil {
		m.emit(func() { fn(failure) })
	}
}

// fatalLoad keeps the current values; before the first load that means
// the defaults.
func (m *Manager) fatalLoad(issue *saveerr.Error) error {
	if m.doc == nil {
		m.resetToDefaults()
	}
	m.logIssue(issue)
	m.emitLoadFailed(LoadFailure{Source: SourcePrimary, Err: issue})
	m.setState(LoadFailed)
	return issue
}

// RestoreBackup writes the given backup over the document and loads it.
func (m *Manager) RestoreBackup(ctx context.Context, iteration int) (*LoadReport, error) {
	m.mu.Lock()
	defer m.unlock()
	if err := m.requireInit(); err != nil {
		return nil, err
	}

	rec, ok := m.backups.Get(iteration)
	if !ok {
		return nil, fmt.Errorf("backup %d not found", iteration)
	}
	if _, _, err := m.decode(rec.JSON); err != nil {
		return nil, fmt.Errorf("backup %d is unusable: %w", iteration, err)
	}
	if err := m.active.Save(ctx, m.path, rec.JSON); err != nil {
		issue := saveerr.Wrap(saveerr.StorageWriteFailed, err, "restoring backup")
		m.logIssue(issue)
		return nil, issue
	}
	m.log.Info("backup restored", "iteration", iteration)
	return m.load(ctx)
}

func asIssue(err error) *saveerr.Error {
	var issue *saveerr.Error
	if errors.As(err, &issue) {
		return issue
	}
	return saveerr.Wrap(saveerr.MalformedDocument, err, "decoding document")
}
