// Package pipeline orchestrates loading and saving a document through the
// active storage location, with encryption, legacy migration, backups and
// slots. A Manager is the single owner of that state; its operations are
// serialized and run to completion.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"savekit/internal/backup"
	"savekit/internal/crypt"
	"savekit/internal/document"
	"savekit/internal/legacy"
	"savekit/internal/logger"
	"savekit/internal/saveerr"
	"savekit/internal/storage"
)

var (
	ErrNotInitialized     = errors.New("pipeline: not initialized")
	ErrAlreadyInitialized = errors.New("pipeline: already initialized")
	ErrNoActiveSlot       = errors.New("pipeline: no active slot")
)

type Options struct {
	Registry *document.Registry
	// Location holds the document and the backup ring. When Encryption is
	// set, both are encrypted on top of it.
	Location       storage.Location
	Path           string
	BackupPath     string
	BackupCapacity int
	Encryption     *crypt.Handler
	Legacy         *legacy.Chain
	Hooks          []Hook
	Providers      []Provider
	// MaxSlots caps CreateSlot. Zero means unlimited.
	MaxSlots         int
	LoadOnInitialize bool
	Logger           *logger.Logger
	Events           Events
}

type Option func(*Manager)

// WithClock replaces time.Now for save dates and playtime.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

type Manager struct {
	mu sync.Mutex

	registry  *document.Registry
	raw       storage.Location
	active    storage.Location
	path      string
	enc       *crypt.Handler
	chain     *legacy.Chain
	hooks     []Hook
	providers []Provider
	maxSlots  int
	loadInit  bool
	backups   *backup.Manager
	log       *logger.Logger
	events    Events
	now       func() time.Time

	initialized bool
	state       State
	doc         *document.Document
	activeSlot  int
	slotStarted time.Time
	pending     []func()
}

func New(opts Options, options ...Option) (*Manager, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if opts.Location == nil {
		return nil, fmt.Errorf("location is required")
	}
	if opts.Path == "" {
		return nil, fmt.Errorf("document path is required")
	}
	if opts.BackupCapacity > 0 && opts.BackupPath == "" {
		return nil, fmt.Errorf("backup path is required when backups are enabled")
	}
	if opts.BackupPath != "" && (opts.BackupPath == opts.Path || opts.BackupPath+".last" == opts.Path) {
		return nil, fmt.Errorf("backup path must differ from document path")
	}
	if opts.MaxSlots < 0 {
		return nil, fmt.Errorf("max slots must be >= 0")
	}

	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	chain := opts.Legacy
	if chain == nil {
		chain = legacy.NewChain(legacy.GlobalHandler{})
	}

	m := &Manager{
		registry:   opts.Registry,
		raw:        opts.Location,
		path:       opts.Path,
		enc:        opts.Encryption,
		chain:      chain,
		hooks:      sortHooks(opts.Hooks),
		providers:  append([]Provider(nil), opts.Providers...),
		maxSlots:   opts.MaxSlots,
		loadInit:   opts.LoadOnInitialize,
		log:        log,
		events:     opts.Events,
		now:        time.Now,
		activeSlot: -1,
	}
	for _, o := range options {
		o(m)
	}
	m.active = m.wrap(m.raw)
	m.backups = backup.NewManager(m.active, opts.BackupPath, opts.BackupCapacity, log.With("component", "backup"))
	return m, nil
}

func (m *Manager) wrap(loc storage.Location) storage.Location {
	if m.enc == nil {
		return loc
	}
	return m.enc.Wrap(loc)
}

// Initialize runs the startup sequence once: it reads the backup ring and,
// when configured, loads the document. done receives the load outcome (a nil
// report when no load ran) after the sequence completes.
func (m *Manager) Initialize(ctx context.Context, done func(*LoadReport, error)) error {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return ErrAlreadyInitialized
	}

	var (
		report *LoadReport
		err    error
	)
	if err = m.backups.Load(ctx); err == nil {
		m.initialized = true
		if m.loadInit {
			report, err = m.load(ctx)
		} else {
			m.resetToDefaults()
		}
	}
	completely := errors.Is(err, saveerr.Sentinel(saveerr.LoadFailedCompletely))
	if err != nil && !completely {
		// Values stay at their defaults and Initialize may be retried.
		m.initialized = false
	}
	m.unlock()

	if done != nil {
		done(report, err)
	}
	if completely {
		return nil
	}
	return err
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) Registry() *document.Registry { return m.registry }

// Location returns the active location, without encryption.
func (m *Manager) Location() storage.Location {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.raw
}

func (m *Manager) Path() string { return m.path }

// Document returns a copy of the current document.
func (m *Manager) Document() (*document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.initialized {
		return nil, ErrNotInitialized
	}
	return m.doc.Clone(), nil
}

func (m *Manager) Backups() []backup.Record {
	return m.backups.Records()
}

func (m *Manager) BackupCapacity() int {
	return m.backups.Capacity()
}

// SwitchLocation copies the document and the backup ring to loc, then makes
// loc the active location. Data is copied as stored, so encrypted blobs stay
// encrypted under the same key. Paths with no data here are cleared on loc.
// On failure the active location is unchanged.
func (m *Manager) SwitchLocation(ctx context.Context, loc storage.Location) error {
	m.mu.Lock()
	defer m.unlock()
	if loc == nil {
		return fmt.Errorf("location is required")
	}

	paths := append([]string{m.path}, m.backups.Paths()...)
	for _, p := range paths {
		copied, err := storage.Mirror(ctx, m.raw, loc, p)
		if err != nil {
			issue := saveerr.Wrap(saveerr.LocationMigrationFailed, err, "copying "+p)
			m.logIssue(issue)
			return issue
		}
		m.log.Debug("location data copied", "path", p, "copied", copied)
	}

	m.raw = loc
	m.active = m.wrap(loc)
	m.backups.SetLocation(m.active)
	m.log.Info("active location switched", "path", m.path)
	return nil
}

func (m *Manager) requireInit() error {
	if !m.initialized {
		return ErrNotInitialized
	}
	return nil
}

// unlock releases the lock and then delivers queued events.
func (m *Manager) unlock() {
	pending := m.pending
	m.pending = nil
	m.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}

func (m *Manager) emit(fn func()) {
	if fn != nil {
		m.pending = append(m.pending, fn)
	}
}

func (m *Manager) setState(next State) {
	prev := m.state
	m.state = next
	if m.events.OnStateChange != nil && prev != next {
		observer := m.events.OnStateChange
		m.emit(func() { observer(prev, next) })
	}
}

func (m *Manager) logIssue(issue *saveerr.Error) {
	fields := []interface{}{
		"code", issue.Code.String(),
		"code_id", int(issue.Code),
		"scope", issue.Scope,
		"key", issue.Key,
	}
	if issue.Err != nil {
		fields = append(fields, "error", issue.Err)
	}
	msg := issue.Detail
	if msg == "" {
		msg = issue.Code.String()
	}
	if issue.Code.PerValue() {
		m.log.Warn(msg, fields...)
		return
	}
	m.log.Error(msg, fields...)
}

// configIssues reports declarations that cannot round-trip.
func (m *Manager) configIssues() []*saveerr.Error {
	var issues []*saveerr.Error
	for _, scope := range []document.Scope{document.ScopeGlobal, document.ScopeSlot} {
		for _, key := range m.registry.Duplicates(scope) {
			issues = append(issues, saveerr.New(saveerr.DuplicateSaveKeys, "key declared more than once").At(string(scope), key))
		}
		if n := m.registry.Unassigned(scope); n > 0 {
			issues = append(issues, saveerr.Newf(saveerr.NoSaveKeyAssigned, "%d values have no key", n).At(string(scope), ""))
		}
	}
	return issues
}

func (m *Manager) defaultDocument() *document.Document {
	doc := document.New()
	doc.Global = document.DefaultEntries(m.registry.Values(document.ScopeGlobal))
	return doc
}

func (m *Manager) resetToDefaults() {
	m.registry.Reset(document.ScopeGlobal)
	m.registry.Reset(document.ScopeSlot)
	m.doc = m.defaultDocument()
	m.activeSlot = -1
}
