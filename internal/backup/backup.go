// Package backup keeps a capped history of successfully saved documents.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"savekit/internal/crypt"
	"savekit/internal/logger"
	"savekit/internal/saveerr"
	"savekit/internal/storage"
)

type Record struct {
	Iteration int    `json:"iteration"`
	JSON      string `json:"json"`
}

// Manager owns the backup ring. The ring is stored as a JSON array of
// records at Path, through whatever location the pipeline has active. The
// highest iteration handed out is also kept at MarkPath, so numbering
// continues when the ring itself is lost.
type Manager struct {
	mu       sync.RWMutex
	loc      storage.Location
	path     string
	capacity int
	log      *logger.Logger

	records []Record // ascending by iteration
	last    int
}

func NewManager(loc storage.Location, path string, capacity int, log *logger.Logger) *Manager {
	if capacity < 0 {
		capacity = 0
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Manager{loc: loc, path: path, capacity: capacity, log: log}
}

func (m *Manager) Capacity() int { return m.capacity }
func (m *Manager) Path() string  { return m.path }

func (m *Manager) MarkPath() string {
	if m.path == "" {
		return ""
	}
	return m.path + ".last"
}

// Paths lists every storage path the manager writes.
func (m *Manager) Paths() []string {
	if m.path == "" {
		return nil
	}
	return []string{m.path, m.MarkPath()}
}

// SetLocation points the manager at a new location without touching the
// in-memory ring.
func (m *Manager) SetLocation(loc storage.Location) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loc = loc
}

// Load reads the ring from storage. An unreadable ring is logged and treated
// as empty so that it never blocks saving; storage errors are returned.
func (m *Manager) Load(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.path == "" {
		return nil
	}
	if err := m.loadMark(ctx); err != nil {
		return err
	}

	raw, err := m.loc.Load(ctx, m.path)
	if err != nil {
		if !errors.Is(err, crypt.ErrDecrypt) {
			return saveerr.Wrap(saveerr.StorageReadFailed, err, "reading backups")
		}
		m.log.Warn("backup ring unreadable, starting empty", "path", m.path, "error", err)
		m.records = nil
		return nil
	}
	if raw == "" {
		m.records = nil
		return nil
	}

	var records []Record
	if err := json.Unmarshal([]byte(raw), &records); err != nil {
		m.log.Warn("backup ring corrupt, starting empty", "path", m.path, "error", err)
		m.records = nil
		return nil
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Iteration < records[j].Iteration })
	m.records = records
	for _, r := range records {
		if r.Iteration > m.last {
			m.last = r.Iteration
		}
	}
	m.log.Debug("backups loaded", "path", m.path, "count", len(records), "latest", m.last)
	return nil
}

// Append stores data as the newest record and evicts the oldest records past
// capacity. With capacity 0 nothing is stored and the zero Record is returned.
func (m *Manager) Append(ctx context.Context, data string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.capacity == 0 {
		return Record{}, nil
	}

	rec := Record{Iteration: m.last + 1, JSON: data}
	next := append(append([]Record(nil), m.records...), rec)
	if over := len(next) - m.capacity; over > 0 {
		next = next[over:]
	}

	blob, err := json.Marshal(next)
	if err != nil {
		return Record{}, saveerr.Wrap(saveerr.BackupWriteFailed, err, "encoding backups")
	}
	if err := m.loc.Save(ctx, m.path, string(blob)); err != nil {
		return Record{}, saveerr.Wrap(saveerr.BackupWriteFailed, err, fmt.Sprintf("writing backup %d", rec.Iteration))
	}

	m.records = next
	m.last = rec.Iteration
	if err := m.loc.Save(ctx, m.MarkPath(), strconv.Itoa(m.last)); err != nil {
		m.log.Warn("backup iteration mark not written", "path", m.MarkPath(), "error", err)
	}
	return rec, nil
}

// loadMark raises last to the stored high-water mark. An unreadable mark is
// logged; the ring's own records still bound the next iteration.
func (m *Manager) loadMark(ctx context.Context) error {
	raw, err := m.loc.Load(ctx, m.MarkPath())
	if err != nil {
		if !errors.Is(err, crypt.ErrDecrypt) {
			return saveerr.Wrap(saveerr.StorageReadFailed, err, "reading backup mark")
		}
		m.log.Warn("backup iteration mark unreadable", "path", m.MarkPath(), "error", err)
		return nil
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	mark, err := strconv.Atoi(raw)
	if err != nil || mark < 0 {
		m.log.Warn("backup iteration mark corrupt", "path", m.MarkPath(), "value", raw)
		return nil
	}
	if mark > m.last {
		m.last = mark
	}
	return nil
}

// Records returns the retained records, newest first.
func (m *Manager) Records() []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Record, 0, len(m.records))
	for i := len(m.records) - 1; i >= 0; i-- {
		out = append(out, m.records[i])
	}
	return out
}

func (m *Manager) Latest() (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.records) == 0 {
		return Record{}, false
	}
	return m.records[len(m.records)-1], true
}

func (m *Manager) Get(iteration int) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records {
		if r.Iteration == iteration {
			return r, true
		}
	}
	return Record{}, false
}
