package pipeline

import (
	"time"

	"savekit/internal/document"
	"savekit/internal/saveerr"
)

type SlotInfo struct {
	Index    int
	SaveDate time.Time
	// Playtime includes time accrued since the slot was loaded.
	Playtime time.Duration
	Entries  int
	Active   bool
}

// Slots lists the slots of the current document in index order.
func (m *Manager) Slots() ([]SlotInfo, error) {
	m.mu.Lock()
	defer m.unlock()
	if err := m.requireInit(); err != nil {
		return nil, err
	}

	doc := m.document()
	out := make([]SlotInfo, 0, len(doc.Slots))
	for _, slot := range doc.Slots {
		info := SlotInfo{
			Index:    slot.Index,
			SaveDate: slot.SaveDate,
			Playtime: slot.Playtime,
			Entries:  len(slot.Entries),
			Active:   slot.Index == m.activeSlot,
		}
		if info.Active {
			if elapsed := m.now().Sub(m.slotStarted); elapsed > 0 {
				info.Playtime = (info.Playtime + elapsed).Round(time.Millisecond)
			}
		}
		out = append(out, info)
	}
	return out, nil
}

// CreateSlot adds a slot at the lowest unused index, seeded with the
// defaults of every slot-scoped value. The slot is persisted by the next Save.
func (m *Manager) CreateSlot() (int, error) {
	m.mu.Lock()
	defer m.unlock()
	if err := m.requireInit(); err != nil {
		return 0, err
	}

	doc := m.document()
	if m.maxSlots > 0 && len(doc.Slots) >= m.maxSlots {
		issue := saveerr.Newf(saveerr.SlotLimitReached, "all %d slots are in use", m.maxSlots)
		m.logIssue(issue)
		return 0, issue
	}

	index := 0
	for {
		if _, taken := doc.Slot(index); !taken {
			break
		}
		index++
	}
	doc.PutSlot(document.Slot{
		Index:    index,
		SaveDate: m.now().UTC().Truncate(time.Second),
		Entries:  document.DefaultEntries(m.registry.Values(document.ScopeSlot)),
	})
	m.log.Info("slot created", "slot", index)
	return index, nil
}

// DeleteSlot removes a slot. Deleting the active slot unloads it without
// writing its values back.
func (m *Manager) DeleteSlot(index int) error {
	m.mu.Lock()
	defer m.unlock()
	if err := m.requireInit(); err != nil {
		return err
	}

	if !m.document().RemoveSlot(index) {
		return m.slotNotFound(index)
	}
	if m.activeSlot == index {
		m.registry.Reset(document.ScopeSlot)
		m.activeSlot = -1
	}
	m.log.Info("slot deleted", "slot", index)
	return nil
}

// LoadSlot hydrates the slot-scoped values from a slot and starts its
// playtime clock. A different active slot is unloaded first.
func (m *Manager) LoadSlot(index int) ([]*saveerr.Error, error) {
	m.mu.Lock()
	defer m.unlock()
	if err := m.requireInit(); err != nil {
		return nil, err
	}

	doc := m.document()
	if _, ok := doc.Slot(index); !ok {
		return nil, m.slotNotFound(index)
	}
	var issues []*saveerr.Error
	if m.activeSlot >= 0 && m.activeSlot != index {
		issues = append(issues, m.unloadSlot()...)
	}

	slot, _ := doc.Slot(index)
	loaded := document.Hydrate(document.SlotScope(index), m.registry.Values(document.ScopeSlot), slot.Entries)
	for _, issue := range loaded {
		m.logIssue(issue)
	}
	issues = append(issues, loaded...)
	if m.activeSlot != index {
		m.slotStarted = m.now()
	}
	m.activeSlot = index
	m.log.Info("slot loaded", "slot", index, "issues", len(loaded))
	return issues, nil
}

// UnloadSlot writes the slot-scoped values back into the active slot, stops
// its playtime clock and resets the values to their defaults.
func (m *Manager) UnloadSlot() ([]*saveerr.Error, error) {
	m.mu.Lock()
	defer m.unlock()
	if err := m.requireInit(); err != nil {
		return nil, err
	}
	if m.activeSlot < 0 {
		return nil, ErrNoActiveSlot
	}
	return m.unloadSlot(), nil
}

func (m *Manager) unloadSlot() []*saveerr.Error {
	index := m.activeSlot
	issues := m.syncSlot(m.document(), m.now())
	for _, issue := range issues {
		m.logIssue(issue)
	}
	m.registry.Reset(document.ScopeSlot)
	m.activeSlot = -1
	m.log.Info("slot unloaded", "slot", index)
	return issues
}

func (m *Manager) ActiveSlot() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeSlot, m.activeSlot >= 0
}

func (m *Manager) document() *document.Document {
	if m.doc == nil {
		m.doc = m.defaultDocument()
	}
	return m.doc
}

func (m *Manager) slotNotFound(index int) error {
	issue := saveerr.Newf(saveerr.SlotNotFound, "slot %d does not exist", index).At(document.SlotScope(index), "")
	m.logIssue(issue)
	return issue
}
