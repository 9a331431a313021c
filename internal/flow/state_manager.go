// Package flow provides the in-memory implementation of state management.
package flow

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/VitalAI/internal/models"
)

// recordEntry holds one user's record.
//
// turn is held for the whole handling of one message, plan generation
// included. view is a committed copy readable without waiting on turn.
type recordEntry struct {
	turn   sync.Mutex
	record *models.UserRecord

	viewMu sync.RWMutex
	view   models.UserRecord
}

func (e *recordEntry) publish() {
	e.viewMu.Lock()
	e.view = e.record.Clone()
	e.viewMu.Unlock()
}

func (e *recordEntry) committed() models.UserRecord {
	e.viewMu.RLock()
	defer e.viewMu.RUnlock()
	v := e.view
	v.Answers = e.view.Answers.Clone()
	return v
}

// InMemoryStateManager implements StateManager with a process-lifetime map.
//
// mu guards only the user table; it is never held while a message is being
// handled, so a slow plan generation for one user does not block the table.
type InMemoryStateManager struct {
	mu      sync.Mutex
	entries map[string]*recordEntry
	now     func() time.Time
}

// NewInMemoryStateManager creates an empty state manager.
func NewInMemoryStateManager() *InMemoryStateManager {
	slog.Debug("Creating InMemoryStateManager")
	return &InMemoryStateManager{
		entries: make(map[string]*recordEntry),
		now:     time.Now,
	}
}

// Acquire implements StateManager.
func (sm *InMemoryStateManager) Acquire(userID string) (*Turn, bool) {
	sm.mu.Lock()
	entry, exists := sm.entries[userID]
	if !exists {
		entry = &recordEntry{record: models.NewUserRecord(userID, sm.now())}
		entry.view = entry.record.Clone()
		sm.entries[userID] = entry
	}
	sm.mu.Unlock()

	entry.turn.Lock()
	if !exists {
		slog.Debug("InMemoryStateManager.Acquire: created record", "userID", userID)
	}
	return &Turn{entry: entry, now: sm.now}, !exists
}

// Get implements StateManager.
func (sm *InMemoryStateManager) Get(userID string) (models.UserRecord, bool) {
	sm.mu.Lock()
	entry, ok := sm.entries[userID]
	sm.mu.Unlock()
	if !ok {
		return models.UserRecord{}, false
	}
	return entry.committed(), true
}

// Snapshot implements StateManager. Records are ordered by user ID.
func (sm *InMemoryStateManager) Snapshot() []models.UserRecord {
	sm.mu.Lock()
	entries := make([]*recordEntry, 0, len(sm.entries))
	for _, e := range sm.entries {
		entries = append(entries, e)
	}
	sm.mu.Unlock()

	out := make([]models.UserRecord, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.committed())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Turn is exclusive access to one user's record for the handling of a single
// message. It must be released exactly once.
type Turn struct {
	entry    *recordEntry
	now      func() time.Time
	released bool
}

// Record returns the live record. It may only be used before Release.
func (t *Turn) Record() *models.UserRecord {
	return t.entry.record
}

// Reset replaces the record with a fresh initial-state record.
func (t *Turn) Reset() {
	userID := t.entry.record.UserID
	t.entry.record = models.NewUserRecord(userID, t.now())
	slog.Debug("Turn.Reset: record reset", "userID", userID)
}

// Touch marks the record as updated.
func (t *Turn) Touch() {
	t.entry.record.UpdatedAt = t.now()
}

// Release commits the record and gives up exclusive access.
func (t *Turn) Release() {
	if t.released {
		return
	}
	t.released = true
	t.entry.publish()
	t.entry.turn.Unlock()
}
