// Package statetest provides in-memory test doubles for the state package.
package statetest

import (
	"sync"

	"github.com/schmitthub/ralph/internal/state"
)

// MemoryStore is a state.Store held in memory. Error fields, when set, are
// returned by the corresponding method instead of performing it.
type MemoryStore struct {
	mu sync.Mutex
	st *state.LoopState

	CreateErr error
	LoadErr   error
	SaveErr   error
	ClearErr  error

	// Saves records a copy of every successfully saved record.
	Saves []*state.LoopState
	// Clears counts successful Clear and ClearIf removals.
	Clears int

	// OnLoad, if set, runs before every Load with the lock released. Tests
	// use it to simulate another process mutating the record.
	OnLoad func(m *MemoryStore)
}

var _ state.Store = (*MemoryStore)(nil)

// NewMemoryStore returns a MemoryStore seeded with st, which may be nil.
func NewMemoryStore(st *state.LoopState) *MemoryStore {
	return &MemoryStore{st: st.Clone()}
}

// Create implements state.Store.
func (m *MemoryStore) Create(st *state.LoopState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateErr != nil {
		return m.CreateErr
	}
	if m.st != nil && m.st.Active {
		return state.ErrAlreadyActive
	}
	m.st = st.Clone()
	return nil
}

// Load implements state.Store.
func (m *MemoryStore) Load() (*state.LoopState, error) {
	if m.OnLoad != nil {
		m.OnLoad(m)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadErr != nil {
		return nil, m.LoadErr
	}
	return m.st.Clone(), nil
}

// Save implements state.Store.
func (m *MemoryStore) Save(st *state.LoopState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveErr != nil {
		return m.SaveErr
	}
	m.st = st.Clone()
	m.Saves = append(m.Saves, st.Clone())
	return nil
}

// Clear implements state.Store.
func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ClearErr != nil {
		return m.ClearErr
	}
	if m.st != nil {
		m.Clears++
	}
	m.st = nil
	return nil
}

// ClearIf implements state.Store.
func (m *MemoryStore) ClearIf(loopID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ClearErr != nil {
		return false, m.ClearErr
	}
	if m.st == nil || m.st.LoopID != loopID {
		return false, nil
	}
	m.st = nil
	m.Clears++
	return true, nil
}

// Update implements state.Store.
func (m *MemoryStore) Update(fn func(st *state.LoopState) error) (*state.LoopState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.st == nil || !m.st.Active {
		return nil, state.ErrNoActiveLoop
	}
	if m.SaveErr != nil {
		return nil, m.SaveErr
	}
	next := m.st.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	m.st = next
	m.Saves = append(m.Saves, next.Clone())
	return next.Clone(), nil
}

// Current returns a copy of the held record without running hooks.
func (m *MemoryStore) Current() *state.LoopState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.Clone()
}

// Set replaces the held record without recording a save.
func (m *MemoryStore) Set(st *state.LoopState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = st.Clone()
}
