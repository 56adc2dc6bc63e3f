package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

const (
	// MaxHistoryEntries is the maximum number of history entries to keep.
	MaxHistoryEntries = 50
)

// Event names recorded in the loop history.
const (
	EventStarted       = "started"
	EventIteration     = "iteration"
	EventCompleted     = "completed"
	EventMaxIterations = "max_iterations"
	EventAgentFailed   = "agent_failed"
	EventCancelled     = "cancelled"
	EventError         = "error"
)

// HistoryEntry is a single loop lifecycle event.
type HistoryEntry struct {
	Timestamp time.Time `json:"timestamp"`
	LoopID    string    `json:"loopId,omitempty"`
	Driver    Driver    `json:"driver,omitempty"`
	Event     string    `json:"event"`
	Iteration int       `json:"iteration"`
	Detail    string    `json:"detail,omitempty"`
}

// History is the on-disk history document.
type History struct {
	Entries []HistoryEntry `json:"entries"`
}

// HistoryStore manages history persistence.
type HistoryStore struct {
	path string
}

// NewHistoryStore creates a history store for the file at path.
func NewHistoryStore(path string) *HistoryStore {
	return &HistoryStore{path: path}
}

// DefaultHistoryStore returns the history store for workDir.
func DefaultHistoryStore(workDir string) *HistoryStore {
	return NewHistoryStore(HistoryPath(workDir))
}

// Load reads the history. A missing or unreadable document yields an empty history.
func (h *HistoryStore) Load() (*History, error) {
	data, err := os.ReadFile(h.path)
	if errors.Is(err, os.ErrNotExist) {
		return &History{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read loop history: %w", err)
	}

	var history History
	if err := json.Unmarshal(data, &history); err != nil {
		return &History{}, nil
	}
	return &history, nil
}

// Add appends an entry, trimming to MaxHistoryEntries. The read-modify-write
// runs under the history lock.
func (h *HistoryStore) Add(entry HistoryEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	return withFileLock(h.path, DefaultLockTimeout, func() error {
		return h.add(entry)
	})
}

func (h *HistoryStore) add(entry HistoryEntry) error {
	history, err := h.Load()
	if err != nil {
		return err
	}

	history.Entries = append(history.Entries, entry)
	if len(history.Entries) > MaxHistoryEntries {
		history.Entries = history.Entries[len(history.Entries)-MaxHistoryEntries:]
	}

	data, err := json.MarshalIndent(history, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal loop history: %w", err)
	}
	return atomicWriteFile(h.path, data, 0o644)
}

// Record appends an event for st. It is nil-safe on both the store and st.
func (h *HistoryStore) Record(st *LoopState, event, detail string) error {
	if h == nil {
		return nil
	}
	entry := HistoryEntry{Event: event, Detail: detail}
	if st != nil {
		entry.LoopID = st.LoopID
		entry.Driver = st.Driver
		entry.Iteration = st.Iteration
	}
	return h.Add(entry)
}

// Recent returns up to n of the most recent entries, oldest first.
func (h *History) Recent(n int) []HistoryEntry {
	if n <= 0 {
		return nil
	}
	if len(h.Entries) <= n {
		return h.Entries
	}
	return h.Entries[len(h.Entries)-n:]
}

// Delete removes the history document.
func (h *HistoryStore) Delete() error {
	if err := os.Remove(h.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete loop history: %w", err)
	}
	return nil
}
