// Package state persists the record of an in-progress ralph loop.
//
// A working directory has at most one loop record, stored as JSON at
// .opencode/ralph-loop.json. Both loop drivers go through the Store
// interface; FileStore serializes mutations with an advisory file lock so
// that Create acts as an exclusive-create across processes.
package state

import (
	"errors"
	"path/filepath"
	"time"
)

const (
	// MetadataDir is the tooling-metadata folder under the working directory.
	MetadataDir = ".opencode"
	// StateFileName is the loop record file name.
	StateFileName = "ralph-loop.json"
	// HistoryFileName is the loop history file name.
	HistoryFileName = "ralph-history.json"
)

var (
	// ErrAlreadyActive is returned when a loop is already active in the working directory.
	ErrAlreadyActive = errors.New("a ralph loop is already active")

	// ErrNoActiveLoop is returned by Update when there is no active loop.
	ErrNoActiveLoop = errors.New("no active ralph loop")
)

// Driver identifies which loop driver owns a record.
type Driver string

const (
	// DriverCLI is the external, process-spawning driver.
	DriverCLI Driver = "cli"
	// DriverHost is the in-host, event-reactive driver.
	DriverHost Driver = "host"
)

// LoopState is the persisted record of a loop.
type LoopState struct {
	Active            bool      `json:"active"`
	Iteration         int       `json:"iteration"`
	MaxIterations     int       `json:"maxIterations"`
	CompletionPromise string    `json:"completionPromise"`
	Prompt            string    `json:"prompt"`
	StartedAt         time.Time `json:"startedAt"`
	Model             string    `json:"model,omitempty"`
	SessionID         string    `json:"sessionId,omitempty"`
	LastOutput        string    `json:"lastOutput,omitempty"`

	LoopID    string    `json:"loopId,omitempty"`
	Driver    Driver    `json:"driver,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// Clone returns a copy of s.
func (s *LoopState) Clone() *LoopState {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}

// Unlimited reports whether the loop has no iteration cap.
func (s *LoopState) Unlimited() bool {
	return s.MaxIterations <= 0
}

// Exceeded reports whether iteration n is past the iteration cap.
func (s *LoopState) Exceeded(n int) bool {
	return s.MaxIterations > 0 && n > s.MaxIterations
}

// Store is the persistence boundary for the loop record.
type Store interface {
	// Create writes a new record. It fails with ErrAlreadyActive if an
	// active record exists and leaves that record untouched.
	Create(st *LoopState) error

	// Load returns the current record, or nil if it is absent or unparsable.
	Load() (*LoopState, error)

	// Save overwrites the record atomically.
	Save(st *LoopState) error

	// Clear removes the record. Clearing an absent record is not an error.
	Clear() error

	// ClearIf removes the record only if it belongs to loopID.
	ClearIf(loopID string) (bool, error)

	// Update applies fn to the active record under the store lock and
	// persists the result. It returns ErrNoActiveLoop if there is none.
	Update(fn func(st *LoopState) error) (*LoopState, error)
}

// StatePath returns the loop record path for workDir.
func StatePath(workDir string) string {
	return filepath.Join(workDir, MetadataDir, StateFileName)
}

// HistoryPath returns the loop history path for workDir.
func HistoryPath(workDir string) string {
	return filepath.Join(workDir, MetadataDir, HistoryFileName)
}

// CancelActive clears the active record, if any, and returns it. The clear is
// guarded by the record's loop ID so a loop started concurrently survives.
// It returns nil when there was nothing to cancel.
func CancelActive(s Store) (*LoopState, error) {
	st, err := s.Load()
	if err != nil {
		return nil, err
	}
	if st == nil || !st.Active {
		return nil, nil
	}
	cleared, err := s.ClearIf(st.LoopID)
	if err != nil {
		return nil, err
	}
	if !cleared {
		return nil, nil
	}
	return st, nil
}
