package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// DefaultLockTimeout bounds how long a mutation waits for the store lock.
const DefaultLockTimeout = 10 * time.Second

// FileStore is a Store backed by a JSON file.
type FileStore struct {
	path        string
	lockTimeout time.Duration
	now         func() time.Time
}

// NewFileStore creates a store for the record at path.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path:        path,
		lockTimeout: DefaultLockTimeout,
		now:         time.Now,
	}
}

// DefaultFileStore returns the store for the working directory's record.
func DefaultFileStore(workDir string) *FileStore {
	return NewFileStore(StatePath(workDir))
}

// Path returns the record path.
func (s *FileStore) Path() string {
	return s.path
}

// Create implements Store.
func (s *FileStore) Create(st *LoopState) error {
	if st == nil {
		return errors.New("state: nil loop state")
	}
	return s.withLock(func() error {
		existing, err := s.read()
		if err != nil {
			return err
		}
		if existing != nil && existing.Active {
			return ErrAlreadyActive
		}
		st.UpdatedAt = s.now()
		return s.write(st)
	})
}

// Load implements Store.
func (s *FileStore) Load() (*LoopState, error) {
	return s.read()
}

// Save implements Store.
func (s *FileStore) Save(st *LoopState) error {
	if st == nil {
		return errors.New("state: nil loop state")
	}
	return s.withLock(func() error {
		st.UpdatedAt = s.now()
		return s.write(st)
	})
}

// Clear implements Store.
func (s *FileStore) Clear() error {
	if _, err := os.Stat(filepath.Dir(s.path)); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return s.withLock(s.remove)
}

// ClearIf implements Store.
func (s *FileStore) ClearIf(loopID string) (bool, error) {
	cleared := false
	err := s.withLock(func() error {
		existing, err := s.read()
		if err != nil {
			return err
		}
		if existing == nil || existing.LoopID != loopID {
			return nil
		}
		if err := s.remove(); err != nil {
			return err
		}
		cleared = true
		return nil
	})
	return cleared, err
}

// Update implements Store.
func (s *FileStore) Update(fn func(st *LoopState) error) (*LoopState, error) {
	var updated *LoopState
	err := s.withLock(func() error {
		st, err := s.read()
		if err != nil {
			return err
		}
		if st == nil || !st.Active {
			return ErrNoActiveLoop
		}
		if err := fn(st); err != nil {
			return err
		}
		st.UpdatedAt = s.now()
		if err := s.write(st); err != nil {
			return err
		}
		updated = st
		return nil
	})
	return updated, err
}

// read returns nil for a missing or corrupt record. Only unexpected I/O
// errors are returned.
func (s *FileStore) read() (*LoopState, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading loop state: %w", err)
	}

	var st LoopState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, nil
	}
	return &st, nil
}

func (s *FileStore) write(st *LoopState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding loop state: %w", err)
	}
	return atomicWriteFile(s.path, append(data, '\n'), 0o644)
}

func (s *FileStore) remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing loop state: %w", err)
	}
	return nil
}

// withLock serializes record mutations across processes.
func (s *FileStore) withLock(fn func() error) error {
	return withFileLock(s.path, s.lockTimeout, fn)
}

// withFileLock acquires an advisory lock on path+".lock" before running fn.
func withFileLock(path string, timeout time.Duration, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	fl := flock.New(path + ".lock")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquiring state lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("timed out acquiring state lock for %s", path)
	}
	defer func() { _ = fl.Unlock() }()

	return fn()
}

// atomicWriteFile writes data using temp-file + fsync + rename so a
// concurrent reader never observes a partial record.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory for %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(dir, ".ralph-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file for %s: %w", path, err)
	}

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing temp file for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("syncing temp file for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file for %s: %w", path, err)
	}
	if err := os.Chmod(tmp.Name(), perm); err != nil {
		return fmt.Errorf("setting permissions on temp file for %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming temp file to %s: %w", path, err)
	}

	success = true
	return nil
}
