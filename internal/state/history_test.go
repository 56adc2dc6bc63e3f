package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryStore_AddAndLoad(t *testing.T) {
	h := DefaultHistoryStore(t.TempDir())

	st := &LoopState{LoopID: "loop-1", Driver: DriverCLI, Iteration: 2}
	require.NoError(t, h.Record(st, EventIteration, ""))
	require.NoError(t, h.Record(st, EventCompleted, "promise matched"))

	history, err := h.Load()
	require.NoError(t, err)
	require.Len(t, history.Entries, 2)
	assert.Equal(t, EventIteration, history.Entries[0].Event)
	assert.Equal(t, EventCompleted, history.Entries[1].Event)
	assert.Equal(t, "loop-1", history.Entries[1].LoopID)
	assert.Equal(t, DriverCLI, history.Entries[1].Driver)
	assert.Equal(t, 2, history.Entries[1].Iteration)
	assert.Equal(t, "promise matched", history.Entries[1].Detail)
	assert.False(t, history.Entries[1].Timestamp.IsZero())
}

func TestHistoryStore_Trims(t *testing.T) {
	h := DefaultHistoryStore(t.TempDir())

	for i := 1; i <= MaxHistoryEntries+10; i++ {
		require.NoError(t, h.Add(HistoryEntry{Event: EventIteration, Iteration: i}))
	}

	history, err := h.Load()
	require.NoError(t, err)
	require.Len(t, history.Entries, MaxHistoryEntries)
	assert.Equal(t, 11, history.Entries[0].Iteration)
	assert.Equal(t, MaxHistoryEntries+10, history.Entries[len(history.Entries)-1].Iteration)
}

func TestHistoryStore_LoadMissingOrCorrupt(t *testing.T) {
	dir := t.TempDir()
	h := DefaultHistoryStore(dir)

	history, err := h.Load()
	require.NoError(t, err)
	assert.Empty(t, history.Entries)

	path := HistoryPath(dir)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("nope"), 0o644))

	history, err = h.Load()
	require.NoError(t, err)
	assert.Empty(t, history.Entries)
}

func TestHistoryStore_NilSafe(t *testing.T) {
	var h *HistoryStore
	assert.NoError(t, h.Record(nil, EventStarted, ""))
}

func TestHistory_Recent(t *testing.T) {
	history := &History{}
	for i := 0; i < 5; i++ {
		history.Entries = append(history.Entries, HistoryEntry{Detail: fmt.Sprint(i)})
	}

	recent := history.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "3", recent[0].Detail)
	assert.Equal(t, "4", recent[1].Detail)

	assert.Empty(t, history.Recent(0))
	assert.Empty(t, history.Recent(-1))
	assert.Len(t, history.Recent(10), 5)
}

func TestHistoryStore_ConcurrentAdds(t *testing.T) {
	path := HistoryPath(t.TempDir())

	const writers, perWriter = 4, 5
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			h := NewHistoryStore(path)
			for i := 0; i < perWriter; i++ {
				errs <- h.Add(HistoryEntry{Event: EventIteration, Detail: fmt.Sprintf("%d-%d", w, i)})
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	history, err := NewHistoryStore(path).Load()
	require.NoError(t, err)
	assert.Len(t, history.Entries, writers*perWriter)

	_, err = os.Stat(path + ".lock")
	assert.NoError(t, err)
}

func TestHistoryStore_Delete(t *testing.T) {
	h := DefaultHistoryStore(t.TempDir())
	require.NoError(t, h.Add(HistoryEntry{Event: EventStarted}))
	require.NoError(t, h.Delete())
	require.NoError(t, h.Delete())

	history, err := h.Load()
	require.NoError(t, err)
	assert.Empty(t, history.Entries)
}
