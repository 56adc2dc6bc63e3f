package status

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/schmitthub/ralph/internal/cmdutil"
	"github.com/schmitthub/ralph/internal/iostreams/iostreamstest"
	"github.com/schmitthub/ralph/internal/state"
	"github.com/schmitthub/ralph/internal/state/statetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

var fixedNow = time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)

func activeLoop() *state.LoopState {
	return &state.LoopState{
		Active:            true,
		Iteration:         3,
		MaxIterations:     10,
		CompletionPromise: "DONE",
		Prompt:            "Fix the flaky tests\nthen update the changelog",
		StartedAt:         fixedNow.Add(-5 * time.Minute),
		LoopID:            "loop-1",
		Driver:            state.DriverCLI,
	}
}

func testOptions(t *testing.T, st *state.LoopState) (*iostreamstest.TestIOStreams, *StatusOptions, *state.HistoryStore) {
	t.Helper()
	dir := t.TempDir()
	tio := iostreamstest.New()
	history := state.DefaultHistoryStore(dir)
	store := statetest.NewMemoryStore(st)
	return tio, &StatusOptions{
		IOStreams:  tio.IOStreams,
		WorkDir:    func() (string, error) { return dir, nil },
		StateStore: func() (state.Store, error) { return store, nil },
		History:    func() (*state.HistoryStore, error) { return history, nil },
		Limit:      DefaultHistoryLimit,
		now:        func() time.Time { return fixedNow },
	}, history
}

func TestNewCmdStatus_Flags(t *testing.T) {
	tio := iostreamstest.New()
	f := &cmdutil.Factory{IOStreams: tio.IOStreams}

	var gotOpts *StatusOptions
	cmd := NewCmdStatus(f, func(_ context.Context, opts *StatusOptions) error {
		gotOpts = opts
		return nil
	})

	cmd.SetArgs([]string{"--json", "--history", "2", "--prompt"})
	require.NoError(t, cmd.Execute())
	require.NotNil(t, gotOpts)
	assert.True(t, gotOpts.JSON)
	assert.False(t, gotOpts.Watch)
	assert.Equal(t, 2, gotOpts.Limit)
	assert.True(t, gotOpts.ShowPrompt)
}

func TestNewCmdStatus_InvalidFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "json and yaml", args: []string{"--json", "--yaml"}},
		{name: "json and watch", args: []string{"--json", "--watch"}},
		{name: "negative history", args: []string{"--history", "-1"}},
		{name: "positional", args: []string{"extra"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tio := iostreamstest.New()
			f := &cmdutil.Factory{IOStreams: tio.IOStreams}
			cmd := NewCmdStatus(f, func(context.Context, *StatusOptions) error {
				t.Fatal("runF should not be called")
				return nil
			})
			cmd.SetArgs(tt.args)
			cmd.SetOut(tio.ErrBuf)
			cmd.SetErr(tio.ErrBuf)
			assert.Error(t, cmd.Execute())
		})
	}
}

func TestStatusRun_NoLoop(t *testing.T) {
	tio, opts, _ := testOptions(t, nil)

	require.NoError(t, statusRun(context.Background(), opts))
	assert.Equal(t, "No active ralph loop.\n", tio.OutBuf.String())
}

func TestStatusRun_InactiveRecordIsNoLoop(t *testing.T) {
	st := activeLoop()
	st.Active = false
	tio, opts, _ := testOptions(t, st)

	require.NoError(t, statusRun(context.Background(), opts))
	assert.Equal(t, "No active ralph loop.\n", tio.OutBuf.String())
}

func TestStatusRun_Human(t *testing.T) {
	tio, opts, history := testOptions(t, activeLoop())
	require.NoError(t, history.Add(state.HistoryEntry{
		Timestamp: fixedNow.Add(-5 * time.Minute),
		Event:     state.EventStarted,
		Iteration: 1,
	}))
	require.NoError(t, history.Add(state.HistoryEntry{
		Timestamp: fixedNow.Add(-time.Minute),
		Event:     state.EventError,
		Iteration: 2,
		Detail:    "spawn failed",
	}))

	require.NoError(t, statusRun(context.Background(), opts))

	out := tio.OutBuf.String()
	assert.Contains(t, out, "Active ralph loop")
	assert.Contains(t, out, "Iteration:  3 of 10")
	assert.Contains(t, out, "Promise:    DONE")
	assert.Contains(t, out, "Running:    5 minutes")
	assert.Contains(t, out, "Task:       Fix the flaky tests ...")
	assert.Contains(t, out, "Recent history")
	assert.Contains(t, out, "started")
	assert.Contains(t, out, "spawn failed")
	assert.NotContains(t, out, "update the changelog")
}

func TestStatusRun_ShowPrompt(t *testing.T) {
	tio, opts, _ := testOptions(t, activeLoop())
	opts.ShowPrompt = true

	require.NoError(t, statusRun(context.Background(), opts))
	assert.Contains(t, tio.OutBuf.String(), "then update the changelog")
}

func TestStatusRun_JSON(t *testing.T) {
	tio, opts, history := testOptions(t, activeLoop())
	opts.JSON = true
	require.NoError(t, history.Record(activeLoop(), state.EventIteration, ""))

	require.NoError(t, statusRun(context.Background(), opts))

	var got statusView
	require.NoError(t, json.Unmarshal([]byte(tio.OutBuf.String()), &got))
	assert.True(t, got.Active)
	require.NotNil(t, got.Loop)
	assert.Equal(t, 3, got.Loop.Iteration)
	assert.Equal(t, "loop-1", got.Loop.LoopID)
	assert.Empty(t, got.Loop.Prompt)
	require.Len(t, got.History, 1)
	assert.Equal(t, state.EventIteration, got.History[0].Event)
}

func TestStatusRun_JSONNoLoop(t *testing.T) {
	tio, opts, _ := testOptions(t, nil)
	opts.JSON = true

	require.NoError(t, statusRun(context.Background(), opts))
	assert.JSONEq(t, `{"active": false, "history": []}`, tio.OutBuf.String())
}

func TestStatusRun_YAML(t *testing.T) {
	tio, opts, _ := testOptions(t, activeLoop())
	opts.YAML = true

	require.NoError(t, statusRun(context.Background(), opts))

	var got map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(tio.OutBuf.String()), &got))
	assert.Equal(t, true, got["active"])
	loop, ok := got["loop"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, 10, loop["maxIterations"])
	assert.Equal(t, "DONE", loop["completionPromise"])
}

func TestStatusRun_HistoryLimit(t *testing.T) {
	tio, opts, history := testOptions(t, nil)
	opts.Limit = 1
	opts.JSON = true
	for i := 1; i <= 3; i++ {
		require.NoError(t, history.Add(state.HistoryEntry{Event: state.EventIteration, Iteration: i}))
	}

	require.NoError(t, statusRun(context.Background(), opts))

	var got statusView
	require.NoError(t, json.Unmarshal([]byte(tio.OutBuf.String()), &got))
	require.Len(t, got.History, 1)
	assert.Equal(t, 3, got.History[0].Iteration)
}

func TestStatusRun_HistoryZero(t *testing.T) {
	tio, opts, history := testOptions(t, nil)
	opts.Limit = 0
	opts.JSON = true
	require.NoError(t, history.Add(state.HistoryEntry{Event: state.EventStarted, Iteration: 1}))

	require.NoError(t, statusRun(context.Background(), opts))

	assert.Equal(t, "{\n  \"active\": false,\n  \"history\": []\n}\n", tio.OutBuf.String())
}

func TestStatusRun_StoreError(t *testing.T) {
	_, opts, _ := testOptions(t, nil)
	opts.StateStore = func() (state.Store, error) { return nil, errors.New("boom") }

	err := statusRun(context.Background(), opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestWatchRun_RerendersOnChange(t *testing.T) {
	tio, opts, _ := testOptions(t, nil)
	dir, _ := opts.WorkDir()
	store := state.DefaultFileStore(dir)
	opts.StateStore = func() (state.Store, error) { return store, nil }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- watchRun(ctx, opts) }()

	require.Eventually(t, func() bool {
		return tio.OutBuf.String() == "No active ralph loop.\n"
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, store.Create(activeLoop()))

	assert.Eventually(t, func() bool {
		return strings.Contains(tio.OutBuf.String(), "Active ralph loop")
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watchRun did not return after cancel")
	}
}
