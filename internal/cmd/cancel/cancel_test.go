package cancel

import (
	"context"
	"testing"

	"github.com/schmitthub/ralph/internal/cmdutil"
	"github.com/schmitthub/ralph/internal/iostreams/iostreamstest"
	"github.com/schmitthub/ralph/internal/state"
	"github.com/schmitthub/ralph/internal/state/statetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCmdCancel(t *testing.T) {
	tio := iostreamstest.New()
	f := &cmdutil.Factory{IOStreams: tio.IOStreams}

	called := false
	cmd := NewCmdCancel(f, func(_ context.Context, opts *CancelOptions) error {
		called = true
		assert.Equal(t, tio.IOStreams, opts.IOStreams)
		return nil
	})
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())
	assert.True(t, called)
}

func TestCancelRun(t *testing.T) {
	tests := []struct {
		name       string
		st         *state.LoopState
		wantOut    string
		wantRecord bool
	}{
		{
			name:    "no loop",
			wantOut: "No active ralph loop.\n",
		},
		{
			name:    "inactive record",
			st:      &state.LoopState{Active: false, Iteration: 4, LoopID: "old"},
			wantOut: "No active ralph loop.\n",
		},
		{
			name:       "active loop",
			st:         &state.LoopState{Active: true, Iteration: 4, LoopID: "loop-1", Driver: state.DriverCLI},
			wantOut:    "✓ Cancelled ralph loop at iteration 4.\n",
			wantRecord: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tio := iostreamstest.New()
			store := statetest.NewMemoryStore(tt.st)
			history := state.DefaultHistoryStore(t.TempDir())
			opts := &CancelOptions{
				IOStreams:  tio.IOStreams,
				StateStore: func() (state.Store, error) { return store, nil },
				History:    func() (*state.HistoryStore, error) { return history, nil },
			}

			require.NoError(t, cancelRun(context.Background(), opts))
			assert.Equal(t, tt.wantOut, tio.OutBuf.String())

			h, err := history.Load()
			require.NoError(t, err)
			if tt.wantRecord {
				assert.Nil(t, store.Current())
				require.Len(t, h.Entries, 1)
				assert.Equal(t, state.EventCancelled, h.Entries[0].Event)
				assert.Equal(t, 4, h.Entries[0].Iteration)
			} else {
				assert.Empty(t, h.Entries)
			}
		})
	}
}
