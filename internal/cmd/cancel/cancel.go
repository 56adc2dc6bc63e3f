// Package cancel implements "ralph cancel".
package cancel

import (
	"context"
	"fmt"

	"github.com/schmitthub/ralph/internal/cmdutil"
	"github.com/schmitthub/ralph/internal/hostloop"
	"github.com/schmitthub/ralph/internal/iostreams"
	"github.com/schmitthub/ralph/internal/logger"
	"github.com/schmitthub/ralph/internal/state"
	"github.com/spf13/cobra"
)

// CancelOptions holds options for the cancel command.
type CancelOptions struct {
	IOStreams  *iostreams.IOStreams
	StateStore func() (state.Store, error)
	History    func() (*state.HistoryStore, error)
}

// NewCmdCancel creates the cancel command.
func NewCmdCancel(f *cmdutil.Factory, runF func(context.Context, *CancelOptions) error) *cobra.Command {
	opts := &CancelOptions{
		IOStreams:  f.IOStreams,
		StateStore: f.StateStore,
		History:    f.History,
	}

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the active ralph loop",
		Long: `Clears the loop record of the current directory.

A running "ralph" process notices at its next iteration and exits; an
OpenCode session stops continuing at its next idle event.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if runF != nil {
				return runF(cmd.Context(), opts)
			}
			return cancelRun(cmd.Context(), opts)
		},
	}

	return cmd
}

func cancelRun(_ context.Context, opts *CancelOptions) error {
	ios := opts.IOStreams

	store, err := opts.StateStore()
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}

	st, err := state.CancelActive(store)
	if err != nil {
		return fmt.Errorf("cancelling loop: %w", err)
	}
	if st == nil {
		fmt.Fprintln(ios.Out, hostloop.NoActiveLoop)
		return nil
	}

	if hs, err := opts.History(); err == nil {
		if err := hs.Record(st, state.EventCancelled, "cancelled from the command line"); err != nil {
			logger.Debug().Err(err).Msg("failed to record history")
		}
	}
	logger.Info().Str("loop_id", st.LoopID).Int("iteration", st.Iteration).Msg("ralph loop cancelled")

	fmt.Fprintf(ios.Out, "%s %s\n", ios.ColorScheme().SuccessIcon(), hostloop.CancelledMessage(st))
	return nil
}
