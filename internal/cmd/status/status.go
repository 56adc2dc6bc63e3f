// Package status implements "ralph status".
package status

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/go-units"
	"github.com/fsnotify/fsnotify"
	"github.com/schmitthub/ralph/internal/cmdutil"
	"github.com/schmitthub/ralph/internal/hostloop"
	"github.com/schmitthub/ralph/internal/iostreams"
	"github.com/schmitthub/ralph/internal/logger"
	"github.com/schmitthub/ralph/internal/state"
	"github.com/spf13/cobra"
)

// DefaultHistoryLimit is how many history entries are shown by default.
const DefaultHistoryLimit = 5

// StatusOptions holds options for the status command.
type StatusOptions struct {
	IOStreams  *iostreams.IOStreams
	WorkDir    func() (string, error)
	StateStore func() (state.Store, error)
	History    func() (*state.HistoryStore, error)

	JSON       bool
	YAML       bool
	Watch      bool
	Limit      int
	ShowPrompt bool

	now func() time.Time
}

// NewCmdStatus creates the status command.
func NewCmdStatus(f *cmdutil.Factory, runF func(context.Context, *StatusOptions) error) *cobra.Command {
	opts := &StatusOptions{
		IOStreams:  f.IOStreams,
		WorkDir:    f.WorkDir,
		StateStore: f.StateStore,
		History:    f.History,
		now:        time.Now,
	}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the active ralph loop",
		Long: `Display the loop record of the current directory and its recent history.

The record is shared by both drivers, so this shows loops started from the
command line as well as loops started inside an OpenCode session.`,
		Example: `  # Show the active loop
  ralph status

  # Output as JSON
  ralph status --json

  # Re-render whenever the loop record changes
  ralph status --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Limit < 0 {
				return cmdutil.FlagErrorf("--history must be >= 0, got %d", opts.Limit)
			}
			if runF != nil {
				return runF(cmd.Context(), opts)
			}
			if opts.Watch {
				return watchRun(cmd.Context(), opts)
			}
			return statusRun(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&opts.YAML, "yaml", false, "Output as YAML")
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "Re-render when the loop record changes")
	cmd.Flags().IntVar(&opts.Limit, "history", DefaultHistoryLimit, "Number of history entries to show (0 hides history)")
	cmd.Flags().BoolVar(&opts.ShowPrompt, "prompt", false, "Include the full task prompt")
	cmd.MarkFlagsMutuallyExclusive("json", "yaml", "watch")

	return cmd
}

// loopView is the machine-readable form of the loop record.
type loopView struct {
	Iteration         int          `json:"iteration" yaml:"iteration"`
	MaxIterations     int          `json:"maxIterations" yaml:"maxIterations"`
	CompletionPromise string       `json:"completionPromise" yaml:"completionPromise"`
	Prompt            string       `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	StartedAt         time.Time    `json:"startedAt" yaml:"startedAt"`
	Model             string       `json:"model,omitempty" yaml:"model,omitempty"`
	SessionID         string       `json:"sessionId,omitempty" yaml:"sessionId,omitempty"`
	LoopID            string       `json:"loopId,omitempty" yaml:"loopId,omitempty"`
	Driver            state.Driver `json:"driver,omitempty" yaml:"driver,omitempty"`
	Completed         bool         `json:"completionSeen" yaml:"completionSeen"`
}

type historyView struct {
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
	Event     string    `json:"event" yaml:"event"`
	Iteration int       `json:"iteration" yaml:"iteration"`
	Driver    string    `json:"driver,omitempty" yaml:"driver,omitempty"`
	Detail    string    `json:"detail,omitempty" yaml:"detail,omitempty"`
}

type statusView struct {
	Active  bool          `json:"active" yaml:"active"`
	Loop    *loopView     `json:"loop,omitempty" yaml:"loop,omitempty"`
	History []historyView `json:"history" yaml:"history"`
}

func snapshot(opts *StatusOptions) (*state.LoopState, []state.HistoryEntry, error) {
	store, err := opts.StateStore()
	if err != nil {
		return nil, nil, fmt.Errorf("opening state store: %w", err)
	}
	st, err := store.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading loop state: %w", err)
	}
	if st != nil && !st.Active {
		st = nil
	}

	var recent []state.HistoryEntry
	if hs, err := opts.History(); err != nil {
		logger.Debug().Err(err).Msg("history unavailable")
	} else if h, err := hs.Load(); err != nil {
		logger.Debug().Err(err).Msg("failed to load history")
	} else {
		recent = h.Recent(opts.Limit)
	}
	return st, recent, nil
}

func statusRun(_ context.Context, opts *StatusOptions) error {
	st, recent, err := snapshot(opts)
	if err != nil {
		return err
	}

	switch {
	case opts.JSON:
		return cmdutil.OutputJSON(opts.IOStreams, buildView(st, recent, opts.ShowPrompt))
	case opts.YAML:
		return cmdutil.OutputYAML(opts.IOStreams, buildView(st, recent, opts.ShowPrompt))
	}

	render(opts, st, recent)
	return nil
}

func buildView(st *state.LoopState, recent []state.HistoryEntry, withPrompt bool) statusView {
	view := statusView{History: make([]historyView, 0, len(recent))}
	if st != nil {
		view.Active = true
		view.Loop = &loopView{
			Iteration:         st.Iteration,
			MaxIterations:     st.MaxIterations,
			CompletionPromise: st.CompletionPromise,
			StartedAt:         st.StartedAt,
			Model:             st.Model,
			SessionID:         st.SessionID,
			LoopID:            st.LoopID,
			Driver:            st.Driver,
			Completed:         st.LastOutput != "",
		}
		if withPrompt {
			view.Loop.Prompt = st.Prompt
		}
	}
	for _, e := range recent {
		view.History = append(view.History, historyView{
			Timestamp: e.Timestamp,
			Event:     e.Event,
			Iteration: e.Iteration,
			Driver:    string(e.Driver),
			Detail:    e.Detail,
		})
	}
	return view
}

func render(opts *StatusOptions, st *state.LoopState, recent []state.HistoryEntry) {
	ios := opts.IOStreams
	cs := ios.ColorScheme()
	now := opts.now()

	if st == nil {
		fmt.Fprintln(ios.Out, hostloop.NoActiveLoop)
	} else {
		fmt.Fprintln(ios.Out, cs.Bold(hostloop.Describe(st, now)))
		if opts.ShowPrompt {
			fmt.Fprintf(ios.Out, "\n%s\n", st.Prompt)
		}
	}

	if len(recent) == 0 {
		return
	}
	fmt.Fprintf(ios.Out, "\n%s\n", cs.Title("Recent history"))
	for _, e := range recent {
		line := fmt.Sprintf("  %-14s iteration %-4d %s ago", e.Event, e.Iteration, units.HumanDuration(now.Sub(e.Timestamp)))
		if e.Detail != "" {
			line += "  " + cs.Muted(e.Detail)
		}
		fmt.Fprintln(ios.Out, eventStyle(cs, e.Event, line))
	}
}

func eventStyle(cs *iostreams.ColorScheme, event, line string) string {
	switch event {
	case state.EventCompleted:
		return cs.Green(line)
	case state.EventAgentFailed, state.EventError:
		return cs.Red(line)
	case state.EventCancelled, state.EventMaxIterations:
		return cs.Yellow(line)
	default:
		return line
	}
}

// watchRun renders once, then again on every change to the metadata dir
// until ctx is cancelled.
func watchRun(ctx context.Context, opts *StatusOptions) error {
	wd, err := opts.WorkDir()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	dir := filepath.Join(wd, state.MetadataDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	if err := statusRun(ctx, opts); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			fmt.Fprintln(opts.IOStreams.Out)
			if err := statusRun(ctx, opts); err != nil {
				logger.Warn().Err(err).Msg("status refresh failed")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("file watcher error")
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return false
	}
	switch filepath.Base(ev.Name) {
	case state.StateFileName, state.HistoryFileName:
		return true
	}
	return false
}
