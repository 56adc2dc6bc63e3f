package root

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/schmitthub/ralph/internal/agent"
	"github.com/schmitthub/ralph/internal/cmdutil"
	"github.com/schmitthub/ralph/internal/config"
	"github.com/schmitthub/ralph/internal/git"
	"github.com/schmitthub/ralph/internal/iostreams"
	"github.com/schmitthub/ralph/internal/logger"
	"github.com/schmitthub/ralph/internal/loop"
	"github.com/schmitthub/ralph/internal/prompt"
	"github.com/schmitthub/ralph/internal/state"
	"github.com/spf13/cobra"
)

// commitExclude keeps the loop's own bookkeeping out of auto-commits.
var commitExclude = []string{
	state.MetadataDir + "/" + state.StateFileName + "*",
	state.MetadataDir + "/" + state.HistoryFileName + "*",
	state.MetadataDir + "/.ralph-*.tmp",
}

// LoopOptions holds options for the root loop command.
type LoopOptions struct {
	IOStreams  *iostreams.IOStreams
	Config     func() (*config.Config, error)
	WorkDir    func() (string, error)
	StateStore func() (state.Store, error)
	History    func() (*state.HistoryStore, error)
	HomeDir    func() (string, error)

	Prompt            string
	MaxIterations     int
	CompletionPromise string
	Model             string
	NoCommit          bool
	NoPlugins         bool
	Debug             bool

	// AutoCommit is resolved from config and --no-commit.
	AutoCommit bool
}

func newLoopOptions(f *cmdutil.Factory) *LoopOptions {
	return &LoopOptions{
		IOStreams:  f.IOStreams,
		Config:     f.Config,
		WorkDir:    f.WorkDir,
		StateStore: f.StateStore,
		History:    f.History,
		HomeDir:    os.UserHomeDir,
	}
}

// resolve joins the prompt and fills every flag the user did not set from
// config.
func (o *LoopOptions) resolve(cmd *cobra.Command, args []string) error {
	o.Prompt = strings.TrimSpace(strings.Join(args, " "))
	if o.Prompt == "" {
		return cmdutil.FlagErrorf("a prompt is required")
	}
	if o.MaxIterations < 0 {
		return cmdutil.FlagErrorf("--max-iterations must be >= 0, got %d", o.MaxIterations)
	}
	if cmd.Flags().Changed("completion-promise") && strings.TrimSpace(o.CompletionPromise) == "" {
		return cmdutil.FlagErrorf("--completion-promise must not be empty")
	}

	cfg, err := o.Config()
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if !flags.Changed("max-iterations") {
		o.MaxIterations = cfg.Loop.MaxIterations
	}
	if !flags.Changed("completion-promise") {
		o.CompletionPromise = cfg.Loop.CompletionPromise
	}
	if !flags.Changed("model") {
		o.Model = cfg.Agent.Model
	}
	o.AutoCommit = cfg.Loop.AutoCommit && !o.NoCommit
	return nil
}

func loopRun(ctx context.Context, opts *LoopOptions) error {
	ios := opts.IOStreams
	cs := ios.ColorScheme()

	cfg, err := opts.Config()
	if err != nil {
		return err
	}
	wd, err := opts.WorkDir()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	store, err := opts.StateStore()
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	history, err := opts.History()
	if err != nil {
		logger.Debug().Err(err).Msg("loop history unavailable")
		history = nil
	}

	runner, err := agent.NewCommandRunner(cfg.Agent.Command, cfg.Agent.GracePeriod)
	if err != nil {
		return fmt.Errorf("agent.command: %w", err)
	}

	var home string
	if opts.HomeDir != nil {
		if home, err = opts.HomeDir(); err != nil {
			logger.Debug().Err(err).Msg("home directory unavailable, skipping global agent config")
		}
	}
	override, err := agent.FilterPlugins(agent.PluginFilter{
		WorkDir:   wd,
		HomeDir:   home,
		ConfigEnv: cfg.Agent.ConfigEnv,
		Own:       cfg.Agent.PluginName,
		StripAll:  opts.NoPlugins,
	})
	if err != nil {
		return err
	}
	defer override.Cleanup()

	var env []string
	if override != nil {
		env = append(env, override.Env)
		logger.Debug().
			Str("source", override.Source).
			Strs("removed", override.Removed).
			Msg("agent plugins filtered")
	}

	var committer loop.Committer
	if opts.AutoCommit {
		committer = git.NewAutoCommitter(wd, commitExclude...)
	}

	// The agent's own output owns the terminal; info logs go to the file.
	logger.SetInteractiveMode(!opts.Debug)
	defer logger.SetInteractiveMode(false)

	result, err := loop.NewRunner(store, history, runner, committer).Run(ctx, loop.Options{
		Prompt:            opts.Prompt,
		MaxIterations:     opts.MaxIterations,
		CompletionPromise: opts.CompletionPromise,
		Model:             opts.Model,
		WorkDir:           wd,
		Env:               env,
		AutoCommit:        opts.AutoCommit,
		Sentinels:         cfg.Agent.Sentinels,
		Delay:             cfg.Loop.Delay,
		ErrorDelay:        cfg.Loop.ErrorDelay,
		Stdout:            ios.Out,
		Stderr:            ios.ErrOut,
		OnLoopStart: func(st *state.LoopState) {
			fmt.Fprintf(ios.ErrOut, "\n%s\n", cs.Title(fmt.Sprintf("ralph iteration %d of %s", st.Iteration, prompt.MaxLabel(st.MaxIterations))))
		},
		OnLoopEnd: func(st *state.LoopState, _ *agent.Result, err error) {
			if err != nil {
				fmt.Fprintf(ios.ErrOut, "%s iteration %d failed: %v (retrying)\n", cs.WarningIcon(), st.Iteration, err)
			}
		},
	})
	if errors.Is(err, state.ErrAlreadyActive) {
		fmt.Fprintf(ios.ErrOut, "%s A ralph loop is already active in %s\n", cs.FailureIcon(), wd)
		cmdutil.PrintNextSteps(ios,
			"Run 'ralph status' to inspect it",
			"Run 'ralph cancel' to stop it",
		)
		return cmdutil.SilentError
	}
	if err != nil {
		return err
	}

	printResult(ios, result)
	if result.ExitCode != 0 {
		return &cmdutil.ExitError{Code: result.ExitCode, Reason: result.ExitReason}
	}
	return nil
}

func printResult(ios *iostreams.IOStreams, res *loop.Result) {
	cs := ios.ColorScheme()
	w := ios.ErrOut

	switch res.Outcome {
	case loop.OutcomeCompleted:
		fmt.Fprintf(w, "\n%s Completed at iteration %d\n", cs.SuccessIcon(), res.Iteration)
	case loop.OutcomeMaxIterations:
		fmt.Fprintf(w, "\n%s Stopped: %s\n", cs.WarningIcon(), res.ExitReason)
	case loop.OutcomeCancelled:
		fmt.Fprintf(w, "\n%s Cancelled at iteration %d: %s\n", cs.WarningIcon(), res.Iteration, res.ExitReason)
	case loop.OutcomeAgentFailed:
		fmt.Fprintf(w, "\n%s %s\n", cs.FailureIcon(), res.ExitReason)
	}
}
