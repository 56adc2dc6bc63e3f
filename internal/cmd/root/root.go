package root

import (
	"context"

	"github.com/schmitthub/ralph/internal/cmd/cancel"
	"github.com/schmitthub/ralph/internal/cmd/config"
	"github.com/schmitthub/ralph/internal/cmd/serve"
	"github.com/schmitthub/ralph/internal/cmd/status"
	versioncmd "github.com/schmitthub/ralph/internal/cmd/version"
	"github.com/schmitthub/ralph/internal/cmdutil"
	internalconfig "github.com/schmitthub/ralph/internal/config"
	"github.com/schmitthub/ralph/internal/logger"
	"github.com/spf13/cobra"
)

// NewCmdRoot creates the root command for the ralph CLI. Running it with a
// prompt drives a loop by spawning the agent once per iteration; runF
// replaces that loop in tests.
func NewCmdRoot(f *cmdutil.Factory, runF func(context.Context, *LoopOptions) error) *cobra.Command {
	opts := newLoopOptions(f)

	cmd := &cobra.Command{
		Use:   "ralph [flags] <prompt...>",
		Short: "Repeat a prompt until the agent says it is done",
		Long: `Ralph runs a coding agent on the same task over and over. Each iteration
re-sends the prompt with the iteration number; the loop ends when the agent
outputs <promise>COMPLETE</promise> (or the configured completion promise),
when the iteration cap is reached, or when the agent fails.

The prompt is every positional argument joined with spaces. Quote it when it
starts with the name of a subcommand.

Quick start:
  ralph "Fix the failing tests"             # Loop until done
  ralph --max-iterations 10 Port the parser  # Stop after 10 iterations
  ralph status                               # Show the active loop
  ralph cancel                               # Stop it from another terminal
  ralph serve                                # Drive loops inside OpenCode`,
		Args:          cobra.ArbitraryArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       f.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			initializeLogger(opts.Debug, opts.Config)

			logger.Debug().
				Str("version", f.Version).
				Bool("debug", opts.Debug).
				Msg("ralph starting")

			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.resolve(cmd, args); err != nil {
				return err
			}
			if runF != nil {
				return runF(cmd.Context(), opts)
			}
			return loopRun(cmd.Context(), opts)
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Debug, "debug", "D", false, "Enable debug logging")

	// Loop flags
	cmd.Flags().IntVar(&opts.MaxIterations, "max-iterations", 0, "Stop after this many iterations (0 = unlimited)")
	cmd.Flags().StringVar(&opts.CompletionPromise, "completion-promise", internalconfig.DefaultCompletionPromise, "Text the agent outputs inside <promise> tags when done")
	cmd.Flags().StringVar(&opts.Model, "model", "", "Model passed to the agent (provider/model)")
	cmd.Flags().BoolVar(&opts.NoCommit, "no-commit", false, "Do not auto-commit between iterations")
	cmd.Flags().BoolVar(&opts.NoPlugins, "no-plugins", false, "Run the agent with every plugin disabled")
	cmd.Flags().SortFlags = false

	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return cmdutil.FlagErrorWrap(err)
	})
	cmd.SetVersionTemplate(versioncmd.Format(f.Version, f.Commit))

	cmd.AddCommand(status.NewCmdStatus(f, nil))
	cmd.AddCommand(cancel.NewCmdCancel(f, nil))
	cmd.AddCommand(serve.NewCmdServe(f, nil))
	cmd.AddCommand(config.NewCmdConfig(f))
	cmd.AddCommand(versioncmd.NewCmdVersion(f))

	return cmd
}

// initializeLogger sets up the logger with file logging if possible.
// Falls back to console-only logging on any errors.
func initializeLogger(debug bool, cfgFn func() (*internalconfig.Config, error)) {
	if cfgFn == nil {
		logger.Init(debug)
		return
	}
	cfg, err := cfgFn()
	if err != nil {
		// Fall back to console-only logging
		logger.Init(debug)
		logger.Warn().Err(err).Msg("file logging unavailable: failed to load config")
		return
	}

	logsDir, err := internalconfig.LogsDir()
	if err != nil {
		logger.Init(debug)
		logger.Warn().Err(err).Msg("file logging unavailable: failed to get logs directory")
		return
	}

	if err := logger.InitWithFile(debug, logsDir, cfg.Logging.Logger()); err != nil {
		// Fall back to console-only on error
		logger.Init(debug)
		logger.Warn().Err(err).Msg("file logging unavailable: failed to initialize file writer")
	}
}
