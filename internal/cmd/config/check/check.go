package check

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/schmitthub/ralph/internal/cmdutil"
	internalconfig "github.com/schmitthub/ralph/internal/config"
	"github.com/schmitthub/ralph/internal/iostreams"
	"github.com/schmitthub/ralph/internal/logger"
	"github.com/schmitthub/ralph/internal/prompt"
	"github.com/spf13/cobra"
)

// CheckOptions holds options for the config check command.
type CheckOptions struct {
	IOStreams *iostreams.IOStreams
	WorkDir   func() (string, error)
}

// NewCmdCheck creates the config check command.
func NewCmdCheck(f *cmdutil.Factory, runF func(context.Context, *CheckOptions) error) *cobra.Command {
	opts := &CheckOptions{
		IOStreams: f.IOStreams,
		WorkDir:   f.WorkDir,
	}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate the ralph configuration",
		Long: `Loads defaults, .opencode/ralph.yaml and RALPH_* environment overrides,
validates the result and prints the effective settings.`,
		Example: `  # Validate configuration in current directory
  ralph config check`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if runF != nil {
				return runF(cmd.Context(), opts)
			}
			return checkRun(cmd.Context(), opts)
		},
	}

	return cmd
}

func checkRun(_ context.Context, opts *CheckOptions) error {
	ios := opts.IOStreams
	cs := ios.ColorScheme()

	wd, err := opts.WorkDir()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	logger.Debug().Str("workdir", wd).Msg("checking configuration")

	path := internalconfig.Path(wd)
	source := path
	if _, err := os.Stat(path); err != nil {
		source = "defaults (no " + internalconfig.FileName + ")"
	}

	cfg, err := internalconfig.Load(wd)
	if err != nil {
		fmt.Fprintf(ios.ErrOut, "%s Configuration is invalid\n", cs.FailureIcon())
		fmt.Fprintf(ios.ErrOut, "  %s\n", err)
		cmdutil.PrintNextSteps(ios,
			"Check YAML syntax (indentation, colons, quotes)",
			"Check RALPH_* environment variables",
			"Run 'ralph config check' again",
		)
		return cmdutil.SilentError
	}

	fmt.Fprintf(ios.ErrOut, "%s Configuration is valid\n", cs.SuccessIcon())
	fmt.Fprintln(ios.ErrOut)
	fmt.Fprintf(ios.ErrOut, "  Source:     %s\n", source)
	fmt.Fprintf(ios.ErrOut, "  Agent:      %s\n", cfg.Agent.Command)
	if cfg.Agent.Model != "" {
		fmt.Fprintf(ios.ErrOut, "  Model:      %s\n", cfg.Agent.Model)
	}
	fmt.Fprintf(ios.ErrOut, "  Max:        %s\n", prompt.MaxLabel(cfg.Loop.MaxIterations))
	fmt.Fprintf(ios.ErrOut, "  Promise:    %s\n", cfg.Loop.CompletionPromise)
	fmt.Fprintf(ios.ErrOut, "  Delay:      %s (after errors %s)\n", cfg.Loop.Delay, cfg.Loop.ErrorDelay)
	fmt.Fprintf(ios.ErrOut, "  Commit:     %t\n", cfg.Loop.AutoCommit)
	fmt.Fprintf(ios.ErrOut, "  Host:       %s\n", cfg.Host.URL)
	if len(cfg.Agent.Sentinels) > 0 {
		fmt.Fprintf(ios.ErrOut, "  Sentinels:  %s\n", strings.Join(cfg.Agent.Sentinels, ", "))
	}

	return nil
}
