// Package init implements "ralph config init".
package init

import (
	"context"
	"errors"
	"fmt"

	"github.com/schmitthub/ralph/internal/cmdutil"
	"github.com/schmitthub/ralph/internal/config"
	"github.com/schmitthub/ralph/internal/iostreams"
	"github.com/schmitthub/ralph/internal/logger"
	"github.com/spf13/cobra"
)

// InitOptions holds options for the config init command.
type InitOptions struct {
	IOStreams *iostreams.IOStreams
	WorkDir   func() (string, error)

	Force bool
}

// NewCmdInit creates the config init command.
func NewCmdInit(f *cmdutil.Factory, runF func(context.Context, *InitOptions) error) *cobra.Command {
	opts := &InitOptions{
		IOStreams: f.IOStreams,
		WorkDir:   f.WorkDir,
	}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default .opencode/ralph.yaml",
		Example: `  # Create the config file in the current project
  ralph config init

  # Replace an existing file with the defaults
  ralph config init --force`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if runF != nil {
				return runF(cmd.Context(), opts)
			}
			return initRun(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "Overwrite an existing config file")

	return cmd
}

func initRun(_ context.Context, opts *InitOptions) error {
	ios := opts.IOStreams
	cs := ios.ColorScheme()

	wd, err := opts.WorkDir()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	path := config.Path(wd)
	if err := config.WriteDefault(path, opts.Force); err != nil {
		if errors.Is(err, config.ErrConfigExists) {
			fmt.Fprintf(ios.ErrOut, "%s %s already exists\n", cs.FailureIcon(), path)
			cmdutil.PrintNextSteps(ios, "Run 'ralph config init --force' to overwrite it")
			return cmdutil.SilentError
		}
		return err
	}

	logger.Debug().Str("path", path).Bool("force", opts.Force).Msg("wrote default config")
	fmt.Fprintf(ios.ErrOut, "%s Wrote %s\n", cs.SuccessIcon(), path)
	cmdutil.PrintNextSteps(ios,
		"Edit the file to change the agent command or loop defaults",
		"Run 'ralph config check' to validate it",
	)
	return nil
}
