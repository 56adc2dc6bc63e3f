// Package ralph is the CLI entry point: it wires the factory, runs the root
// command under a signal-aware context and maps errors to exit codes.
package ralph

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/schmitthub/ralph/internal/cmd/factory"
	"github.com/schmitthub/ralph/internal/cmd/root"
	"github.com/schmitthub/ralph/internal/cmdutil"
	"github.com/schmitthub/ralph/internal/iostreams"
	"github.com/schmitthub/ralph/internal/logger"
	"github.com/schmitthub/ralph/internal/signals"
	"github.com/spf13/cobra"
)

// Build-time variables injected via ldflags
var (
	Version = "dev"
	Commit  = ""
)

const (
	exitOk    = 0
	exitError = 1
)

// Main is the entry point for the ralph CLI.
// It initializes the Factory, creates the root command, and executes it.
func Main() int {
	// Ensure logs are flushed on exit
	defer logger.CloseFileWriter()

	f := factory.New(Version, Commit)

	// First interrupt stops the loop gracefully; a second one exits now.
	ctx, cancel := signals.SetupInterruptContext(context.Background(), func() {
		logger.CloseFileWriter()
		os.Exit(signals.ForceExitCode)
	})
	defer cancel()

	rootCmd := root.NewCmdRoot(f, nil)
	cmd, err := rootCmd.ExecuteContextC(ctx)
	return exitCode(f.IOStreams, cmd, err)
}

// exitCode reports err and returns the process exit status for it.
func exitCode(ios *iostreams.IOStreams, cmd *cobra.Command, err error) int {
	if err == nil {
		return exitOk
	}

	var exitErr *cmdutil.ExitError
	if errors.As(err, &exitErr) {
		// The command already reported the failure.
		return exitErr.Code
	}
	if errors.Is(err, cmdutil.SilentError) {
		return exitError
	}

	cs := ios.ColorScheme()
	fmt.Fprintf(ios.ErrOut, "%s %s\n", cs.FailureIcon(), err)

	var flagErr *cmdutil.FlagError
	if errors.As(err, &flagErr) && cmd != nil {
		cmdutil.PrintHelpHint(ios, cmd.CommandPath())
	}
	return exitError
}
