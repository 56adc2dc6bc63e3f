package config

import (
	"github.com/schmitthub/ralph/internal/cmd/config/check"
	initcmd "github.com/schmitthub/ralph/internal/cmd/config/init"
	"github.com/schmitthub/ralph/internal/cmdutil"
	"github.com/spf13/cobra"
)

// NewCmdConfig creates the config command.
func NewCmdConfig(f *cmdutil.Factory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management commands",
		Long:  `Commands for creating and validating the project's .opencode/ralph.yaml.`,
	}

	cmd.AddCommand(initcmd.NewCmdInit(f, nil))
	cmd.AddCommand(check.NewCmdCheck(f, nil))

	return cmd
}
