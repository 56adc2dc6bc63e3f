// Package docs renders the ralph command tree as Markdown pages and man pages.
package docs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

// visible returns the documented subcommands of cmd, sorted by name.
func visible(cmd *cobra.Command) []*cobra.Command {
	var out []*cobra.Command
	for _, c := range cmd.Commands() {
		if !c.IsAvailableCommand() || c.Name() == "help" {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// slug joins the command path with sep, e.g. "ralph-config-init".
func slug(cmd *cobra.Command, sep string) string {
	return strings.ReplaceAll(cmd.CommandPath(), " ", sep)
}

// writeTree calls render for cmd and every visible descendant, writing each
// result to dir/name(cmd).
func writeTree(cmd *cobra.Command, dir string, name func(*cobra.Command) string, render func(*cobra.Command) ([]byte, error)) error {
	for _, c := range visible(cmd) {
		if err := writeTree(c, dir, name, render); err != nil {
			return err
		}
	}

	data, err := render(cmd)
	if err != nil {
		return err
	}
	path := filepath.Join(dir, name(cmd))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
