package docs

import (
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTree() *cobra.Command {
	root := &cobra.Command{
		Use:   "ralph [flags] <prompt...>",
		Short: "Repeat a prompt until the agent says it is done",
		Long:  "Ralph runs a coding agent on the same task over and over.",
		RunE:  func(*cobra.Command, []string) error { return nil },
	}
	root.PersistentFlags().BoolP("debug", "D", false, "Enable debug logging")
	root.Flags().Int("max-iterations", 0, "Stop after this many iterations")
	root.Flags().String("completion-promise", "COMPLETE", "Completion text")

	status := &cobra.Command{
		Use:     "status",
		Short:   "Show the active ralph loop",
		Example: "  ralph status --json",
		RunE:    func(*cobra.Command, []string) error { return nil },
	}
	status.Flags().Bool("json", false, "Output as JSON")

	config := &cobra.Command{Use: "config", Short: "Configuration management commands"}
	config.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default .opencode/ralph.yaml",
		RunE:  func(*cobra.Command, []string) error { return nil },
	})

	hidden := &cobra.Command{
		Use:    "internal",
		Hidden: true,
		RunE:   func(*cobra.Command, []string) error { return nil },
	}

	root.AddCommand(status, config, hidden)
	return root
}

func find(t *testing.T, root *cobra.Command, args ...string) *cobra.Command {
	t.Helper()
	cmd, _, err := root.Find(args)
	require.NoError(t, err)
	return cmd
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func TestGenMarkdown(t *testing.T) {
	root := testTree()

	var buf bytes.Buffer
	require.NoError(t, GenMarkdown(root, &buf))
	out := buf.String()

	assert.Contains(t, out, "## ralph\n")
	assert.Contains(t, out, "```\nralph [flags] <prompt...>\n```")
	assert.Contains(t, out, "* [ralph status](ralph_status.md) - Show the active ralph loop")
	assert.Contains(t, out, "* [ralph config](ralph_config.md)")
	assert.Contains(t, out, "--max-iterations")
	assert.NotContains(t, out, "internal")
	assert.NotContains(t, out, "### See also")
}

func TestGenMarkdown_Subcommand(t *testing.T) {
	root := testTree()

	var buf bytes.Buffer
	require.NoError(t, GenMarkdown(find(t, root, "status"), &buf))
	out := buf.String()

	assert.Contains(t, out, "## ralph status\n")
	assert.Contains(t, out, "### Examples\n\n```\n  ralph status --json\n```")
	assert.Contains(t, out, "### Options inherited from parent commands")
	assert.Contains(t, out, "--debug")
	assert.Contains(t, out, "* [ralph](ralph.md) - Repeat a prompt")
}

func TestGenMarkdownTree(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, GenMarkdownTree(testTree(), dir))

	assert.Equal(t, []string{
		"ralph.md",
		"ralph_config.md",
		"ralph_config_init.md",
		"ralph_status.md",
	}, listDir(t, dir))
}

func TestGenMan(t *testing.T) {
	root := testTree()
	date := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

	var buf bytes.Buffer
	require.NoError(t, GenMan(find(t, root, "status"), &ManHeader{Section: "1", Date: &date, Manual: "Ralph Manual"}, &buf))
	out := buf.String()

	assert.Contains(t, out, ".TH")
	assert.Contains(t, out, "Oct 2026")
	assert.Contains(t, out, "Ralph Manual")
	assert.Contains(t, out, "Show the active ralph loop")
	assert.Contains(t, out, "json")
	assert.Contains(t, out, "ralph(1)")
}

func TestGenManTree(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, GenManTree(testTree(), nil, dir))

	assert.Equal(t, []string{
		"ralph-config-init.1",
		"ralph-config.1",
		"ralph-status.1",
		"ralph.1",
	}, listDir(t, dir))

	data, err := os.ReadFile(filepath.Join(dir, "ralph.1"))
	require.NoError(t, err)
	assert.Contains(t, string(data), ".SH NAME")
	assert.Contains(t, string(data), "iterations")
}
