package docs

import (
	"bytes"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// MarkdownFilename is the page name for cmd, e.g. "ralph_config_init.md".
func MarkdownFilename(cmd *cobra.Command) string {
	return slug(cmd, "_") + ".md"
}

// GenMarkdownTree writes a Markdown page for cmd and all its subcommands into dir.
func GenMarkdownTree(cmd *cobra.Command, dir string) error {
	return writeTree(cmd, dir, MarkdownFilename, func(c *cobra.Command) ([]byte, error) {
		var buf bytes.Buffer
		err := GenMarkdown(c, &buf)
		return buf.Bytes(), err
	})
}

// GenMarkdown writes the Markdown page for a single command.
func GenMarkdown(cmd *cobra.Command, w io.Writer) error {
	cmd.InitDefaultHelpFlag()

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "## %s\n\n", cmd.CommandPath())
	if cmd.Short != "" {
		buf.WriteString(cmd.Short + "\n\n")
	}

	if cmd.Runnable() {
		buf.WriteString("### Synopsis\n\n")
		if cmd.Long != "" {
			buf.WriteString(cmd.Long + "\n\n")
		}
		fmt.Fprintf(&buf, "```\n%s\n```\n\n", cmd.UseLine())
	} else if cmd.Long != "" {
		buf.WriteString(cmd.Long + "\n\n")
	}

	if cmd.Example != "" {
		fmt.Fprintf(&buf, "### Examples\n\n```\n%s\n```\n\n", cmd.Example)
	}

	if subs := visible(cmd); len(subs) > 0 {
		buf.WriteString("### Commands\n\n")
		for _, c := range subs {
			fmt.Fprintf(&buf, "* [%s](%s) - %s\n", c.CommandPath(), MarkdownFilename(c), c.Short)
		}
		buf.WriteString("\n")
	}

	if flags := cmd.NonInheritedFlags(); flags.HasAvailableFlags() {
		fmt.Fprintf(&buf, "### Options\n\n```\n%s```\n\n", flags.FlagUsages())
	}
	if flags := cmd.InheritedFlags(); flags.HasAvailableFlags() {
		fmt.Fprintf(&buf, "### Options inherited from parent commands\n\n```\n%s```\n\n", flags.FlagUsages())
	}

	if cmd.HasParent() {
		p := cmd.Parent()
		fmt.Fprintf(&buf, "### See also\n\n* [%s](%s) - %s\n", p.CommandPath(), MarkdownFilename(p), p.Short)
	}

	_, err := buf.WriteTo(w)
	return err
}
