package docs

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/cpuguy83/go-md2man/v2/md2man"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// ManHeader contains man page metadata.
type ManHeader struct {
	Section string
	Date    *time.Time
	Manual  string
}

// DefaultManHeader is used when no header is given.
func DefaultManHeader() *ManHeader {
	return &ManHeader{Section: "1", Manual: "Ralph Manual"}
}

// ManFilename is the man page name for cmd, e.g. "ralph-status.1".
func ManFilename(cmd *cobra.Command, header *ManHeader) string {
	return slug(cmd, "-") + "." + header.Section
}

// GenManTree writes a man page for cmd and all its subcommands into dir.
func GenManTree(cmd *cobra.Command, header *ManHeader, dir string) error {
	if header == nil {
		header = DefaultManHeader()
	}
	name := func(c *cobra.Command) string { return ManFilename(c, header) }
	return writeTree(cmd, dir, name, func(c *cobra.Command) ([]byte, error) {
		return md2man.Render(manSource(c, header)), nil
	})
}

// GenMan writes the man page for a single command.
func GenMan(cmd *cobra.Command, header *ManHeader, w io.Writer) error {
	if header == nil {
		header = DefaultManHeader()
	}
	_, err := w.Write(md2man.Render(manSource(cmd, header)))
	return err
}

// manSource renders the md2man Markdown dialect for cmd.
func manSource(cmd *cobra.Command, header *ManHeader) []byte {
	cmd.InitDefaultHelpFlag()

	var buf bytes.Buffer
	date := ""
	if header.Date != nil {
		date = header.Date.Format("Jan 2006")
	}
	fmt.Fprintf(&buf, "%% %s(%s) %s | %s\n\n",
		strings.ToUpper(slug(cmd, "-")), header.Section, date, header.Manual)

	fmt.Fprintf(&buf, "# NAME\n%s \\- %s\n\n", cmd.CommandPath(), cmd.Short)

	buf.WriteString("# SYNOPSIS\n")
	fmt.Fprintf(&buf, "**%s**", cmd.CommandPath())
	if cmd.NonInheritedFlags().HasAvailableFlags() {
		buf.WriteString(" [OPTIONS]")
	}
	if cmd.HasAvailableSubCommands() {
		buf.WriteString(" COMMAND")
	}
	buf.WriteString("\n\n")

	if cmd.Long != "" {
		fmt.Fprintf(&buf, "# DESCRIPTION\n%s\n\n", cmd.Long)
	}

	if subs := visible(cmd); len(subs) > 0 {
		buf.WriteString("# COMMANDS\n")
		for _, c := range subs {
			fmt.Fprintf(&buf, "**%s**\n: %s\n\n", c.Name(), c.Short)
		}
	}

	local, inherited := cmd.NonInheritedFlags(), cmd.InheritedFlags()
	if local.HasAvailableFlags() || inherited.HasAvailableFlags() {
		buf.WriteString("# OPTIONS\n")
		manFlags(&buf, local)
		manFlags(&buf, inherited)
	}

	if cmd.Example != "" {
		fmt.Fprintf(&buf, "# EXAMPLES\n```\n%s\n```\n\n", cmd.Example)
	}

	var related []string
	if cmd.HasParent() {
		related = append(related, fmt.Sprintf("**%s(%s)**", slug(cmd.Parent(), "-"), header.Section))
	}
	for _, c := range visible(cmd) {
		related = append(related, fmt.Sprintf("**%s(%s)**", slug(c, "-"), header.Section))
	}
	if len(related) > 0 {
		fmt.Fprintf(&buf, "# SEE ALSO\n%s\n", strings.Join(related, ", "))
	}

	return buf.Bytes()
}

func manFlags(buf *bytes.Buffer, flags *pflag.FlagSet) {
	var list []*pflag.Flag
	flags.VisitAll(func(f *pflag.Flag) {
		if !f.Hidden {
			list = append(list, f)
		}
	})
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	for _, f := range list {
		if f.Shorthand != "" {
			fmt.Fprintf(buf, "**-%s**, **--%s**", f.Shorthand, f.Name)
		} else {
			fmt.Fprintf(buf, "**--%s**", f.Name)
		}
		if t := f.Value.Type(); t != "bool" {
			fmt.Fprintf(buf, " <%s>", t)
		}
		buf.WriteString("\n: " + f.Usage)
		switch f.DefValue {
		case "", "false", "0", "[]":
		default:
			fmt.Fprintf(buf, " (default: %s)", f.DefValue)
		}
		buf.WriteString("\n\n")
	}
}
