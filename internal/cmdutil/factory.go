// Package cmdutil holds the pieces shared by every command: the dependency
// factory, error types, and output helpers.
package cmdutil

import (
	"github.com/schmitthub/ralph/internal/config"
	"github.com/schmitthub/ralph/internal/iostreams"
	"github.com/schmitthub/ralph/internal/state"
)

// Factory provides shared dependencies for CLI commands.
// It is a dependency injection container: the struct defines what
// dependencies exist (the contract), while internal/cmd/factory
// wires the real implementations.
//
// Closure fields are set by the factory constructor and use lazy
// initialization internally. Commands extract only the fields they
// need into per-command Options structs.
type Factory struct {
	// Version info (set at build time via ldflags)
	Version string
	Commit  string

	// IO streams for input/output (for testability)
	IOStreams *iostreams.IOStreams

	WorkDir func() (string, error)
	Config  func() (*config.Config, error)

	// StateStore and History operate on the work directory's metadata dir.
	StateStore func() (state.Store, error)
	History    func() (*state.HistoryStore, error)
}
