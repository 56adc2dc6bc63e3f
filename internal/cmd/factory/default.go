package factory

import (
	"os"
	"sync"

	"github.com/schmitthub/ralph/internal/cmdutil"
	"github.com/schmitthub/ralph/internal/config"
	"github.com/schmitthub/ralph/internal/iostreams"
	"github.com/schmitthub/ralph/internal/state"
)

// New creates a fully-wired Factory with lazy-initialized dependency closures.
// Called exactly once at the CLI entry point (internal/ralph/cmd.go).
// Tests should NOT import this package; construct &cmdutil.Factory{} directly.
func New(version, commit string) *cmdutil.Factory {
	ios := iostreams.NewIOStreams()

	// Respect NO_COLOR; NewIOStreams already auto-detects from the stderr TTY.
	if os.Getenv("NO_COLOR") != "" {
		ios.SetColorEnabled(false)
	}

	f := &cmdutil.Factory{
		Version:   version,
		Commit:    commit,
		IOStreams: ios,
	}

	// --- Lazy dependency closures ---

	var (
		wdOnce sync.Once
		wd     string
		wdErr  error
	)
	f.WorkDir = func() (string, error) {
		wdOnce.Do(func() {
			wd, wdErr = os.Getwd()
		})
		return wd, wdErr
	}

	var (
		configOnce sync.Once
		configData *config.Config
		configErr  error
	)
	f.Config = func() (*config.Config, error) {
		configOnce.Do(func() {
			dir, err := f.WorkDir()
			if err != nil {
				configErr = err
				return
			}
			configData, configErr = config.Load(dir)
		})
		return configData, configErr
	}

	var (
		storeOnce sync.Once
		store     state.Store
		storeErr  error
	)
	f.StateStore = func() (state.Store, error) {
		storeOnce.Do(func() {
			dir, err := f.WorkDir()
			if err != nil {
				storeErr = err
				return
			}
			store = state.DefaultFileStore(dir)
		})
		return store, storeErr
	}

	var (
		historyOnce sync.Once
		history     *state.HistoryStore
		historyErr  error
	)
	f.History = func() (*state.HistoryStore, error) {
		historyOnce.Do(func() {
			dir, err := f.WorkDir()
			if err != nil {
				historyErr = err
				return
			}
			history = state.DefaultHistoryStore(dir)
		})
		return history, historyErr
	}

	return f
}
