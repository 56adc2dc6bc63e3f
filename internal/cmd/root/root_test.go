package root

import (
	"context"
	"errors"
	"testing"

	"github.com/schmitthub/ralph/internal/cmdutil"
	"github.com/schmitthub/ralph/internal/config"
	"github.com/schmitthub/ralph/internal/iostreams/iostreamstest"
	"github.com/schmitthub/ralph/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFactory(t *testing.T, cfg *config.Config) (*iostreamstest.TestIOStreams, *cmdutil.Factory) {
	t.Helper()
	t.Setenv(config.HomeEnv, t.TempDir())

	dir := t.TempDir()
	tio := iostreamstest.New()
	return tio, &cmdutil.Factory{
		Version:    "1.2.3",
		Commit:     "abc1234",
		IOStreams:  tio.IOStreams,
		WorkDir:    func() (string, error) { return dir, nil },
		Config:     func() (*config.Config, error) { return cfg, nil },
		StateStore: func() (state.Store, error) { return state.DefaultFileStore(dir), nil },
		History:    func() (*state.HistoryStore, error) { return state.DefaultHistoryStore(dir), nil },
	}
}

func captureOpts(t *testing.T, cfg *config.Config, args ...string) (*LoopOptions, error) {
	t.Helper()
	_, f := testFactory(t, cfg)

	var gotOpts *LoopOptions
	cmd := NewCmdRoot(f, func(_ context.Context, opts *LoopOptions) error {
		gotOpts = opts
		return nil
	})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return gotOpts, err
}

func TestNewCmdRoot_Subcommands(t *testing.T) {
	_, f := testFactory(t, config.Default())
	cmd := NewCmdRoot(f, nil)

	assert.Equal(t, "ralph", cmd.Name())
	assert.Equal(t, "1.2.3", cmd.Version)

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	for _, want := range []string{"status", "cancel", "serve", "config", "version"} {
		assert.Contains(t, names, want)
	}
	assert.NotNil(t, cmd.PersistentFlags().Lookup("debug"))
}

func TestNewCmdRoot_JoinsPromptAndUsesConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Loop.MaxIterations = 4
	cfg.Loop.CompletionPromise = "SHIPPED"
	cfg.Agent.Model = "anthropic/claude-sonnet"

	opts, err := captureOpts(t, cfg, "Fix", "the", "failing", "tests")
	require.NoError(t, err)
	require.NotNil(t, opts, "runF was not called")

	assert.Equal(t, "Fix the failing tests", opts.Prompt)
	assert.Equal(t, 4, opts.MaxIterations)
	assert.Equal(t, "SHIPPED", opts.CompletionPromise)
	assert.Equal(t, "anthropic/claude-sonnet", opts.Model)
	assert.True(t, opts.AutoCommit)
	assert.False(t, opts.NoPlugins)
}

func TestNewCmdRoot_FlagsOverrideConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Loop.MaxIterations = 4

	opts, err := captureOpts(t, cfg,
		"--max-iterations", "0",
		"--completion-promise", "DONE",
		"--model", "openai/gpt",
		"--no-commit",
		"--no-plugins",
		"write docs",
	)
	require.NoError(t, err)
	require.NotNil(t, opts)

	assert.Equal(t, "write docs", opts.Prompt)
	assert.Equal(t, 0, opts.MaxIterations, "explicit 0 beats config")
	assert.Equal(t, "DONE", opts.CompletionPromise)
	assert.Equal(t, "openai/gpt", opts.Model)
	assert.False(t, opts.AutoCommit)
	assert.True(t, opts.NoPlugins)
}

func TestNewCmdRoot_FlagsAfterPrompt(t *testing.T) {
	opts, err := captureOpts(t, config.Default(), "port", "the", "parser", "--max-iterations", "3")
	require.NoError(t, err)
	require.NotNil(t, opts)
	assert.Equal(t, "port the parser", opts.Prompt)
	assert.Equal(t, 3, opts.MaxIterations)
}

func TestNewCmdRoot_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "no prompt", args: []string{}},
		{name: "blank prompt", args: []string{"  "}},
		{name: "unknown flag", args: []string{"--bogus", "task"}},
		{name: "non-numeric max", args: []string{"--max-iterations", "many", "task"}},
		{name: "negative max", args: []string{"--max-iterations", "-1", "task"}},
		{name: "empty promise", args: []string{"--completion-promise", "", "task"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts, err := captureOpts(t, config.Default(), tt.args...)
			require.Error(t, err)
			assert.Nil(t, opts, "runF should not be called")

			var flagErr *cmdutil.FlagError
			assert.True(t, errors.As(err, &flagErr), "expected FlagError, got %T: %v", err, err)
		})
	}
}

func TestNewCmdRoot_ConfigError(t *testing.T) {
	_, f := testFactory(t, nil)
	f.Config = func() (*config.Config, error) { return nil, errors.New("bad yaml") }

	cmd := NewCmdRoot(f, func(context.Context, *LoopOptions) error {
		t.Fatal("runF should not be called")
		return nil
	})
	cmd.SetArgs([]string{"task"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad yaml")
}

func TestNewCmdRoot_Version(t *testing.T) {
	for _, flag := range []string{"--version", "-v"} {
		t.Run(flag, func(t *testing.T) {
			tio, f := testFactory(t, config.Default())
			cmd := NewCmdRoot(f, func(context.Context, *LoopOptions) error {
				t.Fatal("runF should not be called")
				return nil
			})
			cmd.SetOut(tio.OutBuf)
			cmd.SetArgs([]string{flag})
			require.NoError(t, cmd.Execute())
			assert.Equal(t, "ralph version 1.2.3 (abc1234)\n", tio.OutBuf.String())
		})
	}
}
