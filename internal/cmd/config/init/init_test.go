package init

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/schmitthub/ralph/internal/cmdutil"
	"github.com/schmitthub/ralph/internal/config"
	"github.com/schmitthub/ralph/internal/iostreams/iostreamstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCmdInit_Flags(t *testing.T) {
	tio := iostreamstest.New()
	f := &cmdutil.Factory{IOStreams: tio.IOStreams}

	var gotOpts *InitOptions
	cmd := NewCmdInit(f, func(_ context.Context, opts *InitOptions) error {
		gotOpts = opts
		return nil
	})

	cmd.SetArgs([]string{"--force"})
	require.NoError(t, cmd.Execute())
	require.NotNil(t, gotOpts, "runF was not called")
	assert.True(t, gotOpts.Force)
	assert.Equal(t, tio.IOStreams, gotOpts.IOStreams)
}

func TestInitRun(t *testing.T) {
	dir := t.TempDir()
	tio := iostreamstest.New()
	opts := &InitOptions{
		IOStreams: tio.IOStreams,
		WorkDir:   func() (string, error) { return dir, nil },
	}

	require.NoError(t, initRun(context.Background(), opts))

	data, err := os.ReadFile(filepath.Join(dir, ".opencode", "ralph.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfigYAML, string(data))
	assert.Contains(t, tio.ErrBuf.String(), "Wrote")
}

func TestInitRun_Exists(t *testing.T) {
	dir := t.TempDir()
	path := config.Path(dir)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("loop:\n  max_iterations: 9\n"), 0o644))

	tio := iostreamstest.New()
	opts := &InitOptions{
		IOStreams: tio.IOStreams,
		WorkDir:   func() (string, error) { return dir, nil },
	}

	err := initRun(context.Background(), opts)
	assert.True(t, errors.Is(err, cmdutil.SilentError))
	assert.Contains(t, tio.ErrBuf.String(), "already exists")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "loop:\n  max_iterations: 9\n", string(data))

	opts.Force = true
	require.NoError(t, initRun(context.Background(), opts))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfigYAML, string(data))
}
