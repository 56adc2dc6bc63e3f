package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every RALPH_* override for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range keys {
		name := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	path := Path(dir)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "opencode run", cfg.Agent.Command)
	assert.Equal(t, "OPENCODE_CONFIG", cfg.Agent.ConfigEnv)
	assert.Equal(t, "opencode-ralph", cfg.Agent.PluginName)
	assert.Equal(t, []string{"RALPH_PLUGIN_PLACEHOLDER"}, cfg.Agent.Sentinels)
	assert.Equal(t, 5*time.Second, cfg.Agent.GracePeriod)
	assert.Equal(t, 0, cfg.Loop.MaxIterations)
	assert.Equal(t, "COMPLETE", cfg.Loop.CompletionPromise)
	assert.Equal(t, 2*time.Second, cfg.Loop.Delay)
	assert.Equal(t, 5*time.Second, cfg.Loop.ErrorDelay)
	assert.True(t, cfg.Loop.AutoCommit)
	assert.Equal(t, DefaultHostURL, cfg.Host.URL)
	assert.Equal(t, DefaultListenAddr, cfg.Host.Listen)
	assert.Nil(t, cfg.Logging.FileEnabled)
	assert.True(t, cfg.Logging.Logger().IsFileEnabled())
	assert.Equal(t, 50, cfg.Logging.MaxSizeMB)
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, `
agent:
  command: "opencode run --print-logs"
  model: anthropic/claude
loop:
  max_iterations: 12
  delay: 250ms
  auto_commit: false
logging:
  file_enabled: false
`)

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "opencode run --print-logs", cfg.Agent.Command)
	assert.Equal(t, "anthropic/claude", cfg.Agent.Model)
	assert.Equal(t, 12, cfg.Loop.MaxIterations)
	assert.Equal(t, 250*time.Millisecond, cfg.Loop.Delay)
	assert.False(t, cfg.Loop.AutoCommit)
	require.NotNil(t, cfg.Logging.FileEnabled)
	assert.False(t, *cfg.Logging.FileEnabled)
	// untouched keys keep their defaults
	assert.Equal(t, "COMPLETE", cfg.Loop.CompletionPromise)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeConfig(t, dir, "loop:\n  delay: 1s\n")
	t.Setenv("RALPH_LOOP_DELAY", "5s")
	t.Setenv("RALPH_LOOP_MAX_ITERATIONS", "7")
	t.Setenv("RALPH_AGENT_SENTINELS", "ONE,TWO")
	t.Setenv("RALPH_HOST_URL", "http://10.0.0.2:4096")

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Loop.Delay)
	assert.Equal(t, 7, cfg.Loop.MaxIterations)
	assert.Equal(t, []string{"ONE", "TWO"}, cfg.Agent.Sentinels)
	assert.Equal(t, "http://10.0.0.2:4096", cfg.Host.URL)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "invalid yaml", content: "loop: [\n"},
		{name: "negative max", content: "loop:\n  max_iterations: -2\n"},
		{name: "empty command", content: "agent:\n  command: \"  \"\n"},
		{name: "bad duration", content: "loop:\n  delay: soon\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			dir := t.TempDir()
			writeConfig(t, dir, tt.content)

			_, err := Load(dir)
			assert.Error(t, err)
		})
	}
}

func TestDefault_MatchesScaffold(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	require.NoError(t, WriteDefault(Path(dir), false))

	fromFile, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, Default(), fromFile)
}

func TestWriteDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".opencode", FileName)

	require.NoError(t, WriteDefault(path, false))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfigYAML, string(data))

	err = WriteDefault(path, false)
	require.ErrorIs(t, err, ErrConfigExists)

	require.NoError(t, os.WriteFile(path, []byte("custom"), 0o644))
	require.NoError(t, WriteDefault(path, true))
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfigYAML, string(data))

	_, err = os.Stat(path + ".lock")
	assert.True(t, os.IsNotExist(err))
}

func TestHome(t *testing.T) {
	t.Setenv(HomeEnv, "/tmp/ralph-home")
	home, err := Home()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/ralph-home", home)

	logs, err := LogsDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/tmp/ralph-home", "logs"), logs)

	t.Setenv(HomeEnv, "")
	t.Setenv("HOME", "/home/someone")
	home, err = Home()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/home/someone", ".local", "ralph"), home)
}
