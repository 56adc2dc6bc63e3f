// Package config loads ralph's settings from defaults, an optional
// per-project YAML file and RALPH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/schmitthub/ralph/internal/logger"
	"github.com/schmitthub/ralph/internal/state"
)

const (
	// FileName is the project config file name inside the metadata dir.
	FileName = "ralph.yaml"
	// EnvPrefix prefixes environment overrides, e.g. RALPH_LOOP_DELAY.
	EnvPrefix = "RALPH"
)

// Config is the merged configuration.
type Config struct {
	Agent   AgentConfig   `yaml:"agent" mapstructure:"agent"`
	Loop    LoopConfig    `yaml:"loop" mapstructure:"loop"`
	Host    HostConfig    `yaml:"host" mapstructure:"host"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// AgentConfig describes how the agent CLI is invoked.
type AgentConfig struct {
	Command     string        `yaml:"command" mapstructure:"command"`
	Model       string        `yaml:"model,omitempty" mapstructure:"model"`
	ConfigEnv   string        `yaml:"config_env" mapstructure:"config_env"`
	PluginName  string        `yaml:"plugin_name" mapstructure:"plugin_name"`
	Sentinels   []string      `yaml:"sentinels" mapstructure:"sentinels"`
	GracePeriod time.Duration `yaml:"grace_period" mapstructure:"grace_period"`
}

// LoopConfig holds loop defaults.
type LoopConfig struct {
	MaxIterations     int           `yaml:"max_iterations" mapstructure:"max_iterations"`
	CompletionPromise string        `yaml:"completion_promise" mapstructure:"completion_promise"`
	Delay             time.Duration `yaml:"delay" mapstructure:"delay"`
	ErrorDelay        time.Duration `yaml:"error_delay" mapstructure:"error_delay"`
	AutoCommit        bool          `yaml:"auto_commit" mapstructure:"auto_commit"`
}

// HostConfig configures the in-host driver's OpenCode connection.
type HostConfig struct {
	URL    string `yaml:"url" mapstructure:"url"`
	Listen string `yaml:"listen" mapstructure:"listen"`
}

// LoggingConfig configures the rotating log file.
type LoggingConfig struct {
	FileEnabled *bool `yaml:"file_enabled,omitempty" mapstructure:"file_enabled"`
	MaxSizeMB   int   `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxAgeDays  int   `yaml:"max_age_days" mapstructure:"max_age_days"`
	MaxBackups  int   `yaml:"max_backups" mapstructure:"max_backups"`
}

// Logger converts to the logger package's settings.
func (c LoggingConfig) Logger() *logger.LoggingConfig {
	return &logger.LoggingConfig{
		FileEnabled: c.FileEnabled,
		MaxSizeMB:   c.MaxSizeMB,
		MaxAgeDays:  c.MaxAgeDays,
		MaxBackups:  c.MaxBackups,
	}
}

// keys lists every leaf key so each can be bound to its environment variable.
var keys = []string{
	"agent.command",
	"agent.model",
	"agent.config_env",
	"agent.plugin_name",
	"agent.sentinels",
	"agent.grace_period",
	"loop.max_iterations",
	"loop.completion_promise",
	"loop.delay",
	"loop.error_delay",
	"loop.auto_commit",
	"host.url",
	"host.listen",
	"logging.file_enabled",
	"logging.max_size_mb",
	"logging.max_age_days",
	"logging.max_backups",
}

// Path returns the project config file for workDir.
func Path(workDir string) string {
	return filepath.Join(workDir, state.MetadataDir, FileName)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range keys {
		// BindEnv only fails without a key argument.
		_ = v.BindEnv(key)
	}
	SetDefaults(v)
	return v
}

// Load reads the configuration for workDir. A missing config file is not an
// error.
func Load(workDir string) (*Config, error) {
	return load(newViper(), Path(workDir))
}

func load(v *viper.Viper, path string) (*Config, error) {
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail later at run time.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Agent.Command) == "" {
		return errors.New("config: agent.command must not be empty")
	}
	if c.Loop.MaxIterations < 0 {
		return fmt.Errorf("config: loop.max_iterations must be >= 0, got %d", c.Loop.MaxIterations)
	}
	if c.Agent.GracePeriod < 0 {
		return fmt.Errorf("config: agent.grace_period must not be negative, got %s", c.Agent.GracePeriod)
	}
	return nil
}
