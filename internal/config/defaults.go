package config

import (
	"github.com/spf13/viper"

	"github.com/schmitthub/ralph/internal/agent"
)

// Default values.
const (
	DefaultCompletionPromise = "COMPLETE"
	DefaultHostURL           = "http://127.0.0.1:4096"
	DefaultListenAddr        = "127.0.0.1:4097"
)

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("agent.command", agent.DefaultCommand)
	v.SetDefault("agent.model", "")
	v.SetDefault("agent.config_env", agent.DefaultConfigEnv)
	v.SetDefault("agent.plugin_name", agent.DefaultPluginName)
	v.SetDefault("agent.sentinels", agent.DefaultSentinels)
	v.SetDefault("agent.grace_period", agent.DefaultGracePeriod)

	v.SetDefault("loop.max_iterations", 0)
	v.SetDefault("loop.completion_promise", DefaultCompletionPromise)
	v.SetDefault("loop.delay", "2s")
	v.SetDefault("loop.error_delay", "5s")
	v.SetDefault("loop.auto_commit", true)

	v.SetDefault("host.url", DefaultHostURL)
	v.SetDefault("host.listen", DefaultListenAddr)

	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_age_days", 7)
	v.SetDefault("logging.max_backups", 3)
}

// Default returns the configuration with no file or environment applied.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	cfg, err := load(v, "")
	if err != nil {
		panic("config: invalid defaults: " + err.Error())
	}
	return cfg
}

// DefaultConfigYAML is the scaffold written by `ralph config init`.
const DefaultConfigYAML = `# ralph configuration
# Every key can also be set with an environment variable, e.g. RALPH_LOOP_DELAY=5s.

agent:
  # Command line used to run the agent; the prompt is appended last.
  command: "opencode run"
  # Model passed as --model; "provider/model" for the in-host driver.
  # model: "anthropic/claude-sonnet-4"
  # Environment variable that points the agent at a filtered config.
  config_env: OPENCODE_CONFIG
  # Plugin removed from the agent config while the external loop runs.
  plugin_name: opencode-ralph
  # Output that means the agent is misconfigured; the loop stops with exit 1.
  sentinels:
    - RALPH_PLUGIN_PLACEHOLDER
  # Time between SIGTERM and SIGKILL when an iteration is interrupted.
  grace_period: 5s

loop:
  # 0 runs until the completion promise is output.
  max_iterations: 0
  completion_promise: COMPLETE
  delay: 2s
  error_delay: 5s
  # Commit the working tree after each iteration.
  auto_commit: true

host:
  # OpenCode server used by ` + "`ralph serve`" + `.
  url: "http://127.0.0.1:4096"
  # Control endpoint for the loop operations.
  listen: "127.0.0.1:4097"

logging:
  # file_enabled: true
  max_size_mb: 50
  max_age_days: 7
  max_backups: 3
`
