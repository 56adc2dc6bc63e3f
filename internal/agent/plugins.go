package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultConfigEnv is the variable the agent reads its config path from.
	DefaultConfigEnv = "OPENCODE_CONFIG"

	// DefaultPluginName identifies the in-host loop plugin in the agent's
	// plugin list.
	DefaultPluginName = "opencode-ralph"

	configFileName = "opencode.json"
	pluginKey      = "plugin"
)

// DefaultSentinels are printed by the placeholder plugin when the agent is
// misconfigured.
var DefaultSentinels = []string{"RALPH_PLUGIN_PLACEHOLDER"}

// PluginFilter describes how to rewrite the agent's plugin list.
type PluginFilter struct {
	// WorkDir is searched for opencode.json first.
	WorkDir string
	// HomeDir is searched for .config/opencode/opencode.json next.
	HomeDir string
	// ConfigEnv is the override variable name. It is also consulted as a source.
	ConfigEnv string
	// Own is removed from the plugin list.
	Own string
	// StripAll removes every plugin.
	StripAll bool
}

// Override is a filtered config written to a temp file.
type Override struct {
	// Env is the NAME=path entry to add to the agent's environment.
	Env string
	// Path is the temp file.
	Path string
	// Source is the config that was filtered, empty if there was none.
	Source string
	// Removed lists the plugins that were filtered out.
	Removed []string
}

// Cleanup removes the temp file. It is safe on a nil Override.
func (o *Override) Cleanup() {
	if o == nil || o.Path == "" {
		return
	}
	_ = os.Remove(o.Path)
}

// FilterPlugins writes a copy of the agent config with the loop's own plugin
// (or every plugin when StripAll is set) removed. It returns nil when there is
// no source config and StripAll is not set, meaning no override is needed.
func FilterPlugins(f PluginFilter) (*Override, error) {
	if f.ConfigEnv == "" {
		f.ConfigEnv = DefaultConfigEnv
	}

	src, doc, err := loadAgentConfig(f)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		if !f.StripAll {
			return nil, nil
		}
		doc = map[string]any{}
	}

	kept, removed := filterPluginList(doc[pluginKey], f.Own, f.StripAll)
	if kept == nil {
		delete(doc, pluginKey)
	} else {
		doc[pluginKey] = kept
	}
	if len(removed) == 0 && !f.StripAll {
		return nil, nil
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding filtered agent config: %w", err)
	}

	tmp, err := os.CreateTemp("", "ralph-opencode-*.json")
	if err != nil {
		return nil, fmt.Errorf("creating filtered agent config: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("writing filtered agent config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("closing filtered agent config: %w", err)
	}

	return &Override{
		Env:     f.ConfigEnv + "=" + tmp.Name(),
		Path:    tmp.Name(),
		Source:  src,
		Removed: removed,
	}, nil
}

// ConfigSources returns the candidate agent config paths in lookup order.
func ConfigSources(f PluginFilter) []string {
	var paths []string
	if env := f.ConfigEnv; env != "" {
		if p := os.Getenv(env); p != "" {
			paths = append(paths, p)
		}
	}
	if f.WorkDir != "" {
		paths = append(paths, filepath.Join(f.WorkDir, configFileName))
	}
	if f.HomeDir != "" {
		paths = append(paths, filepath.Join(f.HomeDir, ".config", "opencode", configFileName))
	}
	return paths
}

func loadAgentConfig(f PluginFilter) (string, map[string]any, error) {
	for _, path := range ConfigSources(f) {
		data, err := os.ReadFile(path)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return "", nil, fmt.Errorf("reading agent config %s: %w", path, err)
		}
		doc := map[string]any{}
		if err := json.Unmarshal(data, &doc); err != nil {
			return "", nil, fmt.Errorf("parsing agent config %s: %w", path, err)
		}
		return path, doc, nil
	}
	return "", nil, nil
}

// filterPluginList returns the kept entries (nil when none remain) and the
// removed ones. Entries match own by package name, ignoring any version
// suffix or path prefix.
func filterPluginList(v any, own string, stripAll bool) ([]any, []string) {
	list, ok := v.([]any)
	if !ok {
		return nil, nil
	}
	var kept []any
	var removed []string
	for _, item := range list {
		name, _ := item.(string)
		if stripAll || (own != "" && pluginMatches(name, own)) {
			removed = append(removed, name)
			continue
		}
		kept = append(kept, item)
	}
	return kept, removed
}

func pluginMatches(entry, own string) bool {
	base := entry
	if i := strings.LastIndexAny(base, "/\\"); i >= 0 {
		base = base[i+1:]
	}
	base = strings.TrimSuffix(base, filepath.Ext(base))
	// Strip an npm version suffix without touching a scope prefix.
	if i := strings.LastIndex(base, "@"); i > 0 {
		base = base[:i]
	}
	return base == own
}

// ContainsSentinel reports the first sentinel found in the run's output.
func ContainsSentinel(res *Result, sentinels []string) (string, bool) {
	if res == nil {
		return "", false
	}
	for _, s := range sentinels {
		if s == "" {
			continue
		}
		if strings.Contains(res.Stdout, s) || strings.Contains(res.Stderr, s) {
			return s, true
		}
	}
	return "", false
}
