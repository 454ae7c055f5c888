package core

import (
	fmt "fmt"
	"regexp"
	"sort"
	"strings"
)

var pluginIDPattern = regexp.MustCompile(`^[a-z][a-z0-9_]+$`)

// ValidatePlugins enforces basic plugin contract invariants at startup.
func ValidatePlugins(plugins []Plugin) error {
	seen := make(map[string]bool)
	for _, plugin := range plugins {
		id := plugin.ID()
		manifest := plugin.Manifest()
		if id == "" {
			return fmt.Errorf("plugin id is empty")
		}
		if !pluginIDPattern.MatchString(id) {
			return fmt.Errorf("plugin id %q does not match %s", id, pluginIDPattern.String())
		}
		if manifest.PluginID != id {
			return fmt.Errorf("plugin id mismatch: id=%q manifest=%q", id, manifest.PluginID)
		}
		if seen[id] {
			return fmt.Errorf("duplicate plugin id: %s", id)
		}
		seen[id] = true
	}
	return nil
}

// FilterPlugins keeps the plugins enabled in config. allowAll keeps every
// compiled plugin.
func FilterPlugins(compiled []Plugin, enabled map[string]bool, allowAll bool) []Plugin {
	if allowAll {
		return compiled
	}
	out := make([]Plugin, 0, len(compiled))
	for _, plugin := range compiled {
		if enabled[plugin.ID()] {
			out = append(out, plugin)
		}
	}
	return out
}

// ValidateEnabledPlugins fails when config enables a plugin this build
// does not include.
func ValidateEnabledPlugins(compiled []Plugin, enabled map[string]bool, allowAll bool) error {
	if allowAll {
		return nil
	}
	have := make(map[string]bool, len(compiled))
	for _, plugin := range compiled {
		have[plugin.ID()] = true
	}
	var missing []string
	for id, on := range enabled {
		if on && !have[id] {
			missing = append(missing, id)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("plugins enabled in config but not compiled in: %s", strings.Join(missing, ", "))
}
