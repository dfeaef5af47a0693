package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Guard is an attribute key whose distinct values are too many to list
// without a prefix.
type Guard struct {
	Key         string `yaml:"key"`
	Description string `yaml:"description"`
}

// GuardsConfig represents the guards configuration file
type GuardsConfig struct {
	HighCardinalityKeys []Guard `yaml:"high_cardinality_keys"`
}

// LoadGuards loads guards from a YAML file. Keys are lowercased.
func LoadGuards(path string) ([]Guard, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading guards file: %w", err)
	}

	var cfg GuardsConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing guards YAML: %w", err)
	}

	guards := make([]Guard, 0, len(cfg.HighCardinalityKeys))
	for i, g := range cfg.HighCardinalityKeys {
		key := strings.ToLower(strings.TrimSpace(g.Key))
		if key == "" {
			return nil, fmt.Errorf("guard %d: empty key", i)
		}
		guards = append(guards, Guard{Key: key, Description: g.Description})
	}
	return guards, nil
}

// DefaultGuards returns the built-in guards (fallback if no file is set)
func DefaultGuards() []Guard {
	return []Guard{
		{Key: "trace_id", Description: "Distributed trace id"},
		{Key: "span_id", Description: "Span id"},
		{Key: "request_id", Description: "Per-request id"},
		{Key: "session_id", Description: "Session id"},
		{Key: "user_id", Description: "End-user id"},
		{Key: "device_id", Description: "Device id"},
		{Key: "event_id", Description: "Event id"},
		{Key: "uuid", Description: "Generic UUID"},
		{Key: "id", Description: "Generic id"},
	}
}

// LoadGuardsOrDefault loads path, or returns DefaultGuards when path is
// empty.
func LoadGuardsOrDefault(path string) ([]Guard, error) {
	if path == "" {
		return DefaultGuards(), nil
	}
	return LoadGuards(path)
}

// GuardKeys returns the keys of guards.
func GuardKeys(guards []Guard) []string {
	keys := make([]string, len(guards))
	for i, g := range guards {
		keys[i] = g.Key
	}
	return keys
}
