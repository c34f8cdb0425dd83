package core

import (
	"fmt"
	"sort"
)

// Plugin contributes extra rules, such as site-specific labware policies.
type Plugin interface {
	Name() string
	Version() string
	Register(registry *PluginRegistry) error
}

// PluginRegistry accumulates plugin contributions during registration.
type PluginRegistry struct {
	rules []Rule
}

// NewPluginRegistry constructs a plugin registry.
func NewPluginRegistry() *PluginRegistry {
	return &PluginRegistry{}
}

// RegisterRule adds an in-transaction rule contributed by the plugin.
func (r *PluginRegistry) RegisterRule(rule Rule) {
	if rule == nil {
		return
	}
	r.rules = append(r.rules, rule)
}

// Rules returns a copy of registered rules.
func (r *PluginRegistry) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// PluginMetadata summarizes an installed plugin.
type PluginMetadata struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Rules   []string `json:"rules"`
}

// InstallPlugin registers a plugin, wiring its rules into the active engine.
func (s *Service) InstallPlugin(plugin Plugin) (PluginMetadata, error) {
	if plugin == nil {
		return PluginMetadata{}, fmt.Errorf("plugin cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plugins[plugin.Name()]; ok {
		return PluginMetadata{}, fmt.Errorf("plugin %s already registered", plugin.Name())
	}
	if s.engine == nil {
		return PluginMetadata{}, fmt.Errorf("plugin %s: service has no rules engine", plugin.Name())
	}

	registry := NewPluginRegistry()
	if err := plugin.Register(registry); err != nil {
		return PluginMetadata{}, err
	}

	meta := PluginMetadata{Name: plugin.Name(), Version: plugin.Version()}
	for _, rule := range registry.Rules() {
		s.engine.Register(rule)
		meta.Rules = append(meta.Rules, rule.Name())
	}
	s.plugins[plugin.Name()] = meta
	s.logger.Info().Str("plugin", meta.Name).Str("version", meta.Version).Strs("rules", meta.Rules).Msg("plugin installed")
	return meta, nil
}

// RegisteredPlugins returns metadata describing installed plugins sorted by name.
func (s *Service) RegisteredPlugins() []PluginMetadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PluginMetadata, 0, len(s.plugins))
	for _, meta := range s.plugins {
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
