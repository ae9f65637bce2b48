package features

import (
	"sort"
	"sync"
)

// Predefined feature flag names
const (
	// FeatureCacheEnabled caches audience previews
	FeatureCacheEnabled = "cache_enabled"
	// FeatureEventHooksEnabled runs event subscribers such as campaign delivery
	FeatureEventHooksEnabled = "event_hooks_enabled"
	// FeatureAIRuleInference lets /ai/rules consult the configured provider;
	// local heuristics always run
	FeatureAIRuleInference = "ai_rule_inference"
	// FeatureMessageSuggestions enables /ai/messages
	FeatureMessageSuggestions = "message_suggestions"
)

var descriptions = map[string]string{
	FeatureCacheEnabled:       "Cache audience previews between writes",
	FeatureEventHooksEnabled:  "Run event subscribers such as simulated campaign delivery",
	FeatureAIRuleInference:    "Consult the configured AI provider when inferring rules",
	FeatureMessageSuggestions: "Serve campaign message suggestions",
}

// FeatureFlag represents a feature flag configuration.
type FeatureFlag struct {
	Name        string `json:"name"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description"`
}

// Manager manages feature flags.
type Manager struct {
	mu    sync.RWMutex
	flags map[string]*FeatureFlag
}

// NewManager creates a new feature flag manager.
func NewManager() *Manager {
	return &Manager{
		flags: make(map[string]*FeatureFlag),
	}
}

// NewManagerWithDefaults registers every predefined flag, taking its state
// from enabled. Flags missing from enabled start switched on.
func NewManagerWithDefaults(enabled map[string]bool) *Manager {
	m := NewManager()
	for name, description := range descriptions {
		on, ok := enabled[name]
		if !ok {
			on = true
		}
		m.Register(name, on, description)
	}
	return m
}

// Register registers a new feature flag.
func (m *Manager) Register(name string, enabled bool, description string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.flags[name] = &FeatureFlag{
		Name:        name,
		Enabled:     enabled,
		Description: description,
	}
}

// IsEnabled checks if a feature flag is enabled.
// Unknown flags are disabled.
func (m *Manager) IsEnabled(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	flag, exists := m.flags[name]
	if !exists {
		return false
	}

	return flag.Enabled
}

// Enable enables a feature flag.
func (m *Manager) Enable(name string) {
	m.set(name, true)
}

// Disable disables a feature flag.
func (m *Manager) Disable(name string) {
	m.set(name, false)
}

func (m *Manager) set(name string, enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if flag, exists := m.flags[name]; exists {
		flag.Enabled = enabled
	}
}

// List returns a copy of all feature flags sorted by name.
func (m *Manager) List() []FeatureFlag {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]FeatureFlag, 0, len(m.flags))
	for _, v := range m.flags {
		result = append(result, *v)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}
