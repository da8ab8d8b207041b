package providers

import (
	"fmt"
	"log/slog"
	"sync"
)

// Registry holds references to LLM clients, keyed by configured name.
// It supports config-driven instantiation and hot-reload.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]LLMClient
	logger  *slog.Logger
}

// NewRegistry creates a new empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]LLMClient),
		logger:  slog.Default(),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// Register registers an LLM client by name.
func (r *Registry) Register(name string, client LLMClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[name] = client
	if r.logger != nil {
		r.logger.Info("registered LLM client", "name", name)
	}
}

// Get returns an LLM client by name.
func (r *Registry) Get(name string) (LLMClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("LLM client not found: %s", name)
	}
	return client, nil
}

// Has checks if an LLM client is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.clients[name]
	return ok
}

// List returns all registered client names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.clients))
	for name := range r.clients {
		names = append(names, name)
	}
	return names
}

// RegistryConfig defines the providers to instantiate from config.
type RegistryConfig struct {
	// Providers maps provider names to their config, API keys resolved.
	Providers map[string]ProviderConfig
}

// ProviderConfig configures a single provider with a resolved API key.
type ProviderConfig struct {
	Type    string // "openai", "openrouter", "mock"
	Model   string // Default model name
	APIKey  string // Resolved API key
	BaseURL string // Optional endpoint override
	Enabled bool
}

// NewRegistryFromConfig creates a registry with providers based on
// configuration. Only enabled providers with a resolved API key are
// registered (mock needs no key).
func NewRegistryFromConfig(cfg RegistryConfig) *Registry {
	r := NewRegistry()
	r.applyConfig(cfg)
	return r
}

// Reload updates the registry based on new configuration. Providers no
// longer configured are unregistered.
func (r *Registry) Reload(cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[string]bool)
	for name, provCfg := range cfg.Providers {
		if !usable(provCfg) {
			continue
		}
		want[name] = true
		client := createClient(provCfg)
		if client == nil {
			continue
		}
		_, existed := r.clients[name]
		r.clients[name] = client
		if r.logger != nil {
			if existed {
				r.logger.Info("updated LLM client", "name", name, "type", provCfg.Type)
			} else {
				r.logger.Info("registered LLM client", "name", name, "type", provCfg.Type)
			}
		}
	}

	for name := range r.clients {
		if !want[name] {
			delete(r.clients, name)
			if r.logger != nil {
				r.logger.Info("unregistered LLM client", "name", name)
			}
		}
	}
}

// applyConfig applies configuration without logging (used during init).
func (r *Registry) applyConfig(cfg RegistryConfig) {
	for name, provCfg := range cfg.Providers {
		if !usable(provCfg) {
			continue
		}
		if client := createClient(provCfg); client != nil {
			r.clients[name] = client
		}
	}
}

func usable(cfg ProviderConfig) bool {
	if !cfg.Enabled {
		return false
	}
	return cfg.APIKey != "" || cfg.Type == "mock"
}

// createClient creates an LLM client based on provider type.
func createClient(cfg ProviderConfig) LLMClient {
	switch cfg.Type {
	case "openai":
		return NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	case "openrouter":
		return NewOpenRouterClient(OpenRouterConfig{
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
		})
	case "mock":
		return NewMockClient()
	default:
		return nil
	}
}
