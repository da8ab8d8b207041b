// Package config manages application configuration loaded from a YAML
// file with environment variable overrides and live reload.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/scriptorlab/scriptor/internal/providers"
)

// envVarPattern matches ${VAR_NAME} placeholders in config values.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Manager wraps viper and tracks change subscribers.
type Manager struct {
	v         *viper.Viper
	mu        sync.RWMutex
	cfg       *Config
	onChange  []func(*Config)
	logger    *slog.Logger
	watchOnce sync.Once
}

// NewManager loads configuration from cfgFile. When cfgFile is empty the
// manager runs on defaults and environment variables alone.
func NewManager(cfgFile string) (*Manager, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SCRIPTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config %s: %w", cfgFile, err)
			}
		}
	}

	m := &Manager{
		v:      v,
		logger: slog.Default(),
	}

	cfg, err := m.unmarshal()
	if err != nil {
		return nil, err
	}
	m.cfg = cfg

	return m, nil
}

// SetLogger replaces the manager's logger.
func (m *Manager) SetLogger(logger *slog.Logger) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logger = logger
}

// Get returns the current configuration snapshot.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// OnChange registers a callback invoked after a successful reload.
func (m *Manager) OnChange(fn func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// WatchConfig starts watching the config file for changes. Reload
// failures keep the previous configuration.
func (m *Manager) WatchConfig() {
	m.watchOnce.Do(func() {
		m.v.OnConfigChange(func(e fsnotify.Event) {
			cfg, err := m.unmarshal()
			if err != nil {
				m.logger.Error("config reload failed, keeping previous", "file", e.Name, "error", err)
				return
			}
			m.mu.Lock()
			m.cfg = cfg
			callbacks := make([]func(*Config), len(m.onChange))
			copy(callbacks, m.onChange)
			m.mu.Unlock()

			m.logger.Info("config reloaded", "file", e.Name)
			for _, fn := range callbacks {
				fn(cfg)
			}
		})
		m.v.WatchConfig()
	})
}

func (m *Manager) unmarshal() (*Config, error) {
	var cfg Config
	if err := m.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.applyFallbacks()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ResolveEnvVars expands ${VAR} placeholders from the environment. An
// unset variable resolves to the empty string.
func ResolveEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(name)
	})
}

// ToProviderRegistryConfig converts the provider section into registry
// configuration, resolving API key placeholders.
func (c *Config) ToProviderRegistryConfig() providers.RegistryConfig {
	out := providers.RegistryConfig{
		Providers: make(map[string]providers.ProviderConfig, len(c.Providers)),
	}
	for name, p := range c.Providers {
		out.Providers[name] = providers.ProviderConfig{
			Type:    p.Type,
			Model:   p.Model,
			APIKey:  ResolveEnvVars(p.APIKey),
			BaseURL: p.BaseURL,
			Enabled: p.Enabled,
		}
	}
	return out
}

// ThresholdsFor returns quality thresholds for a language, falling back
// to the default set.
func (c *Config) ThresholdsFor(language string) Thresholds {
	if t, ok := c.Languages[language]; ok {
		return t
	}
	if t, ok := c.Languages["default"]; ok {
		return t
	}
	return Thresholds{MaxUncertain: 40, MaxIllegible: 15, RetryBudget: 1}
}

// InvokeTimeout returns the per-call timeout as a duration.
func (c *Config) InvokeTimeout() time.Duration {
	return time.Duration(c.Invoke.TimeoutSeconds) * time.Second
}
