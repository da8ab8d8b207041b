package config

import "fmt"

// Config is the full application configuration.
type Config struct {
	DefaultProvider string                   `mapstructure:"default_provider"`
	Providers       map[string]ProviderEntry `mapstructure:"providers"`
	Transcribe      PhaseConfig              `mapstructure:"transcribe"`
	Normalize       NormalizeConfig          `mapstructure:"normalize"`
	Invoke          InvokeConfig             `mapstructure:"invoke"`
	Rasterize       RasterizeConfig          `mapstructure:"rasterize"`
	Languages       map[string]Thresholds    `mapstructure:"languages"`
	RateLimit       RateLimitConfig          `mapstructure:"rate_limit"`
}

// ProviderEntry configures a single LLM provider.
type ProviderEntry struct {
	Type    string `mapstructure:"type"`
	Model   string `mapstructure:"model"`
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Enabled bool   `mapstructure:"enabled"`
}

// PhaseConfig holds model parameters for a pipeline phase.
type PhaseConfig struct {
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// NormalizeConfig extends PhaseConfig with chunking.
type NormalizeConfig struct {
	Model       string  `mapstructure:"model"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	ChunkPages  int     `mapstructure:"chunk_pages"`
}

// InvokeConfig controls model call behavior.
type InvokeConfig struct {
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	MaxRetries     int `mapstructure:"max_retries"`
	RetryDelayMS   int `mapstructure:"retry_delay_ms"`
}

// RasterizeConfig controls PDF to image conversion.
type RasterizeConfig struct {
	DPI     int `mapstructure:"dpi"`
	Workers int `mapstructure:"workers"`
}

// Thresholds are per-language transcription quality limits.
type Thresholds struct {
	MaxUncertain int `mapstructure:"max_uncertain"`
	MaxIllegible int `mapstructure:"max_illegible"`
	RetryBudget  int `mapstructure:"retry_budget"`
}

// RateLimitConfig caps outbound model calls.
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

// applyFallbacks fills zero values that viper defaults cannot reach,
// such as entries inside maps supplied by the config file.
func (c *Config) applyFallbacks() {
	if c.Invoke.TimeoutSeconds <= 0 {
		c.Invoke.TimeoutSeconds = 120
	}
	if c.Invoke.MaxRetries <= 0 {
		c.Invoke.MaxRetries = 3
	}
	if c.Invoke.RetryDelayMS <= 0 {
		c.Invoke.RetryDelayMS = 1000
	}
	if c.Rasterize.DPI <= 0 {
		c.Rasterize.DPI = 300
	}
	if c.Normalize.ChunkPages < 0 {
		c.Normalize.ChunkPages = 0
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	if c.DefaultProvider != "" {
		if _, ok := c.Providers[c.DefaultProvider]; !ok {
			return fmt.Errorf("default_provider %q is not configured", c.DefaultProvider)
		}
	}
	for name, p := range c.Providers {
		switch p.Type {
		case "openai", "openrouter", "mock":
		default:
			return fmt.Errorf("provider %q: unknown type %q", name, p.Type)
		}
	}
	for lang, t := range c.Languages {
		if t.MaxUncertain < 0 || t.MaxIllegible < 0 || t.RetryBudget < 0 {
			return fmt.Errorf("language %q: thresholds must be non-negative", lang)
		}
	}
	return nil
}
