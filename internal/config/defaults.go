package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
	yaml "gopkg.in/yaml.v2"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("default_provider", "openai")

	v.SetDefault("transcribe.model", "gpt-4.1")
	v.SetDefault("transcribe.temperature", 0.2)
	v.SetDefault("transcribe.max_tokens", 4096)

	v.SetDefault("normalize.model", "gpt-4.1")
	v.SetDefault("normalize.temperature", 0.2)
	v.SetDefault("normalize.max_tokens", 8192)
	v.SetDefault("normalize.chunk_pages", 5)

	v.SetDefault("invoke.timeout_seconds", 120)
	v.SetDefault("invoke.max_retries", 3)
	v.SetDefault("invoke.retry_delay_ms", 1000)

	v.SetDefault("rasterize.dpi", 300)
	v.SetDefault("rasterize.workers", 0)

	v.SetDefault("rate_limit.requests_per_minute", 60)

	v.SetDefault("languages.hu.max_uncertain", 50)
	v.SetDefault("languages.hu.max_illegible", 20)
	v.SetDefault("languages.hu.retry_budget", 1)
	v.SetDefault("languages.default.max_uncertain", 40)
	v.SetDefault("languages.default.max_illegible", 15)
	v.SetDefault("languages.default.retry_budget", 1)
}

// defaultFileConfig is the document written by WriteDefault. Keys mirror
// the mapstructure names.
type defaultFileConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]defaultProvider   `yaml:"providers"`
	Transcribe      defaultPhase                 `yaml:"transcribe"`
	Normalize       defaultNormalize             `yaml:"normalize"`
	Invoke          defaultInvoke                `yaml:"invoke"`
	Rasterize       defaultRasterize             `yaml:"rasterize"`
	RateLimit       defaultRateLimit             `yaml:"rate_limit"`
	Languages       map[string]defaultThresholds `yaml:"languages"`
}

type defaultProvider struct {
	Type    string `yaml:"type"`
	Model   string `yaml:"model"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"`
	Enabled bool   `yaml:"enabled"`
}

type defaultPhase struct {
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

type defaultNormalize struct {
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	ChunkPages  int     `yaml:"chunk_pages"`
}

type defaultInvoke struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
	MaxRetries     int `yaml:"max_retries"`
	RetryDelayMS   int `yaml:"retry_delay_ms"`
}

type defaultRasterize struct {
	DPI     int `yaml:"dpi"`
	Workers int `yaml:"workers"`
}

type defaultRateLimit struct {
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

type defaultThresholds struct {
	MaxUncertain int `yaml:"max_uncertain"`
	MaxIllegible int `yaml:"max_illegible"`
	RetryBudget  int `yaml:"retry_budget"`
}

const fileHeader = `# scriptor configuration
#
# API keys may reference environment variables with ${VAR_NAME}.
# Every value can also be overridden with SCRIPTOR_ environment
# variables, e.g. SCRIPTOR_RASTERIZE_DPI=150.

`

// WriteDefault writes a commented default configuration to path. It
// refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file %s already exists", path)
	}

	doc := defaultFileConfig{
		DefaultProvider: "openai",
		Providers: map[string]defaultProvider{
			"openai": {
				Type:    "openai",
				Model:   "gpt-4.1",
				APIKey:  "${OPENAI_API_KEY}",
				Enabled: true,
			},
			"openrouter": {
				Type:    "openrouter",
				Model:   "anthropic/claude-sonnet-4",
				APIKey:  "${OPENROUTER_API_KEY}",
				Enabled: false,
			},
		},
		Transcribe: defaultPhase{Model: "gpt-4.1", Temperature: 0.2, MaxTokens: 4096},
		Normalize:  defaultNormalize{Model: "gpt-4.1", Temperature: 0.2, MaxTokens: 8192, ChunkPages: 5},
		Invoke:     defaultInvoke{TimeoutSeconds: 120, MaxRetries: 3, RetryDelayMS: 1000},
		Rasterize:  defaultRasterize{DPI: 300, Workers: 0},
		RateLimit:  defaultRateLimit{RequestsPerMinute: 60},
		Languages: map[string]defaultThresholds{
			"hu":      {MaxUncertain: 50, MaxIllegible: 20, RetryBudget: 1},
			"default": {MaxUncertain: 40, MaxIllegible: 15, RetryBudget: 1},
		},
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshaling default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(fileHeader), data...), 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}
