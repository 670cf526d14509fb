// Package config loads research engine configuration from environment
// variables with an optional YAML file of defaults. Environment variables
// always win over YAML values, which in turn win over the hardcoded
// defaults below.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"deepresearch/internal/llm"
)

// Config holds all configuration for a research session.
type Config struct {
	SearchProvider ProviderConfig  `yaml:"searchProvider"`
	LLMProvider    ProviderConfig  `yaml:"llmProvider"`
	DefaultModelID string          `yaml:"defaultModelId"`
	RateLimit      RateLimitConfig `yaml:"rateLimit"`
	Engine         EngineConfig    `yaml:"engine"`
}

// ProviderConfig is the credential/endpoint bundle shared by the search and
// LLM providers.
type ProviderConfig struct {
	APIKey    string `yaml:"apiKey"`
	BaseURL   string `yaml:"baseUrl"`
	TimeoutMs int    `yaml:"timeoutMs"`
}

// RateLimitConfig configures the shared token-bucket limiter.
type RateLimitConfig struct {
	RPM              int `yaml:"rpm"`
	InitialBackoffMs int `yaml:"initialBackoffMs"`
	MaxBackoffMs     int `yaml:"maxBackoffMs"`
	Multiplier       int `yaml:"multiplier"`
}

// EngineConfig configures ResearchEngine's scheduling caps.
type EngineConfig struct {
	MaxConcurrency  int `yaml:"maxConcurrency"`
	MaxDepth        int `yaml:"maxDepth"`
	MaxBreadth      int `yaml:"maxBreadth"`
	EventBufferSize int `yaml:"eventBufferSize"`
}

func defaults() Config {
	return Config{
		SearchProvider: ProviderConfig{
			BaseURL:   "https://api.firecrawl.dev/v1/search",
			TimeoutMs: 45000,
		},
		LLMProvider: ProviderConfig{
			BaseURL:   "https://openrouter.ai/api/v1/chat/completions",
			TimeoutMs: 60000,
		},
		DefaultModelID: llm.DefaultModel,
		RateLimit: RateLimitConfig{
			RPM:              5,
			InitialBackoffMs: 1000,
			MaxBackoffMs:     60000,
			Multiplier:       2,
		},
		Engine: EngineConfig{
			MaxConcurrency:  2,
			MaxDepth:        5,
			MaxBreadth:      5,
			EventBufferSize: 64,
		},
	}
}

// Load builds a Config starting from hardcoded defaults, overlaying an
// optional YAML file (yamlPath, ignored if empty or unreadable), then
// overlaying process environment variables, which always take precedence.
// A .env file in the working directory is loaded first if present.
func Load(yamlPath string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaults()

	if yamlPath != "" {
		if data, err := os.ReadFile(yamlPath); err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, err
			}
		}
	}

	applyEnv(&cfg)
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("SEARCH_PROVIDER_API_KEY"); v != "" {
		cfg.SearchProvider.APIKey = v
	}
	if v := os.Getenv("SEARCH_PROVIDER_BASE_URL"); v != "" {
		cfg.SearchProvider.BaseURL = v
	}
	if v := envInt("SEARCH_PROVIDER_TIMEOUT_MS"); v != 0 {
		cfg.SearchProvider.TimeoutMs = v
	}

	if v := os.Getenv("LLM_PROVIDER_API_KEY"); v != "" {
		cfg.LLMProvider.APIKey = v
	}
	if v := os.Getenv("LLM_PROVIDER_BASE_URL"); v != "" {
		cfg.LLMProvider.BaseURL = v
	}
	if v := envInt("LLM_PROVIDER_TIMEOUT_MS"); v != 0 {
		cfg.LLMProvider.TimeoutMs = v
	}

	if v := os.Getenv("DEFAULT_MODEL_ID"); v != "" {
		cfg.DefaultModelID = v
	}

	if v := envInt("RATE_LIMIT_RPM"); v != 0 {
		cfg.RateLimit.RPM = v
	}
	if v := envInt("RATE_LIMIT_INITIAL_BACKOFF_MS"); v != 0 {
		cfg.RateLimit.InitialBackoffMs = v
	}
	if v := envInt("RATE_LIMIT_MAX_BACKOFF_MS"); v != 0 {
		cfg.RateLimit.MaxBackoffMs = v
	}
	if v := envInt("RATE_LIMIT_MULTIPLIER"); v != 0 {
		cfg.RateLimit.Multiplier = v
	}

	if v := envInt("ENGINE_MAX_CONCURRENCY"); v != 0 {
		cfg.Engine.MaxConcurrency = v
	}
	if v := envInt("ENGINE_MAX_DEPTH"); v != 0 {
		cfg.Engine.MaxDepth = v
	}
	if v := envInt("ENGINE_MAX_BREADTH"); v != 0 {
		cfg.Engine.MaxBreadth = v
	}
	if v := envInt("ENGINE_EVENT_BUFFER_SIZE"); v != 0 {
		cfg.Engine.EventBufferSize = v
	}
}

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
