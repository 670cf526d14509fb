package config

import (
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"SEARCH_PROVIDER_API_KEY", "SEARCH_PROVIDER_BASE_URL", "SEARCH_PROVIDER_TIMEOUT_MS",
		"LLM_PROVIDER_API_KEY", "LLM_PROVIDER_BASE_URL", "LLM_PROVIDER_TIMEOUT_MS",
		"DEFAULT_MODEL_ID", "RATE_LIMIT_RPM", "RATE_LIMIT_INITIAL_BACKOFF_MS",
		"RATE_LIMIT_MAX_BACKOFF_MS", "RATE_LIMIT_MULTIPLIER",
		"ENGINE_MAX_CONCURRENCY", "ENGINE_MAX_DEPTH", "ENGINE_MAX_BREADTH", "ENGINE_EVENT_BUFFER_SIZE",
	}
	for _, k := range keys {
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RateLimit.RPM != 5 {
		t.Fatalf("expected default RPM 5, got %d", cfg.RateLimit.RPM)
	}
	if cfg.Engine.EventBufferSize != 64 {
		t.Fatalf("expected default event buffer size 64, got %d", cfg.Engine.EventBufferSize)
	}
	if cfg.SearchProvider.TimeoutMs != 45000 {
		t.Fatalf("expected default search timeout 45000ms, got %d", cfg.SearchProvider.TimeoutMs)
	}
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	clearEnv(t)
	os.Setenv("RATE_LIMIT_RPM", "10")
	defer os.Unsetenv("RATE_LIMIT_RPM")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RateLimit.RPM != 10 {
		t.Fatalf("expected env override to 10, got %d", cfg.RateLimit.RPM)
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "config.yaml")
	yamlContent := "rateLimit:\n  rpm: 20\nengine:\n  maxDepth: 3\n"
	if err := os.WriteFile(yamlPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp yaml: %v", err)
	}

	os.Setenv("RATE_LIMIT_RPM", "99")
	defer os.Unsetenv("RATE_LIMIT_RPM")

	cfg, err := Load(yamlPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RateLimit.RPM != 99 {
		t.Fatalf("expected env (99) to win over yaml (20), got %d", cfg.RateLimit.RPM)
	}
	if cfg.Engine.MaxDepth != 3 {
		t.Fatalf("expected yaml value for unset-by-env field, got %d", cfg.Engine.MaxDepth)
	}
}

func TestLoad_MissingYAMLFileIsIgnored(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("expected missing yaml file to be ignored, got error: %v", err)
	}
	if cfg.RateLimit.RPM != 5 {
		t.Fatalf("expected defaults when yaml missing, got %d", cfg.RateLimit.RPM)
	}
}
