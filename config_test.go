package main

import (
	"os"
	"path/filepath"
	"testing"
)

// pinConfigEnv points CONFIG_PATH at a nonexistent file and pins every env
// override to a known value so ambient environment cannot leak into the test.
func pinConfigEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing-config.yaml"))
	for _, key := range []string{
		"HTTP_ADDR", "DB_PATH", "CATALOG_PATH",
		"LLM_PROVIDER", "LLM_MODEL", "ANTHROPIC_API_KEY", "OPENAI_API_KEY", "OPENAI_BASE_URL",
		"MARKET_API_URL", "MARKET_API_KEY", "MARKET_MAX_LISTINGS",
		"CLASSIFIER_TIMEOUT_SECONDS", "MARKET_TIMEOUT_SECONDS",
		"SUMMARY_MAX_ITEMS", "SUGGESTION_THRESHOLD", "PRICE_REFRESH_CRON",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	pinConfigEnv(t)
	t.Setenv("ANTHROPIC_API_KEY", "test-key")

	cfg := LoadConfig()

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("expected default http_addr :8080, got %q", cfg.HTTPAddr)
	}
	if cfg.DBPath != "./bakuscan.db" {
		t.Errorf("expected default db_path, got %q", cfg.DBPath)
	}
	if cfg.CatalogPath != "./bakugan_catalog.json" {
		t.Errorf("expected default catalog_path, got %q", cfg.CatalogPath)
	}
	if cfg.LLMProvider != "anthropic" {
		t.Errorf("expected default provider anthropic, got %q", cfg.LLMProvider)
	}
	if cfg.OpenAIBaseURL != "https://api.openai.com/v1" {
		t.Errorf("expected default openai base URL, got %q", cfg.OpenAIBaseURL)
	}
	if cfg.ClassifierTimeoutSeconds != 60 || cfg.MarketTimeoutSeconds != 30 {
		t.Errorf("unexpected default timeouts: %d %d", cfg.ClassifierTimeoutSeconds, cfg.MarketTimeoutSeconds)
	}
	if cfg.SummaryMaxItems != 10 {
		t.Errorf("expected default summary_max_items 10, got %d", cfg.SummaryMaxItems)
	}
	if cfg.SuggestionThreshold != 2 {
		t.Errorf("expected default suggestion_threshold 2, got %d", cfg.SuggestionThreshold)
	}
	if cfg.MarketMaxListings != 10 {
		t.Errorf("expected default market_max_listings 10, got %d", cfg.MarketMaxListings)
	}
	if cfg.MarketConfigured() {
		t.Error("market must not be configured by default")
	}
	if cfg.PriceRefreshCron != "" {
		t.Errorf("expected price refresh disabled by default, got %q", cfg.PriceRefreshCron)
	}
}

func TestLoadConfigFromYAML(t *testing.T) {
	pinConfigEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
http_addr: ":9090"
llm_provider: "openai"
openai_api_key: "yaml-key"
market_api_url: "https://pricing.example.com"
summary_max_items: 5
suggestion_threshold: 3
price_refresh_cron: "0 3 * * *"
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)

	cfg := LoadConfig()

	if cfg.HTTPAddr != ":9090" {
		t.Errorf("expected http_addr from yaml, got %q", cfg.HTTPAddr)
	}
	if cfg.LLMProvider != "openai" || cfg.OpenAIAPIKey != "yaml-key" {
		t.Errorf("expected openai provider from yaml, got %q/%q", cfg.LLMProvider, cfg.OpenAIAPIKey)
	}
	if !cfg.MarketConfigured() {
		t.Error("expected market configured from yaml")
	}
	if cfg.SummaryMaxItems != 5 || cfg.SuggestionThreshold != 3 {
		t.Errorf("unexpected tuning values: %d %d", cfg.SummaryMaxItems, cfg.SuggestionThreshold)
	}
	if cfg.PriceRefreshCron != "0 3 * * *" {
		t.Errorf("unexpected refresh schedule: %q", cfg.PriceRefreshCron)
	}
	// Unset yaml keys still get defaults.
	if cfg.DBPath != "./bakuscan.db" {
		t.Errorf("expected default db_path, got %q", cfg.DBPath)
	}
}

func TestLoadConfigEnvOverridesYAML(t *testing.T) {
	pinConfigEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
llm_provider: "anthropic"
anthropic_api_key: "yaml-key"
summary_max_items: 5
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	t.Setenv("SUMMARY_MAX_ITEMS", "7")

	cfg := LoadConfig()

	if cfg.AnthropicAPIKey != "env-key" {
		t.Errorf("expected env override for api key, got %q", cfg.AnthropicAPIKey)
	}
	if cfg.SummaryMaxItems != 7 {
		t.Errorf("expected env override for summary_max_items, got %d", cfg.SummaryMaxItems)
	}
}
