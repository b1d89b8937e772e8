package main

import (
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	DBPath      string `yaml:"db_path"`
	CatalogPath string `yaml:"catalog_path"`

	LLMProvider     string `yaml:"llm_provider"`
	LLMModel        string `yaml:"llm_model"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`

	MarketAPIURL      string `yaml:"market_api_url"`
	MarketAPIKey      string `yaml:"market_api_key"`
	MarketMaxListings int    `yaml:"market_max_listings"`

	ClassifierTimeoutSeconds int `yaml:"classifier_timeout_seconds"`
	MarketTimeoutSeconds     int `yaml:"market_timeout_seconds"`

	SummaryMaxItems     int    `yaml:"summary_max_items"`
	SuggestionThreshold int    `yaml:"suggestion_threshold"`
	PriceRefreshCron    string `yaml:"price_refresh_cron"`
}

func LoadConfig() Config {
	var cfg Config

	// Load from config.yaml if it exists
	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	// Env vars override YAML values
	envOverride(&cfg.HTTPAddr, "HTTP_ADDR")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.CatalogPath, "CATALOG_PATH")
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.OpenAIBaseURL, "OPENAI_BASE_URL")
	envOverride(&cfg.MarketAPIURL, "MARKET_API_URL")
	envOverride(&cfg.MarketAPIKey, "MARKET_API_KEY")
	envOverrideInt(&cfg.MarketMaxListings, "MARKET_MAX_LISTINGS")
	envOverrideInt(&cfg.ClassifierTimeoutSeconds, "CLASSIFIER_TIMEOUT_SECONDS")
	envOverrideInt(&cfg.MarketTimeoutSeconds, "MARKET_TIMEOUT_SECONDS")
	envOverrideInt(&cfg.SummaryMaxItems, "SUMMARY_MAX_ITEMS")
	envOverrideInt(&cfg.SuggestionThreshold, "SUGGESTION_THRESHOLD")
	envOverride(&cfg.PriceRefreshCron, "PRICE_REFRESH_CRON")

	// Defaults
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./bakuscan.db"
	}
	if cfg.CatalogPath == "" {
		cfg.CatalogPath = "./bakugan_catalog.json"
	}
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "anthropic"
	}
	if cfg.OpenAIBaseURL == "" {
		cfg.OpenAIBaseURL = "https://api.openai.com/v1"
	}
	if cfg.MarketMaxListings == 0 {
		cfg.MarketMaxListings = 10
	}
	if cfg.ClassifierTimeoutSeconds == 0 {
		cfg.ClassifierTimeoutSeconds = 60
	}
	if cfg.MarketTimeoutSeconds == 0 {
		cfg.MarketTimeoutSeconds = 30
	}
	if cfg.SummaryMaxItems == 0 {
		cfg.SummaryMaxItems = 10
	}
	if cfg.SuggestionThreshold == 0 {
		cfg.SuggestionThreshold = 2
	}

	switch cfg.LLMProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			log.Fatalf("anthropic_api_key is required when llm_provider=anthropic")
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			log.Fatalf("openai_api_key is required when llm_provider=openai")
		}
	default:
		log.Fatalf("llm_provider must be 'anthropic' or 'openai', got '%s'", cfg.LLMProvider)
	}

	if cfg.ClassifierTimeoutSeconds < 1 {
		log.Fatalf("invalid classifier_timeout_seconds '%d': must be >= 1", cfg.ClassifierTimeoutSeconds)
	}
	if cfg.MarketTimeoutSeconds < 1 {
		log.Fatalf("invalid market_timeout_seconds '%d': must be >= 1", cfg.MarketTimeoutSeconds)
	}
	if cfg.SummaryMaxItems < 1 {
		log.Fatalf("invalid summary_max_items '%d': must be >= 1", cfg.SummaryMaxItems)
	}
	if cfg.SuggestionThreshold < 1 {
		log.Fatalf("invalid suggestion_threshold '%d': must be >= 1", cfg.SuggestionThreshold)
	}
	if cfg.MarketMaxListings < 1 {
		log.Fatalf("invalid market_max_listings '%d': must be >= 1", cfg.MarketMaxListings)
	}

	return cfg
}

// MarketConfigured reports whether a marketplace pricing API is set up.
// Pricing is optional; the identification path degrades without it.
func (c Config) MarketConfigured() bool {
	return c.MarketAPIURL != ""
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}
