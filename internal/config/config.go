// Package config loads application configuration from a YAML file,
// environment variables, and an optional .env file.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App         App         `mapstructure:"app"`
	Retrieval   Retrieval   `mapstructure:"retrieval"`
	Connectors  Connectors  `mapstructure:"connectors"`
	Persistence Persistence `mapstructure:"persistence"`
	Server      Server      `mapstructure:"server"`
	Logging     Logging     `mapstructure:"logging"`
}

// App holds general application configuration.
type App struct {
	Debug        bool   `mapstructure:"debug"`
	LogLevel     string `mapstructure:"log_level"`
	ConfigFile   string `mapstructure:"config_file"`
	RecencyHours int    `mapstructure:"recency_hours"`
}

// Retrieval holds the orchestrator's budgets and thresholds.
type Retrieval struct {
	MinAccepted        int     `mapstructure:"min_accepted"`
	MaxAttempts        int     `mapstructure:"max_attempts"`
	MaxCandidates      int     `mapstructure:"max_candidates"`
	GlobalConcurrency  int     `mapstructure:"global_concurrency"`
	PerHostConcurrency int     `mapstructure:"per_host_concurrency"`
	FetchTimeoutMs     int     `mapstructure:"fetch_timeout_ms"`
	TotalBudgetMs      int     `mapstructure:"total_budget_ms"`
	CacheTTLMs         int     `mapstructure:"cache_ttl_ms"`
	UserAgent          string  `mapstructure:"user_agent"`
	MinWordCount       int     `mapstructure:"min_word_count"`
	MinUniqueWords     int     `mapstructure:"min_unique_words"`
	MinRelevance       float64 `mapstructure:"min_relevance"`
	ClusterThreshold   float64 `mapstructure:"cluster_threshold"`
	AttachThreshold    float64 `mapstructure:"attach_threshold"`
	MaxClusters        int     `mapstructure:"max_clusters"`
	SimilarityDedupe   bool    `mapstructure:"similarity_dedupe"`
}

// Connectors holds configuration for all retrieval providers.
type Connectors struct {
	WebSearch     WebSearch     `mapstructure:"web_search"`
	WebNewsRSS    WebNewsRSS    `mapstructure:"web_news_rss"`
	NewsAPI       NewsAPI       `mapstructure:"news_api"`
	EventRegistry EventRegistry `mapstructure:"event_registry"`
}

// WebSearch holds programmable web search configuration.
type WebSearch struct {
	APIKey         string   `mapstructure:"api_key"`
	SearchEngineID string   `mapstructure:"search_engine_id"`
	Enabled        bool     `mapstructure:"enabled"`
	NewsOnly       bool     `mapstructure:"news_only"`
	AllowedHosts   []string `mapstructure:"allowed_hosts"`
}

// WebNewsRSS holds aggregator feed configuration.
type WebNewsRSS struct {
	Enabled    bool   `mapstructure:"enabled"`
	HL         string `mapstructure:"hl"`
	GL         string `mapstructure:"gl"`
	CEID       string `mapstructure:"ceid"`
	MaxResults int    `mapstructure:"max_results"`
}

// NewsAPI holds news API configuration.
type NewsAPI struct {
	APIKey   string `mapstructure:"api_key"`
	PageSize int    `mapstructure:"page_size"`
	Enabled  bool   `mapstructure:"enabled"`
}

// EventRegistry holds event registry configuration.
type EventRegistry struct {
	APIKey        string `mapstructure:"api_key"`
	LookbackHours int    `mapstructure:"lookback_hours"`
	MaxEvents     int    `mapstructure:"max_events"`
	Enabled       bool   `mapstructure:"enabled"`
}

// Persistence selects and configures the artifact store.
type Persistence struct {
	Mode    string `mapstructure:"mode"`
	RootDir string `mapstructure:"root_dir"`
}

// Server holds HTTP server configuration.
type Server struct {
	Addr                string `mapstructure:"addr"`
	HeartbeatIntervalMs int    `mapstructure:"heartbeat_interval_ms"`
	ShutdownTimeoutMs   int    `mapstructure:"shutdown_timeout_ms"`
}

// Logging holds log output configuration.
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var globalConfig *Config

// Load loads the configuration from various sources.
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".storymill")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary.
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// Reset clears the cached configuration. Used by tests.
func Reset() {
	globalConfig = nil
	viper.Reset()
}

func setDefaults() {
	viper.SetDefault("app.debug", false)
	viper.SetDefault("app.log_level", "info")
	viper.SetDefault("app.recency_hours", 24)

	viper.SetDefault("retrieval.min_accepted", 8)
	viper.SetDefault("retrieval.max_attempts", 24)
	viper.SetDefault("retrieval.max_candidates", 20)
	viper.SetDefault("retrieval.global_concurrency", 4)
	viper.SetDefault("retrieval.per_host_concurrency", 2)
	viper.SetDefault("retrieval.fetch_timeout_ms", 10000)
	viper.SetDefault("retrieval.total_budget_ms", 60000)
	viper.SetDefault("retrieval.cache_ttl_ms", 900000)
	viper.SetDefault("retrieval.user_agent", "")
	viper.SetDefault("retrieval.min_word_count", 120)
	viper.SetDefault("retrieval.min_unique_words", 60)
	viper.SetDefault("retrieval.min_relevance", 0.1)
	viper.SetDefault("retrieval.cluster_threshold", 0.65)
	viper.SetDefault("retrieval.attach_threshold", 0.55)
	viper.SetDefault("retrieval.max_clusters", 5)
	viper.SetDefault("retrieval.similarity_dedupe", false)

	viper.SetDefault("connectors.web_search.enabled", true)
	viper.SetDefault("connectors.web_search.news_only", true)
	viper.SetDefault("connectors.web_news_rss.enabled", true)
	viper.SetDefault("connectors.web_news_rss.hl", "en-US")
	viper.SetDefault("connectors.web_news_rss.gl", "US")
	viper.SetDefault("connectors.web_news_rss.ceid", "US:en")
	viper.SetDefault("connectors.web_news_rss.max_results", 50)
	viper.SetDefault("connectors.news_api.enabled", true)
	viper.SetDefault("connectors.news_api.page_size", 100)
	viper.SetDefault("connectors.event_registry.enabled", true)
	viper.SetDefault("connectors.event_registry.lookback_hours", 48)
	viper.SetDefault("connectors.event_registry.max_events", 50)

	viper.SetDefault("persistence.mode", "fs")
	viper.SetDefault("persistence.root_dir", ".storymill-artifacts")

	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("server.heartbeat_interval_ms", 15000)
	viper.SetDefault("server.shutdown_timeout_ms", 10000)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

// bindEnvironmentVariables maps well-known environment variable names onto
// config keys, accepting the aliases users actually set.
func bindEnvironmentVariables() {
	bindEnvKeys("connectors.web_search.api_key", []string{
		"WEB_SEARCH_API_KEY",
		"GOOGLE_CUSTOM_SEARCH_API_KEY",
		"GOOGLE_CSE_API_KEY",
	})
	bindEnvKeys("connectors.web_search.search_engine_id", []string{
		"WEB_SEARCH_ENGINE_ID",
		"GOOGLE_CUSTOM_SEARCH_ID",
		"GOOGLE_CSE_ID",
	})
	bindEnvKeys("connectors.news_api.api_key", []string{
		"NEWS_API_KEY",
		"NEWSAPI_KEY",
	})
	bindEnvKeys("connectors.event_registry.api_key", []string{
		"EVENT_REGISTRY_API_KEY",
		"EVENTREGISTRY_KEY",
	})
	bindEnvKeys("app.debug", []string{
		"DEBUG",
		"STORYMILL_DEBUG",
	})
	bindEnvKeys("app.log_level", []string{
		"STORYMILL_LOG_LEVEL",
		"LOG_LEVEL",
	})
	bindEnvKeys("persistence.root_dir", []string{
		"STORYMILL_ARTIFACT_DIR",
	})
	bindEnvKeys("server.addr", []string{
		"STORYMILL_ADDR",
	})
}

// bindEnvKeys binds the first found environment variable to a viper key.
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}

func validateConfig(config *Config) error {
	if config.Retrieval.MinAccepted < 0 {
		return fmt.Errorf("retrieval.min_accepted must not be negative")
	}
	if config.Retrieval.MaxAttempts <= 0 {
		return fmt.Errorf("retrieval.max_attempts must be positive")
	}
	if config.Retrieval.GlobalConcurrency <= 0 {
		return fmt.Errorf("retrieval.global_concurrency must be positive")
	}
	if config.Retrieval.PerHostConcurrency <= 0 {
		return fmt.Errorf("retrieval.per_host_concurrency must be positive")
	}
	if config.Retrieval.TotalBudgetMs <= 0 {
		return fmt.Errorf("retrieval.total_budget_ms must be positive")
	}
	switch config.Persistence.Mode {
	case "fs", "off":
	default:
		return fmt.Errorf("persistence.mode must be fs or off, got %q", config.Persistence.Mode)
	}
	return nil
}
