// Package config loads the layered application configuration: built-in
// defaults, an optional YAML file, then environment variables (highest
// precedence). A Config value is immutable once loaded and is threaded
// through constructors.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Refresh     Refresh     `mapstructure:"refresh"`
	Aggregation Aggregation `mapstructure:"aggregation"`
	HTTP        HTTP        `mapstructure:"http"`
	Cache       Cache       `mapstructure:"cache"`
	Server      Server      `mapstructure:"server"`
	Sources     Sources     `mapstructure:"sources"`
	Insight     Insight     `mapstructure:"insight"`
	Logging     Logging     `mapstructure:"logging"`
}

// Refresh controls the background refresh loop.
type Refresh struct {
	Interval       time.Duration `mapstructure:"interval"`        // Tick period, default 5m
	StaleThreshold time.Duration `mapstructure:"stale_threshold"` // Bootstrap refreshes if the snapshot is older
	ShutdownGrace  time.Duration `mapstructure:"shutdown_grace"`  // Wait for in-flight work on shutdown
	SnapshotPath   string        `mapstructure:"snapshot_path"`   // On-disk snapshot cache file
}

// Aggregation controls the collect-and-fuse run.
type Aggregation struct {
	MaxRetries     int           `mapstructure:"max_retries"`     // Per-adapter retry cap
	RetryDelay     time.Duration `mapstructure:"retry_delay"`     // Base backoff
	AdapterTimeout time.Duration `mapstructure:"adapter_timeout"` // Per-adapter deadline
	Timeout        time.Duration `mapstructure:"timeout"`         // Whole-run deadline
	TopCap         int           `mapstructure:"top_cap"`         // Max fused keywords retained
	PerSourceLimit int           `mapstructure:"per_source_limit"`
	MinSources     int           `mapstructure:"min_sources"` // Portal-combine filter
}

// HTTP controls the outbound fetcher.
type HTTP struct {
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Proxy      string        `mapstructure:"proxy"`
}

// Cache holds cache layer configuration.
type Cache struct {
	Dir             string        `mapstructure:"dir"`
	MemoryTTL       time.Duration `mapstructure:"memory_ttl"`
	FileTTL         time.Duration `mapstructure:"file_ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// Server holds the HTTP query surface configuration.
type Server struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Sources holds per-source-family settings and credentials.
type Sources struct {
	YouTubeAPIKey     string `mapstructure:"youtube_api_key"`
	YouTubeRegion     string `mapstructure:"youtube_region"`
	NaverClientID     string `mapstructure:"naver_client_id"`
	NaverClientSecret string `mapstructure:"naver_client_secret"`
	NewsCategory      string `mapstructure:"news_category"`
}

// Insight holds the LLM topic clusterer configuration.
type Insight struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key"`
	Model        string `mapstructure:"model"`
	HookCount    int    `mapstructure:"hook_count"` // Hooks requested per topic
}

// Logging holds logging configuration.
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "console" or "json"
}

// Load reads configuration from defaults, the given config file (or
// .trendwatch.yaml in the working directory and $HOME) and the environment.
// A .env file in the working directory is loaded first when present.
func Load(configFile string) (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Fprintf(os.Stderr, "warning: error loading .env file: %v\n", err)
		}
	}

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
		v.SetConfigName(".trendwatch")
		v.SetConfigType("yaml")
	}

	setDefaults(v)
	bindEnvironment(v)

	v.SetEnvPrefix("TRENDWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("refresh.interval", "300s")
	v.SetDefault("refresh.stale_threshold", "3600s")
	v.SetDefault("refresh.shutdown_grace", "10s")
	v.SetDefault("refresh.snapshot_path", "results/api_cache.json")

	v.SetDefault("aggregation.max_retries", 3)
	v.SetDefault("aggregation.retry_delay", "1s")
	v.SetDefault("aggregation.adapter_timeout", "30s")
	v.SetDefault("aggregation.timeout", "120s")
	v.SetDefault("aggregation.top_cap", 100)
	v.SetDefault("aggregation.per_source_limit", 50)
	v.SetDefault("aggregation.min_sources", 2)

	v.SetDefault("http.max_retries", 3)
	v.SetDefault("http.retry_delay", "1s")
	v.SetDefault("http.timeout", "10s")

	v.SetDefault("cache.dir", ".cache")
	v.SetDefault("cache.memory_ttl", "300s")
	v.SetDefault("cache.file_ttl", "3600s")
	v.SetDefault("cache.cleanup_interval", "60s")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)

	v.SetDefault("sources.youtube_region", "KR")

	v.SetDefault("insight.model", "gemini-1.5-flash")
	v.SetDefault("insight.hook_count", 3)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// bindEnvironment maps the credential variables that predate the
// TRENDWATCH_ prefix convention.
func bindEnvironment(v *viper.Viper) {
	bind := map[string][]string{
		"sources.youtube_api_key":     {"YOUTUBE_API_KEY"},
		"sources.naver_client_id":     {"NAVER_CLIENT_ID"},
		"sources.naver_client_secret": {"NAVER_CLIENT_SECRET"},
		"insight.gemini_api_key":      {"GEMINI_API_KEY", "GOOGLE_AI_API_KEY"},
		"http.proxy":                  {"HTTP_PROXY", "HTTPS_PROXY"},
	}
	for key, envs := range bind {
		args := append([]string{key}, envs...)
		_ = v.BindEnv(args...)
	}
}

func validate(cfg *Config) error {
	if cfg.Refresh.Interval <= 0 {
		return fmt.Errorf("config: refresh.interval must be positive, got %s", cfg.Refresh.Interval)
	}
	if cfg.Aggregation.TopCap <= 0 {
		return fmt.Errorf("config: aggregation.top_cap must be positive, got %d", cfg.Aggregation.TopCap)
	}
	if cfg.Aggregation.MaxRetries < 1 {
		return fmt.Errorf("config: aggregation.max_retries must be at least 1, got %d", cfg.Aggregation.MaxRetries)
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("config: server.port out of range: %d", cfg.Server.Port)
	}
	if cfg.Aggregation.MinSources < 1 {
		return fmt.Errorf("config: aggregation.min_sources must be at least 1, got %d", cfg.Aggregation.MinSources)
	}
	return nil
}
