package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Forecast  ForecastConfig  `yaml:"forecast"`
	LLM       LLMConfig       `yaml:"llm"`
	Comments  CommentsConfig  `yaml:"comments"`
	Cache     CacheConfig     `yaml:"cache"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Batch     BatchConfig     `yaml:"batch"`
	Locations LocationsConfig `yaml:"locations"`
	DB        DBConfig        `yaml:"db"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server LogSettings `yaml:"server"`
	LLM    LogSettings `yaml:"llm"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// ForecastConfig holds settings for the upstream forecast service.
type ForecastConfig struct {
	BaseURL         string   `yaml:"base_url"`
	Key             string   `yaml:"key"` // env WXTECH_API_KEY
	Timeout         Duration `yaml:"timeout"`
	Retries         int      `yaml:"retries"`
	BackoffBase     Duration `yaml:"backoff_base"`
	RateLimitPerSec int      `yaml:"rate_limit_per_sec"`
	MinInterval     Duration `yaml:"min_interval"`
	CacheTTL        Duration `yaml:"cache_ttl"`
	CacheMaxSize    int      `yaml:"cache_max_size"`
}

// LLMConfig holds settings for the LLM selection collaborator.
type LLMConfig struct {
	Provider string `yaml:"provider"` // "gemini", "mock"
	Model    string `yaml:"model"`
	Key      string `yaml:"key"` // env GEMINI_API_KEY
	Unified  bool   `yaml:"unified"`
	LogPath  string `yaml:"log_path"`
}

// CommentsConfig holds the reference-comment table location.
type CommentsConfig struct {
	Dir          string   `yaml:"dir"`
	Suffix       string   `yaml:"suffix"`
	CacheTTL     Duration `yaml:"cache_ttl"`
	CacheMaxSize int      `yaml:"cache_max_size"`
}

// CacheConfig holds cache-manager settings.
type CacheConfig struct {
	MemoryLimitMB   int      `yaml:"memory_limit_mb"` // 0 disables the monitor
	MonitorInterval Duration `yaml:"monitor_interval"`
	SnapshotPath    string   `yaml:"snapshot_path"`
}

// PipelineConfig holds per-location pipeline settings.
type PipelineConfig struct {
	MaxRetries      int      `yaml:"max_retries"`
	FanoutTimeout   Duration `yaml:"fanout_timeout"`
	LocationTimeout Duration `yaml:"location_timeout"`
	EvaluationMode  string   `yaml:"evaluation_mode"` // strict, moderate, relaxed
}

// BatchConfig holds batch orchestration settings.
type BatchConfig struct {
	MaxWorkers    int  `yaml:"max_workers"`
	Deterministic bool `yaml:"deterministic"`
	PreFetch      bool `yaml:"prefetch"`
}

// LocationsConfig points at the location catalogue file.
type LocationsConfig struct {
	Catalogue string `yaml:"catalogue"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path string `yaml:"path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Server: LogSettings{Path: "./logs/server.log", Level: "INFO"},
			LLM:    LogSettings{Path: "./logs/llm.log", Level: "INFO"},
		},
		Forecast: ForecastConfig{
			BaseURL:         "https://wxtech.weathernews.com/api/v1/ss1wx",
			Key:             "",
			Timeout:         Duration(30 * time.Second),
			Retries:         3,
			BackoffBase:     Duration(1 * time.Second),
			RateLimitPerSec: 10,
			MinInterval:     Duration(100 * time.Millisecond),
			CacheTTL:        Duration(600 * time.Second),
			CacheMaxSize:    200,
		},
		LLM: LLMConfig{
			Provider: "mock",
			Model:    "gemini-2.5-flash-lite",
			Key:      "",
			Unified:  true,
			LogPath:  "./logs/llm.log",
		},
		Comments: CommentsConfig{
			Dir:          "./data/comments",
			Suffix:       "_enhanced100.csv",
			CacheTTL:     Duration(time.Hour),
			CacheMaxSize: 1000,
		},
		Cache: CacheConfig{
			MemoryLimitMB:   0,
			MonitorInterval: Duration(30 * time.Second),
			SnapshotPath:    "./data/cache_stats.json",
		},
		Pipeline: PipelineConfig{
			MaxRetries:      5,
			FanoutTimeout:   Duration(30 * time.Second),
			LocationTimeout: Duration(30 * time.Second),
			EvaluationMode:  "moderate",
		},
		Batch: BatchConfig{
			MaxWorkers:    16,
			Deterministic: false,
			PreFetch:      false,
		},
		Locations: LocationsConfig{Catalogue: "./data/locations.yaml"},
		DB:        DBConfig{Path: "./data/kazeguide.db"},
	}
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// If the file exists, it merges defaults with existing values but does NOT
// save back to disk (to preserve user formatting and comments).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		applyEnvFallbacks(cfg)
		return cfg, nil
	}

	if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}
	applyEnvFallbacks(cfg)
	return cfg, nil
}

// applyEnvFallbacks fills empty API keys from the environment.
func applyEnvFallbacks(cfg *Config) {
	if cfg.Forecast.Key == "" {
		if key := os.Getenv("WXTECH_API_KEY"); key != "" {
			cfg.Forecast.Key = key
		}
	}
	if cfg.LLM.Key == "" {
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			cfg.LLM.Key = key
		}
	}
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# kazeguide Configuration
# ----------------------
# Duration units: ns, us, ms, s, m, h, d (day), w (week)
# API keys may also come from the environment:
#   WXTECH_API_KEY, GEMINI_API_KEY

`)
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
