// Package config resolves dispatchd's startup-only settings from
// environment variables, optionally overlaid with values from a local
// YAML file. Environment variables take precedence over the file when
// both set the same key — env is the last word, matching how every other
// service in this codebase treats its env-first configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds every setting dispatchd reads once at startup.
type Config struct {
	Port         string
	DataRoot     string
	DBPath       string
	PollInterval time.Duration
	HeartbeatStale time.Duration
	PluginSearchPath string
	MaxUploadBytes int64
	ToolTimeout  time.Duration

	RedisURL  string
	SentryDSN string
	Env       string

	LogFormat string
	LogLevel  string

	SubmitRate   int
	SubmitWindow time.Duration
}

// fileOverlay mirrors the subset of Config that may be set from
// DISPATCH_CONFIG_FILE. Fields left empty/zero in the file do not
// override an env-resolved default.
type fileOverlay struct {
	Port             string `yaml:"port"`
	DataRoot         string `yaml:"data_root"`
	DBPath           string `yaml:"db_path"`
	PollIntervalMS   int    `yaml:"poll_interval_ms"`
	HeartbeatStaleMS int    `yaml:"heartbeat_stale_ms"`
	PluginSearchPath string `yaml:"plugin_search_path"`
	MaxUploadBytes   int64  `yaml:"max_upload_bytes"`
	ToolTimeoutMS    int    `yaml:"tool_timeout_ms"`
	RedisURL         string `yaml:"redis_url"`
	SentryDSN        string `yaml:"sentry_dsn"`
}

// Load resolves Config from environment variables, then overlays
// DISPATCH_CONFIG_FILE (if set and present) for any field the environment
// left at its default.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		DataRoot:         getEnv("DATA_ROOT", ""),
		DBPath:           getEnv("DB_PATH", ""),
		PollInterval:     getEnvDuration("POLL_INTERVAL_MS", 500*time.Millisecond),
		HeartbeatStale:   getEnvDuration("HEARTBEAT_STALE_MS", 5000*time.Millisecond),
		PluginSearchPath: getEnv("PLUGIN_SEARCH_PATH", ""),
		MaxUploadBytes:   getEnvInt64("MAX_UPLOAD_BYTES", 512*1024*1024),
		ToolTimeout:      getEnvDuration("TOOL_TIMEOUT_MS", 0),
		RedisURL:         getEnv("REDIS_URL", ""),
		SentryDSN:        getEnv("SENTRY_DSN", ""),
		Env:              getEnv("DISPATCH_ENV", "development"),
		LogFormat:        getEnv("LOG_FORMAT", "json"),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		SubmitRate:       int(getEnvInt64("SUBMIT_RATE", 60)),
		SubmitWindow:     time.Minute,
	}

	if path := os.Getenv("DISPATCH_CONFIG_FILE"); path != "" {
		if err := applyFileOverlay(cfg, path); err != nil {
			return nil, err
		}
	}

	// HEARTBEAT_STALE_MS defaults to a fixed 5000ms when unset; only a value
	// of zero or below falls back to 10 poll intervals.
	if cfg.HeartbeatStale <= 0 {
		cfg.HeartbeatStale = 10 * cfg.PollInterval
	}

	if cfg.DataRoot == "" {
		return nil, fmt.Errorf("config: DATA_ROOT is required")
	}
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("config: DB_PATH is required")
	}

	return cfg, nil
}

func applyFileOverlay(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	if cfg.DataRoot == "" && overlay.DataRoot != "" {
		cfg.DataRoot = overlay.DataRoot
	}
	if cfg.DBPath == "" && overlay.DBPath != "" {
		cfg.DBPath = overlay.DBPath
	}
	if os.Getenv("PORT") == "" && overlay.Port != "" {
		cfg.Port = overlay.Port
	}
	if os.Getenv("PLUGIN_SEARCH_PATH") == "" && overlay.PluginSearchPath != "" {
		cfg.PluginSearchPath = overlay.PluginSearchPath
	}
	if os.Getenv("POLL_INTERVAL_MS") == "" && overlay.PollIntervalMS > 0 {
		cfg.PollInterval = time.Duration(overlay.PollIntervalMS) * time.Millisecond
	}
	if os.Getenv("HEARTBEAT_STALE_MS") == "" && overlay.HeartbeatStaleMS > 0 {
		cfg.HeartbeatStale = time.Duration(overlay.HeartbeatStaleMS) * time.Millisecond
	}
	if os.Getenv("MAX_UPLOAD_BYTES") == "" && overlay.MaxUploadBytes > 0 {
		cfg.MaxUploadBytes = overlay.MaxUploadBytes
	}
	if os.Getenv("TOOL_TIMEOUT_MS") == "" && overlay.ToolTimeoutMS > 0 {
		cfg.ToolTimeout = time.Duration(overlay.ToolTimeoutMS) * time.Millisecond
	}
	if os.Getenv("REDIS_URL") == "" && overlay.RedisURL != "" {
		cfg.RedisURL = overlay.RedisURL
	}
	if os.Getenv("SENTRY_DSN") == "" && overlay.SentryDSN != "" {
		cfg.SentryDSN = overlay.SentryDSN
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}

func getEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
