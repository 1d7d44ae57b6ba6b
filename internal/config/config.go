package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the persona voice relay.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	OpenAIAPIKey      string
	OpenAIRealtimeURL string
	OpenAIModel       string

	DatabaseURL        string
	PersonaCatalogPath string

	LogLevel      string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:           envOrDefault("APP_BIND_ADDR", ":8000"),
		MetricsNamespace:   envOrDefault("APP_METRICS_NAMESPACE", "voxlink"),
		OpenAIRealtimeURL:  envOrDefault("OPENAI_REALTIME_URL", "wss://api.openai.com/v1/realtime"),
		OpenAIModel:        envOrDefault("OPENAI_REALTIME_MODEL", "gpt-4o-realtime-preview-2024-10-01"),
		OpenAIAPIKey:       trimmedEnv("OPENAI_API_KEY"),
		DatabaseURL:        trimmedEnv("DATABASE_URL"),
		PersonaCatalogPath: trimmedEnv("PERSONA_CATALOG_PATH"),
		LogLevel:           envOrDefault("LOG_LEVEL", "info"),
		LogFile:            trimmedEnv("LOG_FILE"),
		LogMaxSizeMB:       50,
		LogMaxBackups:      3,
		LogMaxAgeDays:      14,
		ShutdownTimeout:    15 * time.Second,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.LogMaxSizeMB, err = intFromEnv("LOG_MAX_SIZE_MB", cfg.LogMaxSizeMB)
	if err != nil {
		return Config{}, err
	}
	cfg.LogMaxBackups, err = intFromEnv("LOG_MAX_BACKUPS", cfg.LogMaxBackups)
	if err != nil {
		return Config{}, err
	}
	cfg.LogMaxAgeDays, err = intFromEnv("LOG_MAX_AGE_DAYS", cfg.LogMaxAgeDays)
	if err != nil {
		return Config{}, err
	}

	if cfg.ShutdownTimeout < time.Second {
		return Config{}, fmt.Errorf("APP_SHUTDOWN_TIMEOUT must be at least 1s")
	}
	if cfg.LogMaxSizeMB <= 0 {
		return Config{}, fmt.Errorf("LOG_MAX_SIZE_MB must be positive")
	}
	if !strings.HasPrefix(cfg.OpenAIRealtimeURL, "ws://") && !strings.HasPrefix(cfg.OpenAIRealtimeURL, "wss://") {
		return Config{}, fmt.Errorf("OPENAI_REALTIME_URL must be a ws:// or wss:// URL")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
