// Package config loads process settings from the environment and the
// governance deployment from a YAML file.
package config

import (
	"log/slog"
	"os"
	"strings"
)

// Config holds daemon configuration.
type Config struct {
	Port           string
	LogLevel       string
	DeploymentPath string
	StoreDriver    string
	StoreDSN       string
	// RedisAddr enables the indexer feed when set.
	RedisAddr    string
	JWTSecret    string
	OTelEnabled  bool
	OTelEndpoint string
	OTelInsecure bool
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:           getenv("PORT", "8080"),
		LogLevel:       getenv("LOG_LEVEL", "INFO"),
		DeploymentPath: getenv("DEFCON_CONFIG", "defcon.yaml"),
		StoreDriver:    getenv("DEFCON_STORE_DRIVER", "sqlite"),
		StoreDSN:       getenv("DEFCON_STORE_DSN", "data/defcon.db"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		OTelEnabled:    os.Getenv("OTEL_ENABLED") == "true",
		OTelEndpoint:   getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTelInsecure:   os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true",
	}
}

// SlogLevel maps LogLevel to a slog level, defaulting to Info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
