package lending

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Config holds the environment configuration for the client.
type Config struct {
	// APIURL is the base URL of the lending service, e.g.
	// https://library.example.org/api. Required.
	APIURL string

	// StateDB is the path of the local SQLite state file holding the
	// persisted session. Defaults to lending.db in the working dir.
	StateDB string

	// HTTPTimeout bounds every request so no action can hang a view
	// forever. Default 15s.
	HTTPTimeout time.Duration

	LogLevel slog.Level
}

// LoadConfig reads environment variables and returns a validated
// Config. Returns an error if LIBRARY_API_URL is missing.
func LoadConfig() (*Config, error) {
	cfg := &Config{}

	cfg.APIURL = strings.TrimRight(os.Getenv("LIBRARY_API_URL"), "/")
	if cfg.APIURL == "" {
		return nil, fmt.Errorf("LIBRARY_API_URL is required")
	}

	cfg.StateDB = os.Getenv("LIBRARY_STATE_DB")
	if cfg.StateDB == "" {
		cfg.StateDB = "lending.db"
	}

	cfg.HTTPTimeout = envDuration("LIBRARY_HTTP_TIMEOUT", 15*time.Second)

	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		cfg.LogLevel = slog.LevelDebug
	case "warn":
		cfg.LogLevel = slog.LevelWarn
	case "error":
		cfg.LogLevel = slog.LevelError
	default:
		cfg.LogLevel = slog.LevelInfo
	}

	return cfg, nil
}

// envDuration reads an env var as time.Duration, returning def if
// missing or unparseable.
func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		slog.Warn("invalid env var, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}
