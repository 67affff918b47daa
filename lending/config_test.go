package lending

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadConfigRequiresAPIURL(t *testing.T) {
	t.Setenv("LIBRARY_API_URL", "")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("missing LIBRARY_API_URL should fail")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("LIBRARY_API_URL", "https://library.example.org/api/")
	t.Setenv("LIBRARY_STATE_DB", "")
	t.Setenv("LIBRARY_HTTP_TIMEOUT", "")
	t.Setenv("LOG_LEVEL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.APIURL != "https://library.example.org/api" {
		t.Fatalf("trailing slash not trimmed: %q", cfg.APIURL)
	}
	if cfg.StateDB != "lending.db" {
		t.Fatalf("want default state db, got %q", cfg.StateDB)
	}
	if cfg.HTTPTimeout != 15*time.Second {
		t.Fatalf("want default timeout, got %v", cfg.HTTPTimeout)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("want info level, got %v", cfg.LogLevel)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("LIBRARY_API_URL", "http://localhost:8000/api")
	t.Setenv("LIBRARY_STATE_DB", "/tmp/lib.db")
	t.Setenv("LIBRARY_HTTP_TIMEOUT", "3s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StateDB != "/tmp/lib.db" || cfg.HTTPTimeout != 3*time.Second || cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestLoadConfigBadDurationFallsBack(t *testing.T) {
	t.Setenv("LIBRARY_API_URL", "http://localhost:8000/api")
	t.Setenv("LIBRARY_HTTP_TIMEOUT", "soon")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPTimeout != 15*time.Second {
		t.Fatalf("bad duration should fall back to default, got %v", cfg.HTTPTimeout)
	}
}
