package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDefaultMatchesSessionDefaults(t *testing.T) {
	cfg := Default()
	if cfg.ServerURL == "" || cfg.ImageStoreURL == "" {
		t.Fatalf("missing defaults: %+v", cfg)
	}
	if cfg.HistoryTimeout != 8*time.Second {
		t.Fatalf("history timeout %v", cfg.HistoryTimeout)
	}
	if cfg.TypingIdle != 2*time.Second || cfg.TypingExpiry != 3*time.Second {
		t.Fatalf("typing timers %v/%v", cfg.TypingIdle, cfg.TypingExpiry)
	}
	if cfg.ReconnectAttempts != 5 {
		t.Fatalf("reconnect attempts %d", cfg.ReconnectAttempts)
	}
}

func TestUpdateFromKeepsZeroValues(t *testing.T) {
	cfg := Default()
	cfg.UpdateFrom(Config{UserID: "u1", LogLevel: "debug"})

	if cfg.UserID != "u1" || cfg.LogLevel != "debug" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.ServerURL != Default().ServerURL {
		t.Fatalf("zero-value override clobbered server url: %q", cfg.ServerURL)
	}
	if cfg.HistoryTimeout != Default().HistoryTimeout {
		t.Fatalf("zero-value override clobbered history timeout: %v", cfg.HistoryTimeout)
	}
}

func TestLoadWritesDefaultConfig(t *testing.T) {
	logger := zerolog.Nop()
	path := filepath.Join(t.TempDir(), "tablechat.yaml")

	cfg, resolved, err := Load(&logger, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if resolved != path {
		t.Fatalf("resolved path %q", resolved)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}
	if cfg.ServerURL != Default().ServerURL {
		t.Fatalf("unexpected server url %q", cfg.ServerURL)
	}
}

func TestLoadReadsConfigFile(t *testing.T) {
	logger := zerolog.Nop()
	path := filepath.Join(t.TempDir(), "tablechat.yaml")
	body := "server_url: ws://chat.example/ws\nuser_id: u42\nhistory_timeout: 4s\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, _, err := Load(&logger, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ServerURL != "ws://chat.example/ws" {
		t.Fatalf("server url %q", cfg.ServerURL)
	}
	if cfg.UserID != "u42" {
		t.Fatalf("user id %q", cfg.UserID)
	}
	if cfg.HistoryTimeout != 4*time.Second {
		t.Fatalf("history timeout %v", cfg.HistoryTimeout)
	}
	// Values absent from the file keep their defaults.
	if cfg.ImageStoreURL != Default().ImageStoreURL {
		t.Fatalf("image store url %q", cfg.ImageStoreURL)
	}
}

func TestSessionConfigMapsTunables(t *testing.T) {
	cfg := Default()
	cfg.HistoryTimeout = 3 * time.Second
	cfg.ReconnectAttempts = 2

	sc := cfg.SessionConfig()
	if sc.HistoryTimeout != 3*time.Second {
		t.Fatalf("history timeout %v", sc.HistoryTimeout)
	}
	if sc.ReconnectAttempts != 2 {
		t.Fatalf("reconnect attempts %d", sc.ReconnectAttempts)
	}
}
