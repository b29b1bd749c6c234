package config

import (
	"errors"
	"testing"
)

func TestOverlayEnv(t *testing.T) {
	t.Setenv("RECALL_SERVER_PORT", "40001")
	t.Setenv("RECALL_LOG_LEVEL", "debug")
	t.Setenv("RECALL_DB", "/tmp/recall-test.db")
	t.Setenv("RECALL_GATING_ALLOW_PRIVATE", "true")

	cfg := Default()
	if err := Overlay(&cfg, NewViper()); err != nil {
		t.Fatalf("Overlay: %v", err)
	}
	if cfg.Server.Port != 40001 {
		t.Errorf("port = %d, want 40001", cfg.Server.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Database.Path != "/tmp/recall-test.db" {
		t.Errorf("db path = %q", cfg.Database.Path)
	}
	if !cfg.Gating.AllowPrivate {
		t.Error("allow_private should be overlaid")
	}
	if cfg.Server.Bind != "127.0.0.1" {
		t.Errorf("unset key changed: bind = %q", cfg.Server.Bind)
	}
}

func TestOverlayExplicitWinsAndValidates(t *testing.T) {
	t.Setenv("RECALL_LOG_FORMAT", "json")
	v := NewViper()
	v.Set("log.format", "pretty")

	cfg := Default()
	if err := Overlay(&cfg, v); err != nil {
		t.Fatalf("Overlay: %v", err)
	}
	if cfg.Log.Format != "pretty" {
		t.Errorf("format = %q, want pretty", cfg.Log.Format)
	}

	v.Set("server.port", 70000)
	if err := Overlay(&cfg, v); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for port 70000, got %v", err)
	}
}
