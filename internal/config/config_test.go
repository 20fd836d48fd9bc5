package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadAppliesDefaultsAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
listen:
  port: 9090
provider:
  model: llama3.2
  base_url: http://localhost:11434
agent:
  max_rounds: 3
log_level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Listen.Port != 9090 {
		t.Errorf("port = %d", cfg.Listen.Port)
	}
	if cfg.Provider.Model != "llama3.2" {
		t.Errorf("model = %q", cfg.Provider.Model)
	}
	if cfg.Agent.MaxRounds != 3 {
		t.Errorf("max rounds = %d", cfg.Agent.MaxRounds)
	}

	// Untouched settings keep their defaults.
	if cfg.Database.Path != "taskwarden.db" {
		t.Errorf("database path = %q", cfg.Database.Path)
	}
	if cfg.Agent.HistoryLimit != 50 {
		t.Errorf("history limit = %d", cfg.Agent.HistoryLimit)
	}
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_PROVIDER_KEY", "sk-secret")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
provider:
  api_key: ${TEST_PROVIDER_KEY}
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Provider.APIKey != "sk-secret" {
		t.Errorf("api key = %q", cfg.Provider.APIKey)
	}
}

func TestFindConfigExplicitMissing(t *testing.T) {
	if _, err := FindConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("missing explicit config accepted")
	}
}

func TestProviderTimeoutDefault(t *testing.T) {
	var p ProviderConfig
	if p.Timeout() != 60*time.Second {
		t.Errorf("timeout = %v", p.Timeout())
	}
	p.TimeoutSec = 5
	if p.Timeout() != 5*time.Second {
		t.Errorf("timeout = %v", p.Timeout())
	}
}

func TestTokenTTLDefault(t *testing.T) {
	var a AuthConfig
	if a.TokenTTL() != 720*time.Hour {
		t.Errorf("ttl = %v", a.TokenTTL())
	}
	a.TokenTTLHours = 24
	if a.TokenTTL() != 24*time.Hour {
		t.Errorf("ttl = %v", a.TokenTTL())
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"info", slog.LevelInfo},
		{"TRACE", LevelTrace},
		{"debug", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tc := range cases {
		got, err := ParseLogLevel(tc.in)
		if err != nil {
			t.Errorf("ParseLogLevel(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}

	if _, err := ParseLogLevel("verbose"); err == nil {
		t.Error("unknown level accepted")
	}
}
