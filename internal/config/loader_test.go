package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestExpandEnvVars(t *testing.T) {
	os.Setenv("TEST_VAR", "hello")
	defer os.Unsetenv("TEST_VAR")

	tests := []struct {
		input    string
		expected string
	}{
		{"${TEST_VAR}", "hello"},
		{"${TEST_VAR:default}", "hello"},
		{"${UNSET_VAR:fallback}", "fallback"},
		{"${UNSET_VAR}", ""},
		{"no vars here", "no vars here"},
		{"prefix-${TEST_VAR}-suffix", "prefix-hello-suffix"},
	}

	for _, tt := range tests {
		got := expandEnvVars(tt.input)
		if got != tt.expected {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestLoadFile(t *testing.T) {
	// Create a temp YAML file
	tmpFile, err := os.CreateTemp("", "test-config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())

	content := `
server:
  host: "0.0.0.0"
  port: 9999
`
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()

	var cfg Config
	if err := LoadFile(tmpFile.Name(), &cfg); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected host 0.0.0.0, got %s", cfg.Server.Host)
	}
}

func TestLoadFile_WithEnvVars(t *testing.T) {
	os.Setenv("TEST_PORT", "7777")
	defer os.Unsetenv("TEST_PORT")

	tmpFile, err := os.CreateTemp("", "test-config-env-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmpFile.Name())

	content := `
server:
  host: "${TEST_HOST:127.0.0.1}"
  port: ${TEST_PORT}
`
	if _, err := tmpFile.WriteString(content); err != nil {
		t.Fatal(err)
	}
	tmpFile.Close()

	var cfg Config
	if err := LoadFile(tmpFile.Name(), &cfg); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("expected host 127.0.0.1 (default), got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("expected port 7777, got %d", cfg.Server.Port)
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeConfigDir(t *testing.T, gateway, models string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "gateway.yaml"), []byte(gateway), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "models.yaml"), []byte(models), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

const validGateway = `
upstream:
  url: "${TEST_UPSTREAM_URL:https://llm.internal/v1/chat/completions}"
  api_key: "${TEST_API_KEY:Bearer sk-test}"
  timeout: ${TEST_API_TIMEOUT:30}s
  retry:
    max_attempts: 3
    base_delay: 1s
conversation:
  history_window: 6
`

func TestLoader_Load(t *testing.T) {
	dir := writeConfigDir(t, validGateway, "default_model: gpt-4o-mini\nsupported: [gpt-4o-mini, gpt-4o]\n")

	l := NewLoader(dir, discardLogger())
	if err := l.Load(); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	cfg := l.Config()
	if cfg.Upstream.APIKey != "Bearer sk-test" {
		t.Errorf("expected api key from default expansion, got %q", cfg.Upstream.APIKey)
	}
	if cfg.Upstream.Timeout != 30*time.Second {
		t.Errorf("expected 30s timeout, got %v", cfg.Upstream.Timeout)
	}
	// Unset fields keep their defaults.
	if cfg.Upstream.StreamTimeout != 60*time.Second {
		t.Errorf("expected default stream timeout 60s, got %v", cfg.Upstream.StreamTimeout)
	}
	if cfg.Server.Port != 9393 {
		t.Errorf("expected default port 9393, got %d", cfg.Server.Port)
	}
	if l.Conversation().HistoryWindow != 6 {
		t.Errorf("expected history window 6, got %d", l.Conversation().HistoryWindow)
	}

	models := l.Models()
	if models.DefaultModel != "gpt-4o-mini" {
		t.Errorf("expected default model gpt-4o-mini, got %s", models.DefaultModel)
	}
	if !models.IsSupported("gpt-4o") || models.IsSupported("gpt-4") {
		t.Errorf("unexpected supported list %v", models.Supported)
	}
}

func TestLoader_LoadRejectsPlaceholderURL(t *testing.T) {
	gateway := `
upstream:
  url: "https://your-llm-api.com/v1/chat/completions"
  api_key: "k"
`
	dir := writeConfigDir(t, gateway, "default_model: gpt-4o\n")

	err := NewLoader(dir, discardLogger()).Load()
	if err == nil || !strings.Contains(err.Error(), "upstream.url") {
		t.Fatalf("expected upstream.url validation error, got %v", err)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing api key", func(c *Config) { c.Upstream.APIKey = " " }, "upstream.api_key"},
		{"empty url", func(c *Config) { c.Upstream.URL = "" }, "upstream.url"},
		{"zero attempts", func(c *Config) { c.Upstream.Retry.MaxAttempts = 0 }, "max_attempts"},
		{"negative window", func(c *Config) { c.Conversation.HistoryWindow = -1 }, "history_window"},
		{"rate limit without rpm", func(c *Config) {
			c.RateLimit.Enabled = true
			c.RateLimit.RequestsPerMinute = 0
		}, "requests_per_minute"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Upstream.URL = "https://llm.internal/v1/chat/completions"
			cfg.Upstream.APIKey = "Bearer sk-test"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestCORSConfig_AllowedOrigins(t *testing.T) {
	c := CORSConfig{Origins: "http://a.example, http://b.example,,"}
	got := c.AllowedOrigins()
	if len(got) != 2 || got[0] != "http://a.example" || got[1] != "http://b.example" {
		t.Errorf("unexpected origins %v", got)
	}
}

func TestLoader_WatchReloadsModels(t *testing.T) {
	dir := writeConfigDir(t, validGateway, "default_model: gpt-4o\n")

	l := NewLoader(dir, discardLogger())
	if err := l.Load(); err != nil {
		t.Fatal(err)
	}

	reloaded := make(chan struct{}, 8)
	l.OnReload(func() { reloaded <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := l.Watch(ctx); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, "models.yaml"), []byte("default_model: gpt-4.1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case <-reloaded:
			if l.Models().DefaultModel == "gpt-4.1" {
				return
			}
		case <-deadline:
			t.Fatalf("models not reloaded, default is %s", l.Models().DefaultModel)
		}
	}
}
