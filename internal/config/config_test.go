// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: "127.0.0.1:9090"

channel:
  kind: matrix
  dedupe_ttl: "2m"
  matrix:
    homeserver: "https://matrix.example.org"
    user_id: "@support:example.org"
    access_token: "tok"
    allowed_rooms:
      - "!room1:example.org"

chatwoot:
  base_url: "https://chatwoot.example.com"
  api_key: "key"
  account_id: 1
  inbox_id: 3
  timeout: "5s"

handoff:
  bot_agent_id: 7
  keywords: ["human"]

webhook:
  agent_roles: ["agent"]
  dedupe_message_ids: true

rag:
  addr: "localhost:50061"
  timeout: "30s"

texts:
  hint: " (type human)"

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:9090" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "127.0.0.1:9090")
	}
	if cfg.Channel.Kind != ChannelMatrix {
		t.Errorf("Channel.Kind = %q, want %q", cfg.Channel.Kind, ChannelMatrix)
	}
	if cfg.Channel.DedupeTTL != 2*time.Minute {
		t.Errorf("Channel.DedupeTTL = %v, want 2m", cfg.Channel.DedupeTTL)
	}
	if len(cfg.Channel.Matrix.AllowedRooms) != 1 {
		t.Errorf("AllowedRooms length = %d, want 1", len(cfg.Channel.Matrix.AllowedRooms))
	}
	if cfg.Chatwoot.Timeout != 5*time.Second {
		t.Errorf("Chatwoot.Timeout = %v, want 5s", cfg.Chatwoot.Timeout)
	}
	if !cfg.ChatwootEnabled() {
		t.Error("ChatwootEnabled() = false, want true")
	}
	if cfg.Handoff.BotAgentID != 7 {
		t.Errorf("Handoff.BotAgentID = %d, want 7", cfg.Handoff.BotAgentID)
	}
	if !cfg.Webhook.DedupeMessageIDs {
		t.Error("Webhook.DedupeMessageIDs = false, want true")
	}
	if cfg.RAG.Timeout != 30*time.Second {
		t.Errorf("RAG.Timeout = %v, want 30s", cfg.RAG.Timeout)
	}
	if cfg.Texts.Hint != " (type human)" {
		t.Errorf("Texts.Hint = %q", cfg.Texts.Hint)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("Metrics.Path = %q, want default /metrics", cfg.Metrics.Path)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
channel:
  telegram:
    token: "123:abc"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Channel.Kind != ChannelTelegram {
		t.Errorf("Channel.Kind = %q, want telegram", cfg.Channel.Kind)
	}
	if cfg.Server.HTTPAddr != ":8080" {
		t.Errorf("Server.HTTPAddr = %q, want :8080", cfg.Server.HTTPAddr)
	}
	if cfg.Continuity.Threshold != 0.6 || cfg.Continuity.Window != 4 {
		t.Errorf("Continuity = %+v, want threshold 0.6 window 4", cfg.Continuity)
	}
	if cfg.Handoff.TranscriptLimit != 20 {
		t.Errorf("Handoff.TranscriptLimit = %d, want 20", cfg.Handoff.TranscriptLimit)
	}
	if cfg.Chatwoot.Timeout != 15*time.Second {
		t.Errorf("Chatwoot.Timeout = %v, want 15s", cfg.Chatwoot.Timeout)
	}
	if cfg.Auth.TokenTTL != 24*time.Hour {
		t.Errorf("Auth.TokenTTL = %v, want 24h", cfg.Auth.TokenTTL)
	}
	if cfg.ChatwootEnabled() {
		t.Error("ChatwootEnabled() = true with no chatwoot section")
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[channel]
kind = "telegram"

[channel.telegram]
token = "123:abc"

[chatwoot]
base_url = "https://chatwoot.example.com"
api_key = "key"
account_id = 2
inbox_id = 4

[handoff]
bot_agent_id = 9
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Channel.Telegram.Token != "123:abc" {
		t.Errorf("Telegram.Token = %q", cfg.Channel.Telegram.Token)
	}
	if cfg.Chatwoot.InboxID != 4 {
		t.Errorf("Chatwoot.InboxID = %d, want 4", cfg.Chatwoot.InboxID)
	}
	if cfg.Handoff.BotAgentID != 9 {
		t.Errorf("Handoff.BotAgentID = %d, want 9", cfg.Handoff.BotAgentID)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_TG_TOKEN", "from-env")
	t.Setenv("TEST_CW_KEY", "secret-key")

	path := writeConfig(t, "config.yaml", `
channel:
  telegram:
    token: "${TEST_TG_TOKEN}"
chatwoot:
  api_key: "${TEST_CW_KEY}"
  base_url: "${TEST_UNSET_VAR_XYZ}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Channel.Telegram.Token != "from-env" {
		t.Errorf("Telegram.Token = %q, want from-env", cfg.Channel.Telegram.Token)
	}
	if cfg.Chatwoot.APIKey != "secret-key" {
		t.Errorf("Chatwoot.APIKey = %q, want secret-key", cfg.Chatwoot.APIKey)
	}
	if cfg.Chatwoot.BaseURL != "" {
		t.Errorf("Chatwoot.BaseURL = %q, want empty for unset var", cfg.Chatwoot.BaseURL)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
channel:
  telegram:
    token: "t"
chatwoot:
  timeout: "soon"
`)
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "chatwoot.timeout") {
		t.Errorf("Load() error = %v, want chatwoot.timeout parse error", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load() of missing file succeeded")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		cfg.Channel.Telegram.Token = "t"
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"unknown channel", func(c *Config) { c.Channel.Kind = "irc" }, "channel.kind"},
		{"telegram without token", func(c *Config) { c.Channel.Telegram.Token = "" }, "channel.telegram.token"},
		{"matrix incomplete", func(c *Config) { c.Channel.Kind = ChannelMatrix }, "channel.matrix"},
		{"tailscale without hostname", func(c *Config) { c.Tailscale.Enabled = true }, "tailscale.hostname"},
		{"bad chatwoot scheme", func(c *Config) { c.Chatwoot.BaseURL = "ftp://x" }, "chatwoot.base_url"},
		{"threshold out of range", func(c *Config) { c.Continuity.Threshold = 1.5 }, "continuity.threshold"},
		{"short jwt secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "auth.jwt_secret"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv(EnvPath, "/etc/bridge.yaml")
	if got := DefaultPath(); got != "/etc/bridge.yaml" {
		t.Errorf("DefaultPath() = %q, want env override", got)
	}

	t.Setenv(EnvPath, "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := DefaultPath(); got != filepath.Join("/xdg", "handoff-bridge", "config.yaml") {
		t.Errorf("DefaultPath() = %q, want XDG path", got)
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("A_VAR", "x")
	if got := expandEnvVars("a=${A_VAR} b=${B_UNSET_VAR}"); got != "a=x b=" {
		t.Errorf("expandEnvVars() = %q", got)
	}
}
