// ABOUTME: Configuration loading and parsing for handoff-bridge
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/handoff-bridge/internal/bot"
)

// EnvPath names the environment variable that overrides the config location.
const EnvPath = "HANDOFF_BRIDGE_CONFIG"

// Channel kinds.
const (
	ChannelTelegram = "telegram"
	ChannelMatrix   = "matrix"
)

// Config represents the complete handoff-bridge configuration
type Config struct {
	Server     ServerConfig     `yaml:"server" toml:"server"`
	Tailscale  TailscaleConfig  `yaml:"tailscale" toml:"tailscale"`
	Channel    ChannelConfig    `yaml:"channel" toml:"channel"`
	Chatwoot   ChatwootConfig   `yaml:"chatwoot" toml:"chatwoot"`
	Handoff    HandoffConfig    `yaml:"handoff" toml:"handoff"`
	Webhook    WebhookConfig    `yaml:"webhook" toml:"webhook"`
	Continuity ContinuityConfig `yaml:"continuity" toml:"continuity"`
	RAG        RAGConfig        `yaml:"rag" toml:"rag"`
	Ledger     LedgerConfig     `yaml:"ledger" toml:"ledger"`
	Auth       AuthConfig       `yaml:"auth" toml:"auth"`
	Logging    LoggingConfig    `yaml:"logging" toml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics" toml:"metrics"`
	Texts      bot.Texts        `yaml:"texts" toml:"texts"`
}

// ServerConfig holds the HTTP listener address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // public HTTPS so the platform can reach the webhook
}

// ChannelConfig selects and configures the end-user chat channel
type ChannelConfig struct {
	Kind     string         `yaml:"kind" toml:"kind"`
	Telegram TelegramConfig `yaml:"telegram" toml:"telegram"`
	Matrix   MatrixConfig   `yaml:"matrix" toml:"matrix"`

	DedupeTTL     time.Duration `yaml:"-" toml:"-"`
	DedupeTTLRaw  string        `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
	DedupeMaxSize int           `yaml:"dedupe_max_size" toml:"dedupe_max_size"`
}

// TelegramConfig holds Telegram bot settings
type TelegramConfig struct {
	Token       string `yaml:"token" toml:"token"`
	PollTimeout int    `yaml:"poll_timeout" toml:"poll_timeout"`
	Debug       bool   `yaml:"debug" toml:"debug"`
}

// MatrixConfig holds Matrix client settings
type MatrixConfig struct {
	Homeserver   string   `yaml:"homeserver" toml:"homeserver"`
	UserID       string   `yaml:"user_id" toml:"user_id"`
	AccessToken  string   `yaml:"access_token" toml:"access_token"`
	AllowedRooms []string `yaml:"allowed_rooms" toml:"allowed_rooms"`
	AutoJoin     bool     `yaml:"auto_join" toml:"auto_join"`
}

// ChatwootConfig holds support platform settings. All four identifiers must
// be present for the integration to be enabled.
type ChatwootConfig struct {
	BaseURL      string `yaml:"base_url" toml:"base_url"`
	APIKey       string `yaml:"api_key" toml:"api_key"`
	AccountID    int64  `yaml:"account_id" toml:"account_id"`
	InboxID      int64  `yaml:"inbox_id" toml:"inbox_id"`
	MaxListPages int    `yaml:"max_list_pages" toml:"max_list_pages"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// HandoffConfig holds state machine settings
type HandoffConfig struct {
	BotAgentID      int64    `yaml:"bot_agent_id" toml:"bot_agent_id"`
	TranscriptLimit int      `yaml:"transcript_limit" toml:"transcript_limit"`
	Keywords        []string `yaml:"keywords" toml:"keywords"`
}

// WebhookConfig holds inbound event routing settings
type WebhookConfig struct {
	AgentRoles       []string `yaml:"agent_roles" toml:"agent_roles"`
	AgentPrefix      string   `yaml:"agent_prefix" toml:"agent_prefix"`
	ClosedText       string   `yaml:"closed_text" toml:"closed_text"`
	DedupeMessageIDs bool     `yaml:"dedupe_message_ids" toml:"dedupe_message_ids"`
}

// ContinuityConfig holds topic window settings
type ContinuityConfig struct {
	Threshold float64 `yaml:"threshold" toml:"threshold"`
	Window    int     `yaml:"window" toml:"window"`
}

// RAGConfig points at the answer pipeline. With no address a static
// fallback reply and a local word-overlap scorer are used.
type RAGConfig struct {
	Addr          string `yaml:"addr" toml:"addr"`
	FallbackReply string `yaml:"fallback_reply" toml:"fallback_reply"`
	LocalScorer   bool   `yaml:"local_scorer" toml:"local_scorer"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// LedgerConfig holds the audit ledger location. Empty disables it.
type LedgerConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds debug endpoint authentication
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`

	TokenTTL    time.Duration `yaml:"-" toml:"-"`
	TokenTTLRaw string        `yaml:"token_ttl" toml:"token_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DefaultPath returns the config file location.
// Priority: HANDOFF_BRIDGE_CONFIG > XDG_CONFIG_HOME/handoff-bridge/config.yaml > ~/.config/handoff-bridge/config.yaml
func DefaultPath() string {
	if envPath := os.Getenv(EnvPath); envPath != "" {
		return envPath
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "handoff-bridge", "config.yaml")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Tailscale.Enabled && c.Tailscale.StateDir == "" {
		c.Tailscale.StateDir = filepath.Join(os.TempDir(), "handoff-bridge-tsnet")
	}
	if c.Channel.Kind == "" {
		c.Channel.Kind = ChannelTelegram
	}
	if c.Channel.DedupeTTL == 0 {
		c.Channel.DedupeTTL = 10 * time.Minute
	}
	if c.Channel.DedupeMaxSize == 0 {
		c.Channel.DedupeMaxSize = 10000
	}
	if c.Chatwoot.Timeout == 0 {
		c.Chatwoot.Timeout = 15 * time.Second
	}
	if c.Chatwoot.MaxListPages == 0 {
		c.Chatwoot.MaxListPages = 20
	}
	if c.Handoff.TranscriptLimit == 0 {
		c.Handoff.TranscriptLimit = 20
	}
	if c.Continuity.Threshold == 0 {
		c.Continuity.Threshold = 0.6
	}
	if c.Continuity.Window == 0 {
		c.Continuity.Window = 4
	}
	if c.RAG.Timeout == 0 {
		c.RAG.Timeout = 60 * time.Second
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 24 * time.Hour
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	switch c.Channel.Kind {
	case ChannelTelegram:
		if c.Channel.Telegram.Token == "" {
			return fmt.Errorf("channel.telegram.token is required")
		}
	case ChannelMatrix:
		m := c.Channel.Matrix
		if m.Homeserver == "" || m.UserID == "" || m.AccessToken == "" {
			return fmt.Errorf("channel.matrix requires homeserver, user_id and access_token")
		}
		if _, err := url.Parse(m.Homeserver); err != nil {
			return fmt.Errorf("channel.matrix.homeserver is not a valid URL: %w", err)
		}
	default:
		return fmt.Errorf("channel.kind must be %q or %q, got %q", ChannelTelegram, ChannelMatrix, c.Channel.Kind)
	}

	if c.Chatwoot.BaseURL != "" {
		u, err := url.Parse(c.Chatwoot.BaseURL)
		if err != nil {
			return fmt.Errorf("chatwoot.base_url is not a valid URL: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("chatwoot.base_url must use http or https scheme")
		}
	}

	if c.Continuity.Threshold < 0 || c.Continuity.Threshold > 1 {
		return fmt.Errorf("continuity.threshold must be between 0 and 1")
	}
	if c.Continuity.Window < 1 {
		return fmt.Errorf("continuity.window must be positive")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// ChatwootEnabled reports whether every identifier the platform needs is configured.
func (c *Config) ChatwootEnabled() bool {
	cw := c.Chatwoot
	return cw.BaseURL != "" && cw.APIKey != "" && cw.AccountID != 0 && cw.InboxID != 0
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"channel.dedupe_ttl", cfg.Channel.DedupeTTLRaw, &cfg.Channel.DedupeTTL},
		{"chatwoot.timeout", cfg.Chatwoot.TimeoutRaw, &cfg.Chatwoot.Timeout},
		{"rag.timeout", cfg.RAG.TimeoutRaw, &cfg.RAG.Timeout},
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
