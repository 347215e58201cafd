package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultModel           = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens       = 1024
	DefaultWindowSeconds   = 30
	DefaultDriftThreshold  = 0.7
	DefaultRetentionDays   = 7
	DefaultCooldownSeconds = 300
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 3333
)

type Config struct {
	Agent  AgentConfig  `json:"agent"`
	Oracle OracleConfig `json:"oracle"`
	Server ServerConfig `json:"server"`
	Notify NotifyConfig `json:"notify"`
}

type AgentConfig struct {
	WindowSeconds    int     `json:"windowSeconds"`
	DriftThreshold   float64 `json:"driftConfidenceThreshold"`
	LogRetentionDays int     `json:"logRetentionDays"`
}

type OracleConfig struct {
	Model     string `json:"model"`
	APIKey    string `json:"apiKey"`
	BaseURL   string `json:"baseUrl,omitempty"`
	MaxTokens int    `json:"maxTokens,omitempty"`
}

type ServerConfig struct {
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`
}

type NotifyConfig struct {
	CooldownSeconds int            `json:"cooldownSeconds"`
	Desktop         DesktopConfig  `json:"desktop"`
	Telegram        TelegramConfig `json:"telegram"`
}

type DesktopConfig struct {
	Enabled bool `json:"enabled"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  int64  `json:"chatId"`
}

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			WindowSeconds:    DefaultWindowSeconds,
			DriftThreshold:   DefaultDriftThreshold,
			LogRetentionDays: DefaultRetentionDays,
		},
		Oracle: OracleConfig{
			Model:     DefaultModel,
			MaxTokens: DefaultMaxTokens,
		},
		Server: ServerConfig{
			Host:           DefaultHost,
			Port:           DefaultPort,
			AllowedOrigins: []string{"*"},
		},
		Notify: NotifyConfig{
			CooldownSeconds: DefaultCooldownSeconds,
			Desktop:         DesktopConfig{Enabled: true},
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".driftwatcher")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// DataDir holds the event log, classification cache, session state and
// session history files.
func DataDir() string {
	return filepath.Join(ConfigDir(), "data")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if key := os.Getenv("DRIFTWATCHER_API_KEY"); key != "" {
		cfg.Oracle.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && cfg.Oracle.APIKey == "" {
		cfg.Oracle.APIKey = key
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && cfg.Oracle.APIKey == "" {
		cfg.Oracle.APIKey = key
	}
	if url := os.Getenv("DRIFTWATCHER_BASE_URL"); url != "" {
		cfg.Oracle.BaseURL = url
	}
	if model := os.Getenv("DRIFTWATCHER_MODEL"); model != "" {
		cfg.Oracle.Model = model
	}
	if token := os.Getenv("DRIFTWATCHER_TELEGRAM_TOKEN"); token != "" {
		cfg.Notify.Telegram.Token = token
	}
	if chatID := os.Getenv("DRIFTWATCHER_TELEGRAM_CHAT_ID"); chatID != "" {
		if parsed, err := strconv.ParseInt(chatID, 10, 64); err == nil {
			cfg.Notify.Telegram.ChatID = parsed
		}
	}
	if window := os.Getenv("DRIFTWATCHER_WINDOW_SECONDS"); window != "" {
		if parsed, err := strconv.Atoi(window); err == nil {
			cfg.Agent.WindowSeconds = parsed
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks the inputs the pipeline depends on. Oracle credentials
// are checked later, at client construction, so read-only commands work
// without an API key.
func (c *Config) Validate() error {
	if c.Agent.WindowSeconds <= 0 {
		return fmt.Errorf("agent.windowSeconds must be > 0")
	}
	if c.Agent.DriftThreshold < 0 || c.Agent.DriftThreshold > 1 {
		return fmt.Errorf("agent.driftConfidenceThreshold must be in [0,1]")
	}
	if c.Agent.LogRetentionDays <= 0 {
		return fmt.Errorf("agent.logRetentionDays must be > 0")
	}
	if c.Notify.CooldownSeconds < 0 {
		return fmt.Errorf("notify.cooldownSeconds must be >= 0")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be a valid port")
	}
	return nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
