// Collabd - Real-Time Collaborative Code Editing Backend
// SPDX-License-Identifier: MIT
// https://github.com/collabd/collabd

// Package config loads layered configuration with koanf v2:
// struct defaults, then an optional YAML file, then environment
// variables. Precedence: ENV > file > defaults.
package config

import (
	"fmt"
	"time"
)

// Config is the full runtime configuration tree.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Logging   LoggingConfig   `koanf:"logging"`
	AI        AIConfig        `koanf:"ai"`
	Relay     RelayConfig     `koanf:"relay"`
	Awareness AwarenessConfig `koanf:"awareness"`
	Chat      ChatConfig      `koanf:"chat"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host           string        `koanf:"host"`
	Port           int           `koanf:"port"`
	Timeout        time.Duration `koanf:"timeout"`
	AllowedOrigins []string      `koanf:"allowed_origins"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// AIConfig configures the analysis upstream. An empty APIKey disables
// AI features without failing startup.
type AIConfig struct {
	APIKey            string        `koanf:"api_key"`
	BaseURL           string        `koanf:"base_url"`
	Model             string        `koanf:"model"`
	Timeout           time.Duration `koanf:"timeout"`
	MaxSourceChars    int           `koanf:"max_source_chars"`
	RequestsPerMinute int           `koanf:"requests_per_minute"`
}

// RelayConfig bounds per-connection transport resources.
type RelayConfig struct {
	SendQueueSize int   `koanf:"send_queue_size"`
	MaxFrameSize  int64 `koanf:"max_frame_size"`
}

// AwarenessConfig sets presence entry lifetimes and the sweep cadence.
type AwarenessConfig struct {
	DefaultTTL    time.Duration `koanf:"default_ttl"`
	MaxTTL        time.Duration `koanf:"max_ttl"`
	SweepInterval time.Duration `koanf:"sweep_interval"`
}

// ChatConfig bounds the per-connection chat limiter and field caps.
type ChatConfig struct {
	Window      time.Duration `koanf:"window"`
	MaxMessages int           `koanf:"max_messages"`
	MaxTextLen  int           `koanf:"max_text_len"`
	MaxUserLen  int           `koanf:"max_user_len"`
}

// RateLimitConfig caps the AI-backed HTTP endpoints per caller.
type RateLimitConfig struct {
	ReviewRequests int           `koanf:"review_requests"`
	DebugRequests  int           `koanf:"debug_requests"`
	Window         time.Duration `koanf:"window"`
}

// defaultConfig returns the built-in defaults, applied before the file
// and environment layers.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           8844,
			Timeout:        30 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
		AI: AIConfig{
			APIKey:            "",
			BaseURL:           "",
			Model:             "gpt-4o-mini",
			Timeout:           30 * time.Second,
			MaxSourceChars:    10000,
			RequestsPerMinute: 60,
		},
		Relay: RelayConfig{
			SendQueueSize: 256,
			MaxFrameSize:  1 << 20, // 1 MiB
		},
		Awareness: AwarenessConfig{
			DefaultTTL:    30 * time.Second,
			MaxTTL:        5 * time.Minute,
			SweepInterval: 5 * time.Second,
		},
		Chat: ChatConfig{
			Window:      time.Minute,
			MaxMessages: 30,
			MaxTextLen:  1000,
			MaxUserLen:  50,
		},
		RateLimit: RateLimitConfig{
			ReviewRequests: 10,
			DebugRequests:  20,
			Window:         15 * time.Minute,
		},
	}
}

// Validate rejects nonsensical values before anything starts with them.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.Timeout <= 0 {
		return fmt.Errorf("server.timeout must be positive, got %s", c.Server.Timeout)
	}
	if c.Relay.SendQueueSize <= 0 {
		return fmt.Errorf("relay.send_queue_size must be positive, got %d", c.Relay.SendQueueSize)
	}
	if c.Relay.MaxFrameSize <= 0 {
		return fmt.Errorf("relay.max_frame_size must be positive, got %d", c.Relay.MaxFrameSize)
	}
	if c.Awareness.DefaultTTL <= 0 || c.Awareness.MaxTTL <= 0 || c.Awareness.SweepInterval <= 0 {
		return fmt.Errorf("awareness TTLs and sweep interval must be positive")
	}
	if c.Awareness.DefaultTTL > c.Awareness.MaxTTL {
		return fmt.Errorf("awareness.default_ttl %s exceeds awareness.max_ttl %s", c.Awareness.DefaultTTL, c.Awareness.MaxTTL)
	}
	if c.Chat.Window <= 0 || c.Chat.MaxMessages <= 0 {
		return fmt.Errorf("chat.window and chat.max_messages must be positive")
	}
	if c.Chat.MaxTextLen <= 0 || c.Chat.MaxUserLen <= 0 {
		return fmt.Errorf("chat length caps must be positive")
	}
	if c.RateLimit.ReviewRequests <= 0 || c.RateLimit.DebugRequests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit caps and window must be positive")
	}
	if c.AI.Timeout <= 0 {
		return fmt.Errorf("ai.timeout must be positive, got %s", c.AI.Timeout)
	}
	if c.AI.MaxSourceChars <= 0 {
		return fmt.Errorf("ai.max_source_chars must be positive, got %d", c.AI.MaxSourceChars)
	}
	return nil
}

// Addr renders the host:port listen address.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
