package config

import (
	"time"

	tablechat "github.com/tablewire/tablechat-sdk"
)

// Config holds client configuration values.
type Config struct {
	ServerURL     string `mapstructure:"server_url" yaml:"server_url"`
	ImageStoreURL string `mapstructure:"image_store_url" yaml:"image_store_url"`
	TokenEndpoint string `mapstructure:"token_endpoint" yaml:"token_endpoint"`
	AuthToken     string `mapstructure:"auth_token" yaml:"auth_token"`

	UserID      string `mapstructure:"user_id" yaml:"user_id"`
	DisplayName string `mapstructure:"display_name" yaml:"display_name"`

	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	HistoryTimeout    time.Duration `mapstructure:"history_timeout" yaml:"history_timeout"`
	TypingIdle        time.Duration `mapstructure:"typing_idle" yaml:"typing_idle"`
	TypingExpiry      time.Duration `mapstructure:"typing_expiry" yaml:"typing_expiry"`
	ReconnectAttempts int           `mapstructure:"reconnect_attempts" yaml:"reconnect_attempts"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	session := tablechat.DefaultConfig()
	return Config{
		ServerURL:         "ws://localhost:8080/ws",
		ImageStoreURL:     "http://localhost:8081/images",
		LogLevel:          "info",
		HistoryTimeout:    session.HistoryTimeout,
		TypingIdle:        session.TypingIdle,
		TypingExpiry:      session.TypingExpiry,
		ReconnectAttempts: session.ReconnectAttempts,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.ServerURL != "" {
		c.ServerURL = other.ServerURL
	}
	if other.ImageStoreURL != "" {
		c.ImageStoreURL = other.ImageStoreURL
	}
	if other.TokenEndpoint != "" {
		c.TokenEndpoint = other.TokenEndpoint
	}
	if other.AuthToken != "" {
		c.AuthToken = other.AuthToken
	}
	if other.UserID != "" {
		c.UserID = other.UserID
	}
	if other.DisplayName != "" {
		c.DisplayName = other.DisplayName
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.HistoryTimeout != 0 {
		c.HistoryTimeout = other.HistoryTimeout
	}
	if other.TypingIdle != 0 {
		c.TypingIdle = other.TypingIdle
	}
	if other.TypingExpiry != 0 {
		c.TypingExpiry = other.TypingExpiry
	}
	if other.ReconnectAttempts != 0 {
		c.ReconnectAttempts = other.ReconnectAttempts
	}
}

// SessionConfig maps the file-level settings onto session tunables.
func (c Config) SessionConfig() tablechat.Config {
	cfg := tablechat.DefaultConfig()
	cfg.HistoryTimeout = c.HistoryTimeout
	cfg.TypingIdle = c.TypingIdle
	cfg.TypingExpiry = c.TypingExpiry
	cfg.ReconnectAttempts = c.ReconnectAttempts
	return cfg
}
