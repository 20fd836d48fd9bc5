// Package config handles taskwarden configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./taskwarden.yaml, ~/.config/taskwarden/config.yaml,
// /etc/taskwarden/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"taskwarden.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "taskwarden", "config.yaml"))
	}

	paths = append(paths, "/etc/taskwarden/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all taskwarden configuration.
type Config struct {
	Listen   ListenConfig   `yaml:"listen"`
	Database DatabaseConfig `yaml:"database"`
	Provider ProviderConfig `yaml:"provider"`
	Agent    AgentConfig    `yaml:"agent"`
	Auth     AuthConfig     `yaml:"auth"`
	LogLevel string         `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// DatabaseConfig defines where the SQLite database lives.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ProviderConfig defines the model provider connection.
// The provider must speak the OpenAI chat-completions dialect
// (OpenAI itself, or a local Ollama instance).
type ProviderConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
	// TimeoutSec bounds a single provider call. Zero means DefaultTimeout.
	TimeoutSec int `yaml:"timeout_sec"`
	// MaxRetries is the number of retries after the first failed attempt.
	MaxRetries int `yaml:"max_retries"`
}

// Timeout returns the provider call timeout as a duration.
func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(p.TimeoutSec) * time.Second
}

// AgentConfig bounds the tool-calling loop.
type AgentConfig struct {
	// MaxRounds caps model round-trips per turn. Zero means the default (5).
	MaxRounds int `yaml:"max_rounds"`
	// HistoryLimit is how many recent messages are replayed to the model.
	// Zero means the default (50).
	HistoryLimit int `yaml:"history_limit"`
}

// AuthConfig defines token issuance settings.
type AuthConfig struct {
	// TokenTTLHours is how long issued bearer tokens stay valid.
	// Zero means the default (720 = 30 days).
	TokenTTLHours int `yaml:"token_ttl_hours"`
}

// TokenTTL returns the token lifetime as a duration.
func (a AuthConfig) TokenTTL() time.Duration {
	if a.TokenTTLHours <= 0 {
		return 720 * time.Hour
	}
	return time.Duration(a.TokenTTLHours) * time.Hour
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen:   ListenConfig{Port: 8080},
		Database: DatabaseConfig{Path: "taskwarden.db"},
		Provider: ProviderConfig{
			BaseURL:     "https://api.openai.com",
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
			MaxTokens:   1024,
			MaxRetries:  2,
		},
		Agent: AgentConfig{
			MaxRounds:    5,
			HistoryLimit: 50,
		},
	}
}
