package config

import (
	"time"

	"github.com/mattjoyce/streamhub/internal/status"
)

// Config represents the complete streamhub configuration. It is the single
// source of truth for every tunable: components receive their slice of it
// at construction and never read the environment themselves.
type Config struct {
	Service ServiceConfig `yaml:"service"`
	API     APIConfig     `yaml:"api"`
	Broker  BrokerConfig  `yaml:"broker"`
	Client  ClientConfig  `yaml:"client"`
	Status  StatusConfig  `yaml:"status"`
	Journal JournalConfig `yaml:"journal"`
	LLM     LLMConfig     `yaml:"llm"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Listen            string        `yaml:"listen"`
	Token             string        `yaml:"token"`
	KeepaliveInterval time.Duration `yaml:"keepalive_interval"`
}

// BrokerConfig defines the event broadcaster limits.
type BrokerConfig struct {
	HistoryLimit     int           `yaml:"history_limit"`
	SessionTTL       time.Duration `yaml:"session_ttl"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	SubscriberBuffer int           `yaml:"subscriber_buffer"`
}

// ClientConfig defines reconnect behavior for consumers.
type ClientConfig struct {
	BackoffBase time.Duration `yaml:"backoff_base"`
	BackoffCap  time.Duration `yaml:"backoff_cap"`
}

// StatusConfig defines status-resolution tunables.
type StatusConfig struct {
	Placeholder  string             `yaml:"placeholder"`
	TickInterval time.Duration      `yaml:"tick_interval"`
	Fallbacks    []status.Threshold `yaml:"fallbacks"`
}

// JournalConfig defines the optional SQLite event journal. An empty path
// disables journaling.
type JournalConfig struct {
	Path      string `yaml:"path"`
	QueueSize int    `yaml:"queue_size"`
}

// LLMConfig defines the optional narrator LLM provider. An empty provider
// disables the narrator endpoint.
type LLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url,omitempty"`
}
