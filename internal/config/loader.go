package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "streamhub"
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = "info"
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = "127.0.0.1:8090"
	}
	if cfg.API.KeepaliveInterval == 0 {
		cfg.API.KeepaliveInterval = 30 * time.Second
	}
	if cfg.Broker.HistoryLimit == 0 {
		cfg.Broker.HistoryLimit = 500
	}
	if cfg.Broker.SessionTTL == 0 {
		cfg.Broker.SessionTTL = 30 * time.Minute
	}
	if cfg.Broker.SweepInterval == 0 {
		cfg.Broker.SweepInterval = time.Minute
	}
	if cfg.Broker.SubscriberBuffer == 0 {
		cfg.Broker.SubscriberBuffer = 64
	}
	if cfg.Client.BackoffBase == 0 {
		cfg.Client.BackoffBase = time.Second
	}
	if cfg.Client.BackoffCap == 0 {
		cfg.Client.BackoffCap = 30 * time.Second
	}
	if cfg.Status.TickInterval == 0 {
		cfg.Status.TickInterval = time.Second
	}
}

func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.API.Token == "" {
		return fmt.Errorf("api.token is required")
	}
	if envVarPattern.MatchString(cfg.API.Token) {
		matches := envVarPattern.FindStringSubmatch(cfg.API.Token)
		if len(matches) > 1 {
			return fmt.Errorf("api.token: environment variable ${%s} is not set", matches[1])
		}
	}
	if cfg.API.KeepaliveInterval <= 0 {
		return fmt.Errorf("api.keepalive_interval must be positive")
	}
	if cfg.Broker.HistoryLimit <= 0 {
		return fmt.Errorf("broker.history_limit must be positive")
	}
	if cfg.Broker.SessionTTL <= 0 {
		return fmt.Errorf("broker.session_ttl must be positive")
	}
	if cfg.Broker.SweepInterval <= 0 {
		return fmt.Errorf("broker.sweep_interval must be positive")
	}
	if cfg.Broker.SubscriberBuffer <= 0 {
		return fmt.Errorf("broker.subscriber_buffer must be positive")
	}
	if cfg.Client.BackoffBase <= 0 {
		return fmt.Errorf("client.backoff_base must be positive")
	}
	if cfg.Client.BackoffCap < cfg.Client.BackoffBase {
		return fmt.Errorf("client.backoff_cap must be >= client.backoff_base")
	}
	if cfg.Status.TickInterval <= 0 {
		return fmt.Errorf("status.tick_interval must be positive")
	}
	for i, th := range cfg.Status.Fallbacks {
		if th.After <= 0 || th.Text == "" {
			return fmt.Errorf("status.fallbacks[%d] needs a positive after and non-empty text", i)
		}
		if i > 0 && th.After <= cfg.Status.Fallbacks[i-1].After {
			return fmt.Errorf("status.fallbacks must be ordered by ascending after")
		}
	}
	if cfg.LLM.Provider != "" {
		if cfg.LLM.Model == "" {
			return fmt.Errorf("llm.model is required when llm.provider is set")
		}
		if cfg.LLM.APIKey == "" && cfg.LLM.Provider != "ollama" {
			return fmt.Errorf("llm.api_key is required for provider %q", cfg.LLM.Provider)
		}
		if envVarPattern.MatchString(cfg.LLM.APIKey) {
			matches := envVarPattern.FindStringSubmatch(cfg.LLM.APIKey)
			if len(matches) > 1 {
				return fmt.Errorf("llm.api_key: environment variable ${%s} is not set", matches[1])
			}
		}
	}
	return nil
}

// interpolateEnv replaces ${VAR} with environment variable values.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}
