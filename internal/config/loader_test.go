package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mattjoyce/streamhub/internal/status"
)

func TestApplyDefaultsSetsOperationalLimits(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	if cfg.Broker.HistoryLimit != 500 {
		t.Fatalf("broker.history_limit default = %d, want 500", cfg.Broker.HistoryLimit)
	}
	if cfg.Broker.SessionTTL != 30*time.Minute {
		t.Fatalf("broker.session_ttl default = %v, want 30m", cfg.Broker.SessionTTL)
	}
	if cfg.API.KeepaliveInterval != 30*time.Second {
		t.Fatalf("api.keepalive_interval default = %v, want 30s", cfg.API.KeepaliveInterval)
	}
	if cfg.Client.BackoffBase != time.Second || cfg.Client.BackoffCap != 30*time.Second {
		t.Fatalf("client backoff defaults = %v/%v, want 1s/30s", cfg.Client.BackoffBase, cfg.Client.BackoffCap)
	}
	if cfg.Status.TickInterval != time.Second {
		t.Fatalf("status.tick_interval default = %v, want 1s", cfg.Status.TickInterval)
	}
}

func TestValidateRejectsBadLimits(t *testing.T) {
	cfg := validTestConfig()
	cfg.Broker.HistoryLimit = -1
	if err := validate(cfg); err == nil || !strings.Contains(err.Error(), "broker.history_limit") {
		t.Fatalf("expected history_limit validation error, got %v", err)
	}

	cfg = validTestConfig()
	cfg.Client.BackoffCap = cfg.Client.BackoffBase / 2
	if err := validate(cfg); err == nil || !strings.Contains(err.Error(), "client.backoff_cap") {
		t.Fatalf("expected backoff_cap validation error, got %v", err)
	}

	cfg = validTestConfig()
	cfg.API.Token = ""
	if err := validate(cfg); err == nil || !strings.Contains(err.Error(), "api.token") {
		t.Fatalf("expected api.token validation error, got %v", err)
	}
}

func TestValidateRejectsUnorderedFallbacks(t *testing.T) {
	cfg := validTestConfig()
	cfg.Status.Fallbacks = []status.Threshold{
		{After: 10 * time.Second, Text: "later"},
		{After: 3 * time.Second, Text: "earlier"},
	}
	if err := validate(cfg); err == nil || !strings.Contains(err.Error(), "status.fallbacks") {
		t.Fatalf("expected fallback ordering error, got %v", err)
	}
}

func TestValidateLLMOptional(t *testing.T) {
	// No provider: narrator disabled, nothing else required.
	cfg := validTestConfig()
	cfg.LLM = LLMConfig{}
	if err := validate(cfg); err != nil {
		t.Fatalf("empty llm section should validate: %v", err)
	}

	cfg = validTestConfig()
	cfg.LLM = LLMConfig{Provider: "anthropic", Model: "claude-sonnet-4-20250514"}
	if err := validate(cfg); err == nil || !strings.Contains(err.Error(), "llm.api_key") {
		t.Fatalf("expected api_key requirement for anthropic, got %v", err)
	}

	// Ollama runs locally without a key.
	cfg.LLM = LLMConfig{Provider: "ollama", Model: "llama3"}
	if err := validate(cfg); err != nil {
		t.Fatalf("ollama without api_key should validate: %v", err)
	}
}

func TestLoadInterpolatesEnv(t *testing.T) {
	t.Setenv("STREAMHUB_TEST_TOKEN", "s3cret")

	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "api:\n  token: ${STREAMHUB_TEST_TOKEN}\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.Token != "s3cret" {
		t.Fatalf("token = %q, want interpolated env value", cfg.API.Token)
	}
}

func TestLoadRejectsUnsetEnvToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := "api:\n  token: ${STREAMHUB_UNSET_TOKEN_VAR}\n"
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "STREAMHUB_UNSET_TOKEN_VAR") {
		t.Fatalf("expected unset env var error, got %v", err)
	}
}

func validTestConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			LogLevel: "info",
		},
		API: APIConfig{
			Token:             "token",
			KeepaliveInterval: 30 * time.Second,
		},
		Broker: BrokerConfig{
			HistoryLimit:     500,
			SessionTTL:       30 * time.Minute,
			SweepInterval:    time.Minute,
			SubscriberBuffer: 64,
		},
		Client: ClientConfig{
			BackoffBase: time.Second,
			BackoffCap:  30 * time.Second,
		},
		Status: StatusConfig{
			TickInterval: time.Second,
		},
	}
}
