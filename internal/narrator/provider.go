package narrator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/mattjoyce/streamhub/internal/config"
)

const answerMaxTokens = 4096

// NewChatModel builds the streaming chat model the narrator answers with.
// The narrator never calls tools, so the plain chat surface is all it
// needs from any provider.
func NewChatModel(ctx context.Context, cfg config.LLMConfig) (model.BaseChatModel, error) {
	var (
		m   model.BaseChatModel
		err error
	)
	switch cfg.Provider {
	case "anthropic":
		c := &claude.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: answerMaxTokens,
		}
		if cfg.BaseURL != "" {
			c.BaseURL = &cfg.BaseURL
		}
		m, err = claude.NewChatModel(ctx, c)
	case "openai":
		c := &openai.ChatModelConfig{
			APIKey: cfg.APIKey,
			Model:  cfg.Model,
		}
		if cfg.BaseURL != "" {
			c.BaseURL = cfg.BaseURL
		}
		m, err = openai.NewChatModel(ctx, c)
	case "ollama":
		c := &ollama.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		}
		if c.BaseURL == "" {
			c.BaseURL = "http://localhost:11434"
		}
		m, err = ollama.NewChatModel(ctx, c)
	default:
		return nil, fmt.Errorf("unsupported llm provider: %q (supported: anthropic, openai, ollama)", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s chat model: %w", cfg.Provider, err)
	}
	return m, nil
}
