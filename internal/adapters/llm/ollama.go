package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"

	"github.com/PabloGalante/farum-cbt/internal/config"
)

const defaultOllamaModel = "llama3.1"

type OllamaClient struct {
	llm         *ollama.LLM
	temperature float64
}

// NewOllamaClient talks to a local Ollama server through langchaingo.
func NewOllamaClient(cfg config.LLMConfig) (*OllamaClient, error) {
	model := cfg.Model
	if model == "" {
		model = defaultOllamaModel
	}

	opts := []ollama.Option{ollama.WithModel(model)}
	if cfg.BaseURL != "" {
		opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
	}

	l, err := ollama.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating ollama client: %w", err)
	}
	return &OllamaClient{llm: l, temperature: cfg.Temperature}, nil
}

func (c *OllamaClient) Generate(ctx context.Context, system, user string) (string, error) {
	msgs := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, user),
	}

	resp, err := c.llm.GenerateContent(ctx, msgs, llms.WithTemperature(c.temperature))
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("ollama returned no choices")
	}
	return resp.Choices[0].Content, nil
}
