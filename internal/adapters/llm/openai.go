package llm

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"

	"github.com/PabloGalante/farum-cbt/internal/config"
	"github.com/PabloGalante/farum-cbt/internal/observability"
)

const defaultOpenAIModel = "gpt-4o-mini"

type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAIClient builds a Generator for the OpenAI chat API, or any
// compatible server when base_url is set.
func NewOpenAIClient(cfg config.LLMConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm.api_key must be set for openai")
	}

	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}

	return &OpenAIClient{
		client:      openai.NewClientWithConfig(oc),
		model:       model,
		temperature: float32(cfg.Temperature),
	}, nil
}

func (o *OpenAIClient) Generate(ctx context.Context, system, user string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
		Temperature: o.temperature,
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}

	observability.LoggerFromContext(ctx).Debug("openai completion",
		"model", o.model,
		"finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}
