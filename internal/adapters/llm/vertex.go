package llm

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/PabloGalante/farum-cbt/internal/config"
	"github.com/PabloGalante/farum-cbt/internal/observability"
)

const defaultVertexModel = "gemini-2.5-flash"

type VertexClient struct {
	client      *genai.Client
	modelName   string
	temperature float32
}

// NewVertexClient creates a Generator backed by Vertex AI (Gemini).
func NewVertexClient(ctx context.Context, cfg config.LLMConfig) (*VertexClient, error) {
	if cfg.Project == "" || cfg.Location == "" {
		return nil, fmt.Errorf("llm.project and llm.location must be set for vertex")
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultVertexModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  cfg.Project,
		Location: cfg.Location,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Vertex AI client: %w", err)
	}

	return &VertexClient{
		client:      client,
		modelName:   modelName,
		temperature: float32(cfg.Temperature),
	}, nil
}

// Client exposes the underlying genai client, e.g. for embeddings.
func (v *VertexClient) Client() *genai.Client {
	return v.client
}

// Generate implements domain.Generator using Vertex AI.
func (v *VertexClient) Generate(ctx context.Context, system, user string) (string, error) {
	temp := v.temperature
	topP := float32(0.9)

	cfg := &genai.GenerateContentConfig{
		// Gemini takes the system instruction as a user-role content.
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		Temperature:       &temp,
		TopP:              &topP,
		MaxOutputTokens:   int32(8192),
	}

	contents := []*genai.Content{genai.NewContentFromText(user, genai.RoleUser)}

	res, err := v.client.Models.GenerateContent(ctx, v.modelName, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("vertex generate content: %w", err)
	}

	text := res.Text()
	if text == "" {
		observability.LoggerFromContext(ctx).Warn("vertex returned empty text", "model", v.modelName)
		return "", fmt.Errorf("vertex returned empty text")
	}
	return text, nil
}
