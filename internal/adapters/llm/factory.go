package llm

import (
	"context"
	"fmt"

	"github.com/PabloGalante/farum-cbt/internal/config"
	"github.com/PabloGalante/farum-cbt/internal/domain"
)

// New builds the configured generator wrapped in the rate limiter.
func New(ctx context.Context, cfg config.LLMConfig) (domain.Generator, error) {
	var (
		gen domain.Generator
		err error
	)

	switch cfg.Provider {
	case "vertex":
		gen, err = NewVertexClient(ctx, cfg)
	case "openai":
		gen, err = NewOpenAIClient(cfg)
	case "ollama":
		gen, err = NewOllamaClient(cfg)
	case "mock":
		gen = NewMockGenerator()
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return NewRateLimited(gen, cfg.RatePerSecond, cfg.Burst), nil
}
