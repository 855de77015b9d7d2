package knowledge

import (
	"context"
	"fmt"

	"github.com/philippgille/chromem-go"
	"google.golang.org/genai"

	"github.com/PabloGalante/farum-cbt/internal/config"
	"github.com/PabloGalante/farum-cbt/internal/domain"
	"github.com/PabloGalante/farum-cbt/internal/observability"
)

type seeder interface {
	domain.KnowledgeBase
	Add(ctx context.Context, docs []Document) error
}

// New builds the configured knowledge base and loads the seed corpus into
// it. Provider "none" returns a nil KnowledgeBase.
func New(ctx context.Context, cfg *config.Config) (domain.KnowledgeBase, error) {
	var (
		kb  seeder
		err error
	)

	switch cfg.Knowledge.Provider {
	case "none", "":
		return nil, nil
	case "chromem":
		var embed chromem.EmbeddingFunc
		embed, err = genaiEmbedding(ctx, cfg)
		if err != nil {
			return nil, err
		}
		kb, err = NewChromemKB(cfg.Knowledge.Collection, embed)
	case "weaviate":
		kb, err = NewWeaviateKB(cfg.Knowledge.URL, cfg.Knowledge.Class)
	default:
		return nil, fmt.Errorf("unknown knowledge provider %q", cfg.Knowledge.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Knowledge.SeedFile != "" {
		docs, err := LoadSeedFile(cfg.Knowledge.SeedFile)
		if err != nil {
			return nil, err
		}
		if err := kb.Add(ctx, docs); err != nil {
			return nil, err
		}
		observability.LoggerFromContext(ctx).Info("knowledge base seeded",
			"provider", cfg.Knowledge.Provider,
			"documents", len(docs))
	}
	return kb, nil
}

// genaiEmbedding uses Vertex AI when the generator does, otherwise the
// Gemini API with llm.api_key.
func genaiEmbedding(ctx context.Context, cfg *config.Config) (chromem.EmbeddingFunc, error) {
	cc := &genai.ClientConfig{}
	switch {
	case cfg.LLM.Provider == "vertex":
		cc.Project = cfg.LLM.Project
		cc.Location = cfg.LLM.Location
		cc.Backend = genai.BackendVertexAI
	case cfg.LLM.APIKey != "":
		cc.APIKey = cfg.LLM.APIKey
		cc.Backend = genai.BackendGeminiAPI
	default:
		return nil, fmt.Errorf("chromem knowledge base needs vertex or llm.api_key for embeddings")
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating embedding client: %w", err)
	}
	return NewGenAIEmbeddingFunc(client, cfg.Knowledge.EmbeddingModel), nil
}
