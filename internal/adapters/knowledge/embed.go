package knowledge

import (
	"context"
	"fmt"

	"github.com/philippgille/chromem-go"
	"google.golang.org/genai"
)

const defaultEmbeddingModel = "gemini-embedding-001"

// NewGenAIEmbeddingFunc embeds text with a Gemini embedding model.
func NewGenAIEmbeddingFunc(client *genai.Client, model string) chromem.EmbeddingFunc {
	if model == "" {
		model = defaultEmbeddingModel
	}
	return func(ctx context.Context, text string) ([]float32, error) {
		contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}

		res, err := client.Models.EmbedContent(ctx, model, contents, nil)
		if err != nil {
			return nil, fmt.Errorf("genai embed: %w", err)
		}
		if len(res.Embeddings) == 0 || len(res.Embeddings[0].Values) == 0 {
			return nil, fmt.Errorf("genai embed: no embedding returned")
		}
		return res.Embeddings[0].Values, nil
	}
}
