package knowledge

import (
	"context"
	"fmt"
	"runtime"

	"github.com/philippgille/chromem-go"

	"github.com/PabloGalante/farum-cbt/internal/domain"
)

// ChromemKB is an in-process vector store.
type ChromemKB struct {
	collection *chromem.Collection
}

// NewChromemKB creates (or reuses) the named collection in a fresh
// in-memory database.
func NewChromemKB(name string, embed chromem.EmbeddingFunc) (*ChromemKB, error) {
	if embed == nil {
		return nil, fmt.Errorf("chromem: embedding function is required")
	}
	db := chromem.NewDB()
	coll, err := db.GetOrCreateCollection(name, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("chromem: create collection %s: %w", name, err)
	}
	return &ChromemKB{collection: coll}, nil
}

// Add embeds and stores docs.
func (kb *ChromemKB) Add(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	cdocs := make([]chromem.Document, 0, len(docs))
	for _, d := range docs {
		cdocs = append(cdocs, chromem.Document{
			ID:       d.ID,
			Content:  d.Content,
			Metadata: d.Metadata,
		})
	}
	if err := kb.collection.AddDocuments(ctx, cdocs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("chromem: add documents: %w", err)
	}
	return nil
}

func (kb *ChromemKB) Count() int {
	return kb.collection.Count()
}

// Retrieve implements domain.KnowledgeBase. Similarity is the cosine score
// reported by chromem.
func (kb *ChromemKB) Retrieve(ctx context.Context, query string, filter map[string]string, k int) ([]domain.RetrievalResult, error) {
	n := kb.collection.Count()
	if n == 0 || k < 1 {
		return nil, nil
	}
	if k > n {
		k = n
	}

	var where map[string]string
	if len(filter) > 0 {
		where = filter
	}

	res, err := kb.collection.Query(ctx, query, k, where, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem: query: %w", err)
	}

	out := make([]domain.RetrievalResult, 0, len(res))
	for _, r := range res {
		out = append(out, domain.RetrievalResult{
			Text:     r.Content,
			Score:    float64(r.Similarity),
			Metadata: r.Metadata,
		})
	}
	return out, nil
}
