package knowledge

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"

	"github.com/PabloGalante/farum-cbt/internal/domain"
)

// Metadata keys stored as properties on every object.
var weaviateMetadataKeys = []string{"approach", "intervention_type", "title"}

// WeaviateKB runs nearText queries against one class. The class needs a
// text vectorizer module configured on the server.
type WeaviateKB struct {
	client *weaviate.Client
	class  string
}

func NewWeaviateKB(rawURL, class string) (*WeaviateKB, error) {
	cfg := weaviate.Config{Host: rawURL, Scheme: "http"}
	switch {
	case strings.HasPrefix(rawURL, "https://"):
		cfg.Scheme = "https"
		cfg.Host = strings.TrimPrefix(rawURL, "https://")
	case strings.HasPrefix(rawURL, "http://"):
		cfg.Host = strings.TrimPrefix(rawURL, "http://")
	}

	client, err := weaviate.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create weaviate client: %w", err)
	}
	return &WeaviateKB{client: client, class: class}, nil
}

// Add stores docs one object at a time.
func (kb *WeaviateKB) Add(ctx context.Context, docs []Document) error {
	for _, d := range docs {
		props := map[string]interface{}{"content": d.Content}
		for _, key := range weaviateMetadataKeys {
			if v, ok := d.Metadata[key]; ok {
				props[key] = v
			}
		}

		if _, err := kb.client.Data().Creator().
			WithClassName(kb.class).
			WithProperties(props).
			Do(ctx); err != nil {
			return fmt.Errorf("weaviate create %s: %w", d.ID, err)
		}
	}
	return nil
}

// Retrieve implements domain.KnowledgeBase with certainty as the score.
func (kb *WeaviateKB) Retrieve(ctx context.Context, query string, filter map[string]string, k int) ([]domain.RetrievalResult, error) {
	fields := []graphql.Field{{Name: "content"}}
	for _, key := range weaviateMetadataKeys {
		fields = append(fields, graphql.Field{Name: key})
	}
	fields = append(fields, graphql.Field{Name: "_additional { certainty distance }"})

	nearText := kb.client.GraphQL().NearTextArgBuilder().
		WithConcepts([]string{query})

	get := kb.client.GraphQL().Get().
		WithClassName(kb.class).
		WithFields(fields...).
		WithNearText(nearText).
		WithLimit(k)
	if where := buildWhere(filter); where != nil {
		get = get.WithWhere(where)
	}

	result, err := get.Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("weaviate query: %w", err)
	}
	if len(result.Errors) > 0 {
		return nil, fmt.Errorf("weaviate query: %s", result.Errors[0].Message)
	}
	return kb.parse(result), nil
}

func buildWhere(filter map[string]string) *filters.WhereBuilder {
	if len(filter) == 0 {
		return nil
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	operands := make([]*filters.WhereBuilder, 0, len(keys))
	for _, k := range keys {
		operands = append(operands, filters.Where().
			WithPath([]string{k}).
			WithOperator(filters.Equal).
			WithValueString(filter[k]))
	}
	if len(operands) == 1 {
		return operands[0]
	}
	return filters.Where().WithOperator(filters.And).WithOperands(operands)
}

func (kb *WeaviateKB) parse(result *models.GraphQLResponse) []domain.RetrievalResult {
	data, ok := result.Data["Get"].(map[string]interface{})
	if !ok {
		return nil
	}
	objects, ok := data[kb.class].([]interface{})
	if !ok {
		return nil
	}

	out := make([]domain.RetrievalResult, 0, len(objects))
	for _, obj := range objects {
		m, ok := obj.(map[string]interface{})
		if !ok {
			continue
		}
		r := domain.RetrievalResult{Metadata: map[string]string{}}
		r.Text, _ = m["content"].(string)
		for _, key := range weaviateMetadataKeys {
			if v, ok := m[key].(string); ok && v != "" {
				r.Metadata[key] = v
			}
		}
		if additional, ok := m["_additional"].(map[string]interface{}); ok {
			if certainty, ok := additional["certainty"].(float64); ok {
				r.Score = certainty
			}
		}
		out = append(out, r)
	}
	return out
}
