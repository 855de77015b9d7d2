package agentflow

import (
	"context"
	"strings"
	"time"

	"github.com/PabloGalante/farum-cbt/internal/config"
	"github.com/PabloGalante/farum-cbt/internal/domain"
	"github.com/PabloGalante/farum-cbt/internal/observability"
)

// generate renders a prompt and calls the generator under its own timeout,
// tagging the context with the pipeline stage.
func generate(
	ctx context.Context,
	stage domain.Stage,
	llm domain.Generator,
	timeout time.Duration,
	pt *config.PromptTemplate,
	data map[string]any,
) (string, error) {
	system, user, err := pt.Render(data)
	if err != nil {
		return "", err
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	return llm.Generate(domain.WithStage(ctx, stage), system, user)
}

// retrieveEvidence queries the knowledge base and joins every hit that
// clears minScore. Retrieval problems are logged and yield no evidence.
func retrieveEvidence(
	ctx context.Context,
	kb domain.KnowledgeBase,
	timeout time.Duration,
	query string,
	filter map[string]string,
	k int,
	minScore float64,
) string {
	if kb == nil || strings.TrimSpace(query) == "" {
		return ""
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	results, err := kb.Retrieve(ctx, query, filter, k)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("knowledge retrieval failed",
			"filter", filter,
			"error", err)
		return ""
	}

	var parts []string
	for _, r := range domain.AboveThreshold(results, minScore) {
		if t := cleanEvidence(r.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// cleanEvidence drops a "...Content:" header from indexed documents and
// flattens the text to one line.
func cleanEvidence(raw string) string {
	if _, after, ok := strings.Cut(raw, "Content:"); ok {
		raw = after
	}
	return strings.Join(strings.Fields(raw), " ")
}
