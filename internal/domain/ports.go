package domain

import (
	"context"
	"time"
)

// Generator is the generative text capability used by every gate, the
// selector, the responders and the synthesizer.
type Generator interface {
	Generate(ctx context.Context, system, user string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, system, user string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

// RetrievalResult is one ranked knowledge-base hit.
type RetrievalResult struct {
	Text     string
	Score    float64
	Metadata map[string]string
}

// KnowledgeBase is the optional retrieval capability used by the crisis
// gate and some responders.
type KnowledgeBase interface {
	Retrieve(ctx context.Context, query string, filter map[string]string, k int) ([]RetrievalResult, error)
}

// AboveThreshold drops results scoring under minScore. A result below the
// threshold is treated as absent.
func AboveThreshold(results []RetrievalResult, minScore float64) []RetrievalResult {
	out := make([]RetrievalResult, 0, len(results))
	for _, r := range results {
		if r.Score >= minScore {
			out = append(out, r)
		}
	}
	return out
}

// SessionRecord is what the stateful HTTP endpoints persist: the intake
// profile plus the latest snapshot.
type SessionRecord struct {
	ID        SessionID       `json:"id"`
	Profile   ClientProfile   `json:"profile"`
	Snapshot  SessionSnapshot `json:"snapshot"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SessionStore persists session records. The turn engine itself never
// needs one; callers that want server-side sessions do.
type SessionStore interface {
	SaveSession(ctx context.Context, rec *SessionRecord) error
	GetSession(ctx context.Context, id SessionID) (*SessionRecord, error)
	DeleteSession(ctx context.Context, id SessionID) error
}

// Stage names the pipeline step a generator call serves. Adapters may use
// it for logging or, in tests, for scripting replies.
type Stage string

const (
	StageCrisis     Stage = "crisis"
	StageRelevance  Stage = "relevance"
	StageAgenda     Stage = "agenda"
	StagePlan       Stage = "plan"
	StageSelect     Stage = "select"
	StageRespond    Stage = "respond"
	StageQueries    Stage = "queries"
	StageSynthesize Stage = "synthesize"
)

type stageKey struct{}

func WithStage(ctx context.Context, s Stage) context.Context {
	return context.WithValue(ctx, stageKey{}, s)
}

// StageFromContext returns the stage set by WithStage, or "".
func StageFromContext(ctx context.Context) Stage {
	s, _ := ctx.Value(stageKey{}).(Stage)
	return s
}
