package agentflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/PabloGalante/farum-cbt/internal/config"
	"github.com/PabloGalante/farum-cbt/internal/domain"
	"github.com/PabloGalante/farum-cbt/internal/observability"
)

// ResponderErrorPrefix marks a candidate reply that stands in for a failed
// responder.
const ResponderErrorPrefix = "[responder error]"

const maxPsychoeducationQueries = 3

// ResponderInput is what every technique responder sees.
type ResponderInput struct {
	Profile domain.ClientProfile
	Session *domain.SessionState
}

// TechniqueResponder produces a candidate counselor utterance in one
// technique's style.
type TechniqueResponder interface {
	Technique() domain.Technique
	Respond(ctx context.Context, in ResponderInput) (string, error)
}

// retrievalSpec describes the optional knowledge lookup a responder makes.
type retrievalSpec struct {
	filter      map[string]string
	fromHistory bool
}

// promptResponder renders its prompt with profile, transcript and
// optional evidence.
type promptResponder struct {
	technique domain.Technique
	llm       domain.Generator
	kb        domain.KnowledgeBase
	prompt    *config.PromptTemplate
	retrieval *retrievalSpec
	window    int
	topK      int
	minScore  float64
	timeout   time.Duration
}

func newPromptResponder(
	t domain.Technique,
	llm domain.Generator,
	kb domain.KnowledgeBase,
	pt *config.PromptTemplate,
	rs *retrievalSpec,
	cfg *config.Config,
) *promptResponder {
	return &promptResponder{
		technique: t,
		llm:       llm,
		kb:        kb,
		prompt:    pt,
		retrieval: rs,
		window:    cfg.Pipeline.HistoryWindow,
		topK:      cfg.Retrieval.TopK,
		minScore:  cfg.Retrieval.MinScore,
		timeout:   cfg.LLM.CallTimeout,
	}
}

// NewReflectionResponder mirrors the client's words, grounded on indexed
// reflection examples.
func NewReflectionResponder(llm domain.Generator, kb domain.KnowledgeBase, cfg *config.Config) TechniqueResponder {
	return newPromptResponder(domain.TechniqueReflection, llm, kb, &cfg.Prompts.Responders.Reflection,
		&retrievalSpec{filter: map[string]string{"approach": "REFLECTIONS"}}, cfg)
}

func NewQuestioningResponder(llm domain.Generator, cfg *config.Config) TechniqueResponder {
	return newPromptResponder(domain.TechniqueQuestioning, llm, nil, &cfg.Prompts.Responders.Questioning, nil, cfg)
}

// NewSolutionResponder searches strategies with the whole recent
// transcript as the query.
func NewSolutionResponder(llm domain.Generator, kb domain.KnowledgeBase, cfg *config.Config) TechniqueResponder {
	return newPromptResponder(domain.TechniqueProvidingSolutions, llm, kb, &cfg.Prompts.Responders.Solution,
		&retrievalSpec{filter: map[string]string{"approach": "SOLUTIONS"}, fromHistory: true}, cfg)
}

func NewNormalizingResponder(llm domain.Generator, kb domain.KnowledgeBase, cfg *config.Config) TechniqueResponder {
	return newPromptResponder(domain.TechniqueNormalization, llm, kb, &cfg.Prompts.Responders.Normalizing,
		&retrievalSpec{filter: map[string]string{"approach": "NORMALIZING"}}, cfg)
}

func (r *promptResponder) Technique() domain.Technique {
	return r.technique
}

func (r *promptResponder) Respond(ctx context.Context, in ResponderInput) (string, error) {
	history := in.Session.History(r.window)
	latest := in.Session.LatestClientMessage()

	var evidence string
	if r.retrieval != nil {
		query := latest
		if r.retrieval.fromHistory {
			query = history
		}
		evidence = retrieveEvidence(ctx, r.kb, r.timeout, query, r.retrieval.filter, r.topK, r.minScore)
	}

	return respond(ctx, r.llm, r.timeout, r.prompt, in, history, latest, evidence)
}

// PsychoeducationResponder expands the client's message into concept
// queries, gathers evidence for each and explains the principles involved.
type PsychoeducationResponder struct {
	llm         domain.Generator
	kb          domain.KnowledgeBase
	prompt      *config.PromptTemplate
	queryPrompt *config.PromptTemplate
	window      int
	topK        int
	minScore    float64
	timeout     time.Duration
}

func NewPsychoeducationResponder(llm domain.Generator, kb domain.KnowledgeBase, cfg *config.Config) *PsychoeducationResponder {
	return &PsychoeducationResponder{
		llm:         llm,
		kb:          kb,
		prompt:      &cfg.Prompts.Responders.Psychoeducation,
		queryPrompt: &cfg.Prompts.PsychoeducationQueries,
		window:      cfg.Pipeline.HistoryWindow,
		topK:        cfg.Retrieval.TopK,
		minScore:    cfg.Retrieval.MinScore,
		timeout:     cfg.LLM.CallTimeout,
	}
}

func (r *PsychoeducationResponder) Technique() domain.Technique {
	return domain.TechniquePsychoEducation
}

func (r *PsychoeducationResponder) Respond(ctx context.Context, in ResponderInput) (string, error) {
	history := in.Session.History(r.window)
	latest := in.Session.LatestClientMessage()

	var evidence string
	if r.kb != nil {
		var parts []string
		for _, q := range r.queries(ctx, latest) {
			if ev := retrieveEvidence(ctx, r.kb, r.timeout, q, nil, r.topK, r.minScore); ev != "" {
				parts = append(parts, ev)
			}
		}
		evidence = strings.Join(parts, " ")
	}

	return respond(ctx, r.llm, r.timeout, r.prompt, in, history, latest, evidence)
}

// queries falls back to the latest client message when the generator
// gives nothing usable.
func (r *PsychoeducationResponder) queries(ctx context.Context, latest string) []string {
	raw, err := generate(ctx, domain.StageQueries, r.llm, r.timeout, r.queryPrompt, map[string]any{"Message": latest})
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("psychoeducation query generation failed", "error", err)
		return []string{latest}
	}

	qs := ParseQueries(raw)
	if len(qs) == 0 {
		return []string{latest}
	}
	if len(qs) > maxPsychoeducationQueries {
		qs = qs[:maxPsychoeducationQueries]
	}
	return qs
}

// ParseQueries extracts {"queries": [...]} from generator output.
func ParseQueries(raw string) []string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil
	}
	var payload struct {
		Queries []string `json:"queries"`
	}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &payload); err != nil {
		return nil
	}
	out := make([]string, 0, len(payload.Queries))
	for _, q := range payload.Queries {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out
}

func respond(
	ctx context.Context,
	llm domain.Generator,
	timeout time.Duration,
	pt *config.PromptTemplate,
	in ResponderInput,
	history, latest, evidence string,
) (string, error) {
	out, err := generate(ctx, domain.StageRespond, llm, timeout, pt, map[string]any{
		"ClientContext": in.Profile.Context(),
		"Reason":        in.Profile.ReasonForCounseling,
		"Evidence":      evidence,
		"History":       history,
		"LatestClient":  latest,
	})
	if err != nil {
		return "", err
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("empty response")
	}
	return out, nil
}

// Registry maps every technique in the taxonomy to its responder.
type Registry struct {
	responders map[domain.Technique]TechniqueResponder
	metrics    *observability.TurnMetrics
}

// NewRegistry fails unless every taxonomy technique has exactly one
// responder.
func NewRegistry(metrics *observability.TurnMetrics, responders ...TechniqueResponder) (*Registry, error) {
	m := make(map[domain.Technique]TechniqueResponder, len(responders))
	for _, r := range responders {
		t := r.Technique()
		if t.Order() < 0 {
			return nil, fmt.Errorf("responder for unknown technique %d", t)
		}
		if _, dup := m[t]; dup {
			return nil, fmt.Errorf("technique %s registered twice", t)
		}
		m[t] = r
	}
	for _, t := range domain.AllTechniques {
		if _, ok := m[t]; !ok {
			return nil, fmt.Errorf("no responder registered for %s", t)
		}
	}
	return &Registry{responders: m, metrics: metrics}, nil
}

// NewDefaultRegistry wires the five built-in responders.
func NewDefaultRegistry(llm domain.Generator, kb domain.KnowledgeBase, cfg *config.Config, metrics *observability.TurnMetrics) (*Registry, error) {
	return NewRegistry(metrics,
		NewReflectionResponder(llm, kb, cfg),
		NewQuestioningResponder(llm, cfg),
		NewSolutionResponder(llm, kb, cfg),
		NewNormalizingResponder(llm, kb, cfg),
		NewPsychoeducationResponder(llm, kb, cfg),
	)
}

// Dispatch always returns a candidate. A responder failure becomes a
// "[responder error] <technique>: <cause>" string.
func (r *Registry) Dispatch(ctx context.Context, t domain.Technique, in ResponderInput) string {
	resp, ok := r.responders[t]
	if !ok {
		return responderError(t, fmt.Errorf("no responder registered"))
	}

	out, err := resp.Respond(ctx, in)
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("responder failed",
			"technique", t.String(),
			"error", err)
		r.metrics.ResponderFailure(t.String())
		return responderError(t, err)
	}
	return out
}

func responderError(t domain.Technique, err error) string {
	return fmt.Sprintf("%s %s: %v", ResponderErrorPrefix, t, err)
}

// IsResponderError reports whether a candidate is a responder failure.
func IsResponderError(candidate string) bool {
	return strings.HasPrefix(candidate, ResponderErrorPrefix)
}
