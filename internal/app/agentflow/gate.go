package agentflow

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/PabloGalante/farum-cbt/internal/config"
	"github.com/PabloGalante/farum-cbt/internal/domain"
	"github.com/PabloGalante/farum-cbt/internal/observability"
)

const (
	// RelevantSentinel is what the relevance classifier answers for an
	// in-domain message.
	RelevantSentinel = "RELEVANT"

	noCrisisSentinel = "NO_CRISIS"
)

// CrisisGate screens the latest client message for an acute crisis.
type CrisisGate struct {
	llm      domain.Generator
	kb       domain.KnowledgeBase
	prompt   *config.PromptTemplate
	flags    []string
	window   int
	topK     int
	minScore float64
	timeout  time.Duration
}

func NewCrisisGate(llm domain.Generator, kb domain.KnowledgeBase, cfg *config.Config) *CrisisGate {
	return &CrisisGate{
		llm:      llm,
		kb:       kb,
		prompt:   &cfg.Prompts.Crisis,
		flags:    cfg.Pipeline.CrisisFlags,
		window:   cfg.Pipeline.HistoryWindow,
		topK:     cfg.Retrieval.TopK,
		minScore: cfg.Retrieval.CrisisMinScore,
		timeout:  cfg.LLM.CallTimeout,
	}
}

func (g *CrisisGate) Name() string {
	return "crisis_gate"
}

// Check classifies message given the prior transcript. A capability error
// or unparseable output is returned wrapped in ErrClassificationFailure;
// the caller applies the configured gate policy.
func (g *CrisisGate) Check(ctx context.Context, session *domain.SessionState, message string) (domain.CrisisResult, error) {
	evidence := retrieveEvidence(ctx, g.kb, g.timeout, message,
		map[string]string{"intervention_type": "crisis"}, g.topK, g.minScore)

	raw, err := generate(ctx, domain.StageCrisis, g.llm, g.timeout, g.prompt, map[string]any{
		"Flags":    g.flags,
		"Evidence": evidence,
		"History":  session.History(g.window),
		"Message":  message,
	})
	if err != nil {
		return domain.CrisisResult{}, fmt.Errorf("%w: crisis check: %w", domain.ErrClassificationFailure, err)
	}

	res, err := ParseCrisis(raw, g.flags)
	if err != nil {
		return domain.CrisisResult{}, fmt.Errorf("%w: crisis check: %w", domain.ErrClassificationFailure, err)
	}

	if unknown := unknownFlags(res.Flags, g.flags); len(unknown) > 0 {
		observability.LoggerFromContext(ctx).Warn("crisis flags outside taxonomy",
			"flags", unknown)
	}
	return res, nil
}

type crisisPayload struct {
	Flags    []string `json:"flags"`
	Response string   `json:"response"`
}

// ParseCrisis reads the crisis classifier output: a JSON object with flags
// and response, or the NO_CRISIS sentinel. Flags matching the taxonomy
// case-insensitively take its spelling; other flags are kept as written.
func ParseCrisis(raw string, taxonomy []string) (domain.CrisisResult, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return domain.CrisisResult{}, fmt.Errorf("empty classifier output")
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		var p crisisPayload
		if err := json.Unmarshal([]byte(text[start:end+1]), &p); err == nil {
			res := domain.CrisisResult{Flags: p.Flags, Response: p.Response}.Normalized()
			for i, f := range res.Flags {
				res.Flags[i] = canonicalFlag(f, taxonomy)
			}
			return res, nil
		}
	}

	if strings.Contains(strings.ToUpper(text), noCrisisSentinel) {
		return domain.CrisisResult{}, nil
	}
	return domain.CrisisResult{}, fmt.Errorf("unrecognised classifier output")
}

func canonicalFlag(flag string, taxonomy []string) string {
	for _, t := range taxonomy {
		if strings.EqualFold(flag, t) {
			return t
		}
	}
	return flag
}

func unknownFlags(flags, taxonomy []string) []string {
	var out []string
	for _, f := range flags {
		if !slices.Contains(taxonomy, f) {
			out = append(out, f)
		}
	}
	return out
}

// RelevanceGate decides whether a message belongs in a counseling
// conversation.
type RelevanceGate struct {
	llm     domain.Generator
	prompt  *config.PromptTemplate
	timeout time.Duration
}

func NewRelevanceGate(llm domain.Generator, cfg *config.Config) *RelevanceGate {
	return &RelevanceGate{
		llm:     llm,
		prompt:  &cfg.Prompts.Relevance,
		timeout: cfg.LLM.CallTimeout,
	}
}

func (g *RelevanceGate) Name() string {
	return "relevance_gate"
}

// Check returns the RELEVANT sentinel or the deflection utterance to send
// back verbatim.
func (g *RelevanceGate) Check(ctx context.Context, message string) (string, error) {
	raw, err := generate(ctx, domain.StageRelevance, g.llm, g.timeout, g.prompt, map[string]any{
		"Message": message,
	})
	if err != nil {
		return "", fmt.Errorf("%w: relevance check: %w", domain.ErrClassificationFailure, err)
	}
	return ParseRelevance(raw)
}

// ParseRelevance reads the relevance classifier output. A first word of
// RELEVANT in any case, or an upper-case RELEVANT token anywhere with no
// negation, is relevant. Short output that only states a verdict is a
// ClassificationFailure. Anything else is the deflection text.
func ParseRelevance(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return "", fmt.Errorf("%w: relevance check: empty classifier output", domain.ErrClassificationFailure)
	}

	words := verdictWords(text)
	if len(words) > 0 && strings.EqualFold(words[0], RelevantSentinel) {
		return RelevantSentinel, nil
	}

	negated := false
	mentionsVerdict := false
	sentinel := false
	for _, w := range words {
		upper := strings.ToUpper(w)
		if upper == "NOT" || upper == "IRRELEVANT" || strings.HasSuffix(upper, "N'T") || strings.HasSuffix(upper, "N’T") {
			negated = true
		}
		if upper == RelevantSentinel || upper == "IRRELEVANT" {
			mentionsVerdict = true
		}
		if w == RelevantSentinel {
			sentinel = true
		}
	}
	if sentinel && !negated {
		return RelevantSentinel, nil
	}
	if mentionsVerdict && len(words) <= maxVerdictWords {
		return "", fmt.Errorf("%w: relevance check: verdict without deflection: %q", domain.ErrClassificationFailure, text)
	}
	return text, nil
}

// maxVerdictWords bounds output treated as a bare verdict ("NOT RELEVANT",
// "Irrelevant.", "The message is irrelevant").
const maxVerdictWords = 5

func verdictWords(text string) []string {
	fields := strings.Fields(text)
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && r != '_' && r != '\''
		})
		if w != "" {
			words = append(words, w)
		}
	}
	return words
}
