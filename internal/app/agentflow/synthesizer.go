package agentflow

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/PabloGalante/farum-cbt/internal/config"
	"github.com/PabloGalante/farum-cbt/internal/domain"
	"github.com/PabloGalante/farum-cbt/internal/observability"
)

var (
	// Whole lines such as "Technique used: Reflection" or "(Approach:
	// normalization)". The label must name a technique from the taxonomy, so
	// "Strategy: try a 5-minute wind-down" is kept.
	metaLineRe = regexp.MustCompile(`(?i)^\s*[(\[]?\s*(technique|approach|strategy|method)s?(\s+used)?\s*:\s*(reflections?|questioning|providing[\s_-]*solutions|normali[sz](ation|ing)|psycho[\s_-]*education)\b`)
	// Inline "(using Reflection)" or "[Normalization]" asides.
	metaInlineRe = regexp.MustCompile(`(?i)\s*[(\[]\s*(using\s+[^)\]]*|reflection|questioning|providing solutions|normalization|psycho-?education)\s*[)\]]`)
	// "Counselor:" prefix copied from the transcript format.
	speakerPrefixRe = regexp.MustCompile(`(?i)^\s*counselor\s*:\s*`)
)

// ResponseSynthesizer turns the chosen responder's candidate into the final
// utterance. It only refines; it never produces a second independent reply.
type ResponseSynthesizer struct {
	llm      domain.Generator
	prompt   *config.PromptTemplate
	fallback string
	timeout  time.Duration
}

func NewResponseSynthesizer(llm domain.Generator, cfg *config.Config) *ResponseSynthesizer {
	return &ResponseSynthesizer{
		llm:      llm,
		prompt:   &cfg.Prompts.Synthesis,
		fallback: cfg.Safety.FallbackReply,
		timeout:  cfg.LLM.CallTimeout,
	}
}

func (s *ResponseSynthesizer) Name() string {
	return "synthesizer"
}

// Synthesize always returns a non-empty reply. When refinement fails the
// cleaned candidate is used, and the safety fallback when that is empty.
func (s *ResponseSynthesizer) Synthesize(
	ctx context.Context,
	technique domain.Technique,
	candidate string,
	selected []domain.TechniqueScore,
) string {
	names := make([]string, 0, len(selected))
	for _, ts := range selected {
		names = append(names, ts.Technique.String())
	}

	raw, err := generate(ctx, domain.StageSynthesize, s.llm, s.timeout, s.prompt, map[string]any{
		"Techniques": names,
		"Technique":  technique.String(),
		"Candidate":  candidate,
	})
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("synthesis failed, using candidate",
			"technique", technique.String(),
			"error", err)
	} else if out := StripMetaCommentary(raw); out != "" {
		return out
	}

	if out := StripMetaCommentary(candidate); out != "" {
		return out
	}
	if out := strings.TrimSpace(candidate); out != "" {
		return out
	}
	return s.fallback
}

// StripMetaCommentary removes lines and asides that name the technique or
// strategy behind a reply.
func StripMetaCommentary(text string) string {
	var kept []string
	for _, line := range strings.Split(text, "\n") {
		if metaLineRe.MatchString(line) {
			continue
		}
		line = metaInlineRe.ReplaceAllString(line, "")
		kept = append(kept, line)
	}

	out := strings.TrimSpace(strings.Join(kept, "\n"))
	out = speakerPrefixRe.ReplaceAllString(out, "")
	return strings.TrimSpace(out)
}
