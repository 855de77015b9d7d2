package agentflow

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/PabloGalante/farum-cbt/internal/config"
	"github.com/PabloGalante/farum-cbt/internal/domain"
)

// Parsing tiers reported with every selection.
const (
	TierStructured = "structured"
	TierHeuristic  = "heuristic"
	TierNone       = "none"
)

// heuristicDefaultScore is used when a line names a technique without a
// number next to it.
const heuristicDefaultScore = 0.5

var heuristicScoreRe = regexp.MustCompile(`[0-1]\.\d+`)

// Selection is the validated outcome of technique selection.
type Selection struct {
	Techniques []domain.TechniqueScore
	Best       domain.TechniqueScore
	Tier       string
}

// TechniqueSelector asks the generator for ranked techniques and turns the
// answer into a validated list.
type TechniqueSelector struct {
	llm     domain.Generator
	prompt  *config.PromptTemplate
	enabled []domain.Technique
	limit   int
	window  int
	timeout time.Duration
}

func NewTechniqueSelector(llm domain.Generator, cfg *config.Config) *TechniqueSelector {
	return &TechniqueSelector{
		llm:     llm,
		prompt:  &cfg.Prompts.TechniqueSelection,
		enabled: cfg.Pipeline.EnabledTechniques,
		limit:   cfg.Pipeline.MaxTechniques,
		window:  cfg.Pipeline.HistoryWindow,
		timeout: cfg.LLM.CallTimeout,
	}
}

func (s *TechniqueSelector) Name() string {
	return "technique_selector"
}

// Select returns at least one technique or an error wrapping
// ErrNoValidTechniques. Generator failures are fatal here too: there is no
// default technique to fall back on.
func (s *TechniqueSelector) Select(ctx context.Context, session *domain.SessionState) (Selection, error) {
	names := make([]string, 0, len(s.enabled))
	for _, t := range s.enabled {
		names = append(names, t.String())
	}

	raw, err := generate(ctx, domain.StageSelect, s.llm, s.timeout, s.prompt, map[string]any{
		"Plan":          session.PlanSummary,
		"Techniques":    names,
		"History":       session.History(s.window),
		"MaxTechniques": s.limit,
	})
	if err != nil {
		return Selection{Tier: TierNone}, fmt.Errorf("%w: %w", domain.ErrNoValidTechniques, err)
	}

	return ParseSelection(raw, s.enabled, s.limit)
}

type candidate struct {
	name  string
	score float64
}

// ParseSelection runs the three tiers over raw model output: a JSON array
// of {technique, score}, then a line scan for technique names, then
// validation against the enabled taxonomy.
func ParseSelection(raw string, enabled []domain.Technique, limit int) (Selection, error) {
	tier := TierStructured
	cands, ok := parseStructured(raw)
	if !ok || len(cands) == 0 {
		tier = TierHeuristic
		cands = parseHeuristic(raw, enabled)
	}
	if len(cands) == 0 {
		return Selection{Tier: TierNone}, fmt.Errorf("%w: no technique found in %q", domain.ErrNoValidTechniques, truncate(raw, 200))
	}

	scores := validateCandidates(cands, enabled, limit)
	if len(scores) == 0 {
		return Selection{Tier: TierNone}, fmt.Errorf("%w: no enabled technique among %d candidates", domain.ErrNoValidTechniques, len(cands))
	}

	best, _ := domain.BestOf(scores)
	return Selection{Techniques: scores, Best: best, Tier: tier}, nil
}

// flexScore accepts a JSON number or a numeric string.
type flexScore float64

func (f *flexScore) UnmarshalJSON(b []byte) error {
	var n float64
	if err := json.Unmarshal(b, &n); err == nil {
		*f = flexScore(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("score %s is neither number nor string", b)
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("score %q: %w", s, err)
	}
	*f = flexScore(n)
	return nil
}

type structuredEntry struct {
	Technique string     `json:"technique"`
	Score     *flexScore `json:"score"`
}

func parseStructured(raw string) ([]candidate, bool) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, false
	}

	var entries []structuredEntry
	if err := json.Unmarshal([]byte(raw[start:end+1]), &entries); err != nil {
		return nil, false
	}

	cands := make([]candidate, 0, len(entries))
	for _, e := range entries {
		if strings.TrimSpace(e.Technique) == "" {
			continue
		}
		score := heuristicDefaultScore
		if e.Score != nil {
			score = float64(*e.Score)
		}
		cands = append(cands, candidate{name: e.Technique, score: score})
	}
	return cands, true
}

// parseHeuristic scans each line for a case-insensitive technique name and
// takes the first decimal in [0,1] on that line as its score.
func parseHeuristic(raw string, enabled []domain.Technique) []candidate {
	var cands []candidate
	for _, line := range strings.Split(raw, "\n") {
		lower := strings.ToLower(line)
		for _, t := range enabled {
			if !mentions(lower, t) {
				continue
			}
			score := heuristicDefaultScore
			if m := heuristicScoreRe.FindString(line); m != "" {
				if v, err := strconv.ParseFloat(m, 64); err == nil {
					score = v
				}
			}
			cands = append(cands, candidate{name: t.String(), score: score})
		}
	}
	return cands
}

func mentions(lowerLine string, t domain.Technique) bool {
	for _, alias := range t.Aliases() {
		if strings.Contains(lowerLine, strings.ToLower(alias)) {
			return true
		}
	}
	return false
}

// validateCandidates keeps exact taxonomy names that are enabled, clamps
// scores, merges duplicates by max score and keeps the top limit entries.
func validateCandidates(cands []candidate, enabled []domain.Technique, limit int) []domain.TechniqueScore {
	byTech := map[domain.Technique]float64{}
	var order []domain.Technique
	for _, c := range cands {
		t, ok := domain.ParseTechnique(c.name)
		if !ok || !slices.Contains(enabled, t) {
			continue
		}
		score := clampScore(c.score)
		prev, seen := byTech[t]
		if !seen {
			order = append(order, t)
			byTech[t] = score
		} else if score > prev {
			byTech[t] = score
		}
	}

	out := make([]domain.TechniqueScore, 0, len(order))
	for _, t := range order {
		out = append(out, domain.TechniqueScore{Technique: t, Score: byTech[t]})
	}
	slices.SortStableFunc(out, func(a, b domain.TechniqueScore) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return a.Technique.Order() - b.Technique.Order()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
