package agentflow_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/farum-cbt/internal/adapters/llm"
	"github.com/PabloGalante/farum-cbt/internal/app/agentflow"
	"github.com/PabloGalante/farum-cbt/internal/config"
	"github.com/PabloGalante/farum-cbt/internal/domain"
)

func TestParseSelectionStructured(t *testing.T) {
	sel, err := agentflow.ParseSelection(`[{"technique":"Reflection","score":0.9}]`, domain.AllTechniques, 3)
	require.NoError(t, err)

	assert.Equal(t, agentflow.TierStructured, sel.Tier)
	assert.Equal(t, []domain.TechniqueScore{{Technique: domain.TechniqueReflection, Score: 0.9}}, sel.Techniques)
	assert.Equal(t, domain.TechniqueReflection, sel.Best.Technique)
}

func TestParseSelectionHeuristic(t *testing.T) {
	sel, err := agentflow.ParseSelection("I suggest Questioning with confidence 0.7", domain.AllTechniques, 3)
	require.NoError(t, err)

	assert.Equal(t, agentflow.TierHeuristic, sel.Tier)
	assert.Equal(t, []domain.TechniqueScore{{Technique: domain.TechniqueQuestioning, Score: 0.7}}, sel.Techniques)
}

func TestParseSelectionNoTechniques(t *testing.T) {
	_, err := agentflow.ParseSelection("I am not sure what to do here.", domain.AllTechniques, 3)
	require.ErrorIs(t, err, domain.ErrNoValidTechniques)
}

func TestParseSelectionDropsUnknownNames(t *testing.T) {
	raw := `[{"technique":"Foo","score":0.8},{"technique":"Reflection","score":0.6}]`
	sel, err := agentflow.ParseSelection(raw, domain.AllTechniques, 3)
	require.NoError(t, err)

	assert.Equal(t, []domain.TechniqueScore{{Technique: domain.TechniqueReflection, Score: 0.6}}, sel.Techniques)
}

func TestParseSelectionOnlyUnknownNames(t *testing.T) {
	_, err := agentflow.ParseSelection(`[{"technique":"Foo","score":0.8}]`, domain.AllTechniques, 3)
	require.ErrorIs(t, err, domain.ErrNoValidTechniques)
}

func TestParseSelectionNormalizes(t *testing.T) {
	raw := "Here you go:\n```json\n" + `[
		{"technique": "Normalization", "score": "0.4"},
		{"technique": "Questioning", "score": 1.7},
		{"technique": "Normalization", "score": 0.65},
		{"technique": "Reflection"},
		{"technique": "Psycho-education", "score": 0.2}
	]` + "\n```"

	sel, err := agentflow.ParseSelection(raw, domain.AllTechniques, 3)
	require.NoError(t, err)

	assert.Equal(t, []domain.TechniqueScore{
		{Technique: domain.TechniqueQuestioning, Score: 1},
		{Technique: domain.TechniqueNormalization, Score: 0.65},
		{Technique: domain.TechniqueReflection, Score: 0.5},
	}, sel.Techniques)
	assert.Equal(t, domain.TechniqueQuestioning, sel.Best.Technique)
}

func TestParseSelectionRespectsEnabledSet(t *testing.T) {
	enabled := []domain.Technique{domain.TechniqueReflection}
	raw := `[{"technique":"Questioning","score":0.9},{"technique":"Reflection","score":0.3}]`

	sel, err := agentflow.ParseSelection(raw, enabled, 3)
	require.NoError(t, err)
	assert.Equal(t, []domain.TechniqueScore{{Technique: domain.TechniqueReflection, Score: 0.3}}, sel.Techniques)
}

func TestParseSelectionTieBreak(t *testing.T) {
	raw := `[{"technique":"Psycho-education","score":0.7},{"technique":"Questioning","score":0.7}]`
	sel, err := agentflow.ParseSelection(raw, domain.AllTechniques, 3)
	require.NoError(t, err)

	assert.Equal(t, domain.TechniqueQuestioning, sel.Best.Technique)
	assert.Equal(t, domain.TechniqueQuestioning, sel.Techniques[0].Technique)
}

func TestParseSelectionHeuristicMultiLine(t *testing.T) {
	raw := "1. reflection - 0.8\n2. Providing solutions (0.45)\n3. something else"
	sel, err := agentflow.ParseSelection(raw, domain.AllTechniques, 3)
	require.NoError(t, err)

	assert.Equal(t, []domain.TechniqueScore{
		{Technique: domain.TechniqueReflection, Score: 0.8},
		{Technique: domain.TechniqueProvidingSolutions, Score: 0.45},
	}, sel.Techniques)
}

func TestTechniqueSelectorGeneratorFailure(t *testing.T) {
	cfg := config.Default()
	gen := llm.NewMockGenerator().Fail(domain.StageSelect, errors.New("quota exceeded"))

	sel := agentflow.NewTechniqueSelector(gen, cfg)
	s := domain.NewSessionState()
	s.Append(domain.SpeakerClient, "hello")

	_, err := sel.Select(context.Background(), s)
	require.ErrorIs(t, err, domain.ErrNoValidTechniques)
	assert.ErrorContains(t, err, "quota exceeded")
}

func TestTechniqueSelectorPromptCarriesPlan(t *testing.T) {
	cfg := config.Default()
	gen := llm.NewMockGenerator().Reply(domain.StageSelect, `[{"technique":"Normalization","score":0.6}]`)

	s := domain.NewSessionState()
	s.PlanSummary = "work on sleep hygiene"
	s.Append(domain.SpeakerClient, "I keep waking at 3am")

	sel, err := agentflow.NewTechniqueSelector(gen, cfg).Select(context.Background(), s)
	require.NoError(t, err)
	assert.Equal(t, domain.TechniqueNormalization, sel.Best.Technique)

	calls := gen.Calls(domain.StageSelect)
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].System, "work on sleep hygiene")
	assert.Contains(t, calls[0].User, "Client: I keep waking at 3am")
}

func TestTechniqueSelectorPromptUsesHistoryWindow(t *testing.T) {
	cfg := config.Default()
	require.Equal(t, 10, cfg.Pipeline.HistoryWindow)
	gen := llm.NewMockGenerator().Reply(domain.StageSelect, `[{"technique":"Reflection","score":0.8}]`)

	s := domain.NewSessionState()
	for i := 1; i <= 12; i++ {
		speaker := domain.SpeakerClient
		if i%2 == 0 {
			speaker = domain.SpeakerCounselor
		}
		s.Append(speaker, fmt.Sprintf("turn-%02d", i))
	}

	_, err := agentflow.NewTechniqueSelector(gen, cfg).Select(context.Background(), s)
	require.NoError(t, err)

	calls := gen.Calls(domain.StageSelect)
	require.Len(t, calls, 1)
	assert.NotContains(t, calls[0].User, "turn-01")
	assert.NotContains(t, calls[0].User, "turn-02")
	assert.Contains(t, calls[0].User, "Client: turn-03")
	assert.Contains(t, calls[0].User, "Counselor: turn-12")
}
