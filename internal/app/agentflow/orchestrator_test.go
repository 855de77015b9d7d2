package agentflow_test

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/PabloGalante/farum-cbt/internal/adapters/llm"
	"github.com/PabloGalante/farum-cbt/internal/app/agentflow"
	"github.com/PabloGalante/farum-cbt/internal/config"
	"github.com/PabloGalante/farum-cbt/internal/domain"
	"github.com/PabloGalante/farum-cbt/internal/observability"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const crisisJSON = `{"flags": ["Suicidal Ideation"], "response": "Please call your local emergency number now."}`

func newOrchestrator(t *testing.T, gen domain.Generator, mutate ...func(*config.Config)) (*agentflow.Orchestrator, *observability.TurnMetrics) {
	t.Helper()
	cfg := config.Default()
	for _, fn := range mutate {
		fn(cfg)
	}
	metrics := observability.NewTurnMetrics(prometheus.NewRegistry())
	o, err := agentflow.NewDefaultOrchestrator(gen, nil, cfg, metrics)
	require.NoError(t, err)
	return o, metrics
}

func priorSession() *domain.SessionState {
	s := domain.NewSessionState()
	s.Append(domain.SpeakerClient, "Work has been overwhelming.")
	s.Append(domain.SpeakerCounselor, "That sounds like a lot to carry.")
	s.PlanSummary = "Behavioural activation and thought records."
	s.LastSelectedTechniques = []domain.TechniqueScore{{Technique: domain.TechniqueReflection, Score: 0.9}}
	return s
}

func TestNewDefaultOrchestratorRequiresGenerator(t *testing.T) {
	_, err := agentflow.NewDefaultOrchestrator(nil, nil, config.Default(), nil)
	require.Error(t, err)
}

func TestRunNormalPath(t *testing.T) {
	gen := llm.NewMockGenerator().
		Reply(domain.StageSelect, `[{"technique":"Normalization","score":0.8},{"technique":"Reflection","score":0.4}]`).
		Reply(domain.StageRespond, "Lots of people feel stretched thin at work.")
	o, _ := newOrchestrator(t, gen)

	prior := priorSession()
	out, err := o.Run(context.Background(), prior, testProfile(), "My boss keeps adding deadlines.")
	require.NoError(t, err)

	assert.Equal(t, agentflow.PathNormal, out.Path)
	assert.False(t, out.CrisisDetected)
	assert.Equal(t, "Lots of people feel stretched thin at work.", out.Reply)
	assert.Equal(t, agentflow.TierStructured, out.SelectorTier)

	require.Len(t, out.Session.Messages, 4)
	assert.Equal(t, domain.Message{Speaker: domain.SpeakerClient, Content: "My boss keeps adding deadlines."}, out.Session.Messages[2])
	assert.Equal(t, domain.Message{Speaker: domain.SpeakerCounselor, Content: out.Reply}, out.Session.Messages[3])
	assert.Equal(t, []domain.TechniqueScore{
		{Technique: domain.TechniqueNormalization, Score: 0.8},
		{Technique: domain.TechniqueReflection, Score: 0.4},
	}, out.Session.LastSelectedTechniques)

	// prior is untouched and intake did not run again.
	assert.Len(t, prior.Messages, 2)
	assert.Empty(t, gen.Calls(domain.StagePlan))
	assert.Empty(t, gen.Calls(domain.StageAgenda))

	// The selector saw the new client message.
	assert.Contains(t, gen.Calls(domain.StageSelect)[0].User, "Client: My boss keeps adding deadlines.")
}

func TestRunFirstTurnRunsIntake(t *testing.T) {
	gen := llm.NewMockGenerator()
	o, _ := newOrchestrator(t, gen)

	out, err := o.Run(context.Background(), domain.NewSessionState(), testProfile(), "I haven't been sleeping well.")
	require.NoError(t, err)

	assert.NotEmpty(t, out.Session.PlanSummary)
	assert.Equal(t, "understanding current stressors", out.Session.SessionFocus)
	assert.Len(t, out.Session.AgendaItems, 2)
	assert.Len(t, gen.Calls(domain.StageAgenda), 1)
	assert.Len(t, gen.Calls(domain.StagePlan), 1)
	assert.Len(t, out.Session.Messages, 2)
}

func TestRunIntakeFailureIsNotFatal(t *testing.T) {
	gen := llm.NewMockGenerator().
		Fail(domain.StageAgenda, errors.New("agenda down")).
		Fail(domain.StagePlan, errors.New("planner down"))
	o, _ := newOrchestrator(t, gen)

	out, err := o.Run(context.Background(), domain.NewSessionState(), testProfile(), "Hello, I feel low.")
	require.NoError(t, err)

	assert.Equal(t, agentflow.PathNormal, out.Path)
	assert.Empty(t, out.Session.PlanSummary)
	assert.Empty(t, out.Session.AgendaSummary)
}

func TestRunCrisisTakesPrecedence(t *testing.T) {
	gen := llm.NewMockGenerator().Reply(domain.StageCrisis, crisisJSON)
	o, _ := newOrchestrator(t, gen)

	prior := priorSession()
	out, err := o.Run(context.Background(), prior, testProfile(), "I don't see the point of going on.")
	require.NoError(t, err)

	assert.True(t, out.CrisisDetected)
	assert.Equal(t, agentflow.PathCrisis, out.Path)
	assert.Equal(t, "Please call your local emergency number now.", out.Reply)
	assert.Equal(t, []string{"Suicidal Ideation"}, out.Session.CrisisFlags)
	assert.Nil(t, out.Session.LastSelectedTechniques)
	assert.Len(t, out.Session.Messages, 4)

	assert.Empty(t, gen.Calls(domain.StageRelevance))
	assert.Empty(t, gen.Calls(domain.StageSelect))
	assert.Empty(t, gen.Calls(domain.StageRespond))
}

func TestRunPartialCrisisIsIgnored(t *testing.T) {
	gen := llm.NewMockGenerator().Reply(domain.StageCrisis, `{"flags": ["Self-Harm"], "response": ""}`)
	o, _ := newOrchestrator(t, gen)

	out, err := o.Run(context.Background(), priorSession(), testProfile(), "I had a hard week.")
	require.NoError(t, err)
	assert.False(t, out.CrisisDetected)
	assert.Equal(t, agentflow.PathNormal, out.Path)
}

func TestRunDeflection(t *testing.T) {
	gen := llm.NewMockGenerator().Reply(domain.StageRelevance, "I'm here to talk about how you're doing, not crypto.")
	o, _ := newOrchestrator(t, gen)

	out, err := o.Run(context.Background(), priorSession(), testProfile(), "What is Bitcoin?")
	require.NoError(t, err)

	assert.Equal(t, agentflow.PathDeflection, out.Path)
	assert.False(t, out.CrisisDetected)
	assert.Equal(t, "I'm here to talk about how you're doing, not crypto.", out.Reply)
	assert.Len(t, out.Session.Messages, 4)
	assert.Nil(t, out.Session.LastSelectedTechniques)

	assert.Empty(t, gen.Calls(domain.StageSelect))
	assert.Empty(t, gen.Calls(domain.StageRespond))
	assert.Empty(t, gen.Calls(domain.StageSynthesize))
}

func TestRunCrisisGateFailClosed(t *testing.T) {
	gen := llm.NewMockGenerator().Fail(domain.StageCrisis, errors.New("timeout"))
	o, metrics := newOrchestrator(t, gen)

	out, err := o.Run(context.Background(), priorSession(), testProfile(), "hi")
	require.NoError(t, err)

	assert.Equal(t, agentflow.PathFallback, out.Path)
	assert.Equal(t, config.Default().Safety.FallbackReply, out.Reply)
	assert.False(t, out.CrisisDetected)
	assert.Empty(t, gen.Calls(domain.StageRelevance))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GateFailuresTotal.WithLabelValues("crisis", "fail_closed")))
}

func TestRunCrisisGateFailOpen(t *testing.T) {
	gen := llm.NewMockGenerator().Reply(domain.StageCrisis, "unparseable")
	o, _ := newOrchestrator(t, gen, func(c *config.Config) {
		c.Pipeline.CrisisGatePolicy = config.FailOpen
	})

	out, err := o.Run(context.Background(), priorSession(), testProfile(), "hi")
	require.NoError(t, err)
	assert.Equal(t, agentflow.PathNormal, out.Path)
}

func TestRunRelevanceGateFailOpen(t *testing.T) {
	gen := llm.NewMockGenerator().Fail(domain.StageRelevance, errors.New("timeout"))
	o, metrics := newOrchestrator(t, gen)

	out, err := o.Run(context.Background(), priorSession(), testProfile(), "I feel tense")
	require.NoError(t, err)
	assert.Equal(t, agentflow.PathNormal, out.Path)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GateFailuresTotal.WithLabelValues("relevance", "fail_open")))
}

func TestRunRelevanceGateFailClosed(t *testing.T) {
	gen := llm.NewMockGenerator().Fail(domain.StageRelevance, errors.New("timeout"))
	o, _ := newOrchestrator(t, gen, func(c *config.Config) {
		c.Pipeline.RelevanceGatePolicy = config.FailClosed
	})

	out, err := o.Run(context.Background(), priorSession(), testProfile(), "I feel tense")
	require.NoError(t, err)
	assert.Equal(t, agentflow.PathFallback, out.Path)
	assert.Empty(t, gen.Calls(domain.StageSelect))
}

func TestRunResponderFailureIsContained(t *testing.T) {
	gen := llm.NewMockGenerator().
		Reply(domain.StageSelect, `[{"technique":"Questioning","score":0.9}]`).
		Fail(domain.StageRespond, errors.New("model overloaded"))
	o, metrics := newOrchestrator(t, gen)

	out, err := o.Run(context.Background(), priorSession(), testProfile(), "I don't know what to do.")
	require.NoError(t, err)

	assert.Equal(t, agentflow.PathNormal, out.Path)
	assert.NotEmpty(t, out.Reply)
	assert.Len(t, out.Session.Messages, 4)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ResponderFailuresTotal.WithLabelValues("Questioning")))
}

func TestRunNoValidTechniquesIsFatal(t *testing.T) {
	gen := llm.NewMockGenerator().Reply(domain.StageSelect, "I would just listen.")
	o, _ := newOrchestrator(t, gen)

	prior := priorSession()
	out, err := o.Run(context.Background(), prior, testProfile(), "hello")
	require.ErrorIs(t, err, domain.ErrNoValidTechniques)
	assert.Nil(t, out)
	assert.Len(t, prior.Messages, 2)
	assert.Empty(t, gen.Calls(domain.StageRespond))
}

func TestRunCancelledBeforeCommit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gen := llm.NewMockGenerator().Script(domain.StageRespond, func(context.Context, string, string) (string, error) {
		cancel()
		return "A reply that never gets committed.", nil
	})
	o, _ := newOrchestrator(t, gen)

	prior := priorSession()
	before := prior.Snapshot()

	out, err := o.Run(ctx, prior, testProfile(), "hello")
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, out)
	assert.Equal(t, before, prior.Snapshot())
}
