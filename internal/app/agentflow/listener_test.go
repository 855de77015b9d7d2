package agentflow_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/farum-cbt/internal/adapters/llm"
	"github.com/PabloGalante/farum-cbt/internal/app/agentflow"
	"github.com/PabloGalante/farum-cbt/internal/config"
	"github.com/PabloGalante/farum-cbt/internal/domain"
)

func testProfile() domain.ClientProfile {
	return domain.ClientProfile{
		Age:                 34,
		Gender:              "male",
		Mood:                "tired",
		Diagnosis:           "mild depression",
		History:             "recent job loss",
		ReasonForCounseling: "low motivation",
	}
}

func TestParseAgenda(t *testing.T) {
	reply := `**Session focus:** coping with job loss
- Explore feelings about the layoff
• Identify daily structure
* Plan one job application

Goals: rebuild routine, reduce rumination
Priorities: sleep,  mood ,`

	ag := agentflow.ParseAgenda(reply)

	assert.Equal(t, "coping with job loss", ag.Focus)
	assert.Equal(t, []string{
		"Explore feelings about the layoff",
		"Identify daily structure",
		"Plan one job application",
	}, ag.Items)
	assert.Equal(t, []string{"rebuild routine", "reduce rumination"}, ag.Goals)
	assert.Equal(t, []string{"sleep", "mood"}, ag.Priorities)
	assert.Equal(t, reply, ag.Summary)
}

func TestParseAgendaFreeText(t *testing.T) {
	ag := agentflow.ParseAgenda("Let's talk about whatever feels most pressing.")

	assert.Empty(t, ag.Focus)
	assert.Empty(t, ag.Items)
	assert.Equal(t, "Let's talk about whatever feels most pressing.", ag.Summary)
}

func TestAgendaCombinedContext(t *testing.T) {
	ag := agentflow.Agenda{Focus: "sleep", Goals: []string{"rest"}}
	got := ag.CombinedContext(testProfile())

	assert.Equal(t, "Session Focus: sleep | Session Goals: rest | Client Goal: Not specified | Diagnosis: mild depression", got)
}

func TestListenerAgentSetAgenda(t *testing.T) {
	cfg := config.Default()
	gen := llm.NewMockGenerator()

	ag, err := agentflow.NewListenerAgent(gen, cfg).SetAgenda(context.Background(), testProfile(), "I lost my job")
	require.NoError(t, err)
	assert.Equal(t, "understanding current stressors", ag.Focus)

	calls := gen.Calls(domain.StageAgenda)
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].System, "Client goal: Not specified")
	assert.Contains(t, calls[0].System, "Scheduling constraints: No specific constraints")
	assert.Contains(t, calls[0].User, "I lost my job")
}

func TestPlannerAgent(t *testing.T) {
	cfg := config.Default()
	gen := llm.NewMockGenerator()

	agenda := agentflow.Agenda{Focus: "job loss", Summary: "Session focus: job loss"}
	plan, err := agentflow.NewPlannerAgent(gen, cfg).CreatePlan(context.Background(), testProfile(), agenda, "I lost my job")
	require.NoError(t, err)
	assert.NotEmpty(t, plan)

	calls := gen.Calls(domain.StagePlan)
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].System, "- Cognitive Interventions")
	assert.Contains(t, calls[0].User, "Agenda Information:")
	assert.Contains(t, calls[0].User, "Session Focus: job loss")
}

func TestPlannerAgentEmptyPlan(t *testing.T) {
	cfg := config.Default()

	gen := llm.NewMockGenerator().Reply(domain.StagePlan, "  ")
	_, err := agentflow.NewPlannerAgent(gen, cfg).CreatePlan(context.Background(), testProfile(), agentflow.Agenda{}, "hi")
	require.Error(t, err)

	gen = llm.NewMockGenerator().Fail(domain.StagePlan, errors.New("boom"))
	_, err = agentflow.NewPlannerAgent(gen, cfg).CreatePlan(context.Background(), testProfile(), agentflow.Agenda{}, "hi")
	require.Error(t, err)
}
