package agentflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PabloGalante/farum-cbt/internal/config"
	"github.com/PabloGalante/farum-cbt/internal/domain"
)

// PlannerAgent: turns the intake profile and agenda into a CBT counseling plan.
type PlannerAgent struct {
	llm        domain.Generator
	prompt     *config.PromptTemplate
	techniques []string
	timeout    time.Duration
}

func NewPlannerAgent(llm domain.Generator, cfg *config.Config) *PlannerAgent {
	return &PlannerAgent{
		llm:        llm,
		prompt:     &cfg.Prompts.CBTPlan,
		techniques: cfg.Pipeline.CBTTechniques,
		timeout:    cfg.LLM.CallTimeout,
	}
}

func (a *PlannerAgent) Name() string {
	return "planner"
}

func (a *PlannerAgent) CreatePlan(ctx context.Context, profile domain.ClientProfile, agenda Agenda, dialogue string) (string, error) {
	clientInfo := profile.Context()
	if agenda.Summary != "" {
		clientInfo = fmt.Sprintf("%s\n\nAgenda Information:\n%s\n\nCombined Context:\n%s",
			clientInfo, agenda.Summary, agenda.CombinedContext(profile))
	}

	plan, err := generate(ctx, domain.StagePlan, a.llm, a.timeout, a.prompt, map[string]any{
		"CBTTechniques": a.techniques,
		"ClientContext": clientInfo,
		"Reason":        profile.ReasonForCounseling,
		"Dialogue":      dialogue,
	})
	if err != nil {
		return "", err
	}

	plan = strings.TrimSpace(plan)
	if plan == "" {
		return "", fmt.Errorf("planner returned an empty plan")
	}
	return plan, nil
}
