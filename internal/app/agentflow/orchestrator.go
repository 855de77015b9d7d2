package agentflow

import (
	"context"
	"fmt"
	"time"

	"github.com/PabloGalante/farum-cbt/internal/config"
	"github.com/PabloGalante/farum-cbt/internal/domain"
	"github.com/PabloGalante/farum-cbt/internal/observability"
)

// Path names how a turn reached its commit.
type Path string

const (
	PathNormal     Path = "normal"
	PathCrisis     Path = "crisis"
	PathDeflection Path = "deflection"
	PathFallback   Path = "fallback"
)

// TurnOutcome is a committed turn.
type TurnOutcome struct {
	Session        *domain.SessionState
	Reply          string
	CrisisDetected bool
	Techniques     []domain.TechniqueScore
	Path           Path
	SelectorTier   string
}

// Orchestrator runs one turn through the gates, selection, a single
// responder and synthesis. It holds only read-only configuration and is
// safe for concurrent use across sessions.
type Orchestrator struct {
	crisis      *CrisisGate
	relevance   *RelevanceGate
	listener    *ListenerAgent
	planner     *PlannerAgent
	selector    *TechniqueSelector
	registry    *Registry
	synthesizer *ResponseSynthesizer

	crisisPolicy    config.GatePolicy
	relevancePolicy config.GatePolicy
	fallbackReply   string

	metrics *observability.TurnMetrics
}

// NewDefaultOrchestrator wires every stage against one generator and an
// optional knowledge base (kb may be nil).
func NewDefaultOrchestrator(
	llm domain.Generator,
	kb domain.KnowledgeBase,
	cfg *config.Config,
	metrics *observability.TurnMetrics,
) (*Orchestrator, error) {
	if llm == nil {
		return nil, fmt.Errorf("orchestrator: generator is required")
	}
	if cfg == nil || cfg.Prompts == nil {
		return nil, fmt.Errorf("orchestrator: config with prompts is required")
	}

	registry, err := NewDefaultRegistry(llm, kb, cfg, metrics)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	return &Orchestrator{
		crisis:          NewCrisisGate(llm, kb, cfg),
		relevance:       NewRelevanceGate(llm, cfg),
		listener:        NewListenerAgent(llm, cfg),
		planner:         NewPlannerAgent(llm, cfg),
		selector:        NewTechniqueSelector(llm, cfg),
		registry:        registry,
		synthesizer:     NewResponseSynthesizer(llm, cfg),
		crisisPolicy:    cfg.Pipeline.CrisisGatePolicy,
		relevancePolicy: cfg.Pipeline.RelevanceGatePolicy,
		fallbackReply:   cfg.Safety.FallbackReply,
		metrics:         metrics,
	}, nil
}

// Run processes message against prior and returns the committed state.
// prior is never modified. On error nothing is committed: the caller keeps
// prior as the session of record.
func (o *Orchestrator) Run(
	ctx context.Context,
	prior *domain.SessionState,
	profile domain.ClientProfile,
	message string,
) (*TurnOutcome, error) {
	work := prior.Clone()
	log := observability.LoggerFromContext(ctx)
	log.Info("turn started", "message_count", len(work.Messages))

	// CrisisCheck
	start := time.Now()
	verdict, err := o.crisis.Check(ctx, work, message)
	o.metrics.ObserveStage("crisis", start)
	switch {
	case err != nil:
		log.Warn("crisis gate failed", "policy", o.crisisPolicy, "error", err)
		o.metrics.GateFailure("crisis", string(o.crisisPolicy))
		if o.crisisPolicy == config.FailClosed {
			return o.commitEarly(ctx, work, message, o.fallbackReply, PathFallback, false)
		}
	case verdict.IsCrisis():
		log.Warn("crisis detected", "flags", verdict.Flags)
		work.CrisisFlags = verdict.Flags
		return o.commitEarly(ctx, work, message, verdict.Response, PathCrisis, true)
	}

	// RelevanceCheck
	start = time.Now()
	relevance, err := o.relevance.Check(ctx, message)
	o.metrics.ObserveStage("relevance", start)
	switch {
	case err != nil:
		log.Warn("relevance gate failed", "policy", o.relevancePolicy, "error", err)
		o.metrics.GateFailure("relevance", string(o.relevancePolicy))
		if o.relevancePolicy == config.FailClosed {
			return o.commitEarly(ctx, work, message, o.fallbackReply, PathFallback, false)
		}
	case relevance != RelevantSentinel:
		log.Info("message deflected as off-topic")
		return o.commitEarly(ctx, work, message, relevance, PathDeflection, false)
	}

	work.Append(domain.SpeakerClient, message)

	if work.PlanSummary == "" {
		start = time.Now()
		o.intake(ctx, work, profile, message)
		o.metrics.ObserveStage("intake", start)
	}

	// TechniqueSelect
	start = time.Now()
	sel, err := o.selector.Select(ctx, work)
	o.metrics.ObserveStage("select", start)
	o.metrics.SelectorTier(sel.Tier)
	if err != nil {
		log.Error("technique selection failed", "error", err)
		return nil, err
	}
	log.Info("techniques selected",
		"tier", sel.Tier,
		"best", sel.Best.Technique.String(),
		"score", sel.Best.Score,
		"count", len(sel.Techniques))

	// Respond
	start = time.Now()
	candidate := o.registry.Dispatch(ctx, sel.Best.Technique, ResponderInput{
		Profile: profile,
		Session: work,
	})
	o.metrics.ObserveStage("respond", start)

	// Synthesize
	start = time.Now()
	reply := o.synthesizer.Synthesize(ctx, sel.Best.Technique, candidate, sel.Techniques)
	o.metrics.ObserveStage("synthesize", start)

	// Committed
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("turn aborted before commit: %w", err)
	}
	work.LastSelectedTechniques = sel.Techniques
	work.Append(domain.SpeakerCounselor, reply)

	log.Info("turn committed", "path", PathNormal, "message_count", len(work.Messages))
	return &TurnOutcome{
		Session:      work,
		Reply:        reply,
		Techniques:   sel.Techniques,
		Path:         PathNormal,
		SelectorTier: sel.Tier,
	}, nil
}

func (o *Orchestrator) commitEarly(
	ctx context.Context,
	work *domain.SessionState,
	message, reply string,
	path Path,
	crisis bool,
) (*TurnOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("turn aborted before commit: %w", err)
	}

	work.LastSelectedTechniques = nil
	work.Append(domain.SpeakerClient, message)
	work.Append(domain.SpeakerCounselor, reply)

	observability.LoggerFromContext(ctx).Info("turn committed",
		"path", path,
		"message_count", len(work.Messages))
	return &TurnOutcome{
		Session:        work,
		Reply:          reply,
		CrisisDetected: crisis,
		Path:           path,
	}, nil
}

// intake sets the agenda and writes the CBT plan. Failures leave the fields
// empty so the next turn tries again.
func (o *Orchestrator) intake(ctx context.Context, work *domain.SessionState, profile domain.ClientProfile, message string) {
	log := observability.LoggerFromContext(ctx)

	var agenda Agenda
	if work.AgendaSummary == "" {
		var err error
		agenda, err = o.listener.SetAgenda(ctx, profile, message)
		if err != nil {
			log.Warn("agenda setting failed", "agent", o.listener.Name(), "error", err)
		} else {
			work.AgendaItems = agenda.Items
			work.SessionFocus = agenda.Focus
			work.Goals = agenda.Goals
			work.Priorities = agenda.Priorities
			work.AgendaSummary = agenda.Summary
		}
	} else {
		agenda = Agenda{
			Items:      work.AgendaItems,
			Focus:      work.SessionFocus,
			Goals:      work.Goals,
			Priorities: work.Priorities,
			Summary:    work.AgendaSummary,
		}
	}

	plan, err := o.planner.CreatePlan(ctx, profile, agenda, message)
	if err != nil {
		log.Warn("cbt planning failed", "agent", o.planner.Name(), "error", err)
		return
	}
	work.PlanSummary = plan
}
