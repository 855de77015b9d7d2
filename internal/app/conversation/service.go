package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/PabloGalante/farum-cbt/internal/app/agentflow"
	"github.com/PabloGalante/farum-cbt/internal/config"
	"github.com/PabloGalante/farum-cbt/internal/domain"
	"github.com/PabloGalante/farum-cbt/internal/observability"
)

// ErrNoSessionStore is returned by the stateful operations when the service
// was built without a store.
var ErrNoSessionStore = errors.New("session store not configured")

const (
	entryStart = "start"
	entryTurn  = "turn"
)

// Service is the caller-facing boundary of the turn engine. StartSession and
// ProcessTurn are stateless: the caller keeps the snapshot between calls.
// CreateSession and SendMessage do the same over a SessionStore.
type Service struct {
	orchestrator *agentflow.Orchestrator
	store        domain.SessionStore
	metrics      *observability.TurnMetrics
	maxChars     int
	now          func() time.Time
}

// NewService builds the turn engine. kb and store may be nil.
func NewService(
	cfg *config.Config,
	llm domain.Generator,
	kb domain.KnowledgeBase,
	store domain.SessionStore,
	metrics *observability.TurnMetrics,
) (*Service, error) {
	orch, err := agentflow.NewDefaultOrchestrator(llm, kb, cfg, metrics)
	if err != nil {
		return nil, err
	}
	return &Service{
		orchestrator: orch,
		store:        store,
		metrics:      metrics,
		maxChars:     cfg.Pipeline.MaxMessageChars,
		now:          time.Now,
	}, nil
}

// TurnResult is the reply to both entry points.
type TurnResult struct {
	Reply          string                     `json:"reply"`
	Session        domain.SessionSnapshot     `json:"session"`
	CrisisDetected bool                       `json:"crisis_detected"`
	Techniques     []domain.SnapshotTechnique `json:"techniques,omitempty"`
	Path           string                     `json:"path"`
}

// StartSession validates the profile and opening message, creates a fresh
// session and runs the first turn.
func (s *Service) StartSession(ctx context.Context, profile domain.ClientProfile, message string) (*TurnResult, error) {
	if err := s.validate(profile, message); err != nil {
		s.metrics.ObserveTurn(entryStart, "error")
		return nil, err
	}

	state := domain.NewSessionState()
	ctx = observability.WithSessionID(ctx, string(state.ID))
	observability.LoggerFromContext(ctx).Info("starting new session")

	return s.run(ctx, entryStart, state, profile, message)
}

// ProcessTurn validates its inputs, restores the session from snapshot and
// runs one turn. A malformed snapshot is rejected before any stage runs.
func (s *Service) ProcessTurn(
	ctx context.Context,
	snapshot domain.SessionSnapshot,
	profile domain.ClientProfile,
	message string,
) (*TurnResult, error) {
	if err := s.validate(profile, message); err != nil {
		s.metrics.ObserveTurn(entryTurn, "error")
		return nil, err
	}

	state, err := domain.FromSnapshot(snapshot)
	if err != nil {
		s.metrics.ObserveTurn(entryTurn, "error")
		return nil, err
	}
	if state.ID == "" {
		state.ID = domain.NewSessionState().ID
	}
	ctx = observability.WithSessionID(ctx, string(state.ID))

	return s.run(ctx, entryTurn, state, profile, message)
}

// Summary describes a snapshot without running anything.
func (s *Service) Summary(snapshot domain.SessionSnapshot) (domain.SessionSummary, error) {
	state, err := domain.FromSnapshot(snapshot)
	if err != nil {
		return domain.SessionSummary{}, err
	}
	return state.Summary(), nil
}

func (s *Service) validate(profile domain.ClientProfile, message string) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	return domain.ValidateMessage(message, s.maxChars)
}

func (s *Service) run(
	ctx context.Context,
	entry string,
	state *domain.SessionState,
	profile domain.ClientProfile,
	message string,
) (*TurnResult, error) {
	out, err := s.orchestrator.Run(ctx, state, profile, message)
	if err != nil {
		s.metrics.ObserveTurn(entry, "error")
		observability.LoggerFromContext(ctx).Error("turn failed", "error", err)
		return nil, err
	}
	s.metrics.ObserveTurn(entry, string(out.Path))

	res := &TurnResult{
		Reply:          out.Reply,
		Session:        out.Session.Snapshot(),
		CrisisDetected: out.CrisisDetected,
		Path:           string(out.Path),
	}
	for _, ts := range out.Techniques {
		res.Techniques = append(res.Techniques, domain.SnapshotTechnique{
			Technique: ts.Technique.String(),
			Score:     ts.Score,
		})
	}
	return res, nil
}

// ─────────────────────────────────────────────
// Server-side sessions
// ─────────────────────────────────────────────

// CreateSession runs StartSession and stores the result with its profile.
func (s *Service) CreateSession(ctx context.Context, profile domain.ClientProfile, message string) (*TurnResult, error) {
	if s.store == nil {
		return nil, ErrNoSessionStore
	}

	res, err := s.StartSession(ctx, profile, message)
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, profile, res.Session); err != nil {
		return nil, err
	}
	return res, nil
}

// SendMessage loads a stored session, runs one turn with the stored profile
// and saves the new snapshot. A failed turn leaves the stored record as is.
func (s *Service) SendMessage(ctx context.Context, id domain.SessionID, message string) (*TurnResult, error) {
	if s.store == nil {
		return nil, ErrNoSessionStore
	}

	rec, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	res, err := s.ProcessTurn(ctx, rec.Snapshot, rec.Profile, message)
	if err != nil {
		return nil, err
	}
	if err := s.save(ctx, rec.Profile, res.Session); err != nil {
		return nil, err
	}
	return res, nil
}

// GetSession returns the stored record and its summary.
func (s *Service) GetSession(ctx context.Context, id domain.SessionID) (*domain.SessionRecord, domain.SessionSummary, error) {
	if s.store == nil {
		return nil, domain.SessionSummary{}, ErrNoSessionStore
	}

	rec, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, domain.SessionSummary{}, err
	}
	summary, err := s.Summary(rec.Snapshot)
	if err != nil {
		return nil, domain.SessionSummary{}, err
	}
	return rec, summary, nil
}

func (s *Service) DeleteSession(ctx context.Context, id domain.SessionID) error {
	if s.store == nil {
		return ErrNoSessionStore
	}
	return s.store.DeleteSession(ctx, id)
}

func (s *Service) save(ctx context.Context, profile domain.ClientProfile, snap domain.SessionSnapshot) error {
	rec := &domain.SessionRecord{
		ID:        domain.SessionID(snap.SessionID),
		Profile:   profile,
		Snapshot:  snap,
		UpdatedAt: s.now(),
	}
	if err := s.store.SaveSession(ctx, rec); err != nil {
		observability.LoggerFromContext(ctx).Error("failed to save session", "error", err)
		return fmt.Errorf("saving session %s: %w", rec.ID, err)
	}
	return nil
}
