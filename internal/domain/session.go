package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// SnapshotVersion is the session snapshot format written by Marshal.
const SnapshotVersion = 1

// Message is one utterance in the transcript. Immutable once appended.
type Message struct {
	Speaker Speaker
	Content string
}

func (m Message) String() string {
	return string(m.Speaker) + ": " + m.Content
}

// SessionState is the typed record of a counseling conversation.
//
// Messages are append-only and their order is the transcript. The turn
// orchestrator is the only writer: it works on a Clone and returns it.
type SessionState struct {
	ID       SessionID
	Messages []Message

	// PlanSummary is the CBT treatment plan, written once at intake.
	PlanSummary string

	// LastSelectedTechniques is overwritten on every turn that reached
	// technique selection and cleared on early-terminal turns.
	LastSelectedTechniques []TechniqueScore

	AgendaItems   []string
	SessionFocus  string
	Goals         []string
	Priorities    []string
	AgendaSummary string

	// CrisisFlags of the most recent crisis turn.
	CrisisFlags []string
}

// NewSessionState starts an empty session with a fresh id.
func NewSessionState() *SessionState {
	return &SessionState{ID: SessionID(uuid.NewString())}
}

// Append adds one message to the transcript.
func (s *SessionState) Append(speaker Speaker, content string) {
	s.Messages = append(s.Messages, Message{Speaker: speaker, Content: content})
}

// Clone returns a deep copy, so the caller can mutate it freely and throw
// it away if the turn fails.
func (s *SessionState) Clone() *SessionState {
	c := *s
	c.Messages = cloneSlice(s.Messages)
	c.LastSelectedTechniques = cloneSlice(s.LastSelectedTechniques)
	c.AgendaItems = cloneSlice(s.AgendaItems)
	c.Goals = cloneSlice(s.Goals)
	c.Priorities = cloneSlice(s.Priorities)
	c.CrisisFlags = cloneSlice(s.CrisisFlags)
	return &c
}

func cloneSlice[T any](in []T) []T {
	if len(in) == 0 {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}

// LastMessages returns up to n trailing messages. n <= 0 returns all.
func (s *SessionState) LastMessages(n int) []Message {
	if n <= 0 || n >= len(s.Messages) {
		return s.Messages
	}
	return s.Messages[len(s.Messages)-n:]
}

// History formats the last n messages as "Speaker: content" lines.
func (s *SessionState) History(n int) string {
	msgs := s.LastMessages(n)
	lines := make([]string, 0, len(msgs))
	for _, m := range msgs {
		lines = append(lines, m.String())
	}
	return strings.Join(lines, "\n")
}

// LatestClientMessage returns the content of the newest Client message.
func (s *SessionState) LatestClientMessage() string {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].Speaker == SpeakerClient {
			return s.Messages[i].Content
		}
	}
	return ""
}

// BestTechnique is the argmax of LastSelectedTechniques.
func (s *SessionState) BestTechnique() (TechniqueScore, bool) {
	return BestOf(s.LastSelectedTechniques)
}

// BestOf picks the highest score; ties go to the technique declared first
// in the taxonomy.
func BestOf(scores []TechniqueScore) (TechniqueScore, bool) {
	if len(scores) == 0 {
		return TechniqueScore{}, false
	}
	best := scores[0]
	for _, ts := range scores[1:] {
		if ts.Score > best.Score ||
			(ts.Score == best.Score && ts.Technique.Order() < best.Technique.Order()) {
			best = ts
		}
	}
	return best, true
}

// SessionSummary is a read-only view of a session for callers and logs.
type SessionSummary struct {
	SessionID        SessionID `json:"session_id"`
	TotalTurns       int       `json:"total_turns"`
	MessageCount     int       `json:"message_count"`
	PlanSummary      string    `json:"plan_summary,omitempty"`
	RecentTechniques []string  `json:"recent_techniques"`
	AgendaItems      []string  `json:"agenda_items,omitempty"`
	SessionFocus     string    `json:"session_focus,omitempty"`
	Goals            []string  `json:"goals,omitempty"`
	Priorities       []string  `json:"priorities,omitempty"`
	AgendaSummary    string    `json:"agenda_summary,omitempty"`
}

func (s *SessionState) Summary() SessionSummary {
	recent := make([]string, 0, len(s.LastSelectedTechniques))
	for _, ts := range s.LastSelectedTechniques {
		recent = append(recent, ts.Technique.String())
	}
	return SessionSummary{
		SessionID:        s.ID,
		TotalTurns:       len(s.Messages) / 2,
		MessageCount:     len(s.Messages),
		PlanSummary:      s.PlanSummary,
		RecentTechniques: recent,
		AgendaItems:      s.AgendaItems,
		SessionFocus:     s.SessionFocus,
		Goals:            s.Goals,
		Priorities:       s.Priorities,
		AgendaSummary:    s.AgendaSummary,
	}
}

// ─────────────────────────────────────────────
// Snapshot codec
// ─────────────────────────────────────────────

// SessionSnapshot is the plain JSON shape exchanged with callers. Technique
// names are always written in their display spelling ("Providing solutions",
// "Psycho-education"); the identifier spellings are accepted on input and
// come back in display form, so only display-spelled snapshots round-trip
// byte for byte.
type SessionSnapshot struct {
	Version                int                 `json:"version"`
	SessionID              string              `json:"session_id,omitempty"`
	Messages               []SnapshotMessage   `json:"messages"`
	PlanSummary            string              `json:"plan_summary,omitempty"`
	LastSelectedTechniques []SnapshotTechnique `json:"last_selected_techniques,omitempty"`
	AgendaItems            []string            `json:"agenda_items,omitempty"`
	SessionFocus           string              `json:"session_focus,omitempty"`
	Goals                  []string            `json:"goals,omitempty"`
	Priorities             []string            `json:"priorities,omitempty"`
	AgendaSummary          string              `json:"agenda_summary,omitempty"`
	CrisisFlags            []string            `json:"crisis_flags,omitempty"`
}

type SnapshotMessage struct {
	Speaker string `json:"speaker"`
	Content string `json:"content"`
}

type SnapshotTechnique struct {
	Technique string  `json:"technique"`
	Score     float64 `json:"score"`
}

// Clone returns a deep copy of the snapshot.
func (snap SessionSnapshot) Clone() SessionSnapshot {
	c := snap
	c.Messages = cloneSlice(snap.Messages)
	c.LastSelectedTechniques = cloneSlice(snap.LastSelectedTechniques)
	c.AgendaItems = cloneSlice(snap.AgendaItems)
	c.Goals = cloneSlice(snap.Goals)
	c.Priorities = cloneSlice(snap.Priorities)
	c.CrisisFlags = cloneSlice(snap.CrisisFlags)
	return c
}

// Snapshot converts the state to its serializable form.
func (s *SessionState) Snapshot() SessionSnapshot {
	snap := SessionSnapshot{
		Version:       SnapshotVersion,
		SessionID:     string(s.ID),
		PlanSummary:   s.PlanSummary,
		AgendaItems:   cloneSlice(s.AgendaItems),
		SessionFocus:  s.SessionFocus,
		Goals:         cloneSlice(s.Goals),
		Priorities:    cloneSlice(s.Priorities),
		AgendaSummary: s.AgendaSummary,
		CrisisFlags:   cloneSlice(s.CrisisFlags),
	}
	snap.Messages = make([]SnapshotMessage, 0, len(s.Messages))
	for _, m := range s.Messages {
		snap.Messages = append(snap.Messages, SnapshotMessage{Speaker: string(m.Speaker), Content: m.Content})
	}
	for _, ts := range s.LastSelectedTechniques {
		snap.LastSelectedTechniques = append(snap.LastSelectedTechniques,
			SnapshotTechnique{Technique: ts.Technique.String(), Score: ts.Score})
	}
	return snap
}

// FromSnapshot validates a snapshot and builds the typed state. Any
// violation is reported as ErrMalformedSnapshot.
func FromSnapshot(snap SessionSnapshot) (*SessionState, error) {
	if snap.Version != SnapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrMalformedSnapshot, snap.Version)
	}
	if snap.SessionID != "" {
		if _, err := uuid.Parse(snap.SessionID); err != nil {
			return nil, fmt.Errorf("%w: session_id: %v", ErrMalformedSnapshot, err)
		}
	}

	if field, ok := invalidUTF8Field(snap); ok {
		return nil, fmt.Errorf("%w: %s: invalid UTF-8", ErrMalformedSnapshot, field)
	}

	s := &SessionState{
		ID:            SessionID(snap.SessionID),
		PlanSummary:   snap.PlanSummary,
		AgendaItems:   cloneSlice(snap.AgendaItems),
		SessionFocus:  snap.SessionFocus,
		Goals:         cloneSlice(snap.Goals),
		Priorities:    cloneSlice(snap.Priorities),
		AgendaSummary: snap.AgendaSummary,
		CrisisFlags:   cloneSlice(snap.CrisisFlags),
	}

	for i, m := range snap.Messages {
		sp := Speaker(m.Speaker)
		if !sp.Valid() {
			return nil, fmt.Errorf("%w: messages[%d]: unknown speaker %q", ErrMalformedSnapshot, i, m.Speaker)
		}
		if strings.TrimSpace(m.Content) == "" {
			return nil, fmt.Errorf("%w: messages[%d]: empty content", ErrMalformedSnapshot, i)
		}
		s.Messages = append(s.Messages, Message{Speaker: sp, Content: m.Content})
	}

	for i, st := range snap.LastSelectedTechniques {
		t, ok := ParseTechnique(st.Technique)
		if !ok {
			return nil, fmt.Errorf("%w: last_selected_techniques[%d]: unknown technique %q", ErrMalformedSnapshot, i, st.Technique)
		}
		if math.IsNaN(st.Score) || st.Score < 0 || st.Score > 1 {
			return nil, fmt.Errorf("%w: last_selected_techniques[%d]: score %v outside [0,1]", ErrMalformedSnapshot, i, st.Score)
		}
		s.LastSelectedTechniques = append(s.LastSelectedTechniques, TechniqueScore{Technique: t, Score: st.Score})
	}

	return s, nil
}

// invalidUTF8Field names the first text field that is not valid UTF-8. JSON
// encoding would replace such bytes, so the state could not round-trip.
func invalidUTF8Field(snap SessionSnapshot) (string, bool) {
	for i, m := range snap.Messages {
		if !utf8.ValidString(m.Content) {
			return fmt.Sprintf("messages[%d]", i), true
		}
	}
	fields := []struct {
		name   string
		values []string
	}{
		{"plan_summary", []string{snap.PlanSummary}},
		{"session_focus", []string{snap.SessionFocus}},
		{"agenda_summary", []string{snap.AgendaSummary}},
		{"agenda_items", snap.AgendaItems},
		{"goals", snap.Goals},
		{"priorities", snap.Priorities},
		{"crisis_flags", snap.CrisisFlags},
	}
	for _, f := range fields {
		for _, v := range f.values {
			if !utf8.ValidString(v) {
				return f.name, true
			}
		}
	}
	return "", false
}

// MarshalSessionState serializes the state as JSON.
func MarshalSessionState(s *SessionState) ([]byte, error) {
	return json.Marshal(s.Snapshot())
}

// UnmarshalSessionState parses and validates a JSON snapshot.
func UnmarshalSessionState(data []byte) (*SessionState, error) {
	var snap SessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	return FromSnapshot(snap)
}
