package firestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PabloGalante/farum-cbt/internal/domain"
)

type Store struct {
	client *firestore.Client
}

// NewStore creates a Firestore store for projectID.
func NewStore(ctx context.Context, projectID string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

func (s *Store) sessionsCol() *firestore.CollectionRef {
	return s.client.Collection("sessions")
}

func (s *Store) sessionDoc(id domain.SessionID) *firestore.DocumentRef {
	return s.sessionsCol().Doc(string(id))
}

func (s *Store) messagesCol(sessionID domain.SessionID) *firestore.CollectionRef {
	return s.sessionDoc(sessionID).Collection("messages")
}

// Message documents are keyed by zero-padded position so the transcript
// order survives a plain ID sort too.
func (s *Store) messageDoc(sessionID domain.SessionID, index int) *firestore.DocumentRef {
	return s.messagesCol(sessionID).Doc(fmt.Sprintf("%06d", index))
}

// ─────────────────────────────────────────
// Firestore Types
// ─────────────────────────────────────────

// sessionDoc holds the profile and the snapshot without its messages; the
// transcript lives in the messages subcollection.
type sessionDoc struct {
	Profile      string    `firestore:"profile"`
	State        string    `firestore:"state"`
	MessageCount int       `firestore:"message_count"`
	UpdatedAt    time.Time `firestore:"updated_at"`
}

type messageDoc struct {
	Index   int    `firestore:"index"`
	Speaker string `firestore:"speaker"`
	Content string `firestore:"content"`
}

// ─────────────────────────────────────────
// SessionStore implementation
// ─────────────────────────────────────────

// SaveSession writes the session document and appends the messages not yet
// stored. Messages are append-only, so earlier ones are never rewritten.
func (s *Store) SaveSession(ctx context.Context, rec *domain.SessionRecord) error {
	if rec == nil || rec.ID == "" {
		return domain.NewValidationError("session_id", "is required")
	}

	prevCount := 0
	snap, err := s.sessionDoc(rec.ID).Get(ctx)
	switch {
	case err == nil:
		var prev sessionDoc
		if err := snap.DataTo(&prev); err != nil {
			return fmt.Errorf("firestore SaveSession decode: %w", err)
		}
		prevCount = prev.MessageCount
	case status.Code(err) != codes.NotFound:
		return fmt.Errorf("firestore SaveSession: %w", err)
	}

	for i := prevCount; i < len(rec.Snapshot.Messages); i++ {
		m := rec.Snapshot.Messages[i]
		doc := messageDoc{Index: i, Speaker: m.Speaker, Content: m.Content}
		if _, err := s.messageDoc(rec.ID, i).Set(ctx, doc); err != nil {
			return fmt.Errorf("firestore SaveSession message %d: %w", i, err)
		}
	}

	profile, err := json.Marshal(rec.Profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	state := rec.Snapshot.Clone()
	state.Messages = nil
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	doc := sessionDoc{
		Profile:      string(profile),
		State:        string(stateJSON),
		MessageCount: len(rec.Snapshot.Messages),
		UpdatedAt:    rec.UpdatedAt,
	}
	if _, err := s.sessionDoc(rec.ID).Set(ctx, doc); err != nil {
		return fmt.Errorf("firestore SaveSession: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id domain.SessionID) (*domain.SessionRecord, error) {
	snap, err := s.sessionDoc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, domain.ErrSessionNotFound
		}
		return nil, fmt.Errorf("firestore GetSession: %w", err)
	}

	var doc sessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore GetSession decode: %w", err)
	}

	rec := &domain.SessionRecord{ID: id, UpdatedAt: doc.UpdatedAt}
	if err := json.Unmarshal([]byte(doc.Profile), &rec.Profile); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	if err := json.Unmarshal([]byte(doc.State), &rec.Snapshot); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	msgs, err := s.messages(ctx, id, doc.MessageCount)
	if err != nil {
		return nil, err
	}
	rec.Snapshot.Messages = msgs
	return rec, nil
}

// messages reads the first count transcript entries in order. Entries past
// count belong to a save that did not finish and are ignored.
func (s *Store) messages(ctx context.Context, id domain.SessionID, count int) ([]domain.SnapshotMessage, error) {
	out := make([]domain.SnapshotMessage, 0, count)
	if count == 0 {
		return out, nil
	}

	iter := s.messagesCol(id).OrderBy("index", firestore.Asc).Limit(count).Documents(ctx)
	defer iter.Stop()

	for {
		snap, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return nil, fmt.Errorf("firestore GetSession messages: %w", err)
		}

		var doc messageDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("decode messageDoc: %w", err)
		}
		out = append(out, domain.SnapshotMessage{Speaker: doc.Speaker, Content: doc.Content})
	}

	if len(out) != count {
		return nil, fmt.Errorf("firestore GetSession: expected %d messages, found %d", count, len(out))
	}
	return out, nil
}

func (s *Store) DeleteSession(ctx context.Context, id domain.SessionID) error {
	if _, err := s.sessionDoc(id).Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.ErrSessionNotFound
		}
		return fmt.Errorf("firestore DeleteSession: %w", err)
	}

	iter := s.messagesCol(id).Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if err != nil {
			if err == iterator.Done {
				break
			}
			return fmt.Errorf("firestore DeleteSession messages: %w", err)
		}
		if _, err := snap.Ref.Delete(ctx); err != nil {
			return fmt.Errorf("firestore DeleteSession message %s: %w", snap.Ref.ID, err)
		}
	}

	if _, err := s.sessionDoc(id).Delete(ctx); err != nil {
		return fmt.Errorf("firestore DeleteSession: %w", err)
	}
	return nil
}
