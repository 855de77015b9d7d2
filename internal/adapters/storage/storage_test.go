package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/farum-cbt/internal/adapters/storage"
	"github.com/PabloGalante/farum-cbt/internal/adapters/storage/badger"
	"github.com/PabloGalante/farum-cbt/internal/adapters/storage/memory"
	"github.com/PabloGalante/farum-cbt/internal/config"
	"github.com/PabloGalante/farum-cbt/internal/domain"
)

func record() *domain.SessionRecord {
	s := domain.NewSessionState()
	s.Append(domain.SpeakerClient, "I keep second-guessing myself.")
	s.Append(domain.SpeakerCounselor, "What do you notice right before that happens?")
	s.LastSelectedTechniques = []domain.TechniqueScore{{Technique: domain.TechniqueQuestioning, Score: 0.7}}

	return &domain.SessionRecord{
		ID: s.ID,
		Profile: domain.ClientProfile{
			Age: 40, Gender: "female", Mood: "uncertain", Diagnosis: "adjustment disorder",
			ReasonForCounseling: "career change",
		},
		Snapshot:  s.Snapshot(),
		UpdatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

// storeContract runs the behaviour every SessionStore shares.
func storeContract(t *testing.T, st domain.SessionStore) {
	ctx := context.Background()
	rec := record()

	_, err := st.GetSession(ctx, rec.ID)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)

	require.NoError(t, st.SaveSession(ctx, rec))

	got, err := st.GetSession(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Profile, got.Profile)
	assert.Equal(t, rec.Snapshot, got.Snapshot)
	assert.True(t, rec.UpdatedAt.Equal(got.UpdatedAt))

	// Overwrite with a longer transcript.
	rec.Snapshot.Messages = append(rec.Snapshot.Messages,
		domain.SnapshotMessage{Speaker: "Client", Content: "Usually when my manager asks for updates."},
		domain.SnapshotMessage{Speaker: "Counselor", Content: "That makes sense."},
	)
	require.NoError(t, st.SaveSession(ctx, rec))
	got, err = st.GetSession(ctx, rec.ID)
	require.NoError(t, err)
	assert.Len(t, got.Snapshot.Messages, 4)

	require.Error(t, st.SaveSession(ctx, &domain.SessionRecord{}))

	require.NoError(t, st.DeleteSession(ctx, rec.ID))
	_, err = st.GetSession(ctx, rec.ID)
	require.ErrorIs(t, err, domain.ErrSessionNotFound)
	require.ErrorIs(t, st.DeleteSession(ctx, rec.ID), domain.ErrSessionNotFound)
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, memory.NewSessionStore())
}

func TestMemoryStoreCopiesRecords(t *testing.T) {
	ctx := context.Background()
	st := memory.NewSessionStore()
	rec := record()
	require.NoError(t, st.SaveSession(ctx, rec))

	rec.Snapshot.Messages[0].Content = "mutated"
	got, err := st.GetSession(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "I keep second-guessing myself.", got.Snapshot.Messages[0].Content)

	got.Snapshot.Messages[0].Content = "mutated again"
	again, err := st.GetSession(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "I keep second-guessing myself.", again.Snapshot.Messages[0].Content)
	assert.Equal(t, 1, st.Len())
}

func TestBadgerStoreInMemory(t *testing.T) {
	st, err := badger.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	storeContract(t, st)
}

func TestBadgerStoreOnDisk(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	rec := record()

	st, err := badger.Open(dir)
	require.NoError(t, err)
	require.NoError(t, st.SaveSession(ctx, rec))
	require.NoError(t, st.Close())

	st, err = badger.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	got, err := st.GetSession(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Snapshot, got.Snapshot)
}

func TestFactory(t *testing.T) {
	ctx := context.Background()

	st, closeFn, err := storage.New(ctx, config.StorageConfig{Backend: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &memory.SessionStore{}, st)
	require.NoError(t, closeFn())

	st, closeFn, err = storage.New(ctx, config.StorageConfig{Backend: "badger", BadgerPath: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &badger.Store{}, st)
	require.NoError(t, closeFn())

	_, closeFn, err = storage.New(ctx, config.StorageConfig{Backend: "redis"})
	require.Error(t, err)
	require.NotNil(t, closeFn)
}
