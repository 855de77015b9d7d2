package knowledge_test

import (
	"context"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/farum-cbt/internal/adapters/knowledge"
	"github.com/PabloGalante/farum-cbt/internal/config"
)

// bagOfWords hashes words into a small vector so similar texts score high
// without calling an embedding service.
func bagOfWords(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 16)
	vec[0] = 0.1
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(strings.Trim(w, ".,!?")))
		vec[1+h.Sum32()%15]++
	}
	return vec, nil
}

func seedDocs() []knowledge.Document {
	return []knowledge.Document{
		{ID: "r1", Content: "It sounds like you feel overwhelmed by work.", Metadata: map[string]string{"approach": "REFLECTIONS"}},
		{ID: "n1", Content: "Many students feel nervous before exams.", Metadata: map[string]string{"approach": "NORMALIZING"}},
		{ID: "c1", Content: "I want to end my life.", Metadata: map[string]string{"intervention_type": "crisis"}},
	}
}

func TestChromemRetrieve(t *testing.T) {
	ctx := context.Background()
	kb, err := knowledge.NewChromemKB("test", bagOfWords)
	require.NoError(t, err)
	require.NoError(t, kb.Add(ctx, seedDocs()))
	assert.Equal(t, 3, kb.Count())

	res, err := kb.Retrieve(ctx, "students nervous before exams", nil, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "Many students feel nervous before exams.", res[0].Text)
	assert.Greater(t, res[0].Score, 0.5)

	res, err = kb.Retrieve(ctx, "students nervous before exams", map[string]string{"intervention_type": "crisis"}, 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "I want to end my life.", res[0].Text)
	assert.Equal(t, "crisis", res[0].Metadata["intervention_type"])
}

func TestChromemRetrieveClampsK(t *testing.T) {
	ctx := context.Background()
	kb, err := knowledge.NewChromemKB("clamp", bagOfWords)
	require.NoError(t, err)

	res, err := kb.Retrieve(ctx, "anything", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, res)

	require.NoError(t, kb.Add(ctx, seedDocs()[:2]))
	res, err = kb.Retrieve(ctx, "work", nil, 10)
	require.NoError(t, err)
	assert.Len(t, res, 2)
}

func TestNewChromemKBRequiresEmbedding(t *testing.T) {
	_, err := knowledge.NewChromemKB("x", nil)
	require.Error(t, err)
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.jsonl")
	content := `# counseling corpus
{"id": "a", "content": "Reflect the feeling back.", "metadata": {"approach": "REFLECTIONS"}}

{"content": "Breathing exercises can calm the body."}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	docs, err := knowledge.LoadSeedFile(path)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, "REFLECTIONS", docs[0].Metadata["approach"])
	assert.Equal(t, "doc-4", docs[1].ID)
}

func TestLoadSeedFileErrors(t *testing.T) {
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.jsonl")
	require.NoError(t, os.WriteFile(bad, []byte("{not json}\n"), 0o600))
	_, err := knowledge.LoadSeedFile(bad)
	require.ErrorContains(t, err, "line 1")

	empty := filepath.Join(dir, "empty.jsonl")
	require.NoError(t, os.WriteFile(empty, []byte(`{"id": "x", "content": "  "}`+"\n"), 0o600))
	_, err = knowledge.LoadSeedFile(empty)
	require.ErrorContains(t, err, "empty content")

	_, err = knowledge.LoadSeedFile(filepath.Join(dir, "missing.jsonl"))
	require.Error(t, err)
}

func TestFactoryNone(t *testing.T) {
	kb, err := knowledge.New(context.Background(), config.Default())
	require.NoError(t, err)
	assert.Nil(t, kb)
}
