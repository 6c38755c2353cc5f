package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/zudu-go/internal/store"
	"github.com/54b3r/zudu-go/internal/vecindex"
)

func openLocal(t *testing.T) (*LocalStore, *store.SQLiteStore) {
	t.Helper()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewLocalStore(context.Background(), db, vecindex.Options{})
	require.NoError(t, err)
	return s, db
}

func docs(start int, texts ...string) []Document {
	out := make([]Document, len(texts))
	for i, text := range texts {
		out[i] = Document{Position: start + i, Content: text, Source: "about.pdf", Kind: "pdf", Title: "about", ChunkIndex: i}
	}
	return out
}

func TestLocalStore_UpsertSearchFetch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := openLocal(t)

	require.NoError(t, s.Upsert(ctx,
		docs(0, "Zudu was founded in 2023.", "Prem Kumar is the founder."),
		[][]float32{{1, 0, 0}, {0, 1, 0}}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	hits, err := s.Search(ctx, []float32{0.2, 1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, 1, hits[0].Position)
	assert.Equal(t, 0, hits[1].Position)
	assert.Equal(t, NoMatch, hits[2].Position)

	doc, err := s.Fetch(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Prem Kumar is the founder.", doc.Content)

	_, err = s.Fetch(ctx, 5)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.Fetch(ctx, NoMatch)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLocalStore_RejectsOutOfOrderPositions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := openLocal(t)

	err := s.Upsert(ctx, docs(3, "late"), [][]float32{{1, 0}})
	require.Error(t, err)

	err = s.Upsert(ctx, docs(0, "a", "b"), [][]float32{{1, 0}})
	require.Error(t, err)
}

func TestLocalStore_RejectsDimensionChangeWithoutPersisting(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, db := openLocal(t)

	require.NoError(t, s.Upsert(ctx, docs(0, "a"), [][]float32{{1, 0}}))
	err := s.Upsert(ctx, docs(1, "b"), [][]float32{{1, 0, 0}})
	require.True(t, errors.Is(err, vecindex.ErrDimension))

	n, err := db.CountPassages(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLocalStore_SearchRejectsQueryDimensionMismatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := openLocal(t)

	hits, err := s.Search(ctx, []float32{1, 0}, 5)
	require.NoError(t, err, "an empty store accepts any query")
	require.Len(t, hits, 5)
	assert.Equal(t, NoMatch, hits[0].Position)

	wide := make([]float32, 1536)
	wide[0] = 1
	require.NoError(t, s.Upsert(ctx, docs(0, "Zudu was founded in 2023."), [][]float32{wide}))

	hits, err = s.Search(ctx, []float32{1, 0, 0}, 5)
	require.Error(t, err)
	assert.Nil(t, hits)
	assert.True(t, errors.Is(err, vecindex.ErrDimension))
	assert.Contains(t, err.Error(), "query has 3 dims, index has 1536")

	hits, err = s.Search(ctx, wide, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, hits[0].Position)
}

func TestLocalStore_ReloadsFromDatabase(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, db := openLocal(t)

	require.NoError(t, s.Upsert(ctx, docs(0, "a", "b"), [][]float32{{1, 0}, {0, 1}}))

	reloaded, err := NewLocalStore(ctx, db, vecindex.Options{})
	require.NoError(t, err)

	n, _ := reloaded.Count(ctx)
	assert.Equal(t, 2, n)
	hits, _ := reloaded.Search(ctx, []float32{0, 1}, 1)
	assert.Equal(t, 1, hits[0].Position)
}

func TestLocalStore_SwitchesToIVF(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewLocalStore(ctx, db, vecindex.Options{IVFThreshold: 40})
	require.NoError(t, err)
	assert.Equal(t, "flat", s.Kind())

	texts := make([]string, 40)
	vectors := make([][]float32, 40)
	for i := range texts {
		texts[i] = "chunk"
		vectors[i] = []float32{float32(i + 1), 1}
	}
	require.NoError(t, s.Upsert(ctx, docs(0, texts...), vectors))
	assert.Equal(t, "ivf", s.Kind())
}

func TestLocalStore_Reset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := openLocal(t)

	require.NoError(t, s.Upsert(ctx, docs(0, "a"), [][]float32{{1, 0}}))
	require.NoError(t, s.Reset(ctx))

	n, _ := s.Count(ctx)
	assert.Equal(t, 0, n)
	require.NoError(t, s.Upsert(ctx, docs(0, "fresh"), [][]float32{{0, 1, 0}}))
}

type fakeEmbedder struct {
	vectors [][]float32
	err     error
}

func (f fakeEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return f.vectors, f.err
}

func TestEmbeddedIndex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := openLocal(t)
	require.NoError(t, s.Upsert(ctx, docs(0, "Zudu builds voice agents."), [][]float32{{1, 0}}))

	idx, err := NewIndex(fakeEmbedder{vectors: [][]float32{{1, 0}}}, s)
	require.NoError(t, err)

	vec, err := idx.Embed(ctx, "what does zudu do")
	require.NoError(t, err)
	hits, err := idx.Search(ctx, vec, 1)
	require.NoError(t, err)
	text, err := idx.Fetch(ctx, hits[0].Position)
	require.NoError(t, err)
	assert.Equal(t, "Zudu builds voice agents.", text)

	broken, _ := NewIndex(fakeEmbedder{err: errors.New("quota")}, s)
	_, err = broken.Embed(ctx, "q")
	assert.ErrorContains(t, err, "quota")

	empty, _ := NewIndex(fakeEmbedder{}, s)
	_, err = empty.Embed(ctx, "q")
	assert.Error(t, err)

	_, err = NewIndex(nil, s)
	assert.Error(t, err)
}
