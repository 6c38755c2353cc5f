package rag

import (
	"context"
	"fmt"
	"sync"

	"github.com/54b3r/zudu-go/internal/store"
	"github.com/54b3r/zudu-go/internal/vecindex"
)

// PassageStore is the persistence LocalStore writes through to.
// [store.SQLiteStore] implements it.
type PassageStore interface {
	AppendPassages(ctx context.Context, passages []store.Passage) error
	Passages(ctx context.Context) ([]store.Passage, error)
	DeletePassages(ctx context.Context) error
}

// LocalStore implements VectorStore with passages persisted in SQLite and
// vectors searched by an in-process [vecindex.Index]. The index is rebuilt
// from the database on open, and again whenever growth crosses the IVF
// threshold.
type LocalStore struct {
	// mu guards index and docs.
	mu sync.RWMutex
	// db persists passages.
	db PassageStore
	// opts tunes index construction.
	opts vecindex.Options
	// index searches the stored vectors.
	index vecindex.Index
	// docs mirrors the stored passages; docs[i].Position == i.
	docs []Document
}

// NewLocalStore loads every stored passage and builds the search index.
func NewLocalStore(ctx context.Context, db PassageStore, opts vecindex.Options) (*LocalStore, error) {
	passages, err := db.Passages(ctx)
	if err != nil {
		return nil, fmt.Errorf("rag: load local passages: %w", err)
	}

	s := &LocalStore{db: db, opts: opts}
	vectors := make([][]float32, 0, len(passages))
	for i, p := range passages {
		if p.Position != i {
			return nil, fmt.Errorf("rag: local passages are not contiguous at position %d", i)
		}
		s.docs = append(s.docs, documentFromPassage(p))
		vectors = append(vectors, p.Vector)
	}
	if s.index, err = vecindex.Build(vectors, opts); err != nil {
		return nil, fmt.Errorf("rag: build local index: %w", err)
	}
	return s, nil
}

// Upsert implements [VectorStore]. The local store is append-only: each
// document's Position must equal the current count plus its offset in docs.
func (s *LocalStore) Upsert(ctx context.Context, docs []Document, embeddings [][]float32) error {
	if len(docs) != len(embeddings) {
		return fmt.Errorf("rag: %d documents but %d embeddings", len(docs), len(embeddings))
	}
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	passages := make([]store.Passage, 0, len(docs))
	for i, d := range docs {
		if want := len(s.docs) + i; d.Position != want {
			return fmt.Errorf("rag: local store expects position %d, got %d", want, d.Position)
		}
		passages = append(passages, store.Passage{
			Position:   d.Position,
			Content:    d.Content,
			Source:     d.Source,
			Kind:       d.Kind,
			Title:      d.Title,
			ChunkIndex: d.ChunkIndex,
			Vector:     embeddings[i],
		})
	}

	// Check dimensions before anything is persisted.
	if err := vecindex.NewFlat(s.index.Dim()).Add(embeddings); err != nil {
		return fmt.Errorf("rag: local upsert: %w", err)
	}

	if err := s.db.AppendPassages(ctx, passages); err != nil {
		return fmt.Errorf("rag: local upsert: %w", err)
	}
	s.docs = append(s.docs, docs...)

	threshold := s.opts.IVFThreshold
	if threshold <= 0 {
		threshold = vecindex.DefaultIVFThreshold
	}
	if s.index.Kind() == "flat" && len(s.docs) >= threshold {
		return s.rebuild(ctx)
	}
	if err := s.index.Add(embeddings); err != nil {
		return fmt.Errorf("rag: local index add: %w", err)
	}
	return nil
}

func (s *LocalStore) rebuild(ctx context.Context) error {
	passages, err := s.db.Passages(ctx)
	if err != nil {
		return fmt.Errorf("rag: reload local passages: %w", err)
	}
	vectors := make([][]float32, 0, len(passages))
	for _, p := range passages {
		vectors = append(vectors, p.Vector)
	}
	idx, err := vecindex.Build(vectors, s.opts)
	if err != nil {
		return fmt.Errorf("rag: rebuild local index: %w", err)
	}
	s.index = idx
	return nil
}

// Search implements [VectorStore]. Empty slots are reported as NoMatch. A
// query whose length differs from the stored vectors fails with
// [vecindex.ErrDimension]; an empty store accepts any query.
func (s *LocalStore) Search(_ context.Context, queryEmbedding []float32, k int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if dim := s.index.Dim(); dim > 0 && len(queryEmbedding) != dim {
		return nil, fmt.Errorf("rag: local search: %w: query has %d dims, index has %d (was the store built with another embedding model?)",
			vecindex.ErrDimension, len(queryEmbedding), dim)
	}
	return s.index.Search(queryEmbedding, k), nil
}

// Fetch implements [VectorStore].
func (s *LocalStore) Fetch(_ context.Context, position int) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if position < 0 || position >= len(s.docs) {
		return Document{}, fmt.Errorf("%w: position %d", ErrNotFound, position)
	}
	return s.docs[position], nil
}

// Count implements [VectorStore].
func (s *LocalStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs), nil
}

// Reset implements [VectorStore].
func (s *LocalStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.DeletePassages(ctx); err != nil {
		return fmt.Errorf("rag: local reset: %w", err)
	}
	s.docs = nil
	s.index = vecindex.NewFlat(0)
	return nil
}

// Kind reports the active index type.
func (s *LocalStore) Kind() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Kind()
}

// Close implements [VectorStore]. The database handle is owned by the
// caller and is not closed here.
func (s *LocalStore) Close() error { return nil }

func documentFromPassage(p store.Passage) Document {
	return Document{
		Position:   p.Position,
		Content:    p.Content,
		Source:     p.Source,
		Kind:       p.Kind,
		Title:      p.Title,
		ChunkIndex: p.ChunkIndex,
	}
}
