package rag

import (
	"context"
	"fmt"
)

// EmbeddedIndex implements [Index] by pairing an [Embedder] with a
// [VectorStore]: queries are embedded at search time and similarity search
// is delegated to the store.
type EmbeddedIndex struct {
	// embedder converts queries into vectors.
	embedder Embedder
	// store answers similarity search and fetch.
	store VectorStore
}

// NewIndex constructs an EmbeddedIndex.
func NewIndex(embedder Embedder, store VectorStore) (*EmbeddedIndex, error) {
	if embedder == nil {
		return nil, fmt.Errorf("rag: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("rag: store must not be nil")
	}
	return &EmbeddedIndex{embedder: embedder, store: store}, nil
}

// Embed implements [Index].
func (x *EmbeddedIndex) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := x.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("rag: embedding query failed: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("rag: embedder returned empty result for query")
	}
	return vectors[0], nil
}

// Search implements [Index].
func (x *EmbeddedIndex) Search(ctx context.Context, vector []float32, k int) ([]Hit, error) {
	hits, err := x.store.Search(ctx, vector, k)
	if err != nil {
		return nil, fmt.Errorf("rag: vector search failed: %w", err)
	}
	return hits, nil
}

// Fetch implements [Index].
func (x *EmbeddedIndex) Fetch(ctx context.Context, position int) (string, error) {
	doc, err := x.store.Fetch(ctx, position)
	if err != nil {
		return "", fmt.Errorf("rag: fetch %d: %w", position, err)
	}
	return doc.Content, nil
}
