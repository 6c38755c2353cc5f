// Package rag holds the knowledge-base side of retrieval: the documents the
// agent may quote, the vector stores that hold them, and the [Index] the
// retrieval cache queries. Concrete stores (Qdrant, local SQLite) satisfy
// [VectorStore] so callers never depend on a specific backend.
package rag

import (
	"context"
	"errors"

	"github.com/54b3r/zudu-go/internal/vecindex"
)

// NoMatch is the position a search reports for an empty result slot.
const NoMatch = vecindex.NoMatch

// Hit is a search result: a document position and its similarity score.
type Hit = vecindex.Hit

// ErrNotFound is returned by Fetch for an unknown position.
var ErrNotFound = errors.New("rag: document not found")

// Document is a chunk of the knowledge base.
type Document struct {
	// Position is the document's sequential identifier. Stores assign
	// positions in ingestion order starting at 0.
	Position int

	// Content is the chunk text.
	Content string

	// Source is the origin file path or URL.
	Source string

	// Kind is the source type: pdf, text or web.
	Kind string

	// Title is a human-readable name for the source.
	Title string

	// ChunkIndex is the chunk's offset within its source.
	ChunkIndex int
}

// VectorStore persists document embeddings and answers similarity queries.
// Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// Upsert stores docs with their embeddings; embeddings[i] belongs to
	// docs[i]. Documents are keyed by Position.
	Upsert(ctx context.Context, docs []Document, embeddings [][]float32) error

	// Search returns up to k hits in descending similarity order.
	Search(ctx context.Context, queryEmbedding []float32, k int) ([]Hit, error)

	// Fetch returns the document at position, or ErrNotFound.
	Fetch(ctx context.Context, position int) (Document, error)

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)

	// Reset removes every document.
	Reset(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// Embedder converts texts into dense vectors.
type Embedder interface {
	// Embed returns one vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Index is the query-time surface the retrieval cache consumes.
type Index interface {
	// Embed converts a single query into a vector.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Search returns up to k hits; a Position of NoMatch marks an empty slot.
	Search(ctx context.Context, vector []float32, k int) ([]Hit, error)
	// Fetch returns the stored text at position.
	Fetch(ctx context.Context, position int) (string, error)
}
