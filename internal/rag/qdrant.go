package rag

import (
	"context"
	"fmt"
	"sync"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the collection name (default: zudu_knowledge_base).
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// DefaultCollection is the collection used when none is configured.
const DefaultCollection = "zudu_knowledge_base"

// QdrantStore implements VectorStore backed by a Qdrant instance. Document
// positions are used as numeric point IDs.
//
// Search requests payloads and remembers the returned documents, so fetching
// the hits of the latest search needs no further round trip.
type QdrantStore struct {
	// client is the Qdrant gRPC client.
	client *qdrant.Client
	// cfg holds the resolved connection and collection settings.
	cfg *QdrantConfig

	// mu guards docs.
	mu sync.RWMutex
	// docs holds documents seen in search results, keyed by position. It is
	// refreshed by every search and cleared by Reset.
	docs map[int]Document
}

// NewQdrantStore connects to Qdrant and creates the collection if it does
// not exist.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = DefaultCollection
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	store := &QdrantStore{client: client, cfg: cfg, docs: make(map[int]Document)}
	if err := store.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return store, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}
	if s.cfg.VectorSize == 0 {
		return fmt.Errorf("qdrant: collection %q does not exist and vector size is unset", s.cfg.Collection)
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}
	return nil
}

// Upsert implements [VectorStore].
func (s *QdrantStore) Upsert(ctx context.Context, docs []Document, embeddings [][]float32) error {
	if len(docs) != len(embeddings) {
		return fmt.Errorf("qdrant: %d documents but %d embeddings", len(docs), len(embeddings))
	}
	if len(docs) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(docs))
	for i, doc := range docs {
		if doc.Position < 0 {
			return fmt.Errorf("qdrant: negative position %d", doc.Position)
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(doc.Position)),
			Vectors: qdrant.NewVectors(embeddings[i]...),
			Payload: qdrant.NewValueMap(payloadFor(doc)),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}

	s.mu.Lock()
	for _, doc := range docs {
		delete(s.docs, doc.Position)
	}
	s.mu.Unlock()
	return nil
}

// Search implements [VectorStore].
func (s *QdrantStore) Search(ctx context.Context, queryEmbedding []float32, k int) ([]Hit, error) {
	if k <= 0 {
		return nil, nil
	}
	limit := uint64(k)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(queryEmbedding...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}
	return s.remember(results), nil
}

// remember converts scored points into hits and records their documents.
func (s *QdrantStore) remember(results []*qdrant.ScoredPoint) []Hit {
	s.mu.Lock()
	defer s.mu.Unlock()

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		pos := int(r.GetId().GetNum())
		hits = append(hits, Hit{Position: pos, Score: r.GetScore()})
		if r.GetPayload() != nil {
			s.docs[pos] = documentFrom(pos, r.GetPayload())
		}
	}
	return hits
}

// Fetch implements [VectorStore]. Documents returned by a search are served
// from memory.
func (s *QdrantStore) Fetch(ctx context.Context, position int) (Document, error) {
	if position < 0 {
		return Document{}, fmt.Errorf("%w: position %d", ErrNotFound, position)
	}
	s.mu.RLock()
	doc, ok := s.docs[position]
	s.mu.RUnlock()
	if ok {
		return doc, nil
	}

	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.cfg.Collection,
		Ids:            []*qdrant.PointId{qdrant.NewIDNum(uint64(position))},
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return Document{}, fmt.Errorf("qdrant: get %d: %w", position, err)
	}
	if len(points) == 0 {
		return Document{}, fmt.Errorf("%w: position %d", ErrNotFound, position)
	}
	return documentFrom(position, points[0].GetPayload()), nil
}

// Count implements [VectorStore].
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count failed: %w", err)
	}
	return int(n), nil
}

// Reset implements [VectorStore] by dropping and recreating the collection.
func (s *QdrantStore) Reset(ctx context.Context) error {
	if err := s.client.DeleteCollection(ctx, s.cfg.Collection); err != nil {
		return fmt.Errorf("qdrant: delete collection %q: %w", s.cfg.Collection, err)
	}
	s.mu.Lock()
	clear(s.docs)
	s.mu.Unlock()
	return s.ensureCollection(ctx)
}

// Ping checks the Qdrant server health.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

func payloadFor(doc Document) map[string]any {
	return map[string]any{
		"content":     doc.Content,
		"source":      doc.Source,
		"kind":        doc.Kind,
		"title":       doc.Title,
		"chunk_index": int64(doc.ChunkIndex),
	}
}

func documentFrom(position int, p map[string]*qdrant.Value) Document {
	doc := Document{Position: position}
	if p == nil {
		return doc
	}
	doc.Content = p["content"].GetStringValue()
	doc.Source = p["source"].GetStringValue()
	doc.Kind = p["kind"].GetStringValue()
	doc.Title = p["title"].GetStringValue()
	doc.ChunkIndex = int(p["chunk_index"].GetIntegerValue())
	return doc
}
