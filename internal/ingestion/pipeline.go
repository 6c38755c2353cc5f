// Package ingestion builds the Zudu knowledge base. It loads PDFs, text and
// markdown files, directories of those, and web pages; chunks the text;
// embeds each chunk; and appends the results to the vector store with
// sequential positions. It is invoked by `zudu ingest`.
package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/54b3r/zudu-go/internal/logging"
	"github.com/54b3r/zudu-go/internal/rag"
)

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkSize is the maximum number of characters per chunk.
	// Defaults to DefaultChunkSize.
	ChunkSize int

	// ChunkOverlap is the number of characters shared by consecutive chunks.
	// Defaults to DefaultChunkOverlap.
	ChunkOverlap int

	// BatchSize is the number of chunks embedded per request. Defaults to 64.
	BatchSize int

	// HTTPTimeout bounds each web page fetch. Defaults to 30s.
	HTTPTimeout time.Duration

	// UserAgent is sent with fetch requests.
	UserAgent string

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Result summarises an ingestion run.
type Result struct {
	// Documents is the number of files or pages loaded.
	Documents int
	// Chunks is the number of chunks stored.
	Chunks int
	// FirstPosition is the position assigned to the first stored chunk.
	FirstPosition int
}

// Pipeline orchestrates load → chunk → embed → upsert.
type Pipeline struct {
	// embedder converts chunks into vectors.
	embedder rag.Embedder
	// store persists the embedded chunks.
	store rag.VectorStore
	// cfg is the resolved configuration.
	cfg *Config
	// httpClient fetches web pages.
	httpClient *http.Client
	// log is the component logger.
	log *slog.Logger
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder rag.Embedder, store rag.VectorStore, cfg *Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ChunkOverlap <= 0 {
		c.ChunkOverlap = DefaultChunkOverlap
	}
	if c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = c.ChunkSize / 5
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 30 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "zudu-go/1.0 (knowledge base ingestion)"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	return &Pipeline{
		embedder:   embedder,
		store:      store,
		cfg:        &c,
		httpClient: &http.Client{Timeout: c.HTTPTimeout},
		log:        logging.Component(c.Logger, "ingestion"),
	}, nil
}

// Ingest loads every ref (file, directory or http(s) URL) and appends its
// chunks to the store. Positions continue from the store's current count.
// Sources are processed in order; the first failure stops the run, leaving
// earlier sources stored.
func (p *Pipeline) Ingest(ctx context.Context, refs []string, progress func(msg string)) (Result, error) {
	if progress == nil {
		progress = func(string) {}
	}

	next, err := p.store.Count(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("ingestion: count stored documents: %w", err)
	}
	res := Result{FirstPosition: next}

	for _, ref := range refs {
		progress(fmt.Sprintf("loading %s", ref))
		raws, err := p.load(ctx, ref)
		if err != nil {
			return res, fmt.Errorf("ingestion: load %s: %w", ref, err)
		}

		for _, raw := range raws {
			chunks := Chunk(raw.Text, p.cfg.ChunkSize, p.cfg.ChunkOverlap)
			if len(chunks) == 0 {
				p.log.Warn("ingestion: no text extracted", slog.String("source", raw.Ref))
				continue
			}
			progress(fmt.Sprintf("chunked %s into %d chunks", raw.Ref, len(chunks)))

			stored, err := p.storeChunks(ctx, raw, chunks, next)
			if err != nil {
				return res, err
			}
			next += stored
			res.Chunks += stored
			res.Documents++
			p.log.Info("ingestion: source stored",
				slog.String("source", raw.Ref),
				slog.String("kind", raw.Info.Kind),
				slog.Int("chunks", stored),
			)
		}
	}
	return res, nil
}

// storeChunks embeds and upserts one document's chunks in batches.
func (p *Pipeline) storeChunks(ctx context.Context, raw RawDocument, chunks []string, first int) (int, error) {
	stored := 0
	for lo := 0; lo < len(chunks); lo += p.cfg.BatchSize {
		hi := min(lo+p.cfg.BatchSize, len(chunks))
		batch := chunks[lo:hi]

		embeddings, err := p.embedder.Embed(ctx, batch)
		if err != nil {
			return stored, fmt.Errorf("ingestion: embedding failed for %s: %w", raw.Ref, err)
		}
		if len(embeddings) != len(batch) {
			return stored, fmt.Errorf("ingestion: embedder returned %d vectors for %d chunks", len(embeddings), len(batch))
		}

		docs := make([]rag.Document, len(batch))
		for i, text := range batch {
			docs[i] = rag.Document{
				Position:   first + lo + i,
				Content:    text,
				Source:     raw.Ref,
				Kind:       raw.Info.Kind,
				Title:      raw.Info.Title,
				ChunkIndex: lo + i,
			}
		}
		if err := p.store.Upsert(ctx, docs, embeddings); err != nil {
			return stored, fmt.Errorf("ingestion: upsert failed for %s: %w", raw.Ref, err)
		}
		stored += len(batch)
	}
	return stored, nil
}
