package commands

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/zudu-go/internal/ingestion"
	"github.com/54b3r/zudu-go/internal/logging"
)

// NewIngestCmd constructs the `zudu ingest` command, which loads documents
// into the knowledge base.
func NewIngestCmd() *cobra.Command {
	var reset bool
	var chunkSize, chunkOverlap int

	cmd := &cobra.Command{
		Use:   "ingest <file|dir|url>...",
		Short: "Ingest documents into the Zudu knowledge base",
		Long: `Load PDFs, text and markdown files (or directories of them) and web pages,
split them into overlapping chunks, embed each chunk and store it in the
vector store selected by VECTOR_BACKEND (local SQLite or Qdrant).

New chunks are appended after those already stored. Use --reset to start
from an empty knowledge base. When REDIS_URL is set, the shared retrieval
cache is invalidated once the knowledge base changes; running servers keep
their in-process cache until POST /api/cache/purge or a restart.

Examples:
  zudu ingest ./docs/zudu-faq.pdf
  zudu ingest ./knowledge https://zudu.ai/pricing
  zudu ingest --reset ./knowledge`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			rt, err := runtimeFromEnv("ingest")
			if err != nil {
				return err
			}
			db, err := openDB(rt, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer db.Close()

			emb, err := buildEmbedder(log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			vectors, err := buildVectorStore(ctx, rt, db, log)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer vectors.Close()

			if reset {
				if err := vectors.Reset(ctx); err != nil {
					return fmt.Errorf("ingest: reset: %w", err)
				}
				log.Info("knowledge base reset")
			}

			pipeline, err := ingestion.NewPipeline(emb, vectors, &ingestion.Config{
				ChunkSize:    chunkSize,
				ChunkOverlap: chunkOverlap,
				Logger:       log,
			})
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			log.Info("starting ingestion", slog.Int("sources", len(args)))
			res, err := pipeline.Ingest(ctx, args, func(msg string) { log.Info(msg) })
			if reset || res.Chunks > 0 {
				invalidateSharedCache(ctx, rt, log)
			}
			if err != nil {
				return fmt.Errorf("ingest: pipeline failed after %d chunks: %w", res.Chunks, err)
			}

			log.Info("ingestion complete",
				slog.Int("documents", res.Documents),
				slog.Int("chunks", res.Chunks),
				slog.Int("first_position", res.FirstPosition),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d chunks from %d documents.\n", res.Chunks, res.Documents)
			return nil
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "Delete every stored chunk before ingesting")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", ingestion.DefaultChunkSize, "Maximum characters per chunk")
	cmd.Flags().IntVar(&chunkOverlap, "chunk-overlap", ingestion.DefaultChunkOverlap, "Characters shared by consecutive chunks")
	return cmd
}
