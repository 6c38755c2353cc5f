package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/tool"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/zudu-go/internal/agent"
	"github.com/54b3r/zudu-go/internal/config"
	"github.com/54b3r/zudu-go/internal/embedder"
	"github.com/54b3r/zudu-go/internal/provider"
	"github.com/54b3r/zudu-go/internal/rag"
	"github.com/54b3r/zudu-go/internal/retrieval"
	"github.com/54b3r/zudu-go/internal/server"
	"github.com/54b3r/zudu-go/internal/sharedcache"
	"github.com/54b3r/zudu-go/internal/store"
	"github.com/54b3r/zudu-go/internal/tools"
	"github.com/54b3r/zudu-go/internal/tracing"
	"github.com/54b3r/zudu-go/internal/vecindex"
)

// pinger is satisfied by dependencies with a native reachability check.
type pinger interface {
	Ping(ctx context.Context) error
}

// stack holds the long-lived dependencies shared by serve, chat and query.
// Close releases them in reverse order of opening.
type stack struct {
	// rt is the resolved runtime configuration.
	rt *config.Runtime
	// db holds history, leads and local passages.
	db *store.SQLiteStore
	// vectors is the configured vector store.
	vectors rag.VectorStore
	// cache is the retrieval cache every turn reads through.
	cache *retrieval.Cache
	// redis is the shared cache tier, or nil when disabled.
	redis *sharedcache.RedisCache
	// closers release resources in reverse order on Close.
	closers []func() error
}

// openStack opens SQLite, the vector store and the embedder, and builds the
// retrieval cache over them. reg may be nil.
func openStack(ctx context.Context, rt *config.Runtime, reg prometheus.Registerer, log *slog.Logger) (*stack, error) {
	s := &stack{rt: rt}

	db, err := openDB(rt, log)
	if err != nil {
		return nil, err
	}
	s.db = db
	s.closers = append(s.closers, db.Close)

	emb, err := buildEmbedder(log)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.vectors, err = buildVectorStore(ctx, rt, db, log)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.closers = append(s.closers, s.vectors.Close)

	index, err := rag.NewIndex(emb, s.vectors)
	if err != nil {
		s.Close()
		return nil, err
	}

	cacheCfg := retrieval.Config{
		Capacity:   rt.CacheSize,
		TopK:       rt.TopK,
		Timeout:    rt.RetrievalTimeout,
		Registerer: reg,
		Logger:     log,
	}
	if rt.RedisURL != "" {
		rc, err := sharedcache.New(ctx, sharedcache.Config{URL: rt.RedisURL, TTL: rt.RedisTTL})
		if err != nil {
			// The shared tier is an optimisation; run with the local cache only.
			log.Warn("redis unavailable, shared retrieval cache disabled", slog.Any("error", err))
		} else {
			s.redis = rc
			s.closers = append(s.closers, rc.Close)
			cacheCfg.Shared = rc
			log.Info("shared retrieval cache enabled", slog.Duration("ttl", rt.RedisTTL))
		}
	}

	s.cache, err = retrieval.New(index, cacheCfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Close releases every opened dependency.
func (s *stack) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
	s.closers = nil
}

// pingers returns readiness probes for the stack's dependencies.
func (s *stack) pingers() []server.Pinger {
	ps := []server.Pinger{server.NewPinger("sqlite", s.db.Ping)}
	if p, ok := s.vectors.(pinger); ok {
		ps = append(ps, server.NewPinger(s.rt.VectorBackend, p.Ping))
	}
	if s.redis != nil {
		ps = append(ps, server.NewPinger("redis", s.redis.Ping))
	}
	return ps
}

// openDB opens the SQLite database at ZUDU_DB, or ~/.zudu/zudu.db.
func openDB(rt *config.Runtime, log *slog.Logger) (*store.SQLiteStore, error) {
	path := rt.DBPath
	if path == "" {
		p, err := store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	db, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	log.Info("database opened", slog.String("path", path))
	return db, nil
}

// buildEmbedder validates the embedding settings and constructs the embedder.
func buildEmbedder(log *slog.Logger) (rag.Embedder, error) {
	if err := embedder.ValidateForRAG(log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}
	log.Info("embedder initialised", slog.String("provider", embedder.Backend()))
	return emb, nil
}

// buildVectorStore opens the backend selected by VECTOR_BACKEND.
func buildVectorStore(ctx context.Context, rt *config.Runtime, db *store.SQLiteStore, log *slog.Logger) (rag.VectorStore, error) {
	switch rt.VectorBackend {
	case "qdrant":
		cfg := &rag.QdrantConfig{
			Host:       getEnvOrDefault("QDRANT_HOST", "localhost"),
			Port:       getEnvInt("QDRANT_PORT", 6334),
			Collection: getEnvOrDefault("QDRANT_COLLECTION", rag.DefaultCollection),
			VectorSize: uint64(embedder.DefaultDimensions(embedder.Backend())), //nolint:gosec // dimensions are bounded
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     os.Getenv("QDRANT_TLS") == "true",
		}
		vs, err := rag.NewQdrantStore(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
		}
		log.Info("qdrant store ready", slog.String("host", cfg.Host), slog.Int("port", cfg.Port), slog.String("collection", cfg.Collection))
		return vs, nil
	default:
		vs, err := rag.NewLocalStore(ctx, db, vecindex.Options{})
		if err != nil {
			return nil, err
		}
		n, _ := vs.Count(ctx)
		log.Info("local vector store ready", slog.Int("passages", n), slog.String("index", vs.Kind()))
		return vs, nil
	}
}

// agentDeps is the conversation agent plus what readiness probes need.
type agentDeps struct {
	// agent is the configured conversation agent.
	agent *agent.Agent
	// chatModel is the underlying chat model, kept for readiness probes.
	chatModel model.ToolCallingChatModel
	// providerCfg is the resolved provider configuration.
	providerCfg *provider.Config
	// flush drains pending traces; it is never nil.
	flush func()
}

// buildAgent constructs the chat model, the agent's tools and the agent.
// onLeadSaved may be nil. Langfuse tracing is installed when configured;
// call flush before exit.
func buildAgent(ctx context.Context, s *stack, onLeadSaved func(), log *slog.Logger) (*agentDeps, error) {
	deps := &agentDeps{flush: func() {}}

	if handler, flush, ok := tracing.Setup(tracing.ConfigFromEnv()); ok {
		tracing.Install(handler)
		deps.flush = flush
		log.Info("langfuse tracing enabled")
	} else {
		log.Debug("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY or LANGFUSE_SECRET_KEY not set"))
	}

	chatModel, providerCfg, err := provider.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise model provider: %w", err)
	}
	deps.chatModel = chatModel
	deps.providerCfg = providerCfg
	log.Info("provider initialised",
		slog.String("provider", string(providerCfg.Backend)),
		slog.String("model", providerCfg.ModelName()),
	)

	instructions, err := agent.LoadInstructions(s.rt.InstructionsFile)
	if err != nil {
		return nil, err
	}

	agentTools := []tool.BaseTool{
		tools.NewSaveLeadTool(s.db, log, onLeadSaved),
		tools.NewKnowledgeTool(s.cache),
	}

	deps.agent, err = agent.New(ctx, &agent.Config{
		ChatModel:        chatModel,
		Tools:            agentTools,
		Retriever:        s.cache,
		History:          s.db,
		Instructions:     instructions,
		MaxContextTokens: s.rt.MaxContextTokens,
		Logger:           log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialise agent: %w", err)
	}
	return deps, nil
}

var _ retrieval.SharedCache = (*sharedcache.RedisCache)(nil)

// invalidateSharedCache drops every shared retrieval entry after the
// knowledge base changed. It is a no-op without REDIS_URL. Failures are
// logged, not returned: the ingest itself succeeded.
func invalidateSharedCache(ctx context.Context, rt *config.Runtime, log *slog.Logger) {
	if rt.RedisURL == "" {
		return
	}
	rc, err := sharedcache.New(ctx, sharedcache.Config{URL: rt.RedisURL, TTL: rt.RedisTTL})
	if err != nil {
		log.Warn("redis unavailable, shared retrieval cache not invalidated", slog.Any("error", err))
		return
	}
	defer rc.Close()

	n, err := rc.Invalidate(ctx)
	if err != nil {
		log.Warn("shared retrieval cache invalidation failed", slog.Int("removed", n), slog.Any("error", err))
		return
	}
	log.Info("shared retrieval cache invalidated", slog.Int("removed", n))
}

// llmPinger returns the readiness probe for the chat model backend.
func (d *agentDeps) llmPinger() server.Pinger {
	return server.NewLLMPinger(d.chatModel, provider.HealthCheckFor(d.providerCfg), string(d.providerCfg.Backend))
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// isCanceled reports whether err stems from the command's context ending.
func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
