// Package retrieval turns a caller's utterance into the block of reference
// text injected ahead of generation, memoising results by exact query text.
//
// Retrieval sits on the critical path of a live conversation, so [Cache.Retrieve]
// never fails: embedding errors, search errors, timeouts and empty results
// all produce [Fallback].
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/zudu-go/internal/rag"
)

const (
	// Header opens every successful retrieval result.
	Header = "Relevant context from documents:"

	// Fallback is returned whenever no passage could be retrieved.
	Fallback = "No relevant context found."

	// DefaultCapacity is the number of queries memoised in process.
	DefaultCapacity = 100

	// DefaultTopK is the number of passages requested per search.
	DefaultTopK = 5

	// DefaultTimeout bounds embedding, search and fetch for one lookup.
	DefaultTimeout = 5 * time.Second
)

// SharedCache is an optional second tier consulted after a local miss,
// typically shared by every replica of the service.
type SharedCache interface {
	Get(ctx context.Context, query string) (string, bool, error)
	Set(ctx context.Context, query, value string) error
	// Invalidate drops every entry and reports how many were removed.
	Invalidate(ctx context.Context) (int, error)
}

// Config tunes a [Cache]. Zero values select the defaults.
type Config struct {
	// Capacity is the maximum number of memoised queries.
	Capacity int

	// TopK is the number of passages requested from the index.
	TopK int

	// Timeout bounds one cache-miss lookup.
	Timeout time.Duration

	// Shared is consulted after a local miss and populated after a lookup
	// that found passages. Nil disables the shared tier. Calls to it are
	// bounded by Timeout.
	Shared SharedCache

	// Registerer receives the cache metrics. Nil uses a private registry.
	Registerer prometheus.Registerer

	// Logger receives fallback warnings. Nil uses slog.Default().
	Logger *slog.Logger
}

// Cache is the memoised query → context lookup. It is safe for concurrent
// use.
type Cache struct {
	// index is the backend consulted on a miss.
	index rag.Index
	// local is the in-process LRU tier.
	local *lru[string, string]
	// shared is the optional cross-replica tier.
	shared SharedCache
	// topK is the number of passages requested per search.
	topK int
	// timeout bounds each lookup and each shared-tier call.
	timeout time.Duration
	// metrics holds the cache collectors.
	metrics *cacheMetrics
	// log is the component logger.
	log *slog.Logger
}

// New constructs a Cache over index.
func New(index rag.Index, cfg Config) (*Cache, error) {
	if index == nil {
		return nil, fmt.Errorf("retrieval: index must not be nil")
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.NewRegistry()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Cache{
		index:   index,
		local:   newLRU[string, string](cfg.Capacity),
		shared:  cfg.Shared,
		topK:    cfg.TopK,
		timeout: cfg.Timeout,
		metrics: newCacheMetrics(cfg.Registerer),
		log:     cfg.Logger.With("component", "retrieval"),
	}, nil
}

// Format renders passages, already in rank order, under [Header].
func Format(passages []string) string {
	var b strings.Builder
	b.WriteString(Header)
	b.WriteString("\n")
	for _, p := range passages {
		b.WriteString("\n\n")
		b.WriteString(p)
	}
	return b.String()
}

// Retrieve returns the formatted context for query. It never fails; see the
// package documentation.
func (c *Cache) Retrieve(ctx context.Context, query string) string {
	if strings.TrimSpace(query) == "" {
		c.metrics.lookups.WithLabelValues(resultSkipped).Inc()
		return Fallback
	}

	if text, ok := c.local.Get(query); ok {
		c.metrics.lookups.WithLabelValues(resultHit).Inc()
		return text
	}

	if text, ok := c.sharedGet(ctx, query); ok {
		c.metrics.lookups.WithLabelValues(resultSharedHit).Inc()
		c.store(query, text)
		return text
	}
	c.metrics.lookups.WithLabelValues(resultMiss).Inc()

	start := time.Now()
	text, err := c.lookup(ctx, query)
	c.metrics.duration.Observe(time.Since(start).Seconds())

	if err != nil {
		reason := reasonError
		switch {
		case ctx.Err() != nil:
			reason = reasonCanceled
		case errors.Is(err, context.DeadlineExceeded):
			reason = reasonTimeout
		}
		c.metrics.fallbacks.WithLabelValues(reason).Inc()
		c.log.Warn("retrieval failed, using fallback",
			"reason", reason,
			"query_len", len(query),
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return Fallback
	}

	c.store(query, text)
	if text == Fallback {
		// Empty answers are not shared; they would outlive a re-ingest.
		c.metrics.fallbacks.WithLabelValues(reasonEmpty).Inc()
		c.log.Debug("no passages matched", "query_len", len(query))
		return text
	}
	c.sharedSet(ctx, query, text)
	return text
}

// Len returns the number of locally memoised queries.
func (c *Cache) Len() int { return c.local.Len() }

// Purge drops every locally memoised query and invalidates the shared tier.
// The local tier is always cleared; the returned error reports a shared-tier
// failure.
func (c *Cache) Purge(ctx context.Context) error {
	c.local.Purge()
	c.metrics.entries.Set(0)
	if c.shared == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	n, err := c.shared.Invalidate(ctx)
	if err != nil {
		return fmt.Errorf("retrieval: invalidate shared cache: %w", err)
	}
	c.log.Info("retrieval cache purged", "shared_entries", n)
	return nil
}

func (c *Cache) store(query, text string) {
	if c.local.Add(query, text) {
		c.metrics.evictions.Inc()
	}
	c.metrics.entries.Set(float64(c.local.Len()))
}

type lookupResult struct {
	// text is the formatted context.
	text string
	// err is the backend failure, if any.
	err error
}

// lookup runs the backend round trip in a worker goroutine bounded by the
// configured timeout. A result arriving after the deadline is dropped.
func (c *Cache) lookup(ctx context.Context, query string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan lookupResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- lookupResult{err: fmt.Errorf("retrieval: backend panic: %v", r)}
			}
		}()
		text, err := c.search(ctx, query)
		done <- lookupResult{text: text, err: err}
	}()

	select {
	case r := <-done:
		if r.err == nil && ctx.Err() != nil {
			return "", ctx.Err()
		}
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Cache) search(ctx context.Context, query string) (string, error) {
	vector, err := c.index.Embed(ctx, query)
	if err != nil {
		return "", fmt.Errorf("retrieval: embed: %w", err)
	}
	hits, err := c.index.Search(ctx, vector, c.topK)
	if err != nil {
		return "", fmt.Errorf("retrieval: search: %w", err)
	}

	passages := make([]string, 0, len(hits))
	for _, h := range hits {
		if h.Position == rag.NoMatch {
			continue
		}
		text, err := c.index.Fetch(ctx, h.Position)
		if err != nil {
			return "", fmt.Errorf("retrieval: fetch %d: %w", h.Position, err)
		}
		passages = append(passages, text)
	}
	if len(passages) == 0 {
		return Fallback, nil
	}
	return Format(passages), nil
}

func (c *Cache) sharedGet(ctx context.Context, query string) (string, bool) {
	if c.shared == nil {
		return "", false
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	text, ok, err := c.shared.Get(ctx, query)
	if err != nil {
		c.log.Warn("shared cache get failed", "error", err)
		return "", false
	}
	return text, ok
}

func (c *Cache) sharedSet(ctx context.Context, query, text string) {
	if c.shared == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.shared.Set(ctx, query, text); err != nil {
		c.log.Warn("shared cache set failed", "error", err)
	}
}
