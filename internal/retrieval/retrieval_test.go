package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/zudu-go/internal/rag"
	"github.com/54b3r/zudu-go/internal/store"
	"github.com/54b3r/zudu-go/internal/vecindex"
)

// fakeIndex is a scripted rag.Index that counts backend calls.
type fakeIndex struct {
	embedErr  error
	searchErr error
	hits      []rag.Hit
	docs      map[int]string
	block     chan struct{}
	panicMsg  string

	embeds   atomic.Int32
	searches atomic.Int32
	fetches  atomic.Int32
}

func (f *fakeIndex) Embed(ctx context.Context, _ string) ([]float32, error) {
	f.embeds.Add(1)
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	if f.block != nil {
		// Ignores ctx on purpose: the cache must still honour its timeout.
		<-f.block
	}
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	return []float32{1, 0}, nil
}

func (f *fakeIndex) Search(_ context.Context, _ []float32, k int) ([]rag.Hit, error) {
	f.searches.Add(1)
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	if len(f.hits) > k {
		return f.hits[:k], nil
	}
	return f.hits, nil
}

func (f *fakeIndex) Fetch(_ context.Context, pos int) (string, error) {
	f.fetches.Add(1)
	text, ok := f.docs[pos]
	if !ok {
		return "", rag.ErrNotFound
	}
	return text, nil
}

func newCache(t *testing.T, idx rag.Index, cfg Config) *Cache {
	t.Helper()
	c, err := New(idx, cfg)
	require.NoError(t, err)
	return c
}

func TestRetrieve_CachesIdenticalQuery(t *testing.T) {
	t.Parallel()

	idx := &fakeIndex{
		hits: []rag.Hit{{Position: 0, Score: 0.9}},
		docs: map[int]string{0: "Zudu builds AI voice agents."},
	}
	c := newCache(t, idx, Config{})

	first := c.Retrieve(context.Background(), "What does Zudu do?")
	second := c.Retrieve(context.Background(), "What does Zudu do?")

	assert.Equal(t, first, second)
	assert.Equal(t, "Relevant context from documents:\n\n\nZudu builds AI voice agents.", first)
	assert.EqualValues(t, 1, idx.embeds.Load())
	assert.EqualValues(t, 1, idx.searches.Load())
	assert.EqualValues(t, 1, idx.fetches.Load())
	assert.Equal(t, 1, c.Len())
}

func TestRetrieve_ExactKeyOnly(t *testing.T) {
	t.Parallel()

	idx := &fakeIndex{hits: []rag.Hit{{Position: 0}}, docs: map[int]string{0: "x"}}
	c := newCache(t, idx, Config{})

	c.Retrieve(context.Background(), "who founded zudu")
	c.Retrieve(context.Background(), "Who founded Zudu?")

	assert.EqualValues(t, 2, idx.embeds.Load())
}

func TestRetrieve_OnlySentinelHits(t *testing.T) {
	t.Parallel()

	idx := &fakeIndex{hits: []rag.Hit{{Position: rag.NoMatch}, {Position: rag.NoMatch}}}
	c := newCache(t, idx, Config{})

	assert.Equal(t, Fallback, c.Retrieve(context.Background(), "anything"))
	assert.EqualValues(t, 0, idx.fetches.Load())
}

func TestRetrieve_EmptyResultIsCached(t *testing.T) {
	t.Parallel()

	idx := &fakeIndex{}
	c := newCache(t, idx, Config{})

	assert.Equal(t, Fallback, c.Retrieve(context.Background(), "q"))
	assert.Equal(t, Fallback, c.Retrieve(context.Background(), "q"))
	assert.EqualValues(t, 1, idx.embeds.Load())
}

func TestRetrieve_EmbedErrorFallsBackAndIsNotCached(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	idx := &fakeIndex{embedErr: errors.New("embedding service unavailable")}
	c := newCache(t, idx, Config{Registerer: reg})

	assert.NotPanics(t, func() {
		assert.Equal(t, Fallback, c.Retrieve(context.Background(), "q"))
	})
	assert.Equal(t, 0, c.Len())

	c.Retrieve(context.Background(), "q")
	assert.EqualValues(t, 2, idx.embeds.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(c.metrics.fallbacks.WithLabelValues(reasonError)))
}

func TestRetrieve_SearchAndFetchErrors(t *testing.T) {
	t.Parallel()

	searchFails := &fakeIndex{searchErr: errors.New("index offline")}
	assert.Equal(t, Fallback, newCache(t, searchFails, Config{}).Retrieve(context.Background(), "q"))

	fetchFails := &fakeIndex{hits: []rag.Hit{{Position: 3}}, docs: map[int]string{}}
	assert.Equal(t, Fallback, newCache(t, fetchFails, Config{}).Retrieve(context.Background(), "q"))
}

func TestRetrieve_PanicIsRecovered(t *testing.T) {
	t.Parallel()

	c := newCache(t, &fakeIndex{panicMsg: "nil vector store"}, Config{})
	assert.NotPanics(t, func() {
		assert.Equal(t, Fallback, c.Retrieve(context.Background(), "q"))
	})
}

func TestRetrieve_TimeoutFallsBack(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	t.Cleanup(func() { close(block) })

	reg := prometheus.NewRegistry()
	idx := &fakeIndex{block: block, hits: []rag.Hit{{Position: 0}}, docs: map[int]string{0: "late"}}
	c := newCache(t, idx, Config{Timeout: 20 * time.Millisecond, Registerer: reg})

	start := time.Now()
	assert.Equal(t, Fallback, c.Retrieve(context.Background(), "slow"))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.fallbacks.WithLabelValues(reasonTimeout)))
}

func TestRetrieve_CallerCancellationDiscardsResult(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	idx := &fakeIndex{block: block, hits: []rag.Hit{{Position: 0}}, docs: map[int]string{0: "late"}}
	c := newCache(t, idx, Config{Timeout: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	assert.Equal(t, Fallback, c.Retrieve(ctx, "q"))
	close(block)
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.fallbacks.WithLabelValues(reasonCanceled)))
}

func TestRetrieve_BlankQuerySkipsBackend(t *testing.T) {
	t.Parallel()

	idx := &fakeIndex{}
	c := newCache(t, idx, Config{})

	assert.Equal(t, Fallback, c.Retrieve(context.Background(), "   \n"))
	assert.EqualValues(t, 0, idx.embeds.Load())
	assert.Equal(t, 0, c.Len())
}

func TestRetrieve_RespectsTopK(t *testing.T) {
	t.Parallel()

	idx := &fakeIndex{docs: map[int]string{}}
	for i := range 8 {
		idx.hits = append(idx.hits, rag.Hit{Position: i})
		idx.docs[i] = fmt.Sprintf("passage %d", i)
	}
	c := newCache(t, idx, Config{TopK: 3})

	out := c.Retrieve(context.Background(), "q")
	assert.EqualValues(t, 3, idx.fetches.Load())
	assert.Equal(t, Format([]string{"passage 0", "passage 1", "passage 2"}), out)
}

func TestRetrieve_EvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	idx := &fakeIndex{hits: []rag.Hit{{Position: 0}}, docs: map[int]string{0: "x"}}
	c := newCache(t, idx, Config{Capacity: 2})
	ctx := context.Background()

	c.Retrieve(ctx, "a")
	c.Retrieve(ctx, "b")
	c.Retrieve(ctx, "a") // refresh a
	c.Retrieve(ctx, "c") // evicts b
	require.EqualValues(t, 3, idx.embeds.Load())
	assert.Equal(t, 2, c.Len())

	c.Retrieve(ctx, "a")
	assert.EqualValues(t, 3, idx.embeds.Load(), "a should still be cached")
	c.Retrieve(ctx, "b")
	assert.EqualValues(t, 4, idx.embeds.Load(), "b should have been evicted")
	assert.Equal(t, 2.0, testutil.ToFloat64(c.metrics.evictions))
}

func TestRetrieve_Purge(t *testing.T) {
	t.Parallel()

	idx := &fakeIndex{hits: []rag.Hit{{Position: 0}}, docs: map[int]string{0: "x"}}
	c := newCache(t, idx, Config{})
	c.Retrieve(context.Background(), "q")
	require.NoError(t, c.Purge(context.Background()))
	assert.Zero(t, c.Len())
	c.Retrieve(context.Background(), "q")
	assert.EqualValues(t, 2, idx.embeds.Load())
}

func TestRetrieve_PurgeInvalidatesSharedTier(t *testing.T) {
	t.Parallel()

	shared := &mapShared{data: map[string]string{}}
	idx := &fakeIndex{hits: []rag.Hit{{Position: 0}}, docs: map[int]string{0: "x"}}
	c := newCache(t, idx, Config{Shared: shared})
	ctx := context.Background()

	c.Retrieve(ctx, "q")
	require.Len(t, shared.data, 1)
	require.NoError(t, c.Purge(ctx))
	assert.Empty(t, shared.data)
	assert.Zero(t, c.Len())

	shared.invalidateErr = errors.New("redis down")
	c.Retrieve(ctx, "q")
	err := c.Purge(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalidate shared cache")
	assert.Zero(t, c.Len(), "local tier is cleared even when the shared tier fails")
}

func TestRetrieve_ConcurrentDistinctQueries(t *testing.T) {
	t.Parallel()

	idx := &fakeIndex{hits: []rag.Hit{{Position: 0}}, docs: map[int]string{0: "x"}}
	c := newCache(t, idx, Config{Capacity: 1000})

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Retrieve(context.Background(), fmt.Sprintf("query %d", i))
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, c.Len())
}

type mapShared struct {
	mu            sync.Mutex
	data          map[string]string
	getErr        error
	invalidateErr error
	sets          int
	// slow makes Get and Set wait for their context to end.
	slow bool
}

func (m *mapShared) Get(ctx context.Context, q string) (string, bool, error) {
	if m.slow {
		<-ctx.Done()
		return "", false, ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return "", false, m.getErr
	}
	v, ok := m.data[q]
	return v, ok, nil
}

func (m *mapShared) Set(ctx context.Context, q, v string) error {
	if m.slow {
		<-ctx.Done()
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[q] = v
	m.sets++
	return nil
}

func (m *mapShared) Invalidate(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.invalidateErr != nil {
		return 0, m.invalidateErr
	}
	n := len(m.data)
	clear(m.data)
	return n, nil
}

func TestRetrieve_SharedTier(t *testing.T) {
	t.Parallel()

	shared := &mapShared{data: map[string]string{"warm": "from another replica"}}
	idx := &fakeIndex{hits: []rag.Hit{{Position: 0}}, docs: map[int]string{0: "x"}}
	c := newCache(t, idx, Config{Shared: shared})
	ctx := context.Background()

	assert.Equal(t, "from another replica", c.Retrieve(ctx, "warm"))
	assert.EqualValues(t, 0, idx.embeds.Load())
	assert.Equal(t, 1, c.Len(), "shared hit is promoted locally")

	c.Retrieve(ctx, "cold")
	assert.Equal(t, Format([]string{"x"}), shared.data["cold"])

	shared.getErr = errors.New("redis down")
	assert.Equal(t, Format([]string{"x"}), c.Retrieve(ctx, "another"))
}

func TestRetrieve_EmptyResultIsNotShared(t *testing.T) {
	t.Parallel()

	shared := &mapShared{data: map[string]string{}}
	ctx := context.Background()

	// A replica answers against an empty knowledge base.
	before := newCache(t, &fakeIndex{}, Config{Shared: shared})
	require.Equal(t, Fallback, before.Retrieve(ctx, "Who founded Zudu?"))
	assert.Equal(t, 1, before.Len(), "empty result is still cached locally")
	assert.Empty(t, shared.data)
	assert.Zero(t, shared.sets)

	// After ingestion a fresh replica must reach the index.
	idx := &fakeIndex{hits: []rag.Hit{{Position: 0}}, docs: map[int]string{0: "Zudu was founded by Ada."}}
	after := newCache(t, idx, Config{Shared: shared})
	assert.Equal(t, Format([]string{"Zudu was founded by Ada."}), after.Retrieve(ctx, "Who founded Zudu?"))
	assert.EqualValues(t, 1, idx.embeds.Load())
}

func TestRetrieve_SlowSharedTierIsBounded(t *testing.T) {
	t.Parallel()

	shared := &mapShared{data: map[string]string{}, slow: true}
	idx := &fakeIndex{hits: []rag.Hit{{Position: 0}}, docs: map[int]string{0: "x"}}
	c := newCache(t, idx, Config{Shared: shared, Timeout: 50 * time.Millisecond})

	start := time.Now()
	got := c.Retrieve(context.Background(), "q")
	elapsed := time.Since(start)

	assert.Equal(t, Format([]string{"x"}), got)
	assert.Less(t, elapsed, 2*time.Second)
	assert.EqualValues(t, 1, idx.embeds.Load())
}

// wordEmbedder embeds text as a bag of words over a fixed vocabulary.
type wordEmbedder struct{ vocab map[string]int }

func newWordEmbedder(words ...string) *wordEmbedder {
	v := make(map[string]int, len(words))
	for i, w := range words {
		v[w] = i
	}
	return &wordEmbedder{vocab: v}
}

func (w *wordEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec := make([]float32, len(w.vocab))
		for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
			return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
		}) {
			if d, ok := w.vocab[tok]; ok {
				vec[d]++
			}
		}
		out[i] = vec
	}
	return out, nil
}

func TestRetrieve_ZuduFounderScenario(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	local, err := rag.NewLocalStore(ctx, db, vecindex.Options{})
	require.NoError(t, err)

	emb := newWordEmbedder("who", "zudu", "was", "founded", "in", "2023", "prem", "kumar", "is", "the", "founder")
	passages := []string{"Zudu was founded in 2023.", "Prem Kumar is the founder."}
	vectors, _ := emb.Embed(ctx, passages)
	require.NoError(t, local.Upsert(ctx, []rag.Document{
		{Position: 0, Content: passages[0]},
		{Position: 1, Content: passages[1]},
	}, vectors))

	idx, err := rag.NewIndex(emb, local)
	require.NoError(t, err)
	c := newCache(t, idx, Config{TopK: 5})

	got := c.Retrieve(ctx, "Who founded Zudu?")
	assert.True(t, strings.HasPrefix(got, "Relevant context from documents:"))
	assert.Equal(t,
		"Relevant context from documents:\n\n\nZudu was founded in 2023.\n\nPrem Kumar is the founder.",
		got)
	assert.Equal(t, got, c.Retrieve(ctx, "Who founded Zudu?"))
}

func TestRetrieve_EmbedderDimensionMismatchIsAnError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	db, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	local, err := rag.NewLocalStore(ctx, db, vecindex.Options{})
	require.NoError(t, err)
	wide := make([]float32, 1536)
	wide[0] = 1
	require.NoError(t, local.Upsert(ctx, []rag.Document{{Position: 0, Content: "Zudu was founded in 2023."}}, [][]float32{wide}))

	idx, err := rag.NewIndex(newWordEmbedder("who", "founded", "zudu"), local)
	require.NoError(t, err)
	c := newCache(t, idx, Config{})

	assert.Equal(t, Fallback, c.Retrieve(ctx, "Who founded Zudu?"))
	assert.Zero(t, c.Len(), "a misconfigured embedder must not be cached as an empty result")
	assert.Equal(t, 1.0, testutil.ToFloat64(c.metrics.fallbacks.WithLabelValues(reasonError)))
	assert.Equal(t, 0.0, testutil.ToFloat64(c.metrics.fallbacks.WithLabelValues(reasonEmpty)))
}
