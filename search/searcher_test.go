package search

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/poiesic/ragindex/ai/mock"
	"github.com/poiesic/ragindex/chunking"
	"github.com/poiesic/ragindex/core"
	"github.com/poiesic/ragindex/ingestion"
	"github.com/poiesic/ragindex/storage"
	"github.com/poiesic/ragindex/storage/badger"
	"github.com/poiesic/ragindex/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDimension = 8

type env struct {
	searcher *Searcher
	pipeline *ingestion.Pipeline
	ledger   storage.LedgerRepository
	store    *vectorstore.Store
	dir      string
}

func setup(t *testing.T, opts ...Option) *env {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ledger, registry, backend, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() {
		ledger.Close()
		backend.Close()
	})

	dir := t.TempDir()
	store, err := vectorstore.Open(context.Background(), filepath.Join(dir, "index"), testDimension)
	require.NoError(t, err)

	provider := mock.NewMockProviderWithEmbedder(mock.NewMockEmbedder().WithDimension(testDimension))
	chunker, err := chunking.New(chunking.WithSize(4), chunking.WithOverlap(0))
	require.NoError(t, err)

	p, err := ingestion.NewPipeline(ledger, registry, store, provider,
		ingestion.WithChunker(chunker), ingestion.WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(p.Release)

	opts = append([]Option{WithLogger(logger), WithDedupRegistry(registry)}, opts...)
	s, err := NewSearcher(ledger, store, provider, opts...)
	require.NoError(t, err)

	return &env{searcher: s, pipeline: p, ledger: ledger, store: store, dir: dir}
}

func (e *env) ingest(t *testing.T, name, text string) *ingestion.Result {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	res := e.pipeline.ProcessFile(context.Background(), path)
	require.Equal(t, ingestion.OutcomeCompleted, res.Outcome, res.Error)
	return res
}

// recordingMonitor captures monitor callbacks for assertions.
type recordingMonitor struct {
	noopMonitor
	query   string
	hidden  map[string]string
	hits    int
	results []*Hit
}

func (m *recordingMonitor) Start(query string) { m.query = query }
func (m *recordingMonitor) Hidden(match vectorstore.Match, reason string) {
	if m.hidden == nil {
		m.hidden = make(map[string]string)
	}
	m.hidden[match.ChunkID] = reason
}
func (m *recordingMonitor) Hit(_ *Hit)            { m.hits++ }
func (m *recordingMonitor) Finish(results []*Hit) { m.results = results }

func TestNewSearcher(t *testing.T) {
	ledger, _, backend, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	defer func() {
		ledger.Close()
		backend.Close()
	}()
	store, err := vectorstore.Open(context.Background(), t.TempDir(), testDimension)
	require.NoError(t, err)
	provider := mock.NewMockProvider()

	t.Run("valid configuration", func(t *testing.T) {
		searcher, err := NewSearcher(ledger, store, provider)
		require.NoError(t, err)
		assert.NotNil(t, searcher)
	})

	t.Run("with nil logger falls back to default", func(t *testing.T) {
		searcher, err := NewSearcher(ledger, store, provider, WithLogger(nil))
		require.NoError(t, err)
		assert.NotNil(t, searcher)
	})

	t.Run("invalid over-fetch", func(t *testing.T) {
		_, err := NewSearcher(ledger, store, provider, WithOverFetch(0))
		assert.Error(t, err)
	})

	t.Run("nil ledger", func(t *testing.T) {
		_, err := NewSearcher(nil, store, provider)
		assert.Equal(t, ErrLedgerRequired, err)
	})

	t.Run("nil index", func(t *testing.T) {
		_, err := NewSearcher(ledger, nil, provider)
		assert.Equal(t, ErrVectorIndexRequired, err)
	})

	t.Run("nil provider", func(t *testing.T) {
		_, err := NewSearcher(ledger, store, nil)
		assert.Equal(t, ErrAIProviderRequired, err)
	})
}

func TestSearch_EmptyIndex(t *testing.T) {
	e := setup(t)
	hits, err := e.searcher.Search(context.Background(), "anything at all", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearch_InvalidInput(t *testing.T) {
	e := setup(t)
	_, err := e.searcher.Search(context.Background(), "   ", 5)
	assert.ErrorIs(t, err, ErrEmptyQuery)

	hits, err := e.searcher.Search(context.Background(), "query", 0)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearch_RanksExactChunkFirst(t *testing.T) {
	e := setup(t)
	a := e.ingest(t, "a.txt", "red green blue cyan orange purple pink brown")
	e.ingest(t, "b.txt", "north south east west")

	monitor := &recordingMonitor{}
	hits, err := e.searcher.SearchWithMonitor(context.Background(), "orange purple pink brown", 3, nil, monitor)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	top := hits[0]
	assert.Equal(t, a.DocID, top.DocID)
	assert.Equal(t, "a.txt", top.Filename)
	assert.Equal(t, 1, top.Order)
	assert.Equal(t, "orange purple pink brown", top.Text)
	assert.True(t, top.Verbatim)
	assert.InDelta(t, 1.0+DefaultVerbatimBoost, top.Score, 1e-5)
	for _, h := range hits[1:] {
		assert.False(t, h.Verbatim)
		assert.Less(t, h.Score, top.Score)
	}

	assert.Equal(t, "orange purple pink brown", monitor.query)
	assert.Equal(t, 3, monitor.hits)
	assert.Equal(t, hits, monitor.results)
}

func TestSearch_HidesDocumentsThatAreNotCompleted(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	e.ingest(t, "a.txt", "alpha beta gamma delta")

	_, err := e.ledger.Register(ctx, storage.RegisterRequest{DocID: "pending", ContentHash: "h"})
	require.NoError(t, err)

	vec := mock.DeterministicVector("alpha beta gamma delta", testDimension)
	_, err = e.store.Upsert(ctx, []vectorstore.Entry{
		{ChunkID: "p0", Vector: vec, Metadata: map[string]string{core.MetaDocID: "pending", core.MetaText: "x"}},
		{ChunkID: "g0", Vector: vec, Metadata: map[string]string{core.MetaDocID: "ghost", core.MetaText: "y"}},
	})
	require.NoError(t, err)

	monitor := &recordingMonitor{}
	hits, err := e.searcher.SearchWithMonitor(ctx, "alpha beta gamma delta", 5, nil, monitor)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "alpha beta gamma delta", hits[0].Text)

	assert.Equal(t, "document pending", monitor.hidden["p0"])
	assert.Equal(t, "document not in ledger", monitor.hidden["g0"])
}

func TestSearch_SharedChunkSurvivesOwnerDeletion(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	a := e.ingest(t, "a.txt", "common text for both one two three four")
	b := e.ingest(t, "b.txt", "Common Text For Both five six seven eight")

	hits, err := e.searcher.Search(ctx, "common text for both", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, a.DocID, hits[0].DocID)
	assert.Equal(t, []string{b.DocID}, hits[0].Shared)

	require.NoError(t, e.pipeline.Delete(ctx, a.DocID))

	hits, err = e.searcher.Search(ctx, "common text for both", 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, b.DocID, hits[0].DocID)
	assert.Equal(t, "b.txt", hits[0].Filename)
	assert.Empty(t, hits[0].Shared)
}

func TestSearch_TruncatesToK(t *testing.T) {
	e := setup(t, WithOverFetch(1))
	e.ingest(t, "a.txt", "one two three four five six seven eight nine ten eleven twelve thirteen")

	hits, err := e.searcher.Search(context.Background(), "seven", 2)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestSearch_ForDocuments(t *testing.T) {
	e := setup(t)
	e.ingest(t, "a.txt", "apples and pears")
	b := e.ingest(t, "b.txt", "apples and oranges")

	hits, err := e.searcher.SearchWithMonitor(context.Background(), "apples", 10, ForDocuments(b.DocID), nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, b.DocID, hits[0].DocID)
}

func TestSearch_ForDocumentsIncludesSharedText(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	a := e.ingest(t, "a.txt", "alpha beta gamma delta shared words in common")
	b := e.ingest(t, "b.txt", "shared words in common epsilon zeta eta theta")

	monitor := &recordingMonitor{}
	hits, err := e.searcher.SearchWithMonitor(ctx, "shared words in common", 10, ForDocuments(b.DocID), monitor)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, "shared words in common", hits[0].Text)
	assert.Equal(t, a.DocID, hits[0].DocID)
	assert.Equal(t, []string{b.DocID}, hits[0].Shared)
	assert.Equal(t, "epsilon zeta eta theta", hits[1].Text)

	assert.Len(t, monitor.hidden, 1, "only a's own chunk is filtered out")
	for _, reason := range monitor.hidden {
		assert.Equal(t, "filtered", reason)
	}
}

func TestSearch_HugeKReturnsEverything(t *testing.T) {
	e := setup(t)
	e.ingest(t, "a.txt", "alpha beta gamma delta epsilon zeta eta theta")

	done := make(chan struct{})
	var hits []*Hit
	var err error
	go func() {
		defer close(done)
		hits, err = e.searcher.Search(context.Background(), "alpha", math.MaxInt/2)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("search did not return")
	}
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestScale(t *testing.T) {
	assert.Equal(t, 8, scale(4, 2))
	assert.Equal(t, math.MaxInt, scale(math.MaxInt/2+1, 2))
	assert.Equal(t, math.MaxInt, scale(math.MaxInt, 4))
}

func TestContainsAllQueryWords(t *testing.T) {
	tests := []struct {
		name     string
		document string
		query    string
		want     bool
	}{
		{"all words present", "The quick brown fox.", "quick fox", true},
		{"case and punctuation ignored", "Hello, World!", "hello world", true},
		{"stop words ignored", "brown fox", "the brown fox", true},
		{"missing word", "quick brown", "quick fox", false},
		{"only stop words", "the a an", "the", false},
		{"empty query", "anything", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, containsAllQueryWords(tt.document, tt.query))
		})
	}
}
