package reindex

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/poiesic/ragindex/ai/mock"
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
	ledger   storage.LedgerRepository
	registry storage.DedupRepository
	store    *vectorstore.Store
	dir      string
	logger   *slog.Logger
}

// timeouts counts down embedder calls that should hang until their deadline.
type timeouts struct {
	remaining atomic.Int32
}

func (t *timeouts) embedder(model string) *mock.MockEmbedder {
	e := mock.NewMockEmbedder().WithDimension(testDimension).WithModel(model)
	e.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		if t.remaining.Add(-1) >= 0 {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = mock.DeterministicVector(text, testDimension)
		}
		return out, nil
	}
	return e
}

func setup(t *testing.T) *env {
	t.Helper()
	ledger, registry, backend, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() {
		ledger.Close()
		backend.Close()
	})

	dir := t.TempDir()
	store, err := vectorstore.Open(context.Background(), filepath.Join(dir, "index"), testDimension)
	require.NoError(t, err)

	return &env{
		ledger:   ledger,
		registry: registry,
		store:    store,
		dir:      dir,
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func (e *env) pipeline(t *testing.T, embedder *mock.MockEmbedder) *ingestion.Pipeline {
	t.Helper()
	p, err := ingestion.NewPipeline(e.ledger, e.registry, e.store, mock.NewMockProviderWithEmbedder(embedder),
		ingestion.WithLogger(e.logger), ingestion.WithEmbedTimeout(20*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(p.Release)
	return p
}

func (e *env) reindexer(t *testing.T, p *ingestion.Pipeline, out io.Writer) *Reindexer {
	t.Helper()
	r, err := NewReindexer(p, &Config{
		BatchSize:      2,
		ReportInterval: 1,
		MaxAttempts:    3,
		RetryDelay:     time.Millisecond,
		StaleAfter:     time.Minute,
		Logger:         e.logger,
	}, out)
	require.NoError(t, err)
	return r
}

func (e *env) write(t *testing.T, name, text string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))
	return path
}

func (e *env) status(t *testing.T, docID string) *core.Document {
	t.Helper()
	doc, err := e.ledger.GetStatus(context.Background(), docID)
	require.NoError(t, err)
	require.NotNil(t, doc)
	return doc
}

func TestNewReindexer(t *testing.T) {
	_, err := NewReindexer(nil, nil, nil)
	assert.ErrorIs(t, err, ErrPipelineRequired)

	e := setup(t)
	p := e.pipeline(t, mock.NewMockEmbedder().WithDimension(testDimension))

	r, err := NewReindexer(p, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().MaxAttempts, r.config.MaxAttempts)

	_, err = NewReindexer(p, &Config{MaxAttempts: 0}, nil)
	assert.Error(t, err)
}

func TestRun_NoDocuments(t *testing.T) {
	e := setup(t)
	p := e.pipeline(t, mock.NewMockEmbedder().WithDimension(testDimension))
	var out bytes.Buffer

	report, err := e.reindexer(t, p, &out).Run(context.Background(), Retryable())
	require.NoError(t, err)
	assert.Zero(t, report.Selected)
	assert.Contains(t, out.String(), "No documents to reindex")
}

func TestRun_RetryableFailureRecovers(t *testing.T) {
	e := setup(t)
	var fail timeouts
	fail.remaining.Store(1)
	p := e.pipeline(t, fail.embedder("mock-embedding"))

	res := p.ProcessFile(context.Background(), e.write(t, "a.txt", "first document text"))
	require.Equal(t, ingestion.OutcomeFailed, res.Outcome)
	require.True(t, e.status(t, res.DocID).Retryable)

	fatal := e.pipeline(t, mock.NewMockEmbedder().WithDimension(testDimension))
	empty := fatal.ProcessFile(context.Background(), e.write(t, "empty.txt", " "))
	require.Equal(t, ingestion.OutcomeFailed, empty.Outcome)
	require.False(t, e.status(t, empty.DocID).Retryable)

	var out bytes.Buffer
	report, err := e.reindexer(t, p, &out).Run(context.Background(), Retryable())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Selected, "non-retryable failures are not selected")
	assert.Equal(t, 1, report.Completed)
	assert.Zero(t, report.Failed)
	assert.Empty(t, report.Failures)

	doc := e.status(t, res.DocID)
	assert.Equal(t, core.StatusCompleted, doc.Status)
	assert.Equal(t, int64(1), doc.Version)
	assert.Contains(t, out.String(), "Reindex complete. 1 completed")
	assert.Contains(t, out.String(), "1/1")
}

func TestRun_RetriesWithinRun(t *testing.T) {
	e := setup(t)
	var fail timeouts
	fail.remaining.Store(1)
	p := e.pipeline(t, fail.embedder("mock-embedding"))

	res := p.ProcessFile(context.Background(), e.write(t, "a.txt", "some words to embed"))
	require.Equal(t, ingestion.OutcomeFailed, res.Outcome)

	// The first attempt of the run times out as well.
	fail.remaining.Store(1)
	report, err := e.reindexer(t, p, nil).Run(context.Background(), Failed())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, core.StatusCompleted, e.status(t, res.DocID).Status)
}

func TestRun_AttemptsExhausted(t *testing.T) {
	e := setup(t)
	var fail timeouts
	fail.remaining.Store(100)
	p := e.pipeline(t, fail.embedder("mock-embedding"))

	res := p.ProcessFile(context.Background(), e.write(t, "a.txt", "never embeds"))
	require.Equal(t, ingestion.OutcomeFailed, res.Outcome)

	report, err := e.reindexer(t, p, nil).Run(context.Background(), Retryable())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Contains(t, report.Failures[res.DocID], "timeout")

	doc := e.status(t, res.DocID)
	assert.Equal(t, core.StatusFailed, doc.Status)
	assert.True(t, doc.Retryable)
}

func TestRun_SkipsMissingSource(t *testing.T) {
	e := setup(t)
	p := e.pipeline(t, mock.NewMockEmbedder().WithDimension(testDimension))
	path := e.write(t, "a.txt", "text that will vanish")

	res := p.ProcessFile(context.Background(), path)
	require.Equal(t, ingestion.OutcomeCompleted, res.Outcome, res.Error)
	require.NoError(t, os.Remove(path))

	report, err := e.reindexer(t, p, nil).Run(context.Background(), Documents(res.DocID))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Contains(t, report.Failures, res.DocID)
	assert.Equal(t, core.StatusCompleted, e.status(t, res.DocID).Status, "skipped documents are left alone")
}

func TestRun_ChangedSourceBumpsVersion(t *testing.T) {
	e := setup(t)
	p := e.pipeline(t, mock.NewMockEmbedder().WithDimension(testDimension))
	path := e.write(t, "a.txt", "original contents")

	res := p.ProcessFile(context.Background(), path)
	require.Equal(t, ingestion.OutcomeCompleted, res.Outcome, res.Error)
	e.write(t, "a.txt", "edited contents")

	report, err := e.reindexer(t, p, nil).Run(context.Background(), Documents(res.DocID))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Completed)

	doc := e.status(t, res.DocID)
	assert.Equal(t, int64(2), doc.Version)
	assert.Equal(t, core.ContentHash([]byte("edited contents")), doc.ContentHash)

	stats, err := e.store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ActiveVectors)
}

func TestRun_StaleModel(t *testing.T) {
	e := setup(t)
	old := e.pipeline(t, mock.NewMockEmbedder().WithDimension(testDimension).WithModel("m1"))
	res := old.ProcessFile(context.Background(), e.write(t, "a.txt", "embedded with the old model"))
	require.Equal(t, ingestion.OutcomeCompleted, res.Outcome, res.Error)

	current := e.pipeline(t, mock.NewMockEmbedder().WithDimension(testDimension).WithModel("m2"))
	r := e.reindexer(t, current, nil)

	report, err := r.Run(context.Background(), StaleModel(current.EmbeddingModel()))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Completed)
	assert.Equal(t, "m2", e.status(t, res.DocID).EmbeddingModel)

	report, err = r.Run(context.Background(), StaleModel("m2"))
	require.NoError(t, err)
	assert.Zero(t, report.Selected)
}

func TestSelector_Invalid(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	_, err := StaleModel("").Select(ctx, e.ledger)
	assert.ErrorIs(t, err, ErrInvalidSelector)

	_, err = Selector{Kind: "bogus"}.Select(ctx, e.ledger)
	assert.ErrorIs(t, err, ErrInvalidSelector)

	_, err = Documents("missing").Select(ctx, e.ledger)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
