package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/poiesic/ragindex/ai"
	"github.com/poiesic/ragindex/chunking"
	"github.com/poiesic/ragindex/core"
	"github.com/poiesic/ragindex/dedup"
	"github.com/poiesic/ragindex/embedcache"
	"github.com/poiesic/ragindex/extract"
	"github.com/poiesic/ragindex/retry"
	"github.com/poiesic/ragindex/storage"
	"github.com/poiesic/ragindex/vectorstore"
)

const (
	DefaultEmbedTimeout    = 60 * time.Second
	DefaultStaleAfter      = 30 * time.Minute
	DefaultEmbedBatchSize  = 32
	DefaultIndexAttempts   = 5
	DefaultIndexRetryDelay = 200 * time.Millisecond
)

// VectorIndex is the subset of *vectorstore.Store the pipeline writes to.
type VectorIndex interface {
	Dimension() int
	Upsert(ctx context.Context, entries []vectorstore.Entry) (string, error)
	Delete(ctx context.Context, chunkID string) (bool, error)
	DeleteDocument(ctx context.Context, docID string, keep []string) (int, error)
	Get(ctx context.Context, chunkID string) (*vectorstore.Record, error)
	Stats(ctx context.Context) (*vectorstore.Stats, error)
}

var _ VectorIndex = (*vectorstore.Store)(nil)

// Pipeline orchestrates ingestion of documents into the ledger and vector index.
type Pipeline struct {
	ledger       storage.LedgerRepository
	dedup        *dedup.Deduplicator
	index        VectorIndex
	embedder     ai.Embedder
	cache        embedcache.Cache
	extractor    extract.Extractor
	chunker      *chunking.Chunker
	pool         *ants.Pool
	embedTimeout time.Duration
	batchSize    int
	staleAfter   time.Duration
	indexRetry   retry.Policy
	logger       *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithPoolSize sets the worker pool size used by ProcessBatch.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			size = 1
		}
		if p.pool != nil {
			p.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithCache sets the embedding cache. Default is embedcache.Disabled().
func WithCache(cache embedcache.Cache) Option {
	return func(p *Pipeline) error {
		if cache == nil {
			cache = embedcache.Disabled()
		}
		p.cache = cache
		return nil
	}
}

// WithExtractor sets the text extractor. Default is extract.NewRegistry.
func WithExtractor(extractor extract.Extractor) Option {
	return func(p *Pipeline) error {
		if extractor != nil {
			p.extractor = extractor
		}
		return nil
	}
}

// WithChunker sets the chunker. Default is chunking.New() with default options.
func WithChunker(chunker *chunking.Chunker) Option {
	return func(p *Pipeline) error {
		if chunker != nil {
			p.chunker = chunker
		}
		return nil
	}
}

// WithEmbedTimeout bounds each embedder call. Default is DefaultEmbedTimeout.
func WithEmbedTimeout(d time.Duration) Option {
	return func(p *Pipeline) error {
		if d <= 0 {
			return fmt.Errorf("embed timeout must be positive, got %s", d)
		}
		p.embedTimeout = d
		return nil
	}
}

// WithEmbedBatchSize sets how many texts go to the embedder per call.
func WithEmbedBatchSize(size int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			return fmt.Errorf("embed batch size must be positive, got %d", size)
		}
		p.batchSize = size
		return nil
	}
}

// WithStaleAfter sets how long a document may sit in Processing before
// another run may reclaim it. Default is DefaultStaleAfter.
func WithStaleAfter(d time.Duration) Option {
	return func(p *Pipeline) error {
		if d <= 0 {
			return fmt.Errorf("stale threshold must be positive, got %s", d)
		}
		p.staleAfter = d
		return nil
	}
}

// WithIndexRetry sets how often index writes are retried after a lock timeout.
func WithIndexRetry(attempts int, baseDelay time.Duration) Option {
	return func(p *Pipeline) error {
		if attempts < 1 {
			return retry.ErrInvalidMaxAttempts
		}
		p.indexRetry.MaxAttempts = attempts
		p.indexRetry.BaseDelay = baseDelay
		return nil
	}
}

// NewPipeline creates a new ingestion pipeline.
func NewPipeline(
	ledger storage.LedgerRepository,
	registry dedup.Registry,
	index VectorIndex,
	provider ai.AIProvider,
	opts ...Option,
) (*Pipeline, error) {
	if ledger == nil {
		return nil, ErrLedgerRequired
	}
	if registry == nil {
		return nil, ErrDedupRegistryRequired
	}
	if index == nil {
		return nil, ErrVectorIndexRequired
	}
	if provider == nil || provider.Embedder() == nil {
		return nil, ErrAIProviderRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		ledger:       ledger,
		index:        index,
		embedder:     provider.Embedder(),
		cache:        embedcache.Disabled(),
		pool:         pool,
		embedTimeout: DefaultEmbedTimeout,
		batchSize:    DefaultEmbedBatchSize,
		staleAfter:   DefaultStaleAfter,
		indexRetry: retry.Policy{
			MaxAttempts: DefaultIndexAttempts,
			BaseDelay:   DefaultIndexRetryDelay,
			MaxDelay:    5 * time.Second,
			Retryable:   core.IsRetryable,
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.Release()
			return nil, optErr
		}
	}

	p.logger = p.logger.With("component", "pipeline")
	p.indexRetry.Logger = p.logger

	if p.chunker == nil {
		if p.chunker, err = chunking.New(); err != nil {
			p.Release()
			return nil, err
		}
	}
	if p.extractor == nil {
		p.extractor = extract.NewRegistry(p.logger)
	}
	if p.dedup, err = dedup.New(registry, dedup.WithLogger(p.logger)); err != nil {
		p.Release()
		return nil, err
	}

	if got, want := p.embedder.Dimension(), index.Dimension(); got != want {
		p.Release()
		return nil, fmt.Errorf("%w: embedder %s produces %d, index expects %d",
			core.ErrDimensionMismatch, p.embedder.Model(), got, want)
	}

	return p, nil
}

// Release releases resources including the worker pool.
// The pipeline should not be used after calling Release.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// Ledger returns the ledger the pipeline records into.
func (p *Pipeline) Ledger() storage.LedgerRepository {
	return p.ledger
}

// EmbeddingModel returns the model name of the pipeline's embedder.
func (p *Pipeline) EmbeddingModel() string {
	return p.embedder.Model()
}
