// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package ragindex

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/poiesic/ragindex/ai"
	"github.com/poiesic/ragindex/ai/openai"
	"github.com/poiesic/ragindex/chunking"
	"github.com/poiesic/ragindex/config"
	"github.com/poiesic/ragindex/embedcache"
	"github.com/poiesic/ragindex/extract"
	"github.com/poiesic/ragindex/ingestion"
	"github.com/poiesic/ragindex/reindex"
	"github.com/poiesic/ragindex/search"
	"github.com/poiesic/ragindex/storage"
	"github.com/poiesic/ragindex/storage/badger"
	"github.com/poiesic/ragindex/vectorstore"
)

// Index ties the ledger, dedup registry, vector store, embedding cache and
// embedding provider together behind one handle.
type Index struct {
	config   *config.Config
	backend  *badger.Backend
	ledger   storage.LedgerRepository
	dedup    storage.DedupRepository
	store    *vectorstore.Store
	cache    embedcache.Cache
	provider ai.AIProvider
	logger   *slog.Logger
}

// Option configures an Index.
type Option func(*indexOptions)

type indexOptions struct {
	provider ai.AIProvider
	logger   *slog.Logger
}

// WithProvider replaces the OpenAI-compatible provider built from the config.
func WithProvider(provider ai.AIProvider) Option {
	return func(o *indexOptions) {
		o.provider = provider
	}
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *indexOptions) {
		o.logger = logger
	}
}

// Open opens or creates an index described by cfg.
func Open(ctx context.Context, cfg *config.Config, opts ...Option) (*Index, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	options := &indexOptions{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}
	logger := options.logger

	backend, err := badger.OpenBackend(cfg.LedgerPath(), false)
	if err != nil {
		return nil, err
	}

	ledger, err := badger.NewLedgerRepository(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}

	provider := options.provider
	if provider == nil {
		if provider, err = openai.NewProvider(cfg.AIConfig()); err != nil {
			ledger.Close()
			backend.Close()
			return nil, err
		}
	}

	store, err := vectorstore.Open(ctx, cfg.IndexPath(), cfg.Embedding.Dimension,
		vectorstore.WithLockTimeout(cfg.Storage.LockTimeout),
		vectorstore.WithLogger(logger),
	)
	if err != nil {
		provider.Close()
		ledger.Close()
		backend.Close()
		return nil, err
	}

	cache := embedcache.Disabled()
	if cfg.Cache.Enabled {
		sqlite, err := embedcache.Open(cfg.CachePath(), embedcache.WithLogger(logger))
		if err != nil {
			logger.Warn("embedding cache unavailable, continuing without it", "path", cfg.CachePath(), "err", err)
		} else {
			cache = sqlite
		}
	}

	return &Index{
		config:   cfg,
		backend:  backend,
		ledger:   ledger,
		dedup:    badger.NewDedupRepository(backend),
		store:    store,
		cache:    cache,
		provider: provider,
		logger:   logger,
	}, nil
}

// Close releases the provider, cache and ledger. The vector store holds no
// open handles between operations.
func (ix *Index) Close() error {
	var errs []error
	if err := ix.provider.Close(); err != nil {
		ix.logger.Error("error closing AI provider", "err", err)
	}
	if err := ix.cache.Close(); err != nil {
		ix.logger.Error("error closing embedding cache", "err", err)
		errs = append(errs, err)
	}
	if err := ix.ledger.Close(); err != nil {
		ix.logger.Error("error closing ledger", "err", err)
		errs = append(errs, err)
	}
	if err := ix.backend.Close(); err != nil {
		ix.logger.Error("error closing backend storage", "err", err)
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (ix *Index) Config() *config.Config { return ix.config }

func (ix *Index) Ledger() storage.LedgerRepository { return ix.ledger }

func (ix *Index) DedupRepository() storage.DedupRepository { return ix.dedup }

func (ix *Index) Store() *vectorstore.Store { return ix.store }

func (ix *Index) Cache() embedcache.Cache { return ix.cache }

// NewPipeline builds a pipeline configured from the index config. opts are
// applied after the configured ones and may override them.
func (ix *Index) NewPipeline(opts ...ingestion.Option) (*ingestion.Pipeline, error) {
	cfg := ix.config
	chunker, err := chunking.New(
		chunking.WithSize(cfg.Chunking.Size),
		chunking.WithOverlap(cfg.Chunking.Overlap),
	)
	if err != nil {
		return nil, err
	}

	configured := []ingestion.Option{
		ingestion.WithLogger(ix.logger),
		ingestion.WithExtractor(ix.extractor()),
		ingestion.WithPoolSize(cfg.Pipeline.PoolSize),
		ingestion.WithCache(ix.cache),
		ingestion.WithChunker(chunker),
		ingestion.WithEmbedTimeout(cfg.Embedding.Timeout),
		ingestion.WithEmbedBatchSize(cfg.Embedding.BatchSize),
		ingestion.WithStaleAfter(cfg.Pipeline.StaleAfter),
		ingestion.WithIndexRetry(cfg.Pipeline.IndexRetryAttempts, cfg.Pipeline.IndexRetryDelay),
	}
	return ingestion.NewPipeline(ix.ledger, ix.dedup, ix.store, ix.provider, append(configured, opts...)...)
}

// extractor tries configured commands before the built in PDF and text
// extractors.
func (ix *Index) extractor() *extract.Registry {
	var extractors []extract.Extractor
	for _, c := range ix.config.Commands {
		extractors = append(extractors, &extract.Command{
			Path:     c.Path,
			Args:     c.Args,
			MimeType: c.MimeTypes,
		})
	}
	extractors = append(extractors, extract.NewPDF(ix.logger), extract.Text{})
	return extract.NewRegistry(ix.logger, extractors...)
}

// NewSearcher builds a searcher that resolves visibility through the ledger
// and the dedup registry.
func (ix *Index) NewSearcher(opts ...search.Option) (*search.Searcher, error) {
	configured := []search.Option{
		search.WithLogger(ix.logger),
		search.WithDedupRegistry(ix.dedup),
	}
	return search.NewSearcher(ix.ledger, ix.store, ix.provider, append(configured, opts...)...)
}

// NewReindexer builds a reindexer over pipeline. Progress lines are written
// to progress when it is non-nil. configure may adjust the run config
// derived from the index config.
func (ix *Index) NewReindexer(pipeline *ingestion.Pipeline, progress io.Writer, configure ...func(*reindex.Config)) (*reindex.Reindexer, error) {
	rc := reindex.DefaultConfig()
	rc.StaleAfter = ix.config.Pipeline.StaleAfter
	rc.Logger = ix.logger
	for _, fn := range configure {
		fn(rc)
	}
	return reindex.NewReindexer(pipeline, rc, progress)
}
