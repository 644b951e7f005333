package ingestion

import (
	"context"
	"fmt"

	"github.com/poiesic/ragindex/embedcache"
	"github.com/poiesic/ragindex/storage"
	"github.com/poiesic/ragindex/vectorstore"
)

// Stats combines ledger, index, dedup and cache statistics.
type Stats struct {
	Ledger       *storage.LedgerStats
	Index        *vectorstore.Stats
	Cache        *embedcache.Stats // nil when the cache could not be read
	DedupRecords int
}

// Stats gathers statistics from every store the pipeline writes to.
func (p *Pipeline) Stats(ctx context.Context) (*Stats, error) {
	ledger, err := p.ledger.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger stats: %w", err)
	}
	index, err := p.index.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("index stats: %w", err)
	}
	records, err := p.dedup.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("dedup stats: %w", err)
	}
	stats := &Stats{Ledger: ledger, Index: index, DedupRecords: records}
	if stats.Cache, err = p.cache.Stats(ctx); err != nil {
		p.logger.Warn("embedding cache stats unavailable", "err", err)
		stats.Cache = nil
	}
	return stats, nil
}

// Delete removes a document from the ledger, the dedup registry and the
// index. Index entries that another document still uses as canonical are
// kept. Returns storage.ErrNotFound for unknown documents.
func (p *Pipeline) Delete(ctx context.Context, docID string) error {
	doc, err := p.ledger.GetStatus(ctx, docID)
	if err != nil {
		return err
	}
	if doc == nil {
		return storage.ErrNotFound
	}

	chunks, err := p.ledger.Chunks(ctx, docID)
	if err != nil {
		return err
	}
	if err := p.dedup.Release(ctx, docID); err != nil {
		return err
	}

	var keep []string
	for _, c := range chunks {
		live, err := p.isLiveCanonical(ctx, c)
		if err != nil {
			return err
		}
		if live {
			keep = append(keep, entryID(c))
		}
	}

	var removed int
	err = p.withIndexRetry(ctx, func(ctx context.Context) error {
		var err error
		removed, err = p.index.DeleteDocument(ctx, docID, keep)
		return err
	})
	if err != nil {
		return fmt.Errorf("delete index entries: %w", err)
	}
	orphans, err := p.sweepOrphans(ctx, chunks)
	if err != nil {
		return fmt.Errorf("delete orphaned canonicals: %w", err)
	}
	removed += orphans

	if err := p.ledger.Delete(ctx, docID); err != nil {
		return err
	}
	p.logger.Info("document deleted", "doc_id", docID, "index_entries", removed, "shared_entries", len(keep))
	return nil
}
