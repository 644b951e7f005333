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


package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/poiesic/ragindex/core"
	"github.com/poiesic/ragindex/extract"
	"github.com/poiesic/ragindex/retry"
	"github.com/poiesic/ragindex/storage"
	"github.com/poiesic/ragindex/vectorstore"
)

// Process runs one document through the pipeline. It never returns an
// error; failures are recorded in the ledger and described by the Result.
func (p *Pipeline) Process(ctx context.Context, req Request) (res *Result) {
	start := time.Now()
	res = &Result{DocID: req.DocID}
	defer func() { res.Duration = time.Since(start) }()

	if req.DocID == "" {
		req.DocID = core.DocIDFromHash(req.ContentHash)
		res.DocID = req.DocID
	}
	if req.Filename == "" && req.Path != "" {
		req.Filename = filepath.Base(req.Path)
	}
	logger := p.logger.With("doc_id", req.DocID, "run_id", uuid.NewString())

	reg, err := p.ledger.Register(ctx, storage.RegisterRequest{
		DocID:       req.DocID,
		Filename:    req.Filename,
		SourcePath:  req.Path,
		ContentHash: req.ContentHash,
		FileSize:    req.FileSize,
		MimeType:    req.MimeType,
	})
	if err != nil {
		// Nothing was claimed, so there is no ledger state to update.
		return p.abandon(ctx, res, atStage(StageRegistered, err), logger)
	}
	doc := reg.Document
	res.Version = doc.Version
	res.Status = doc.Status
	logger.Debug("registered", "version", doc.Version, "is_new", reg.IsNew, "status", doc.Status)

	if !reg.IsNew {
		switch doc.Status {
		case core.StatusCompleted:
			return alreadyProcessed(res, doc)
		case core.StatusFailed:
			logger.Debug("previous run failed", "err", doc.ErrorMessage)
			return alreadyProcessed(res, doc)
		case core.StatusProcessing:
			reclaimed, err := p.ledger.Reclaim(ctx, req.DocID, time.Now().Add(-p.staleAfter))
			if err != nil {
				return p.abandon(ctx, res, atStage(StageRegistered, err), logger)
			}
			if !reclaimed {
				res.Outcome = OutcomeInProgress
				return res
			}
			logger.Info("reclaimed stale document", "version", doc.Version)
		}
	}

	if doc.Status == core.StatusPending {
		err := p.ledger.UpdateStatus(ctx, req.DocID, core.StatusProcessing, nil)
		if errors.Is(err, core.ErrInvalidTransition) {
			// Another worker moved it out of Pending first.
			res.Outcome = OutcomeInProgress
			res.Status = core.StatusProcessing
			return res
		}
		if err != nil {
			return p.abandon(ctx, res, atStage(StageRegistered, err), logger)
		}
	}
	res.Status = core.StatusProcessing

	if err := p.run(ctx, req, res, logger); err != nil {
		return p.fail(ctx, res, err, logger)
	}

	if err := p.ledger.UpdateStatus(ctx, req.DocID, core.StatusCompleted, nil); err != nil {
		return p.fail(ctx, res, atStage(StageCompleted, err), logger)
	}
	res.Outcome = OutcomeCompleted
	res.Status = core.StatusCompleted
	logger.Info("document completed",
		"version", res.Version,
		"chunks", res.ChunksTotal,
		"unique", res.ChunksProcessed,
		"index_version", res.IndexVersion,
		"cache_hit_rate", res.CacheHitRate,
		"duration", time.Since(start))
	return res
}

func alreadyProcessed(res *Result, doc *core.Document) *Result {
	res.Outcome = OutcomeAlreadyProcessed
	res.Status = doc.Status
	res.ChunksTotal = doc.ChunkCount
	res.IndexVersion = doc.IndexVersion
	res.Error = doc.ErrorMessage
	return res
}

// run executes the stages after the document has been claimed.
func (p *Pipeline) run(ctx context.Context, req Request, res *Result, logger *slog.Logger) error {
	logger.Debug("stage", "stage", StageExtracting, "path", req.Path)
	extracted := p.extractor.Extract(ctx, req.Path, req.MimeType)
	defer func() {
		if err := extract.Cleanup(extracted); err != nil {
			logger.Warn("failed to remove extractor artifacts", "err", err)
		}
	}()

	var pages []extract.Page
	switch r := extracted.(type) {
	case extract.Failed:
		if err := ctx.Err(); err != nil {
			return atStage(StageExtracting, err)
		}
		return atStage(StageExtracting, fmt.Errorf("%w: %s", core.ErrExtractionFailed, r.Reason))
	case extract.Extracted:
		pages = r.Pages
		if len(r.Skipped) > 0 {
			logger.Warn("pages skipped during extraction", "pages", r.Skipped)
		}
	default:
		return atStage(StageExtracting, fmt.Errorf("%w: unexpected result %T", core.ErrExtractionFailed, extracted))
	}

	logger.Debug("stage", "stage", StageChunking, "pages", len(pages))
	chunks := p.chunk(req, pages)
	if len(chunks) == 0 {
		return atStage(StageChunking, fmt.Errorf("%w: %w", core.ErrExtractionFailed, ErrEmptyDocument))
	}
	res.ChunksTotal = len(chunks)

	logger.Debug("stage", "stage", StageDeduplicating, "chunks", len(chunks))
	if err := p.dedup.Release(ctx, req.DocID); err != nil {
		return atStage(StageDeduplicating, err)
	}
	unique, err := p.dedup.Filter(ctx, chunks)
	if err != nil {
		return atStage(StageDeduplicating, err)
	}
	covers, err := p.uncoveredDuplicates(ctx, chunks, unique)
	if err != nil {
		return atStage(StageDeduplicating, err)
	}
	if len(covers) > 0 {
		logger.Debug("canonical chunks not indexed yet, indexing them here", "count", len(covers))
	}
	targets := slices.Concat(unique, covers)
	res.ChunksProcessed = len(targets)

	logger.Debug("stage", "stage", StageEmbedding, "unique", len(targets))
	vectors, err := p.embed(ctx, targets, res, logger)
	if err != nil {
		return atStage(StageEmbedding, err)
	}

	logger.Debug("stage", "stage", StageIndexing, "vectors", len(vectors))
	version, err := p.indexChunks(ctx, req.DocID, targets, vectors, logger)
	if err != nil {
		return atStage(StageIndexing, err)
	}
	res.IndexVersion = version

	covered := make(map[string]bool, len(covers))
	for _, c := range covers {
		covered[c.ID] = true
	}
	indexed := make([]string, 0, len(targets))
	for _, c := range chunks {
		if c.CanonicalID == "" || covered[c.CanonicalID] {
			indexed = append(indexed, c.ID)
		}
	}
	if err := p.record(ctx, req.DocID, chunks, indexed, version); err != nil {
		return atStage(StageCompleted, err)
	}
	return nil
}

// chunk splits every page and numbers the chunks contiguously across pages.
func (p *Pipeline) chunk(req Request, pages []extract.Page) []*core.Chunk {
	var chunks []*core.Chunk
	for _, page := range pages {
		meta := map[string]string{
			core.MetaDocID: req.DocID,
			core.MetaPage:  strconv.Itoa(page.Number),
		}
		if req.Filename != "" {
			meta[core.MetaFilename] = req.Filename
		}
		if mime := page.MimeType; mime != "" {
			meta[core.MetaMimeType] = mime
		} else if req.MimeType != "" {
			meta[core.MetaMimeType] = req.MimeType
		}
		for c := range p.chunker.ChunkFrom(page.Text, req.DocID, len(chunks), meta) {
			chunks = append(chunks, &c)
		}
	}
	return chunks
}

// uncoveredDuplicates returns an index entry for every duplicate chunk whose
// canonical entry is not in the index, as happens while the owner is still
// embedding. Each entry carries the canonical chunk id, so the owner and any
// duplicate upsert the same entry and the index keeps one copy of the text.
func (p *Pipeline) uncoveredDuplicates(ctx context.Context, chunks, unique []*core.Chunk) ([]*core.Chunk, error) {
	checked := make(map[string]bool, len(unique))
	for _, c := range unique {
		checked[c.ID] = true
	}

	var covers []*core.Chunk
	for _, c := range chunks {
		if c.CanonicalID == "" || checked[c.CanonicalID] {
			continue
		}
		checked[c.CanonicalID] = true

		var rec *vectorstore.Record
		err := p.withIndexRetry(ctx, func(ctx context.Context) error {
			var err error
			rec, err = p.index.Get(ctx, c.CanonicalID)
			return err
		})
		if err != nil {
			return nil, err
		}
		if rec != nil && !rec.Deleted {
			continue
		}

		cover := c.Clone()
		cover.ID = c.CanonicalID
		cover.CanonicalID = ""
		covers = append(covers, cover)
	}
	return covers, nil
}

// indexChunks upserts the unique chunks and then removes index entries of
// this document that the new version no longer uses.
func (p *Pipeline) indexChunks(ctx context.Context, docID string, unique []*core.Chunk, vectors [][]float32, logger *slog.Logger) (string, error) {
	entries := make([]vectorstore.Entry, len(unique))
	keep := make([]string, 0, len(unique))
	for i, c := range unique {
		meta := map[string]string{
			core.MetaDocID:       docID,
			core.MetaOrder:       strconv.Itoa(c.Order),
			core.MetaText:        c.Text,
			core.MetaContentHash: c.ContentHash,
		}
		for _, k := range []string{core.MetaFilename, core.MetaPage, core.MetaMimeType} {
			if v, ok := c.Metadata[k]; ok {
				meta[k] = v
			}
		}
		entries[i] = vectorstore.Entry{ChunkID: c.ID, Vector: vectors[i], Metadata: meta}
		keep = append(keep, c.ID)
	}

	var version string
	err := p.withIndexRetry(ctx, func(ctx context.Context) error {
		var err error
		version, err = p.index.Upsert(ctx, entries)
		return err
	})
	if err != nil {
		return "", err
	}

	// Entries of the previous version stay indexed while another document
	// still relies on them as canonical.
	previous, err := p.ledger.Chunks(ctx, docID)
	if err != nil {
		return "", err
	}
	for _, c := range previous {
		if slices.Contains(keep, entryID(c)) {
			continue
		}
		live, err := p.isLiveCanonical(ctx, c)
		if err != nil {
			return "", err
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
		return "", err
	}
	orphans, err := p.sweepOrphans(ctx, previous)
	if err != nil {
		return "", err
	}
	if removed+orphans > 0 {
		logger.Debug("removed stale index entries", "count", removed, "orphaned_canonicals", orphans)
	}
	return version, nil
}

// sweepOrphans deletes the index entries of canonical chunks that chunks
// pointed at but that no document contributes to anymore.
func (p *Pipeline) sweepOrphans(ctx context.Context, chunks []*core.Chunk) (int, error) {
	var orphans []string
	for _, c := range chunks {
		if c.CanonicalID == "" || slices.Contains(orphans, c.CanonicalID) {
			continue
		}
		rec, err := p.dedup.Lookup(ctx, c.ContentHash)
		if err != nil {
			return 0, err
		}
		if rec == nil {
			orphans = append(orphans, c.CanonicalID)
		}
	}

	removed := 0
	for _, id := range orphans {
		err := p.withIndexRetry(ctx, func(ctx context.Context) error {
			deleted, err := p.index.Delete(ctx, id)
			if deleted {
				removed++
			}
			return err
		})
		if err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// entryID returns the id of the index entry holding c's text.
func entryID(c *core.Chunk) string {
	if c.CanonicalID != "" {
		return c.CanonicalID
	}
	return c.ID
}

// isLiveCanonical reports whether the entry holding c's text is still the
// canonical entry of its dedup record.
func (p *Pipeline) isLiveCanonical(ctx context.Context, c *core.Chunk) (bool, error) {
	if c.ContentHash == "" {
		return false, nil
	}
	rec, err := p.dedup.Lookup(ctx, c.ContentHash)
	if err != nil {
		return false, err
	}
	return rec != nil && rec.CanonicalChunkID == entryID(c), nil
}

func (p *Pipeline) withIndexRetry(ctx context.Context, op func(context.Context) error) error {
	return retry.Do(ctx, p.indexRetry, op)
}

// record writes the final chunk set and its embedded and indexed flags.
func (p *Pipeline) record(ctx context.Context, docID string, chunks []*core.Chunk, indexed []string, version string) error {
	if err := p.ledger.RecordChunks(ctx, docID, chunks); err != nil {
		return err
	}

	all := make([]string, len(chunks))
	for i, c := range chunks {
		all[i] = c.ID
	}
	if err := p.ledger.MarkEmbedded(ctx, all, p.embedder.Model()); err != nil {
		return err
	}

	return p.ledger.MarkIndexed(ctx, docID, indexed, version)
}

// fail records err against a claimed document. A cancelled caller leaves
// the document in Processing; it becomes reclaimable once stale.
func (p *Pipeline) fail(ctx context.Context, res *Result, err error, logger *slog.Logger) *Result {
	if ctx.Err() != nil {
		return p.abandon(ctx, res, err, logger)
	}

	res.err = err
	res.Error = err.Error()
	res.Outcome = OutcomeFailed
	res.Status = core.StatusFailed
	var se *stageError
	if errors.As(err, &se) {
		res.FailedStage = se.stage
	}
	logger.Error("document failed", "stage", res.FailedStage, "err", err, "retryable", core.IsRetryable(err))

	// Release first so a failed attempt leaves no canonical chunks that
	// nothing indexes.
	if relErr := p.dedup.Release(ctx, res.DocID); relErr != nil {
		logger.Warn("failed to release dedup claims", "err", relErr)
	}
	if updErr := p.ledger.UpdateStatus(ctx, res.DocID, core.StatusFailed, err); updErr != nil {
		logger.Error("failed to record failure", "err", updErr)
	}
	return res
}

// abandon reports err without touching ledger state.
func (p *Pipeline) abandon(ctx context.Context, res *Result, err error, logger *slog.Logger) *Result {
	res.err = err
	res.Error = err.Error()
	var se *stageError
	if errors.As(err, &se) {
		res.FailedStage = se.stage
	}
	if ctx.Err() != nil {
		res.Outcome = OutcomeCancelled
		logger.Warn("document processing cancelled", "stage", res.FailedStage, "err", err)
		return res
	}
	res.Outcome = OutcomeFailed
	logger.Error("document processing aborted", "stage", res.FailedStage, "err", err)
	return res
}
