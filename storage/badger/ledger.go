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


package badger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/ragindex/core"
	"github.com/poiesic/ragindex/storage"
)

// LedgerRepository implements storage.LedgerRepository for BadgerDB.
type LedgerRepository struct {
	backend *Backend
}

var _ storage.LedgerRepository = (*LedgerRepository)(nil)

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(backend *Backend) (*LedgerRepository, error) {
	if backend == nil {
		return nil, errors.New("backend required")
	}
	return &LedgerRepository{
		backend: backend,
	}, nil
}

// Close releases resources. LedgerRepository has no resources to release.
func (r *LedgerRepository) Close() error {
	return nil
}

// Register records a document or detects that it is already known.
func (r *LedgerRepository) Register(ctx context.Context, req storage.RegisterRequest) (*storage.RegisterResult, error) {
	if req.DocID == "" {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidDocument, core.ErrEmptyDocID)
	}
	if req.ContentHash == "" {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidDocument, core.ErrEmptyContentHash)
	}

	var result *storage.RegisterResult
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		key := makeDocumentKey(req.DocID)
		existing, err := readDocument(tx, key)
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		switch {
		case existing == nil:
			result = &storage.RegisterResult{
				IsNew: true,
				Document: &core.Document{
					ID:          req.DocID,
					Filename:    req.Filename,
					SourcePath:  req.SourcePath,
					ContentHash: req.ContentHash,
					FileSize:    req.FileSize,
					MimeType:    req.MimeType,
					Status:      core.StatusPending,
					Version:     1,
					CreatedAt:   now,
					UpdatedAt:   now,
				},
			}
		case existing.ContentHash == req.ContentHash:
			result = &storage.RegisterResult{IsNew: false, Document: existing}
			return nil
		default:
			// Content changed: new version, back to Pending
			existing.ContentHash = req.ContentHash
			existing.Version++
			existing.Status = core.StatusPending
			existing.ErrorMessage = ""
			existing.Retryable = false
			existing.Filename = req.Filename
			existing.SourcePath = req.SourcePath
			existing.FileSize = req.FileSize
			existing.MimeType = req.MimeType
			existing.UpdatedAt = now
			result = &storage.RegisterResult{IsNew: true, Document: existing}
		}
		return tx.Set(key, storage.MarshalDocument(result.Document))
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UpdateStatus transitions a document to status.
func (r *LedgerRepository) UpdateStatus(ctx context.Context, docID string, status core.DocumentStatus, cause error) error {
	var errMsg string
	if cause != nil {
		errMsg = cause.Error()
	}
	if err := core.ValidateStatusError(status, errMsg); err != nil {
		return err
	}

	return r.updateDocument(ctx, docID, func(doc *core.Document) error {
		if err := core.ValidateTransition(doc.Status, status); err != nil {
			return err
		}
		doc.Status = status
		doc.ErrorMessage = errMsg
		doc.Retryable = status == core.StatusFailed && core.IsRetryable(cause)
		return nil
	})
}

// Reclaim restarts a Processing run abandoned before staleBefore.
func (r *LedgerRepository) Reclaim(ctx context.Context, docID string, staleBefore time.Time) (bool, error) {
	var reclaimed bool
	err := r.updateDocument(ctx, docID, func(doc *core.Document) error {
		reclaimed = doc.Status == core.StatusProcessing && doc.UpdatedAt.Before(staleBefore)
		if !reclaimed {
			return errSkipWrite
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return reclaimed, nil
}

// Reset returns a document to Pending for a manual reindex.
func (r *LedgerRepository) Reset(ctx context.Context, docID string) error {
	return r.updateDocument(ctx, docID, func(doc *core.Document) error {
		doc.Status = core.StatusPending
		doc.ErrorMessage = ""
		doc.Retryable = false
		return nil
	})
}

// errSkipWrite aborts updateDocument without writing and without error.
var errSkipWrite = errors.New("skip write")

// updateDocument reads a document, applies fn and writes it back with a fresh
// UpdatedAt, all in one transaction.
func (r *LedgerRepository) updateDocument(ctx context.Context, docID string, fn func(doc *core.Document) error) error {
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		key := makeDocumentKey(docID)
		doc, err := readDocument(tx, key)
		if err != nil {
			return err
		}
		if doc == nil {
			return storage.ErrNotFound
		}
		if err := fn(doc); err != nil {
			return err
		}
		doc.UpdatedAt = time.Now().UTC()
		return tx.Set(key, storage.MarshalDocument(doc))
	})
	if errors.Is(err, errSkipWrite) {
		return nil
	}
	return err
}

// RecordChunks replaces the chunk set of a document.
func (r *LedgerRepository) RecordChunks(ctx context.Context, docID string, chunks []*core.Chunk) error {
	if err := core.ValidateChunkOrder(chunks); err != nil {
		return err
	}
	for _, c := range chunks {
		if c.DocID != docID {
			return fmt.Errorf("%w: chunk %s belongs to %q, not %q", core.ErrConstraintViolation, c.ID, c.DocID, docID)
		}
	}

	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		docKey := makeDocumentKey(docID)
		doc, err := readDocument(tx, docKey)
		if err != nil {
			return err
		}
		if doc == nil {
			return storage.ErrNotFound
		}

		if err := deleteChunks(tx, docID); err != nil {
			return err
		}

		for _, c := range chunks {
			key := makeChunkKey(docID, c.Order)
			if err := tx.Set(key, storage.MarshalChunk(c)); err != nil {
				return err
			}
			if err := tx.Set(makeChunkIndexKey(c.ID), key); err != nil {
				return err
			}
		}

		doc.ChunkCount = len(chunks)
		doc.UpdatedAt = time.Now().UTC()
		return tx.Set(docKey, storage.MarshalDocument(doc))
	})
}

// MarkEmbedded flags chunks as embedded and stamps their documents.
func (r *LedgerRepository) MarkEmbedded(ctx context.Context, chunkIDs []string, model string) error {
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		docIDs, err := updateChunks(tx, chunkIDs, func(c *core.Chunk) {
			c.IsEmbedded = true
			c.EmbeddingModel = model
		})
		if err != nil {
			return err
		}

		now := time.Now().UTC()
		for _, docID := range docIDs {
			key := makeDocumentKey(docID)
			doc, err := readDocument(tx, key)
			if err != nil {
				return err
			}
			if doc == nil {
				continue
			}
			doc.EmbeddingModel = model
			doc.UpdatedAt = now
			if err := tx.Set(key, storage.MarshalDocument(doc)); err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkIndexed flags chunks as indexed and records the index version.
func (r *LedgerRepository) MarkIndexed(ctx context.Context, docID string, chunkIDs []string, indexVersion string) error {
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		key := makeDocumentKey(docID)
		doc, err := readDocument(tx, key)
		if err != nil {
			return err
		}
		if doc == nil {
			return storage.ErrNotFound
		}

		if _, err := updateChunks(tx, chunkIDs, func(c *core.Chunk) {
			c.IsIndexed = true
		}); err != nil {
			return err
		}

		doc.IndexVersion = indexVersion
		doc.UpdatedAt = time.Now().UTC()
		return tx.Set(key, storage.MarshalDocument(doc))
	})
}

// GetStatus retrieves a document by ID. Returns nil, nil if unknown.
func (r *LedgerRepository) GetStatus(ctx context.Context, docID string) (*core.Document, error) {
	var result *core.Document
	err := r.backend.View(func(tx *badger.Txn) error {
		var err error
		result, err = readDocument(tx, makeDocumentKey(docID))
		return err
	})
	return result, err
}

// List returns documents filtered by status, most recently updated first.
func (r *LedgerRepository) List(ctx context.Context, status core.DocumentStatus) ([]*core.Document, error) {
	if status != "" && !status.Valid() {
		return nil, core.ErrInvalidStatus
	}

	var result []*core.Document
	err := r.backend.View(func(tx *badger.Txn) error {
		return scanPrefix(tx, makeDocumentScanPrefix(), false, func(_ []byte, item *badger.Item) error {
			doc, err := itemDocument(item)
			if err != nil {
				return err
			}
			if status == "" || doc.Status == status {
				result = append(result, doc)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	slices.SortFunc(result, func(a, b *core.Document) int {
		return b.UpdatedAt.Compare(a.UpdatedAt)
	})
	return result, nil
}

// Chunks returns a document's chunks in order.
func (r *LedgerRepository) Chunks(ctx context.Context, docID string) ([]*core.Chunk, error) {
	var result []*core.Chunk
	err := r.backend.View(func(tx *badger.Txn) error {
		return scanPrefix(tx, makeChunkScanPrefix(docID), false, func(_ []byte, item *badger.Item) error {
			chunk, err := itemChunk(item)
			if err != nil {
				return err
			}
			result = append(result, chunk)
			return nil
		})
	})
	return result, err
}

// Delete removes a document and its chunks.
func (r *LedgerRepository) Delete(ctx context.Context, docID string) error {
	return r.backend.Update(ctx, func(tx *badger.Txn) error {
		key := makeDocumentKey(docID)
		doc, err := readDocument(tx, key)
		if err != nil {
			return err
		}
		if doc == nil {
			return storage.ErrNotFound
		}
		if err := deleteChunks(tx, docID); err != nil {
			return err
		}
		return tx.Delete(key)
	})
}

// Stats summarizes documents by status and chunk embedding progress.
func (r *LedgerRepository) Stats(ctx context.Context) (*storage.LedgerStats, error) {
	stats := &storage.LedgerStats{
		ByStatus: make(map[core.DocumentStatus]int),
	}
	err := r.backend.View(func(tx *badger.Txn) error {
		err := scanPrefix(tx, makeDocumentScanPrefix(), false, func(_ []byte, item *badger.Item) error {
			doc, err := itemDocument(item)
			if err != nil {
				return err
			}
			stats.ByStatus[doc.Status]++
			stats.TotalDocuments++
			return nil
		})
		if err != nil {
			return err
		}

		return scanPrefix(tx, makeChunkScanPrefix(""), false, func(_ []byte, item *badger.Item) error {
			chunk, err := itemChunk(item)
			if err != nil {
				return err
			}
			stats.TotalChunks++
			if chunk.IsEmbedded {
				stats.EmbeddedChunks++
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if stats.TotalChunks > 0 {
		stats.EmbeddingProgress = float64(stats.EmbeddedChunks) / float64(stats.TotalChunks)
	}
	return stats, nil
}

// deleteChunks removes every chunk of docID and its chunk index entries.
func deleteChunks(tx *badger.Txn, docID string) error {
	var keys [][]byte
	err := scanPrefix(tx, makeChunkScanPrefix(docID), false, func(key []byte, item *badger.Item) error {
		chunk, err := itemChunk(item)
		if err != nil {
			return err
		}
		keys = append(keys, key, makeChunkIndexKey(chunk.ID))
		return nil
	})
	if err != nil {
		return err
	}

	for _, key := range keys {
		if err := tx.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// updateChunks applies fn to each known chunk and returns the distinct owning document IDs.
func updateChunks(tx *badger.Txn, chunkIDs []string, fn func(c *core.Chunk)) ([]string, error) {
	var docIDs []string
	for _, id := range chunkIDs {
		item, err := tx.Get(makeChunkIndexKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			return nil, err
		}
		chunkKey, err := item.ValueCopy(nil)
		if err != nil {
			return nil, err
		}

		chunk, err := readChunk(tx, chunkKey)
		if err != nil {
			return nil, err
		}
		if chunk == nil {
			continue
		}

		fn(chunk)
		if err := tx.Set(chunkKey, storage.MarshalChunk(chunk)); err != nil {
			return nil, err
		}
		if !slices.Contains(docIDs, chunk.DocID) {
			docIDs = append(docIDs, chunk.DocID)
		}
	}
	return docIDs, nil
}

// readDocument reads a document from a transaction. Returns nil, nil if not found.
func readDocument(tx *badger.Txn, key []byte) (*core.Document, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return itemDocument(item)
}

func itemDocument(item *badger.Item) (*core.Document, error) {
	var doc *core.Document
	err := item.Value(func(val []byte) error {
		var err error
		doc, err = storage.UnmarshalDocument(val)
		return err
	})
	return doc, err
}

// readChunk reads a chunk from a transaction. Returns nil, nil if not found.
func readChunk(tx *badger.Txn, key []byte) (*core.Chunk, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return itemChunk(item)
}

func itemChunk(item *badger.Item) (*core.Chunk, error) {
	var chunk *core.Chunk
	err := item.Value(func(val []byte) error {
		var err error
		chunk, err = storage.UnmarshalChunk(val)
		return err
	})
	return chunk, err
}
