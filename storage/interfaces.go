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


package storage

import (
	"context"
	"time"

	"github.com/poiesic/ragindex/core"
)

// RegisterRequest identifies a document handed to the ledger.
type RegisterRequest struct {
	DocID       string
	Filename    string
	SourcePath  string
	ContentHash string
	FileSize    int64
	MimeType    string
}

// RegisterResult reports the outcome of a registration.
type RegisterResult struct {
	// IsNew is true when the document was unseen or its content hash changed.
	IsNew bool
	// Document is the ledger record after registration.
	Document *core.Document
}

// LedgerStats summarizes the ledger contents.
type LedgerStats struct {
	ByStatus          map[core.DocumentStatus]int
	TotalDocuments    int
	TotalChunks       int
	EmbeddedChunks    int
	EmbeddingProgress float64 // EmbeddedChunks / TotalChunks, 0 when empty
}

// LedgerRepository is the idempotency authority for ingestion. It records
// documents, their versions and statuses, and their chunk sets.
// Implementations must be safe for concurrent use by multiple goroutines.
type LedgerRepository interface {
	// Register inserts an unseen document at version 1 with status Pending.
	// A known document with the same content hash is left untouched and
	// IsNew is false. A known document with a different content hash gets
	// its version incremented, status reset to Pending and error cleared.
	Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error)

	// UpdateStatus transitions a document's status. cause must be nil unless
	// status is Failed; its message and retryability are stored on the record.
	// Returns ErrNotFound for unknown documents and core.ErrInvalidTransition
	// for illegal transitions.
	UpdateStatus(ctx context.Context, docID string, status core.DocumentStatus, cause error) error

	// Reclaim moves a document stuck in Processing since before staleBefore
	// back into a fresh Processing run. Returns false if the document is not
	// Processing or was updated at or after staleBefore.
	Reclaim(ctx context.Context, docID string, staleBefore time.Time) (bool, error)

	// Reset returns a document to Pending for a manual reindex. The version is
	// not changed.
	Reset(ctx context.Context, docID string) error

	// RecordChunks replaces the document's chunk set and updates ChunkCount.
	// Orders must be contiguous from 0 (core.ErrConstraintViolation otherwise).
	RecordChunks(ctx context.Context, docID string, chunks []*core.Chunk) error

	// MarkEmbedded flags chunks as embedded with model and stamps the owning
	// documents' EmbeddingModel. Unknown chunk ids are ignored.
	MarkEmbedded(ctx context.Context, chunkIDs []string, model string) error

	// MarkIndexed flags chunks as indexed and records the vector store
	// version on the document.
	MarkIndexed(ctx context.Context, docID string, chunkIDs []string, indexVersion string) error

	// GetStatus returns the document record, or nil if the document is unknown.
	GetStatus(ctx context.Context, docID string) (*core.Document, error)

	// List returns documents, optionally filtered by status, most recently
	// updated first. An empty filter returns every document.
	List(ctx context.Context, status core.DocumentStatus) ([]*core.Document, error)

	// Chunks returns the document's chunks ordered by Order.
	Chunks(ctx context.Context, docID string) ([]*core.Chunk, error)

	// Delete removes a document and its chunks. Returns ErrNotFound if the
	// document is unknown.
	Delete(ctx context.Context, docID string) error

	// Stats summarizes documents and chunks.
	Stats(ctx context.Context) (*LedgerStats, error)

	// Close releases resources.
	Close() error
}

// DedupRepository stores canonical chunk records keyed by normalized hash.
// Implementations must be safe for concurrent use by multiple goroutines.
type DedupRepository interface {
	// Claim stores record as canonical if its hash is unseen and returns nil.
	// Otherwise record.OwnerDocID is merged into the existing contributor set
	// and the existing record is returned.
	Claim(ctx context.Context, record *core.DedupRecord) (*core.DedupRecord, error)

	// Lookup returns the record for hash, or nil if none exists.
	Lookup(ctx context.Context, hash string) (*core.DedupRecord, error)

	// Release removes docID from every contributor set. Records owned by
	// docID with no other contributors are deleted. Returns the number of
	// records deleted.
	Release(ctx context.Context, docID string) (int, error)

	// Count returns the number of canonical records.
	Count(ctx context.Context) (int, error)
}
