package core

import (
	"maps"
	"time"
)

// DocumentStatus is the ledger lifecycle state of a document.
type DocumentStatus string

const (
	// StatusPending means the document is registered but no work has started.
	StatusPending DocumentStatus = "pending"
	// StatusProcessing means a pipeline run owns the document.
	StatusProcessing DocumentStatus = "processing"
	// StatusCompleted means the document is fully indexed and safe to query.
	StatusCompleted DocumentStatus = "completed"
	// StatusFailed means the last attempt failed; ErrorMessage holds the cause.
	StatusFailed DocumentStatus = "failed"
)

// Valid reports whether s is one of the known statuses.
func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether s ends a pipeline run.
func (s DocumentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ParseStatus converts a user supplied string into a DocumentStatus.
func ParseStatus(s string) (DocumentStatus, error) {
	status := DocumentStatus(s)
	if !status.Valid() {
		return "", ErrInvalidStatus
	}
	return status, nil
}

// Document is the ledger record for one ingested source file.
type Document struct {
	ID             string
	Filename       string
	SourcePath     string // Where the bytes were read from; used by reindex
	ContentHash    string // sha256 of the raw bytes, hex encoded
	FileSize       int64
	MimeType       string
	Status         DocumentStatus
	Version        int64 // Incremented whenever ContentHash changes
	ChunkCount     int
	EmbeddingModel string
	IndexVersion   string // Last vector store version this document was upserted into
	ErrorMessage   string
	Retryable      bool // Set with StatusFailed when the failure kind is transient
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Chunk is a contiguous window of a document's extracted text.
type Chunk struct {
	ID             string
	DocID          string
	Order          int
	Text           string
	ContentHash    string // sha256 of the normalized text, used for dedup
	ChunkHash      string // sha256 of the exact text, used for ID derivation
	IsEmbedded     bool
	IsIndexed      bool
	EmbeddingModel string
	CanonicalID    string // Set when this chunk duplicates another canonical chunk
	Metadata       map[string]string
}

// Clone returns a deep copy of the chunk.
func (c *Chunk) Clone() *Chunk {
	cp := *c
	cp.Metadata = maps.Clone(c.Metadata)
	return &cp
}

// DedupRecord is the canonical representative of one normalized chunk text.
type DedupRecord struct {
	Hash             string
	CanonicalChunkID string
	OwnerDocID       string
	Text             string
	Contributors     []string // Every doc_id that contained the text, owner first
	CreatedAt        time.Time
}

// HasContributor reports whether docID contributed to the record.
func (r *DedupRecord) HasContributor(docID string) bool {
	for _, c := range r.Contributors {
		if c == docID {
			return true
		}
	}
	return false
}

// Metadata keys the pipeline writes onto chunks and index entries.
const (
	MetaDocID       = "doc_id"
	MetaOrder       = "order"
	MetaText        = "text"
	MetaContentHash = "content_hash"
	MetaFilename    = "filename"
	MetaPage        = "page"
	MetaMimeType    = "mime_type"
)
