package ingestion

import (
	"time"

	"github.com/poiesic/ragindex/core"
)

// Outcome summarizes what a call to Process did.
type Outcome string

const (
	// OutcomeCompleted means the document was processed and is searchable.
	OutcomeCompleted Outcome = "completed"
	// OutcomeAlreadyProcessed means the content was handled by an earlier run.
	// Status tells whether that run completed or failed.
	OutcomeAlreadyProcessed Outcome = "already_processed"
	// OutcomeInProgress means another worker currently owns the document.
	OutcomeInProgress Outcome = "in_progress"
	// OutcomeFailed means this run failed; Error holds the cause.
	OutcomeFailed Outcome = "failed"
	// OutcomeCancelled means the caller's context ended mid-run. The document
	// stays Processing until it goes stale and is reclaimed.
	OutcomeCancelled Outcome = "cancelled"
)

// Stage names a step of the per-document state machine.
type Stage string

const (
	StageRegistered    Stage = "registered"
	StageExtracting    Stage = "extracting"
	StageChunking      Stage = "chunking"
	StageDeduplicating Stage = "deduplicating"
	StageEmbedding     Stage = "embedding"
	StageIndexing      Stage = "indexing"
	StageCompleted     Stage = "completed"
)

// Request identifies a document to process.
type Request struct {
	Path        string // File to extract from
	DocID       string // Derived from ContentHash when empty
	Filename    string // Base name of Path when empty
	ContentHash string // sha256 hex of the raw bytes
	FileSize    int64
	MimeType    string
}

// Result reports the outcome of processing one document.
type Result struct {
	Outcome         Outcome
	Status          core.DocumentStatus
	DocID           string
	Version         int64
	ChunksTotal     int // Chunks produced by the chunker
	ChunksProcessed int // Unique chunks embedded and indexed by this run
	IndexVersion    string
	CacheHits       int
	CacheMisses     int
	CacheHitRate    float64
	Duration        time.Duration
	FailedStage     Stage
	Error           string

	err error
}

// Err returns the error that failed the run, or nil. For documents that
// failed in an earlier run only Error is populated.
func (r *Result) Err() error {
	return r.err
}

// OK reports whether the document is Completed after this call.
func (r *Result) OK() bool {
	return r.Status == core.StatusCompleted
}

func (r *Result) setCacheStats(hits, misses int) {
	r.CacheHits = hits
	r.CacheMisses = misses
	if total := hits + misses; total > 0 {
		r.CacheHitRate = float64(hits) / float64(total)
	}
}

// stageError tags an error with the stage it happened in.
type stageError struct {
	stage Stage
	err   error
}

func (e *stageError) Error() string { return string(e.stage) + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func atStage(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &stageError{stage: stage, err: err}
}
