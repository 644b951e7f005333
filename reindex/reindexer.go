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


package reindex

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/poiesic/ragindex/core"
	"github.com/poiesic/ragindex/ingestion"
	"github.com/poiesic/ragindex/retry"
	"github.com/poiesic/ragindex/storage"
)

// Config holds configuration for a reindex run.
type Config struct {
	// BatchSize is the number of documents handed to the pipeline at once
	BatchSize int

	// ReportInterval is how often to report progress (number of documents)
	ReportInterval int

	// MaxAttempts is the number of times a transiently failing document is tried
	MaxAttempts int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration

	// StaleAfter is how long a document may sit in Processing before it is
	// treated as abandoned. Younger Processing documents are skipped.
	StaleAfter time.Duration

	// Logger receives per-document outcomes. nil uses slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      16,
		ReportInterval: 10,
		MaxAttempts:    3,
		RetryDelay:     1 * time.Second,
		StaleAfter:     ingestion.DefaultStaleAfter,
	}
}

// Report summarizes a reindex run.
type Report struct {
	Selected  int
	Completed int
	Failed    int
	Skipped   int
	Failures  map[string]string // doc id to the reason it failed or was skipped
	Elapsed   time.Duration
}

// Reindexer re-runs the pipeline for documents already in the ledger.
type Reindexer struct {
	pipeline *ingestion.Pipeline
	ledger   storage.LedgerRepository
	config   *Config
	progress io.Writer
	logger   *slog.Logger
}

// NewReindexer creates a new reindexer.
// progress: where to write progress output (typically os.Stderr)
func NewReindexer(pipeline *ingestion.Pipeline, config *Config, progress io.Writer) (*Reindexer, error) {
	if pipeline == nil {
		return nil, ErrPipelineRequired
	}
	if config == nil {
		config = DefaultConfig()
	}
	if config.BatchSize < 1 {
		config.BatchSize = 1
	}
	if config.MaxAttempts < 1 {
		return nil, retry.ErrInvalidMaxAttempts
	}
	if progress == nil {
		progress = io.Discard
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Reindexer{
		pipeline: pipeline,
		ledger:   pipeline.Ledger(),
		config:   config,
		progress: progress,
		logger:   logger.With("component", "reindex"),
	}, nil
}

// Run reindexes every document picked by sel.
// Progress is reported to the configured writer.
func (r *Reindexer) Run(ctx context.Context, sel Selector) (*Report, error) {
	docs, err := sel.Select(ctx, r.ledger)
	if err != nil {
		return nil, fmt.Errorf("failed to select documents: %w", err)
	}

	report := &Report{Selected: len(docs), Failures: make(map[string]string)}
	if len(docs) == 0 {
		fmt.Fprintf(r.progress, "No documents to reindex (%s)\n", sel.Kind)
		return report, nil
	}

	fmt.Fprintf(r.progress, "Reindexing %d documents (%s, batch size: %d)\n",
		len(docs), sel.Kind, r.config.BatchSize)

	tracker := NewProgressTracker(r.progress, len(docs), r.config.ReportInterval)
	tracker.Start()

	for start := 0; start < len(docs); start += r.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		end := min(start+r.config.BatchSize, len(docs))

		reqs := make([]ingestion.Request, 0, end-start)
		for _, doc := range docs[start:end] {
			req, reason := r.request(doc)
			if reason != "" {
				r.logger.Warn("skipping document", "doc_id", doc.ID, "reason", reason)
				report.Skipped++
				report.Failures[doc.ID] = reason
				tracker.Record(false)
				continue
			}
			reqs = append(reqs, req)
		}

		if err := r.processBatch(ctx, reqs, report, tracker); err != nil {
			return report, err
		}
	}

	tracker.Finish()
	report.Elapsed = tracker.Elapsed()

	fmt.Fprintf(r.progress, "Reindex complete. %d completed, %d failed, %d skipped in %v\n",
		report.Completed, report.Failed, report.Skipped, report.Elapsed.Round(time.Millisecond))

	return report, nil
}

// request builds the pipeline request for doc from its source file, or
// returns the reason it cannot be reindexed now.
func (r *Reindexer) request(doc *core.Document) (ingestion.Request, string) {
	if doc.Status == core.StatusProcessing && time.Since(doc.UpdatedAt) < r.config.StaleAfter {
		return ingestion.Request{}, "document is being processed"
	}
	if doc.SourcePath == "" {
		return ingestion.Request{}, "no source path recorded"
	}

	req, err := ingestion.NewFileRequest(doc.SourcePath)
	if err != nil {
		return ingestion.Request{}, err.Error()
	}
	// The file may have changed since it was registered; keep its identity so
	// the ledger bumps the version instead of creating a new document.
	req.DocID = doc.ID
	if doc.Filename != "" {
		req.Filename = doc.Filename
	}
	return req, ""
}

// processBatch resets and processes reqs, retrying transient failures with
// backoff until they succeed or attempts run out.
func (r *Reindexer) processBatch(ctx context.Context, reqs []ingestion.Request, report *Report, tracker *ProgressTracker) error {
	pending := reqs
	attempt := 0

	policy := retry.Policy{
		MaxAttempts: r.config.MaxAttempts,
		BaseDelay:   r.config.RetryDelay,
		Retryable:   func(err error) bool { return errors.Is(err, errPendingRetry) },
		Logger:      r.logger,
	}
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		attempt++
		last := attempt == r.config.MaxAttempts

		for _, req := range pending {
			if err := r.ledger.Reset(ctx, req.DocID); err != nil {
				return fmt.Errorf("reset %s: %w", req.DocID, err)
			}
		}

		var again []ingestion.Request
		for i, res := range r.pipeline.ProcessBatch(ctx, pending) {
			docID := pending[i].DocID
			switch {
			case res.Outcome == ingestion.OutcomeCancelled:
				return ctx.Err()
			case res.OK():
				report.Completed++
				delete(report.Failures, docID)
				tracker.Record(true)
			case res.Outcome == ingestion.OutcomeFailed && core.IsRetryable(res.Err()) && !last:
				r.logger.Info("transient failure, will retry", "doc_id", docID, "attempt", attempt, "err", res.Error)
				again = append(again, pending[i])
			case res.Outcome == ingestion.OutcomeInProgress:
				report.Skipped++
				report.Failures[docID] = "document is being processed"
				tracker.Record(false)
			default:
				report.Failed++
				report.Failures[docID] = res.Error
				tracker.Record(false)
			}
		}

		pending = again
		if len(pending) > 0 {
			return errPendingRetry
		}
		return nil
	})
	if err != nil && !errors.Is(err, errPendingRetry) {
		return err
	}
	return nil
}
