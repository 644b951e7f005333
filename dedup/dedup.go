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


package dedup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/ragindex/core"
)

// ErrRegistryRequired is returned by New when no registry is given.
var ErrRegistryRequired = errors.New("dedup registry required")

// Registry holds canonical chunk records keyed by normalized text hash.
// storage/badger.DedupRepository persists it across runs; MemoryRegistry
// lives for the process only.
type Registry interface {
	Claim(ctx context.Context, record *core.DedupRecord) (*core.DedupRecord, error)
	Lookup(ctx context.Context, hash string) (*core.DedupRecord, error)
	Release(ctx context.Context, docID string) (int, error)
	Count(ctx context.Context) (int, error)
}

// Deduplicator filters chunks down to one canonical chunk per unique
// normalized text. Matching is exact; there is no fuzzy comparison.
type Deduplicator struct {
	registry Registry
	logger   *slog.Logger
}

// Option configures a Deduplicator.
type Option func(*Deduplicator) error

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Deduplicator) error {
		if logger == nil {
			logger = slog.Default()
		}
		d.logger = logger
		return nil
	}
}

// New creates a Deduplicator over registry.
func New(registry Registry, opts ...Option) (*Deduplicator, error) {
	if registry == nil {
		return nil, ErrRegistryRequired
	}
	d := &Deduplicator{
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	d.logger = d.logger.With("component", "dedup")
	return d, nil
}

// Dedupe claims chunk's normalized hash. It returns chunk when the chunk
// becomes (or already is) canonical and nil when it duplicates an existing
// canonical chunk. For duplicates, chunk.CanonicalID is set to the canonical
// chunk's id and chunk.DocID is recorded as a contributor.
func (d *Deduplicator) Dedupe(ctx context.Context, chunk *core.Chunk) (*core.Chunk, error) {
	hash := chunk.ContentHash
	if hash == "" {
		hash = core.NormalizedHash(chunk.Text)
		chunk.ContentHash = hash
	}

	existing, err := d.registry.Claim(ctx, &core.DedupRecord{
		Hash:             hash,
		CanonicalChunkID: chunk.ID,
		OwnerDocID:       chunk.DocID,
		Text:             chunk.Text,
	})
	if err != nil {
		return nil, fmt.Errorf("claim chunk %s: %w", chunk.ID, err)
	}

	if existing == nil || existing.CanonicalChunkID == chunk.ID {
		chunk.CanonicalID = ""
		return chunk, nil
	}

	chunk.CanonicalID = existing.CanonicalChunkID
	d.logger.Debug("duplicate chunk",
		"chunk_id", chunk.ID,
		"canonical_id", existing.CanonicalChunkID,
		"doc_id", chunk.DocID)
	return nil, nil
}

// Filter dedupes chunks in order and returns the canonical ones. Duplicates
// keep their CanonicalID set in the input slice.
func (d *Deduplicator) Filter(ctx context.Context, chunks []*core.Chunk) ([]*core.Chunk, error) {
	unique := make([]*core.Chunk, 0, len(chunks))
	for _, c := range chunks {
		kept, err := d.Dedupe(ctx, c)
		if err != nil {
			return nil, err
		}
		if kept != nil {
			unique = append(unique, kept)
		}
	}
	return unique, nil
}

// Release withdraws docID from every record it contributed to.
func (d *Deduplicator) Release(ctx context.Context, docID string) error {
	removed, err := d.registry.Release(ctx, docID)
	if err != nil {
		return fmt.Errorf("release %s: %w", docID, err)
	}
	if removed > 0 {
		d.logger.Debug("released dedup records", "doc_id", docID, "removed", removed)
	}
	return nil
}

// Lookup returns the canonical record for a normalized hash, or nil.
func (d *Deduplicator) Lookup(ctx context.Context, hash string) (*core.DedupRecord, error) {
	return d.registry.Lookup(ctx, hash)
}

// Count returns the number of canonical records.
func (d *Deduplicator) Count(ctx context.Context) (int, error) {
	return d.registry.Count(ctx)
}
