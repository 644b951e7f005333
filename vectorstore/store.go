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


// Package vectorstore implements a flat inner-product vector index persisted
// as three files under one directory and shared between processes through a
// file lock.
//
// Every operation loads the current on-disk state under the lock instead of
// trusting memory, so several processes can share one index directory.
// Readers take a shared lock; writers take an exclusive lock for the whole
// load-mutate-persist cycle. Deletion only flags metadata; vectors are never
// removed and positions are never reused.
package vectorstore

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/poiesic/ragindex/core"
)

const (
	IndexFile    = "index.bin"
	MetadataFile = "metadata.bin"
	VersionFile  = "version.txt"
	LockFile     = ".lock"

	// InitialVersion is the version of a freshly created, empty store.
	InitialVersion = "v1"

	// DefaultLockTimeout bounds how long an operation waits for the file lock.
	DefaultLockTimeout = 10 * time.Second
)

// MetaDocID is the metadata key naming the document an entry belongs to.
const MetaDocID = core.MetaDocID

// Entry is a vector to upsert.
type Entry struct {
	ChunkID  string
	Vector   []float32
	Metadata map[string]string
}

// Match is a query hit.
type Match struct {
	ChunkID  string
	Score    float32
	Metadata map[string]string
}

// Stats summarizes the store.
type Stats struct {
	TotalVectors  int
	ActiveVectors int
	Dimension     int
	IndexVersion  string
}

// Filter selects entries by metadata during Query. A nil Filter accepts all.
type Filter func(metadata map[string]string) bool

// Store is a flat vector index rooted at one directory.
type Store struct {
	dir         string
	dimension   int
	lockTimeout time.Duration
	lock        *fileLock
	logger      *slog.Logger
}

// Option configures a Store.
type Option func(*Store) error

// WithLockTimeout bounds lock acquisition. Default is DefaultLockTimeout.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) error {
		if d <= 0 {
			return fmt.Errorf("lock timeout must be positive, got %s", d)
		}
		s.lockTimeout = d
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// Open opens the store in dir, creating an empty store at InitialVersion if
// none exists. An existing store with a different dimension is rejected with
// core.ErrDimensionMismatch.
func Open(ctx context.Context, dir string, dimension int, opts ...Option) (*Store, error) {
	if dimension <= 0 {
		return nil, ErrInvalidDimension
	}

	s := &Store{
		dir:         dir,
		dimension:   dimension,
		lockTimeout: DefaultLockTimeout,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.logger = s.logger.With("component", "vectorstore")

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}
	s.lock = newFileLock(filepath.Join(dir, LockFile), s.lockTimeout)

	if err := s.lock.lock(ctx); err != nil {
		return nil, err
	}
	defer s.lock.unlock()

	_, err := os.Stat(s.path(VersionFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
		empty := &state{
			matrix:  &matrix{dimension: dimension},
			records: make(map[string]*Record),
			version: InitialVersion,
		}
		if err := s.persist(empty, true); err != nil {
			return nil, err
		}
		s.logger.Info("initialized vector store", "dir", dir, "dimension", dimension)
		return s, nil
	case err != nil:
		return nil, err
	}

	m, err := s.loadMatrix()
	if err != nil {
		return nil, err
	}
	if m.dimension != dimension {
		return nil, fmt.Errorf("%w: store has dimension %d, want %d", core.ErrDimensionMismatch, m.dimension, dimension)
	}
	return s, nil
}

// Dimension returns the configured vector dimension.
func (s *Store) Dimension() int { return s.dimension }

// Dir returns the store directory.
func (s *Store) Dir() string { return s.dir }

// Upsert appends entries and returns the new index version. Every vector is
// checked before anything is written, so a dimension mismatch leaves the
// store untouched. An empty batch returns the current version unchanged.
func (s *Store) Upsert(ctx context.Context, entries []Entry) (string, error) {
	for _, e := range entries {
		if len(e.Vector) != s.dimension {
			return "", fmt.Errorf("%w: chunk %s has dimension %d, want %d",
				core.ErrDimensionMismatch, e.ChunkID, len(e.Vector), s.dimension)
		}
	}

	if err := s.lock.lock(ctx); err != nil {
		return "", err
	}
	defer s.lock.unlock()

	st, err := s.load(true)
	if err != nil {
		return "", err
	}
	if len(entries) == 0 {
		return st.version, nil
	}

	now := time.Now().UTC()
	for _, e := range entries {
		position := len(st.matrix.rows)
		st.matrix.rows = append(st.matrix.rows, Normalize(e.Vector))
		st.records[e.ChunkID] = &Record{
			ChunkID:  e.ChunkID,
			Position: position,
			AddedAt:  now,
			Metadata: maps.Clone(e.Metadata),
		}
	}

	next, err := nextVersion(st.version)
	if err != nil {
		return "", err
	}
	st.version = next

	if err := s.persist(st, true); err != nil {
		return "", err
	}
	s.logger.Debug("upserted vectors", "count", len(entries), "version", next)
	return next, nil
}

// Query returns up to k active entries ranked by inner product with vector.
func (s *Store) Query(ctx context.Context, vector []float32, k int, filter Filter) ([]Match, error) {
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: query has dimension %d, want %d", core.ErrDimensionMismatch, len(vector), s.dimension)
	}
	if k <= 0 {
		return nil, nil
	}

	if err := s.lock.rlock(ctx); err != nil {
		return nil, err
	}
	st, err := s.load(true)
	s.lock.runlock()
	if err != nil {
		return nil, err
	}

	query := Normalize(vector)
	matches := make([]Match, 0, len(st.records))
	for _, r := range st.records {
		if r.Deleted {
			continue
		}
		if filter != nil && !filter(r.Metadata) {
			continue
		}
		matches = append(matches, Match{
			ChunkID:  r.ChunkID,
			Score:    Dot(query, st.matrix.rows[r.Position]),
			Metadata: maps.Clone(r.Metadata),
		})
	}

	slices.SortFunc(matches, func(a, b Match) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return strings.Compare(a.ChunkID, b.ChunkID)
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Delete flags chunkID as deleted. Returns false if chunkID is unknown.
// Deleting an already deleted entry returns true and changes nothing.
func (s *Store) Delete(ctx context.Context, chunkID string) (bool, error) {
	if err := s.lock.lock(ctx); err != nil {
		return false, err
	}
	defer s.lock.unlock()

	st, err := s.load(false)
	if err != nil {
		return false, err
	}
	r, ok := st.records[chunkID]
	if !ok {
		return false, nil
	}
	if r.Deleted {
		return true, nil
	}

	r.Deleted = true
	r.DeletedAt = time.Now().UTC()
	if err := s.persist(st, false); err != nil {
		return false, err
	}
	return true, nil
}

// DeleteDocument flags every active entry of docID as deleted except the
// chunk ids in keep. Returns the number of entries flagged.
func (s *Store) DeleteDocument(ctx context.Context, docID string, keep []string) (int, error) {
	if err := s.lock.lock(ctx); err != nil {
		return 0, err
	}
	defer s.lock.unlock()

	st, err := s.load(false)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	deleted := 0
	for _, r := range st.records {
		if r.Deleted || r.Metadata[MetaDocID] != docID || slices.Contains(keep, r.ChunkID) {
			continue
		}
		r.Deleted = true
		r.DeletedAt = now
		deleted++
	}
	if deleted == 0 {
		return 0, nil
	}

	if err := s.persist(st, false); err != nil {
		return 0, err
	}
	s.logger.Debug("deleted document vectors", "doc_id", docID, "count", deleted)
	return deleted, nil
}

// Get returns the metadata record for chunkID, or nil if unknown.
func (s *Store) Get(ctx context.Context, chunkID string) (*Record, error) {
	if err := s.lock.rlock(ctx); err != nil {
		return nil, err
	}
	st, err := s.load(false)
	s.lock.runlock()
	if err != nil {
		return nil, err
	}

	r, ok := st.records[chunkID]
	if !ok {
		return nil, nil
	}
	c := *r
	c.Metadata = maps.Clone(r.Metadata)
	return &c, nil
}

// Version returns the current index version.
func (s *Store) Version(ctx context.Context) (string, error) {
	if err := s.lock.rlock(ctx); err != nil {
		return "", err
	}
	defer s.lock.runlock()
	return s.loadVersion()
}

// Stats reports vector counts and the current version.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	if err := s.lock.rlock(ctx); err != nil {
		return nil, err
	}
	st, err := s.load(true)
	s.lock.runlock()
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TotalVectors: len(st.matrix.rows),
		Dimension:    st.matrix.dimension,
		IndexVersion: st.version,
	}
	for _, r := range st.records {
		if !r.Deleted {
			stats.ActiveVectors++
		}
	}
	return stats, nil
}

// state is one consistent snapshot of the three files.
type state struct {
	matrix  *matrix
	records map[string]*Record
	version string
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// load reads the on-disk state. The vector matrix is skipped unless
// withVectors is set. Callers must hold the file lock.
func (s *Store) load(withVectors bool) (*state, error) {
	st := &state{}
	var err error

	if st.version, err = s.loadVersion(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path(MetadataFile))
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	if st.records, err = unmarshalRecords(data); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}

	if withVectors {
		if st.matrix, err = s.loadMatrix(); err != nil {
			return nil, err
		}
		for _, r := range st.records {
			if r.Position < 0 || r.Position >= len(st.matrix.rows) {
				return nil, fmt.Errorf("%w: chunk %s points at row %d of %d", ErrCorruptIndex, r.ChunkID, r.Position, len(st.matrix.rows))
			}
		}
	}
	return st, nil
}

func (s *Store) loadMatrix() (*matrix, error) {
	data, err := os.ReadFile(s.path(IndexFile))
	if err != nil {
		return nil, fmt.Errorf("read index: %w", err)
	}
	m, err := unmarshalMatrix(data)
	if err != nil {
		return nil, fmt.Errorf("decode index: %w", err)
	}
	return m, nil
}

func (s *Store) loadVersion() (string, error) {
	data, err := os.ReadFile(s.path(VersionFile))
	if err != nil {
		return "", fmt.Errorf("read version: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

// persist writes the snapshot through temp files renamed into place. The
// version marker is renamed last. Callers must hold the exclusive lock.
func (s *Store) persist(st *state, withVectors bool) error {
	if withVectors {
		if err := writeFileAtomic(s.dir, IndexFile, marshalMatrix(st.matrix)); err != nil {
			return err
		}
	}
	if err := writeFileAtomic(s.dir, MetadataFile, marshalRecords(st.records)); err != nil {
		return err
	}
	return writeFileAtomic(s.dir, VersionFile, []byte(st.version+"\n"))
}

func writeFileAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

// nextVersion turns "vN" into "vN+1".
func nextVersion(version string) (string, error) {
	n, err := ParseVersion(version)
	if err != nil {
		return "", err
	}
	return "v" + strconv.Itoa(n+1), nil
}

// ParseVersion returns the counter of a "vN" version string.
func ParseVersion(version string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(version, "v"))
	if err != nil || !strings.HasPrefix(version, "v") || n < 1 {
		return 0, fmt.Errorf("%w: bad version %q", ErrCorruptIndex, version)
	}
	return n, nil
}
