package dedup

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/poiesic/ragindex/core"
)

// MemoryRegistry is a process-lifetime Registry.
type MemoryRegistry struct {
	mu      sync.Mutex
	records map[string]*core.DedupRecord
}

var _ Registry = (*MemoryRegistry)(nil)

// NewMemoryRegistry creates an empty MemoryRegistry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		records: make(map[string]*core.DedupRecord),
	}
}

func (r *MemoryRegistry) Claim(ctx context.Context, record *core.DedupRecord) (*core.DedupRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.records[record.Hash]
	if !ok {
		stored := *record
		stored.Contributors = []string{record.OwnerDocID}
		if stored.CreatedAt.IsZero() {
			stored.CreatedAt = time.Now().UTC()
		}
		r.records[record.Hash] = &stored
		return nil, nil
	}

	if !existing.HasContributor(record.OwnerDocID) {
		existing.Contributors = append(existing.Contributors, record.OwnerDocID)
	}
	return copyRecord(existing), nil
}

func (r *MemoryRegistry) Lookup(ctx context.Context, hash string) (*core.DedupRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.records[hash]
	if !ok {
		return nil, nil
	}
	return copyRecord(existing), nil
}

func (r *MemoryRegistry) Release(ctx context.Context, docID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for hash, record := range r.records {
		if !record.HasContributor(docID) {
			continue
		}
		record.Contributors = slices.DeleteFunc(record.Contributors, func(c string) bool {
			return c == docID
		})
		if len(record.Contributors) == 0 {
			delete(r.records, hash)
			removed++
			continue
		}
		if record.OwnerDocID == docID {
			record.OwnerDocID = record.Contributors[0]
		}
	}
	return removed, nil
}

func (r *MemoryRegistry) Count(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records), nil
}

func copyRecord(r *core.DedupRecord) *core.DedupRecord {
	c := *r
	c.Contributors = slices.Clone(r.Contributors)
	return &c
}
