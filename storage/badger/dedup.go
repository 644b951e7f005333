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
	"bytes"
	"context"
	"errors"
	"slices"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/ragindex/core"
	"github.com/poiesic/ragindex/storage"
)

// DedupRepository implements storage.DedupRepository for BadgerDB. Records
// live next to the ledger so the registry survives restarts.
type DedupRepository struct {
	backend *Backend
}

var _ storage.DedupRepository = (*DedupRepository)(nil)

// NewDedupRepository creates a new DedupRepository.
func NewDedupRepository(backend *Backend) *DedupRepository {
	return &DedupRepository{
		backend: backend,
	}
}

// Claim registers record as canonical or merges its owner into the existing record.
func (r *DedupRepository) Claim(ctx context.Context, record *core.DedupRecord) (*core.DedupRecord, error) {
	var existing *core.DedupRecord
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		key := makeDedupKey(record.Hash)
		var err error
		existing, err = readDedupRecord(tx, key)
		if err != nil {
			return err
		}

		if existing == nil {
			stored := *record
			stored.Contributors = []string{record.OwnerDocID}
			if stored.CreatedAt.IsZero() {
				stored.CreatedAt = time.Now().UTC()
			}
			if err := tx.Set(key, storage.MarshalDedupRecord(&stored)); err != nil {
				return err
			}
			return tx.Set(makeDedupDocKey(record.OwnerDocID, record.Hash), []byte{})
		}

		if existing.HasContributor(record.OwnerDocID) {
			return nil
		}
		existing.Contributors = append(existing.Contributors, record.OwnerDocID)
		if err := tx.Set(key, storage.MarshalDedupRecord(existing)); err != nil {
			return err
		}
		return tx.Set(makeDedupDocKey(record.OwnerDocID, record.Hash), []byte{})
	})
	if err != nil {
		return nil, err
	}
	return existing, nil
}

// Lookup returns the record for hash, or nil if none exists.
func (r *DedupRepository) Lookup(ctx context.Context, hash string) (*core.DedupRecord, error) {
	var result *core.DedupRecord
	err := r.backend.View(func(tx *badger.Txn) error {
		var err error
		result, err = readDedupRecord(tx, makeDedupKey(hash))
		return err
	})
	return result, err
}

// Release withdraws docID from every record it contributed to. A record whose
// owner is released keeps its canonical chunk while other contributors remain,
// and ownership passes to the earliest remaining contributor.
func (r *DedupRepository) Release(ctx context.Context, docID string) (int, error) {
	var removed int
	err := r.backend.Update(ctx, func(tx *badger.Txn) error {
		removed = 0
		prefix := makeDedupDocScanPrefix(docID)
		var links [][]byte
		if err := scanPrefix(tx, prefix, true, func(key []byte, _ *badger.Item) error {
			links = append(links, key)
			return nil
		}); err != nil {
			return err
		}

		for _, link := range links {
			hash := string(bytes.TrimPrefix(link, prefix))
			key := makeDedupKey(hash)
			record, err := readDedupRecord(tx, key)
			if err != nil {
				return err
			}
			if err := tx.Delete(link); err != nil {
				return err
			}
			if record == nil {
				continue
			}

			record.Contributors = slices.DeleteFunc(record.Contributors, func(c string) bool {
				return c == docID
			})
			if len(record.Contributors) == 0 {
				if err := tx.Delete(key); err != nil {
					return err
				}
				removed++
				continue
			}
			if record.OwnerDocID == docID {
				record.OwnerDocID = record.Contributors[0]
			}
			if err := tx.Set(key, storage.MarshalDedupRecord(record)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// Count returns the number of canonical records.
func (r *DedupRepository) Count(ctx context.Context) (int, error) {
	var count int
	err := r.backend.View(func(tx *badger.Txn) error {
		return scanPrefix(tx, makeDedupScanPrefix(), true, func(_ []byte, _ *badger.Item) error {
			count++
			return nil
		})
	})
	return count, err
}

// readDedupRecord reads a dedup record from a transaction. Returns nil, nil if not found.
func readDedupRecord(tx *badger.Txn, key []byte) (*core.DedupRecord, error) {
	item, err := tx.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var record *core.DedupRecord
	err = item.Value(func(val []byte) error {
		var err error
		record, err = storage.UnmarshalDedupRecord(val)
		return err
	})
	return record, err
}
