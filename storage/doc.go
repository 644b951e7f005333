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


// Package storage provides the storage abstraction layer for ragindex.
//
// This package defines the repository interfaces used by ingestion, the
// binary record codecs shared by every backend, and the errors backends
// report. Concrete implementations live in subpackages.
//
// # Architecture
//
//   - LedgerRepository: documents, versions, statuses and chunk sets. It is
//     the only component allowed to decide that a document is done.
//   - DedupRepository: canonical chunk records keyed by normalized text hash.
//
// # Serialization
//
// Records are encoded with MUS (github.com/mus-format/mus-go). Encoder, Sizer
// and Decoder visit fields in a fixed order; changing the order of fields in a
// visit function changes the on-disk format.
//
// # Usage
//
//	backend, err := badger.OpenBackend("/path/to/ledger", false)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer backend.Close()
//
//	ledger := badger.NewLedgerRepository(backend)
//	res, err := ledger.Register(ctx, storage.RegisterRequest{DocID: id, ContentHash: hash})
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
//
// # Context Support
//
// All repository methods accept context.Context for cancellation
// and timeout support.
package storage
