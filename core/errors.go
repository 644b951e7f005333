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


package core

import "errors"

// Error kinds shared by every stage of ingestion.
var (
	// ErrExtractionFailed indicates the extractor failed or produced no text.
	ErrExtractionFailed = errors.New("extraction failed")

	// ErrDimensionMismatch indicates a vector length differs from the configured dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrLockTimeout indicates the vector store lock could not be acquired in time.
	ErrLockTimeout = errors.New("index lock timeout")

	// ErrEmbeddingTimeout indicates the embedder did not answer within its deadline.
	ErrEmbeddingTimeout = errors.New("embedding timeout")

	// ErrCacheUnavailable indicates the embedding cache could not be read or written.
	ErrCacheUnavailable = errors.New("embedding cache unavailable")

	// ErrConstraintViolation indicates a ledger invariant would be broken.
	ErrConstraintViolation = errors.New("ledger constraint violation")
)

// Domain validation errors
var (
	// ErrInvalidDocument indicates a Document failed validation.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrInvalidStatus indicates an unknown DocumentStatus value.
	ErrInvalidStatus = errors.New("invalid document status")

	// ErrInvalidTransition indicates an illegal status change.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrEmptyDocID indicates the document id is empty.
	ErrEmptyDocID = errors.New("doc id cannot be empty")

	// ErrEmptyContentHash indicates the content hash is empty.
	ErrEmptyContentHash = errors.New("content hash cannot be empty")
)

// IsRetryable reports whether err is a transient failure worth another attempt.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout) || errors.Is(err, ErrEmbeddingTimeout)
}
