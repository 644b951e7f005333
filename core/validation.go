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

import "fmt"

// ValidateDocument validates the identity fields of a Document.
//
// Validation rules:
//   - ID must not be empty
//   - ContentHash must not be empty
//   - Status must be a known value
//
// NOT validated (populated by the pipeline):
//   - ChunkCount, EmbeddingModel, IndexVersion
func ValidateDocument(doc *Document) error {
	if doc == nil {
		return fmt.Errorf("%w: document is nil", ErrInvalidDocument)
	}
	if doc.ID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrEmptyDocID)
	}
	if doc.ContentHash == "" {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrEmptyContentHash)
	}
	if !doc.Status.Valid() {
		return fmt.Errorf("%w: %w", ErrInvalidDocument, ErrInvalidStatus)
	}
	return nil
}

// ValidateTransition checks a status change requested through the ledger's
// UpdateStatus path. Returning to Pending is not legal here; it only happens
// through re-registration with a changed hash or an explicit reset.
func ValidateTransition(from, to DocumentStatus) error {
	if !to.Valid() {
		return ErrInvalidStatus
	}
	switch {
	case from == StatusPending && to == StatusProcessing:
		return nil
	case from == StatusProcessing && to.Terminal():
		return nil
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}

// ValidateStatusError checks that an error message accompanies only StatusFailed.
func ValidateStatusError(status DocumentStatus, errMsg string) error {
	if errMsg != "" && status != StatusFailed {
		return fmt.Errorf("%w: error message only valid with %s", ErrInvalidTransition, StatusFailed)
	}
	return nil
}

// ValidateChunkOrder checks that chunk orders form 0..n-1 in sequence.
func ValidateChunkOrder(chunks []*Chunk) error {
	for i, c := range chunks {
		if c.Order != i {
			return fmt.Errorf("%w: chunk %d has order %d", ErrConstraintViolation, i, c.Order)
		}
	}
	return nil
}
