package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestValidateDocument(t *testing.T) {
	tests := []struct {
		name    string
		doc     *Document
		wantErr error
	}{
		{
			name:    "valid document",
			doc:     &Document{ID: "d1", ContentHash: "h1", Status: StatusPending},
			wantErr: nil,
		},
		{
			name:    "nil document",
			doc:     nil,
			wantErr: ErrInvalidDocument,
		},
		{
			name:    "empty id",
			doc:     &Document{ContentHash: "h1", Status: StatusPending},
			wantErr: ErrEmptyDocID,
		},
		{
			name:    "empty hash",
			doc:     &Document{ID: "d1", Status: StatusPending},
			wantErr: ErrEmptyContentHash,
		},
		{
			name:    "unknown status",
			doc:     &Document{ID: "d1", ContentHash: "h1", Status: "archived"},
			wantErr: ErrInvalidStatus,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateDocument(tt.doc)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateDocument() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateDocument() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from  DocumentStatus
		to    DocumentStatus
		legal bool
	}{
		{StatusPending, StatusProcessing, true},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusFailed, false},
		{StatusCompleted, StatusPending, false},
		{StatusFailed, StatusPending, false},
		{StatusCompleted, StatusProcessing, false},
		{StatusProcessing, StatusPending, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s to %s", tt.from, tt.to), func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.legal && err != nil {
				t.Errorf("ValidateTransition() unexpected error = %v", err)
			}
			if !tt.legal && !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("ValidateTransition() error = %v, want ErrInvalidTransition", err)
			}
		})
	}
}

func TestValidateStatusError(t *testing.T) {
	if err := ValidateStatusError(StatusFailed, "boom"); err != nil {
		t.Errorf("ValidateStatusError(failed) unexpected error = %v", err)
	}
	if err := ValidateStatusError(StatusCompleted, ""); err != nil {
		t.Errorf("ValidateStatusError(completed, empty) unexpected error = %v", err)
	}
	if err := ValidateStatusError(StatusCompleted, "boom"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("ValidateStatusError(completed, boom) error = %v, want ErrInvalidTransition", err)
	}
}

func TestValidateChunkOrder(t *testing.T) {
	contiguous := []*Chunk{{Order: 0}, {Order: 1}, {Order: 2}}
	if err := ValidateChunkOrder(contiguous); err != nil {
		t.Errorf("ValidateChunkOrder() unexpected error = %v", err)
	}

	gap := []*Chunk{{Order: 0}, {Order: 2}}
	if err := ValidateChunkOrder(gap); !errors.Is(err, ErrConstraintViolation) {
		t.Errorf("ValidateChunkOrder(gap) error = %v, want ErrConstraintViolation", err)
	}

	if err := ValidateChunkOrder(nil); err != nil {
		t.Errorf("ValidateChunkOrder(nil) unexpected error = %v", err)
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(fmt.Errorf("upsert: %w", ErrLockTimeout)) {
		t.Errorf("IsRetryable(lock timeout) = false")
	}
	if !IsRetryable(ErrEmbeddingTimeout) {
		t.Errorf("IsRetryable(embedding timeout) = false")
	}
	if IsRetryable(ErrDimensionMismatch) {
		t.Errorf("IsRetryable(dimension mismatch) = true")
	}
	if IsRetryable(nil) {
		t.Errorf("IsRetryable(nil) = true")
	}
}
