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
	"fmt"
	"slices"

	"github.com/poiesic/ragindex/core"
	"github.com/poiesic/ragindex/storage"
)

// Kind names the documents a Selector picks.
type Kind string

const (
	KindRetryable  Kind = "retryable"
	KindFailed     Kind = "failed"
	KindStaleModel Kind = "stale-model"
	KindDocuments  Kind = "documents"
)

// Selector chooses ledger documents to reindex.
type Selector struct {
	Kind   Kind
	Model  string   // Current embedding model, for KindStaleModel
	DocIDs []string // For KindDocuments
}

// Retryable selects failed documents whose failure was transient.
func Retryable() Selector { return Selector{Kind: KindRetryable} }

// Failed selects every failed document.
func Failed() Selector { return Selector{Kind: KindFailed} }

// StaleModel selects completed documents embedded with a model other than model.
func StaleModel(model string) Selector { return Selector{Kind: KindStaleModel, Model: model} }

// Documents selects the given documents regardless of status.
func Documents(ids ...string) Selector { return Selector{Kind: KindDocuments, DocIDs: ids} }

// Select returns the matching documents.
func (s Selector) Select(ctx context.Context, ledger storage.LedgerRepository) ([]*core.Document, error) {
	switch s.Kind {
	case KindRetryable, KindFailed:
		docs, err := ledger.List(ctx, core.StatusFailed)
		if err != nil {
			return nil, err
		}
		if s.Kind == KindRetryable {
			docs = slices.DeleteFunc(docs, func(d *core.Document) bool { return !d.Retryable })
		}
		return docs, nil

	case KindStaleModel:
		if s.Model == "" {
			return nil, fmt.Errorf("%w: model required", ErrInvalidSelector)
		}
		docs, err := ledger.List(ctx, core.StatusCompleted)
		if err != nil {
			return nil, err
		}
		return slices.DeleteFunc(docs, func(d *core.Document) bool { return d.EmbeddingModel == s.Model }), nil

	case KindDocuments:
		docs := make([]*core.Document, 0, len(s.DocIDs))
		for _, id := range s.DocIDs {
			doc, err := ledger.GetStatus(ctx, id)
			if err != nil {
				return nil, err
			}
			if doc == nil {
				return nil, fmt.Errorf("document %s: %w", id, storage.ErrNotFound)
			}
			docs = append(docs, doc)
		}
		return docs, nil
	}
	return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidSelector, s.Kind)
}
