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


// Package embedcache stores computed embeddings keyed by model and text so
// unchanged chunks are never embedded twice.
//
// The cache is an optimization. Every error it returns wraps
// core.ErrCacheUnavailable and callers are expected to treat it as a miss.
package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
)

// Cache is a persistent embedding cache. Entries are never mutated once written.
type Cache interface {
	// Get returns the vector cached for text under model. A miss returns
	// false and no error.
	Get(ctx context.Context, text, model string) ([]float32, bool, error)

	// Put stores vec and returns its cache key. Writing an existing key is a no-op.
	Put(ctx context.Context, text, model string, vec []float32) (string, error)

	// Stats reports the number of cached entries.
	Stats(ctx context.Context) (*Stats, error)

	// Clear evicts every entry for model, or all entries when model is empty.
	Clear(ctx context.Context, model string) (int64, error)

	// Close releases resources.
	Close() error
}

// Stats summarizes cache contents.
type Stats struct {
	Entries int
	ByModel map[string]int
}

// Key returns the cache key for text under model.
func Key(text, model string) string {
	sum := sha256.Sum256([]byte(model + ":" + text))
	return hex.EncodeToString(sum[:])
}

// Disabled returns a Cache that stores nothing and always misses.
func Disabled() Cache {
	return disabled{}
}

type disabled struct{}

func (disabled) Get(context.Context, string, string) ([]float32, bool, error) { return nil, false, nil }

func (disabled) Put(_ context.Context, text, model string, _ []float32) (string, error) {
	return Key(text, model), nil
}

func (disabled) Stats(context.Context) (*Stats, error) {
	return &Stats{ByModel: map[string]int{}}, nil
}

func (disabled) Clear(context.Context, string) (int64, error) { return 0, nil }
func (disabled) Close() error                                 { return nil }
