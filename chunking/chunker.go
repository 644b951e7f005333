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


// Package chunking splits extracted text into deterministic, overlapping
// word windows.
package chunking

import (
	"fmt"
	"iter"
	"maps"
	"strconv"
	"strings"

	"github.com/poiesic/ragindex/core"
)

const (
	DefaultSize    = 512
	DefaultOverlap = 50
)

// Metadata keys written into every chunk.
const (
	MetaChunkSize = "chunk_size"
	MetaStartWord = "start_word"
	MetaEndWord   = "end_word"
)

// Chunker produces word windows of a fixed size.
type Chunker struct {
	size    int
	overlap int
}

// Option configures a Chunker.
type Option func(*Chunker) error

// WithSize sets the number of words per chunk.
func WithSize(size int) Option {
	return func(c *Chunker) error {
		c.size = size
		return nil
	}
}

// WithOverlap sets the number of words shared by consecutive chunks.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) error {
		c.overlap = overlap
		return nil
	}
}

// New creates a Chunker. Defaults are 512 words with an overlap of 50.
func New(opts ...Option) (*Chunker, error) {
	c := &Chunker{
		size:    DefaultSize,
		overlap: DefaultOverlap,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.size < 1 {
		return nil, fmt.Errorf("%w: size must be positive, got %d", ErrInvalidOptions, c.size)
	}
	if c.overlap < 0 || c.overlap >= c.size {
		return nil, fmt.Errorf("%w: overlap must be in [0, %d), got %d", ErrInvalidOptions, c.size, c.overlap)
	}
	return c, nil
}

// Size returns the configured window size.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk splits text into chunks numbered from 0.
func (c *Chunker) Chunk(text, docID string, metadata map[string]string) iter.Seq[core.Chunk] {
	return c.ChunkFrom(text, docID, 0, metadata)
}

// ChunkFrom splits text into chunks numbered from firstOrder, so that the
// pages of one document can share a contiguous order sequence.
//
// The returned sequence is lazy and can be ranged over any number of times
// with identical results.
func (c *Chunker) ChunkFrom(text, docID string, firstOrder int, metadata map[string]string) iter.Seq[core.Chunk] {
	return func(yield func(core.Chunk) bool) {
		words := strings.Fields(text)
		if len(words) == 0 {
			return
		}

		step := c.size - c.overlap
		order := firstOrder
		for start := 0; ; start += step {
			end := min(start+c.size, len(words))
			if !yield(c.makeChunk(words[start:end], docID, order, start, end, metadata)) {
				return
			}
			if end >= len(words) {
				return
			}
			order++
		}
	}
}

func (c *Chunker) makeChunk(words []string, docID string, order, start, end int, metadata map[string]string) core.Chunk {
	text := strings.Join(words, " ")
	chunkHash := core.TextHash(text)

	meta := make(map[string]string, len(metadata)+3)
	maps.Copy(meta, metadata)
	meta[MetaChunkSize] = strconv.Itoa(len(words))
	meta[MetaStartWord] = strconv.Itoa(start)
	meta[MetaEndWord] = strconv.Itoa(end)

	return core.Chunk{
		ID:          core.ChunkID(docID, order, chunkHash),
		DocID:       docID,
		Order:       order,
		Text:        text,
		ContentHash: core.NormalizedHash(text),
		ChunkHash:   chunkHash,
		Metadata:    meta,
	}
}

// Collect drains a chunk sequence into a slice of pointers.
func Collect(seq iter.Seq[core.Chunk]) []*core.Chunk {
	var chunks []*core.Chunk
	for c := range seq {
		chunks = append(chunks, &c)
	}
	return chunks
}
