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


package storage

import (
	"fmt"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
	"github.com/poiesic/ragindex/core"
)

// Encoder writes MUS encoded fields into a preallocated buffer.
// Size the buffer with a Sizer that visits the same fields in the same order.
type Encoder struct {
	bs []byte
	n  int
}

// NewEncoder returns an Encoder writing into bs.
func NewEncoder(bs []byte) *Encoder {
	return &Encoder{bs: bs}
}

func (e *Encoder) String(v string)   { e.n += ord.String.Marshal(v, e.bs[e.n:]) }
func (e *Encoder) Bool(v bool)       { e.n += ord.Bool.Marshal(v, e.bs[e.n:]) }
func (e *Encoder) Int(v int)         { e.n += varint.Int.Marshal(v, e.bs[e.n:]) }
func (e *Encoder) Int64(v int64)     { e.n += varint.Int64.Marshal(v, e.bs[e.n:]) }
func (e *Encoder) Float32(v float32) { e.n += raw.Float32.Marshal(v, e.bs[e.n:]) }

// Time writes t as microseconds since the Unix epoch; the zero time is written as 0.
func (e *Encoder) Time(t time.Time) { e.Int64(timeToMicro(t)) }

// Strings writes a length prefixed string slice.
func (e *Encoder) Strings(vs []string) {
	e.Int(len(vs))
	for _, v := range vs {
		e.String(v)
	}
}

// StringMap writes a length prefixed map. Key order is not significant.
func (e *Encoder) StringMap(m map[string]string) {
	e.Int(len(m))
	for k, v := range m {
		e.String(k)
		e.String(v)
	}
}

// Len returns the number of bytes written so far.
func (e *Encoder) Len() int { return e.n }

// Sizer computes the encoded size of a sequence of fields.
type Sizer struct {
	n int
}

func (s *Sizer) String(v string)   { s.n += ord.String.Size(v) }
func (s *Sizer) Bool(v bool)       { s.n += ord.Bool.Size(v) }
func (s *Sizer) Int(v int)         { s.n += varint.Int.Size(v) }
func (s *Sizer) Int64(v int64)     { s.n += varint.Int64.Size(v) }
func (s *Sizer) Float32(v float32) { s.n += raw.Float32.Size(v) }
func (s *Sizer) Time(t time.Time)  { s.Int64(timeToMicro(t)) }

func (s *Sizer) Strings(vs []string) {
	s.Int(len(vs))
	for _, v := range vs {
		s.String(v)
	}
}

func (s *Sizer) StringMap(m map[string]string) {
	s.Int(len(m))
	for k, v := range m {
		s.String(k)
		s.String(v)
	}
}

// Size returns the accumulated size.
func (s *Sizer) Size() int { return s.n }

// Decoder reads MUS encoded fields. The first error sticks; subsequent reads
// return zero values and Err reports it.
type Decoder struct {
	bs  []byte
	n   int
	err error
}

// NewDecoder returns a Decoder reading from bs.
func NewDecoder(bs []byte) *Decoder {
	return &Decoder{bs: bs}
}

func (d *Decoder) String() (v string) {
	if d.err != nil {
		return
	}
	var n int
	v, n, d.err = ord.String.Unmarshal(d.bs[d.n:])
	d.n += n
	return
}

func (d *Decoder) Bool() (v bool) {
	if d.err != nil {
		return
	}
	var n int
	v, n, d.err = ord.Bool.Unmarshal(d.bs[d.n:])
	d.n += n
	return
}

func (d *Decoder) Int() (v int) {
	if d.err != nil {
		return
	}
	var n int
	v, n, d.err = varint.Int.Unmarshal(d.bs[d.n:])
	d.n += n
	return
}

func (d *Decoder) Int64() (v int64) {
	if d.err != nil {
		return
	}
	var n int
	v, n, d.err = varint.Int64.Unmarshal(d.bs[d.n:])
	d.n += n
	return
}

func (d *Decoder) Float32() (v float32) {
	if d.err != nil {
		return
	}
	var n int
	v, n, d.err = raw.Float32.Unmarshal(d.bs[d.n:])
	d.n += n
	return
}

func (d *Decoder) Time() time.Time {
	return microToTime(d.Int64())
}

// Length reads a collection length. Lengths larger than the remaining input
// are reported as ErrTruncatedData.
func (d *Decoder) Length() int {
	l := d.Int()
	if d.err == nil && (l < 0 || l > len(d.bs)-d.n) {
		d.err = fmt.Errorf("%w: length %d exceeds remaining %d bytes", ErrTruncatedData, l, len(d.bs)-d.n)
		return 0
	}
	return l
}

func (d *Decoder) Strings() []string {
	l := d.Length()
	if l == 0 {
		return nil
	}
	vs := make([]string, 0, l)
	for i := 0; i < l && d.err == nil; i++ {
		vs = append(vs, d.String())
	}
	return vs
}

func (d *Decoder) StringMap() map[string]string {
	l := d.Length()
	if l == 0 {
		return nil
	}
	m := make(map[string]string, l)
	for i := 0; i < l && d.err == nil; i++ {
		k := d.String()
		m[k] = d.String()
	}
	return m
}

// Err returns the first decoding error, wrapped with ErrSerializationFailed.
func (d *Decoder) Err() error {
	if d.err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrSerializationFailed, d.err)
}

// Offset returns the number of bytes consumed.
func (d *Decoder) Offset() int { return d.n }

func timeToMicro(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func microToTime(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMicro(v).UTC()
}

type documentVisitor interface {
	String(string)
	Bool(bool)
	Int(int)
	Int64(int64)
	Time(time.Time)
}

func visitDocument(doc *core.Document, w documentVisitor) {
	w.String(doc.ID)
	w.String(doc.Filename)
	w.String(doc.SourcePath)
	w.String(doc.ContentHash)
	w.Int64(doc.FileSize)
	w.String(doc.MimeType)
	w.String(string(doc.Status))
	w.Int64(doc.Version)
	w.Int(doc.ChunkCount)
	w.String(doc.EmbeddingModel)
	w.String(doc.IndexVersion)
	w.String(doc.ErrorMessage)
	w.Bool(doc.Retryable)
	w.Time(doc.CreatedAt)
	w.Time(doc.UpdatedAt)
}

// MarshalDocument serializes a Document to bytes.
func MarshalDocument(doc *core.Document) []byte {
	var s Sizer
	visitDocument(doc, &s)
	buf := make([]byte, s.Size())
	visitDocument(doc, NewEncoder(buf))
	return buf
}

// UnmarshalDocument deserializes a Document from bytes.
func UnmarshalDocument(data []byte) (*core.Document, error) {
	d := NewDecoder(data)
	doc := &core.Document{
		ID:             d.String(),
		Filename:       d.String(),
		SourcePath:     d.String(),
		ContentHash:    d.String(),
		FileSize:       d.Int64(),
		MimeType:       d.String(),
		Status:         core.DocumentStatus(d.String()),
		Version:        d.Int64(),
		ChunkCount:     d.Int(),
		EmbeddingModel: d.String(),
		IndexVersion:   d.String(),
		ErrorMessage:   d.String(),
		Retryable:      d.Bool(),
		CreatedAt:      d.Time(),
		UpdatedAt:      d.Time(),
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return doc, nil
}

// MarshalChunk serializes a Chunk to bytes.
func MarshalChunk(chunk *core.Chunk) []byte {
	var s Sizer
	visitChunk(chunk, &s)
	buf := make([]byte, s.Size())
	visitChunk(chunk, NewEncoder(buf))
	return buf
}

type chunkVisitor interface {
	String(string)
	Bool(bool)
	Int(int)
	StringMap(map[string]string)
}

func visitChunk(c *core.Chunk, w chunkVisitor) {
	w.String(c.ID)
	w.String(c.DocID)
	w.Int(c.Order)
	w.String(c.Text)
	w.String(c.ContentHash)
	w.String(c.ChunkHash)
	w.Bool(c.IsEmbedded)
	w.Bool(c.IsIndexed)
	w.String(c.EmbeddingModel)
	w.String(c.CanonicalID)
	w.StringMap(c.Metadata)
}

// UnmarshalChunk deserializes a Chunk from bytes.
func UnmarshalChunk(data []byte) (*core.Chunk, error) {
	d := NewDecoder(data)
	chunk := &core.Chunk{
		ID:             d.String(),
		DocID:          d.String(),
		Order:          d.Int(),
		Text:           d.String(),
		ContentHash:    d.String(),
		ChunkHash:      d.String(),
		IsEmbedded:     d.Bool(),
		IsIndexed:      d.Bool(),
		EmbeddingModel: d.String(),
		CanonicalID:    d.String(),
		Metadata:       d.StringMap(),
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return chunk, nil
}

type dedupVisitor interface {
	String(string)
	Strings([]string)
	Time(time.Time)
}

func visitDedupRecord(r *core.DedupRecord, w dedupVisitor) {
	w.String(r.Hash)
	w.String(r.CanonicalChunkID)
	w.String(r.OwnerDocID)
	w.String(r.Text)
	w.Strings(r.Contributors)
	w.Time(r.CreatedAt)
}

// MarshalDedupRecord serializes a DedupRecord to bytes.
func MarshalDedupRecord(record *core.DedupRecord) []byte {
	var s Sizer
	visitDedupRecord(record, &s)
	buf := make([]byte, s.Size())
	visitDedupRecord(record, NewEncoder(buf))
	return buf
}

// UnmarshalDedupRecord deserializes a DedupRecord from bytes.
func UnmarshalDedupRecord(data []byte) (*core.DedupRecord, error) {
	d := NewDecoder(data)
	record := &core.DedupRecord{
		Hash:             d.String(),
		CanonicalChunkID: d.String(),
		OwnerDocID:       d.String(),
		Text:             d.String(),
		Contributors:     d.Strings(),
		CreatedAt:        d.Time(),
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return record, nil
}
