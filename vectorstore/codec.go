package vectorstore

import (
	"fmt"
	"slices"
	"time"

	"github.com/poiesic/ragindex/storage"
)

// Record is the metadata entry stored for one chunk.
type Record struct {
	ChunkID   string
	Position  int
	Deleted   bool
	AddedAt   time.Time
	DeletedAt time.Time
	Metadata  map[string]string
}

// matrix holds every vector ever appended. Rows are never removed or reused.
type matrix struct {
	dimension int
	rows      [][]float32
}

type matrixVisitor interface {
	Int(int)
	Float32(float32)
}

func visitMatrix(m *matrix, w matrixVisitor) {
	w.Int(m.dimension)
	w.Int(len(m.rows))
	for _, row := range m.rows {
		for _, v := range row {
			w.Float32(v)
		}
	}
}

func marshalMatrix(m *matrix) []byte {
	var s storage.Sizer
	visitMatrix(m, &s)
	buf := make([]byte, s.Size())
	visitMatrix(m, storage.NewEncoder(buf))
	return buf
}

func unmarshalMatrix(data []byte) (*matrix, error) {
	d := storage.NewDecoder(data)
	m := &matrix{dimension: d.Int()}
	count := d.Int()
	if err := d.Err(); err != nil {
		return nil, err
	}
	if m.dimension <= 0 || count < 0 || count*m.dimension*4 > len(data)-d.Offset() {
		return nil, fmt.Errorf("%w: header claims %d rows of dimension %d", ErrCorruptIndex, count, m.dimension)
	}

	m.rows = make([][]float32, count)
	for i := range m.rows {
		row := make([]float32, m.dimension)
		for j := range row {
			row[j] = d.Float32()
		}
		m.rows[i] = row
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return m, nil
}

type recordVisitor interface {
	String(string)
	Int(int)
	Bool(bool)
	Time(time.Time)
	StringMap(map[string]string)
}

func visitRecord(r *Record, w recordVisitor) {
	w.String(r.ChunkID)
	w.Int(r.Position)
	w.Bool(r.Deleted)
	w.Time(r.AddedAt)
	w.Time(r.DeletedAt)
	w.StringMap(r.Metadata)
}

// marshalRecords writes records sorted by chunk id so identical maps
// produce identical files.
func marshalRecords(records map[string]*Record) []byte {
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var s storage.Sizer
	s.Int(len(ids))
	for _, id := range ids {
		visitRecord(records[id], &s)
	}

	buf := make([]byte, s.Size())
	e := storage.NewEncoder(buf)
	e.Int(len(ids))
	for _, id := range ids {
		visitRecord(records[id], e)
	}
	return buf
}

func unmarshalRecords(data []byte) (map[string]*Record, error) {
	d := storage.NewDecoder(data)
	count := d.Length()
	records := make(map[string]*Record, count)
	for i := 0; i < count && d.Err() == nil; i++ {
		r := &Record{
			ChunkID:   d.String(),
			Position:  d.Int(),
			Deleted:   d.Bool(),
			AddedAt:   d.Time(),
			DeletedAt: d.Time(),
			Metadata:  d.StringMap(),
		}
		records[r.ChunkID] = r
	}
	if err := d.Err(); err != nil {
		return nil, err
	}
	return records, nil
}
