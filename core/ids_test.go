package core

import (
	"strings"
	"testing"
)

func TestChunkID(t *testing.T) {
	tests := []struct {
		name     string
		docID    string
		order    int
		hash     string
		wantSame bool
	}{
		{
			name:     "same inputs produce same ID",
			docID:    "d1",
			order:    0,
			hash:     TextHash("hello world"),
			wantSame: true,
		},
		{
			name:     "empty hash",
			docID:    "d1",
			order:    3,
			hash:     "",
			wantSame: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id1 := ChunkID(tt.docID, tt.order, tt.hash)
			id2 := ChunkID(tt.docID, tt.order, tt.hash)

			if tt.wantSame && id1 != id2 {
				t.Errorf("ChunkID() produced different IDs for same input: %s vs %s", id1, id2)
			}
			if len(id1) != 32 {
				t.Errorf("ChunkID() length = %d, want 32", len(id1))
			}
		})
	}
}

func TestChunkID_Different(t *testing.T) {
	hash := TextHash("same text")
	base := ChunkID("d1", 0, hash)

	if base == ChunkID("d2", 0, hash) {
		t.Errorf("ChunkID() ignored doc id")
	}
	if base == ChunkID("d1", 1, hash) {
		t.Errorf("ChunkID() ignored order")
	}
	if base == ChunkID("d1", 0, TextHash("other text")) {
		t.Errorf("ChunkID() ignored chunk hash")
	}
}

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "lowercases", in: "Hello World", want: "hello world"},
		{name: "collapses whitespace", in: "a  \t b\n\nc", want: "a b c"},
		{name: "trims", in: "  padded  ", want: "padded"},
		{name: "empty", in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeText(tt.in); got != tt.want {
				t.Errorf("NormalizeText(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizedHash_IgnoresCaseAndSpacing(t *testing.T) {
	if NormalizedHash("The  Quick\nFox") != NormalizedHash("the quick fox") {
		t.Errorf("NormalizedHash() differs for texts equal after normalization")
	}
	if TextHash("The  Quick\nFox") == TextHash("the quick fox") {
		t.Errorf("TextHash() should be sensitive to exact text")
	}
}

func TestDocIDFromHash(t *testing.T) {
	hash := ContentHash([]byte("document bytes"))
	id := DocIDFromHash(hash)

	if len(id) != docIDLength {
		t.Errorf("DocIDFromHash() length = %d, want %d", len(id), docIDLength)
	}
	if !strings.HasPrefix(hash, id) {
		t.Errorf("DocIDFromHash() = %s is not a prefix of %s", id, hash)
	}
	if got := DocIDFromHash("abc"); got != "abc" {
		t.Errorf("DocIDFromHash(short) = %s, want abc", got)
	}
}
