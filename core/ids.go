package core

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"io"
	"strings"

	"github.com/go-crypt/x/blake2b"
)

// docIDLength is the number of hex characters of the content hash used as doc_id.
const docIDLength = 16

// ContentHash returns the hex encoded sha256 of data.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashReader streams r through sha256 and returns the hex digest and the
// number of bytes read.
func HashReader(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// TextHash returns the hex encoded sha256 of the exact text.
func TextHash(text string) string {
	return ContentHash([]byte(text))
}

// DocIDFromHash derives a document id from the leading characters of its content hash.
func DocIDFromHash(contentHash string) string {
	if len(contentHash) <= docIDLength {
		return contentHash
	}
	return contentHash[:docIDLength]
}

// NormalizeText lowercases text and collapses whitespace runs to single spaces.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// NormalizedHash returns the dedup hash of text.
func NormalizedHash(text string) string {
	return TextHash(NormalizeText(text))
}

// ChunkID derives a deterministic chunk id from its document, position and
// exact text hash using BLAKE2b. Identical inputs always produce identical ids.
func ChunkID(docID string, order int, chunkHash string) string {
	h, _ := blake2b.New(16, nil) // 16 bytes = 128 bits
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(order))
	h.Write([]byte(docID))
	h.Write([]byte{0})
	h.Write(buf[:])
	h.Write([]byte(chunkHash))
	return hex.EncodeToString(h.Sum(nil))
}
