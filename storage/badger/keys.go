package badger

import (
	"encoding/binary"
)

// Key prefixes for different data types. Every prefix is followed by ':' so
// that prefix scans never overlap.
const (
	documentPrefix   = "doc"
	chunkPrefix      = "chunk"
	chunkIndexPrefix = "chunkix"
	dedupPrefix      = "dedup"
	dedupDocPrefix   = "dedupdoc"
)

func prefixBytes(prefix string, parts ...string) []byte {
	size := len(prefix) + 1
	for _, p := range parts {
		size += len(p) + 1
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	buf = append(buf, ':')
	for _, p := range parts {
		buf = append(buf, p...)
		buf = append(buf, ':')
	}
	return buf
}

// makeDocumentKey generates a key for a document by ID.
// Format: doc:docID
func makeDocumentKey(docID string) []byte {
	return append([]byte(documentPrefix+":"), docID...)
}

// makeDocumentScanPrefix matches every document key.
func makeDocumentScanPrefix() []byte {
	return prefixBytes(documentPrefix)
}

// makeChunkKey generates a composite key for a chunk.
// Format: chunk:docID:order
func makeChunkKey(docID string, order int) []byte {
	buf := prefixBytes(chunkPrefix, docID)
	// Write in BigEndian order so lexicographic sort matches chunk order
	return binary.BigEndian.AppendUint64(buf, uint64(order))
}

// makeChunkScanPrefix matches every chunk of docID, or every chunk when docID is empty.
func makeChunkScanPrefix(docID string) []byte {
	if docID == "" {
		return prefixBytes(chunkPrefix)
	}
	return prefixBytes(chunkPrefix, docID)
}

// makeChunkIndexKey generates the lookup key mapping a chunk ID to its chunk key.
// Format: chunkix:chunkID
func makeChunkIndexKey(chunkID string) []byte {
	return append([]byte(chunkIndexPrefix+":"), chunkID...)
}

// makeDedupKey generates a key for a dedup record by normalized hash.
// Format: dedup:hash
func makeDedupKey(hash string) []byte {
	return append([]byte(dedupPrefix+":"), hash...)
}

// makeDedupScanPrefix matches every dedup record.
func makeDedupScanPrefix() []byte {
	return prefixBytes(dedupPrefix)
}

// makeDedupDocKey links a contributing document to a dedup record.
// Format: dedupdoc:docID:hash
func makeDedupDocKey(docID, hash string) []byte {
	return append(prefixBytes(dedupDocPrefix, docID), hash...)
}

// makeDedupDocScanPrefix matches every dedup link of docID.
func makeDedupDocScanPrefix(docID string) []byte {
	return prefixBytes(dedupDocPrefix, docID)
}
