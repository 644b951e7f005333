package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/ragindex/core"
	"github.com/poiesic/ragindex/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLedger(t *testing.T) *LedgerRepository {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	ledger, err := NewLedgerRepository(backend)
	require.NoError(t, err)
	return ledger
}

func testChunks(docID string, n int) []*core.Chunk {
	chunks := make([]*core.Chunk, n)
	for i := range chunks {
		text := fmt.Sprintf("chunk %d of %s", i, docID)
		hash := core.TextHash(text)
		chunks[i] = &core.Chunk{
			ID:          core.ChunkID(docID, i, hash),
			DocID:       docID,
			Order:       i,
			Text:        text,
			ContentHash: core.NormalizedHash(text),
			ChunkHash:   hash,
		}
	}
	return chunks
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	ledger := setupTestLedger(t)

	t.Run("new document starts pending at version 1", func(t *testing.T) {
		res, err := ledger.Register(ctx, storage.RegisterRequest{DocID: "d1", Filename: "a.txt", ContentHash: "h1", FileSize: 10})
		require.NoError(t, err)
		assert.True(t, res.IsNew)
		assert.Equal(t, core.StatusPending, res.Document.Status)
		assert.Equal(t, int64(1), res.Document.Version)
		assert.False(t, res.Document.CreatedAt.IsZero())
	})

	t.Run("same hash is a no-op", func(t *testing.T) {
		res, err := ledger.Register(ctx, storage.RegisterRequest{DocID: "d1", Filename: "a.txt", ContentHash: "h1"})
		require.NoError(t, err)
		assert.False(t, res.IsNew)
		assert.Equal(t, int64(1), res.Document.Version)
	})

	t.Run("changed hash bumps version and resets status", func(t *testing.T) {
		require.NoError(t, ledger.UpdateStatus(ctx, "d1", core.StatusProcessing, nil))
		require.NoError(t, ledger.UpdateStatus(ctx, "d1", core.StatusFailed, errors.New("boom")))

		res, err := ledger.Register(ctx, storage.RegisterRequest{DocID: "d1", Filename: "a.txt", ContentHash: "h2"})
		require.NoError(t, err)
		assert.True(t, res.IsNew)
		assert.Equal(t, int64(2), res.Document.Version)
		assert.Equal(t, core.StatusPending, res.Document.Status)
		assert.Empty(t, res.Document.ErrorMessage)

		res, err = ledger.Register(ctx, storage.RegisterRequest{DocID: "d1", Filename: "a.txt", ContentHash: "h1"})
		require.NoError(t, err)
		assert.Equal(t, int64(3), res.Document.Version, "version never goes back")
	})

	t.Run("rejects missing identity", func(t *testing.T) {
		_, err := ledger.Register(ctx, storage.RegisterRequest{ContentHash: "h"})
		assert.ErrorIs(t, err, core.ErrEmptyDocID)
		_, err = ledger.Register(ctx, storage.RegisterRequest{DocID: "d9"})
		assert.ErrorIs(t, err, core.ErrEmptyContentHash)
	})
}

func TestRegister_ConcurrentSameDocument(t *testing.T) {
	ctx := context.Background()
	ledger := setupTestLedger(t)

	const workers = 8
	var wg sync.WaitGroup
	results := make([]*storage.RegisterResult, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = ledger.Register(ctx, storage.RegisterRequest{DocID: "race", ContentHash: "h"})
		}(i)
	}
	wg.Wait()

	newCount := 0
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		if results[i].IsNew {
			newCount++
		}
	}
	assert.Equal(t, 1, newCount, "exactly one registration inserts")

	doc, err := ledger.GetStatus(ctx, "race")
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Version)
}

func TestUpdateStatus(t *testing.T) {
	ctx := context.Background()
	ledger := setupTestLedger(t)
	_, err := ledger.Register(ctx, storage.RegisterRequest{DocID: "d1", ContentHash: "h1"})
	require.NoError(t, err)

	t.Run("pending cannot complete directly", func(t *testing.T) {
		err := ledger.UpdateStatus(ctx, "d1", core.StatusCompleted, nil)
		assert.ErrorIs(t, err, core.ErrInvalidTransition)
	})

	t.Run("error only valid with failed", func(t *testing.T) {
		require.NoError(t, ledger.UpdateStatus(ctx, "d1", core.StatusProcessing, nil))
		err := ledger.UpdateStatus(ctx, "d1", core.StatusCompleted, errors.New("oops"))
		assert.ErrorIs(t, err, core.ErrInvalidTransition)
	})

	t.Run("failed stores message and retryability", func(t *testing.T) {
		cause := fmt.Errorf("upsert: %w", core.ErrLockTimeout)
		require.NoError(t, ledger.UpdateStatus(ctx, "d1", core.StatusFailed, cause))

		doc, err := ledger.GetStatus(ctx, "d1")
		require.NoError(t, err)
		assert.Equal(t, core.StatusFailed, doc.Status)
		assert.Equal(t, cause.Error(), doc.ErrorMessage)
		assert.True(t, doc.Retryable)
	})

	t.Run("failed cannot go back to pending through update", func(t *testing.T) {
		err := ledger.UpdateStatus(ctx, "d1", core.StatusPending, nil)
		assert.ErrorIs(t, err, core.ErrInvalidTransition)
	})

	t.Run("unknown document", func(t *testing.T) {
		err := ledger.UpdateStatus(ctx, "nope", core.StatusProcessing, nil)
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestReclaimAndReset(t *testing.T) {
	ctx := context.Background()
	ledger := setupTestLedger(t)
	_, err := ledger.Register(ctx, storage.RegisterRequest{DocID: "d1", ContentHash: "h1"})
	require.NoError(t, err)

	ok, err := ledger.Reclaim(ctx, "d1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "pending documents are not reclaimed")

	require.NoError(t, ledger.UpdateStatus(ctx, "d1", core.StatusProcessing, nil))

	ok, err = ledger.Reclaim(ctx, "d1", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.False(t, ok, "fresh runs are not reclaimed")

	ok, err = ledger.Reclaim(ctx, "d1", time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, ledger.UpdateStatus(ctx, "d1", core.StatusCompleted, nil))
	require.NoError(t, ledger.Reset(ctx, "d1"))

	doc, err := ledger.GetStatus(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, core.StatusPending, doc.Status)
	assert.Equal(t, int64(1), doc.Version)

	assert.ErrorIs(t, ledger.Reset(ctx, "nope"), storage.ErrNotFound)
}

func TestRecordChunks(t *testing.T) {
	ctx := context.Background()
	ledger := setupTestLedger(t)
	_, err := ledger.Register(ctx, storage.RegisterRequest{DocID: "d1", ContentHash: "h1"})
	require.NoError(t, err)

	require.NoError(t, ledger.RecordChunks(ctx, "d1", testChunks("d1", 4)))

	doc, err := ledger.GetStatus(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 4, doc.ChunkCount)

	chunks, err := ledger.Chunks(ctx, "d1")
	require.NoError(t, err)
	require.Len(t, chunks, 4)
	for i, c := range chunks {
		assert.Equal(t, i, c.Order)
	}

	t.Run("replaces prior chunk set", func(t *testing.T) {
		require.NoError(t, ledger.RecordChunks(ctx, "d1", testChunks("d1", 2)))

		chunks, err := ledger.Chunks(ctx, "d1")
		require.NoError(t, err)
		assert.Len(t, chunks, 2)

		doc, err := ledger.GetStatus(ctx, "d1")
		require.NoError(t, err)
		assert.Equal(t, 2, doc.ChunkCount)
	})

	t.Run("rejects non-contiguous orders", func(t *testing.T) {
		chunks := testChunks("d1", 3)
		chunks[2].Order = 5
		err := ledger.RecordChunks(ctx, "d1", chunks)
		assert.ErrorIs(t, err, core.ErrConstraintViolation)
	})

	t.Run("rejects foreign chunks", func(t *testing.T) {
		err := ledger.RecordChunks(ctx, "d1", testChunks("d2", 1))
		assert.ErrorIs(t, err, core.ErrConstraintViolation)
	})

	t.Run("unknown document", func(t *testing.T) {
		err := ledger.RecordChunks(ctx, "nope", testChunks("nope", 1))
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})
}

func TestMarkEmbeddedAndIndexed(t *testing.T) {
	ctx := context.Background()
	ledger := setupTestLedger(t)
	_, err := ledger.Register(ctx, storage.RegisterRequest{DocID: "d1", ContentHash: "h1"})
	require.NoError(t, err)
	chunks := testChunks("d1", 3)
	require.NoError(t, ledger.RecordChunks(ctx, "d1", chunks))

	ids := []string{chunks[0].ID, chunks[1].ID, "unknown-chunk"}
	require.NoError(t, ledger.MarkEmbedded(ctx, ids, "embeddinggemma"))
	require.NoError(t, ledger.MarkIndexed(ctx, "d1", ids[:1], "v2"))

	doc, err := ledger.GetStatus(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, "embeddinggemma", doc.EmbeddingModel)
	assert.Equal(t, "v2", doc.IndexVersion)

	stored, err := ledger.Chunks(ctx, "d1")
	require.NoError(t, err)
	assert.True(t, stored[0].IsEmbedded)
	assert.True(t, stored[0].IsIndexed)
	assert.Equal(t, "embeddinggemma", stored[0].EmbeddingModel)
	assert.True(t, stored[1].IsEmbedded)
	assert.False(t, stored[1].IsIndexed)
	assert.False(t, stored[2].IsEmbedded)

	stats, err := ledger.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalChunks)
	assert.Equal(t, 2, stats.EmbeddedChunks)
	assert.InDelta(t, 2.0/3.0, stats.EmbeddingProgress, 1e-9)
}

func TestListAndStats(t *testing.T) {
	ctx := context.Background()
	ledger := setupTestLedger(t)

	for _, id := range []string{"a", "b", "c"} {
		_, err := ledger.Register(ctx, storage.RegisterRequest{DocID: id, ContentHash: "h-" + id})
		require.NoError(t, err)
	}
	require.NoError(t, ledger.UpdateStatus(ctx, "b", core.StatusProcessing, nil))
	require.NoError(t, ledger.UpdateStatus(ctx, "b", core.StatusCompleted, nil))

	all, err := ledger.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "b", all[0].ID, "most recently updated first")

	pending, err := ledger.List(ctx, core.StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	_, err = ledger.List(ctx, "bogus")
	assert.ErrorIs(t, err, core.ErrInvalidStatus)

	stats, err := ledger.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalDocuments)
	assert.Equal(t, 2, stats.ByStatus[core.StatusPending])
	assert.Equal(t, 1, stats.ByStatus[core.StatusCompleted])
	assert.Zero(t, stats.EmbeddingProgress)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	ledger := setupTestLedger(t)
	_, err := ledger.Register(ctx, storage.RegisterRequest{DocID: "d1", ContentHash: "h1"})
	require.NoError(t, err)
	chunks := testChunks("d1", 2)
	require.NoError(t, ledger.RecordChunks(ctx, "d1", chunks))

	require.NoError(t, ledger.Delete(ctx, "d1"))

	doc, err := ledger.GetStatus(ctx, "d1")
	require.NoError(t, err)
	assert.Nil(t, doc)

	remaining, err := ledger.Chunks(ctx, "d1")
	require.NoError(t, err)
	assert.Empty(t, remaining)

	// Chunk index entries are gone too, so marking is a no-op
	require.NoError(t, ledger.MarkEmbedded(ctx, []string{chunks[0].ID}, "m"))

	assert.ErrorIs(t, ledger.Delete(ctx, "d1"), storage.ErrNotFound)
}

func TestGetStatus_Unknown(t *testing.T) {
	ledger := setupTestLedger(t)
	doc, err := ledger.GetStatus(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, doc)
}
