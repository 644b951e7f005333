package embedcache

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/poiesic/ragindex/core"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS embeddings (
    cache_key TEXT PRIMARY KEY,
    model TEXT NOT NULL,
    text_hash TEXT NOT NULL,
    dimension INTEGER NOT NULL,
    vector BLOB NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_embeddings_model ON embeddings(model);
`

// SQLiteCache is a Cache backed by a single SQLite database file.
type SQLiteCache struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Cache = (*SQLiteCache)(nil)

// Option configures a SQLiteCache.
type Option func(*SQLiteCache) error

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *SQLiteCache) error {
		if logger == nil {
			logger = slog.Default()
		}
		c.logger = logger
		return nil
	}
}

// Open opens or creates the cache database at dbPath.
func Open(dbPath string, opts ...Option) (*SQLiteCache, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create cache directory: %w", core.ErrCacheUnavailable, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", core.ErrCacheUnavailable, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: failed to create schema: %w", core.ErrCacheUnavailable, err)
	}

	c := &SQLiteCache{
		db:     db,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			db.Close()
			return nil, err
		}
	}
	c.logger = c.logger.With("component", "embedcache")
	return c, nil
}

// Get returns the cached vector for text under model. A missing or corrupt
// row is a miss, not an error.
func (c *SQLiteCache) Get(ctx context.Context, text, model string) ([]float32, bool, error) {
	var (
		dimension int
		blob      []byte
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT dimension, vector FROM embeddings WHERE cache_key = ?`,
		Key(text, model)).Scan(&dimension, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", core.ErrCacheUnavailable, err)
	}

	vec := decodeVector(blob)
	if len(vec) != dimension {
		// Corrupt row; treat as a miss so it gets recomputed
		c.logger.Warn("cached vector length mismatch",
			"model", model, "want", dimension, "got", len(vec))
		return nil, false, nil
	}
	return vec, true, nil
}

// Put stores vec and returns its cache key. The first vector stored for a
// key wins.
func (c *SQLiteCache) Put(ctx context.Context, text, model string, vec []float32) (string, error) {
	key := Key(text, model)
	_, err := c.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO embeddings (cache_key, model, text_hash, dimension, vector, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, key, model, core.TextHash(text), len(vec), encodeVector(vec), time.Now().UTC().Unix())
	if err != nil {
		return "", fmt.Errorf("%w: %w", core.ErrCacheUnavailable, err)
	}
	return key, nil
}

// Stats counts cached vectors per model.
func (c *SQLiteCache) Stats(ctx context.Context) (*Stats, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT model, COUNT(*) FROM embeddings GROUP BY model`)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrCacheUnavailable, err)
	}
	defer rows.Close()

	stats := &Stats{ByModel: make(map[string]int)}
	for rows.Next() {
		var (
			model string
			count int
		)
		if err := rows.Scan(&model, &count); err != nil {
			return nil, fmt.Errorf("%w: %w", core.ErrCacheUnavailable, err)
		}
		stats.ByModel[model] = count
		stats.Entries += count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrCacheUnavailable, err)
	}
	return stats, nil
}

// Clear removes the vectors of model, or every vector when model is empty,
// and returns the number removed.
func (c *SQLiteCache) Clear(ctx context.Context, model string) (int64, error) {
	var (
		result sql.Result
		err    error
	)
	if model == "" {
		result, err = c.db.ExecContext(ctx, `DELETE FROM embeddings`)
	} else {
		result, err = c.db.ExecContext(ctx, `DELETE FROM embeddings WHERE model = ?`, model)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %w", core.ErrCacheUnavailable, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", core.ErrCacheUnavailable, err)
	}
	c.logger.Info("cleared embedding cache", "model", model, "removed", n)
	return n, nil
}

// Close closes the database.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

// encodeVector converts a float32 slice to little-endian bytes.
func encodeVector(vector []float32) []byte {
	buf := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

// decodeVector converts little-endian bytes back to a float32 slice.
func decodeVector(data []byte) []float32 {
	vector := make([]float32, len(data)/4)
	for i := range vector {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vector
}
