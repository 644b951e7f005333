package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/poiesic/ragindex/core"
)

// embed returns one vector per chunk, serving repeats from the cache and
// sending misses to the embedder in batches. Cache failures degrade to misses.
func (p *Pipeline) embed(ctx context.Context, chunks []*core.Chunk, res *Result, logger *slog.Logger) ([][]float32, error) {
	model := p.embedder.Model()
	dim := p.index.Dimension()
	vectors := make([][]float32, len(chunks))

	var missing []int
	cacheOK := true
	for i, c := range chunks {
		if !cacheOK {
			missing = append(missing, i)
			continue
		}
		vec, found, err := p.cache.Get(ctx, c.Text, model)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			logger.Warn("embedding cache read failed, computing instead", "err", err)
			cacheOK = false
		}
		if found && len(vec) == dim {
			vectors[i] = vec
			continue
		}
		missing = append(missing, i)
	}
	res.setCacheStats(len(chunks)-len(missing), len(missing))

	for start := 0; start < len(missing); start += p.batchSize {
		end := min(start+p.batchSize, len(missing))
		batch := missing[start:end]
		texts := make([]string, len(batch))
		for j, idx := range batch {
			texts[j] = chunks[idx].Text
		}

		out, err := p.embedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		if len(out) != len(texts) {
			return nil, fmt.Errorf("embedding result mismatch. expected %d, received %d", len(texts), len(out))
		}

		for j, idx := range batch {
			if len(out[j]) != dim {
				return nil, fmt.Errorf("%w: model %s returned dimension %d for chunk %s, expected %d",
					core.ErrDimensionMismatch, model, len(out[j]), chunks[idx].ID, dim)
			}
			vectors[idx] = out[j]
		}

		if !cacheOK {
			continue
		}
		for j, idx := range batch {
			if _, err := p.cache.Put(ctx, chunks[idx].Text, model, out[j]); err != nil {
				logger.Warn("embedding cache write failed", "err", err)
				cacheOK = false
				break
			}
		}
	}
	return vectors, nil
}

// embedBatch calls the embedder under the configured timeout.
func (p *Pipeline) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	embedCtx, cancel := context.WithTimeout(ctx, p.embedTimeout)
	defer cancel()

	out, err := p.embedder.EmbedTexts(embedCtx, texts)
	if err == nil {
		return out, nil
	}
	if ctx.Err() == nil && errors.Is(embedCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w after %s: %w", core.ErrEmbeddingTimeout, p.embedTimeout, err)
	}
	return nil, err
}
