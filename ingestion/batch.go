package ingestion

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/poiesic/ragindex/core"
	"github.com/poiesic/ragindex/extract"
)

// NewFileRequest builds a Request for path by hashing its contents and
// detecting its MIME type.
func NewFileRequest(path string) (Request, error) {
	f, err := os.Open(path)
	if err != nil {
		return Request{}, err
	}
	defer f.Close()

	hash, size, err := core.HashReader(f)
	if err != nil {
		return Request{}, fmt.Errorf("hash %s: %w", path, err)
	}
	mimeType, err := extract.DetectFile(path)
	if err != nil {
		return Request{}, err
	}
	return Request{
		Path:        path,
		DocID:       core.DocIDFromHash(hash),
		Filename:    filepath.Base(path),
		ContentHash: hash,
		FileSize:    size,
		MimeType:    mimeType,
	}, nil
}

// ProcessFile hashes path and processes it. Files that cannot be read fail
// before reaching the ledger.
func (p *Pipeline) ProcessFile(ctx context.Context, path string) *Result {
	req, err := NewFileRequest(path)
	if err != nil {
		return &Result{
			Outcome:     OutcomeFailed,
			FailedStage: StageRegistered,
			Error:       err.Error(),
			err:         err,
		}
	}
	return p.Process(ctx, req)
}

// ProcessBatch processes requests concurrently on the pipeline's worker
// pool and returns results in request order.
func (p *Pipeline) ProcessBatch(ctx context.Context, reqs []Request) []*Result {
	results := make([]*Result, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			results[i] = p.Process(ctx, req)
		})
		if err != nil {
			wg.Done()
			p.logger.Error("error submitting document", "doc_id", req.DocID, "err", err)
			results[i] = &Result{
				Outcome: OutcomeFailed,
				DocID:   req.DocID,
				Error:   err.Error(),
				err:     err,
			}
		}
	}
	wg.Wait()
	return results
}

// ProcessFiles hashes and processes paths concurrently.
func (p *Pipeline) ProcessFiles(ctx context.Context, paths []string) []*Result {
	results := make([]*Result, len(paths))
	var wg sync.WaitGroup
	for i, path := range paths {
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			results[i] = p.ProcessFile(ctx, path)
		})
		if err != nil {
			wg.Done()
			results[i] = &Result{Outcome: OutcomeFailed, Error: err.Error(), err: err}
		}
	}
	wg.Wait()
	return results
}
