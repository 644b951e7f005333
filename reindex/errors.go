package reindex

import "errors"

var (
	// ErrPipelineRequired is returned when a pipeline is not provided.
	ErrPipelineRequired = errors.New("pipeline required")

	// ErrInvalidSelector is returned for a selector that cannot pick documents.
	ErrInvalidSelector = errors.New("invalid selector")

	// errPendingRetry signals that some documents of a batch should be retried.
	errPendingRetry = errors.New("documents pending retry")
)
