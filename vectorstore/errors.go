package vectorstore

import "errors"

var (
	// ErrInvalidDimension is returned by Open for a non-positive dimension.
	ErrInvalidDimension = errors.New("dimension must be positive")

	// ErrCorruptIndex indicates the on-disk files disagree with each other.
	ErrCorruptIndex = errors.New("corrupt vector index")
)
