package ingestion

import "errors"

var (
	// ErrLedgerRequired is returned when a ledger repository is not provided.
	ErrLedgerRequired = errors.New("ledger repository required")

	// ErrDedupRegistryRequired is returned when a dedup registry is not provided.
	ErrDedupRegistryRequired = errors.New("dedup registry required")

	// ErrVectorIndexRequired is returned when a vector index is not provided.
	ErrVectorIndexRequired = errors.New("vector index required")

	// ErrAIProviderRequired is returned when an AI provider is not provided.
	ErrAIProviderRequired = errors.New("AI provider required")

	// ErrEmptyDocument is returned when extraction yields no chunkable text.
	ErrEmptyDocument = errors.New("document has no text to index")
)
