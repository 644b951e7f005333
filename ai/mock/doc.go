// Package mock provides test doubles for the ai interfaces.
//
// # Usage in Tests
//
//	// Deterministic vectors of a chosen length
//	embedder := mock.NewMockEmbedder().WithDimension(8)
//
//	// Custom behavior injection
//	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
//	    return nil, errors.New("model offline")
//	}
//
//	// Check call counts
//	calls := embedder.CallCount()
//
// # Default Behavior
//
// MockEmbedder returns unit-length vectors derived from an FNV hash of the
// text, so equal texts always embed identically.
package mock
