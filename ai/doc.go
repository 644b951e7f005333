// Package ai provides the embedding abstraction used by ingestion and search.
//
// The pipeline depends on the Embedder interface, never on a concrete model
// client, so the model is constructed once at startup and passed in.
//
// Implementation packages:
//
//   - ai/openai: OpenAI-compatible embeddings through langchaingo
//   - ai/mock: deterministic embedder for tests
//
// Public constructors in ai/openai return interface types. mock constructors
// return concrete types so tests can inject behavior and count calls.
//
//	provider, err := openai.NewProvider(ai.NewConfig(ai.WithEmbeddingModel("nomic-embed-text")))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	vectors, err := provider.Embedder().EmbedTexts(ctx, texts)
package ai
