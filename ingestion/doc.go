// Package ingestion provides the pipeline that turns source files into
// searchable vectors.
//
// The Pipeline sequences one document through the stages
//
//	Registered → Extracting → Chunking → Deduplicating → Embedding → Indexing → Completed
//
// consulting the ledger first so identical content is processed exactly once.
// Any stage may fail the document; the failure is recorded in the ledger and
// reported in the Result, never returned as an error. ProcessBatch runs
// several documents concurrently on a worker pool.
package ingestion
