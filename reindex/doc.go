// Package reindex re-runs ingestion for documents already in the ledger.
//
// Documents are chosen with a Selector: failed documents whose failure was
// transient, every failed document, documents embedded with a model other
// than the current one, or an explicit list. Each selected document is reset
// to Pending and processed again from its recorded source path. Transient
// failures during the run are retried with exponential backoff.
//
// There is no background scheduler; reindexing happens when a caller runs it.
package reindex
