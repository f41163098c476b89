// Package observer implements the driving loop of the anchoring pipeline.
// It owns transaction ordering: qualified transactions are processed with
// bounded concurrency but persisted strictly in transaction number order
// with no gaps, transient failures are retried with exponential backoff,
// and ledger reorganisations are reverted above the fork point.
package observer
