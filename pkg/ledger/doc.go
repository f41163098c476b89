// Package ledger defines the ledger node contract consumed by the observer
// and batch writer, the transaction number codec, and an HTTP adapter client
// with timeout-bounded exponential retry.
package ledger
