// Package types defines the domain entities shared across the anchor node:
// ledger transactions, anchored operations, block metadata, DID state and
// queue entries. The package is deliberately dependency-free so every other
// package can import it.
package types
