// Package store defines the persistence interfaces of the anchor node
// (transactions, unresolvable transactions, anchored operations, block
// metadata, service state, operation queue) and a BoltDB-backed
// implementation of all of them.
package store
