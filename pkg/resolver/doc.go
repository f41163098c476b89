// Package resolver implements deterministic DID resolution: a pure replay
// of a DID's anchored operation log with commit/reveal chaining across
// update, recover and deactivate operations.
package resolver
