// Package hashing wraps the multiformats stack for the hash operations the
// anchor protocol depends on: commit/reveal commitments, DID suffix
// derivation and CAS address validation. Hashes are multihashes rendered as
// base64url multibase strings.
package hashing
