// Package versions routes anchoring heights to protocol version
// implementations. Each version contributes a sextuple of objects (batch
// writer, operation processor, request handler, transaction processor,
// transaction selector, version metadata) built by a factory from a static
// registry supplied at startup.
package versions
