// Package v1 implements protocol version 1: the operation processor,
// transaction processor, transaction selector, batch writer, request
// handler and version metadata active from the configured genesis height.
package v1
