// Package cas defines the content-addressable store contract and an HTTP
// gateway client implementing it with code-classified fetch results.
package cas
