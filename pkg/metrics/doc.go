// Package metrics exposes the node's Prometheus collectors and a timing
// helper.
package metrics
