// Package api serves the node's HTTP surface: DID resolution, operation
// submission, version info and health.
package api
