// Package download provides a bounded-concurrency scheduler for CAS
// fetches.
package download
