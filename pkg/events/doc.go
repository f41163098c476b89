// Package events fans node events (processed transactions, anchored
// batches, detected reorganisations) out to type-filtered subscriptions.
// Delivery never blocks the pipeline: slow subscribers drop events and
// account for the loss.
package events
