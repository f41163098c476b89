// Package fee implements the normalized fee calculator: a sliding-window
// moving average of fee-per-transaction with bounded fluctuation per height.
package fee
