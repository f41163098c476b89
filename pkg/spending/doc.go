// Package spending implements self-throttling of ledger fees over a rolling
// height window.
package spending
