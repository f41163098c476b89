// Package health probes the node's external collaborators (ledger adapter,
// CAS gateway) and aggregates their state, together with the node's
// anchoring progress, into the health status served over the API.
package health
