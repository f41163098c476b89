// Package node is the composition root: it builds the stores, clients,
// versioning dispatcher, observer, batch scheduler and servers, and owns
// their lifecycle.
package node
