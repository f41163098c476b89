package cas

import (
	"context"

	"github.com/cuemby/anchor/pkg/types"
)

// Client is the content-addressable store contract. Read never fails with an
// error for expected conditions; those are classified in the fetch result
// code.
type Client interface {
	// Read fetches content by hash, refusing payloads larger than maxBytes
	Read(ctx context.Context, hash string, maxBytes int64) types.FetchResult

	// Write stores content and returns its hash
	Write(ctx context.Context, content []byte) (string, error)
}
