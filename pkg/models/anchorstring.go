package models

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrInvalidAnchorString indicates an anchor string that does not follow the
// "{numberOfOperations}.{coreIndexFileHash}" format
var ErrInvalidAnchorString = errors.New("invalid anchor string")

// AnchorString is the decoded form of the small ASCII blob carried in a
// ledger transaction: the operation count and the CAS hash of the core index
// file of the batch.
type AnchorString struct {
	NumberOfOperations uint64
	CoreIndexFileHash  string
}

// ParseAnchorString decodes an anchor string. The operation count must be a
// non-negative base-10 integer and the hash must be non-empty.
func ParseAnchorString(s string) (AnchorString, error) {
	parts := strings.SplitN(s, ".", 2)
	if len(parts) != 2 {
		return AnchorString{}, fmt.Errorf("%w: expected two dot-separated parts", ErrInvalidAnchorString)
	}
	count, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return AnchorString{}, fmt.Errorf("%w: operation count %q is not a non-negative integer", ErrInvalidAnchorString, parts[0])
	}
	if parts[1] == "" {
		return AnchorString{}, fmt.Errorf("%w: empty core index file hash", ErrInvalidAnchorString)
	}
	return AnchorString{NumberOfOperations: count, CoreIndexFileHash: parts[1]}, nil
}

// Serialize renders the anchor string in its wire form
func (a AnchorString) Serialize() string {
	return strconv.FormatUint(a.NumberOfOperations, 10) + "." + a.CoreIndexFileHash
}
