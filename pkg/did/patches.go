package did

import (
	"fmt"

	"github.com/cuemby/anchor/pkg/models"
	"github.com/cuemby/anchor/pkg/types"
)

// Patch actions understood by protocol version 1
const (
	PatchActionReplace          = "replace"
	PatchActionAddPublicKeys    = "add-public-keys"
	PatchActionRemovePublicKeys = "remove-public-keys"
	PatchActionAddServices      = "add-services"
	PatchActionRemoveServices   = "remove-services"
)

// ApplyPatches applies a delta's patches to a document, returning a new
// document. The input document is not mutated.
func ApplyPatches(doc *types.Document, patches []models.Patch) (*types.Document, error) {
	result := copyDocument(doc)

	for _, patch := range patches {
		switch patch.Action {
		case PatchActionReplace:
			if patch.Document == nil {
				return nil, fmt.Errorf("%w: replace patch missing document", ErrInvalidOperation)
			}
			result = copyDocument(patch.Document)
		case PatchActionAddPublicKeys:
			result.PublicKeys = upsertPublicKeys(result.PublicKeys, patch.PublicKeys)
		case PatchActionRemovePublicKeys:
			result.PublicKeys = removePublicKeys(result.PublicKeys, patch.IDs)
		case PatchActionAddServices:
			result.Services = upsertServices(result.Services, patch.Services)
		case PatchActionRemoveServices:
			result.Services = removeServices(result.Services, patch.IDs)
		default:
			return nil, fmt.Errorf("%w: unknown patch action %q", ErrInvalidOperation, patch.Action)
		}
	}

	return result, nil
}

func copyDocument(doc *types.Document) *types.Document {
	result := &types.Document{}
	if doc == nil {
		return result
	}
	result.PublicKeys = append(result.PublicKeys, doc.PublicKeys...)
	result.Services = append(result.Services, doc.Services...)
	return result
}

// upsertPublicKeys adds keys, replacing any existing key with the same id
func upsertPublicKeys(existing []types.PublicKey, added []types.PublicKey) []types.PublicKey {
	for _, key := range added {
		replaced := false
		for i := range existing {
			if existing[i].ID == key.ID {
				existing[i] = key
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, key)
		}
	}
	return existing
}

func removePublicKeys(existing []types.PublicKey, ids []string) []types.PublicKey {
	removed := make(map[string]bool, len(ids))
	for _, id := range ids {
		removed[id] = true
	}
	var kept []types.PublicKey
	for _, key := range existing {
		if !removed[key.ID] {
			kept = append(kept, key)
		}
	}
	return kept
}

func upsertServices(existing []types.DidService, added []types.DidService) []types.DidService {
	for _, svc := range added {
		replaced := false
		for i := range existing {
			if existing[i].ID == svc.ID {
				existing[i] = svc
				replaced = true
				break
			}
		}
		if !replaced {
			existing = append(existing, svc)
		}
	}
	return existing
}

func removeServices(existing []types.DidService, ids []string) []types.DidService {
	removed := make(map[string]bool, len(ids))
	for _, id := range ids {
		removed[id] = true
	}
	var kept []types.DidService
	for _, svc := range existing {
		if !removed[svc.ID] {
			kept = append(kept, svc)
		}
	}
	return kept
}
