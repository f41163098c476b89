package did

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/anchor/pkg/hashing"
	"github.com/cuemby/anchor/pkg/models"
	"github.com/cuemby/anchor/pkg/types"
)

func TestParseOperationRequestValidation(t *testing.T) {
	delta := &models.Delta{UpdateCommitment: "uEiCommit"}
	suffixData := &models.SuffixData{DeltaHash: "uEiDelta", RecoveryCommitment: "uEiRecovery"}

	tests := []struct {
		name      string
		req       OperationRequest
		expectErr bool
	}{
		{
			name: "valid create",
			req:  OperationRequest{Type: types.OperationTypeCreate, SuffixData: suffixData, Delta: delta},
		},
		{
			name:      "create without delta",
			req:       OperationRequest{Type: types.OperationTypeCreate, SuffixData: suffixData},
			expectErr: true,
		},
		{
			name: "valid update",
			req:  OperationRequest{Type: types.OperationTypeUpdate, DidSuffix: "uEiS", RevealValue: "r", Delta: delta},
		},
		{
			name:      "update without reveal",
			req:       OperationRequest{Type: types.OperationTypeUpdate, DidSuffix: "uEiS", Delta: delta},
			expectErr: true,
		},
		{
			name: "valid recover",
			req: OperationRequest{Type: types.OperationTypeRecover, DidSuffix: "uEiS", RevealValue: "r",
				Delta: delta, SignedData: &SignedData{RecoveryCommitment: "uEiNext"}},
		},
		{
			name: "recover without next recovery commitment",
			req: OperationRequest{Type: types.OperationTypeRecover, DidSuffix: "uEiS", RevealValue: "r",
				Delta: delta, SignedData: &SignedData{}},
			expectErr: true,
		},
		{
			name: "valid deactivate",
			req:  OperationRequest{Type: types.OperationTypeDeactivate, DidSuffix: "uEiS", RevealValue: "r"},
		},
		{
			name:      "unknown type",
			req:       OperationRequest{Type: "destroy"},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buffer, err := json.Marshal(tt.req)
			require.NoError(t, err)
			_, err = ParseOperationRequest(buffer)
			if tt.expectErr {
				assert.ErrorIs(t, err, ErrInvalidOperation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseOperationRequestRejectsGarbage(t *testing.T) {
	_, err := ParseOperationRequest([]byte("{not json"))
	assert.ErrorIs(t, err, ErrInvalidOperation)
}

func TestComputeDidSuffixIsStable(t *testing.T) {
	suffixData := models.SuffixData{DeltaHash: "uEiDelta", RecoveryCommitment: "uEiRecovery"}

	first, err := ComputeDidSuffix(suffixData, hashing.SHA256Code)
	require.NoError(t, err)
	second, err := ComputeDidSuffix(suffixData, hashing.SHA256Code)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	different, err := ComputeDidSuffix(models.SuffixData{DeltaHash: "uEiOther", RecoveryCommitment: "uEiRecovery"}, hashing.SHA256Code)
	require.NoError(t, err)
	assert.NotEqual(t, first, different)
}

func TestShortFormDID(t *testing.T) {
	assert.Equal(t, "did:anchor:uEiSuffix", ShortFormDID("anchor", "uEiSuffix"))
}

func TestApplyPatches(t *testing.T) {
	base := &types.Document{
		PublicKeys: []types.PublicKey{{ID: "key-1", Type: "JsonWebKey2020"}},
		Services:   []types.DidService{{ID: "svc-1", Type: "LinkedDomains", ServiceEndpoint: "https://example.com"}},
	}

	t.Run("replace swaps the whole document", func(t *testing.T) {
		doc, err := ApplyPatches(base, []models.Patch{{
			Action:   PatchActionReplace,
			Document: &types.Document{PublicKeys: []types.PublicKey{{ID: "key-new"}}},
		}})
		require.NoError(t, err)
		require.Len(t, doc.PublicKeys, 1)
		assert.Equal(t, "key-new", doc.PublicKeys[0].ID)
		assert.Empty(t, doc.Services)
	})

	t.Run("add public keys upserts by id", func(t *testing.T) {
		doc, err := ApplyPatches(base, []models.Patch{{
			Action: PatchActionAddPublicKeys,
			PublicKeys: []types.PublicKey{
				{ID: "key-1", Type: "Rotated"},
				{ID: "key-2", Type: "JsonWebKey2020"},
			},
		}})
		require.NoError(t, err)
		require.Len(t, doc.PublicKeys, 2)
		assert.Equal(t, "Rotated", doc.PublicKeys[0].Type)
		assert.Equal(t, "key-2", doc.PublicKeys[1].ID)
	})

	t.Run("remove public keys", func(t *testing.T) {
		doc, err := ApplyPatches(base, []models.Patch{{
			Action: PatchActionRemovePublicKeys,
			IDs:    []string{"key-1"},
		}})
		require.NoError(t, err)
		assert.Empty(t, doc.PublicKeys)
		assert.Len(t, doc.Services, 1)
	})

	t.Run("add and remove services", func(t *testing.T) {
		doc, err := ApplyPatches(base, []models.Patch{
			{Action: PatchActionAddServices, Services: []types.DidService{{ID: "svc-2"}}},
			{Action: PatchActionRemoveServices, IDs: []string{"svc-1"}},
		})
		require.NoError(t, err)
		require.Len(t, doc.Services, 1)
		assert.Equal(t, "svc-2", doc.Services[0].ID)
	})

	t.Run("unknown action fails", func(t *testing.T) {
		_, err := ApplyPatches(base, []models.Patch{{Action: "rewrite-history"}})
		assert.ErrorIs(t, err, ErrInvalidOperation)
	})

	t.Run("input document is not mutated", func(t *testing.T) {
		_, err := ApplyPatches(base, []models.Patch{{
			Action: PatchActionRemovePublicKeys,
			IDs:    []string{"key-1"},
		}})
		require.NoError(t, err)
		assert.Len(t, base.PublicKeys, 1)
	})
}
