package v1

import (
	"github.com/cuemby/anchor/pkg/hashing"
	"github.com/cuemby/anchor/pkg/versions"
)

// Protocol parameters of version 1
const (
	versionTag = "1.0"

	maxCoreIndexFileSizeBytes = int64(1 << 20)
	maxChunkFileSizeBytes     = int64(10 << 20)
	maxOperationSizeBytes     = 2500

	// Writers without a value-time-lock get this fraction of the batch cap
	unlockedBatchDivisor = 10

	// Denominator of the per-operation fee factor (1/100 of the
	// normalized fee per operation)
	perOperationFeeDivisor = 100
)

// Metadata exposes the protocol parameters of version 1
type Metadata struct {
	cfg versions.ProtocolConfig
}

// NewMetadata creates the version metadata object
func NewMetadata(cfg versions.ProtocolConfig) *Metadata {
	return &Metadata{cfg: cfg}
}

func (m *Metadata) Version() string { return versionTag }

func (m *Metadata) HashAlgorithmCode() uint64 { return hashing.SHA256Code }

func (m *Metadata) MaxOperationsPerBatch() uint64 { return m.cfg.MaxOperationsPerBatch }

func (m *Metadata) MaxCoreIndexFileSizeBytes() int64 { return maxCoreIndexFileSizeBytes }

func (m *Metadata) MaxChunkFileSizeBytes() int64 { return maxChunkFileSizeBytes }

// writerBatchAllowance is the batch size this writer may anchor. A
// value-time-lock entitles the writer to the full protocol cap; without one
// only the free-tier fraction is allowed.
func (m *Metadata) writerBatchAllowance() uint64 {
	if m.cfg.ValueTimeLockDurationBlocks > 0 {
		return m.cfg.MaxOperationsPerBatch
	}
	allowance := m.cfg.MaxOperationsPerBatch / unlockedBatchDivisor
	if allowance == 0 {
		allowance = 1
	}
	return allowance
}

// requiredFee is the minimum fee for anchoring a batch of the given size at
// the given normalized fee
func requiredFee(normalizedFee, numberOfOperations uint64) uint64 {
	perOperation := normalizedFee * numberOfOperations / perOperationFeeDivisor
	if perOperation > normalizedFee {
		return perOperation
	}
	return normalizedFee
}
