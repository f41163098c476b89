package versions

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/cuemby/anchor/pkg/log"
)

// Dispatcher routes every operation to the protocol version valid at its
// anchoring height. Versions are eager-loaded at construction; a height
// before the earliest version is an error.
type Dispatcher struct {
	// sorted by StartingHeight descending
	versions []*ProtocolVersion
	logger   zerolog.Logger
}

// NewDispatcher eager-loads every configured protocol version. The
// dependencies' MetadataFetcher field is filled in with the dispatcher
// itself before the factories run, so per-version objects hold only the
// read-only fetcher view.
func NewDispatcher(configs []VersionConfig, deps Dependencies) (*Dispatcher, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("no protocol versions configured")
	}

	d := &Dispatcher{logger: log.WithComponent("versions")}
	deps.MetadataFetcher = d

	sorted := make([]VersionConfig, len(configs))
	copy(sorted, configs)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].StartingHeight > sorted[j].StartingHeight
	})

	for _, cfg := range sorted {
		version, err := cfg.Factory(deps)
		if err != nil {
			return nil, fmt.Errorf("failed to load protocol version starting at height %d: %w", cfg.StartingHeight, err)
		}
		version.StartingHeight = cfg.StartingHeight
		d.versions = append(d.versions, version)
		d.logger.Info().
			Uint64("starting_height", cfg.StartingHeight).
			Str("version", version.Metadata.Version()).
			Msg("Loaded protocol version")
	}

	return d, nil
}

// versionAt returns the first version whose starting height is at or below
// the given height
func (d *Dispatcher) versionAt(height uint64) (*ProtocolVersion, error) {
	for _, v := range d.versions {
		if v.StartingHeight <= height {
			return v, nil
		}
	}
	return nil, fmt.Errorf("no protocol version is defined for ledger height %d", height)
}

// BatchWriterAt returns the batch writer active at the given height
func (d *Dispatcher) BatchWriterAt(height uint64) (BatchWriter, error) {
	v, err := d.versionAt(height)
	if err != nil {
		return nil, err
	}
	return v.BatchWriter, nil
}

// OperationProcessorAt returns the operation processor active at the given
// height
func (d *Dispatcher) OperationProcessorAt(height uint64) (OperationProcessor, error) {
	v, err := d.versionAt(height)
	if err != nil {
		return nil, err
	}
	return v.OperationProcessor, nil
}

// RequestHandlerAt returns the request handler active at the given height
func (d *Dispatcher) RequestHandlerAt(height uint64) (RequestHandler, error) {
	v, err := d.versionAt(height)
	if err != nil {
		return nil, err
	}
	return v.RequestHandler, nil
}

// TransactionProcessorAt returns the transaction processor active at the
// given height
func (d *Dispatcher) TransactionProcessorAt(height uint64) (TransactionProcessor, error) {
	v, err := d.versionAt(height)
	if err != nil {
		return nil, err
	}
	return v.TransactionProcessor, nil
}

// TransactionSelectorAt returns the transaction selector active at the
// given height
func (d *Dispatcher) TransactionSelectorAt(height uint64) (TransactionSelector, error) {
	v, err := d.versionAt(height)
	if err != nil {
		return nil, err
	}
	return v.TransactionSelector, nil
}

// VersionMetadataAt implements VersionMetadataFetcher
func (d *Dispatcher) VersionMetadataAt(height uint64) (VersionMetadata, error) {
	v, err := d.versionAt(height)
	if err != nil {
		return nil, err
	}
	return v.Metadata, nil
}
