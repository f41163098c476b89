package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the node configuration record. Zero values are filled in from
// Default before validation.
type Config struct {
	// Node
	DataDir     string `yaml:"data_dir"`
	APIAddr     string `yaml:"api_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	// External collaborators
	LedgerEndpoint string `yaml:"ledger_endpoint"`
	CASEndpoint    string `yaml:"cas_endpoint"`

	// DID method
	DidMethodName string `yaml:"did_method_name"`

	// Observer
	MaxConcurrentCasDownloads int `yaml:"max_concurrent_cas_downloads"`
	ObservingIntervalSeconds  int `yaml:"observing_interval_seconds"`

	// Batch writer
	BatchingIntervalSeconds     int    `yaml:"batching_interval_seconds"`
	ValueTimeLockDurationBlocks uint64 `yaml:"value_time_lock_duration_blocks"`

	// Fees
	GenesisHeight               uint64  `yaml:"genesis_height"`
	FeeLookBackBlocks           uint64  `yaml:"fee_look_back_blocks"`
	FeeMaxFluctuationMultiplier float64 `yaml:"fee_max_fluctuation_multiplier"`
	InitialNormalizedFee        uint64  `yaml:"initial_normalized_fee"`

	// Spending limits
	SpendingCap          uint64 `yaml:"spending_cap"`
	SpendingPeriodBlocks uint64 `yaml:"spending_period_blocks"`

	// Throughput limits
	MaxOperationsPerBatch    uint64 `yaml:"max_operations_per_batch"`
	MaxTransactionsPerHeight uint64 `yaml:"max_transactions_per_height"`
	MaxOperationsPerHeight   uint64 `yaml:"max_operations_per_height"`

	// Ledger RPC retry policy
	MaxLedgerRetries int `yaml:"max_ledger_retries"`
}

// Default returns the configuration defaults
func Default() *Config {
	return &Config{
		DataDir:                     "/var/lib/anchor",
		APIAddr:                     ":3000",
		MetricsAddr:                 ":9090",
		LedgerEndpoint:              "http://localhost:3009",
		CASEndpoint:                 "http://localhost:3003",
		DidMethodName:               "anchor",
		MaxConcurrentCasDownloads:   20,
		ObservingIntervalSeconds:    60,
		BatchingIntervalSeconds:     600,
		ValueTimeLockDurationBlocks: 0,
		GenesisHeight:               1,
		FeeLookBackBlocks:           100,
		FeeMaxFluctuationMultiplier: 0.1,
		InitialNormalizedFee:        100,
		SpendingCap:                 0, // 0 disables self-throttling
		SpendingPeriodBlocks:        100,
		MaxOperationsPerBatch:       10000,
		MaxTransactionsPerHeight:    300,
		MaxOperationsPerHeight:      600000,
		MaxLedgerRetries:            3,
	}
}

// Load reads a YAML configuration file and overlays it on the defaults
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the node cannot run with. Validation
// failures are fatal at startup.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must be set")
	}
	if c.LedgerEndpoint == "" {
		return fmt.Errorf("ledger_endpoint must be set")
	}
	if c.CASEndpoint == "" {
		return fmt.Errorf("cas_endpoint must be set")
	}
	if c.DidMethodName == "" {
		return fmt.Errorf("did_method_name must be set")
	}
	if c.MaxConcurrentCasDownloads <= 0 {
		return fmt.Errorf("max_concurrent_cas_downloads must be positive")
	}
	if c.ObservingIntervalSeconds <= 0 {
		return fmt.Errorf("observing_interval_seconds must be positive")
	}
	if c.BatchingIntervalSeconds <= 0 {
		return fmt.Errorf("batching_interval_seconds must be positive")
	}
	if c.FeeLookBackBlocks == 0 {
		return fmt.Errorf("fee_look_back_blocks must be positive")
	}
	if c.FeeMaxFluctuationMultiplier <= 0 || c.FeeMaxFluctuationMultiplier >= 1 {
		return fmt.Errorf("fee_max_fluctuation_multiplier must be in (0, 1)")
	}
	if c.MaxOperationsPerBatch == 0 {
		return fmt.Errorf("max_operations_per_batch must be positive")
	}
	if c.MaxTransactionsPerHeight == 0 {
		return fmt.Errorf("max_transactions_per_height must be positive")
	}
	if c.MaxOperationsPerHeight == 0 {
		return fmt.Errorf("max_operations_per_height must be positive")
	}
	return nil
}
