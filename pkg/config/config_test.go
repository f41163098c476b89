package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anchor.yaml")
	content := []byte(`
did_method_name: example
genesis_height: 667000
fee_look_back_blocks: 50
max_concurrent_cas_downloads: 5
`)
	require.NoError(t, os.WriteFile(path, content, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "example", cfg.DidMethodName)
	assert.Equal(t, uint64(667000), cfg.GenesisHeight)
	assert.Equal(t, uint64(50), cfg.FeeLookBackBlocks)
	assert.Equal(t, 5, cfg.MaxConcurrentCasDownloads)
	// Untouched values keep their defaults
	assert.Equal(t, Default().ObservingIntervalSeconds, cfg.ObservingIntervalSeconds)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "empty data dir", mutate: func(c *Config) { c.DataDir = "" }},
		{name: "empty ledger endpoint", mutate: func(c *Config) { c.LedgerEndpoint = "" }},
		{name: "empty cas endpoint", mutate: func(c *Config) { c.CASEndpoint = "" }},
		{name: "empty method name", mutate: func(c *Config) { c.DidMethodName = "" }},
		{name: "zero downloads", mutate: func(c *Config) { c.MaxConcurrentCasDownloads = 0 }},
		{name: "zero observing interval", mutate: func(c *Config) { c.ObservingIntervalSeconds = 0 }},
		{name: "zero batching interval", mutate: func(c *Config) { c.BatchingIntervalSeconds = 0 }},
		{name: "zero look back", mutate: func(c *Config) { c.FeeLookBackBlocks = 0 }},
		{name: "fluctuation at one", mutate: func(c *Config) { c.FeeMaxFluctuationMultiplier = 1 }},
		{name: "zero batch cap", mutate: func(c *Config) { c.MaxOperationsPerBatch = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
