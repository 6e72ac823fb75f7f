package app

import (
	"context"
	"testing"

	"marketplace-ledger/config"
	"marketplace-ledger/internal/store/memory"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(backend, url string) *config.Config {
	cfg := &config.Config{}
	cfg.Database = config.DatabaseConfig{Backend: backend, URL: url}
	cfg.Business.Currency = "USD"
	return cfg
}

func TestNewMemoryBackendIsExplicit(t *testing.T) {
	a, err := New(context.Background(), testConfig(config.BackendMemory, ""))
	require.NoError(t, err)
	defer a.Close()

	assert.IsType(t, &memory.Store{}, a.Ledger)
	assert.NotNil(t, a.Items)
	assert.NotNil(t, a.Handler())
}

func TestNewRefusesToStartWithoutDurableLedger(t *testing.T) {
	tests := []struct {
		name    string
		backend string
		url     string
		want    string
	}{
		{"postgres without url", config.BackendPostgres, "", "DATABASE_URL is required"},
		{"unset backend", "", "", "unknown LEDGER_BACKEND"},
		{"unknown backend", "sqlite", "file:ledger.db", "unknown LEDGER_BACKEND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := New(context.Background(), testConfig(tt.backend, tt.url))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.Nil(t, a)
		})
	}
}
