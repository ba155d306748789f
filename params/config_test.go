package params

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.Equal(t, "Marketplace", cfg.Domain.Name)
	require.Equal(t, "1.0", cfg.Domain.Version)
	require.EqualValues(t, 1337, cfg.Domain.ChainID)
	require.Equal(t, ":8080", cfg.Node.APIAddr)
	require.Equal(t, 50*time.Millisecond, cfg.Node.SequencerInterval)
	require.Empty(t, cfg.Kafka.Brokers)

	d := cfg.Domain.CryptoDomain()
	require.Equal(t, cfg.Domain.EngineAddress, d.VerifyingContract)
	require.EqualValues(t, 1337, d.ChainID.Int64())
}

func TestLoadFromEnv(t *testing.T) {
	owner := "0x1111111111111111111111111111111111111111"
	t.Setenv("CHAIN_ID", "31337")
	t.Setenv("OWNER_ADDRESS", owner)
	t.Setenv("EXECUTOR_ADDRESSES", "0x2222222222222222222222222222222222222222, 0x3333333333333333333333333333333333333333,")
	t.Setenv("SEQUENCER_INTERVAL_MS", "5")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("P2P_ENABLED", "false")
	t.Setenv("LEDGER_CACHE_ENTRIES", "64")
	t.Setenv("LOG_FILE", "-")

	cfg, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	require.EqualValues(t, 31337, cfg.Domain.ChainID)
	require.Equal(t, common.HexToAddress(owner), cfg.Access.Owner)
	require.Len(t, cfg.Access.Executors, 2)
	require.Equal(t, 5*time.Millisecond, cfg.Node.SequencerInterval)
	require.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
	require.False(t, cfg.P2P.Enabled)
	require.Equal(t, 64, cfg.Ledger.CacheEntries)
	require.Empty(t, cfg.Node.LogFile)
}

func TestLoadFromEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DOMAIN_NAME=Bazaar\nAPI_ADDR=:9999\n"), 0o644))
	t.Cleanup(func() {
		os.Unsetenv("DOMAIN_NAME")
		os.Unsetenv("API_ADDR")
	})

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)
	require.Equal(t, "Bazaar", cfg.Domain.Name)
	require.Equal(t, ":9999", cfg.Node.APIAddr)
}

func TestLoadFromEnvErrors(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"CHAIN_ID", "abc"},
		{"ENGINE_ADDRESS", "0x1234"},
		{"EXECUTOR_ADDRESSES", "nope"},
		{"REQUEST_TIMEOUT_MS", "soon"},
		{"LEDGER_CACHE_ENTRIES", "many"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadFromEnv(filepath.Join(t.TempDir(), "missing.env"))
			require.ErrorContains(t, err, tt.key)
		})
	}
}
