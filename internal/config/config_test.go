package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ZanzyTHEbar/contrib-rounds/internal/errors"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LEDGER_MODE", "memory")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, LedgerMemory, cfg.Ledger.Mode)
	assert.Equal(t, 60*time.Second, cfg.Ledger.Timeout)
	assert.Equal(t, 7*24*time.Hour, cfg.IssueSLA)
	assert.Equal(t, 10, cfg.VoteRateLimit)
	assert.Equal(t, 120, cfg.IPRateLimit)
	assert.Equal(t, "https://api.github.com", cfg.GitHubAPIURL)
	assert.Equal(t, 50, cfg.GitHubMaxPages)
	assert.Equal(t, 10*time.Minute, cfg.LockTTL)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.AllowedOrigins)
	assert.Empty(t, cfg.Redis.Addr)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("LEDGER_MODE", "RPC")
	t.Setenv("LEDGER_RPC_URL", "http://127.0.0.1:8545")
	t.Setenv("LEDGER_TIMEOUT", "5s")
	t.Setenv("VOTE_RATE_LIMIT", "3")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://rounds.example.com ,, ")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, LedgerRPC, cfg.Ledger.Mode)
	assert.Equal(t, "http://127.0.0.1:8545", cfg.Ledger.RPCURL)
	assert.Equal(t, 5*time.Second, cfg.Ledger.Timeout)
	assert.Equal(t, 3, cfg.VoteRateLimit)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.Equal(t, []string{"https://rounds.example.com"}, cfg.AllowedOrigins)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rounds.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ledger_mode: memory\nport: \"9090\"\ncache_ttl: 30s\n"), 0o600))
	t.Setenv("CACHE_TTL", "1m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, LedgerMemory, cfg.Ledger.Mode)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, time.Minute, cfg.CacheTTL, "environment wins over the file")
}

func TestLoad_LockOutlivesRequest(t *testing.T) {
	t.Setenv("LEDGER_MODE", "memory")
	t.Setenv("LOCK_TTL", "30s")
	t.Setenv("REQUEST_TIMEOUT", "2m")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.LockTTL)

	t.Setenv("LOCK_TTL", "15m")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 15*time.Minute, cfg.LockTTL, "a longer lock is kept")
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		file string
	}{
		{"rpc without url", map[string]string{"LEDGER_MODE": "rpc", "LEDGER_RPC_URL": ""}, ""},
		{"unknown ledger", map[string]string{"LEDGER_MODE": "carrier-pigeon"}, ""},
		{"negative vote limit", map[string]string{"LEDGER_MODE": "memory", "VOTE_RATE_LIMIT": "-1"}, ""},
		{"zero page cap", map[string]string{"LEDGER_MODE": "memory", "GITHUB_MAX_PAGES": "0"}, ""},
		{"zero request timeout", map[string]string{"LEDGER_MODE": "memory", "REQUEST_TIMEOUT": "0s"}, ""},
		{"missing config file", map[string]string{"LEDGER_MODE": "memory"}, "/nonexistent/rounds.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(tt.file)
			require.Error(t, err)
			assert.True(t, apperrors.IsCategory(err, apperrors.CategoryConfiguration))
		})
	}
}
