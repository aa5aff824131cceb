package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Chain.ContractAddress = "0x1111111111111111111111111111111111111111"
	cfg.Wallet.PrivateKey = "ab"
	cfg.Resolver.ApiKey = "key"
	return cfg
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "bogus"
	cfg.Chain.RPCURL = ""
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "rpc_url")
	assert.Contains(t, err.Error(), "redis: addr")
}

func TestValidateWalletRequiredForServerModes(t *testing.T) {
	cfg := validConfig()
	cfg.Wallet.PrivateKey = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "wallet")

	// Syncer mode only mirrors chain state and needs no signing key.
	cfg.Mode = "syncer"
	require.NoError(t, cfg.Validate())
}

func TestValidateS3OnlyWhenEnabled(t *testing.T) {
	cfg := validConfig()
	cfg.S3.Enabled = false
	cfg.S3.Bucket = ""
	require.NoError(t, cfg.Validate())

	cfg.S3.Enabled = true
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3: bucket")
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "syncer"

[chain]
rpc_url = "https://rpc.example.com"
contract_address = "0x2222222222222222222222222222222222222222"
chain_id = 8453

[resolver]
model = "gemini-3-flash"
timeout = "30s"

[sync]
interval = "1m"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "syncer", cfg.Mode)
	assert.Equal(t, "https://rpc.example.com", cfg.Chain.RPCURL)
	assert.Equal(t, int64(8453), cfg.Chain.ChainID)
	assert.Equal(t, "gemini-3-flash", cfg.Resolver.Model)
	assert.Equal(t, 30*time.Second, cfg.Resolver.Timeout.Duration)
	assert.Equal(t, time.Minute, cfg.Sync.Interval.Duration)

	// Untouched sections keep their defaults.
	assert.Equal(t, 3, cfg.Resolver.StepBudget)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestEnvOverridesWin(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`mode = "full"`), 0o600))

	t.Setenv("SETTLEBOT_MODE", "server")
	t.Setenv("SETTLEBOT_RESOLVER_API_KEY", "from-env")
	t.Setenv("SETTLEBOT_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("SETTLEBOT_RESOLVER_STEP_BUDGET", "5")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "server", cfg.Mode)
	assert.Equal(t, "from-env", cfg.Resolver.ApiKey)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 5, cfg.Resolver.StepBudget)
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.Password = "hunter2"
	cfg.Notify.TelegramToken = "tok"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Wallet.PrivateKey)
	assert.Equal(t, "***", red.Resolver.ApiKey)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Notify.TelegramToken)

	// Original is untouched.
	assert.Equal(t, "hunter2", cfg.Postgres.Password)
}
