package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
network:
  rpc_url: "http://localhost:8545"
  chain_id: 195
transaction:
  gas_limit: 21000
  gas_price_gwei: 5
  use_dynamic_gas: true
  random_remaining_balance_eth:
    min: 0.0001
    max: 0.0005
execution:
  max_concurrent: 2
  retry_count: 4
  random_delay_range:
    min: 10
    max: 20
  shuffle_wallets: true
gas_monitor:
  enabled: true
  max_gas_price_gwei: 30
  check_interval: 15
  max_wait_time: 600
  notification_interval: 120
balance_check:
  enabled: true
  minimum_balance: 0.001
explorer:
  base_url: "https://www.oklink.com/xlayer/tx/"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	require.Equal(t, "http://localhost:8545", cfg.Network.RpcURL)
	require.Equal(t, uint64(195), cfg.Network.ChainID)
	require.True(t, cfg.Transaction.UseDynamicGas)
	require.Equal(t, 0.0001, cfg.Transaction.RandomRemainingBalanceEth.Min)
	require.Equal(t, 0.0005, cfg.Transaction.RandomRemainingBalanceEth.Max)
	require.Equal(t, 4, cfg.Execution.RetryCount)
	require.True(t, cfg.Execution.ShuffleWallets)
	require.Equal(t, 30.0, cfg.GasMonitor.MaxGasPriceGwei)
	require.Equal(t, "https://www.oklink.com/xlayer/tx/", cfg.Explorer.BaseURL)

	// defaults
	require.Equal(t, 1.2, cfg.Transaction.GasPriceMultiplier)
	require.Equal(t, 300.0, cfg.Transaction.ReceiptTimeout)
	require.Equal(t, 5.0, cfg.Execution.RetryBackoff)
	require.Equal(t, 2.0, cfg.Execution.SkippedAccountDelay)
	require.Equal(t, 30.0, cfg.GasMonitor.CacheDuration)
	require.True(t, cfg.Execution.ShowProgress)
	require.True(t, cfg.Execution.DetailedStats)
	require.Equal(t, "data/private_keys.txt", cfg.Files.PrivateKeys)
	require.Equal(t, "results", cfg.Results.Dir)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SWEEPER_NETWORK_RPC_URL", "http://override:8545")
	t.Setenv("SWEEPER_EXECUTION_RETRY_COUNT", "7")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	require.Equal(t, "http://override:8545", cfg.Network.RpcURL)
	require.Equal(t, 7, cfg.Execution.RetryCount)
}

func TestLoadEnvOnlyKeys(t *testing.T) {
	t.Setenv("SWEEPER_NETWORK_RPC_URL", "http://env:8545")
	t.Setenv("SWEEPER_GAS_MONITOR_MAX_GAS_PRICE_GWEI", "20")

	cfg, err := Load(writeConfig(t, "network:\n  chain_id: 195\n"))
	require.NoError(t, err)
	require.Equal(t, "http://env:8545", cfg.Network.RpcURL)
	require.Equal(t, uint64(195), cfg.Network.ChainID)
	require.Equal(t, 20.0, cfg.GasMonitor.MaxGasPriceGwei)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestValidate(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	bad := *cfg
	bad.Network.RpcURL = ""
	bad.Execution.RetryCount = 0
	bad.Transaction.RandomRemainingBalanceEth = Range{Min: 0.5, Max: 0.1}
	err = bad.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	require.Contains(t, err.Error(), "network.rpc_url")
	require.Contains(t, err.Error(), "execution.retry_count")
	require.Contains(t, err.Error(), "random_remaining_balance_eth.min must not exceed max")
}

func TestSeconds(t *testing.T) {
	require.Equal(t, 1500*time.Millisecond, Seconds(1.5))
	require.Equal(t, "0.0001", Decimal(0.0001).String())
}
