package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// SWEEPER_NETWORK_RPC_URL overrides network.rpc_url.
const EnvPrefix = "SWEEPER"

var (
	ErrNotFound = errors.New("config file not found")
	ErrInvalid  = errors.New("invalid config")
)

type Config struct {
	Network      NetworkConfig      `mapstructure:"network"`
	Transaction  TransactionConfig  `mapstructure:"transaction"`
	Execution    ExecutionConfig    `mapstructure:"execution"`
	GasMonitor   GasMonitorConfig   `mapstructure:"gas_monitor"`
	BalanceCheck BalanceCheckConfig `mapstructure:"balance_check"`
	Explorer     ExplorerConfig     `mapstructure:"explorer"`
	Files        FilesConfig        `mapstructure:"files"`
	Results      ResultsConfig      `mapstructure:"results"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

type NetworkConfig struct {
	RpcURL            string  `mapstructure:"rpc_url"`
	ChainID           uint64  `mapstructure:"chain_id"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"` // 0 means no limit
}

// Range is an inclusive [Min, Max] interval.
type Range struct {
	Min float64 `mapstructure:"min"`
	Max float64 `mapstructure:"max"`
}

type TransactionConfig struct {
	GasLimit                  uint64  `mapstructure:"gas_limit"`
	GasPriceGwei              float64 `mapstructure:"gas_price_gwei"`
	UseDynamicGas             bool    `mapstructure:"use_dynamic_gas"`
	GasPriceMultiplier        float64 `mapstructure:"gas_price_multiplier"`
	RandomRemainingBalanceEth Range   `mapstructure:"random_remaining_balance_eth"`
	ReceiptTimeout            float64 `mapstructure:"receipt_timeout"` // seconds
}

type ExecutionConfig struct {
	MaxConcurrent       int     `mapstructure:"max_concurrent"`
	RetryCount          int     `mapstructure:"retry_count"`
	RetryBackoff        float64 `mapstructure:"retry_backoff"` // seconds
	RandomDelayRange    Range   `mapstructure:"random_delay_range"`
	SkippedAccountDelay float64 `mapstructure:"skipped_account_delay"`
	ShuffleWallets      bool    `mapstructure:"shuffle_wallets"`
	ShowProgress        bool    `mapstructure:"show_progress"`
	DetailedStats       bool    `mapstructure:"detailed_stats"`
}

type GasMonitorConfig struct {
	Enabled              bool    `mapstructure:"enabled"`
	MaxGasPriceGwei      float64 `mapstructure:"max_gas_price_gwei"`
	CheckInterval        float64 `mapstructure:"check_interval"`        // seconds
	MaxWaitTime          float64 `mapstructure:"max_wait_time"`         // seconds
	NotificationInterval float64 `mapstructure:"notification_interval"` // seconds
	CacheDuration        float64 `mapstructure:"cache_duration"`        // seconds
}

type BalanceCheckConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	MinimumBalance float64 `mapstructure:"minimum_balance"` // ETH
	SkipMessage    string  `mapstructure:"skip_message"`
}

type ExplorerConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

type FilesConfig struct {
	PrivateKeys string `mapstructure:"private_keys"`
	Recipients  string `mapstructure:"recipients"`
}

type ResultsConfig struct {
	Dir       string `mapstructure:"dir"`
	HistoryDB string `mapstructure:"history_db"` // empty disables run history
}

type LoggingConfig struct {
	Dir        string `mapstructure:"dir"`
	Level      string `mapstructure:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// setDefaults registers every key. AutomaticEnv only resolves keys viper
// already knows, so a key without a default cannot come from SWEEPER_* alone.
func setDefaults(v *viper.Viper) {
	v.SetDefault("network.rpc_url", "")
	v.SetDefault("network.chain_id", 1)
	v.SetDefault("network.requests_per_second", 0)

	v.SetDefault("transaction.gas_limit", 21000)
	v.SetDefault("transaction.gas_price_gwei", 10)
	v.SetDefault("transaction.use_dynamic_gas", false)
	v.SetDefault("transaction.gas_price_multiplier", 1.2)
	v.SetDefault("transaction.random_remaining_balance_eth.min", 0)
	v.SetDefault("transaction.random_remaining_balance_eth.max", 0)
	v.SetDefault("transaction.receipt_timeout", 300)

	v.SetDefault("execution.max_concurrent", 1)
	v.SetDefault("execution.retry_count", 3)
	v.SetDefault("execution.retry_backoff", 5)
	v.SetDefault("execution.random_delay_range.min", 0)
	v.SetDefault("execution.random_delay_range.max", 0)
	v.SetDefault("execution.skipped_account_delay", 2)
	v.SetDefault("execution.shuffle_wallets", false)
	v.SetDefault("execution.show_progress", true)
	v.SetDefault("execution.detailed_stats", true)

	v.SetDefault("gas_monitor.enabled", false)
	v.SetDefault("gas_monitor.max_gas_price_gwei", 0)
	v.SetDefault("gas_monitor.check_interval", 60)
	v.SetDefault("gas_monitor.max_wait_time", 3600)
	v.SetDefault("gas_monitor.notification_interval", 300)
	v.SetDefault("gas_monitor.cache_duration", 30)

	v.SetDefault("balance_check.enabled", false)
	v.SetDefault("balance_check.minimum_balance", 0)
	v.SetDefault("balance_check.skip_message", "Balance below minimum, account skipped")

	v.SetDefault("explorer.base_url", "https://etherscan.io/tx/")

	v.SetDefault("files.private_keys", "data/private_keys.txt")
	v.SetDefault("files.recipients", "data/send_to.txt")

	v.SetDefault("results.dir", "results")
	v.SetDefault("results.history_db", "")

	v.SetDefault("logging.dir", "logs")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 10)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", false)
}

// Load reads the YAML file at path, applies defaults and SWEEPER_* environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...interface{}) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	check(c.Network.RpcURL != "", "network.rpc_url is required")
	check(c.Network.ChainID > 0, "network.chain_id must be positive")
	check(c.Network.RequestsPerSecond >= 0, "network.requests_per_second must not be negative")

	check(c.Transaction.GasLimit > 0, "transaction.gas_limit must be positive")
	check(c.Transaction.GasPriceGwei >= 0, "transaction.gas_price_gwei must not be negative")
	check(c.Transaction.GasPriceMultiplier > 0, "transaction.gas_price_multiplier must be positive")
	check(c.Transaction.ReceiptTimeout > 0, "transaction.receipt_timeout must be positive")
	checkRange(check, "transaction.random_remaining_balance_eth", c.Transaction.RandomRemainingBalanceEth)

	check(c.Execution.MaxConcurrent >= 1, "execution.max_concurrent must be at least 1")
	check(c.Execution.RetryCount >= 1, "execution.retry_count must be at least 1")
	check(c.Execution.RetryBackoff >= 0, "execution.retry_backoff must not be negative")
	check(c.Execution.SkippedAccountDelay >= 0, "execution.skipped_account_delay must not be negative")
	checkRange(check, "execution.random_delay_range", c.Execution.RandomDelayRange)

	if c.GasMonitor.Enabled {
		check(c.GasMonitor.MaxGasPriceGwei > 0, "gas_monitor.max_gas_price_gwei must be positive")
		check(c.GasMonitor.CheckInterval > 0, "gas_monitor.check_interval must be positive")
		check(c.GasMonitor.MaxWaitTime >= 0, "gas_monitor.max_wait_time must not be negative")
		check(c.GasMonitor.NotificationInterval >= 0, "gas_monitor.notification_interval must not be negative")
	}
	check(c.GasMonitor.CacheDuration >= 0, "gas_monitor.cache_duration must not be negative")
	check(c.BalanceCheck.MinimumBalance >= 0, "balance_check.minimum_balance must not be negative")

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

func checkRange(check func(bool, string, ...interface{}), name string, r Range) {
	check(r.Min >= 0, "%s.min must not be negative", name)
	check(r.Min <= r.Max, "%s.min must not exceed max", name)
}

// Seconds converts a fractional number of seconds from the config file.
func Seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// Decimal converts a config float into an exact decimal using its shortest
// representation, so 0.0001 stays 0.0001.
func Decimal(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}
