package main

import (
	"context"
	"io"
	"math/big"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/log"

	"github.com/okx/sweeper/packages/batch"
	"github.com/okx/sweeper/packages/config"
	"github.com/okx/sweeper/packages/fee"
	"github.com/okx/sweeper/packages/history"
	"github.com/okx/sweeper/packages/keys"
	"github.com/okx/sweeper/packages/ledger"
	"github.com/okx/sweeper/packages/logging"
	"github.com/okx/sweeper/packages/policy"
	"github.com/okx/sweeper/packages/transfer"
	"github.com/okx/sweeper/packages/units"
)

const symbol = "ETH"

// app holds everything a command needs, built once from the config file.
type app struct {
	cfg      *config.Config
	log      log.Logger
	reporter *logging.Reporter
	client   *ledger.EthClient
	oracle   *fee.Oracle
	history  *history.Store
	clock    mclock.Clock

	logCloser io.Closer
}

// newApp loads the config file and sets up logging.
func newApp(cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	l, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return &app{
		cfg:       cfg,
		log:       l,
		reporter:  logging.NewReporter(l),
		clock:     mclock.System{},
		logCloser: closer,
	}, nil
}

// connect dials the RPC endpoint and builds the gas oracle on top of it.
func (a *app) connect(ctx context.Context) error {
	net := a.cfg.Network
	client, err := ledger.Dial(ctx, net.RpcURL, net.ChainID, net.RequestsPerSecond)
	if err != nil {
		a.log.Error("❌ Failed to connect to network", "rpc", net.RpcURL, "err", err)
		return err
	}
	a.client = client
	a.log.Info("✅ Connected to network", "rpc", net.RpcURL, "chain_id", client.ChainIDValue())

	gm := a.cfg.GasMonitor
	a.oracle = fee.NewOracle(client, config.Seconds(gm.CacheDuration), fee.GateConfig{
		Enabled:        gm.Enabled,
		Ceiling:        config.Decimal(gm.MaxGasPriceGwei),
		PollInterval:   config.Seconds(gm.CheckInterval),
		MaxWait:        config.Seconds(gm.MaxWaitTime),
		NotifyInterval: config.Seconds(gm.NotificationInterval),
	}, a.clock, a.log)
	return nil
}

// openHistory opens the run history database when one is configured.
func (a *app) openHistory() error {
	path := a.cfg.Results.HistoryDB
	if path == "" || a.history != nil {
		return nil
	}
	store, err := history.Open(path)
	if err != nil {
		a.log.Error("Failed to open history database", "path", path, "err", err)
		return err
	}
	a.history = store
	return nil
}

func (a *app) close() {
	if a.history != nil {
		a.history.Close()
	}
	if a.client != nil {
		a.client.Close()
	}
	if a.logCloser != nil {
		a.logCloser.Close()
	}
}

// newRand returns a source owned by a single policy.
func newRand() *rand.Rand {
	return rand.New(rand.NewSource(time.Now().UnixNano()))
}

func (a *app) minimumBalance() *big.Int {
	return units.EtherToWei(config.Decimal(a.cfg.BalanceCheck.MinimumBalance))
}

func (a *app) orchestrator() *batch.Orchestrator {
	tx, ex := a.cfg.Transaction, a.cfg.Execution
	remMin := config.Decimal(tx.RandomRemainingBalanceEth.Min)
	remMax := config.Decimal(tx.RandomRemainingBalanceEth.Max)

	sender := transfer.NewSender(transfer.Config{
		GasLimit:       tx.GasLimit,
		StaticGasPrice: units.GweiToWei(tx.GasPriceGwei),
		DynamicGas:     tx.UseDynamicGas,
		Multiplier:     config.Decimal(tx.GasPriceMultiplier),
		RetryCount:     ex.RetryCount,
		RetryBackoff:   config.Seconds(ex.RetryBackoff),
		ReceiptTimeout: config.Seconds(tx.ReceiptTimeout),
		MaxConcurrent:  ex.MaxConcurrent,
		BalanceCheck:   a.cfg.BalanceCheck.Enabled,
		MinimumBalance: a.minimumBalance(),
		SkipMessage:    a.cfg.BalanceCheck.SkipMessage,
		RemainderMin:   remMin,
		RemainderMax:   remMax,
		ExplorerURL:    a.cfg.Explorer.BaseURL,
		Symbol:         symbol,
	}, a.client, a.oracle, policy.NewAmountPolicy(remMin, remMax, newRand()), a.clock, a.reporter)

	var predictor policy.SkipPredictor
	if a.cfg.BalanceCheck.Enabled {
		predictor = policy.BalanceSkipPredictor{Reader: a.client, Minimum: a.minimumBalance()}
	}
	delayMin := config.Seconds(ex.RandomDelayRange.Min)
	delayMax := config.Seconds(ex.RandomDelayRange.Max)
	skipped := config.Seconds(ex.SkippedAccountDelay)
	delays := policy.NewDelayPolicy(delayMin, delayMax, skipped, predictor, newRand())

	var opts []batch.Option
	if a.history != nil {
		opts = append(opts, batch.WithHistory(a.history))
	}
	return batch.New(batch.Config{
		Shuffle:       ex.ShuffleWallets,
		ShowProgress:  ex.ShowProgress,
		DetailedStats: ex.DetailedStats,
		ResultsDir:    a.cfg.Results.Dir,
		Symbol:        symbol,
		RemainderMin:  remMin,
		RemainderMax:  remMax,
		DelayMin:      delayMin,
		DelayMax:      delayMax,
		SkippedDelay:  skipped,
	}, sender, delays, a.clock, newRand(), a.reporter, opts...)
}

// loadInputs reads the key and recipient files. Rejected lines are logged
// and skipped.
func (a *app) loadInputs() ([]keys.Credential, []common.Address, error) {
	creds, badKeys, err := keys.LoadCredentials(a.cfg.Files.PrivateKeys)
	for _, bad := range badKeys {
		a.log.Warn("Invalid private key skipped", "file", a.cfg.Files.PrivateKeys, "line", bad.Line, "value", bad.Value)
	}
	if err != nil {
		a.log.Error("❌ Failed to load private keys", "err", err)
		return nil, nil, err
	}
	dests, badAddrs, err := keys.LoadDestinations(a.cfg.Files.Recipients)
	for _, bad := range badAddrs {
		a.log.Warn("Invalid address skipped", "file", a.cfg.Files.Recipients, "line", bad.Line, "value", bad.Value)
	}
	if err != nil {
		a.log.Error("❌ Failed to load recipient addresses", "err", err)
		return nil, nil, err
	}
	a.log.Info("Loaded inputs", "keys", len(creds), "recipients", len(dests))
	return creds, dests, nil
}

// showGas logs the current gas price, the cost of one transfer and how it
// compares with the configured ceiling.
func (a *app) showGas(ctx context.Context) error {
	q, err := a.oracle.Current(ctx)
	if err != nil {
		a.log.Error("❌ Failed to get gas price", "err", err)
		return err
	}
	ceiling := config.Decimal(a.cfg.GasMonitor.MaxGasPriceGwei)
	status := "✅ acceptable"
	if q.Gwei.GreaterThan(ceiling) {
		status = "⚠️ above maximum"
	}
	a.log.Info("⛽ Current gas price",
		"gwei", q.Gwei.StringFixed(2),
		"transfer_cost", units.FormatEther(q.TransferCost(a.cfg.Transaction.GasLimit))+" "+symbol,
		"max", ceiling.StringFixed(2),
		"status", status,
	)
	if !a.cfg.GasMonitor.Enabled {
		a.log.Info("Gas monitor disabled, transfers are not gated")
	}
	return nil
}
