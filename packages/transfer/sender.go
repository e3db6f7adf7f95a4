// Package transfer drives one account from balance lookup to a confirmed
// transfer, a skip or a failure.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/semaphore"

	"github.com/okx/sweeper/packages/clock"
	"github.com/okx/sweeper/packages/fee"
	"github.com/okx/sweeper/packages/keys"
	"github.com/okx/sweeper/packages/ledger"
	"github.com/okx/sweeper/packages/logging"
	"github.com/okx/sweeper/packages/policy"
	"github.com/okx/sweeper/packages/stats"
	"github.com/okx/sweeper/packages/units"
)

const (
	ReasonBalanceFetch   = "balance fetch error"
	ReasonNothingToSend  = "insufficient funds for fee and reserved remainder"
	ReasonHighFee        = "high fee at submission time"
	ReasonInterrupted    = "interrupted"
	defaultSymbol        = "ETH"
	defaultRetryCount    = 1
	defaultMaxConcurrent = 1
)

// FeeOracle is what the sender needs from fee.Oracle.
type FeeOracle interface {
	Current(ctx context.Context) (fee.Quote, error)
	AwaitAcceptable(ctx context.Context, l log.Logger) (bool, error)
}

type Config struct {
	GasLimit       uint64
	StaticGasPrice *big.Int
	DynamicGas     bool
	Multiplier     decimal.Decimal

	RetryCount     int
	RetryBackoff   time.Duration
	ReceiptTimeout time.Duration
	MaxConcurrent  int

	// MinimumBalance is only applied when BalanceCheck is set.
	BalanceCheck   bool
	MinimumBalance *big.Int
	SkipMessage    string

	RemainderMin decimal.Decimal
	RemainderMax decimal.Decimal
	ExplorerURL  string
	Symbol       string
}

// Account pairs a credential with its destination for one batch slot.
type Account struct {
	ID         stats.AccountID
	Credential keys.Credential
	To         common.Address
}

type Sender struct {
	cfg      Config
	ledger   ledger.Client
	fees     FeeOracle
	amounts  *policy.AmountPolicy
	sem      *semaphore.Weighted
	clock    mclock.Clock
	reporter *logging.Reporter
}

func NewSender(cfg Config, client ledger.Client, fees FeeOracle, amounts *policy.AmountPolicy, c mclock.Clock, reporter *logging.Reporter) *Sender {
	if cfg.RetryCount < 1 {
		cfg.RetryCount = defaultRetryCount
	}
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.Symbol == "" {
		cfg.Symbol = defaultSymbol
	}
	if cfg.MinimumBalance == nil {
		cfg.MinimumBalance = new(big.Int)
	}
	if cfg.StaticGasPrice == nil {
		cfg.StaticGasPrice = new(big.Int)
	}
	return &Sender{
		cfg:      cfg,
		ledger:   client,
		fees:     fees,
		amounts:  amounts,
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		clock:    c,
		reporter: reporter,
	}
}

// Process runs one account to its terminal outcome. It never returns nil.
func (s *Sender) Process(ctx context.Context, acc Account) stats.Outcome {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return s.fail(acc, ReasonInterrupted)
	}
	defer s.sem.Release(1)

	l := s.reporter.Account(int(acc.ID))
	from := acc.Credential.Address()

	balance, err := s.ledger.Balance(ctx, from)
	if err != nil {
		if ctx.Err() != nil {
			return s.fail(acc, ReasonInterrupted)
		}
		l.Error("Failed to get balance", "address", from, "err", err)
		return s.fail(acc, ReasonBalanceFetch)
	}
	l.Info("Balance", "address", from, "balance", units.FormatEther(balance)+" "+s.cfg.Symbol)

	if s.cfg.BalanceCheck && balance.Cmp(s.cfg.MinimumBalance) < 0 {
		s.reporter.AccountSkipped(int(acc.ID), s.cfg.SkipMessage, units.FormatEther(balance)+" "+s.cfg.Symbol)
		return stats.Skipped{
			ID:      acc.ID,
			Address: from,
			Balance: units.WeiToEther(balance),
			Minimum: units.WeiToEther(s.cfg.MinimumBalance),
		}
	}

	gasPrice := s.gasPrice(ctx, l)
	amount := s.amounts.Compute(balance, gasPrice, s.cfg.GasLimit)
	if !amount.Sendable() {
		l.Error("Insufficient funds",
			"balance", units.FormatEther(balance),
			"fee", units.FormatEther(amount.Fee),
			"remainder", units.FormatEther(amount.Reserved))
		return s.fail(acc, ReasonNothingToSend)
	}

	l.Info("Planned transfer",
		"amount", units.FormatEther(amount.Value)+" "+s.cfg.Symbol,
		"remainder", units.FormatEther(amount.Reserved),
		"range", fmt.Sprintf("%s-%s", s.cfg.RemainderMin.String(), s.cfg.RemainderMax.String()),
		"after_fee", units.FormatEther(new(big.Int).Sub(balance, amount.Fee)))

	required := new(big.Int).Add(amount.Value, amount.Fee)
	if balance.Cmp(required) < 0 {
		return s.fail(acc, fmt.Sprintf("insufficient funds: need %s %s, have %s %s",
			units.FormatEther(required), s.cfg.Symbol, units.FormatEther(balance), s.cfg.Symbol))
	}

	return s.submit(ctx, l, acc, amount, gasPrice)
}

// gasPrice returns the static price, or the oracle price times the
// multiplier when dynamic pricing is on and a quote is available.
func (s *Sender) gasPrice(ctx context.Context, l log.Logger) *big.Int {
	if !s.cfg.DynamicGas {
		return s.cfg.StaticGasPrice
	}
	q, err := s.fees.Current(ctx)
	if err != nil {
		l.Warn("Dynamic gas price unavailable, using static price",
			"gwei", units.FormatGwei(s.cfg.StaticGasPrice), "err", err)
		return s.cfg.StaticGasPrice
	}
	price := decimal.NewFromBigInt(q.Wei, 0).Mul(s.cfg.Multiplier).BigInt()
	l.Info("Dynamic gas price",
		"network", q.Gwei.StringFixed(2),
		"multiplier", s.cfg.Multiplier.String(),
		"gwei", units.FormatGwei(price))
	return price
}

func (s *Sender) submit(ctx context.Context, l log.Logger, acc Account, amount policy.Amount, gasPrice *big.Int) stats.Outcome {
	from := acc.Credential.Address()
	var lastErr error

	for attempt := 1; attempt <= s.cfg.RetryCount; attempt++ {
		if attempt > 1 {
			l.Warn("Retrying transfer", "attempt", attempt, "of", s.cfg.RetryCount, "backoff", s.cfg.RetryBackoff)
			if err := clock.Sleep(ctx, s.clock, s.cfg.RetryBackoff); err != nil {
				return s.fail(acc, ReasonInterrupted)
			}
		}

		ok, err := s.fees.AwaitAcceptable(ctx, l)
		if err != nil {
			return s.fail(acc, ReasonInterrupted)
		}
		if !ok {
			return s.fail(acc, ReasonHighFee)
		}

		receipt, err := s.attempt(ctx, acc, amount.Value, gasPrice)
		if err == nil {
			return s.succeed(ctx, l, acc, amount, receipt)
		}
		if ctx.Err() != nil {
			return s.fail(acc, ReasonInterrupted)
		}
		if errors.Is(err, ledger.ErrInsufficientFunds) {
			l.Error("Transfer rejected, not retrying", "err", err)
			return s.fail(acc, err.Error())
		}
		l.Warn("Transfer attempt failed", "attempt", attempt, "from", from, "err", err)
		lastErr = err
	}
	return s.fail(acc, lastErr.Error())
}

func (s *Sender) attempt(ctx context.Context, acc Account, value, gasPrice *big.Int) (*ledger.Receipt, error) {
	nonce, err := s.ledger.Nonce(ctx, acc.Credential.Address())
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce: %w", err)
	}
	hash, err := s.ledger.SendTransfer(ctx, ledger.Transfer{
		Key:      acc.Credential.PrivateKey(),
		Nonce:    nonce,
		To:       acc.To,
		Value:    value,
		GasLimit: s.cfg.GasLimit,
		GasPrice: gasPrice,
	})
	if err != nil {
		return nil, err
	}
	s.reporter.Account(int(acc.ID)).Info("Transaction sent", "tx", hash.Hex())

	receipt, err := s.ledger.WaitForReceipt(ctx, hash, s.cfg.ReceiptTimeout)
	if err != nil {
		return nil, err
	}
	if !receipt.Succeeded() {
		return nil, fmt.Errorf("%w: %s status %d", ledger.ErrTxReverted, hash.Hex(), receipt.Status)
	}
	return receipt, nil
}

func (s *Sender) succeed(ctx context.Context, l log.Logger, acc Account, amount policy.Amount, receipt *ledger.Receipt) stats.Outcome {
	from := acc.Credential.Address()
	gasUsed := receipt.GasUsed
	if gasUsed == 0 {
		gasUsed = s.cfg.GasLimit
	}
	sent := units.WeiToEther(amount.Value)
	s.reporter.TransferSucceeded(int(acc.ID), receipt.TxHash.Hex(), s.cfg.ExplorerURL, sent.StringFixed(8), s.cfg.Symbol, from)

	if final, err := s.ledger.Balance(ctx, from); err == nil {
		l.Info("Final balance", "balance", units.FormatEther(final)+" "+s.cfg.Symbol)
	}

	return stats.Success{
		ID:       acc.ID,
		Address:  from,
		Amount:   sent,
		GasUsed:  gasUsed,
		TxHash:   receipt.TxHash,
		Reserved: units.WeiToEther(amount.Reserved),
	}
}

func (s *Sender) fail(acc Account, reason string) stats.Outcome {
	s.reporter.AccountFailed(int(acc.ID), reason)
	return stats.Failed{ID: acc.ID, Address: acc.Credential.Address(), Reason: reason}
}
