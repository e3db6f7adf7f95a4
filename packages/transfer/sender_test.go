package transfer

import (
	"context"
	"errors"
	"math/big"
	"math/rand"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/okx/sweeper/packages/clock"
	"github.com/okx/sweeper/packages/fee"
	"github.com/okx/sweeper/packages/keys"
	"github.com/okx/sweeper/packages/ledger"
	"github.com/okx/sweeper/packages/ledger/ledgertest"
	"github.com/okx/sweeper/packages/logging"
	"github.com/okx/sweeper/packages/policy"
	"github.com/okx/sweeper/packages/stats"
)

const richKey = "4bbbf85ce3377467afe5d46f804f221813b2bb87f24d81f60f1fcdbf7cbf4356"

var dest = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")

type harness struct {
	ledger *ledgertest.Ledger
	clock  *clock.Fake
	cfg    Config
	gate   fee.GateConfig
	acc    Account
}

func newHarness(t *testing.T) *harness {
	cred, err := keys.ParseCredential(richKey)
	require.NoError(t, err)
	l := ledgertest.New()
	l.SetBalance(cred.Address(), big.NewInt(params.Ether))
	return &harness{
		ledger: l,
		clock:  &clock.Fake{},
		cfg: Config{
			GasLimit:       21000,
			StaticGasPrice: big.NewInt(10 * params.GWei),
			Multiplier:     decimal.RequireFromString("1.2"),
			RetryCount:     3,
			RetryBackoff:   5 * time.Second,
			ReceiptTimeout: 300 * time.Second,
			MinimumBalance: big.NewInt(params.Ether / 1000),
			SkipMessage:    "Balance below minimum",
			RemainderMin:   decimal.RequireFromString("0.0001"),
			RemainderMax:   decimal.RequireFromString("0.0005"),
			ExplorerURL:    "https://etherscan.io/tx/",
		},
		acc: Account{ID: 1, Credential: cred, To: dest},
	}
}

func (h *harness) sender() *Sender {
	discard := log.NewLogger(log.DiscardHandler())
	oracle := fee.NewOracle(h.ledger, 30*time.Second, h.gate, h.clock, discard)
	amounts := policy.NewAmountPolicy(h.cfg.RemainderMin, h.cfg.RemainderMax, rand.New(rand.NewSource(42)))
	return NewSender(h.cfg, h.ledger, oracle, amounts, h.clock, logging.NewReporter(discard))
}

func TestSuccessKeepsRemainderInRange(t *testing.T) {
	h := newHarness(t)
	out := h.sender().Process(context.Background(), h.acc)

	s, ok := out.(stats.Success)
	require.True(t, ok, "%#v", out)
	require.Equal(t, stats.AccountID(1), s.ID)
	require.Equal(t, uint64(21000), s.GasUsed)
	require.True(t, s.Reserved.GreaterThanOrEqual(h.cfg.RemainderMin))
	require.True(t, s.Reserved.LessThanOrEqual(h.cfg.RemainderMax))

	require.Len(t, h.ledger.Sent, 1)
	sent := h.ledger.Sent[0]
	require.Equal(t, dest, sent.To)
	require.Equal(t, h.cfg.StaticGasPrice.String(), sent.GasPrice.String())

	// amount + fee + remainder never exceeds the starting balance
	left := h.ledger.BalanceOf(h.acc.Credential.Address())
	require.True(t, left.Sign() >= 0)
	require.Equal(t, s.Reserved.Shift(18).BigInt().String(), left.String())
	require.Empty(t, h.clock.Sleeps())
}

func TestSkipBelowMinimum(t *testing.T) {
	h := newHarness(t)
	h.cfg.BalanceCheck = true
	h.ledger.SetBalance(h.acc.Credential.Address(), big.NewInt(params.Ether/10000))

	out := h.sender().Process(context.Background(), h.acc)
	s, ok := out.(stats.Skipped)
	require.True(t, ok, "%#v", out)
	require.Equal(t, "0.0001", s.Balance.String())
	require.Equal(t, "0.001", s.Minimum.String())
	require.Zero(t, h.ledger.SendAttempts)
}

func TestBalanceCheckDisabledDoesNotSkip(t *testing.T) {
	h := newHarness(t)
	h.ledger.SetBalance(h.acc.Credential.Address(), big.NewInt(params.Ether/100))
	out := h.sender().Process(context.Background(), h.acc)
	require.Equal(t, stats.KindSuccess, out.Kind())
}

func TestBalanceFetchError(t *testing.T) {
	h := newHarness(t)
	h.ledger.BalanceErr[h.acc.Credential.Address()] = errors.New("timeout")
	out := h.sender().Process(context.Background(), h.acc)
	require.Equal(t, stats.Failed{ID: 1, Address: h.acc.Credential.Address(), Reason: ReasonBalanceFetch}, out)
}

func TestNothingToSend(t *testing.T) {
	h := newHarness(t)
	h.ledger.SetBalance(h.acc.Credential.Address(), big.NewInt(params.GWei))
	out := h.sender().Process(context.Background(), h.acc)
	f, ok := out.(stats.Failed)
	require.True(t, ok)
	require.Equal(t, ReasonNothingToSend, f.Reason)
	require.Zero(t, h.ledger.SendAttempts)
}

func TestTransientErrorsAreRetried(t *testing.T) {
	h := newHarness(t)
	h.ledger.SendFunc = func(attempt int, _ ledger.Transfer) error {
		if attempt <= 2 {
			return ledgertest.ErrTransient
		}
		return nil
	}

	out := h.sender().Process(context.Background(), h.acc)
	require.Equal(t, stats.KindSuccess, out.Kind())
	require.Equal(t, 3, h.ledger.SendAttempts)
	require.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, h.clock.Sleeps())
}

func TestRetriesExhausted(t *testing.T) {
	h := newHarness(t)
	h.ledger.SendFunc = func(int, ledger.Transfer) error { return ledgertest.ErrTransient }

	out := h.sender().Process(context.Background(), h.acc)
	f, ok := out.(stats.Failed)
	require.True(t, ok)
	require.Equal(t, ledgertest.ErrTransient.Error(), f.Reason)
	require.Equal(t, 3, h.ledger.SendAttempts)
	require.Len(t, h.clock.Sleeps(), 2)
}

func TestInsufficientFundsIsNotRetried(t *testing.T) {
	h := newHarness(t)
	h.ledger.SendFunc = func(int, ledger.Transfer) error {
		return errors.New("insufficient funds for gas * price + value")
	}

	out := h.sender().Process(context.Background(), h.acc)
	f, ok := out.(stats.Failed)
	require.True(t, ok)
	require.Contains(t, f.Reason, "insufficient funds")
	require.Equal(t, 1, h.ledger.SendAttempts)
	require.Empty(t, h.clock.Sleeps())
}

func TestRevertedReceiptIsRetried(t *testing.T) {
	h := newHarness(t)
	h.ledger.ReceiptFunc = func(attempt int, hash common.Hash) (*ledger.Receipt, error) {
		status := types.ReceiptStatusFailed
		if attempt == 2 {
			status = types.ReceiptStatusSuccessful
		}
		return &ledger.Receipt{TxHash: hash, Status: status}, nil
	}

	out := h.sender().Process(context.Background(), h.acc)
	s, ok := out.(stats.Success)
	require.True(t, ok, "%#v", out)
	require.Equal(t, uint64(21000), s.GasUsed, "falls back to the gas limit")
	require.Equal(t, 2, h.ledger.SendAttempts)
	require.Equal(t, []time.Duration{5 * time.Second}, h.clock.Sleeps())
}

func TestDynamicGasPrice(t *testing.T) {
	h := newHarness(t)
	h.cfg.DynamicGas = true
	h.ledger.Price = big.NewInt(10 * params.GWei)

	require.Equal(t, stats.KindSuccess, h.sender().Process(context.Background(), h.acc).Kind())
	require.Equal(t, "12000000000", h.ledger.Sent[0].GasPrice.String())
}

func TestDynamicGasFallsBackToStatic(t *testing.T) {
	h := newHarness(t)
	h.cfg.DynamicGas = true
	h.cfg.StaticGasPrice = big.NewInt(3 * params.GWei)
	h.ledger.PriceErr = errors.New("method not found")

	require.Equal(t, stats.KindSuccess, h.sender().Process(context.Background(), h.acc).Kind())
	require.Equal(t, "3000000000", h.ledger.Sent[0].GasPrice.String())
}

func TestGateTimeoutStillSends(t *testing.T) {
	h := newHarness(t)
	h.ledger.Price = big.NewInt(100 * params.GWei)
	h.gate = fee.GateConfig{
		Enabled:      true,
		Ceiling:      decimal.NewFromInt(10),
		PollInterval: time.Minute,
		MaxWait:      2 * time.Minute,
	}

	require.Equal(t, stats.KindSuccess, h.sender().Process(context.Background(), h.acc).Kind())
	require.Equal(t, []time.Duration{time.Minute, time.Minute}, h.clock.Sleeps())
}

func TestInterrupted(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := h.sender().Process(ctx, h.acc)
	f, ok := out.(stats.Failed)
	require.True(t, ok)
	require.Equal(t, ReasonInterrupted, f.Reason)
}
