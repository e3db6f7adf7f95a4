package batch

import (
	"context"
	"errors"
	"math/big"
	"math/rand"
	"os"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/params"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/okx/sweeper/packages/clock"
	"github.com/okx/sweeper/packages/fee"
	"github.com/okx/sweeper/packages/keys"
	"github.com/okx/sweeper/packages/ledger/ledgertest"
	"github.com/okx/sweeper/packages/logging"
	"github.com/okx/sweeper/packages/policy"
	"github.com/okx/sweeper/packages/retry"
	"github.com/okx/sweeper/packages/stats"
	"github.com/okx/sweeper/packages/transfer"
)

var testKeys = []string{
	"ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80",
	"59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d",
	"5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a",
}

type env struct {
	ledger *ledgertest.Ledger
	clock  *clock.Fake
	creds  []keys.Credential
	dests  []common.Address
	cfg    Config
	tcfg   transfer.Config
}

func newEnv(t *testing.T) *env {
	e := &env{
		ledger: ledgertest.New(),
		clock:  &clock.Fake{},
		cfg: Config{
			ResultsDir:   t.TempDir(),
			ShowProgress: true,
			DelayMin:     10 * time.Second,
			DelayMax:     10 * time.Second,
			SkippedDelay: 2 * time.Second,
		},
		tcfg: transfer.Config{
			GasLimit:       21000,
			StaticGasPrice: big.NewInt(params.GWei),
			RetryCount:     3,
			RetryBackoff:   5 * time.Second,
			ReceiptTimeout: time.Minute,
			BalanceCheck:   true,
			MinimumBalance: big.NewInt(params.Ether / 1000),
			SkipMessage:    "Balance below minimum",
			RemainderMin:   decimal.RequireFromString("0.0001"),
			RemainderMax:   decimal.RequireFromString("0.0002"),
		},
	}
	for i, k := range testKeys {
		c, err := keys.ParseCredential(k)
		require.NoError(t, err)
		e.creds = append(e.creds, c)
		e.dests = append(e.dests, common.BigToAddress(big.NewInt(int64(1000+i))))
		e.ledger.SetBalance(c.Address(), big.NewInt(params.Ether))
	}
	return e
}

func (e *env) orchestrator(opts ...Option) *Orchestrator {
	discard := log.NewLogger(log.DiscardHandler())
	reporter := logging.NewReporter(discard)
	oracle := fee.NewOracle(e.ledger, 30*time.Second, fee.GateConfig{}, e.clock, discard)
	amounts := policy.NewAmountPolicy(e.tcfg.RemainderMin, e.tcfg.RemainderMax, rand.New(rand.NewSource(1)))
	sender := transfer.NewSender(e.tcfg, e.ledger, oracle, amounts, e.clock, reporter)
	predictor := policy.BalanceSkipPredictor{Reader: e.ledger, Minimum: e.tcfg.MinimumBalance}
	delays := policy.NewDelayPolicy(e.cfg.DelayMin, e.cfg.DelayMax, e.cfg.SkippedDelay, predictor, rand.New(rand.NewSource(2)))
	return New(e.cfg, sender, delays, e.clock, rand.New(rand.NewSource(3)), reporter, opts...)
}

func TestRunBalanceFetchFailureForOneAccount(t *testing.T) {
	e := newEnv(t)
	e.ledger.BalanceErr[e.creds[1].Address()] = errors.New("rpc timeout")

	b, err := e.orchestrator().Run(context.Background(), "initial", e.creds, e.dests)
	require.NoError(t, err)
	require.True(t, b.Finished())

	c := b.Counts()
	require.Equal(t, 3, c.Processed())
	require.Equal(t, 2, c.Succeeded)
	require.Equal(t, []stats.Failed{{ID: 2, Address: e.creds[1].Address(), Reason: transfer.ReasonBalanceFetch}}, b.Failed())

	ids := []stats.AccountID{}
	for _, s := range b.Successes() {
		ids = append(ids, s.ID)
	}
	require.Equal(t, []stats.AccountID{1, 3}, ids)
	require.Equal(t, []time.Duration{10 * time.Second, 10 * time.Second}, e.clock.Sleeps())
	require.Equal(t, 20*time.Second, b.Summary().TotalDelay)

	entries, err := os.ReadDir(e.cfg.ResultsDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	creds, dests := retry.SelectSubset(b, e.creds, e.dests)
	require.Equal(t, []keys.Credential{e.creds[1]}, creds)
	require.Equal(t, []common.Address{e.dests[1]}, dests)
}

func TestRunLengthMismatch(t *testing.T) {
	e := newEnv(t)
	b, err := e.orchestrator().Run(context.Background(), "initial", e.creds, e.dests[:2])
	require.ErrorIs(t, err, ErrLengthMismatch)
	require.Nil(t, b)
	require.Zero(t, e.ledger.BalanceCalls)
}

func TestConsecutiveSkipsUseShortDelay(t *testing.T) {
	e := newEnv(t)
	e.ledger.SetBalance(e.creds[0].Address(), big.NewInt(1))
	e.ledger.SetBalance(e.creds[1].Address(), big.NewInt(1))

	b, err := e.orchestrator().Run(context.Background(), "initial", e.creds, e.dests)
	require.NoError(t, err)
	require.Equal(t, stats.Counts{Total: 3, Succeeded: 1, Skipped: 2}, b.Counts())
	// skip -> skip is short, skip -> real transfer is a normal delay
	require.Equal(t, []time.Duration{2 * time.Second, 10 * time.Second}, e.clock.Sleeps())
}

func TestShuffledRunReconcilesToInputs(t *testing.T) {
	e := newEnv(t)
	e.cfg.Shuffle = true
	e.ledger.BalanceErr[e.creds[2].Address()] = errors.New("rpc timeout")

	b, err := e.orchestrator().Run(context.Background(), "initial", e.creds, e.dests)
	require.NoError(t, err)
	require.Len(t, b.Failed(), 1)

	creds, dests := retry.SelectSubset(b, e.creds, e.dests)
	require.Equal(t, []keys.Credential{e.creds[2]}, creds)
	require.Equal(t, []common.Address{e.dests[2]}, dests)

	// every recipient received funds from its own paired sender only
	for i := 0; i < 2; i++ {
		require.Positive(t, e.ledger.BalanceOf(e.dests[i]).Sign())
	}
	require.Zero(t, e.ledger.BalanceOf(e.dests[2]).Sign())
}

type cancelling struct {
	cancel context.CancelFunc
	calls  int
}

func (c *cancelling) Process(ctx context.Context, acc transfer.Account) stats.Outcome {
	c.calls++
	if c.calls == 2 {
		c.cancel()
		return stats.Failed{ID: acc.ID, Address: acc.Credential.Address(), Reason: transfer.ReasonInterrupted}
	}
	return stats.Success{ID: acc.ID, Address: acc.Credential.Address(), Amount: decimal.NewFromInt(1)}
}

type recorder struct {
	labels []string
	runs   []*stats.Batch
}

func (r *recorder) SaveBatch(ctx context.Context, b *stats.Batch, label string) error {
	r.labels = append(r.labels, label)
	r.runs = append(r.runs, b)
	return nil
}

func TestRunInterrupted(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc := &cancelling{cancel: cancel}
	rec := &recorder{}
	discard := log.NewLogger(log.DiscardHandler())
	delays := policy.NewDelayPolicy(time.Second, time.Second, 0, nil, rand.New(rand.NewSource(1)))
	o := New(e.cfg, proc, delays, e.clock, rand.New(rand.NewSource(1)), logging.NewReporter(discard),
		WithHistory(rec), WithRunID(func() string { return "run-x" }))

	b, err := o.Run(ctx, "initial", e.creds, e.dests)
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, b)
	require.True(t, b.Finished())
	require.Equal(t, 2, proc.calls)
	require.Equal(t, stats.Counts{Total: 3, Succeeded: 1, Failed: 1}, b.Counts())
	require.Equal(t, []string{"initial"}, rec.labels)
	require.Equal(t, "run-x", rec.runs[0].RunID())

	creds, _ := retry.SelectSubset(b, e.creds, e.dests)
	require.Equal(t, []keys.Credential{e.creds[1]}, creds)
}
