// Package batch runs a list of accounts one after another, pausing between
// them, and collects the outcomes into a stats.Batch.
package batch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/okx/sweeper/packages/clock"
	"github.com/okx/sweeper/packages/keys"
	"github.com/okx/sweeper/packages/logging"
	"github.com/okx/sweeper/packages/policy"
	"github.com/okx/sweeper/packages/stats"
	"github.com/okx/sweeper/packages/transfer"
)

var ErrLengthMismatch = errors.New("private keys and recipient addresses count mismatch")

// Processor runs a single account to its terminal outcome.
type Processor interface {
	Process(ctx context.Context, acc transfer.Account) stats.Outcome
}

// Recorder persists a finished batch.
type Recorder interface {
	SaveBatch(ctx context.Context, b *stats.Batch, label string) error
}

type DelayPolicy interface {
	Compute(ctx context.Context, currentSkipped bool, next common.Address) policy.Delay
}

type Config struct {
	Shuffle       bool
	ShowProgress  bool
	DetailedStats bool
	ResultsDir    string
	Symbol        string

	// shown in the settings banner only
	RemainderMin decimal.Decimal
	RemainderMax decimal.Decimal
	DelayMin     time.Duration
	DelayMax     time.Duration
	SkippedDelay time.Duration
}

type Orchestrator struct {
	cfg      Config
	sender   Processor
	delays   DelayPolicy
	clock    mclock.Clock
	reporter *logging.Reporter

	rndMu sync.Mutex
	rnd   *rand.Rand

	history  Recorder
	now      func() time.Time
	newRunID func() string
}

type Option func(*Orchestrator)

// WithHistory stores every finished batch in r.
func WithHistory(r Recorder) Option {
	return func(o *Orchestrator) { o.history = r }
}

func WithNow(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithRunID(fn func() string) Option {
	return func(o *Orchestrator) { o.newRunID = fn }
}

func New(cfg Config, sender Processor, delays DelayPolicy, c mclock.Clock, rnd *rand.Rand, reporter *logging.Reporter, opts ...Option) *Orchestrator {
	if cfg.Symbol == "" {
		cfg.Symbol = "ETH"
	}
	o := &Orchestrator{
		cfg:      cfg,
		sender:   sender,
		delays:   delays,
		clock:    c,
		rnd:      rnd,
		reporter: reporter,
		now:      time.Now,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run processes creds[i] -> dests[i] for every i and returns the collected
// statistics. When ctx is cancelled the batch stops before the next account,
// is finished and persisted as usual, and ctx.Err() is returned together
// with the partial batch.
func (o *Orchestrator) Run(ctx context.Context, label string, creds []keys.Credential, dests []common.Address) (*stats.Batch, error) {
	l := o.reporter.Logger()
	if len(creds) != len(dests) {
		l.Error("❌ Private keys and recipient addresses count mismatch", "keys", len(creds), "recipients", len(dests))
		return nil, fmt.Errorf("%w: %d keys, %d recipients", ErrLengthMismatch, len(creds), len(dests))
	}

	n := len(creds)
	order := o.order(n)
	b := stats.NewBatch(o.newRunID(), n, order)
	o.banner(label, b.RunID(), n)
	b.Start(o.now())

	for i, pos := range order {
		if ctx.Err() != nil {
			break
		}
		id := stats.Position(i).AccountID()
		if o.cfg.ShowProgress && i > 0 {
			c := b.Counts()
			o.reporter.Progress(i, n, c.Succeeded, c.Failed, c.Skipped)
		}

		out := o.sender.Process(ctx, transfer.Account{ID: id, Credential: creds[pos], To: dests[pos]})
		if err := b.Record(out); err != nil {
			l.Error("Failed to record outcome", "account", id, "err", err)
		}

		if i == n-1 {
			break
		}
		next := creds[order[i+1]].Address()
		delay := o.delays.Compute(ctx, out.Kind() == stats.KindSkipped, next)
		l.Info("⏳ Waiting before next account",
			"seconds", fmt.Sprintf("%.1f", delay.Duration.Seconds()),
			"delay", delay.Kind.String())
		if err := clock.Sleep(ctx, o.clock, delay.Duration); err != nil {
			break
		}
		b.AddDelay(delay.Duration)
	}

	finished := o.now()
	b.Finish(finished)
	if err := ctx.Err(); err != nil {
		c := b.Counts()
		l.Warn("⚠️ Batch interrupted", "processed", c.Processed(), "total", c.Total)
	}
	b.Summary().Log(l, o.cfg.Symbol, o.cfg.DetailedStats)
	o.persist(b, label, finished)
	return b, ctx.Err()
}

func (o *Orchestrator) order(n int) []stats.Position {
	order := make([]stats.Position, n)
	if !o.cfg.Shuffle {
		for i := range order {
			order[i] = stats.Position(i)
		}
		return order
	}
	o.rndMu.Lock()
	perm := o.rnd.Perm(n)
	o.rndMu.Unlock()
	for i, p := range perm {
		order[i] = stats.Position(p)
	}
	o.reporter.Logger().Info("🔀 Wallets shuffled")
	return order
}

func (o *Orchestrator) banner(label, runID string, n int) {
	shuffle := "disabled"
	if o.cfg.Shuffle {
		shuffle = "enabled"
	}
	o.reporter.Logger().Info("🚀 Starting batch",
		"run", runID,
		"pass", label,
		"accounts", n,
		"remainder", fmt.Sprintf("%s-%s %s", o.cfg.RemainderMin, o.cfg.RemainderMax, o.cfg.Symbol),
		"delay", fmt.Sprintf("%.1f-%.1fs", o.cfg.DelayMin.Seconds(), o.cfg.DelayMax.Seconds()),
		"skipped_delay", fmt.Sprintf("%.1fs", o.cfg.SkippedDelay.Seconds()),
		"shuffle", shuffle,
	)
}

// persist writes the failed/skipped lists and the history record. Neither
// failure changes the outcome of the batch.
func (o *Orchestrator) persist(b *stats.Batch, label string, now time.Time) {
	l := o.reporter.Logger()
	if o.cfg.ResultsDir != "" {
		paths, err := stats.SaveResults(b, o.cfg.ResultsDir, now)
		if err != nil {
			l.Error("Failed to save results", "err", err)
		}
		for _, p := range paths {
			l.Info("💾 Results saved", "file", p)
		}
	}
	if o.history != nil {
		// the batch context may already be cancelled; the record is still wanted
		if err := o.history.SaveBatch(context.Background(), b, label); err != nil {
			l.Error("Failed to save batch history", "run", b.RunID(), "err", err)
		}
	}
}
