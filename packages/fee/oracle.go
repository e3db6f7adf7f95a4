// Package fee quotes the network gas price and gates submissions on a
// configured ceiling.
package fee

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
	"github.com/ethereum/go-ethereum/log"
	"github.com/shopspring/decimal"

	"github.com/okx/sweeper/packages/clock"
	"github.com/okx/sweeper/packages/units"
)

// ErrUnavailable is returned when no quote can be obtained from the node.
var ErrUnavailable = errors.New("gas price unavailable")

// Source is the part of the ledger client the oracle queries.
type Source interface {
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Quote is a gas price in wei and gwei, captured at At.
type Quote struct {
	Wei  *big.Int
	Gwei decimal.Decimal
	At   mclock.AbsTime
}

type GateConfig struct {
	Enabled        bool
	Ceiling        decimal.Decimal // gwei
	PollInterval   time.Duration
	MaxWait        time.Duration
	NotifyInterval time.Duration
}

type Oracle struct {
	mu     sync.Mutex
	src    Source
	ttl    time.Duration
	gate   GateConfig
	clock  mclock.Clock
	log    log.Logger
	cached *Quote

	notified   bool
	lastNotify mclock.AbsTime
}

func NewOracle(src Source, ttl time.Duration, gate GateConfig, c mclock.Clock, l log.Logger) *Oracle {
	return &Oracle{
		src:   src,
		ttl:   ttl,
		gate:  gate,
		clock: c,
		log:   l,
	}
}

// Current returns the cached quote while it is younger than the TTL and
// queries the node otherwise.
func (o *Oracle) Current(ctx context.Context) (Quote, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.clock.Now()
	if o.cached != nil && time.Duration(now-o.cached.At) < o.ttl {
		return *o.cached, nil
	}

	wei, err := o.src.SuggestGasPrice(ctx)
	if err != nil {
		o.log.Error("Failed to get gas price", "err", err)
		return Quote{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	q := Quote{Wei: wei, Gwei: units.WeiToGwei(wei), At: now}
	o.cached = &q
	return q, nil
}

// AwaitAcceptable blocks until the gas price is at or below the configured
// ceiling. It reports true when the gate is disabled, when no quote can be
// obtained and when the maximum wait elapses with the price still high, so
// the caller may go ahead at an elevated price. The only error is the
// context's.
func (o *Oracle) AwaitAcceptable(ctx context.Context, l log.Logger) (bool, error) {
	if !o.gate.Enabled {
		return true, nil
	}
	if l == nil {
		l = o.log
	}

	start := o.clock.Now()
	ceiling := o.gate.Ceiling.StringFixed(2)
	for {
		q, err := o.Current(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return false, ctxErr
			}
			l.Warn("Gas price unavailable, continuing without gas gate")
			return true, nil
		}
		current := q.Gwei.StringFixed(2)
		if q.Gwei.LessThanOrEqual(o.gate.Ceiling) {
			l.Info("Gas price acceptable", "gwei", current, "max", ceiling)
			return true, nil
		}

		elapsed := clock.Since(o.clock, start)
		if elapsed >= o.gate.MaxWait {
			l.Warn("Max gas wait time exceeded, continuing with current gas price",
				"waited", elapsed.Round(time.Second), "gwei", current)
			return true, nil
		}

		remaining := (o.gate.MaxWait - elapsed).Round(time.Second)
		if o.shouldNotify() {
			l.Warn("⏳ Gas price too high, waiting",
				"gwei", current, "max", ceiling, "remaining", remaining)
		} else {
			l.Info("Gas price still high", "gwei", current, "max", ceiling, "remaining", remaining)
		}

		if err := clock.Sleep(ctx, o.clock, o.gate.PollInterval); err != nil {
			return false, err
		}
	}
}

// shouldNotify reports whether a "too high" warning is due and, if so, marks
// it sent. Warnings are shared by every caller of the oracle and spaced at
// least NotifyInterval apart on the oracle's clock.
func (o *Oracle) shouldNotify() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.clock.Now()
	if o.notified && time.Duration(now-o.lastNotify) < o.gate.NotifyInterval {
		return false
	}
	o.notified = true
	o.lastNotify = now
	return true
}

// TransferCost is the wei cost of one transfer of gasLimit at quote q.
func (q Quote) TransferCost(gasLimit uint64) *big.Int {
	return units.TxCost(q.Wei, gasLimit)
}
