package policy

import (
	"context"
	"math/big"
	"math/rand"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type DelayKind int

const (
	DelayNormal DelayKind = iota
	DelaySkipped
)

func (k DelayKind) String() string {
	if k == DelaySkipped {
		return "skipped"
	}
	return "normal"
}

type Delay struct {
	Duration time.Duration
	Kind     DelayKind
}

// SkipPredictor guesses whether the account at addr will be skipped. It must
// not block the batch on errors; an uncertain prediction is "not skipped".
type SkipPredictor interface {
	PredictSkip(ctx context.Context, addr common.Address) bool
}

type BalanceReader interface {
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
}

// BalanceSkipPredictor reads the next balance and compares it with the same
// minimum the transfer step applies.
type BalanceSkipPredictor struct {
	Reader  BalanceReader
	Minimum *big.Int
}

func (b BalanceSkipPredictor) PredictSkip(ctx context.Context, addr common.Address) bool {
	bal, err := b.Reader.Balance(ctx, addr)
	if err != nil {
		return false
	}
	return bal.Cmp(b.Minimum) < 0
}

// DelayPolicy picks the pause between two consecutive accounts. A skipped
// account followed by another predicted skip gets the short skipped delay;
// every other pair gets a uniform draw from the configured range.
type DelayPolicy struct {
	mu        sync.Mutex
	rnd       *rand.Rand
	lo        time.Duration
	hi        time.Duration
	skipped   time.Duration
	predictor SkipPredictor
}

// NewDelayPolicy builds a policy. A nil predictor never predicts a skip.
func NewDelayPolicy(lo, hi, skipped time.Duration, predictor SkipPredictor, rnd *rand.Rand) *DelayPolicy {
	if hi < lo {
		hi = lo
	}
	return &DelayPolicy{
		rnd:       rnd,
		lo:        lo,
		hi:        hi,
		skipped:   skipped,
		predictor: predictor,
	}
}

func (p *DelayPolicy) Compute(ctx context.Context, currentSkipped bool, next common.Address) Delay {
	if currentSkipped && p.predictor != nil && p.predictor.PredictSkip(ctx, next) {
		return Delay{Duration: p.skipped, Kind: DelaySkipped}
	}
	return Delay{Duration: p.normal(), Kind: DelayNormal}
}

func (p *DelayPolicy) normal() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lo + time.Duration(p.rnd.Float64()*float64(p.hi-p.lo))
}
