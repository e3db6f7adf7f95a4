// Package stats accumulates the per-account outcomes of a batch run and the
// totals derived from them.
package stats

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/shopspring/decimal"
)

var (
	ErrDuplicate = errors.New("account already recorded")
	ErrFinished  = errors.New("batch already finished")
	ErrUnknown   = errors.New("account id out of range")
)

// Batch holds the outcomes of one run. Outcomes are kept in the order they
// are recorded. Once Finish is called the batch no longer changes.
type Batch struct {
	mu sync.RWMutex

	runID string
	// order maps a processing slot to the input position processed there.
	order []Position

	successes []Success
	failed    []Failed
	skipped   []Skipped
	seen      map[AccountID]Kind

	totalSent  decimal.Decimal
	totalGas   uint64
	totalDelay time.Duration

	start    time.Time
	end      time.Time
	finished bool
}

// NewBatch creates a batch over total inputs. order[i] is the input position
// processed as account i+1; a nil order means inputs run in their own order.
func NewBatch(runID string, total int, order []Position) *Batch {
	if order == nil {
		order = make([]Position, total)
		for i := range order {
			order[i] = Position(i)
		}
	}
	return &Batch{
		runID: runID,
		order: append([]Position(nil), order...),
		seen:  make(map[AccountID]Kind, total),
	}
}

func (b *Batch) RunID() string { return b.runID }

// Total is the number of accounts in the batch.
func (b *Batch) Total() int { return len(b.order) }

func (b *Batch) Start(t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.start = t
}

func (b *Batch) Finish(t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finished {
		return
	}
	b.end = t
	b.finished = true
}

func (b *Batch) Finished() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.finished
}

// Record adds the terminal outcome of one account.
func (b *Batch) Record(o Outcome) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := o.Account()
	if b.finished {
		return fmt.Errorf("%w: account %d", ErrFinished, id)
	}
	if id < 1 || int(id) > len(b.order) {
		return fmt.Errorf("%w: %d", ErrUnknown, id)
	}
	if k, ok := b.seen[id]; ok {
		return fmt.Errorf("%w: account %d is %s", ErrDuplicate, id, k)
	}

	switch v := o.(type) {
	case Success:
		b.successes = append(b.successes, v)
		b.totalSent = b.totalSent.Add(v.Amount)
		b.totalGas += v.GasUsed
	case Failed:
		b.failed = append(b.failed, v)
	case Skipped:
		b.skipped = append(b.skipped, v)
	default:
		return fmt.Errorf("unsupported outcome %T", o)
	}
	b.seen[id] = o.Kind()
	return nil
}

func (b *Batch) AddDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.totalDelay += d
}

// InputPosition returns the input position that was processed as id.
func (b *Batch) InputPosition(id AccountID) (Position, bool) {
	p := id.Position()
	if p < 0 || int(p) >= len(b.order) {
		return 0, false
	}
	return b.order[p], true
}

func (b *Batch) Successes() []Success {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Success(nil), b.successes...)
}

func (b *Batch) Failed() []Failed {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Failed(nil), b.failed...)
}

func (b *Batch) Skipped() []Skipped {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Skipped(nil), b.skipped...)
}

type Counts struct {
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
}

// Processed is the number of accounts that reached a terminal outcome.
func (c Counts) Processed() int {
	return c.Succeeded + c.Failed + c.Skipped
}

func (b *Batch) Counts() Counts {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Counts{
		Total:     len(b.order),
		Succeeded: len(b.successes),
		Failed:    len(b.failed),
		Skipped:   len(b.skipped),
	}
}

// Summary is a snapshot of the totals of a batch.
type Summary struct {
	RunID string
	Counts
	TotalSent    decimal.Decimal
	TotalGasUsed uint64
	TotalDelay   time.Duration
	Started      time.Time
	Ended        time.Time
	Duration     time.Duration
	AvgAmount    decimal.Decimal
	MinReserved  decimal.Decimal
	MaxReserved  decimal.Decimal
	AvgReserved  decimal.Decimal
}

func (b *Batch) Summary() Summary {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s := Summary{
		RunID: b.runID,
		Counts: Counts{
			Total:     len(b.order),
			Succeeded: len(b.successes),
			Failed:    len(b.failed),
			Skipped:   len(b.skipped),
		},
		TotalSent:    b.totalSent,
		TotalGasUsed: b.totalGas,
		TotalDelay:   b.totalDelay,
		Started:      b.start,
		Ended:        b.end,
	}
	if !b.start.IsZero() && !b.end.IsZero() {
		s.Duration = b.end.Sub(b.start)
	}
	if n := len(b.successes); n > 0 {
		count := decimal.NewFromInt(int64(n))
		s.AvgAmount = b.totalSent.Div(count)

		reserved := make([]decimal.Decimal, 0, n)
		for _, v := range b.successes {
			reserved = append(reserved, v.Reserved)
		}
		s.MinReserved = decimal.Min(reserved[0], reserved[1:]...)
		s.MaxReserved = decimal.Max(reserved[0], reserved[1:]...)
		s.AvgReserved = decimal.Avg(reserved[0], reserved[1:]...)
	}
	return s
}

// Log writes the final statistics. detailed adds the extended totals.
func (s Summary) Log(l log.Logger, symbol string, detailed bool) {
	l.Info("📊 Final statistics",
		"run", s.RunID,
		"total", s.Total,
		"succeeded", s.Succeeded,
		"failed", s.Failed,
		"skipped", s.Skipped,
	)
	if !detailed {
		return
	}
	l.Info("📈 Detailed statistics",
		"sent", s.TotalSent.StringFixed(8)+" "+symbol,
		"gas_used", s.TotalGasUsed,
		"elapsed", s.Duration.Round(time.Second),
		"delay", s.TotalDelay.Round(time.Second),
	)
	if s.Succeeded > 0 {
		l.Info("📈 Per transfer",
			"avg_amount", s.AvgAmount.StringFixed(8)+" "+symbol,
			"min_remainder", s.MinReserved.StringFixed(8),
			"max_remainder", s.MaxReserved.StringFixed(8),
			"avg_remainder", s.AvgReserved.StringFixed(8),
		)
	}
}
