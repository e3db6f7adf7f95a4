// Package clock holds the context-aware sleep used by every waiting step of a
// batch, and a fake clock that lets tests observe those waits.
package clock

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/mclock"
)

// Sleep waits for d on c, returning early with ctx.Err() when ctx is done.
func Sleep(ctx context.Context, c mclock.Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil || d <= 0 {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.After(d):
		return nil
	}
}

// Since returns the time elapsed on c since start.
func Since(c mclock.Clock, start mclock.AbsTime) time.Duration {
	return time.Duration(c.Now() - start)
}

// Fake is an mclock.Clock whose waits return immediately. Every wait advances
// the clock by its duration and is recorded, so callers can assert on the
// exact sleeps a piece of code performed.
type Fake struct {
	mu     sync.Mutex
	now    mclock.AbsTime
	sleeps []time.Duration
}

var _ mclock.Clock = (*Fake)(nil)

func (f *Fake) Now() mclock.AbsTime {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the clock forward without recording a sleep.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func (f *Fake) Sleep(d time.Duration) {
	f.record(d)
}

func (f *Fake) After(d time.Duration) <-chan mclock.AbsTime {
	now := f.record(d)
	ch := make(chan mclock.AbsTime, 1)
	ch <- now
	return ch
}

func (f *Fake) NewTimer(d time.Duration) mclock.ChanTimer {
	return &fakeTimer{clock: f, ch: f.After(d)}
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) mclock.Timer {
	f.record(d)
	fn()
	return &fakeTimer{clock: f}
}

// Sleeps returns every recorded wait in call order.
func (f *Fake) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.sleeps...)
}

func (f *Fake) record(d time.Duration) mclock.AbsTime {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sleeps = append(f.sleeps, d)
	f.now = f.now.Add(d)
	return f.now
}

type fakeTimer struct {
	clock *Fake
	ch    <-chan mclock.AbsTime
}

func (t *fakeTimer) C() <-chan mclock.AbsTime { return t.ch }
func (t *fakeTimer) Stop() bool               { return false }
func (t *fakeTimer) Reset(d time.Duration)    { t.ch = t.clock.After(d) }
