// Package policy decides how much each account sends and how long the batch
// pauses between accounts.
package policy

import (
	"math/big"
	"math/rand"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/okx/sweeper/packages/units"
)

// Amount is the outcome of a send-amount computation, all values in wei.
// Value is zero when the balance cannot cover Fee plus Reserved.
type Amount struct {
	Value    *big.Int
	Reserved *big.Int
	Fee      *big.Int
}

// Sendable reports whether there is anything left to send.
func (a Amount) Sendable() bool {
	return a.Value != nil && a.Value.Sign() > 0
}

// AmountPolicy drains an account down to a randomized remainder drawn
// uniformly from an inclusive ether range, so accounts don't all end on the
// same balance.
type AmountPolicy struct {
	mu     sync.Mutex
	rnd    *rand.Rand
	minWei *big.Int
	span   *big.Int // maxWei - minWei + 1
}

func NewAmountPolicy(minEth, maxEth decimal.Decimal, rnd *rand.Rand) *AmountPolicy {
	minWei := units.EtherToWei(minEth)
	maxWei := units.EtherToWei(maxEth)
	span := new(big.Int).Sub(maxWei, minWei)
	if span.Sign() < 0 {
		span.SetInt64(0)
	}
	return &AmountPolicy{
		rnd:    rnd,
		minWei: minWei,
		span:   span.Add(span, big.NewInt(1)),
	}
}

// Reserve draws a remainder in wei.
func (p *AmountPolicy) Reserve() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	r := new(big.Int).Rand(p.rnd, p.span)
	return r.Add(r, p.minWei)
}

// Compute returns balance - gasPrice*gasLimit - remainder, or zero.
func (p *AmountPolicy) Compute(balance, gasPrice *big.Int, gasLimit uint64) Amount {
	fee := units.TxCost(gasPrice, gasLimit)
	reserved := p.Reserve()

	value := new(big.Int).Sub(balance, fee)
	value.Sub(value, reserved)
	if value.Sign() <= 0 {
		value.SetInt64(0)
	}
	return Amount{Value: value, Reserved: reserved, Fee: fee}
}
