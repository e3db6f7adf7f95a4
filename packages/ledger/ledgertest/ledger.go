// Package ledgertest provides an in-memory ledger.Client for tests.
package ledgertest

import (
	"context"
	"encoding/binary"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/okx/sweeper/packages/ledger"
	"github.com/okx/sweeper/packages/units"
)

var _ ledger.Client = (*Ledger)(nil)

// Ledger keeps balances in memory. A transfer is settled when its receipt is
// read with a successful status: value plus the full gas limit cost is
// debited from the sender and value credited to the recipient.
type Ledger struct {
	mu sync.Mutex

	Balances   map[common.Address]*big.Int
	BalanceErr map[common.Address]error
	Price      *big.Int
	PriceErr   error

	// SendFunc, when set, is called with the 1-based send attempt number and
	// may reject the transfer.
	SendFunc func(attempt int, t ledger.Transfer) error
	// ReceiptFunc, when set, replaces the default successful receipt.
	ReceiptFunc func(attempt int, hash common.Hash) (*ledger.Receipt, error)

	Sent         []ledger.Transfer
	SendAttempts int
	ReceiptCalls int
	BalanceCalls int
	PriceCalls   int
	nonces       map[common.Address]uint64
	pending      map[common.Hash]ledger.Transfer
}

func New() *Ledger {
	return &Ledger{
		Balances:   make(map[common.Address]*big.Int),
		BalanceErr: make(map[common.Address]error),
		Price:      big.NewInt(1_000_000_000),
		nonces:     make(map[common.Address]uint64),
		pending:    make(map[common.Hash]ledger.Transfer),
	}
}

func (l *Ledger) SetBalance(addr common.Address, wei *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Balances[addr] = new(big.Int).Set(wei)
}

func (l *Ledger) BalanceOf(addr common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.Balances[addr]; ok {
		return new(big.Int).Set(b)
	}
	return new(big.Int)
}

func (l *Ledger) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.BalanceCalls++
	if err := l.BalanceErr[addr]; err != nil {
		return nil, err
	}
	if b, ok := l.Balances[addr]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (l *Ledger) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.PriceCalls++
	if l.PriceErr != nil {
		return nil, l.PriceErr
	}
	return new(big.Int).Set(l.Price), nil
}

func (l *Ledger) Nonce(ctx context.Context, addr common.Address) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.nonces[addr], nil
}

func (l *Ledger) SendTransfer(ctx context.Context, t ledger.Transfer) (common.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.SendAttempts++
	if l.SendFunc != nil {
		if err := l.SendFunc(l.SendAttempts, t); err != nil {
			return common.Hash{}, ledger.Classify(err)
		}
	}

	from := crypto.PubkeyToAddress(t.Key.PublicKey)
	cost := new(big.Int).Add(t.Value, units.TxCost(t.GasPrice, t.GasLimit))
	bal, ok := l.Balances[from]
	if !ok || bal.Cmp(cost) < 0 {
		return common.Hash{}, ledger.ErrInsufficientFunds
	}
	l.Sent = append(l.Sent, t)

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(l.SendAttempts))
	hash := crypto.Keccak256Hash(from.Bytes(), buf[:])
	l.pending[hash] = t
	return hash, nil
}

// apply settles a confirmed transfer.
func (l *Ledger) apply(t ledger.Transfer) {
	from := crypto.PubkeyToAddress(t.Key.PublicKey)
	cost := new(big.Int).Add(t.Value, units.TxCost(t.GasPrice, t.GasLimit))
	bal, ok := l.Balances[from]
	if !ok {
		bal = new(big.Int)
		l.Balances[from] = bal
	}
	bal.Sub(bal, cost)
	to, ok := l.Balances[t.To]
	if !ok {
		to = new(big.Int)
		l.Balances[t.To] = to
	}
	to.Add(to, t.Value)
	l.nonces[from]++
}

func (l *Ledger) WaitForReceipt(ctx context.Context, hash common.Hash, timeout time.Duration) (*ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ReceiptCalls++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		receipt *ledger.Receipt
		err     error
	)
	if l.ReceiptFunc != nil {
		receipt, err = l.ReceiptFunc(l.ReceiptCalls, hash)
	} else {
		receipt = &ledger.Receipt{
			TxHash:      hash,
			Status:      types.ReceiptStatusSuccessful,
			GasUsed:     21000,
			BlockNumber: big.NewInt(1),
		}
	}
	if t, ok := l.pending[hash]; ok && err == nil && receipt.Succeeded() {
		l.apply(t)
	}
	delete(l.pending, hash)
	return receipt, err
}

// ErrTransient is a convenience error for SendFunc implementations.
var ErrTransient = errors.New("connection reset by peer")
