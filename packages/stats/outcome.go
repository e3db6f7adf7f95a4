package stats

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// AccountID numbers the accounts of one batch run in processing order,
// starting at 1. It is not stable across runs.
type AccountID int

// Position is a 0-based index into a batch's input slices.
type Position int

func (id AccountID) Position() Position { return Position(id - 1) }
func (p Position) AccountID() AccountID { return AccountID(p + 1) }

type Kind int

const (
	KindSuccess Kind = iota
	KindFailed
	KindSkipped
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindFailed:
		return "failed"
	case KindSkipped:
		return "skipped"
	}
	return "unknown"
}

// Outcome is the terminal result of one account: Success, Failed or Skipped.
type Outcome interface {
	Account() AccountID
	Kind() Kind
}

type Success struct {
	ID       AccountID
	Address  common.Address
	Amount   decimal.Decimal // ETH
	GasUsed  uint64
	TxHash   common.Hash
	Reserved decimal.Decimal // ETH left on the account
}

type Failed struct {
	ID      AccountID
	Address common.Address
	Reason  string
}

type Skipped struct {
	ID      AccountID
	Address common.Address
	Balance decimal.Decimal // ETH
	Minimum decimal.Decimal // ETH
}

func (s Success) Account() AccountID { return s.ID }
func (s Success) Kind() Kind         { return KindSuccess }
func (f Failed) Account() AccountID  { return f.ID }
func (f Failed) Kind() Kind          { return KindFailed }
func (s Skipped) Account() AccountID { return s.ID }
func (s Skipped) Kind() Kind         { return KindSkipped }
