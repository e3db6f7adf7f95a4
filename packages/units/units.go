// Package units converts between wei and the human denominations used in
// configuration files and log output.
package units

import (
	"math/big"

	"github.com/shopspring/decimal"
)

const (
	etherExp = 18
	gweiExp  = 9
)

// GweiToWei converts a gas price given in gwei into wei. Fractions below one
// wei are truncated.
func GweiToWei(gwei float64) *big.Int {
	return decimal.NewFromFloat(gwei).Shift(gweiExp).BigInt()
}

// EtherToWei converts an ether amount into wei, truncating below one wei.
func EtherToWei(eth decimal.Decimal) *big.Int {
	return eth.Shift(etherExp).BigInt()
}

// WeiToEther returns the exact ether value of wei.
func WeiToEther(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -etherExp)
}

// WeiToGwei returns the exact gwei value of wei.
func WeiToGwei(wei *big.Int) decimal.Decimal {
	if wei == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(wei, -gweiExp)
}

// FormatEther renders wei as ether with 8 decimals, e.g. "0.01250000".
func FormatEther(wei *big.Int) string {
	return WeiToEther(wei).StringFixed(8)
}

// FormatGwei renders wei as gwei with 2 decimals.
func FormatGwei(wei *big.Int) string {
	return WeiToGwei(wei).StringFixed(2)
}

// TxCost returns gasPrice*gasLimit in wei.
func TxCost(gasPrice *big.Int, gasLimit uint64) *big.Int {
	return new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit))
}
