package logging

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
)

// Reporter writes the account-scoped records of a batch. Every record carries
// the account id so a run can be followed per wallet in the log file.
type Reporter struct {
	log log.Logger
}

func NewReporter(l log.Logger) *Reporter {
	return &Reporter{log: l}
}

func (r *Reporter) Logger() log.Logger {
	return r.log
}

// Account returns a logger bound to one account id.
func (r *Reporter) Account(id int) log.Logger {
	return r.log.With("account", id)
}

func (r *Reporter) TransferSucceeded(id int, txHash, explorerURL, amount, symbol string, from common.Address) {
	l := r.Account(id)
	l.Info("✅ Transaction confirmed", "tx", txHash, "url", explorerURL+txHash)
	l.Info("✅ Sent", "amount", amount, "symbol", symbol, "from", ShortAddress(from))
}

func (r *Reporter) AccountSkipped(id int, reason, balance string) {
	if balance != "" {
		r.Account(id).Warn("⏭️ "+reason, "balance", balance)
		return
	}
	r.Account(id).Warn("⏭️ " + reason)
}

func (r *Reporter) AccountFailed(id int, reason string) {
	r.Account(id).Error("❌ Account failed", "reason", reason)
}

func (r *Reporter) Progress(current, total, succeeded, failed, skipped int) {
	pct := 0.0
	if total > 0 {
		pct = float64(current) / float64(total) * 100
	}
	r.log.Info("Progress",
		"done", fmt.Sprintf("%d/%d", current, total),
		"percent", fmt.Sprintf("%.1f%%", pct),
		"ok", succeeded,
		"failed", failed,
		"skipped", skipped,
	)
}

// ShortAddress renders 0x1234abcd...9f3e7a style addresses for log lines.
func ShortAddress(a common.Address) string {
	h := a.Hex()
	return h[:10] + "..." + h[len(h)-6:]
}
