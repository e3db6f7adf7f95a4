package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/okx/sweeper/packages/keys"
	"github.com/okx/sweeper/packages/retry"
	"github.com/okx/sweeper/packages/stats"
)

const (
	passInitial = "initial"
	passRetry   = "retry"
)

// errAborted is returned for a batch that could not produce statistics.
var errAborted = errors.New("batch aborted")

// runBatch runs one pass and converts a panic into an aborted result so the
// interactive loop survives it.
func (a *app) runBatch(ctx context.Context, label string, creds []keys.Credential, dests []common.Address) (b *stats.Batch, err error) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("❌ Unexpected error during batch", "pass", label, "panic", r)
			b, err = nil, fmt.Errorf("%w: %v", errAborted, r)
		}
	}()
	return a.orchestrator().Run(ctx, label, creds, dests)
}

// confirmFunc asks whether to run a retry pass over n accounts.
type confirmFunc func(n int) bool

// session runs the initial pass over the input files and, if confirm agrees,
// one retry pass over the failed and skipped accounts.
func (a *app) session(ctx context.Context, confirm confirmFunc) error {
	creds, dests, err := a.loadInputs()
	if err != nil {
		return err
	}

	first, err := a.runBatch(ctx, passInitial, creds, dests)
	if err != nil {
		return err
	}

	retryCreds, retryDests := retry.SelectSubset(first, creds, dests)
	if len(retryCreds) == 0 {
		a.log.Info("🎉 All accounts processed")
		return nil
	}
	a.log.Warn("Accounts need attention", "failed", len(first.Failed()), "skipped", len(first.Skipped()))
	if !confirm(len(retryCreds)) {
		return nil
	}

	a.log.Info("🔄 Retrying failed and skipped accounts", "accounts", len(retryCreds))
	second, err := a.runBatch(ctx, passRetry, retryCreds, retryDests)
	if second != nil {
		a.combinedSummary(first, second)
	}
	return err
}

func (a *app) combinedSummary(first, second *stats.Batch) {
	initial := first.Counts()
	again := second.Counts()
	remaining := again.Failed + again.Skipped
	a.log.Info("📊 Combined statistics",
		"succeeded", fmt.Sprintf("%d/%d", initial.Succeeded+again.Succeeded, initial.Total),
		"retry_succeeded", again.Succeeded,
		"remaining", remaining,
	)
}
