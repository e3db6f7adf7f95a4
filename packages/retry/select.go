// Package retry rebuilds the inputs of a finished batch down to the accounts
// that failed or were skipped.
package retry

import (
	"sort"

	"github.com/okx/sweeper/packages/stats"
)

// Positions returns the sorted, de-duplicated input positions of every failed
// or skipped account of b. Ids that do not map to an input are dropped.
func Positions(b *stats.Batch, inputs int) []stats.Position {
	seen := make(map[stats.Position]struct{})
	add := func(id stats.AccountID) {
		p, ok := b.InputPosition(id)
		if !ok || int(p) >= inputs {
			return
		}
		seen[p] = struct{}{}
	}
	for _, f := range b.Failed() {
		add(f.ID)
	}
	for _, s := range b.Skipped() {
		add(s.ID)
	}

	out := make([]stats.Position, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// SelectSubset returns the credential/destination pairs of every failed or
// skipped account of b, in input order. creds and dests must be the slices b
// was run with, before any shuffling.
func SelectSubset[C, D any](b *stats.Batch, creds []C, dests []D) ([]C, []D) {
	n := len(creds)
	if len(dests) < n {
		n = len(dests)
	}
	positions := Positions(b, n)
	outC := make([]C, 0, len(positions))
	outD := make([]D, 0, len(positions))
	for _, p := range positions {
		outC = append(outC, creds[p])
		outD = append(outD, dests[p])
	}
	return outC, outD
}
