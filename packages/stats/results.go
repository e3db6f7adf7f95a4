package stats

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const fileTimeLayout = "20060102_150405"

type failedRecord struct {
	AccountID int    `json:"account_id"`
	Address   string `json:"address"`
	Reason    string `json:"reason"`
}

type skippedRecord struct {
	AccountID int     `json:"account_id"`
	Address   string  `json:"address"`
	Balance   float64 `json:"balance"`
	Minimum   float64 `json:"min_required"`
}

// SaveResults writes failed_accounts_<ts>.json and skipped_accounts_<ts>.json
// under dir. A file is only written when its list is non-empty. It returns
// the paths written.
func SaveResults(b *Batch, dir string, now time.Time) ([]string, error) {
	failed := b.Failed()
	skipped := b.Skipped()
	if len(failed) == 0 && len(skipped) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create results dir %s: %w", dir, err)
	}

	ts := now.Format(fileTimeLayout)
	var written []string

	if len(failed) > 0 {
		records := make([]failedRecord, 0, len(failed))
		for _, f := range failed {
			records = append(records, failedRecord{
				AccountID: int(f.ID),
				Address:   f.Address.Hex(),
				Reason:    f.Reason,
			})
		}
		path := filepath.Join(dir, "failed_accounts_"+ts+".json")
		if err := writeJSON(path, records); err != nil {
			return written, err
		}
		written = append(written, path)
	}

	if len(skipped) > 0 {
		records := make([]skippedRecord, 0, len(skipped))
		for _, s := range skipped {
			records = append(records, skippedRecord{
				AccountID: int(s.ID),
				Address:   s.Address.Hex(),
				Balance:   s.Balance.InexactFloat64(),
				Minimum:   s.Minimum.InexactFloat64(),
			})
		}
		path := filepath.Join(dir, "skipped_accounts_"+ts+".json")
		if err := writeJSON(path, records); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
