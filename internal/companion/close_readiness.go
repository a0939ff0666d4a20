package companion

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"ledgercore/internal/defaults"
	"ledgercore/internal/ledger"
	"ledgercore/internal/storage"
)

// unreconciledCountThreshold and unreconciledPercentThreshold gate
// close-readiness: both must hold for the count-based check to pass.
const (
	unreconciledCountThreshold   = 5
	unreconciledPercentThreshold = 2.0
)

// CloseReadiness is the period-close verdict plus, when not ready, the
// reasons blocking it.
type CloseReadiness struct {
	Ready           bool
	BlockingReasons []string
}

// ComputeCloseReadiness evaluates the three close gates: unreconciled
// bank transactions below threshold, a zero suspense-account balance,
// and no open high-severity bank/books issues.
func ComputeCloseReadiness(tx *bbolt.Tx, tenantID string, now time.Time) (*CloseReadiness, error) {
	var reasons []string

	sessions, err := storage.ListSessions(tx, tenantID)
	if err != nil {
		return nil, err
	}
	var total, unreconciled int
	for _, sess := range sessions {
		txs, err := storage.ListBankTxBySession(tx, tenantID, sess.ID)
		if err != nil {
			return nil, err
		}
		for _, t := range txs {
			total++
			if !ledger.ReconciledStatuses[t.Status] && t.Status != ledger.TxExcluded {
				unreconciled++
			}
		}
	}
	pct := 0.0
	if total > 0 {
		pct = float64(unreconciled) / float64(total) * 100
	}
	if !(unreconciled < unreconciledCountThreshold && pct < unreconciledPercentThreshold) {
		reasons = append(reasons, fmt.Sprintf("%d unreconciled bank transactions remain (%.1f%% of total)", unreconciled, pct))
	}

	if acc, err := storage.GetAccountByCode(tx, tenantID, defaults.CodeUncategorized); err == nil {
		balance, err := storage.AccountBalanceAsOf(tx, tenantID, acc.ID, now)
		if err != nil {
			return nil, err
		}
		if balance != 0 {
			reasons = append(reasons, fmt.Sprintf("suspense account balance is not zero (%s)", balance.String()))
		}
	}

	issues, err := storage.ListIssues(tx, tenantID)
	if err != nil {
		return nil, err
	}
	for _, i := range issues {
		if i.Status != ledger.IssueOpen || i.Severity != ledger.SeverityHigh {
			continue
		}
		if i.Surface != ledger.SurfaceBank && i.Surface != ledger.SurfaceBooks {
			continue
		}
		reasons = append(reasons, fmt.Sprintf("open high-severity issue: %s", i.Title))
	}

	return &CloseReadiness{Ready: len(reasons) == 0, BlockingReasons: reasons}, nil
}
