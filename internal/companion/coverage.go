package companion

import (
	"go.etcd.io/bbolt"

	"ledgercore/internal/ledger"
	"ledgercore/internal/storage"
)

// ComputeCoverage returns, per domain (receipts, invoices, banking,
// books), the fraction of that domain's population that has reached a
// terminal reconciled/posted state. Books has no terminal state of its
// own, so it uses the heuristic placeholder described in the companion
// spec: start at 100% and lose 10 points per open books issue.
func ComputeCoverage(tx *bbolt.Tx, tenantID string) (map[string]float64, error) {
	coverage := map[string]float64{}

	bankAccounts, err := storage.ListBankAccounts(tx, tenantID)
	if err != nil {
		return nil, err
	}
	var totalTx, coveredTx int
	for _, ba := range bankAccounts {
		txs, err := storage.ListBankTxByAccount(tx, tenantID, ba.ID)
		if err != nil {
			return nil, err
		}
		for _, t := range txs {
			totalTx++
			if ledger.ReconciledStatuses[t.Status] {
				coveredTx++
			}
		}
	}
	coverage["banking"] = ratio(coveredTx, totalTx)

	for _, surface := range []ledger.Surface{ledger.SurfaceReceipts, ledger.SurfaceInvoices} {
		runs, err := storage.ListRuns(tx, tenantID, surface)
		if err != nil {
			return nil, err
		}
		latest := latestCompletedRun(runs)
		if latest == nil {
			coverage[string(surface)] = 1.0
			continue
		}
		docs, err := storage.ListDocumentsByRun(tx, tenantID, latest.ID)
		if err != nil {
			return nil, err
		}
		var covered int
		for _, d := range docs {
			if d.Status == ledger.AuditOK {
				covered++
			}
		}
		coverage[string(surface)] = ratio(covered, len(docs))
	}

	issues, err := storage.ListIssues(tx, tenantID)
	if err != nil {
		return nil, err
	}
	var openBooksIssues int
	for _, i := range issues {
		if i.Surface == ledger.SurfaceBooks && i.Status == ledger.IssueOpen {
			openBooksIssues++
		}
	}
	booksCoverage := 100.0 - 10.0*float64(openBooksIssues)
	if booksCoverage < 0 {
		booksCoverage = 0
	}
	coverage["books"] = booksCoverage / 100

	return coverage, nil
}

func ratio(covered, total int) float64 {
	if total == 0 {
		return 1.0
	}
	return float64(covered) / float64(total)
}

func latestCompletedRun(runs []*ledger.Run) *ledger.Run {
	var latest *ledger.Run
	for _, r := range runs {
		if r.Status != ledger.RunCompleted {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	return latest
}

// LowestCoverageDomain returns the domain key with the smallest ratio,
// used by the playbook to surface a coverage-gap action.
func LowestCoverageDomain(coverage map[string]float64) (string, float64) {
	var domain string
	lowest := 1.1
	for k, v := range coverage {
		if v < lowest {
			lowest, domain = v, k
		}
	}
	return domain, lowest
}
