package companion

import (
	"time"

	"go.etcd.io/bbolt"

	"ledgercore/internal/ledger"
	"ledgercore/internal/storage"
)

// RadarAxisOrder is the fixed display order of the 4 stability axes.
var RadarAxisOrder = []string{"cash_reconciliation", "revenue_invoices", "expenses_receipts", "tax_compliance"}

var surfaceToAxis = map[ledger.Surface]string{
	ledger.SurfaceBank:     "cash_reconciliation",
	ledger.SurfaceInvoices: "revenue_invoices",
	ledger.SurfaceReceipts: "expenses_receipts",
	ledger.SurfaceBooks:    "tax_compliance",
}

var severityDeduction = map[ledger.IssueSeverity]float64{
	ledger.SeverityHigh:   15,
	ledger.SeverityMedium: 8,
	ledger.SeverityLow:    3,
}

// ComputeRadar returns each axis's stability score (100 down to 0),
// penalizing every open issue from the last 30 days by its severity
// weight plus 2 points per full week of age.
func ComputeRadar(tx *bbolt.Tx, tenantID string, now time.Time) (map[string]float64, error) {
	issues, err := storage.ListIssues(tx, tenantID)
	if err != nil {
		return nil, err
	}

	scores := map[string]float64{}
	for _, axis := range RadarAxisOrder {
		scores[axis] = 100
	}

	cutoff := now.AddDate(0, 0, -30)
	for _, issue := range issues {
		if issue.Status != ledger.IssueOpen {
			continue
		}
		if issue.CreatedAt.Before(cutoff) {
			continue
		}
		axis, ok := surfaceToAxis[issue.Surface]
		if !ok {
			continue
		}
		ageDays := int(now.Sub(issue.CreatedAt).Hours() / 24)
		deduction := severityDeduction[issue.Severity] + 2*float64(ageDays/7)
		scores[axis] -= deduction
		if scores[axis] < 0 {
			scores[axis] = 0
		}
	}
	return scores, nil
}
