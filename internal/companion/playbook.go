package companion

import (
	"fmt"
	"sort"

	"go.etcd.io/bbolt"

	"ledgercore/internal/ledger"
	"ledgercore/internal/storage"
)

// DefaultPlaybookSize is how many steps Playbook returns absent an
// explicit override.
const DefaultPlaybookSize = 4

// PlaybookStep is one prioritized action surfaced to the user.
type PlaybookStep struct {
	Title   string
	URL     string
	IssueID string
}

var surfaceURL = map[ledger.Surface]string{
	ledger.SurfaceBank:     "/reconciliation",
	ledger.SurfaceInvoices: "/invoices",
	ledger.SurfaceReceipts: "/receipts",
	ledger.SurfaceBooks:    "/books",
}

func urlFor(surface ledger.Surface) string {
	if u, ok := surfaceURL[surface]; ok {
		return u
	}
	return "/"
}

// BuildPlaybook returns up to n prioritized steps: open issues ranked by
// severity then recency, followed by a coverage-gap action when the
// lowest-coverage domain in coverage falls below 80%.
func BuildPlaybook(tx *bbolt.Tx, tenantID string, n int, coverage map[string]float64) ([]PlaybookStep, error) {
	if n <= 0 {
		n = DefaultPlaybookSize
	}

	issues, err := storage.ListIssues(tx, tenantID)
	if err != nil {
		return nil, err
	}
	var open []*ledger.CompanionIssue
	for _, i := range issues {
		if i.Status == ledger.IssueOpen {
			open = append(open, i)
		}
	}
	sort.SliceStable(open, func(i, j int) bool {
		if severityRank[open[i].Severity] != severityRank[open[j].Severity] {
			return severityRank[open[i].Severity] > severityRank[open[j].Severity]
		}
		return open[i].CreatedAt.After(open[j].CreatedAt)
	})

	steps := make([]PlaybookStep, 0, n)
	for _, issue := range open {
		if len(steps) >= n {
			break
		}
		steps = append(steps, PlaybookStep{
			Title:   issue.Title,
			URL:     urlFor(issue.Surface),
			IssueID: issue.ID,
		})
	}

	if len(steps) < n {
		if domain, lowest := LowestCoverageDomain(coverage); domain != "" && lowest < 0.8 {
			steps = append(steps, PlaybookStep{
				Title: fmt.Sprintf("Improve %s coverage (currently %.0f%%)", domain, lowest*100),
				URL:   "/" + domain,
			})
		}
	}

	if len(steps) > n {
		steps = steps[:n]
	}
	return steps, nil
}
