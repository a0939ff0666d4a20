// Package companion derives the cross-surface advisory layer on top of
// completed review runs: issue synthesis, a 4-axis stability radar,
// per-domain coverage, a close-readiness verdict, and a prioritized
// playbook. None of it can ever block a ledger mutation — it reads
// already-persisted run/document/bank-tx state and writes only
// CompanionIssue rows, generalizing aml.go's
// GenerateAMLDashboard/generateRecommendations/calculateComplianceMetrics
// from AML case metrics to bookkeeping close metrics.
package companion

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"ledgercore/internal/ledger"
	"ledgercore/internal/money"
	"ledgercore/internal/storage"
)

// IssueCandidate is a draft issue the caller (a review pipeline's
// post-run step) proposes; severity is derived here, not by the caller.
type IssueCandidate struct {
	Surface           ledger.Surface
	RunType           string
	RunID             string
	Title             string
	Description       string
	RecommendedAction string
	EstimatedImpact   string
	Amount            money.Cents
	ComplianceRisk    bool
	Recurring         bool
	Data              map[string]any
	TraceID           string
}

func severityFor(c IssueCandidate) ledger.IssueSeverity {
	amount := c.Amount.Abs()
	switch {
	case c.ComplianceRisk || amount >= money.Cents(100000) || (c.Recurring && amount >= money.Cents(50000)):
		return ledger.SeverityHigh
	case amount >= money.Cents(25000) || c.Recurring:
		return ledger.SeverityMedium
	default:
		return ledger.SeverityLow
	}
}

var severityRank = map[ledger.IssueSeverity]int{
	ledger.SeverityHigh:   3,
	ledger.SeverityMedium: 2,
	ledger.SeverityLow:    1,
}

// parseImpactMagnitude extracts the leading numeric value from a
// human-written impact string like "$1,200 overstatement risk" for
// ordering purposes.
func parseImpactMagnitude(impact string) float64 {
	impact = strings.ReplaceAll(impact, ",", "")
	start := -1
	for i, r := range impact {
		if r >= '0' && r <= '9' {
			start = i
			break
		}
	}
	if start == -1 {
		return 0
	}
	end := len(impact)
	for i := start; i < len(impact); i++ {
		r := impact[i]
		if !((r >= '0' && r <= '9') || r == '.') {
			end = i
			break
		}
	}
	v, err := strconv.ParseFloat(impact[start:end], 64)
	if err != nil {
		return 0
	}
	return v
}

// SynthesizeIssues derives severities for candidates, persists all of
// them inside the caller's transaction (the bulk-create boundary), and
// returns them ordered by severity, then estimated-impact magnitude,
// then creation time.
func SynthesizeIssues(tx *bbolt.Tx, tenantID string, candidates []IssueCandidate, now time.Time) ([]*ledger.CompanionIssue, error) {
	issues := make([]*ledger.CompanionIssue, 0, len(candidates))
	for _, c := range candidates {
		issues = append(issues, &ledger.CompanionIssue{
			ID:                uuid.NewString(),
			TenantID:          tenantID,
			Surface:           c.Surface,
			RunType:           c.RunType,
			RunID:             c.RunID,
			Severity:          severityFor(c),
			Status:            ledger.IssueOpen,
			Title:             c.Title,
			Description:       c.Description,
			RecommendedAction: c.RecommendedAction,
			EstimatedImpact:   c.EstimatedImpact,
			Data:              c.Data,
			TraceID:           c.TraceID,
			CreatedAt:         now,
		})
	}

	sort.SliceStable(issues, func(i, j int) bool {
		if severityRank[issues[i].Severity] != severityRank[issues[j].Severity] {
			return severityRank[issues[i].Severity] > severityRank[issues[j].Severity]
		}
		mi, mj := parseImpactMagnitude(issues[i].EstimatedImpact), parseImpactMagnitude(issues[j].EstimatedImpact)
		if mi != mj {
			return mi > mj
		}
		return issues[i].CreatedAt.Before(issues[j].CreatedAt)
	})

	for _, i := range issues {
		if err := storage.SaveIssue(tx, i); err != nil {
			return nil, err
		}
	}
	return issues, nil
}
