package review

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"ledgercore/internal/companion"
	"ledgercore/internal/ledger"
	"ledgercore/internal/storage"
)

var adjustmentTerms = []string{"adjustment", "correction", "write-off", "write off"}

func looksLikeAdjustment(description string) bool {
	d := strings.ToLower(description)
	for _, term := range adjustmentTerms {
		if strings.Contains(d, term) {
			return true
		}
	}
	return false
}

func entryAmount(e *ledger.JournalEntry) ledger.Cents {
	var total ledger.Cents
	for _, l := range e.Lines {
		total += l.Debit
	}
	return total
}

func touchedAccounts(e *ledger.JournalEntry) map[string]bool {
	out := map[string]bool{}
	for _, l := range e.Lines {
		out[l.AccountID] = true
	}
	return out
}

// RunBooks audits non-void journal entries dated within [periodStart,
// periodEnd]: large entries, adjustment-looking descriptions, exact
// date+description+amount duplicates, and (companion-enabled only)
// amount outliers relative to the period average.
func RunBooks(tx *bbolt.Tx, tenantID string, periodStart, periodEnd time.Time, companionEnabled bool) (*ledger.Run, []*ledger.Document, string, error) {
	run, err := newRun(tx, tenantID, ledger.SurfaceBooks, periodStart, periodEnd)
	if err != nil {
		return nil, nil, "", err
	}

	all, err := storage.ListJournalEntries(tx, tenantID)
	if err != nil {
		return nil, nil, "", err
	}

	var entries []*ledger.JournalEntry
	var total ledger.Cents
	touched := map[string]bool{}
	for _, e := range all {
		if e.IsVoid {
			continue
		}
		if e.Date.Before(periodStart) || e.Date.After(periodEnd) {
			continue
		}
		entries = append(entries, e)
		total += entryAmount(e)
		for acc := range touchedAccounts(e) {
			touched[acc] = true
		}
	}

	var avg float64
	if len(entries) > 0 {
		avg = float64(total) / float64(len(entries))
	}

	seen := map[string]string{} // dedupe key -> first entry id
	docs := make([]*ledger.Document, 0, len(entries))
	var candidates []companion.IssueCandidate
	now := time.Now()
	var errorCount, warningCount int
	for _, e := range entries {
		var flags []ledger.Flag
		var score float64
		amt := entryAmount(e)

		if amt >= BooksLargeEntry {
			flags = addFlag(flags, &score, "large_entry", "high", 30, "entry total meets or exceeds the large-entry threshold")
		}
		if looksLikeAdjustment(e.Description) {
			flags = addFlag(flags, &score, "adjustment_entry", "medium", 15, "description reads as a manual adjustment or write-off")
		}
		key := fmt.Sprintf("%s|%s|%d", e.Date.Format("2006-01-02"), strings.ToLower(strings.TrimSpace(e.Description)), int64(amt))
		if firstID, dup := seen[key]; dup {
			flags = addFlag(flags, &score, "duplicate_entry", "high", 40, fmt.Sprintf("matches entry %s on date, description, and amount", firstID))
		} else {
			seen[key] = e.ID
		}
		if companionEnabled && avg > 0 && float64(amt) > 3*avg {
			flags = addFlag(flags, &score, "amount_outlier", "low", 12, "entry amount is more than 3x the period average")
		}

		score = clampScore(score)
		doc := &ledger.Document{
			ID:        uuid.NewString(),
			RunID:     run.ID,
			TenantID:  tenantID,
			SourceRef: e.ID,
			ExtractedPayload: map[string]any{
				"description": e.Description,
				"amount":      amt.String(),
				"date":        e.Date.Format("2006-01-02"),
			},
			Flags:  flags,
			Score:  score,
			Status: statusFor(flags, score),
		}
		if err := storage.SaveDocument(tx, doc); err != nil {
			return nil, nil, "", err
		}
		docs = append(docs, doc)
		switch doc.Status {
		case ledger.AuditError:
			errorCount++
		case ledger.AuditWarning:
			warningCount++
		}
		if companionEnabled {
			if cand, ok := issueCandidateForDocument(ledger.SurfaceBooks, run.ID, doc, amt, now); ok {
				candidates = append(candidates, cand)
			}
		}
	}
	sortDocumentsByScore(docs)

	if len(candidates) > 0 {
		if _, err := companion.SynthesizeIssues(tx, tenantID, candidates, now); err != nil {
			return nil, nil, "", err
		}
	}

	run.Metrics = map[string]any{
		"entry_count":      len(entries),
		"touched_accounts": len(touched),
		"total_amount":     total.String(),
		"error_count":      errorCount,
		"warning_count":    warningCount,
	}

	summaryPrompt := ""
	if companionEnabled && len(docs) > 0 {
		ids := make([]string, 0, len(docs))
		for _, d := range docs {
			ids = append(ids, d.ID)
		}
		summaryPrompt = fmt.Sprintf("surface=books entry_count=%d touched_accounts=%d error_count=%d warning_count=%d document_ids=%s",
			len(entries), len(touched), errorCount, warningCount, strings.Join(ids, ","))
	}
	if err := completeRun(tx, run, docs); err != nil {
		return nil, nil, "", err
	}
	return run, docs, summaryPrompt, nil
}
