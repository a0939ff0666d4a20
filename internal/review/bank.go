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

const bankClassification = "classification"

// RunBank audits a bank account's transactions in [periodStart,
// periodEnd] against the tenant's journal activity, keying ledger
// entries by (date, |amount|) and classifying each bank line as matched,
// partially matched (companion fuzzy description match), unmatched, or a
// duplicate repeat of an external_id already seen.
func RunBank(tx *bbolt.Tx, tenantID, bankAccountID string, periodStart, periodEnd time.Time, companionEnabled bool) (*ledger.Run, []*ledger.Document, string, error) {
	run, err := newRun(tx, tenantID, ledger.SurfaceBank, periodStart, periodEnd)
	if err != nil {
		return nil, nil, "", err
	}

	entries, err := storage.ListJournalEntries(tx, tenantID)
	if err != nil {
		return nil, nil, "", err
	}
	ledgerIndex := map[string][]*ledger.JournalEntry{}
	for _, e := range entries {
		if e.IsVoid {
			continue
		}
		key := ledgerKey(e.Date, entryAmount(e).Abs())
		ledgerIndex[key] = append(ledgerIndex[key], e)
	}

	txs, err := storage.ListBankTxByAccount(tx, tenantID, bankAccountID)
	if err != nil {
		return nil, nil, "", err
	}

	seenExternalIDs := map[string]bool{}
	docs := make([]*ledger.Document, 0, len(txs))
	var candidates []companion.IssueCandidate
	now := time.Now()
	var matched, partial, unmatched, duplicate int
	for _, t := range txs {
		if t.Date.Before(periodStart) || t.Date.After(periodEnd) {
			continue
		}
		var flags []ledger.Flag
		var score float64
		classification := "UNMATCHED"

		if t.ExternalID != "" && seenExternalIDs[t.ExternalID] {
			classification = "DUPLICATE"
			flags = addFlag(flags, &score, "duplicate_external_id", "high", 40, "external id repeats within this period")
			duplicate++
		} else {
			if t.ExternalID != "" {
				seenExternalIDs[t.ExternalID] = true
			}
			key := ledgerKey(t.Date, t.Amount.Abs())
			if candidates, ok := ledgerIndex[key]; ok && len(candidates) > 0 {
				classification = "MATCHED"
				matched++
			} else if companionEnabled {
				if found := fuzzyMatch(entries, t); found != nil {
					classification = "PARTIAL_MATCH"
					flags = addFlag(flags, &score, "partial_match", "medium", 18, fmt.Sprintf("description overlaps journal entry %s but amount/date don't line up exactly", found.ID))
					partial++
				} else {
					flags = addFlag(flags, &score, "unmatched", "high", 30, "no corresponding ledger activity found")
					unmatched++
				}
			} else {
				flags = addFlag(flags, &score, "unmatched", "high", 30, "no corresponding ledger activity found")
				unmatched++
			}
		}

		score = clampScore(score)
		doc := &ledger.Document{
			ID:        uuid.NewString(),
			RunID:     run.ID,
			TenantID:  tenantID,
			SourceRef: t.ID,
			ExtractedPayload: map[string]any{
				"description":     t.Description,
				"amount":          t.Amount.String(),
				bankClassification: classification,
			},
			Flags:  flags,
			Score:  score,
			Status: statusFor(flags, score),
		}
		if err := storage.SaveDocument(tx, doc); err != nil {
			return nil, nil, "", err
		}
		docs = append(docs, doc)
		if companionEnabled {
			if cand, ok := issueCandidateForDocument(ledger.SurfaceBank, run.ID, doc, t.Amount, now); ok {
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
		"transaction_count": len(docs),
		"matched":           matched,
		"partial_match":     partial,
		"unmatched":         unmatched,
		"duplicate":         duplicate,
	}

	summaryPrompt := ""
	if companionEnabled && len(docs) > 0 {
		ids := make([]string, 0, len(docs))
		for _, d := range docs {
			ids = append(ids, d.ID)
		}
		summaryPrompt = fmt.Sprintf("surface=bank transaction_count=%d matched=%d partial_match=%d unmatched=%d duplicate=%d document_ids=%s",
			len(docs), matched, partial, unmatched, duplicate, strings.Join(ids, ","))
	}
	if err := completeRun(tx, run, docs); err != nil {
		return nil, nil, "", err
	}
	return run, docs, summaryPrompt, nil
}

func ledgerKey(date time.Time, amount ledger.Cents) string {
	return fmt.Sprintf("%s|%d", date.Format("2006-01-02"), int64(amount))
}

// fuzzyMatch looks for a journal entry within 3 days of t whose
// description overlaps t's tokens above a loose threshold.
func fuzzyMatch(entries []*ledger.JournalEntry, t *ledger.BankTransaction) *ledger.JournalEntry {
	const window = 3 * 24 * time.Hour
	var best *ledger.JournalEntry
	var bestScore float64
	for _, e := range entries {
		if e.IsVoid {
			continue
		}
		dist := e.Date.Sub(t.Date)
		if dist < 0 {
			dist = -dist
		}
		if dist > window {
			continue
		}
		overlap := tokenOverlap(e.Description, t.Description)
		if overlap > 0.34 && overlap > bestScore {
			best, bestScore = e, overlap
		}
	}
	return best
}
