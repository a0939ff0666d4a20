// Package matching ranks candidate journal entries for a bank
// transaction by heuristic score: amount equality first, date proximity
// second, description token overlap third, active bank rules as a
// short-circuit. Scored with the same weighted-additive-with-clamp shape
// as aml.go's calculateSuspicionScore and the description-token-overlap
// idiom in forensic.go's duplicate detector, generalized to rank
// journal-entry candidates instead of flagging risk.
package matching

import (
	"sort"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"ledgercore/internal/ledger"
	"ledgercore/internal/money"
	"ledgercore/internal/storage"
)

// dateWindow bounds how far apart dates may be and still score.
const dateWindow = 15 * 24 * time.Hour

// Candidate is one ranked suggestion for a bank transaction.
type Candidate struct {
	JournalEntryID string
	RuleID         string
	MatchType      ledger.MatchType
	Confidence     float64 // 0..1
	Reason         string
}

// Suggest ranks candidate journal entries (and bank rules) for bankTx,
// returning them sorted by descending confidence. A matching bank rule
// short-circuits: its candidate alone is returned with match_type RULE.
func Suggest(tx *bbolt.Tx, tenantID string, bankTx *ledger.BankTransaction, bankLinkedAccountID string) ([]Candidate, error) {
	rules, err := storage.ListBankRules(tx, tenantID)
	if err != nil {
		return nil, err
	}
	desc := strings.ToLower(bankTx.Description)
	for _, r := range rules {
		pattern := strings.ToLower(r.MerchantPattern)
		if pattern != "" && strings.Contains(desc, pattern) {
			return []Candidate{{
				RuleID:     r.ID,
				MatchType:  ledger.MatchRule,
				Confidence: 0.95,
				Reason:     "matched bank rule: " + r.MerchantPattern,
			}}, nil
		}
	}

	if bankLinkedAccountID == "" {
		return nil, nil
	}
	entries, err := storage.ListJournalEntries(tx, tenantID)
	if err != nil {
		return nil, err
	}

	var candidates []Candidate
	for _, e := range entries {
		if e.IsVoid {
			continue
		}
		var signed money.Cents
		found := false
		for _, l := range e.Lines {
			if l.AccountID != bankLinkedAccountID {
				continue
			}
			found = true
			signed += l.Debit - l.Credit
		}
		if !found {
			continue
		}
		dist := e.Date.Sub(bankTx.Date)
		if dist < 0 {
			dist = -dist
		}
		if dist > dateWindow {
			continue
		}

		amountScore := 0.0
		if money.WithinTolerance(signed, bankTx.Amount, 2) {
			amountScore = 0.60
		}
		dateScore := 0.25 * (1 - float64(dist)/float64(dateWindow))
		descScore := 0.15 * tokenOverlap(e.Description, bankTx.Description)

		confidence := amountScore + dateScore + descScore
		if confidence <= 0 {
			continue
		}
		if confidence > 1 {
			confidence = 1
		}
		candidates = append(candidates, Candidate{
			JournalEntryID: e.ID,
			MatchType:      ledger.MatchOneToOne,
			Confidence:     confidence,
			Reason:         reasonFor(amountScore, dateScore, descScore),
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})
	return candidates, nil
}

func reasonFor(amountScore, dateScore, descScore float64) string {
	var parts []string
	if amountScore > 0 {
		parts = append(parts, "amount matches")
	}
	if dateScore > 0 {
		parts = append(parts, "date nearby")
	}
	if descScore > 0 {
		parts = append(parts, "description overlaps")
	}
	if len(parts) == 0 {
		return "weak match"
	}
	return strings.Join(parts, "; ")
}

// tokenOverlap returns the Jaccard overlap of the lower-cased whitespace
// token sets of a and b, in [0,1].
func tokenOverlap(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	shared := 0
	for t := range setA {
		if setB[t] {
			shared++
		}
	}
	union := len(setA) + len(setB) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

func tokenSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		if len(tok) > 2 {
			out[tok] = true
		}
	}
	return out
}

// ApplyTopSuggestion runs Suggest and persists the top candidate's
// confidence and reason on bankTx, per the decision to make suggestion
// persistence an explicit write-path step (when a NEW transaction is
// attached to a session, and on unmatch), not an opportunistic
// read-path computation.
func ApplyTopSuggestion(tx *bbolt.Tx, tenantID string, bankTx *ledger.BankTransaction, bankLinkedAccountID string) error {
	candidates, err := Suggest(tx, tenantID, bankTx, bankLinkedAccountID)
	if err != nil {
		return err
	}
	if len(candidates) == 0 {
		bankTx.SuggestionConfidence = 0
		bankTx.SuggestionReason = ""
		return nil
	}
	top := candidates[0]
	bankTx.SuggestionConfidence = top.Confidence
	bankTx.SuggestionReason = top.Reason
	return nil
}
