// Package review runs the four deterministic audit pipelines (receipts,
// invoices, books, bank) that score documents and journal activity for
// risk and completeness, then optionally enrich the result with an
// advisor call. Scoring is additive-with-clamp in the style of aml.go's
// calculateSuspicionScore, generalized from transaction-suspicion points
// to per-document audit deltas.
package review

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"ledgercore/internal/advisor"
	"ledgercore/internal/companion"
	"ledgercore/internal/ledger"
	"ledgercore/internal/money"
	"ledgercore/internal/storage"
)

// Thresholds shared across the document pipelines.
const (
	UnusualAmount = money.Cents(100000) // $1,000.00
	LargeAmount   = money.Cents(500000) // $5,000.00
	BooksLargeEntry = money.Cents(500000)
	OverdueAfter    = 90 * 24 * time.Hour
)

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return quantize2(v)
}

func quantize2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

func addFlag(flags []ledger.Flag, score *float64, code, severity string, delta float64, message string) []ledger.Flag {
	*score += delta
	return append(flags, ledger.Flag{Code: code, Severity: severity, Delta: delta, Message: message})
}

func hasBlockingFlag(flags []ledger.Flag) bool {
	for _, f := range flags {
		switch f.Code {
		case "missing_amount", "missing_vendor", "missing_invoice_number":
			return true
		}
	}
	return false
}

func statusFor(flags []ledger.Flag, score float64) ledger.AuditStatus {
	if hasBlockingFlag(flags) {
		return ledger.AuditError
	}
	if score > 0 {
		return ledger.AuditWarning
	}
	return ledger.AuditOK
}

// newRun creates and persists a fresh Run row for surface over the given
// period; callers fill in Metrics/risk fields and re-save after scoring.
func newRun(tx *bbolt.Tx, tenantID string, surface ledger.Surface, periodStart, periodEnd time.Time) (*ledger.Run, error) {
	run := &ledger.Run{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		Surface:     surface,
		Status:      ledger.RunRunning,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		TraceID:     uuid.NewString(),
		CreatedAt:   time.Now(),
	}
	if err := storage.SaveRun(tx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// overallRisk implements the "5 + 20*high + 10*medium" weighting, clamped
// to 100, and returns the matching risk-level band.
func overallRisk(docs []*ledger.Document) (float64, string) {
	var high, medium int
	for _, d := range docs {
		for _, f := range d.Flags {
			switch f.Severity {
			case "high":
				high++
			case "medium":
				medium++
			}
		}
	}
	score := 5 + 20*float64(high) + 10*float64(medium)
	if score > 100 {
		score = 100
	}
	level := "low"
	if score >= 70 {
		level = "high"
	} else if score >= 40 {
		level = "medium"
	}
	return score, level
}

// completeRun stamps the run's aggregate risk score and marks it
// completed, then persists it. It is purely deterministic — the advisor
// call for a run's narrative summary happens later, outside any
// transaction, via ApplyAdvisorSummary.
func completeRun(tx *bbolt.Tx, run *ledger.Run, docs []*ledger.Document) error {
	run.OverallRiskScore, run.RiskLevel = overallRisk(docs)
	run.Status = ledger.RunCompleted
	now := time.Now()
	run.CompletedAt = &now
	return storage.SaveRun(tx, run)
}

// ApplyAdvisorSummary calls the advisor for a narrative summary of a
// just-completed run, plus an optional ranked-document and suggested-
// classification list, and persists the result. It must be called
// after the transaction that produced run has already committed — the
// advisor is never invoked while a write transaction is open. A nil
// provider or empty summaryPrompt is a no-op; advisor failures are
// logged and leave the run's advisor fields empty.
//
// documentIDs is the bounded set of Document.ID values that were
// actually described in summaryPrompt. Every document_id the advisor's
// response references is filtered against that set via
// advisor.FilterIDs before anything is persisted — an id the advisor
// invents or copies from some other tenant's data is silently dropped,
// the same guardrail Critic applies to account ids.
func ApplyAdvisorSummary(ctx context.Context, db *storage.Storage, tenantID, runID, summaryPrompt string, documentIDs []string, provider advisor.Provider) error {
	if provider == nil || summaryPrompt == "" {
		return nil
	}
	var out struct {
		Summary                   string                                  `json:"summary"`
		RankedDocuments           []ledger.AdvisorRankedDocument          `json:"ranked_documents"`
		SuggestedClassifications  []ledger.AdvisorSuggestedClassification `json:"suggested_classifications"`
	}
	if err := advisor.Ask(ctx, provider, advisorSystemPrompt, summaryPrompt, advisor.DefaultTimeout, &out); err != nil {
		log.Printf("review: advisor summary unavailable for run %s: %v", runID, err)
		return nil
	}

	allowed := make(map[string]bool, len(documentIDs))
	for _, id := range documentIDs {
		allowed[id] = true
	}
	ranked := filterRankedDocuments(out.RankedDocuments, allowed)
	suggested := filterSuggestedClassifications(out.SuggestedClassifications, allowed)

	return db.Update(func(tx *bbolt.Tx) error {
		run, err := storage.GetRun(tx, tenantID, runID)
		if err != nil {
			return err
		}
		run.AdvisorCalled = true
		run.AdvisorSummary = out.Summary
		run.AdvisorRankedDocuments = ranked
		run.AdvisorSuggestedClassifications = suggested
		return storage.SaveRun(tx, run)
	})
}

func filterRankedDocuments(in []ledger.AdvisorRankedDocument, allowed map[string]bool) []ledger.AdvisorRankedDocument {
	if len(in) == 0 {
		return nil
	}
	byID := make(map[string]ledger.AdvisorRankedDocument, len(in))
	ids := make([]string, 0, len(in))
	for _, rd := range in {
		if _, seen := byID[rd.DocumentID]; !seen {
			ids = append(ids, rd.DocumentID)
		}
		byID[rd.DocumentID] = rd
	}
	kept := advisor.FilterIDs(ids, allowed)
	out := make([]ledger.AdvisorRankedDocument, 0, len(kept))
	for _, id := range kept {
		out = append(out, byID[id])
	}
	return out
}

func filterSuggestedClassifications(in []ledger.AdvisorSuggestedClassification, allowed map[string]bool) []ledger.AdvisorSuggestedClassification {
	if len(in) == 0 {
		return nil
	}
	byID := make(map[string]ledger.AdvisorSuggestedClassification, len(in))
	ids := make([]string, 0, len(in))
	for _, sc := range in {
		if _, seen := byID[sc.DocumentID]; !seen {
			ids = append(ids, sc.DocumentID)
		}
		byID[sc.DocumentID] = sc
	}
	kept := advisor.FilterIDs(ids, allowed)
	out := make([]ledger.AdvisorSuggestedClassification, 0, len(kept))
	for _, id := range kept {
		out = append(out, byID[id])
	}
	return out
}

const advisorSystemPrompt = "You are a bookkeeping review assistant. Given the metrics and document " +
	"ids provided, return JSON: {\"summary\": \"two sentences or fewer\", " +
	"\"ranked_documents\": [{\"document_id\": \"<id from input>\", \"priority\": \"high|medium|low\", \"reason\": \"...\"}], " +
	"\"suggested_classifications\": [{\"document_id\": \"<id from input>\", \"suggested_account_code\": \"...\", " +
	"\"confidence\": 0-1, \"reason\": \"...\"}]}. Only reference document_id values that were given to you; " +
	"do not invent ids, amounts, or accounts."

// severityWeight orders Flag.Severity strings for picking a document's
// most severe flag as its representative issue.
func severityWeight(severity string) int {
	switch severity {
	case "high":
		return 3
	case "medium":
		return 2
	default:
		return 1
	}
}

// issueCandidateForDocument proposes a companion issue for a document
// that scored above ok, drawn from its single most severe flag. amount
// is the typed Cents value the pipeline scored the document against —
// carried in separately rather than reparsed out of the document's
// extracted payload.
func issueCandidateForDocument(surface ledger.Surface, runID string, doc *ledger.Document, amount ledger.Cents, now time.Time) (companion.IssueCandidate, bool) {
	if doc.Status == ledger.AuditOK || len(doc.Flags) == 0 {
		return companion.IssueCandidate{}, false
	}
	top := doc.Flags[0]
	for _, f := range doc.Flags {
		if severityWeight(f.Severity) > severityWeight(top.Severity) {
			top = f
		}
	}
	recurring := false
	for _, f := range doc.Flags {
		switch f.Code {
		case "duplicate_entry", "duplicate_external_id", "amount_outlier":
			recurring = true
		}
	}
	return companion.IssueCandidate{
		Surface:           surface,
		RunType:           string(surface) + "_run",
		RunID:             runID,
		Title:             top.Message,
		Description:       fmt.Sprintf("document %s flagged %s", doc.SourceRef, top.Code),
		RecommendedAction: "review the flagged item and confirm or correct the underlying record",
		EstimatedImpact:   amount.Abs().String(),
		Amount:            amount,
		ComplianceRisk:    doc.Status == ledger.AuditError,
		Recurring:         recurring,
		Data:              map[string]any{"document_id": doc.ID, "flag_code": top.Code},
	}, true
}

// tokenSet lower-cases and splits s on whitespace, used for description
// overlap scoring shared by the bank pipeline's partial-match heuristic.
func tokenSet(s string) map[string]bool {
	out := map[string]bool{}
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		if len(tok) > 2 {
			out[tok] = true
		}
	}
	return out
}

func tokenOverlap(a, b string) float64 {
	setA, setB := tokenSet(a), tokenSet(b)
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

func sortDocumentsByScore(docs []*ledger.Document) {
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Score > docs[j].Score })
}
