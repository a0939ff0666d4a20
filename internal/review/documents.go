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

// DocumentInput is one receipt or invoice to audit. OCR extraction (an
// external collaborator) or a user's filename/hints fill these fields
// before the pipeline ever sees them; the pipeline only scores what it's
// given.
type DocumentInput struct {
	SourceRef     string
	Vendor        string
	InvoiceNumber string
	Amount        ledger.Cents
	Currency      string
	Date          time.Time
	Category      string
}

// scoreDocument applies the receipts/invoices rule set to one input and
// returns a populated, unsaved Document.
func scoreDocument(surface ledger.Surface, runID, tenantID string, in DocumentInput, tenantCurrency string, companionEnabled bool, now time.Time) *ledger.Document {
	var flags []ledger.Flag
	var score float64

	if in.Amount == 0 {
		flags = addFlag(flags, &score, "missing_amount", "high", 40, "no amount could be extracted")
	}
	if strings.TrimSpace(in.Vendor) == "" {
		flags = addFlag(flags, &score, "missing_vendor", "high", 35, "no vendor/payee could be extracted")
	}
	if surface == ledger.SurfaceInvoices && strings.TrimSpace(in.InvoiceNumber) == "" {
		flags = addFlag(flags, &score, "missing_invoice_number", "high", 35, "no invoice number could be extracted")
	}

	abs := in.Amount.Abs()
	switch {
	case abs > LargeAmount:
		flags = addFlag(flags, &score, "amount_large", "high", 45, "amount is unusually large for this tenant")
	case abs > UnusualAmount:
		flags = addFlag(flags, &score, "amount_unusual", "medium", 25, "amount is above the typical range")
	}

	if in.Currency != "" && tenantCurrency != "" && in.Currency != tenantCurrency {
		flags = addFlag(flags, &score, "currency_mismatch", "medium", 18, fmt.Sprintf("document currency %s does not match tenant currency %s", in.Currency, tenantCurrency))
	}

	if in.Date.IsZero() {
		flags = addFlag(flags, &score, "invalid_date", "medium", 15, "document date is missing or invalid")
	} else if in.Date.After(now) {
		flags = addFlag(flags, &score, "future_date", "medium", 12, "document is dated in the future")
	} else if surface == ledger.SurfaceInvoices && now.Sub(in.Date) > OverdueAfter {
		flags = addFlag(flags, &score, "overdue", "medium", 10, "invoice is more than 90 days old and still open")
	}

	if companionEnabled {
		if isGenericVendorName(in.Vendor) {
			flags = addFlag(flags, &score, "generic_vendor_name", "low", 8, "vendor name looks like a placeholder rather than a real payee")
		}
		if in.Category == "" || strings.EqualFold(in.Category, "uncategorized") {
			flags = addFlag(flags, &score, "generic_category", "low", 10, "document was left in an uncategorized bucket")
		}
	}

	score = clampScore(score)
	doc := &ledger.Document{
		ID:        uuid.NewString(),
		RunID:     runID,
		TenantID:  tenantID,
		SourceRef: in.SourceRef,
		ExtractedPayload: map[string]any{
			"vendor":         in.Vendor,
			"invoice_number": in.InvoiceNumber,
			"amount":         in.Amount.String(),
			"currency":       in.Currency,
			"category":       in.Category,
		},
		Flags:  flags,
		Score:  score,
		Status: statusFor(flags, score),
	}
	return doc
}

// isGenericVendorName flags vendor strings that, trimmed and lower-cased,
// equal one of a fixed set of placeholder names. Other single-word or
// all-lowercase names are not flagged.
func isGenericVendorName(vendor string) bool {
	v := strings.TrimSpace(strings.ToLower(vendor))
	if v == "" {
		return false
	}
	switch v {
	case "vendor", "unknown", "n/a", "na", "misc", "various", "test":
		return true
	}
	return false
}

// RunReceipts scores receiptInputs for tenantID over [periodStart,
// periodEnd] and persists the run and its documents. The returned
// summary prompt, if non-empty, should be handed to
// ApplyAdvisorSummary outside the caller's transaction.
func RunReceipts(tx *bbolt.Tx, tenantID string, periodStart, periodEnd time.Time, inputs []DocumentInput, tenantCurrency string, companionEnabled bool) (*ledger.Run, []*ledger.Document, string, error) {
	return runDocuments(tx, ledger.SurfaceReceipts, tenantID, periodStart, periodEnd, inputs, tenantCurrency, companionEnabled)
}

// RunInvoices is RunReceipts's sibling for the invoices surface; invoice
// number and overdue checks only apply here.
func RunInvoices(tx *bbolt.Tx, tenantID string, periodStart, periodEnd time.Time, inputs []DocumentInput, tenantCurrency string, companionEnabled bool) (*ledger.Run, []*ledger.Document, string, error) {
	return runDocuments(tx, ledger.SurfaceInvoices, tenantID, periodStart, periodEnd, inputs, tenantCurrency, companionEnabled)
}

func runDocuments(tx *bbolt.Tx, surface ledger.Surface, tenantID string, periodStart, periodEnd time.Time, inputs []DocumentInput, tenantCurrency string, companionEnabled bool) (*ledger.Run, []*ledger.Document, string, error) {
	run, err := newRun(tx, tenantID, surface, periodStart, periodEnd)
	if err != nil {
		return nil, nil, "", err
	}

	now := time.Now()
	docs := make([]*ledger.Document, 0, len(inputs))
	var candidates []companion.IssueCandidate
	var errorCount, warningCount int
	for _, in := range inputs {
		doc := scoreDocument(surface, run.ID, tenantID, in, tenantCurrency, companionEnabled, now)
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
			if cand, ok := issueCandidateForDocument(surface, run.ID, doc, in.Amount, now); ok {
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
		"document_count": len(docs),
		"error_count":    errorCount,
		"warning_count":  warningCount,
	}

	summaryPrompt := ""
	if companionEnabled && len(docs) > 0 {
		ids := make([]string, 0, len(docs))
		for _, d := range docs {
			ids = append(ids, d.ID)
		}
		summaryPrompt = fmt.Sprintf("surface=%s document_count=%d error_count=%d warning_count=%d document_ids=%s",
			surface, len(docs), errorCount, warningCount, strings.Join(ids, ","))
	}
	if err := completeRun(tx, run, docs); err != nil {
		return nil, nil, "", err
	}
	return run, docs, summaryPrompt, nil
}
