package httpapi

import (
	"net/http"
	"time"

	"go.etcd.io/bbolt"

	"ledgercore/internal/ledger"
	"ledgercore/internal/review"
	"ledgercore/internal/storage"
)

var surfaceAliases = map[string]ledger.Surface{
	"receipts":      ledger.SurfaceReceipts,
	"invoices":      ledger.SurfaceInvoices,
	"books-review":  ledger.SurfaceBooks,
	"bank-review":   ledger.SurfaceBank,
}

func resolveSurface(r *http.Request) (ledger.Surface, bool) {
	s, ok := surfaceAliases[urlParam(r, "surface")]
	return s, ok
}

type documentInputRequest struct {
	SourceRef     string `json:"source_ref"`
	Vendor        string `json:"vendor"`
	InvoiceNumber string `json:"invoice_number"`
	Amount        int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
	Date          string `json:"date"`
	Category      string `json:"category"`
}

func toDocumentInput(in documentInputRequest) review.DocumentInput {
	var date time.Time
	if in.Date != "" {
		date, _ = time.Parse("2006-01-02", in.Date)
	}
	return review.DocumentInput{
		SourceRef:     in.SourceRef,
		Vendor:        in.Vendor,
		InvoiceNumber: in.InvoiceNumber,
		Amount:        ledgerCents(in.Amount),
		Currency:      in.Currency,
		Date:          date,
		Category:      in.Category,
	}
}

type runPipelineRequest struct {
	PeriodStart   string                 `json:"period_start"`
	PeriodEnd     string                 `json:"period_end"`
	BankAccountID string                 `json:"bank_account_id,omitempty"`
	Documents     []documentInputRequest `json:"documents,omitempty"`
}

// runPipeline runs the deterministic pipeline for {surface} inside one
// transaction, then — outside that transaction — applies an optional
// advisor narrative summary, matching the rule that advisor calls never
// happen while a write transaction is open.
func (env *handlerEnv) runPipeline(w http.ResponseWriter, r *http.Request) {
	surface, ok := resolveSurface(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "unknown review surface")
		return
	}
	var req runPipelineRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body")
		return
	}
	periodStart, err1 := time.Parse("2006-01-02", req.PeriodStart)
	periodEnd, err2 := time.Parse("2006-01-02", req.PeriodEnd)
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "period_start and period_end must be YYYY-MM-DD")
		return
	}

	tid := tenantID(r)
	var run *ledger.Run
	var docs []*ledger.Document
	var summaryPrompt string
	err := env.db.Update(func(tx *bbolt.Tx) error {
		tenant, err := storage.GetTenant(tx, tid)
		if err != nil {
			return err
		}
		companionEnabled := tenant != nil && tenant.CompanionEnabled

		switch surface {
		case ledger.SurfaceReceipts:
			inputs := make([]review.DocumentInput, 0, len(req.Documents))
			for _, d := range req.Documents {
				inputs = append(inputs, toDocumentInput(d))
			}
			run, docs, summaryPrompt, err = review.RunReceipts(tx, tid, periodStart, periodEnd, inputs, tenant.Currency, companionEnabled)
		case ledger.SurfaceInvoices:
			inputs := make([]review.DocumentInput, 0, len(req.Documents))
			for _, d := range req.Documents {
				inputs = append(inputs, toDocumentInput(d))
			}
			run, docs, summaryPrompt, err = review.RunInvoices(tx, tid, periodStart, periodEnd, inputs, tenant.Currency, companionEnabled)
		case ledger.SurfaceBooks:
			run, docs, summaryPrompt, err = review.RunBooks(tx, tid, periodStart, periodEnd, companionEnabled)
		case ledger.SurfaceBank:
			if req.BankAccountID == "" {
				return ledger.NewValidationError("bank_account_id is required for the bank review surface")
			}
			run, docs, summaryPrompt, err = review.RunBank(tx, tid, req.BankAccountID, periodStart, periodEnd, companionEnabled)
		}
		return err
	})
	if err != nil {
		errorToHTTP(w, err)
		return
	}

	documentIDs := make([]string, 0, len(docs))
	for _, d := range docs {
		documentIDs = append(documentIDs, d.ID)
	}
	if err := review.ApplyAdvisorSummary(r.Context(), env.db, tid, run.ID, summaryPrompt, documentIDs, env.provider); err != nil {
		errorToHTTP(w, err)
		return
	}
	if err := env.markStoryDirty(tid); err != nil {
		errorToHTTP(w, err)
		return
	}

	refreshed, err := env.db.GetRun(tid, run.ID)
	if err != nil {
		errorToHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, refreshed)
}

func (env *handlerEnv) listRuns(w http.ResponseWriter, r *http.Request) {
	surface, ok := resolveSurface(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "unknown review surface")
		return
	}
	runs, err := env.db.ListRuns(tenantID(r), surface)
	if err != nil {
		errorToHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (env *handlerEnv) getRun(w http.ResponseWriter, r *http.Request) {
	tid := tenantID(r)
	runID := urlParam(r, "id")

	var run *ledger.Run
	var docs []*ledger.Document
	err := env.db.View(func(tx *bbolt.Tx) error {
		rn, err := storage.GetRun(tx, tid, runID)
		if err != nil {
			return ledger.NewNotFoundError("run not found")
		}
		run = rn
		docs, err = storage.ListDocumentsByRun(tx, tid, runID)
		return err
	})
	if err != nil {
		errorToHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"run":       run,
		"documents": docs,
	})
}
