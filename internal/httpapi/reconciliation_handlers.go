package httpapi

import (
	"net/http"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"ledgercore/internal/advisor"
	"ledgercore/internal/ledger"
	"ledgercore/internal/reconciliation"
	"ledgercore/internal/storage"
)

func parseDateParam(r *http.Request, name string) (time.Time, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, false
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func (env *handlerEnv) listBankAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := env.db.ListBankAccounts(tenantID(r))
	if err != nil {
		errorToHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

type periodBucket struct {
	Month  string `json:"month"`
	Locked bool   `json:"locked"`
}

// listPeriods buckets a bank account's transactions by calendar month and
// marks a bucket locked when a completed session already covers it.
func (env *handlerEnv) listPeriods(w http.ResponseWriter, r *http.Request) {
	tid := tenantID(r)
	accountID := urlParam(r, "id")

	var buckets []periodBucket
	err := env.db.View(func(tx *bbolt.Tx) error {
		txs, err := storage.ListBankTxByAccount(tx, tid, accountID)
		if err != nil {
			return err
		}
		sessions, err := storage.ListSessions(tx, tid)
		if err != nil {
			return err
		}

		seen := map[string]bool{}
		var months []string
		for _, t := range txs {
			key := t.Date.Format("2006-01")
			if !seen[key] {
				seen[key] = true
				months = append(months, key)
			}
		}
		for _, m := range months {
			monthStart, _ := time.Parse("2006-01", m)
			monthEnd := monthStart.AddDate(0, 1, -1)
			locked := false
			for _, s := range sessions {
				if s.BankAccountID != accountID || s.Status != ledger.SessionCompleted {
					continue
				}
				if !s.StatementStart.After(monthEnd) && !s.StatementEnd.Before(monthStart) {
					locked = true
					break
				}
			}
			buckets = append(buckets, periodBucket{Month: m, Locked: locked})
		}
		return nil
	})
	if err != nil {
		errorToHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}

// getOrCreateSession resolves the session for ?account_id&start&end,
// creating it (and backfilling balances) on first request for the
// window.
func (env *handlerEnv) getOrCreateSession(w http.ResponseWriter, r *http.Request) {
	tid := tenantID(r)
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		accountID = r.URL.Query().Get("account")
	}
	start, ok1 := parseDateParam(r, "start")
	end, ok2 := parseDateParam(r, "end")
	if accountID == "" || !ok1 || !ok2 {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "account_id, start, and end are required")
		return
	}

	var session *ledger.ReconciliationSession
	var txs []*ledger.BankTransaction
	err := env.db.Update(func(tx *bbolt.Tx) error {
		s, err := reconciliation.ResolveSession(tx, tid, accountID, start, end)
		if err != nil {
			return err
		}
		session = s
		txs, err = storage.ListBankTxBySession(tx, tid, s.ID)
		return err
	})
	if err != nil {
		errorToHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":      session,
		"transactions": txs,
	})
}

type setStatementBalanceRequest struct {
	OpeningBalance *ledger.Cents `json:"opening_balance"`
	ClosingBalance *ledger.Cents `json:"closing_balance"`
}

func (env *handlerEnv) setStatementBalance(w http.ResponseWriter, r *http.Request) {
	tid := tenantID(r)
	sessionID := urlParam(r, "id")
	var req setStatementBalanceRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body")
		return
	}

	var session *ledger.ReconciliationSession
	err := env.db.Update(func(tx *bbolt.Tx) error {
		s, err := storage.GetSession(tx, tid, sessionID)
		if err != nil {
			return ledger.NewValidationError("reconciliation session not found")
		}
		if !s.IsMutable() {
			return ledger.NewStateError(ledger.CodeSessionCompleted,
				"this reconciliation period is completed and cannot be modified; reopen the period to make changes")
		}
		if req.OpeningBalance != nil {
			s.OpeningBalance = *req.OpeningBalance
		}
		if req.ClosingBalance != nil {
			s.ClosingBalance = *req.ClosingBalance
		}
		session = s
		return storage.SaveSession(tx, s)
	})
	if err != nil {
		errorToHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type matchRequest struct {
	BankTxID       string `json:"bank_tx_id"`
	JournalEntryID string `json:"journal_entry_id"`
}

func (env *handlerEnv) matchTx(w http.ResponseWriter, r *http.Request) {
	tid := tenantID(r)
	sessionID := urlParam(r, "id")
	var req matchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body")
		return
	}

	var result *reconciliation.MatchResult
	err := env.db.Update(func(tx *bbolt.Tx) error {
		res, err := reconciliation.Match(tx, tid, sessionID, req.BankTxID, req.JournalEntryID, actor(r))
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		errorToHTTP(w, err)
		return
	}

	env.runHighRiskCritic(r, result)
	writeJSON(w, http.StatusOK, result)
}

type bankTxIDRequest struct {
	BankTxID string `json:"bank_tx_id"`
}

func (env *handlerEnv) unmatchTx(w http.ResponseWriter, r *http.Request) {
	tid := tenantID(r)
	var req bankTxIDRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body")
		return
	}
	err := env.db.Update(func(tx *bbolt.Tx) error {
		return reconciliation.Unmatch(tx, tid, req.BankTxID)
	})
	if err != nil {
		errorToHTTP(w, err)
		return
	}
	if err := env.markStoryDirty(tid); err != nil {
		errorToHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "unmatched"})
}

type excludeRequest struct {
	BankTxID string `json:"bank_tx_id"`
	Exclude  bool   `json:"exclude"`
}

func (env *handlerEnv) excludeTx(w http.ResponseWriter, r *http.Request) {
	tid := tenantID(r)
	var req excludeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body")
		return
	}
	err := env.db.Update(func(tx *bbolt.Tx) error {
		if req.Exclude {
			return reconciliation.Exclude(tx, tid, req.BankTxID)
		}
		return reconciliation.Include(tx, tid, req.BankTxID)
	})
	if err != nil {
		errorToHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (env *handlerEnv) completeSession(w http.ResponseWriter, r *http.Request) {
	tid := tenantID(r)
	sessionID := urlParam(r, "id")
	err := env.db.Update(func(tx *bbolt.Tx) error {
		return reconciliation.Complete(tx, tid, sessionID)
	})
	if err != nil {
		errorToHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
}

func (env *handlerEnv) reopenSession(w http.ResponseWriter, r *http.Request) {
	tid := tenantID(r)
	sessionID := urlParam(r, "id")
	err := env.db.Update(func(tx *bbolt.Tx) error {
		return reconciliation.Reopen(tx, tid, sessionID, isStaff(r))
	})
	if err != nil {
		errorToHTTP(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reopened"})
}

type addAsNewRequest struct {
	BankTxID         string `json:"bank_tx_id"`
	IsBulkAdjustment bool   `json:"is_bulk_adjustment"`
}

func (env *handlerEnv) addAsNew(w http.ResponseWriter, r *http.Request) {
	tid := tenantID(r)
	var req addAsNewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "malformed request body")
		return
	}

	var result *reconciliation.MatchResult
	err := env.db.Update(func(tx *bbolt.Tx) error {
		res, err := reconciliation.AddAsNew(tx, tid, req.BankTxID, actor(r), req.IsBulkAdjustment)
		if err != nil {
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		errorToHTTP(w, err)
		return
	}

	env.runHighRiskCritic(r, result)
	writeJSON(w, http.StatusOK, result)
}

// runHighRiskCritic calls the advisor critic with no transaction open and
// persists its verdict on the bank transaction in a fresh short update,
// mirroring the two-transaction pattern ApplyAdvisorSummary uses for run
// narratives.
func (env *handlerEnv) runHighRiskCritic(r *http.Request, result *reconciliation.MatchResult) {
	if result == nil || !result.NeedsHighRiskAudit || env.provider == nil {
		return
	}
	tid := tenantID(r)
	accounts := []string{result.BankTx.BankAccountID, result.Match.JournalEntryID}
	verdict := advisor.Critic(r.Context(), env.provider, advisor.CriticRequest{
		Amount:           result.BankTx.Amount,
		Accounts:         accounts,
		Memo:             result.BankTx.Description,
		Source:           strings.ToLower(string(result.Match.MatchType)),
		IsBulkAdjustment: result.Match.MatchType == ledger.MatchMulti,
	})
	if verdict == nil {
		return
	}
	_ = env.db.Update(func(tx *bbolt.Tx) error {
		bankTx, err := storage.GetBankTx(tx, tid, result.BankTx.ID)
		if err != nil {
			return err
		}
		bankTx.CriticVerdict = string(verdict.Verdict)
		bankTx.CriticReasons = verdict.Reasons
		bankTx.CriticCalledLLM = verdict.CalledLLM
		return storage.SaveBankTx(tx, bankTx)
	})
}
