// Package reconciliation implements the bank-reconciliation session
// lifecycle: resolving or creating a statement-period workspace, matching
// and unmatching bank transactions against journal entries, excluding
// transactions from a period, and gating period completion —
// generalizing reconciliation.go's Reconciler from its single fixed
// period shape to tenant-scoped, bank-account-scoped sessions with an
// explicit mutability gate.
package reconciliation

import (
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"ledgercore/internal/defaults"
	"ledgercore/internal/ledger"
	"ledgercore/internal/matching"
	"ledgercore/internal/money"
	"ledgercore/internal/storage"
)

// HighRiskThreshold is the absolute amount above which a match or
// add-as-new posting is flagged for advisor critique.
const HighRiskThreshold = money.Cents(500000) // $5,000.00

// CompletionTolerance bounds the allowed difference between a session's
// statement balance and its cleared running balance.
const CompletionTolerance = money.Cents(1) // $0.01

// MatchResult reports the outcome of a match/add-as-new call plus
// whether the caller should invoke the advisor's high-risk critic —
// always outside of this function's transaction, per the rule that
// advisor calls never occur inside write transactions.
type MatchResult struct {
	Match              *ledger.BankReconciliationMatch
	BankTx             *ledger.BankTransaction
	NeedsHighRiskAudit bool
}

// ResolveSession returns the session covering (bankAccountID, start, end)
// under tenantID, creating it (and backfilling its opening/closing
// balance from the ledger) if absent, then attaching any orphan bank
// transactions whose date falls in the window.
func ResolveSession(tx *bbolt.Tx, tenantID, bankAccountID string, start, end time.Time) (*ledger.ReconciliationSession, error) {
	existing, err := storage.FindSessionFor(tx, tenantID, bankAccountID, start, end)
	if err != nil {
		return nil, err
	}
	bankAccount, err := storage.GetBankAccount(tx, tenantID, bankAccountID)
	if err != nil {
		return nil, ledger.NewValidationError("bank account not found")
	}

	if existing == nil {
		opening, err := storage.AccountBalanceAsOf(tx, tenantID, bankAccount.LinkedAccountID, start.AddDate(0, 0, -1))
		if err != nil {
			return nil, err
		}
		closing, err := storage.AccountBalanceAsOf(tx, tenantID, bankAccount.LinkedAccountID, end)
		if err != nil {
			return nil, err
		}
		existing = &ledger.ReconciliationSession{
			ID:             uuid.New().String(),
			TenantID:       tenantID,
			BankAccountID:  bankAccountID,
			StatementStart: start,
			StatementEnd:   end,
			OpeningBalance: opening,
			ClosingBalance: closing,
			Status:         ledger.SessionDraft,
		}
		if err := storage.SaveSession(tx, existing); err != nil {
			return nil, err
		}
	}

	if err := attachOrphans(tx, tenantID, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// attachOrphans links bank transactions in the session's period that have
// no session yet, normalizing their reconciliation status from status.
func attachOrphans(tx *bbolt.Tx, tenantID string, session *ledger.ReconciliationSession) error {
	all, err := storage.ListBankTxByAccount(tx, tenantID, session.BankAccountID)
	if err != nil {
		return err
	}
	for _, t := range all {
		if t.ReconciliationSession != "" {
			continue
		}
		if t.Date.Before(session.StatementStart) || t.Date.After(session.StatementEnd) {
			continue
		}
		t.ReconciliationSession = session.ID
		t.ReconciliationStatus = t.Status
		if t.Status == ledger.TxNew {
			if account, err := storage.GetBankAccount(tx, tenantID, t.BankAccountID); err == nil {
				_ = matching.ApplyTopSuggestion(tx, tenantID, t, account.LinkedAccountID)
			}
		}
		if err := storage.SaveBankTx(tx, t); err != nil {
			return err
		}
	}
	return nil
}

func assertMutable(session *ledger.ReconciliationSession) error {
	if !session.IsMutable() {
		return ledger.NewStateError(ledger.CodeSessionCompleted,
			"this reconciliation period is completed and cannot be modified; reopen the period to make changes")
	}
	return nil
}

func assertInPeriod(t time.Time, session *ledger.ReconciliationSession, what string) error {
	if t.Before(session.StatementStart) || t.After(session.StatementEnd) {
		return ledger.NewValidationError("%s is out of period for this session", what)
	}
	return nil
}

// Match links bankTxID to journalEntryID under sessionID: clears any
// existing matches for the transaction, creates a single ONE_TO_ONE match
// for its full amount, and reconciles the journal line on the bank's
// linked ledger account.
func Match(tx *bbolt.Tx, tenantID, sessionID, bankTxID, journalEntryID, userID string) (*MatchResult, error) {
	session, err := storage.GetSession(tx, tenantID, sessionID)
	if err != nil {
		return nil, ledger.NewValidationError("reconciliation session not found")
	}
	if err := assertMutable(session); err != nil {
		return nil, err
	}
	bankTx, err := storage.GetBankTx(tx, tenantID, bankTxID)
	if err != nil {
		return nil, ledger.NewValidationError("bank transaction not found")
	}
	entry, err := storage.GetJournalEntry(tx, tenantID, journalEntryID)
	if err != nil {
		return nil, ledger.NewValidationError("journal entry not found")
	}
	if err := assertInPeriod(bankTx.Date, session, "transaction"); err != nil {
		return nil, err
	}
	if err := assertInPeriod(entry.Date, session, "journal entry"); err != nil {
		return nil, err
	}
	if bankTx.ReconciliationSession != "" && bankTx.ReconciliationSession != sessionID {
		return nil, ledger.NewValidationError("transaction belongs to another session")
	}

	if err := clearMatches(tx, tenantID, bankTxID); err != nil {
		return nil, err
	}

	amount := bankTx.Amount.Abs()
	now := time.Now()
	match := &ledger.BankReconciliationMatch{
		ID:                uuid.New().String(),
		TenantID:          tenantID,
		BankTransactionID: bankTxID,
		JournalEntryID:    journalEntryID,
		MatchType:         ledger.MatchOneToOne,
		MatchConfidence:   1.0,
		MatchedAmount:     amount,
		ReconciledBy:      userID,
		CreatedAt:         now,
	}
	if err := storage.SaveMatch(tx, match); err != nil {
		return nil, err
	}

	bankTx.AllocatedAmount = amount
	bankTx.PostedJournalEntryID = journalEntryID
	bankTx.Status = ledger.TxMatchedSingle
	bankTx.ReconciliationSession = sessionID
	bankTx.ReconciliationStatus = ledger.TxMatchedSingle
	if err := storage.SaveBankTx(tx, bankTx); err != nil {
		return nil, err
	}

	if bankAccount, err := storage.GetBankAccount(tx, tenantID, bankTx.BankAccountID); err == nil && bankAccount.LinkedAccountID != "" {
		for _, l := range entry.Lines {
			if l.AccountID == bankAccount.LinkedAccountID {
				l.IsReconciled = true
				l.ReconciledAt = &now
				l.ReconciliationSession = sessionID
			}
		}
		if err := storage.SaveJournalEntry(tx, entry); err != nil {
			return nil, err
		}
	}

	needsAudit, err := needsHighRiskAudit(tx, tenantID, amount, false)
	if err != nil {
		return nil, err
	}
	return &MatchResult{Match: match, BankTx: bankTx, NeedsHighRiskAudit: needsAudit}, nil
}

func clearMatches(tx *bbolt.Tx, tenantID, bankTxID string) error {
	existing, err := storage.ListMatchesByTx(tx, tenantID, bankTxID)
	if err != nil {
		return err
	}
	for _, m := range existing {
		if err := storage.DeleteMatch(tx, tenantID, m.ID); err != nil {
			return err
		}
	}
	return nil
}

func needsHighRiskAudit(tx *bbolt.Tx, tenantID string, amount money.Cents, isBulk bool) (bool, error) {
	tenant, err := storage.GetTenant(tx, tenantID)
	if err != nil || tenant == nil || !tenant.CompanionEnabled {
		return false, nil
	}
	return amount.Abs() > HighRiskThreshold || isBulk, nil
}

// Unmatch deletes all matches for bankTxID and resets it to NEW.
func Unmatch(tx *bbolt.Tx, tenantID, bankTxID string) error {
	bankTx, err := storage.GetBankTx(tx, tenantID, bankTxID)
	if err != nil {
		return ledger.NewValidationError("bank transaction not found")
	}
	if bankTx.ReconciliationSession != "" {
		session, err := storage.GetSession(tx, tenantID, bankTx.ReconciliationSession)
		if err == nil {
			if err := assertMutable(session); err != nil {
				return err
			}
		}
	}

	prevEntryID := bankTx.PostedJournalEntryID
	if prevEntryID != "" {
		if entry, err := storage.GetJournalEntry(tx, tenantID, prevEntryID); err == nil {
			for _, l := range entry.Lines {
				l.IsReconciled = false
				l.ReconciledAt = nil
				l.ReconciliationSession = ""
			}
			_ = storage.SaveJournalEntry(tx, entry)
		}
	}

	if err := clearMatches(tx, tenantID, bankTxID); err != nil {
		return err
	}

	bankTx.Status = ledger.TxNew
	bankTx.AllocatedAmount = 0
	bankTx.PostedJournalEntryID = ""
	bankTx.MatchedInvoiceID = ""
	bankTx.MatchedExpenseID = ""
	bankTx.ReconciliationStatus = ledger.TxNew

	if account, err := storage.GetBankAccount(tx, tenantID, bankTx.BankAccountID); err == nil {
		_ = matching.ApplyTopSuggestion(tx, tenantID, bankTx, account.LinkedAccountID)
	}
	return storage.SaveBankTx(tx, bankTx)
}

// Exclude marks bankTxID EXCLUDED, refusing to allow further allocation.
func Exclude(tx *bbolt.Tx, tenantID, bankTxID string) error {
	return setExcluded(tx, tenantID, bankTxID, true)
}

// Include reverses Exclude, returning the transaction to NEW.
func Include(tx *bbolt.Tx, tenantID, bankTxID string) error {
	return setExcluded(tx, tenantID, bankTxID, false)
}

func setExcluded(tx *bbolt.Tx, tenantID, bankTxID string, excluded bool) error {
	bankTx, err := storage.GetBankTx(tx, tenantID, bankTxID)
	if err != nil {
		return ledger.NewValidationError("bank transaction not found")
	}
	if bankTx.ReconciliationSession != "" {
		session, err := storage.GetSession(tx, tenantID, bankTx.ReconciliationSession)
		if err == nil {
			if err := assertMutable(session); err != nil {
				return err
			}
		}
	}
	if excluded {
		if bankTx.Status != ledger.TxNew {
			return ledger.NewValidationError("only new transactions can be excluded")
		}
		bankTx.Status = ledger.TxExcluded
	} else {
		if bankTx.Status != ledger.TxExcluded {
			return ledger.NewValidationError("only excluded transactions can be restored")
		}
		bankTx.Status = ledger.TxNew
	}
	bankTx.ReconciliationStatus = bankTx.Status
	return storage.SaveBankTx(tx, bankTx)
}

// clearedSum sums the signed amounts of a session's reconciled-or-partial
// transactions: excluded rows contribute 0; partial rows use the signed
// allocated amount; matched rows use the full signed amount.
func clearedSum(tx *bbolt.Tx, tenantID, sessionID string) (money.Cents, error) {
	txs, err := storage.ListBankTxBySession(tx, tenantID, sessionID)
	if err != nil {
		return 0, err
	}
	var total money.Cents
	for _, t := range txs {
		switch {
		case t.Status == ledger.TxExcluded:
		case t.Status == ledger.TxPartial:
			signed := t.AllocatedAmount
			if t.Amount < 0 {
				signed = -signed
			}
			total += signed
		case ledger.ReconciledStatuses[t.Status]:
			total += t.Amount
		}
	}
	return total, nil
}

func unreconciledCount(tx *bbolt.Tx, tenantID, sessionID string) (int, error) {
	txs, err := storage.ListBankTxBySession(tx, tenantID, sessionID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, t := range txs {
		if t.Status == ledger.TxExcluded {
			continue
		}
		if !ledger.ReconciledStatuses[t.Status] {
			n++
		}
	}
	return n, nil
}

// Complete marks sessionID COMPLETED if the statement reconciles to zero
// difference and no non-excluded transaction remains unreconciled.
func Complete(tx *bbolt.Tx, tenantID, sessionID string) error {
	session, err := storage.GetSession(tx, tenantID, sessionID)
	if err != nil {
		return ledger.NewValidationError("reconciliation session not found")
	}
	cleared, err := clearedSum(tx, tenantID, sessionID)
	if err != nil {
		return err
	}
	diff := session.ClosingBalance - (session.OpeningBalance + cleared)
	if diff.Abs() > CompletionTolerance {
		return ledger.NewStateError(ledger.CodeDifferenceNotZero, "difference must be zero before completing this period")
	}
	n, err := unreconciledCount(tx, tenantID, sessionID)
	if err != nil {
		return err
	}
	if n > 0 {
		return ledger.NewStateError(ledger.CodeUnreconciledTransactionsRemain, "you still have unreconciled transactions in this period")
	}
	now := time.Now()
	session.Status = ledger.SessionCompleted
	session.CompletedAt = &now
	return storage.SaveSession(tx, session)
}

// Reopen resets a COMPLETED session back to IN_PROGRESS. Only callable by
// a privileged user.
func Reopen(tx *bbolt.Tx, tenantID, sessionID string, isPrivileged bool) error {
	if !isPrivileged {
		return ledger.NewForbiddenError("only a privileged user may reopen a completed session")
	}
	session, err := storage.GetSession(tx, tenantID, sessionID)
	if err != nil {
		return ledger.NewValidationError("reconciliation session not found")
	}
	if session.Status != ledger.SessionCompleted {
		return ledger.NewStateError(ledger.CodeReopenNotCompleted, "only completed sessions can be reopened")
	}
	session.Status = ledger.SessionInProgress
	session.CompletedAt = nil
	return storage.SaveSession(tx, session)
}

// DeleteSession detaches all of a session's transactions back to NEW,
// deletes their matches, and removes the session record. Privileged-only.
func DeleteSession(tx *bbolt.Tx, tenantID, sessionID string, isPrivileged bool) error {
	if !isPrivileged {
		return ledger.NewForbiddenError("only a privileged user may delete a reconciliation session")
	}
	session, err := storage.GetSession(tx, tenantID, sessionID)
	if err != nil {
		return ledger.NewValidationError("reconciliation session not found")
	}
	txs, err := storage.ListBankTxBySession(tx, tenantID, sessionID)
	if err != nil {
		return err
	}
	for _, t := range txs {
		if t.PostedJournalEntryID != "" {
			if entry, err := storage.GetJournalEntry(tx, tenantID, t.PostedJournalEntryID); err == nil {
				for _, l := range entry.Lines {
					l.IsReconciled = false
					l.ReconciledAt = nil
					l.ReconciliationSession = ""
				}
				_ = storage.SaveJournalEntry(tx, entry)
			}
		}
		if err := clearMatches(tx, tenantID, t.ID); err != nil {
			return err
		}
		t.ReconciliationSession = ""
		t.Status = ledger.TxNew
		t.ReconciliationStatus = ledger.TxNew
		t.AllocatedAmount = 0
		t.PostedJournalEntryID = ""
		if err := storage.SaveBankTx(tx, t); err != nil {
			return err
		}
	}
	return storage.DeleteSession(tx, tenantID, sessionID)
}

// AddAsNew auto-creates a balanced two-line journal entry for bankTxID
// using its category account (or the tenant's Uncategorized holding
// account) as the offset, then reconciles it via Match.
func AddAsNew(tx *bbolt.Tx, tenantID, bankTxID, userID string, isBulkAdjustment bool) (*MatchResult, error) {
	bankTx, err := storage.GetBankTx(tx, tenantID, bankTxID)
	if err != nil {
		return nil, ledger.NewValidationError("bank transaction not found")
	}
	bankAccount, err := storage.GetBankAccount(tx, tenantID, bankTx.BankAccountID)
	if err != nil {
		return nil, ledger.NewValidationError("bank account not found")
	}
	if bankAccount.LinkedAccountID == "" {
		return nil, ledger.NewValidationError("bank account %s has no linked ledger account", bankAccount.Name)
	}

	sessionID := bankTx.ReconciliationSession
	if sessionID == "" {
		monthStart := time.Date(bankTx.Date.Year(), bankTx.Date.Month(), 1, 0, 0, 0, 0, bankTx.Date.Location())
		monthEnd := monthStart.AddDate(0, 1, -1)
		session, err := ResolveSession(tx, tenantID, bankTx.BankAccountID, monthStart, monthEnd)
		if err != nil {
			return nil, err
		}
		sessionID = session.ID
	}

	offsetAccountID := bankTx.CategoryAccountID
	if offsetAccountID == "" {
		uncategorized, err := defaults.EnsureUncategorized(tx, tenantID)
		if err != nil {
			return nil, err
		}
		offsetAccountID = uncategorized.ID
	}

	absAmount := bankTx.Amount.Abs()
	entry := &ledger.JournalEntry{
		ID:          uuid.New().String(),
		TenantID:    tenantID,
		Date:        bankTx.Date,
		Description: descriptionOrDefault(bankTx.Description),
		CreatedAt:   time.Now(),
	}
	if bankTx.Amount < 0 {
		entry.Lines = []*ledger.JournalLine{
			{ID: uuid.New().String(), EntryID: entry.ID, AccountID: offsetAccountID, Debit: absAmount},
			{ID: uuid.New().String(), EntryID: entry.ID, AccountID: bankAccount.LinkedAccountID, Credit: absAmount},
		}
	} else {
		entry.Lines = []*ledger.JournalLine{
			{ID: uuid.New().String(), EntryID: entry.ID, AccountID: bankAccount.LinkedAccountID, Debit: absAmount},
			{ID: uuid.New().String(), EntryID: entry.ID, AccountID: offsetAccountID, Credit: absAmount},
		}
	}
	if err := storage.SaveJournalEntry(tx, entry); err != nil {
		return nil, err
	}

	result, err := Match(tx, tenantID, sessionID, bankTxID, entry.ID, userID)
	if err != nil {
		return nil, err
	}
	needsAudit, err := needsHighRiskAudit(tx, tenantID, absAmount, isBulkAdjustment)
	if err != nil {
		return nil, err
	}
	result.NeedsHighRiskAudit = needsAudit
	return result, nil
}

func descriptionOrDefault(d string) string {
	if d == "" {
		return "Bank transaction"
	}
	return d
}
