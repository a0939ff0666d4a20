// Package ledger holds the core domain model of the bookkeeping platform's
// reconciliation & review subsystem: tenants, the chart of accounts, the
// double-entry journal, bank feeds, reconciliation sessions, review
// artifacts, and the companion layer's cached state.
//
// Every entity carries an explicit TenantID column; "current tenant" is
// passed as a function argument throughout this module, never read off a
// process global, so that a single process can safely serve many tenants
// concurrently.
package ledger

import (
	"time"

	"ledgercore/internal/money"
)

// Cents re-exports money.Cents so callers of this package do not need to
// import internal/money for the common case.
type Cents = money.Cents

// ----------------------------------------------------------------------
// Tenant
// ----------------------------------------------------------------------

// Tenant (aka Business) owns every other entity in this package.
type Tenant struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Currency          string    `json:"currency"`
	FiscalYearStart   int       `json:"fiscal_year_start"` // month, 1-12
	CompanionEnabled  bool      `json:"companion_enabled"`
	CreatedAt         time.Time `json:"created_at"`
}

// ----------------------------------------------------------------------
// Chart of accounts
// ----------------------------------------------------------------------

type AccountType string

const (
	Asset     AccountType = "ASSET"
	Liability AccountType = "LIABILITY"
	Equity    AccountType = "EQUITY"
	Income    AccountType = "INCOME"
	Expense   AccountType = "EXPENSE"
)

// Account is a node in the tenant's chart of accounts.
type Account struct {
	ID       string      `json:"id"`
	TenantID string      `json:"tenant_id"`
	Code     string      `json:"code"`
	Name     string      `json:"name"`
	Type     AccountType `json:"type"`
	Active   bool        `json:"active"`
}

// NormalIncreasesOnDebit reports whether this account type's normal
// balance increases on the debit side (assets and expenses) versus the
// credit side (liabilities, equity, income).
func (t AccountType) NormalIncreasesOnDebit() bool {
	return t == Asset || t == Expense
}

// ----------------------------------------------------------------------
// Double-entry journal
// ----------------------------------------------------------------------

// JournalEntry is a balanced set of debit/credit lines dated as of a
// single business day.
type JournalEntry struct {
	ID                   string         `json:"id"`
	TenantID             string         `json:"tenant_id"`
	Date                 time.Time      `json:"date"`
	Description          string         `json:"description"`
	IsVoid               bool           `json:"is_void"`
	AllocationOperationID string        `json:"allocation_operation_id,omitempty"`
	Lines                []*JournalLine `json:"lines"`
	CreatedAt            time.Time      `json:"created_at"`
}

// JournalLine is a single debit or credit posting to one account.
type JournalLine struct {
	ID                     string     `json:"id"`
	EntryID                string     `json:"entry_id"`
	AccountID              string     `json:"account_id"`
	Debit                  Cents      `json:"debit"`
	Credit                 Cents      `json:"credit"`
	Description            string     `json:"description,omitempty"`
	IsReconciled           bool       `json:"is_reconciled"`
	ReconciledAt           *time.Time `json:"reconciled_at,omitempty"`
	ReconciliationSession  string     `json:"reconciliation_session,omitempty"`
}

// ----------------------------------------------------------------------
// Bank feed
// ----------------------------------------------------------------------

// BankAccount is a tenant's bank account, optionally mirroring a ledger
// account's balance.
type BankAccount struct {
	ID               string `json:"id"`
	TenantID         string `json:"tenant_id"`
	Name             string `json:"name"`
	LinkedAccountID  string `json:"linked_account_id,omitempty"`
}

type BankTxStatus string

const (
	TxNew            BankTxStatus = "NEW"
	TxPartial        BankTxStatus = "PARTIAL"
	TxMatchedSingle  BankTxStatus = "MATCHED_SINGLE"
	TxMatchedMulti   BankTxStatus = "MATCHED_MULTI"
	TxExcluded       BankTxStatus = "EXCLUDED"
)

// ReconciledStatuses is the set of statuses that mean "reconciled".
var ReconciledStatuses = map[BankTxStatus]bool{
	TxMatchedSingle: true,
	TxMatchedMulti:  true,
}

// CanTransition reports whether the bank-tx status machine allows the
// given transition.
func (s BankTxStatus) CanTransition(to BankTxStatus) bool {
	switch s {
	case TxNew:
		return to == TxPartial || to == TxMatchedSingle || to == TxMatchedMulti || to == TxExcluded
	case TxPartial:
		return to == TxMatchedSingle || to == TxMatchedMulti || to == TxNew
	case TxMatchedSingle, TxMatchedMulti:
		return to == TxNew
	case TxExcluded:
		return to == TxNew
	default:
		return false
	}
}

// BankTransaction is a single imported bank feed line.
type BankTransaction struct {
	ID                    string       `json:"id"`
	TenantID              string       `json:"tenant_id"`
	BankAccountID         string       `json:"bank_account_id"`
	Date                  time.Time    `json:"date"`
	Description           string       `json:"description"`
	Amount                Cents        `json:"amount"` // signed: deposit>0, withdrawal<0
	ExternalID            string       `json:"external_id,omitempty"`
	Status                BankTxStatus `json:"status"`
	AllocatedAmount       Cents        `json:"allocated_amount"`
	ReconciliationStatus  BankTxStatus `json:"reconciliation_status"`
	ReconciliationSession string       `json:"reconciliation_session,omitempty"`
	MatchedInvoiceID      string       `json:"matched_invoice_id,omitempty"`
	MatchedExpenseID      string       `json:"matched_expense_id,omitempty"`
	PostedJournalEntryID  string       `json:"posted_journal_entry_id,omitempty"`
	SuggestionConfidence  float64      `json:"suggestion_confidence,omitempty"`
	SuggestionReason      string       `json:"suggestion_reason,omitempty"`
	CategoryAccountID     string       `json:"category_account_id,omitempty"`
	DedupeKey             string       `json:"dedupe_key,omitempty"`
	CriticVerdict         string       `json:"critic_verdict,omitempty"`
	CriticReasons         []string     `json:"critic_reasons,omitempty"`
	CriticCalledLLM       bool         `json:"critic_called_llm,omitempty"`
}

// IsReconciled reports whether the tx's status counts as reconciled.
func (t *BankTransaction) IsReconciled() bool {
	return ReconciledStatuses[t.Status]
}

type MatchType string

const (
	MatchOneToOne MatchType = "ONE_TO_ONE"
	MatchManual   MatchType = "MANUAL"
	MatchRule     MatchType = "RULE"
	MatchMulti    MatchType = "MULTI"
)

// BankReconciliationMatch links a bank transaction to a journal entry for
// some portion of its amount. Multiple rows per tx are allowed.
type BankReconciliationMatch struct {
	ID                       string    `json:"id"`
	TenantID                 string    `json:"tenant_id"`
	BankTransactionID        string    `json:"bank_transaction_id"`
	JournalEntryID           string    `json:"journal_entry_id"`
	MatchType                MatchType `json:"match_type"`
	MatchConfidence          float64   `json:"match_confidence"`
	MatchedAmount            Cents     `json:"matched_amount"`
	ReconciledBy             string    `json:"reconciled_by,omitempty"`
	AdjustmentJournalEntryID string    `json:"adjustment_journal_entry_id,omitempty"`
	CreatedAt                time.Time `json:"created_at"`
}

type SessionStatus string

const (
	SessionDraft      SessionStatus = "DRAFT"
	SessionInProgress SessionStatus = "IN_PROGRESS"
	SessionCompleted  SessionStatus = "COMPLETED"
)

// ReconciliationSession is a bounded reconciliation workspace for one bank
// account over a statement date range.
type ReconciliationSession struct {
	ID                 string        `json:"id"`
	TenantID           string        `json:"tenant_id"`
	BankAccountID      string        `json:"bank_account_id"`
	StatementStart     time.Time     `json:"statement_start_date"`
	StatementEnd       time.Time     `json:"statement_end_date"`
	OpeningBalance     Cents         `json:"opening_balance"`
	ClosingBalance     Cents         `json:"closing_balance"`
	Status             SessionStatus `json:"status"`
	CompletedAt        *time.Time    `json:"completed_at,omitempty"`
}

// IsMutable reports whether the session accepts mutating endpoints.
func (s *ReconciliationSession) IsMutable() bool {
	return s.Status != SessionCompleted
}
