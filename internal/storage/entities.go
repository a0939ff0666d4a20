package storage

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"ledgercore/internal/ledger"
)

// ---- Tenants ----

func SaveTenant(tx *bbolt.Tx, t *ledger.Tenant) error {
	return put(tx, BucketTenants, "_", t.ID, t)
}

func (s *Storage) SaveTenant(t *ledger.Tenant) error {
	return s.db.Update(func(tx *bbolt.Tx) error { return SaveTenant(tx, t) })
}

func GetTenant(tx *bbolt.Tx, id string) (*ledger.Tenant, error) {
	return get[ledger.Tenant](tx, BucketTenants, "_", id)
}

func (s *Storage) GetTenant(id string) (*ledger.Tenant, error) {
	var out *ledger.Tenant
	err := s.db.View(func(tx *bbolt.Tx) error {
		v, err := GetTenant(tx, id)
		out = v
		return err
	})
	return out, err
}

// ---- Accounts ----

func SaveAccount(tx *bbolt.Tx, a *ledger.Account) error {
	return put(tx, BucketAccounts, a.TenantID, a.ID, a)
}

func (s *Storage) SaveAccount(a *ledger.Account) error {
	return s.db.Update(func(tx *bbolt.Tx) error { return SaveAccount(tx, a) })
}

func GetAccount(tx *bbolt.Tx, tenantID, id string) (*ledger.Account, error) {
	return get[ledger.Account](tx, BucketAccounts, tenantID, id)
}

func (s *Storage) GetAccount(tenantID, id string) (*ledger.Account, error) {
	var out *ledger.Account
	err := s.db.View(func(tx *bbolt.Tx) error {
		v, err := GetAccount(tx, tenantID, id)
		out = v
		return err
	})
	return out, err
}

func ListAccounts(tx *bbolt.Tx, tenantID string) ([]*ledger.Account, error) {
	return listByTenant[ledger.Account](tx, BucketAccounts, tenantID)
}

func (s *Storage) ListAccounts(tenantID string) ([]*ledger.Account, error) {
	var out []*ledger.Account
	err := s.db.View(func(tx *bbolt.Tx) error {
		v, err := ListAccounts(tx, tenantID)
		out = v
		return err
	})
	return out, err
}

// GetAccountByCode finds an account by its code, used by the default
// accounts materializer's get_or_create semantics.
func GetAccountByCode(tx *bbolt.Tx, tenantID, code string) (*ledger.Account, error) {
	accounts, err := ListAccounts(tx, tenantID)
	if err != nil {
		return nil, err
	}
	for _, a := range accounts {
		if a.Code == code {
			return a, nil
		}
	}
	return nil, fmt.Errorf("account with code %s not found", code)
}

// ---- Journal entries ----

func SaveJournalEntry(tx *bbolt.Tx, e *ledger.JournalEntry) error {
	return put(tx, BucketJournalEntries, e.TenantID, e.ID, e)
}

func (s *Storage) SaveJournalEntry(e *ledger.JournalEntry) error {
	return s.db.Update(func(tx *bbolt.Tx) error { return SaveJournalEntry(tx, e) })
}

func GetJournalEntry(tx *bbolt.Tx, tenantID, id string) (*ledger.JournalEntry, error) {
	return get[ledger.JournalEntry](tx, BucketJournalEntries, tenantID, id)
}

func (s *Storage) GetJournalEntry(tenantID, id string) (*ledger.JournalEntry, error) {
	var out *ledger.JournalEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		v, err := GetJournalEntry(tx, tenantID, id)
		out = v
		return err
	})
	return out, err
}

func ListJournalEntries(tx *bbolt.Tx, tenantID string) ([]*ledger.JournalEntry, error) {
	return listByTenant[ledger.JournalEntry](tx, BucketJournalEntries, tenantID)
}

func (s *Storage) ListJournalEntries(tenantID string) ([]*ledger.JournalEntry, error) {
	var out []*ledger.JournalEntry
	err := s.db.View(func(tx *bbolt.Tx) error {
		v, err := ListJournalEntries(tx, tenantID)
		out = v
		return err
	})
	return out, err
}

// FindJournalEntryByOperationID supports the allocation engine's
// idempotence check: replaying the same operation ID must return the
// already-posted entry instead of posting a duplicate.
func FindJournalEntryByOperationID(tx *bbolt.Tx, tenantID, operationID string) (*ledger.JournalEntry, error) {
	entries, err := ListJournalEntries(tx, tenantID)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.AllocationOperationID == operationID {
			return e, nil
		}
	}
	return nil, nil
}

// ---- Bank accounts ----

func SaveBankAccount(tx *bbolt.Tx, a *ledger.BankAccount) error {
	return put(tx, BucketBankAccounts, a.TenantID, a.ID, a)
}

func (s *Storage) SaveBankAccount(a *ledger.BankAccount) error {
	return s.db.Update(func(tx *bbolt.Tx) error { return SaveBankAccount(tx, a) })
}

func GetBankAccount(tx *bbolt.Tx, tenantID, id string) (*ledger.BankAccount, error) {
	return get[ledger.BankAccount](tx, BucketBankAccounts, tenantID, id)
}

func (s *Storage) GetBankAccount(tenantID, id string) (*ledger.BankAccount, error) {
	var out *ledger.BankAccount
	err := s.db.View(func(tx *bbolt.Tx) error {
		v, err := GetBankAccount(tx, tenantID, id)
		out = v
		return err
	})
	return out, err
}

func ListBankAccounts(tx *bbolt.Tx, tenantID string) ([]*ledger.BankAccount, error) {
	return listByTenant[ledger.BankAccount](tx, BucketBankAccounts, tenantID)
}

func (s *Storage) ListBankAccounts(tenantID string) ([]*ledger.BankAccount, error) {
	var out []*ledger.BankAccount
	err := s.db.View(func(tx *bbolt.Tx) error {
		v, err := ListBankAccounts(tx, tenantID)
		out = v
		return err
	})
	return out, err
}

// ---- Bank transactions ----

func SaveBankTx(tx *bbolt.Tx, t *ledger.BankTransaction) error {
	return put(tx, BucketBankTx, t.TenantID, t.ID, t)
}

func (s *Storage) SaveBankTx(t *ledger.BankTransaction) error {
	return s.db.Update(func(tx *bbolt.Tx) error { return SaveBankTx(tx, t) })
}

func GetBankTx(tx *bbolt.Tx, tenantID, id string) (*ledger.BankTransaction, error) {
	return get[ledger.BankTransaction](tx, BucketBankTx, tenantID, id)
}

func (s *Storage) GetBankTx(tenantID, id string) (*ledger.BankTransaction, error) {
	var out *ledger.BankTransaction
	err := s.db.View(func(tx *bbolt.Tx) error {
		v, err := GetBankTx(tx, tenantID, id)
		out = v
		return err
	})
	return out, err
}

func ListBankTxByAccount(tx *bbolt.Tx, tenantID, bankAccountID string) ([]*ledger.BankTransaction, error) {
	all, err := listByTenant[ledger.BankTransaction](tx, BucketBankTx, tenantID)
	if err != nil {
		return nil, err
	}
	var out []*ledger.BankTransaction
	for _, t := range all {
		if t.BankAccountID == bankAccountID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Storage) ListBankTxByAccount(tenantID, bankAccountID string) ([]*ledger.BankTransaction, error) {
	var out []*ledger.BankTransaction
	err := s.db.View(func(tx *bbolt.Tx) error {
		v, err := ListBankTxByAccount(tx, tenantID, bankAccountID)
		out = v
		return err
	})
	return out, err
}

func ListBankTxBySession(tx *bbolt.Tx, tenantID, sessionID string) ([]*ledger.BankTransaction, error) {
	all, err := listByTenant[ledger.BankTransaction](tx, BucketBankTx, tenantID)
	if err != nil {
		return nil, err
	}
	var out []*ledger.BankTransaction
	for _, t := range all {
		if t.ReconciliationSession == sessionID {
			out = append(out, t)
		}
	}
	return out, nil
}

// ---- Bank reconciliation matches ----

func SaveMatch(tx *bbolt.Tx, m *ledger.BankReconciliationMatch) error {
	return put(tx, BucketBankMatches, m.TenantID, m.ID, m)
}

func (s *Storage) SaveMatch(m *ledger.BankReconciliationMatch) error {
	return s.db.Update(func(tx *bbolt.Tx) error { return SaveMatch(tx, m) })
}

func DeleteMatch(tx *bbolt.Tx, tenantID, id string) error {
	return del(tx, BucketBankMatches, tenantID, id)
}

func ListMatchesByTx(tx *bbolt.Tx, tenantID, bankTxID string) ([]*ledger.BankReconciliationMatch, error) {
	all, err := listByTenant[ledger.BankReconciliationMatch](tx, BucketBankMatches, tenantID)
	if err != nil {
		return nil, err
	}
	var out []*ledger.BankReconciliationMatch
	for _, m := range all {
		if m.BankTransactionID == bankTxID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Storage) ListMatchesByTx(tenantID, bankTxID string) ([]*ledger.BankReconciliationMatch, error) {
	var out []*ledger.BankReconciliationMatch
	err := s.db.View(func(tx *bbolt.Tx) error {
		v, err := ListMatchesByTx(tx, tenantID, bankTxID)
		out = v
		return err
	})
	return out, err
}

// ---- Reconciliation sessions ----

func SaveSession(tx *bbolt.Tx, sess *ledger.ReconciliationSession) error {
	return put(tx, BucketSessions, sess.TenantID, sess.ID, sess)
}

func (s *Storage) SaveSession(sess *ledger.ReconciliationSession) error {
	return s.db.Update(func(tx *bbolt.Tx) error { return SaveSession(tx, sess) })
}

func GetSession(tx *bbolt.Tx, tenantID, id string) (*ledger.ReconciliationSession, error) {
	return get[ledger.ReconciliationSession](tx, BucketSessions, tenantID, id)
}

func (s *Storage) GetSession(tenantID, id string) (*ledger.ReconciliationSession, error) {
	var out *ledger.ReconciliationSession
	err := s.db.View(func(tx *bbolt.Tx) error {
		v, err := GetSession(tx, tenantID, id)
		out = v
		return err
	})
	return out, err
}

func ListSessions(tx *bbolt.Tx, tenantID string) ([]*ledger.ReconciliationSession, error) {
	return listByTenant[ledger.ReconciliationSession](tx, BucketSessions, tenantID)
}

func DeleteSession(tx *bbolt.Tx, tenantID, id string) error {
	return del(tx, BucketSessions, tenantID, id)
}

// FindSessionFor returns the session covering bankAccountID/start/end, if
// one already exists.
func FindSessionFor(tx *bbolt.Tx, tenantID, bankAccountID string, start, end time.Time) (*ledger.ReconciliationSession, error) {
	sessions, err := ListSessions(tx, tenantID)
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		if s.BankAccountID == bankAccountID && s.StatementStart.Equal(start) && s.StatementEnd.Equal(end) {
			return s, nil
		}
	}
	return nil, nil
}

// ---- Invoices & bills ----
//
// These are narrow, allocation-engine-owned mirrors of the customer
// invoicing / supplier billing surfaces (see ledger.Invoice/ledger.Bill);
// the core only ever updates AmountPaid on them.

func SaveInvoice(tx *bbolt.Tx, inv *ledger.Invoice) error {
	return put(tx, BucketInvoices, inv.TenantID, inv.ID, inv)
}

func (s *Storage) SaveInvoice(inv *ledger.Invoice) error {
	return s.db.Update(func(tx *bbolt.Tx) error { return SaveInvoice(tx, inv) })
}

func GetInvoice(tx *bbolt.Tx, tenantID, id string) (*ledger.Invoice, error) {
	return get[ledger.Invoice](tx, BucketInvoices, tenantID, id)
}

func (s *Storage) GetInvoice(tenantID, id string) (*ledger.Invoice, error) {
	var out *ledger.Invoice
	err := s.db.View(func(tx *bbolt.Tx) error {
		v, err := GetInvoice(tx, tenantID, id)
		out = v
		return err
	})
	return out, err
}

func SaveBill(tx *bbolt.Tx, b *ledger.Bill) error {
	return put(tx, BucketBills, b.TenantID, b.ID, b)
}

func (s *Storage) SaveBill(b *ledger.Bill) error {
	return s.db.Update(func(tx *bbolt.Tx) error { return SaveBill(tx, b) })
}

func GetBill(tx *bbolt.Tx, tenantID, id string) (*ledger.Bill, error) {
	return get[ledger.Bill](tx, BucketBills, tenantID, id)
}

func (s *Storage) GetBill(tenantID, id string) (*ledger.Bill, error) {
	var out *ledger.Bill
	err := s.db.View(func(tx *bbolt.Tx) error {
		v, err := GetBill(tx, tenantID, id)
		out = v
		return err
	})
	return out, err
}

// ---- Bank rules ----

func SaveBankRule(tx *bbolt.Tx, r *ledger.BankRule) error {
	return put(tx, BucketBankRules, r.TenantID, r.ID, r)
}

func (s *Storage) SaveBankRule(r *ledger.BankRule) error {
	return s.db.Update(func(tx *bbolt.Tx) error { return SaveBankRule(tx, r) })
}

func ListBankRules(tx *bbolt.Tx, tenantID string) ([]*ledger.BankRule, error) {
	return listByTenant[ledger.BankRule](tx, BucketBankRules, tenantID)
}

func (s *Storage) ListBankRules(tenantID string) ([]*ledger.BankRule, error) {
	var out []*ledger.BankRule
	err := s.db.View(func(tx *bbolt.Tx) error {
		v, err := ListBankRules(tx, tenantID)
		out = v
		return err
	})
	return out, err
}
