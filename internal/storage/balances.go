package storage

import (
	"time"

	"go.etcd.io/bbolt"

	"ledgercore/internal/ledger"
)

// AccountBalanceAsOf sums non-void journal lines posted to accountID on or
// before asOf, signed per the account's normal balance side, generalizing
// accounting.go's Ledger.GetAccountBalance to a point-in-time query used
// when a reconciliation session first seeds its opening balance.
func AccountBalanceAsOf(tx *bbolt.Tx, tenantID, accountID string, asOf time.Time) (ledger.Cents, error) {
	if accountID == "" {
		return 0, nil
	}
	account, err := GetAccount(tx, tenantID, accountID)
	if err != nil {
		return 0, nil
	}
	entries, err := ListJournalEntries(tx, tenantID)
	if err != nil {
		return 0, err
	}
	var debit, credit ledger.Cents
	for _, e := range entries {
		if e.IsVoid {
			continue
		}
		if e.Date.After(asOf) {
			continue
		}
		for _, l := range e.Lines {
			if l.AccountID != accountID {
				continue
			}
			debit += l.Debit
			credit += l.Credit
		}
	}
	if account.Type.NormalIncreasesOnDebit() {
		return debit - credit, nil
	}
	return credit - debit, nil
}
