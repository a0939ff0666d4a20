package storage

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"ledgercore/internal/ledger"
)

func openTestStorage(t *testing.T) *Storage {
	t.Helper()
	f, err := os.CreateTemp("", "storage-test-*.db")
	require.NoError(t, err)
	f.Close()
	path := f.Name()
	t.Cleanup(func() { os.Remove(path) })

	db, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenCreatesAllBuckets(t *testing.T) {
	db := openTestStorage(t)
	err := db.View(func(tx *bbolt.Tx) error {
		for _, b := range allBuckets {
			require.NotNil(t, tx.Bucket(b), "bucket %s should exist", b)
		}
		return nil
	})
	require.NoError(t, err)
}

func TestTenantKeyIsolatesEntitiesAcrossTenants(t *testing.T) {
	db := openTestStorage(t)
	err := db.Update(func(tx *bbolt.Tx) error {
		a := &ledger.Account{ID: "acct-1", TenantID: "tenant-a", Code: "1000", Name: "Cash", Type: ledger.Asset, Active: true}
		b := &ledger.Account{ID: "acct-1", TenantID: "tenant-b", Code: "1000", Name: "Cash", Type: ledger.Asset, Active: true}
		if err := SaveAccount(tx, a); err != nil {
			return err
		}
		return SaveAccount(tx, b)
	})
	require.NoError(t, err)

	err = db.View(func(tx *bbolt.Tx) error {
		accountsA, err := ListAccounts(tx, "tenant-a")
		require.NoError(t, err)
		accountsB, err := ListAccounts(tx, "tenant-b")
		require.NoError(t, err)
		require.Len(t, accountsA, 1)
		require.Len(t, accountsB, 1)

		got, err := GetAccount(tx, "tenant-a", "acct-1")
		require.NoError(t, err)
		require.Equal(t, "tenant-a", got.TenantID)
		return nil
	})
	require.NoError(t, err)
}

func TestGetReturnsErrorWhenMissing(t *testing.T) {
	db := openTestStorage(t)
	err := db.View(func(tx *bbolt.Tx) error {
		_, err := GetAccount(tx, "tenant-x", "does-not-exist")
		require.Error(t, err)
		return nil
	})
	require.NoError(t, err)
}

func TestListByTenantScansOnlyMatchingPrefix(t *testing.T) {
	db := openTestStorage(t)
	err := db.Update(func(tx *bbolt.Tx) error {
		for i := 0; i < 3; i++ {
			acc := &ledger.Account{ID: uuid.New().String(), TenantID: "tenant-many", Code: "1000", Name: "Cash", Type: ledger.Asset}
			if err := SaveAccount(tx, acc); err != nil {
				return err
			}
		}
		other := &ledger.Account{ID: uuid.New().String(), TenantID: "tenant-many-2", Code: "1000", Name: "Cash", Type: ledger.Asset}
		return SaveAccount(tx, other)
	})
	require.NoError(t, err)

	err = db.View(func(tx *bbolt.Tx) error {
		accounts, err := ListAccounts(tx, "tenant-many")
		require.NoError(t, err)
		require.Len(t, accounts, 3, "a tenant whose ID is a prefix of another must not leak its accounts")
		return nil
	})
	require.NoError(t, err)
}

func TestDeleteRemovesEntity(t *testing.T) {
	db := openTestStorage(t)
	match := &ledger.BankReconciliationMatch{ID: "match-1", TenantID: "tenant-del"}
	err := db.Update(func(tx *bbolt.Tx) error {
		return SaveMatch(tx, match)
	})
	require.NoError(t, err)

	err = db.Update(func(tx *bbolt.Tx) error {
		return DeleteMatch(tx, "tenant-del", "match-1")
	})
	require.NoError(t, err)

	err = db.View(func(tx *bbolt.Tx) error {
		matches, err := ListMatchesByTx(tx, "tenant-del", "")
		require.NoError(t, err)
		require.Empty(t, matches)
		return nil
	})
	require.NoError(t, err)
}

func TestAccountBalanceAsOfSumsDebitsAndCreditsByNormalSide(t *testing.T) {
	db := openTestStorage(t)
	const tenantID = "tenant-balance"
	cash := &ledger.Account{ID: uuid.New().String(), TenantID: tenantID, Code: "1000", Name: "Cash", Type: ledger.Asset}
	payable := &ledger.Account{ID: uuid.New().String(), TenantID: tenantID, Code: "2000", Name: "Accounts Payable", Type: ledger.Liability}

	now := time.Now()
	err := db.Update(func(tx *bbolt.Tx) error {
		if err := SaveAccount(tx, cash); err != nil {
			return err
		}
		if err := SaveAccount(tx, payable); err != nil {
			return err
		}
		entry := &ledger.JournalEntry{
			ID:       uuid.New().String(),
			TenantID: tenantID,
			Date:     now.AddDate(0, 0, -5),
			Lines: []*ledger.JournalLine{
				{ID: uuid.New().String(), AccountID: cash.ID, Debit: ledger.Cents(10000)},
				{ID: uuid.New().String(), AccountID: payable.ID, Credit: ledger.Cents(10000)},
			},
		}
		if err := SaveJournalEntry(tx, entry); err != nil {
			return err
		}
		voided := &ledger.JournalEntry{
			ID:       uuid.New().String(),
			TenantID: tenantID,
			Date:     now.AddDate(0, 0, -4),
			IsVoid:   true,
			Lines: []*ledger.JournalLine{
				{ID: uuid.New().String(), AccountID: cash.ID, Debit: ledger.Cents(99999)},
			},
		}
		return SaveJournalEntry(tx, voided)
	})
	require.NoError(t, err)

	err = db.View(func(tx *bbolt.Tx) error {
		cashBalance, err := AccountBalanceAsOf(tx, tenantID, cash.ID, now)
		require.NoError(t, err)
		require.Equal(t, ledger.Cents(10000), cashBalance, "asset balance is debit minus credit, voided entries excluded")

		payableBalance, err := AccountBalanceAsOf(tx, tenantID, payable.ID, now)
		require.NoError(t, err)
		require.Equal(t, ledger.Cents(10000), payableBalance, "liability balance is credit minus debit")
		return nil
	})
	require.NoError(t, err)
}

func TestAccountBalanceAsOfExcludesEntriesAfterCutoff(t *testing.T) {
	db := openTestStorage(t)
	const tenantID = "tenant-balance-cutoff"
	cash := &ledger.Account{ID: uuid.New().String(), TenantID: tenantID, Code: "1000", Name: "Cash", Type: ledger.Asset}

	now := time.Now()
	err := db.Update(func(tx *bbolt.Tx) error {
		if err := SaveAccount(tx, cash); err != nil {
			return err
		}
		future := &ledger.JournalEntry{
			ID:       uuid.New().String(),
			TenantID: tenantID,
			Date:     now.AddDate(0, 0, 10),
			Lines: []*ledger.JournalLine{
				{ID: uuid.New().String(), AccountID: cash.ID, Debit: ledger.Cents(5000)},
			},
		}
		return SaveJournalEntry(tx, future)
	})
	require.NoError(t, err)

	err = db.View(func(tx *bbolt.Tx) error {
		balance, err := AccountBalanceAsOf(tx, tenantID, cash.ID, now)
		require.NoError(t, err)
		require.Equal(t, ledger.Cents(0), balance)
		return nil
	})
	require.NoError(t, err)
}

func TestAccountBalanceAsOfReturnsZeroForEmptyAccountID(t *testing.T) {
	db := openTestStorage(t)
	err := db.View(func(tx *bbolt.Tx) error {
		balance, err := AccountBalanceAsOf(tx, "tenant-x", "", time.Now())
		require.NoError(t, err)
		require.Equal(t, ledger.Cents(0), balance)
		return nil
	})
	require.NoError(t, err)
}
