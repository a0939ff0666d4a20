package matching

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"ledgercore/internal/ledger"
	"ledgercore/internal/money"
	"ledgercore/internal/storage"
)

const testTenant = "tenant-match"

func openTestStorage(t *testing.T) *storage.Storage {
	t.Helper()
	f, err := os.CreateTemp("", "matching-test-*.db")
	require.NoError(t, err)
	f.Close()
	path := f.Name()
	t.Cleanup(func() { os.Remove(path) })

	db, err := storage.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSuggestBankRuleShortCircuits(t *testing.T) {
	db := openTestStorage(t)
	err := db.Update(func(tx *bbolt.Tx) error {
		rule := &ledger.BankRule{
			ID:                uuid.New().String(),
			TenantID:          testTenant,
			MerchantPattern:   "staples",
			CategoryAccountID: "acct-office-supplies",
		}
		require.NoError(t, storage.SaveBankRule(tx, rule))

		bankTx := &ledger.BankTransaction{
			ID:          uuid.New().String(),
			TenantID:    testTenant,
			Description: "STAPLES #4471 OFFICE SUPPLIES",
			Amount:      money.Cents(-4500),
			Date:        time.Now(),
		}
		candidates, err := Suggest(tx, testTenant, bankTx, "")
		require.NoError(t, err)
		require.Len(t, candidates, 1)
		require.Equal(t, ledger.MatchRule, candidates[0].MatchType)
		require.InDelta(t, 0.95, candidates[0].Confidence, 0.0001)
		return nil
	})
	require.NoError(t, err)
}

func TestSuggestRanksByAmountDateAndDescription(t *testing.T) {
	db := openTestStorage(t)
	now := time.Now()
	cashAccountID := "cash-acct"

	err := db.Update(func(tx *bbolt.Tx) error {
		exact := &ledger.JournalEntry{
			ID:          uuid.New().String(),
			TenantID:    testTenant,
			Date:        now,
			Description: "Client payment Northwind Traders",
			Lines: []*ledger.JournalLine{
				{ID: uuid.New().String(), AccountID: cashAccountID, Debit: money.Cents(10000)},
			},
		}
		require.NoError(t, storage.SaveJournalEntry(tx, exact))

		farOff := &ledger.JournalEntry{
			ID:          uuid.New().String(),
			TenantID:    testTenant,
			Date:        now.AddDate(0, 0, -30),
			Description: "unrelated entry",
			Lines: []*ledger.JournalLine{
				{ID: uuid.New().String(), AccountID: cashAccountID, Debit: money.Cents(10000)},
			},
		}
		require.NoError(t, storage.SaveJournalEntry(tx, farOff))

		bankTx := &ledger.BankTransaction{
			ID:          uuid.New().String(),
			TenantID:    testTenant,
			Description: "Client payment Northwind Traders",
			Amount:      money.Cents(10000),
			Date:        now,
		}
		candidates, err := Suggest(tx, testTenant, bankTx, cashAccountID)
		require.NoError(t, err)
		require.Len(t, candidates, 1, "the far-off entry falls outside the date window")
		require.Equal(t, exact.ID, candidates[0].JournalEntryID)
		require.Greater(t, candidates[0].Confidence, 0.8)
		return nil
	})
	require.NoError(t, err)
}

func TestSuggestReturnsNilWithoutLinkedAccount(t *testing.T) {
	db := openTestStorage(t)
	err := db.Update(func(tx *bbolt.Tx) error {
		bankTx := &ledger.BankTransaction{
			ID:          uuid.New().String(),
			TenantID:    testTenant,
			Description: "whatever",
			Amount:      money.Cents(500),
			Date:        time.Now(),
		}
		candidates, err := Suggest(tx, testTenant, bankTx, "")
		require.NoError(t, err)
		require.Nil(t, candidates)
		return nil
	})
	require.NoError(t, err)
}

func TestApplyTopSuggestionPersistsOnBankTx(t *testing.T) {
	db := openTestStorage(t)
	err := db.Update(func(tx *bbolt.Tx) error {
		rule := &ledger.BankRule{
			ID:                uuid.New().String(),
			TenantID:          testTenant,
			MerchantPattern:   "payroll",
			CategoryAccountID: "acct-payroll",
		}
		require.NoError(t, storage.SaveBankRule(tx, rule))

		bankTx := &ledger.BankTransaction{
			ID:          uuid.New().String(),
			TenantID:    testTenant,
			Description: "Payroll run March",
			Amount:      money.Cents(-120000),
			Date:        time.Now(),
		}
		require.NoError(t, ApplyTopSuggestion(tx, testTenant, bankTx, ""))
		require.InDelta(t, 0.95, bankTx.SuggestionConfidence, 0.0001)
		require.Contains(t, bankTx.SuggestionReason, "payroll")
		return nil
	})
	require.NoError(t, err)
}

func TestApplyTopSuggestionClearsWhenNoCandidates(t *testing.T) {
	db := openTestStorage(t)
	err := db.Update(func(tx *bbolt.Tx) error {
		bankTx := &ledger.BankTransaction{
			ID:                   uuid.New().String(),
			TenantID:             testTenant,
			Description:          "nothing matches this",
			Amount:               money.Cents(999),
			Date:                 time.Now(),
			SuggestionConfidence: 0.5,
			SuggestionReason:     "stale",
		}
		require.NoError(t, ApplyTopSuggestion(tx, testTenant, bankTx, ""))
		require.Equal(t, 0.0, bankTx.SuggestionConfidence)
		require.Equal(t, "", bankTx.SuggestionReason)
		return nil
	})
	require.NoError(t, err)
}

func TestTokenOverlapJaccard(t *testing.T) {
	require.Equal(t, 0.0, tokenOverlap("", "something"))
	require.Greater(t, tokenOverlap("client payment northwind", "northwind client invoice"), 0.0)
	require.Equal(t, 0.0, tokenOverlap("aaa bbb", "ccc ddd"))
}
