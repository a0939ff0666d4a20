package review

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"ledgercore/internal/ledger"
	"ledgercore/internal/storage"
)

const testTenant = "tenant-review"

func openTestStorage(t *testing.T) *storage.Storage {
	t.Helper()
	f, err := os.CreateTemp("", "review-test-*.db")
	require.NoError(t, err)
	f.Close()
	path := f.Name()
	t.Cleanup(func() { os.Remove(path) })

	db, err := storage.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRunReceiptsFlagsMissingFields(t *testing.T) {
	db := openTestStorage(t)
	start := time.Now().AddDate(0, -1, 0)
	end := time.Now()

	var run *ledger.Run
	var docs []*ledger.Document
	err := db.Update(func(tx *bbolt.Tx) error {
		var err error
		run, docs, _, err = RunReceipts(tx, testTenant, start, end, []DocumentInput{
			{SourceRef: "r1", Vendor: "", Amount: 0, Currency: "USD", Date: time.Now()},
		}, "USD", false)
		return err
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, ledger.AuditError, docs[0].Status)
	require.Equal(t, ledger.RunCompleted, run.Status)
	require.Greater(t, run.OverallRiskScore, 0.0)
}

func TestRunReceiptsScoresCleanDocumentAsOK(t *testing.T) {
	db := openTestStorage(t)
	start := time.Now().AddDate(0, -1, 0)
	end := time.Now()

	var docs []*ledger.Document
	err := db.Update(func(tx *bbolt.Tx) error {
		var err error
		_, docs, _, err = RunReceipts(tx, testTenant, start, end, []DocumentInput{
			{SourceRef: "r2", Vendor: "Staples", Amount: ledger.Cents(4500), Currency: "USD", Date: time.Now(), Category: "office_supplies"},
		}, "USD", false)
		return err
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	require.Equal(t, ledger.AuditOK, docs[0].Status)
	require.Equal(t, 0.0, docs[0].Score)
}

func TestRunInvoicesFlagsMissingInvoiceNumberAndOverdue(t *testing.T) {
	db := openTestStorage(t)
	start := time.Now().AddDate(0, -4, 0)
	end := time.Now()

	var docs []*ledger.Document
	err := db.Update(func(tx *bbolt.Tx) error {
		var err error
		_, docs, _, err = RunInvoices(tx, testTenant, start, end, []DocumentInput{
			{SourceRef: "i1", Vendor: "Fabrikam", InvoiceNumber: "", Amount: ledger.Cents(20000), Currency: "USD", Date: time.Now().AddDate(0, 0, -120)},
		}, "USD", false)
		return err
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	var codes []string
	for _, f := range docs[0].Flags {
		codes = append(codes, f.Code)
	}
	require.Contains(t, codes, "missing_invoice_number")
	require.Contains(t, codes, "overdue")
}

func TestRunReceiptsFlagsLargeAndUnusualAmounts(t *testing.T) {
	db := openTestStorage(t)
	start := time.Now().AddDate(0, -1, 0)
	end := time.Now()

	var docs []*ledger.Document
	err := db.Update(func(tx *bbolt.Tx) error {
		var err error
		_, docs, _, err = RunReceipts(tx, testTenant, start, end, []DocumentInput{
			{SourceRef: "big", Vendor: "Acme Corp", Amount: ledger.Cents(600000), Currency: "USD", Date: time.Now()},
			{SourceRef: "mid", Vendor: "Acme Corp", Amount: ledger.Cents(150000), Currency: "USD", Date: time.Now()},
		}, "USD", false)
		return err
	})
	require.NoError(t, err)
	require.Len(t, docs, 2)

	// sorted descending by score: the large-amount doc scores highest.
	require.Equal(t, "big", docs[0].SourceRef)
	require.Greater(t, docs[0].Score, docs[1].Score)
}

func TestRunReceiptsFlagsCurrencyMismatch(t *testing.T) {
	db := openTestStorage(t)
	start := time.Now().AddDate(0, -1, 0)
	end := time.Now()

	var docs []*ledger.Document
	err := db.Update(func(tx *bbolt.Tx) error {
		var err error
		_, docs, _, err = RunReceipts(tx, testTenant, start, end, []DocumentInput{
			{SourceRef: "fx", Vendor: "Euro Vendor", Amount: ledger.Cents(5000), Currency: "EUR", Date: time.Now()},
		}, "USD", false)
		return err
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	var hasMismatch bool
	for _, f := range docs[0].Flags {
		if f.Code == "currency_mismatch" {
			hasMismatch = true
		}
	}
	require.True(t, hasMismatch)
}

func TestRunReceiptsCompanionFlagsGenericVendorAndCategory(t *testing.T) {
	db := openTestStorage(t)
	start := time.Now().AddDate(0, -1, 0)
	end := time.Now()

	var docs []*ledger.Document
	err := db.Update(func(tx *bbolt.Tx) error {
		var err error
		_, docs, _, err = RunReceipts(tx, testTenant, start, end, []DocumentInput{
			{SourceRef: "g1", Vendor: "misc", Amount: ledger.Cents(1000), Currency: "USD", Date: time.Now(), Category: ""},
		}, "USD", true)
		return err
	})
	require.NoError(t, err)
	require.Len(t, docs, 1)

	var codes []string
	for _, f := range docs[0].Flags {
		codes = append(codes, f.Code)
	}
	require.Contains(t, codes, "generic_vendor_name")
	require.Contains(t, codes, "generic_category")
}

func TestRunReceiptsSummaryPromptOnlyWhenCompanionEnabled(t *testing.T) {
	db := openTestStorage(t)
	start := time.Now().AddDate(0, -1, 0)
	end := time.Now()

	var promptDisabled, promptEnabled string
	err := db.Update(func(tx *bbolt.Tx) error {
		var err error
		_, _, promptDisabled, err = RunReceipts(tx, testTenant, start, end, []DocumentInput{
			{SourceRef: "x", Vendor: "Acme", Amount: ledger.Cents(1000), Currency: "USD", Date: time.Now()},
		}, "USD", false)
		if err != nil {
			return err
		}
		_, _, promptEnabled, err = RunReceipts(tx, testTenant, start, end, []DocumentInput{
			{SourceRef: "y", Vendor: "Acme", Amount: ledger.Cents(1000), Currency: "USD", Date: time.Now()},
		}, "USD", true)
		return err
	})
	require.NoError(t, err)
	require.Empty(t, promptDisabled)
	require.NotEmpty(t, promptEnabled)
}
