package allocation

import (
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.etcd.io/bbolt"

	"ledgercore/internal/defaults"
	"ledgercore/internal/ledger"
	"ledgercore/internal/money"
	"ledgercore/internal/storage"
)

const testTenant = "tenant-alloc"

func openTestStorage(t *testing.T) *storage.Storage {
	t.Helper()
	f, err := os.CreateTemp("", "alloc-test-*.db")
	require.NoError(t, err)
	f.Close()
	path := f.Name()
	t.Cleanup(func() { os.Remove(path) })

	db, err := storage.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

// seedBankTx creates a linked bank account pointed at the tenant's
// default cash account and a deposit/withdrawal bank transaction.
func seedBankTx(t *testing.T, tx *bbolt.Tx, amount money.Cents) *ledger.BankTransaction {
	t.Helper()
	def, err := defaults.Ensure(tx, testTenant)
	require.NoError(t, err)

	bankAccount := &ledger.BankAccount{
		ID:              uuid.New().String(),
		TenantID:        testTenant,
		Name:            "Checking",
		LinkedAccountID: def.Cash.ID,
	}
	require.NoError(t, storage.SaveBankAccount(tx, bankAccount))

	bankTx := &ledger.BankTransaction{
		ID:            uuid.New().String(),
		TenantID:      testTenant,
		BankAccountID: bankAccount.ID,
		Date:          time.Now(),
		Description:   "Test transaction",
		Amount:        amount,
		Status:        ledger.TxNew,
	}
	require.NoError(t, storage.SaveBankTx(tx, bankTx))
	return bankTx
}

func TestAllocateDirectIncomeBalancesAndMarksMatched(t *testing.T) {
	db := openTestStorage(t)

	var bankTx *ledger.BankTransaction
	err := db.Update(func(tx *bbolt.Tx) error {
		bankTx = seedBankTx(t, tx, money.Cents(10000))
		return nil
	})
	require.NoError(t, err)

	var result *Result
	err = db.Update(func(tx *bbolt.Tx) error {
		def, err := defaults.Ensure(tx, testTenant)
		require.NoError(t, err)

		req := Request{
			UserID: "alice",
			Allocations: []Allocation{
				{Kind: KindDirectIncome, Amount: money.Cents(10000), AccountID: def.FallbackIncome.ID},
			},
		}
		result, err = Allocate(tx, testTenant, bankTx.ID, req)
		return err
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	var totalDebit, totalCredit money.Cents
	for _, l := range result.Entry.Lines {
		totalDebit += l.Debit
		totalCredit += l.Credit
	}
	require.Equal(t, totalDebit, totalCredit)

	err = db.View(func(tx *bbolt.Tx) error {
		updated, err := storage.GetBankTx(tx, testTenant, bankTx.ID)
		require.NoError(t, err)
		require.Equal(t, ledger.TxMatchedSingle, updated.Status)
		require.Equal(t, money.Cents(10000), updated.AllocatedAmount)
		return nil
	})
	require.NoError(t, err)
}

func TestAllocateInvoiceRequiresDeposit(t *testing.T) {
	db := openTestStorage(t)

	var bankTx *ledger.BankTransaction
	err := db.Update(func(tx *bbolt.Tx) error {
		bankTx = seedBankTx(t, tx, money.Cents(-5000)) // withdrawal
		return nil
	})
	require.NoError(t, err)

	err = db.Update(func(tx *bbolt.Tx) error {
		req := Request{
			UserID: "alice",
			Allocations: []Allocation{
				{Kind: KindInvoice, Amount: money.Cents(5000), TargetID: "whatever"},
			},
		}
		_, err := Allocate(tx, testTenant, bankTx.ID, req)
		return err
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "invoice allocations require a deposit")
}

func TestAllocateRejectsZeroAmountAllocations(t *testing.T) {
	db := openTestStorage(t)

	var bankTx *ledger.BankTransaction
	err := db.Update(func(tx *bbolt.Tx) error {
		bankTx = seedBankTx(t, tx, money.Cents(10000))
		return nil
	})
	require.NoError(t, err)

	err = db.Update(func(tx *bbolt.Tx) error {
		req := Request{
			UserID: "alice",
			Allocations: []Allocation{
				{Kind: KindDirectIncome, Amount: money.Cents(0)},
			},
		}
		_, err := Allocate(tx, testTenant, bankTx.ID, req)
		return err
	})
	require.Error(t, err)
}

func TestAllocateTaxOnTopAddsSalesTaxLine(t *testing.T) {
	db := openTestStorage(t)

	var bankTx *ledger.BankTransaction
	err := db.Update(func(tx *bbolt.Tx) error {
		bankTx = seedBankTx(t, tx, money.Cents(11500))
		return nil
	})
	require.NoError(t, err)

	var result *Result
	err = db.Update(func(tx *bbolt.Tx) error {
		def, err := defaults.Ensure(tx, testTenant)
		require.NoError(t, err)
		req := Request{
			UserID: "alice",
			Allocations: []Allocation{
				{
					Kind:           KindDirectIncome,
					Amount:         money.Cents(10000),
					AccountID:      def.FallbackIncome.ID,
					TaxTreatment:   money.TaxOnTop,
					TaxRatePercent: 15,
				},
			},
		}
		result, err = Allocate(tx, testTenant, bankTx.ID, req)
		return err
	})
	require.NoError(t, err)

	var sawTaxLine bool
	err = db.View(func(tx *bbolt.Tx) error {
		def, err := defaults.Ensure(tx, testTenant)
		require.NoError(t, err)
		for _, l := range result.Entry.Lines {
			if l.AccountID == def.SalesTaxPayable.ID {
				sawTaxLine = true
				require.Equal(t, money.Cents(1500), l.Credit)
			}
		}
		return nil
	})
	require.NoError(t, err)
	require.True(t, sawTaxLine, "expected a sales tax payable line")
}

func TestAllocateIsIdempotentByOperationID(t *testing.T) {
	db := openTestStorage(t)

	var bankTx *ledger.BankTransaction
	err := db.Update(func(tx *bbolt.Tx) error {
		bankTx = seedBankTx(t, tx, money.Cents(10000))
		return nil
	})
	require.NoError(t, err)

	opID := "op-" + uuid.New().String()
	req := Request{
		UserID:      "alice",
		OperationID: opID,
		Allocations: []Allocation{{Kind: KindDirectIncome, Amount: money.Cents(10000)}},
	}

	var first, second *Result
	err = db.Update(func(tx *bbolt.Tx) error {
		def, _ := defaults.Ensure(tx, testTenant)
		req.Allocations[0].AccountID = def.FallbackIncome.ID
		var err error
		first, err = Allocate(tx, testTenant, bankTx.ID, req)
		return err
	})
	require.NoError(t, err)

	err = db.Update(func(tx *bbolt.Tx) error {
		var err error
		second, err = Allocate(tx, testTenant, bankTx.ID, req)
		return err
	})
	require.NoError(t, err)

	require.Equal(t, first.Entry.ID, second.Entry.ID)
}

func TestAllocateRejectsExcludedTransaction(t *testing.T) {
	db := openTestStorage(t)

	var bankTx *ledger.BankTransaction
	err := db.Update(func(tx *bbolt.Tx) error {
		bankTx = seedBankTx(t, tx, money.Cents(10000))
		bankTx.Status = ledger.TxExcluded
		return storage.SaveBankTx(tx, bankTx)
	})
	require.NoError(t, err)

	err = db.Update(func(tx *bbolt.Tx) error {
		def, _ := defaults.Ensure(tx, testTenant)
		req := Request{
			UserID:      "alice",
			Allocations: []Allocation{{Kind: KindDirectIncome, Amount: money.Cents(10000), AccountID: def.FallbackIncome.ID}},
		}
		_, err := Allocate(tx, testTenant, bankTx.ID, req)
		return err
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "excluded")
}

func TestRecomputeStatusTransitions(t *testing.T) {
	db := openTestStorage(t)

	err := db.Update(func(tx *bbolt.Tx) error {
		bankTx := seedBankTx(t, tx, money.Cents(10000))

		match := &ledger.BankReconciliationMatch{
			ID:                uuid.New().String(),
			TenantID:          testTenant,
			BankTransactionID: bankTx.ID,
			MatchedAmount:     money.Cents(4000),
		}
		require.NoError(t, storage.SaveMatch(tx, match))

		require.NoError(t, RecomputeStatus(tx, testTenant, bankTx))
		require.Equal(t, ledger.TxPartial, bankTx.Status)
		require.Equal(t, money.Cents(4000), bankTx.AllocatedAmount)
		return nil
	})
	require.NoError(t, err)
}
