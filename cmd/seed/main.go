// Command seed populates a fresh store with a demo tenant, its default
// chart of accounts, a linked bank account, and a small sample bank feed
// so the reconciliation and review surfaces have something to operate
// on without a real CSV import.
package main

import (
	"flag"
	"log"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"ledgercore/internal/defaults"
	"ledgercore/internal/ledger"
	"ledgercore/internal/storage"
)

func main() {
	dbPath := flag.String("db", "./data/ledgercore.db", "path to the bbolt store")
	tenantName := flag.String("tenant", "Acme Bookkeeping Demo", "name of the demo tenant to create")
	flag.Parse()

	db, err := storage.Open(*dbPath)
	if err != nil {
		log.Fatalf("seed: opening store: %v", err)
	}
	defer db.Close()

	tenantID := uuid.New().String()
	err = db.Update(func(tx *bbolt.Tx) error {
		tenant := &ledger.Tenant{
			ID:               tenantID,
			Name:             *tenantName,
			Currency:         "USD",
			FiscalYearStart:  1,
			CompanionEnabled: true,
			CreatedAt:        time.Now(),
		}
		if err := storage.SaveTenant(tx, tenant); err != nil {
			return err
		}

		def, err := defaults.Ensure(tx, tenantID)
		if err != nil {
			return err
		}

		bankAccount := &ledger.BankAccount{
			ID:              uuid.New().String(),
			TenantID:        tenantID,
			Name:            "Demo Checking",
			LinkedAccountID: def.Cash.ID,
		}
		if err := storage.SaveBankAccount(tx, bankAccount); err != nil {
			return err
		}

		return seedBankFeed(tx, tenantID, bankAccount.ID)
	})
	if err != nil {
		log.Fatalf("seed: %v", err)
	}

	log.Printf("seed: created tenant %s (%s)", *tenantName, tenantID)
}

func seedBankFeed(tx *bbolt.Tx, tenantID, bankAccountID string) error {
	now := time.Now()
	feed := []struct {
		daysAgo     int
		amount      ledger.Cents
		description string
		externalID  string
	}{
		{28, 250000, "Client payment - Northwind Traders", "ext-1001"},
		{24, -4599, "Office supplies - Staples", "ext-1002"},
		{20, -120000, "Payroll run", "ext-1003"},
		{14, 75000, "Client payment - Fabrikam Inc", "ext-1004"},
		{9, -2500, "Bank service fee", "ext-1005"},
		{3, -15000, "Software subscription renewal", "ext-1006"},
	}

	for _, f := range feed {
		t := &ledger.BankTransaction{
			ID:            uuid.New().String(),
			TenantID:      tenantID,
			BankAccountID: bankAccountID,
			Date:          now.AddDate(0, 0, -f.daysAgo),
			Description:   f.description,
			Amount:        f.amount,
			ExternalID:    f.externalID,
			Status:        ledger.TxNew,
		}
		if err := storage.SaveBankTx(tx, t); err != nil {
			return err
		}
	}
	return nil
}
