// Package defaults materializes the small per-tenant chart-of-accounts
// template the allocation and reconciliation engines depend on, the way
// engine.go's CreateStandardAccounts seeded a demo chart — generalized
// here to be idempotent (get_or_create on tenant+code) so concurrent
// requests racing to seed the same tenant never duplicate accounts,
// matching storage.go's CreateBucketIfNotExists idempotence.
package defaults

import (
	"fmt"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"ledgercore/internal/ledger"
	"ledgercore/internal/storage"
)

// Well-known codes every tenant gets seeded with.
const (
	CodeCash               = "1000"
	CodeAccountsReceivable = "1100"
	CodeAccountsPayable    = "2000"
	CodeSalesTaxPayable    = "2100"
	CodeTaxRecoverable     = "1200"
	CodeFallbackIncome     = "4000"
	CodeFallbackExpense    = "5000"
	CodeSalesReturns       = "4900"
	CodeUncategorized      = "9999"
)

// Set is the resolved set of default accounts for a tenant.
type Set struct {
	Cash               *ledger.Account
	AccountsReceivable *ledger.Account
	AccountsPayable    *ledger.Account
	SalesTaxPayable    *ledger.Account
	TaxRecoverable     *ledger.Account
	FallbackIncome     *ledger.Account
	FallbackExpense    *ledger.Account
	SalesReturns       *ledger.Account
}

var templates = []struct {
	code string
	name string
	typ  ledger.AccountType
}{
	{CodeCash, "Cash", ledger.Asset},
	{CodeAccountsReceivable, "Accounts Receivable", ledger.Asset},
	{CodeAccountsPayable, "Accounts Payable", ledger.Liability},
	{CodeSalesTaxPayable, "Sales Tax Payable", ledger.Liability},
	{CodeTaxRecoverable, "Tax Recoverable", ledger.Asset},
	{CodeFallbackIncome, "Uncategorized Income", ledger.Income},
	{CodeFallbackExpense, "Uncategorized Expense", ledger.Expense},
	{CodeSalesReturns, "Sales Returns & Allowances", ledger.Income},
}

// Ensure materializes the default chart of accounts for tenantID inside
// tx if not already present, and returns the resolved Set.
func Ensure(tx *bbolt.Tx, tenantID string) (*Set, error) {
	resolved := make(map[string]*ledger.Account, len(templates))
	for _, t := range templates {
		acc, err := getOrCreate(tx, tenantID, t.code, t.name, t.typ)
		if err != nil {
			return nil, fmt.Errorf("failed to ensure default account %s: %w", t.code, err)
		}
		resolved[t.code] = acc
	}
	return &Set{
		Cash:               resolved[CodeCash],
		AccountsReceivable: resolved[CodeAccountsReceivable],
		AccountsPayable:    resolved[CodeAccountsPayable],
		SalesTaxPayable:    resolved[CodeSalesTaxPayable],
		TaxRecoverable:     resolved[CodeTaxRecoverable],
		FallbackIncome:     resolved[CodeFallbackIncome],
		FallbackExpense:    resolved[CodeFallbackExpense],
		SalesReturns:       resolved[CodeSalesReturns],
	}, nil
}

func getOrCreate(tx *bbolt.Tx, tenantID, code, name string, typ ledger.AccountType) (*ledger.Account, error) {
	if acc, err := storage.GetAccountByCode(tx, tenantID, code); err == nil {
		return acc, nil
	}
	acc := &ledger.Account{
		ID:       uuid.New().String(),
		TenantID: tenantID,
		Code:     code,
		Name:     name,
		Type:     typ,
		Active:   true,
	}
	if err := storage.SaveAccount(tx, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// EnsureUncategorized get-or-creates the tenant's "Uncategorized" holding
// account (code 9999), created on demand by the reconciliation engine's
// add-as-new operation when a bank tx has no category account.
func EnsureUncategorized(tx *bbolt.Tx, tenantID string) (*ledger.Account, error) {
	return getOrCreate(tx, tenantID, CodeUncategorized, "Uncategorized", ledger.Expense)
}
