// Package allocation turns a bank transaction plus a list of allocation
// targets into one balanced journal entry, generalizing
// posting_engine.go's PostingEngine.CreatePosting/PostingError from a
// single fixed posting shape to the open-ended invoice/bill/direct-income/
// direct-expense/credit-note mix the reconciliation surface needs.
package allocation

import (
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"ledgercore/internal/defaults"
	"ledgercore/internal/ledger"
	"ledgercore/internal/money"
	"ledgercore/internal/storage"
)

// Kind tags one entry in an allocation request.
type Kind string

const (
	KindInvoice       Kind = "INVOICE"
	KindBill          Kind = "BILL"
	KindDirectIncome  Kind = "DIRECT_INCOME"
	KindDirectExpense Kind = "DIRECT_EXPENSE"
	KindCreditNote    Kind = "CREDIT_NOTE"
)

// Allocation is one line of an allocation request. TargetID addresses an
// invoice or bill; AccountID addresses a direct-income/expense/credit-note
// account. Amount is always positive.
type Allocation struct {
	Kind           Kind
	Amount         money.Cents
	TargetID       string
	AccountID      string
	TaxTreatment   money.TaxTreatment
	TaxRatePercent float64
}

// Request is the full set of inputs to Allocate.
type Request struct {
	Allocations    []Allocation
	Fee            *Allocation
	Rounding       *Allocation
	Overpayment    *Allocation
	UserID         string
	ToleranceCents money.Cents
	OperationID    string
}

// Result is the outcome of a successful allocation.
type Result struct {
	Entry             *ledger.JournalEntry
	RoundingAdjustment money.Cents
}

const defaultTolerance = money.Cents(2)

// Allocate converts bankTxID's unallocated amount into a single balanced
// journal entry under tenantID, following req. Must run inside a single
// bbolt write transaction so the bank-tx row lock (bbolt's serialized
// writers) covers the whole operation.
func Allocate(tx *bbolt.Tx, tenantID, bankTxID string, req Request) (*Result, error) {
	if len(req.Allocations) == 0 {
		return nil, ledger.NewValidationError("provide at least one allocation")
	}
	tolerance := req.ToleranceCents
	if tolerance == 0 {
		tolerance = defaultTolerance
	}

	bankTx, err := storage.GetBankTx(tx, tenantID, bankTxID)
	if err != nil {
		return nil, ledger.NewValidationError("bank transaction not found")
	}

	if req.OperationID != "" {
		existing, err := storage.FindJournalEntryByOperationID(tx, tenantID, req.OperationID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			matches, err := storage.ListMatchesByTx(tx, tenantID, bankTxID)
			if err != nil {
				return nil, err
			}
			for _, m := range matches {
				if m.JournalEntryID == existing.ID {
					return &Result{Entry: existing}, nil
				}
			}
			return nil, ledger.NewStateError(ledger.CodeOperationIDCollision, "operation id already used for another transaction")
		}
	}

	if bankTx.Status == ledger.TxExcluded {
		return nil, ledger.NewValidationError("excluded transactions cannot be allocated")
	}
	existingMatches, err := storage.ListMatchesByTx(tx, tenantID, bankTxID)
	if err != nil {
		return nil, err
	}
	if len(existingMatches) > 0 {
		return nil, ledger.NewValidationError("this bank transaction already has allocations")
	}

	absAmount := bankTx.Amount.Abs()
	if absAmount == 0 {
		return nil, ledger.NewValidationError("cannot allocate a zero-amount transaction")
	}
	bankPortion := absAmount - bankTx.AllocatedAmount
	if bankPortion <= 0 {
		return nil, ledger.NewValidationError("this bank transaction has no remaining amount to allocate")
	}

	def, err := defaults.Ensure(tx, tenantID)
	if err != nil {
		return nil, err
	}

	bankAccount, err := resolveBankAccount(tx, tenantID, bankTx.BankAccountID, def)
	if err != nil {
		return nil, err
	}

	isDeposit := bankTx.Amount >= 0

	b := &builder{tx: tx, tenantID: tenantID, def: def, isDeposit: isDeposit}

	for i := range req.Allocations {
		if err := b.apply(req.Allocations[i], tolerance); err != nil {
			return nil, err
		}
	}

	var feeAmount money.Cents
	var feeAccount *ledger.Account
	if req.Fee != nil {
		if req.Fee.Amount <= 0 {
			return nil, ledger.NewValidationError("fee amount must be positive")
		}
		feeAmount = req.Fee.Amount
		feeAccount, err = requireAccount(tx, tenantID, req.Fee.AccountID)
		if err != nil {
			return nil, err
		}
	}

	var roundingAmount money.Cents
	var roundingAccount *ledger.Account
	if req.Rounding != nil && req.Rounding.Amount != 0 {
		roundingAmount = req.Rounding.Amount
		roundingAccount, err = requireAccount(tx, tenantID, req.Rounding.AccountID)
		if err != nil {
			return nil, err
		}
	}

	var overpaymentAmount money.Cents
	var overpaymentAccount *ledger.Account
	if req.Overpayment != nil {
		if !isDeposit {
			return nil, ledger.NewValidationError("overpayments only apply to deposits")
		}
		if req.Overpayment.Amount <= 0 {
			return nil, ledger.NewValidationError("overpayment amount must be positive")
		}
		overpaymentAmount = req.Overpayment.Amount
		overpaymentAccount, err = requireAccount(tx, tenantID, req.Overpayment.AccountID)
		if err != nil {
			return nil, err
		}
	}

	if !isDeposit && len(b.creditLines) > 0 {
		return nil, ledger.NewValidationError("credit allocations are not valid for withdrawals")
	}
	if isDeposit && len(b.billAllocs) > 0 {
		return nil, ledger.NewValidationError("bills cannot be allocated against deposits")
	}
	if !isDeposit && len(b.invoiceAllocs) > 0 {
		return nil, ledger.NewValidationError("invoices cannot be allocated against withdrawals")
	}

	var expectedBank money.Cents
	if isDeposit {
		expectedBank = b.allocationSum + overpaymentAmount - feeAmount - roundingAmount
	} else {
		expectedBank = b.allocationSum + feeAmount + roundingAmount
	}

	diff := bankPortion - expectedBank
	if diff != 0 && diff.Abs() <= tolerance {
		if roundingAccount == nil {
			if isDeposit {
				roundingAccount = def.FallbackIncome
			} else {
				roundingAccount = def.FallbackExpense
			}
		}
		if isDeposit {
			roundingAmount -= diff
		} else {
			roundingAmount += diff
		}
		expectedBank = bankPortion
	}
	if (expectedBank - bankPortion).Abs() > tolerance {
		return nil, ledger.NewValidationError("allocations do not reconcile with the bank amount")
	}

	description := bankTx.Description
	if description == "" {
		description = "Bank reconciliation"
	}
	if len(description) > 200 {
		description = description[:200]
	}

	entry := &ledger.JournalEntry{
		ID:                    uuid.New().String(),
		TenantID:              tenantID,
		Date:                  bankTx.Date,
		Description:           description,
		AllocationOperationID: req.OperationID,
		CreatedAt:             time.Now(),
	}

	addLine := func(account *ledger.Account, debit, credit money.Cents) error {
		if debit < 0 || credit < 0 {
			return ledger.NewValidationError("debit and credit values must be non-negative")
		}
		if debit == 0 && credit == 0 {
			return nil
		}
		entry.Lines = append(entry.Lines, &ledger.JournalLine{
			ID:        uuid.New().String(),
			EntryID:   entry.ID,
			AccountID: account.ID,
			Debit:     debit,
			Credit:    credit,
		})
		return nil
	}

	if isDeposit {
		if err := addLine(bankAccount, bankPortion, 0); err != nil {
			return nil, err
		}
	} else {
		if err := addLine(bankAccount, 0, bankPortion); err != nil {
			return nil, err
		}
	}
	for _, ia := range b.invoiceAllocs {
		if err := addLine(def.AccountsReceivable, 0, ia.amount); err != nil {
			return nil, err
		}
	}
	for _, ba := range b.billAllocs {
		if err := addLine(def.AccountsPayable, ba.amount, 0); err != nil {
			return nil, err
		}
	}
	for _, cl := range b.creditLines {
		if err := addLine(cl.account, 0, cl.amount); err != nil {
			return nil, err
		}
	}
	for _, dl := range b.debitLines {
		if err := addLine(dl.account, dl.amount, 0); err != nil {
			return nil, err
		}
	}
	for _, tl := range b.taxLines {
		if err := addLine(tl.account, tl.debit, tl.credit); err != nil {
			return nil, err
		}
	}
	if feeAccount != nil && feeAmount > 0 {
		if err := addLine(feeAccount, feeAmount, 0); err != nil {
			return nil, err
		}
	}
	if roundingAccount != nil && roundingAmount != 0 {
		if roundingAmount > 0 {
			if err := addLine(roundingAccount, roundingAmount, 0); err != nil {
				return nil, err
			}
		} else {
			if err := addLine(roundingAccount, 0, roundingAmount.Abs()); err != nil {
				return nil, err
			}
		}
	}
	if overpaymentAccount != nil && overpaymentAmount > 0 {
		if err := addLine(overpaymentAccount, 0, overpaymentAmount); err != nil {
			return nil, err
		}
	}

	var totalDebit, totalCredit money.Cents
	for _, l := range entry.Lines {
		totalDebit += l.Debit
		totalCredit += l.Credit
	}
	if (totalDebit - totalCredit) != 0 {
		return nil, ledger.NewInvariantError("generated journal entry is not balanced")
	}

	if err := storage.SaveJournalEntry(tx, entry); err != nil {
		return nil, err
	}

	for _, ia := range b.invoiceAllocs {
		ia.invoice.AmountPaid += ia.amount
		if err := storage.SaveInvoice(tx, ia.invoice); err != nil {
			return nil, err
		}
	}
	for _, ba := range b.billAllocs {
		ba.bill.AmountPaid += ba.amount
		if err := storage.SaveBill(tx, ba.bill); err != nil {
			return nil, err
		}
	}

	bankTx.PostedJournalEntryID = entry.ID
	onlyOneInvoice := len(b.invoiceAllocs) == 1 && len(b.billAllocs) == 0 && len(b.creditLines) == 0 && len(b.debitLines) == 0
	onlyOneBill := len(b.billAllocs) == 1 && len(b.invoiceAllocs) == 0 && len(b.creditLines) == 0 && len(b.debitLines) == 0
	switch {
	case onlyOneInvoice:
		bankTx.MatchedInvoiceID = b.invoiceAllocs[0].invoice.ID
		bankTx.MatchedExpenseID = ""
	case onlyOneBill:
		bankTx.MatchedExpenseID = b.billAllocs[0].bill.ID
		bankTx.MatchedInvoiceID = ""
	default:
		bankTx.MatchedInvoiceID = ""
		bankTx.MatchedExpenseID = ""
	}

	matchAmounts := splitMatchAmounts(b.matchTargets, bankPortion, overpaymentAmount, feeAmount, roundingAmount, isDeposit)
	if overpaymentAmount > 0 {
		b.matchTargets = append(b.matchTargets, matchTarget{kind: "overpayment", amount: overpaymentAmount})
		matchAmounts = append(matchAmounts, overpaymentAmount)
	}
	if len(b.matchTargets) == 0 {
		b.matchTargets = []matchTarget{{kind: "bank", amount: bankPortion}}
		matchAmounts = []money.Cents{bankPortion}
	}

	for i, mt := range b.matchTargets {
		amt := matchAmounts[i]
		if amt < 0 {
			amt = 0
		}
		if amt == 0 {
			continue
		}
		match := &ledger.BankReconciliationMatch{
			ID:                uuid.New().String(),
			TenantID:          tenantID,
			BankTransactionID: bankTxID,
			JournalEntryID:    entry.ID,
			MatchType:         ledger.MatchOneToOne,
			MatchConfidence:   1.0,
			MatchedAmount:     amt,
			ReconciledBy:      req.UserID,
			CreatedAt:         time.Now(),
		}
		if mt.kind != "bank" {
			match.MatchType = ledger.MatchManual
		}
		if err := storage.SaveMatch(tx, match); err != nil {
			return nil, err
		}
	}

	if err := RecomputeStatus(tx, tenantID, bankTx); err != nil {
		return nil, err
	}
	if err := storage.SaveBankTx(tx, bankTx); err != nil {
		return nil, err
	}

	return &Result{Entry: entry, RoundingAdjustment: diff}, nil
}

// RecomputeStatus recalculates status + allocated_amount from the sum of
// a bank transaction's matches and saves it. Excluded transactions retain
// their status, storing only the allocated amount for audit.
func RecomputeStatus(tx *bbolt.Tx, tenantID string, bankTx *ledger.BankTransaction) error {
	matches, err := storage.ListMatchesByTx(tx, tenantID, bankTx.ID)
	if err != nil {
		return err
	}
	var allocated money.Cents
	for _, m := range matches {
		allocated += m.MatchedAmount
	}
	absAmount := bankTx.Amount.Abs()

	if bankTx.Status == ledger.TxExcluded {
		bankTx.AllocatedAmount = allocated
		return nil
	}

	switch {
	case allocated == 0:
		bankTx.Status = ledger.TxNew
	case absAmount == 0:
		bankTx.Status = ledger.TxMatchedSingle
	case allocated < absAmount:
		bankTx.Status = ledger.TxPartial
	case allocated == absAmount:
		if len(matches) <= 1 {
			bankTx.Status = ledger.TxMatchedSingle
		} else {
			bankTx.Status = ledger.TxMatchedMulti
		}
	default:
		return ledger.NewInvariantError("allocated amount %s exceeds bank amount %s", allocated, absAmount)
	}
	bankTx.AllocatedAmount = allocated
	return nil
}

func resolveBankAccount(tx *bbolt.Tx, tenantID, bankAccountID string, def *defaults.Set) (*ledger.Account, error) {
	ba, err := storage.GetBankAccount(tx, tenantID, bankAccountID)
	if err != nil {
		return nil, ledger.NewValidationError("bank account not found")
	}
	if ba.LinkedAccountID != "" {
		acc, err := storage.GetAccount(tx, tenantID, ba.LinkedAccountID)
		if err == nil {
			return acc, nil
		}
	}
	if def.Cash == nil {
		return nil, ledger.NewValidationError("set a ledger account for this bank before reconciling")
	}
	return def.Cash, nil
}

func requireAccount(tx *bbolt.Tx, tenantID, accountID string) (*ledger.Account, error) {
	if accountID == "" {
		return nil, ledger.NewValidationError("an account is required for this allocation")
	}
	acc, err := storage.GetAccount(tx, tenantID, accountID)
	if err != nil {
		return nil, ledger.NewValidationError("account does not belong to this tenant")
	}
	return acc, nil
}

// matchTarget records one (kind, gross amount) contribution toward the
// bank transaction's reconciliation matches, before proportional
// fee/rounding splitting.
type matchTarget struct {
	kind   string
	amount money.Cents
}

type creditLine struct {
	account *ledger.Account
	amount  money.Cents
}

type debitLine = creditLine

type taxLine struct {
	account       *ledger.Account
	debit, credit money.Cents
}

type invoiceAlloc struct {
	invoice *ledger.Invoice
	amount  money.Cents
}

type billAlloc struct {
	bill   *ledger.Bill
	amount money.Cents
}

// builder accumulates the per-allocation effects (lines, match targets,
// running sum) across a request's allocation list.
type builder struct {
	tx        *bbolt.Tx
	tenantID  string
	def       *defaults.Set
	isDeposit bool

	allocationSum money.Cents
	invoiceAllocs []invoiceAlloc
	billAllocs    []billAlloc
	creditLines   []creditLine
	debitLines    []debitLine
	taxLines      []taxLine
	matchTargets  []matchTarget
}

func (b *builder) apply(alloc Allocation, tolerance money.Cents) error {
	if alloc.Amount <= 0 {
		return ledger.NewValidationError("allocation amounts must be positive")
	}
	switch alloc.Kind {
	case KindInvoice:
		if !b.isDeposit {
			return ledger.NewValidationError("invoice allocations require a deposit transaction")
		}
		if alloc.TargetID == "" {
			return ledger.NewValidationError("invoice allocations require an id")
		}
		inv, err := storage.GetInvoice(b.tx, b.tenantID, alloc.TargetID)
		if err != nil {
			return ledger.NewValidationError("invoice not found for this tenant")
		}
		if alloc.Amount-inv.Remaining() > tolerance {
			return ledger.NewValidationError("allocation exceeds the invoice balance")
		}
		b.invoiceAllocs = append(b.invoiceAllocs, invoiceAlloc{invoice: inv, amount: alloc.Amount})
		b.matchTargets = append(b.matchTargets, matchTarget{kind: "invoice", amount: alloc.Amount})
		b.allocationSum += alloc.Amount
		return nil

	case KindBill:
		if b.isDeposit {
			return ledger.NewValidationError("bill allocations require a withdrawal transaction")
		}
		if alloc.TargetID == "" {
			return ledger.NewValidationError("bill allocations require an id")
		}
		bill, err := storage.GetBill(b.tx, b.tenantID, alloc.TargetID)
		if err != nil {
			return ledger.NewValidationError("bill not found for this tenant")
		}
		if alloc.Amount-bill.Remaining() > tolerance {
			return ledger.NewValidationError("allocation exceeds the bill balance")
		}
		b.billAllocs = append(b.billAllocs, billAlloc{bill: bill, amount: alloc.Amount})
		b.matchTargets = append(b.matchTargets, matchTarget{kind: "bill", amount: alloc.Amount})
		b.allocationSum += alloc.Amount
		return nil

	case KindDirectIncome:
		if !b.isDeposit {
			return ledger.NewValidationError("direct income requires a deposit transaction")
		}
		account, err := safeAccount(b.tx, b.tenantID, alloc.AccountID, ledger.Income, b.def.FallbackIncome)
		if err != nil {
			return err
		}
		b.creditLines = append(b.creditLines, creditLine{account: account, amount: alloc.Amount})
		b.matchTargets = append(b.matchTargets, matchTarget{kind: "direct_income", amount: alloc.Amount})
		b.allocationSum += alloc.Amount
		return b.applyTax(alloc, tolerance, len(b.creditLines)-1, true)

	case KindDirectExpense:
		if b.isDeposit {
			return ledger.NewValidationError("direct expense allocations require a withdrawal")
		}
		account, err := safeAccount(b.tx, b.tenantID, alloc.AccountID, ledger.Expense, b.def.FallbackExpense)
		if err != nil {
			return err
		}
		b.debitLines = append(b.debitLines, debitLine{account: account, amount: alloc.Amount})
		b.matchTargets = append(b.matchTargets, matchTarget{kind: "direct_expense", amount: alloc.Amount})
		b.allocationSum += alloc.Amount
		return b.applyTax(alloc, tolerance, len(b.debitLines)-1, false)

	case KindCreditNote:
		if !b.isDeposit {
			return ledger.NewValidationError("credit note allocations require a deposit transaction")
		}
		var account *ledger.Account
		var err error
		if alloc.AccountID != "" {
			account, err = safeAccount(b.tx, b.tenantID, alloc.AccountID, ledger.Income, b.def.SalesReturns)
			if err != nil {
				return err
			}
		} else {
			account = b.def.SalesReturns
		}
		b.creditLines = append(b.creditLines, creditLine{account: account, amount: alloc.Amount})
		b.matchTargets = append(b.matchTargets, matchTarget{kind: "credit_note", amount: alloc.Amount})
		b.allocationSum += alloc.Amount
		return nil

	default:
		return ledger.NewValidationError("unsupported allocation kind: %s", alloc.Kind)
	}
}

// applyTax replaces the just-appended credit/debit line with its net
// value and appends a tax line, when the allocation carries a non-NONE
// tax treatment. idx is the index of the line just appended.
func (b *builder) applyTax(alloc Allocation, tolerance money.Cents, idx int, isIncome bool) error {
	if alloc.TaxTreatment == "" || alloc.TaxTreatment == money.TaxNone {
		return nil
	}
	split := money.SplitTax(alloc.Amount, alloc.TaxTreatment, alloc.TaxRatePercent)
	delta := split.Gross - alloc.Amount

	if isIncome {
		b.creditLines[idx].amount = split.Net
		if split.Tax != 0 {
			if b.def.SalesTaxPayable == nil {
				return ledger.NewValidationError("configure a sales tax account before posting tax")
			}
			b.taxLines = append(b.taxLines, taxLine{account: b.def.SalesTaxPayable, credit: split.Tax})
		}
		b.matchTargets[len(b.matchTargets)-1].amount = split.Gross
	} else {
		b.debitLines[idx].amount = split.Net
		if split.Tax != 0 {
			if b.def.TaxRecoverable == nil {
				return ledger.NewValidationError("configure a tax recoverable account before posting tax")
			}
			b.taxLines = append(b.taxLines, taxLine{account: b.def.TaxRecoverable, debit: split.Tax})
		}
		b.matchTargets[len(b.matchTargets)-1].amount = split.Gross
	}
	b.allocationSum += delta
	return nil
}

// safeAccount resolves accountID and substitutes fallback when the
// resolved account's type does not match wantType: direct allocations
// never post to the wrong axis even when an upstream category drifted.
func safeAccount(tx *bbolt.Tx, tenantID, accountID string, wantType ledger.AccountType, fallback *ledger.Account) (*ledger.Account, error) {
	if accountID == "" {
		if fallback == nil {
			return nil, ledger.NewValidationError("an account is required for this allocation")
		}
		return fallback, nil
	}
	acc, err := storage.GetAccount(tx, tenantID, accountID)
	if err != nil {
		if fallback == nil {
			return nil, ledger.NewValidationError("account does not belong to this tenant")
		}
		return fallback, nil
	}
	if acc.Type != wantType {
		if fallback == nil {
			return acc, nil
		}
		return fallback, nil
	}
	return acc, nil
}

// splitMatchAmounts spreads fees+rounding proportionally across
// matchTargets so each match row reflects net cash received/paid for
// that target, with the final row absorbing residual cents.
func splitMatchAmounts(targets []matchTarget, bankPortion, overpaymentAmount, feeAmount, roundingAmount money.Cents, isDeposit bool) []money.Cents {
	if len(targets) == 0 {
		return nil
	}
	var baseTotal money.Cents
	for _, t := range targets {
		baseTotal += t.amount
	}
	desiredTotal := bankPortion
	if isDeposit {
		desiredTotal -= overpaymentAmount
	}
	adjustmentDelta := feeAmount + roundingAmount
	adjustmentEffect := adjustmentDelta
	if isDeposit {
		adjustmentEffect = -adjustmentDelta
	}

	out := make([]money.Cents, len(targets))
	var running money.Cents
	for i, t := range targets {
		var share float64
		if baseTotal != 0 {
			share = float64(t.amount) / float64(baseTotal)
		}
		adjustment := money.Amount(float64(money.FromCents(adjustmentEffect)) * share)
		amt := (money.FromCents(t.amount) + adjustment).Round()
		out[i] = amt
		running += amt
	}
	if len(out) > 0 {
		out[len(out)-1] += desiredTotal - running
	}
	return out
}
