package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalIncreasesOnDebit(t *testing.T) {
	assert.True(t, Asset.NormalIncreasesOnDebit())
	assert.True(t, Expense.NormalIncreasesOnDebit())
	assert.False(t, Liability.NormalIncreasesOnDebit())
	assert.False(t, Equity.NormalIncreasesOnDebit())
	assert.False(t, Income.NormalIncreasesOnDebit())
}

func TestBankTxStatusCanTransition(t *testing.T) {
	assert.True(t, TxNew.CanTransition(TxMatchedSingle))
	assert.True(t, TxNew.CanTransition(TxExcluded))
	assert.True(t, TxPartial.CanTransition(TxMatchedMulti))
	assert.True(t, TxMatchedSingle.CanTransition(TxNew))
	assert.True(t, TxExcluded.CanTransition(TxNew))

	assert.False(t, TxMatchedSingle.CanTransition(TxMatchedMulti))
	assert.False(t, TxExcluded.CanTransition(TxMatchedSingle))
	assert.False(t, TxNew.CanTransition(TxNew))
}

func TestReconciledStatuses(t *testing.T) {
	assert.True(t, ReconciledStatuses[TxMatchedSingle])
	assert.True(t, ReconciledStatuses[TxMatchedMulti])
	assert.False(t, ReconciledStatuses[TxNew])
	assert.False(t, ReconciledStatuses[TxPartial])
	assert.False(t, ReconciledStatuses[TxExcluded])
}

func TestBankTransactionIsReconciled(t *testing.T) {
	matched := &BankTransaction{Status: TxMatchedMulti}
	assert.True(t, matched.IsReconciled())

	pending := &BankTransaction{Status: TxPartial}
	assert.False(t, pending.IsReconciled())
}

func TestReconciliationSessionIsMutable(t *testing.T) {
	draft := &ReconciliationSession{Status: SessionDraft}
	assert.True(t, draft.IsMutable())

	inProgress := &ReconciliationSession{Status: SessionInProgress}
	assert.True(t, inProgress.IsMutable())

	completed := &ReconciliationSession{Status: SessionCompleted}
	assert.False(t, completed.IsMutable())
}
