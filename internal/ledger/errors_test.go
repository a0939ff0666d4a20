package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewValidationErrorFormatsMessage(t *testing.T) {
	err := NewValidationError("allocation of %d exceeds invoice balance of %d", 500, 300)
	assert.EqualError(t, err, "allocation of 500 exceeds invoice balance of 300")

	var ve *ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestNewStateErrorCarriesCode(t *testing.T) {
	err := NewStateError(CodeSessionCompleted, "session %s is already completed", "sess-1")
	assert.EqualError(t, err, "session sess-1 is already completed")

	var se *StateError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, CodeSessionCompleted, se.Code)
}

func TestNewNotFoundErrorIsNotForbidden(t *testing.T) {
	err := NewNotFoundError("bank account %s not found", "acct-1")
	var ae *AuthorizationError
	assert.ErrorAs(t, err, &ae)
	assert.False(t, ae.Forbidden)
}

func TestNewForbiddenErrorIsForbidden(t *testing.T) {
	err := NewForbiddenError("only staff can reopen a completed session")
	var ae *AuthorizationError
	assert.ErrorAs(t, err, &ae)
	assert.True(t, ae.Forbidden)
}

func TestNewInvariantErrorPrefixesMessage(t *testing.T) {
	err := NewInvariantError("entry %s does not balance", "entry-1")
	assert.EqualError(t, err, "invariant violated: entry entry-1 does not balance")
}
