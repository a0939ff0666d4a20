package ledger

import "fmt"

// ValidationError is a user-correctable input problem: bad enums, missing
// ids, polarity mismatch, allocations exceeding a target's balance, an
// out-of-period transaction, and so on. Generalizes
// PostingError{Code, Message} from posting_engine.go.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NewValidationError builds a ValidationError with a formatted sentence.
func NewValidationError(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// StateError is a workflow-state problem: a completed session rejecting a
// mutation, an operation-id collision, a reopen on a non-completed
// session. It always carries a machine-readable Code alongside the
// human sentence.
type StateError struct {
	Code    string
	Message string
}

func (e *StateError) Error() string { return e.Message }

// Well-known state error codes returned to API callers.
const (
	CodeSessionCompleted               = "session_completed"
	CodeDifferenceNotZero              = "difference_not_zero"
	CodeUnreconciledTransactionsRemain = "unreconciled_transactions_remaining"
	CodeOperationIDCollision           = "operation_id_collision"
	CodeReopenNotCompleted             = "reopen_not_completed"
)

// NewStateError builds a StateError with the given code.
func NewStateError(code, format string, args ...any) error {
	return &StateError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// AuthorizationError signals a tenant mismatch (surfaced as 404, never
// leaking existence across tenants) or a staff-only action attempted by
// an unprivileged caller (surfaced as 403).
type AuthorizationError struct {
	Forbidden bool // true => 403 (staff-only); false => 404 (tenant mismatch)
	Message   string
}

func (e *AuthorizationError) Error() string { return e.Message }

// NewNotFoundError builds a 404-shaped AuthorizationError.
func NewNotFoundError(format string, args ...any) error {
	return &AuthorizationError{Forbidden: false, Message: fmt.Sprintf(format, args...)}
}

// NewForbiddenError builds a 403-shaped AuthorizationError.
func NewForbiddenError(format string, args ...any) error {
	return &AuthorizationError{Forbidden: true, Message: fmt.Sprintf(format, args...)}
}

// InvariantError marks a condition that must never happen (allocated >
// amount, an unbalanced entry after build, a negative debit/credit). The
// caller rolls back the enclosing transaction and surfaces a 500.
type InvariantError struct {
	Message string
}

func (e *InvariantError) Error() string { return "invariant violated: " + e.Message }

// NewInvariantError builds an InvariantError.
func NewInvariantError(format string, args ...any) error {
	return &InvariantError{Message: fmt.Sprintf(format, args...)}
}
