/*
errors.go - Error taxonomy for the ledger core

PURPOSE:
  All error kinds in one place. Callers branch on kind with errors.Is or
  KindOf, never on message text.

ERROR CATEGORIES:
  1. Input errors     - InvalidAmount, Validation
  2. Lookup errors    - UnknownAccount, NotFound
  3. Guard errors     - ImmutableTransaction, InvalidTransition
  4. Advisory errors  - CreditLimitExceeded (resolved by an explicit bypass)
  5. Resource errors  - Timeout (retryable)

USAGE:
  tx, err := l.Append(ctx, in)
  var limitErr *ledger.CreditLimitExceededError
  if errors.As(err, &limitErr) {
      // show limitErr.ExceededBy, offer bypass
  }

SEE ALSO:
  - api/handlers.go: maps KindOf(err) to HTTP status
  - order/machine.go: InvalidTransitionError wraps ErrInvalidTransition
*/
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrUnknownAccount       = errors.New("unknown account")
	ErrNotFound             = errors.New("not found")
	ErrImmutableTransaction = errors.New("transaction is immutable")
	ErrInvalidTransition    = errors.New("invalid transition")

	// ErrCreditLimitExceeded is advisory: the same call with Bypass set
	// succeeds.
	ErrCreditLimitExceeded = errors.New("credit limit exceeded")

	ErrValidation = errors.New("validation failed")

	// ErrTimeout is returned when a store operation or the per-account lock
	// is not available within the configured bound. Safe to retry.
	ErrTimeout = errors.New("operation timed out")

	ErrDuplicateAccount = errors.New("account already exists")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// AmountError describes why an amount was refused.
type AmountError struct {
	Amount decimal.Decimal
	Reason string
}

func (e *AmountError) Error() string {
	return fmt.Sprintf("invalid amount %s: %s", e.Amount.String(), e.Reason)
}

func (e *AmountError) Unwrap() error { return ErrInvalidAmount }

// ValidationError is a field-level input failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// CreditLimitExceededError carries what the caller needs to offer an
// override: the balance now, the limit, and where the balance would land.
type CreditLimitExceededError struct {
	AccountID        AccountID
	CurrentBalance   decimal.Decimal
	CreditLimit      decimal.Decimal
	ProjectedBalance decimal.Decimal
	ExceededBy       decimal.Decimal
}

func (e *CreditLimitExceededError) Error() string {
	return fmt.Sprintf("credit limit exceeded on %s: balance %s, limit %s, projected %s (over by %s)",
		e.AccountID, e.CurrentBalance.StringFixed(MoneyPlaces), e.CreditLimit.StringFixed(MoneyPlaces),
		e.ProjectedBalance.StringFixed(MoneyPlaces), e.ExceededBy.StringFixed(MoneyPlaces))
}

func (e *CreditLimitExceededError) Unwrap() error { return ErrCreditLimitExceeded }

// =============================================================================
// ERROR KINDS
// =============================================================================

type Kind string

const (
	KindInvalidAmount        Kind = "invalid_amount"
	KindUnknownAccount       Kind = "unknown_account"
	KindNotFound             Kind = "not_found"
	KindImmutableTransaction Kind = "immutable_transaction"
	KindInvalidTransition    Kind = "invalid_transition"
	KindCreditLimitExceeded  Kind = "credit_limit_exceeded"
	KindValidation           Kind = "validation_error"
	KindTimeout              Kind = "timeout"
	KindConflict             Kind = "conflict"
	KindInternal             Kind = "internal"
)

// KindOf classifies err. nil maps to "".
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidAmount):
		return KindInvalidAmount
	case errors.Is(err, ErrUnknownAccount):
		return KindUnknownAccount
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrImmutableTransaction):
		return KindImmutableTransaction
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrCreditLimitExceeded):
		return KindCreditLimitExceeded
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrDuplicateAccount):
		return KindConflict
	}
	return KindInternal
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTimeout
}

// IsClientError returns true if the error is due to caller input or state.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindInvalidAmount, KindUnknownAccount, KindNotFound, KindImmutableTransaction,
		KindInvalidTransition, KindCreditLimitExceeded, KindValidation, KindConflict:
		return true
	}
	return false
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrUnknownAccount)
}
