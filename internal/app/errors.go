package app

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrSelfTransfer             = errors.New("cannot transfer to the same account")
	ErrInvalidAmount            = errors.New("amount must be positive with at most two decimal places")
	ErrAccountNumberExhausted   = errors.New("could not allocate a unique account number")
	ErrInvalidSignature         = errors.New("invalid webhook signature")
	ErrInvalidPayload           = errors.New("invalid notification payload")
	ErrMissingReference         = errors.New("reference is required")
	ErrPaymentNotSuccessful     = errors.New("payment has not succeeded")
	ErrReconciliationInProgress = errors.New("reconciliation already in progress for reference")
	ErrRateLimited              = errors.New("too many requests")
	// ErrInvariantViolation marks a ledger defect. It is logged and never shown to clients.
	ErrInvariantViolation = errors.New("ledger invariant violated")
)

// RateLimitError carries the retry hint for a throttled request.
type RateLimitError struct {
	RetryAfterSeconds int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %ds", ErrRateLimited, e.RetryAfterSeconds)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// maxAmount is the largest value a decimal(15,2) column holds.
var maxAmount = decimal.RequireFromString("9999999999999.99")

// validateAmount rejects non-positive amounts, sub-kobo precision and overflow.
func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() || amount.GreaterThan(maxAmount) {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Truncate(2)) {
		return ErrInvalidAmount
	}
	return nil
}
