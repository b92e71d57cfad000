/**
 * @description
 * This file defines the ledger models for the settlement-service. A Transaction is the
 * single record written for every monetary movement; its status is a two-state machine
 * that moves from pending to completed exactly once.
 *
 * @notes
 * - Amounts are `decimal.Decimal` in major units (naira) with two fractional digits, matching
 *   the `decimal(15,2)` columns. Gateway adapters scale to minor units at the edge.
 * - Amounts are always positive; the sign of the effect is carried by TransactionType.
 */

package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType is the direction of a movement relative to the owning account.
type TransactionType string

const (
	TransactionTypeCredit TransactionType = "credit"
	TransactionTypeDebit  TransactionType = "debit"
)

// TransactionStatus is the lifecycle state of a ledger row.
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
)

// TransactionSource records which rail moved the money.
type TransactionSource string

const (
	TransactionSourceInternal TransactionSource = "fundflow"
	TransactionSourcePaystack TransactionSource = "paystack"
	TransactionSourceMonnify  TransactionSource = "monnify"
)

// InvalidStatusTransitionError is returned by TransactionStatus.Transition for any move the
// state machine does not allow.
type InvalidStatusTransitionError struct {
	From TransactionStatus
	To   TransactionStatus
}

func (e *InvalidStatusTransitionError) Error() string {
	return fmt.Sprintf("invalid transaction status transition %q -> %q", e.From, e.To)
}

// ParseTransactionStatus converts a persisted value into a TransactionStatus.
func ParseTransactionStatus(raw string) (TransactionStatus, error) {
	switch TransactionStatus(raw) {
	case TransactionStatusPending:
		return TransactionStatusPending, nil
	case TransactionStatusCompleted:
		return TransactionStatusCompleted, nil
	default:
		return "", fmt.Errorf("unknown transaction status %q", raw)
	}
}

// Transition returns the next state when moving to `to`. Completed is terminal.
func (s TransactionStatus) Transition(to TransactionStatus) (TransactionStatus, error) {
	switch s {
	case TransactionStatusPending:
		if to == TransactionStatusCompleted {
			return to, nil
		}
	case TransactionStatusCompleted:
		// terminal
	}
	return "", &InvalidStatusTransitionError{From: s, To: to}
}

// IsTerminal reports whether no further transition is possible.
func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionStatusCompleted
}

// Transaction represents one monetary movement. It maps directly to the `transactions` table.
type Transaction struct {
	ID                     uuid.UUID         `json:"id"`
	UserID                 uuid.UUID         `json:"user_id"`
	AccountID              uuid.UUID         `json:"account_id"`
	AccountNumber          string            `json:"account_number"`
	Amount                 decimal.Decimal   `json:"amount"`
	Type                   TransactionType   `json:"transaction_type"`
	Status                 TransactionStatus `json:"transaction_status"`
	TransactionDate        time.Time         `json:"transaction_date"`
	Description            string            `json:"description"`
	ReferenceNumber        string            `json:"reference_number"`
	Source                 TransactionSource `json:"transaction_source"`
	ReceivingAccountID     *uuid.UUID        `json:"receiving_account,omitempty"`
	ReceivingAccountNumber *string           `json:"receiving_account_number,omitempty"`
	ReceivingBankName      *string           `json:"receiving_bank_name,omitempty"`
	ReceiverAccountName    *string           `json:"receiver_account_name,omitempty"`
	CreatedAt              time.Time         `json:"created_at"`
	UpdatedAt              time.Time         `json:"updated_at"`
}

// TransactionListOptions carries pagination and the optional free-text filter.
type TransactionListOptions struct {
	Page   int
	Limit  int
	Search string
}

const (
	DefaultTransactionPageLimit = 10
	MaxTransactionPageLimit     = 100
)

// Normalize applies defaults and bounds and returns the resulting offset.
func (o *TransactionListOptions) Normalize() int {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.Limit <= 0 {
		o.Limit = DefaultTransactionPageLimit
	}
	if o.Limit > MaxTransactionPageLimit {
		o.Limit = MaxTransactionPageLimit
	}
	return (o.Page - 1) * o.Limit
}

// TransactionPage is one page of a transaction listing plus the unpaged total.
type TransactionPage struct {
	TotalCount   int           `json:"total_count"`
	Page         int           `json:"page"`
	Limit        int           `json:"limit"`
	Transactions []Transaction `json:"transactions"`
}

// AccountTransactionPage adds per-page completion figures to an account listing.
type AccountTransactionPage struct {
	TransactionPage
	CompletedTransactions int `json:"completed_transactions"`
	TotalTransactions     int `json:"total_transactions"`
}
