package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InternalTransferRequest is the API payload for moving funds between two FundFlow accounts.
type InternalTransferRequest struct {
	SenderAccountNumber   string          `json:"selected_account_number" validate:"required,len=10,numeric"`
	ReceiverAccountNumber string          `json:"receiving_account_number" validate:"required,len=10,numeric"`
	Amount                decimal.Decimal `json:"amount"`
	Description           string          `json:"description" validate:"max=50"`
}

// FundAccountRequest is the API payload for crediting an account through the payment aggregator.
type FundAccountRequest struct {
	AccountNumber string          `json:"account_number" validate:"required,len=10,numeric"`
	Amount        decimal.Decimal `json:"amount"`
}

// BankTransferRequest is the API payload for an outbound transfer to an external bank account.
type BankTransferRequest struct {
	SenderAccountNumber   string          `json:"selected_account_number" validate:"required,len=10,numeric"`
	ReceiverAccountNumber string          `json:"receiving_account_number" validate:"required,len=10,numeric"`
	ReceiverAccountName   string          `json:"receiver_account_name" validate:"required,max=100"`
	BankCode              string          `json:"bank_code" validate:"required,max=10"`
	Amount                decimal.Decimal `json:"amount"`
	Narration             string          `json:"narration" validate:"required,max=50"`
}

// ResolveAccountRequest asks the aggregator for the holder name of an external account.
type ResolveAccountRequest struct {
	AccountNumber string `json:"account_number" validate:"required,len=10,numeric"`
	BankCode      string `json:"bank_code" validate:"required,max=10"`
}

// InternalTransfer is the atomic unit handed to the store for an account-to-account transfer.
type InternalTransfer struct {
	UserID                uuid.UUID
	SenderAccountNumber   string
	ReceiverAccountNumber string
	Amount                decimal.Decimal
	Description           string
	ReferenceNumber       string
}

// TransferResult is the outcome of a completed internal transfer.
type TransferResult struct {
	Sender      Account     `json:"sender"`
	Receiver    Account     `json:"receiver"`
	Transaction Transaction `json:"transaction"`
}

// DebitSettlement carries what the transfer gateway reported for an executed payout.
type DebitSettlement struct {
	ReferenceNumber   string
	ExecutedAmount    decimal.Decimal
	ReceivingBankName string
}

// SettlementResult is the outcome of reconciling a pending transaction. AlreadyRecorded is
// set when the reference had already been settled (or never existed) and nothing changed.
// Ignored is set for notifications that do not confirm a payment.
type SettlementResult struct {
	AlreadyRecorded bool         `json:"already_recorded"`
	Ignored         bool         `json:"ignored,omitempty"`
	Transaction     *Transaction `json:"transaction,omitempty"`
	Account         *Account     `json:"account,omitempty"`
}

// FundingInitialization is returned after the aggregator accepted a charge request.
type FundingInitialization struct {
	AuthorizationURL string      `json:"authorization_url"`
	AccessCode       string      `json:"access_code"`
	Reference        string      `json:"reference"`
	Transaction      Transaction `json:"transaction"`
}

// BankTransferOutcome is the result of an outbound bank transfer. Settled is false whenever
// the row was left pending for manual reconciliation.
type BankTransferOutcome struct {
	Settled       bool        `json:"settled"`
	Transaction   Transaction `json:"transaction"`
	Account       *Account    `json:"account,omitempty"`
	GatewayStatus string      `json:"gateway_status,omitempty"`
}

// StalePendingTransaction is a reporting row for the stale-pending job.
type StalePendingTransaction struct {
	ID              uuid.UUID
	ReferenceNumber string
	Source          TransactionSource
	Type            TransactionType
	Amount          decimal.Decimal
	AccountNumber   string
	CreatedAt       time.Time
}
