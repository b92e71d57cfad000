package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EmailNotificationEvent is published for the mailer to deliver. Delivery is owned by the
// notification worker; this service only enqueues.
type EmailNotificationEvent struct {
	Template        string            `json:"template"`
	To              string            `json:"to"`
	FirstName       string            `json:"first_name"`
	UserID          uuid.UUID         `json:"user_id"`
	TransactionID   uuid.UUID         `json:"transaction_id"`
	ReferenceNumber string            `json:"reference_number"`
	AccountNumber   string            `json:"account_number"`
	Amount          decimal.Decimal   `json:"amount"`
	Type            TransactionType   `json:"transaction_type"`
	Status          TransactionStatus `json:"transaction_status"`
	Description     string            `json:"description"`
	OccurredAt      time.Time         `json:"occurred_at"`
}

// UserRegisteredEvent is consumed from the registration flow to open the default account.
type UserRegisteredEvent struct {
	UserID uuid.UUID `json:"user_id"`
	Email  string    `json:"email"`
}

// PaystackWebhookEvent is the subset of a Paystack webhook body the reconciler reads.
type PaystackWebhookEvent struct {
	Event string              `json:"event"`
	Data  PaystackWebhookData `json:"data"`
}

// PaystackWebhookData holds the charge fields. Amount is in kobo.
type PaystackWebhookData struct {
	ID        int64                   `json:"id"`
	Reference string                  `json:"reference"`
	Status    string                  `json:"status"`
	Amount    int64                   `json:"amount"`
	Currency  string                  `json:"currency"`
	PaidAt    *time.Time              `json:"paid_at,omitempty"`
	Metadata  PaystackWebhookMetadata `json:"metadata"`
}

// PaystackWebhookMetadata mirrors the metadata attached at charge initialization.
type PaystackWebhookMetadata struct {
	AccountNumber string `json:"account_number"`
	UserID        string `json:"user_id"`
	Email         string `json:"email"`
}
