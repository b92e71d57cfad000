package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountNumberLength is the number of digits in every account number.
const AccountNumberLength = 10

// Account is a user-owned balance-holding record. It maps to the `accounts` table.
type Account struct {
	ID            uuid.UUID       `json:"id"`
	UserID        uuid.UUID       `json:"user_id"`
	AccountNumber string          `json:"account_number"`
	Balance       decimal.Decimal `json:"balance"`
	IsDefault     bool            `json:"is_default"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// User is the subset of the user record this service reads. Users are owned by the
// registration flow; this service never writes them.
type User struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
}

// Bank is one entry of the bank catalog synced from the payment aggregator.
type Bank struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	Slug             string    `json:"slug"`
	Code             string    `json:"code"`
	LongCode         string    `json:"longcode"`
	PayWithBank      bool      `json:"pay_with_bank"`
	SupportsTransfer bool      `json:"supports_transfer"`
	Active           bool      `json:"active"`
	Country          string    `json:"country"`
	Currency         string    `json:"currency"`
	Type             string    `json:"type"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// ResolvedAccount is an external bank account confirmed by the payment aggregator.
type ResolvedAccount struct {
	AccountNumber string `json:"account_number"`
	AccountName   string `json:"account_name"`
	BankCode      string `json:"bank_code"`
}
