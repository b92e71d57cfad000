/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the settlement service. The settlement engine only
 * mutates balances and transaction status through the atomic units declared here.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - github.com/shopspring/decimal: For money amounts.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/fundflow/settlement-service/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrUserNotFound           = errors.New("user not found")
	ErrAccountNotFound        = errors.New("account not found")
	ErrReceiverNotFound       = errors.New("receiving account not found")
	ErrTransactionNotFound    = errors.New("transaction not found")
	ErrBankNotFound           = errors.New("bank not found")
	ErrInsufficientFunds      = errors.New("insufficient funds")
	ErrDuplicateAccountNumber = errors.New("account number already exists")
	ErrDuplicateReference     = errors.New("reference number already exists")
	ErrSameAccount            = errors.New("sender and receiver account must differ")
	// ErrTransactionNotPending is returned by conditional completion when another caller
	// completed the row first.
	ErrTransactionNotPending = errors.New("transaction is not pending")
	// ErrAmountMismatch is returned when a gateway reports a different amount than the
	// pending credit it confirms.
	ErrAmountMismatch = errors.New("reported amount does not match pending transaction")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Account store
	AccountNumberExists(ctx context.Context, accountNumber string) (bool, error)
	CreateAccount(ctx context.Context, userID uuid.UUID, accountNumber string) (*domain.Account, error)
	CreditAccount(ctx context.Context, userID uuid.UUID, accountNumber string, amount decimal.Decimal) (*domain.Account, error)
	FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error)
	FindAccountByUserAndNumber(ctx context.Context, userID uuid.UUID, accountNumber string) (*domain.Account, error)
	FindAccountByUserAndID(ctx context.Context, userID uuid.UUID, accountID uuid.UUID) (*domain.Account, error)
	ListAccountsByUser(ctx context.Context, userID uuid.UUID) ([]domain.Account, error)

	// Transaction ledger
	CreatePendingTransaction(ctx context.Context, tx *domain.Transaction) error
	FindTransactionsByReference(ctx context.Context, reference string) ([]domain.Transaction, error)
	FindPendingTransactionsByReference(ctx context.Context, reference string) ([]domain.Transaction, error)
	MarkTransactionCompleted(ctx context.Context, reference string, accountNumber string, userID uuid.UUID) (*domain.Transaction, error)
	FindTransactionByIDAndUser(ctx context.Context, transactionID uuid.UUID, userID uuid.UUID) (*domain.Transaction, error)
	ListTransactionsByUser(ctx context.Context, userID uuid.UUID, opts domain.TransactionListOptions) (*domain.TransactionPage, error)
	ListTransactionsByAccountNumber(ctx context.Context, userID uuid.UUID, accountNumber string, opts domain.TransactionListOptions) (*domain.TransactionPage, error)
	ListStalePendingTransactions(ctx context.Context, olderThan time.Time, limit int) ([]domain.StalePendingTransaction, error)

	// Atomic settlement units
	ReserveDebit(ctx context.Context, tx *domain.Transaction) error
	TransferFunds(ctx context.Context, in domain.InternalTransfer) (*domain.TransferResult, error)
	SettleCredit(ctx context.Context, reference string, reportedAmount *decimal.Decimal) (*domain.SettlementResult, error)
	SettleDebit(ctx context.Context, in domain.DebitSettlement) (*domain.SettlementResult, error)

	// Bank catalog
	UpsertBanks(ctx context.Context, banks []domain.Bank) (int, error)
	ListBanks(ctx context.Context) ([]domain.Bank, error)
	FindBankByCode(ctx context.Context, code string) (*domain.Bank, error)

	// User directory
	FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error)
}
