package app

import (
	"context"

	"github.com/fundflow/settlement-service/internal/domain"
	"github.com/google/uuid"
)

// ListTransactions returns one page of the user's transactions.
func (s *Service) ListTransactions(ctx context.Context, userID uuid.UUID, opts domain.TransactionListOptions) (*domain.TransactionPage, error) {
	return s.repo.ListTransactionsByUser(ctx, userID, opts)
}

// ListAccountTransactions returns one page of an account's transactions with the number of
// completed rows on that page.
func (s *Service) ListAccountTransactions(ctx context.Context, userID uuid.UUID, accountNumber string, opts domain.TransactionListOptions) (*domain.AccountTransactionPage, error) {
	page, err := s.repo.ListTransactionsByAccountNumber(ctx, userID, accountNumber, opts)
	if err != nil {
		return nil, err
	}

	completed := 0
	for _, t := range page.Transactions {
		if t.Status == domain.TransactionStatusCompleted {
			completed++
		}
	}
	return &domain.AccountTransactionPage{
		TransactionPage:       *page,
		CompletedTransactions: completed,
		TotalTransactions:     len(page.Transactions),
	}, nil
}

// GetTransaction returns a single transaction owned by userID.
func (s *Service) GetTransaction(ctx context.Context, userID uuid.UUID, transactionID uuid.UUID) (*domain.Transaction, error) {
	return s.repo.FindTransactionByIDAndUser(ctx, transactionID, userID)
}
