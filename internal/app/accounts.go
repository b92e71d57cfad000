package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/fundflow/settlement-service/internal/domain"
	"github.com/fundflow/settlement-service/internal/store"
	"github.com/google/uuid"
)

// GenerateUniqueAccountNumber returns a 10-digit number not yet held by any account. It
// gives up with ErrAccountNumberExhausted after the configured number of collisions.
func (s *Service) GenerateUniqueAccountNumber(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= s.opts.AccountNumberMaxAttempts; attempt++ {
		candidate, err := s.codes.AccountNumber()
		if err != nil {
			return "", err
		}
		exists, err := s.repo.AccountNumberExists(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check account number: %w", err)
		}
		if !exists {
			return candidate, nil
		}
		log.Printf("level=warn component=accounts msg=\"account number collision\" attempt=%d", attempt)
	}
	return "", ErrAccountNumberExhausted
}

// CreateAccount opens a zero-balance account for userID. A number taken between the
// existence check and the insert is retried within the same attempt budget.
func (s *Service) CreateAccount(ctx context.Context, userID uuid.UUID) (*domain.Account, error) {
	for attempt := 1; attempt <= s.opts.AccountNumberMaxAttempts; attempt++ {
		accountNumber, err := s.GenerateUniqueAccountNumber(ctx)
		if err != nil {
			return nil, err
		}

		account, err := s.repo.CreateAccount(ctx, userID, accountNumber)
		if errors.Is(err, store.ErrDuplicateAccountNumber) {
			log.Printf("level=warn component=accounts msg=\"account number taken at insert; retrying\" user_id=%s attempt=%d", userID, attempt)
			continue
		}
		if err != nil {
			return nil, err
		}

		log.Printf("level=info component=accounts msg=\"account created\" user_id=%s account_id=%s is_default=%t", userID, account.ID, account.IsDefault)
		return account, nil
	}
	return nil, ErrAccountNumberExhausted
}

// ListAccounts returns every account owned by userID.
func (s *Service) ListAccounts(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	return s.repo.ListAccountsByUser(ctx, userID)
}

// GetAccount returns an account by id when userID owns it.
func (s *Service) GetAccount(ctx context.Context, userID uuid.UUID, accountID uuid.UUID) (*domain.Account, error) {
	return s.repo.FindAccountByUserAndID(ctx, userID, accountID)
}

// GetAccountByNumber returns an account by number when userID owns it.
func (s *Service) GetAccountByNumber(ctx context.Context, userID uuid.UUID, accountNumber string) (*domain.Account, error) {
	return s.repo.FindAccountByUserAndNumber(ctx, userID, accountNumber)
}
