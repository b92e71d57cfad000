package app

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/fundflow/settlement-service/internal/domain"
	"github.com/fundflow/settlement-service/pkg/gateway"
)

// SyncBanks refreshes the local bank catalog from the payment aggregator.
func (s *Service) SyncBanks(ctx context.Context) (int, error) {
	remote, err := s.aggregator.ListBanks(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch bank list: %w", err)
	}

	banks := make([]domain.Bank, 0, len(remote))
	for _, b := range remote {
		banks = append(banks, domain.Bank{
			ID:               b.ID,
			Name:             b.Name,
			Slug:             b.Slug,
			Code:             b.Code,
			LongCode:         b.LongCode,
			PayWithBank:      b.PayWithBank,
			SupportsTransfer: b.SupportsTransfer,
			Active:           b.Active,
			Country:          b.Country,
			Currency:         b.Currency,
			Type:             b.Type,
		})
	}

	upserted, err := s.repo.UpsertBanks(ctx, banks)
	if err != nil {
		return 0, fmt.Errorf("failed to store bank list: %w", err)
	}
	log.Printf("level=info component=settlement op=bank_sync fetched=%d upserted=%d msg=\"bank catalog synced\"", len(remote), upserted)
	return upserted, nil
}

// ListBanks returns the active catalog entries.
func (s *Service) ListBanks(ctx context.Context) ([]domain.Bank, error) {
	return s.repo.ListBanks(ctx)
}

// EnsureBankCatalog syncs the catalog once when it is empty. Used at startup.
func (s *Service) EnsureBankCatalog(ctx context.Context) error {
	banks, err := s.repo.ListBanks(ctx)
	if err != nil {
		return err
	}
	if len(banks) > 0 {
		return nil
	}
	_, err = s.SyncBanks(ctx)
	return err
}

// ResolveReceiver confirms the holder name of an external bank account.
func (s *Service) ResolveReceiver(ctx context.Context, req domain.ResolveAccountRequest) (*domain.ResolvedAccount, error) {
	if _, err := s.repo.FindBankByCode(ctx, req.BankCode); err != nil {
		return nil, err
	}
	resolved, err := s.aggregator.ResolveAccount(ctx, req.AccountNumber, req.BankCode)
	if err != nil {
		log.Printf("level=warn component=settlement op=resolve bank_code=%s retryable=%t msg=\"account resolution failed\" err=%v",
			req.BankCode, gateway.IsRetryable(err), err)
		return nil, fmt.Errorf("failed to resolve account: %w", err)
	}

	number := resolved.AccountNumber
	if strings.TrimSpace(number) == "" {
		number = req.AccountNumber
	}
	return &domain.ResolvedAccount{
		AccountNumber: number,
		AccountName:   resolved.AccountName,
		BankCode:      req.BankCode,
	}, nil
}
