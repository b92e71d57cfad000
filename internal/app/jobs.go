/**
 * @description
 * Scheduled job implementations for the settlement-service.
 */
package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/fundflow/settlement-service/internal/config"
	"github.com/fundflow/settlement-service/internal/domain"
)

const (
	staleReportLimit = 500
	jobTimeout       = 2 * time.Minute
)

// BankCatalogSyncer refreshes the bank catalog.
type BankCatalogSyncer interface {
	SyncBanks(ctx context.Context) (int, error)
}

// StalePendingSource lists pending rows that have not settled in time.
type StalePendingSource interface {
	ListStalePendingTransactions(ctx context.Context, olderThan time.Time, limit int) ([]domain.StalePendingTransaction, error)
}

// Jobs contains the logic for all scheduled tasks.
type Jobs struct {
	banks  BankCatalogSyncer
	stale  StalePendingSource
	logger *slog.Logger
	config config.Config
	now    func() time.Time
}

// NewJobs creates a new Jobs runner.
func NewJobs(banks BankCatalogSyncer, stale StalePendingSource, logger *slog.Logger, cfg config.Config) *Jobs {
	return &Jobs{
		banks:  banks,
		stale:  stale,
		logger: logger,
		config: cfg,
		now:    time.Now,
	}
}

// SyncBankCatalog refreshes the bank catalog from the payment aggregator.
func (j *Jobs) SyncBankCatalog() {
	j.logger.Info("starting bank catalog sync job")
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	upserted, err := j.banks.SyncBanks(ctx)
	if err != nil {
		j.logger.Error("failed to sync bank catalog", "error", err)
		return
	}

	j.logger.Info("bank catalog sync job finished", "upserted", upserted)
}

// ReportStalePending logs every pending transaction older than the configured age. Rows from
// the outbound transfer rail are flagged for manual reconciliation because nothing settles
// them automatically.
func (j *Jobs) ReportStalePending() {
	j.logger.Info("starting stale pending report job")
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	cutoff := j.now().Add(-j.config.StalePendingAge())
	stale, err := j.stale.ListStalePendingTransactions(ctx, cutoff, staleReportLimit)
	if err != nil {
		j.logger.Error("failed to list stale pending transactions", "error", err)
		return
	}

	for _, item := range stale {
		j.logger.Warn("transaction still pending",
			"reference", item.ReferenceNumber,
			"source", item.Source,
			"type", item.Type,
			"amount", item.Amount.StringFixed(2),
			"account_number", item.AccountNumber,
			"age", j.now().Sub(item.CreatedAt).Round(time.Second).String(),
			"needs_manual_reconciliation", item.Source == domain.TransactionSourceMonnify,
		)
	}

	j.logger.Info("stale pending report job finished", "count", len(stale))
}
