/**
 * @description
 * This file contains the settlement engine for the settlement-service. The `Service` struct
 * orchestrates every money movement: internal transfers, aggregator-funded credits and
 * outbound bank payouts. It coordinates the repository, the gateway adapters and the event
 * publisher, all injected by the entry point.
 *
 * Key features:
 * - Balance checks and mutations run inside the repository's atomic units.
 * - Reconciliation is idempotent: a reference that is no longer pending is a no-op.
 * - Notifications are handed to the publisher on a background goroutine.
 *
 * @dependencies
 * - context, sync, time: Standard Go libraries.
 * - internal/codegen, internal/domain, internal/store: Identifiers, models and data access.
 * - pkg/paystackclient, pkg/monnifyclient, pkg/rabbitmq: External collaborators.
 */

package app

import (
	"context"
	"sync"
	"time"

	"github.com/fundflow/settlement-service/internal/codegen"
	"github.com/fundflow/settlement-service/internal/store"
	"github.com/fundflow/settlement-service/pkg/monnifyclient"
	"github.com/fundflow/settlement-service/pkg/paystackclient"
	"github.com/fundflow/settlement-service/pkg/rabbitmq"
)

const (
	defaultAccountNumberMaxAttempts = 10
	defaultNotificationTimeout      = 10 * time.Second
	settleAfterPayoutTimeout        = 15 * time.Second
)

// PaymentAggregator is the subset of the Paystack client the engine uses.
type PaymentAggregator interface {
	InitializeTransaction(ctx context.Context, in paystackclient.InitializeRequest) (*paystackclient.InitializeResult, error)
	VerifyTransaction(ctx context.Context, reference string) (*paystackclient.VerifyResult, error)
	VerifySignature(body []byte, signature string) bool
	ListBanks(ctx context.Context) ([]paystackclient.Bank, error)
	ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*paystackclient.ResolvedAccount, error)
}

// TransferGateway is the subset of the Monnify client the engine uses.
type TransferGateway interface {
	Login(ctx context.Context) (string, error)
	InitiateSingleTransfer(ctx context.Context, accessToken string, in monnifyclient.DisbursementRequest) (*monnifyclient.DisbursementResult, error)
}

// RateLimiter counts requests per key within a fixed window.
type RateLimiter interface {
	Take(ctx context.Context, key string, limit int, window time.Duration) (Quota, error)
}

// ReferenceGuard claims a reference for the duration of one reconciliation attempt.
type ReferenceGuard interface {
	Claim(ctx context.Context, scope string, reference string) (release func(), claimed bool, err error)
}

// Options tunes the engine. Zero values fall back to defaults.
type Options struct {
	AccountNumberMaxAttempts   int
	TransferRateLimitPerMinute int
	NotificationTimeout        time.Duration
}

// Service provides the settlement engine.
type Service struct {
	repo       store.Repository
	aggregator PaymentAggregator
	transfers  TransferGateway
	publisher  rabbitmq.Publisher
	codes      codegen.Generator
	limiter    RateLimiter
	guard      ReferenceGuard
	opts       Options

	background sync.WaitGroup
}

// NewService creates a new settlement service instance.
func NewService(repo store.Repository, aggregator PaymentAggregator, transfers TransferGateway, publisher rabbitmq.Publisher, codes codegen.Generator, opts Options) *Service {
	if opts.AccountNumberMaxAttempts <= 0 {
		opts.AccountNumberMaxAttempts = defaultAccountNumberMaxAttempts
	}
	if opts.NotificationTimeout <= 0 {
		opts.NotificationTimeout = defaultNotificationTimeout
	}
	if codes == nil {
		codes = codegen.New()
	}
	return &Service{
		repo:       repo,
		aggregator: aggregator,
		transfers:  transfers,
		publisher:  publisher,
		codes:      codes,
		opts:       opts,
	}
}

// SetRateLimiter enables per-user throttling of money-moving requests.
func (s *Service) SetRateLimiter(limiter RateLimiter) {
	s.limiter = limiter
}

// SetReferenceGuard enables the short-lived reconciliation claim in front of the database.
func (s *Service) SetReferenceGuard(guard ReferenceGuard) {
	s.guard = guard
}

// WaitForBackground blocks until in-flight notifications finish or ctx is done.
func (s *Service) WaitForBackground(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
