package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/fundflow/settlement-service/internal/domain"
	"github.com/fundflow/settlement-service/internal/store"
	"github.com/fundflow/settlement-service/pkg/gateway"
	"github.com/fundflow/settlement-service/pkg/paystackclient"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const fundingDescription = "Account funding via Paystack"

// InitializeFunding starts an aggregator charge for an account owned by userID and records
// a pending credit under the aggregator's reference.
func (s *Service) InitializeFunding(ctx context.Context, userID uuid.UUID, req domain.FundAccountRequest) (*domain.FundingInitialization, error) {
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}

	account, err := s.repo.FindAccountByUserAndNumber(ctx, userID, req.AccountNumber)
	if err != nil {
		return nil, err
	}
	user, err := s.repo.FindUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	initialized, err := s.aggregator.InitializeTransaction(ctx, paystackclient.InitializeRequest{
		Email:     user.Email,
		Amount:    req.Amount,
		Reference: s.codes.Reference(),
		Metadata: paystackclient.Metadata{
			AccountNumber: account.AccountNumber,
			UserID:        userID.String(),
			Email:         user.Email,
		},
	})
	if err != nil {
		log.Printf("level=warn component=settlement op=fund_init user_id=%s retryable=%t msg=\"aggregator initialization failed\" err=%v",
			userID, gateway.IsRetryable(err), err)
		return nil, fmt.Errorf("failed to initialize payment: %w", err)
	}

	pending := &domain.Transaction{
		UserID:          userID,
		AccountID:       account.ID,
		AccountNumber:   account.AccountNumber,
		Amount:          req.Amount,
		Type:            domain.TransactionTypeCredit,
		Description:     fundingDescription,
		ReferenceNumber: initialized.Reference,
		Source:          domain.TransactionSourcePaystack,
	}
	if err := s.repo.CreatePendingTransaction(ctx, pending); err != nil {
		return nil, err
	}

	log.Printf("level=info component=settlement op=fund_init user_id=%s reference=%s amount=%s msg=\"pending credit recorded\"",
		userID, pending.ReferenceNumber, pending.Amount)
	return &domain.FundingInitialization{
		AuthorizationURL: initialized.AuthorizationURL,
		AccessCode:       initialized.AccessCode,
		Reference:        initialized.Reference,
		Transaction:      *pending,
	}, nil
}

// ReconcileWebhook settles the pending credit confirmed by a signed aggregator push.
// Events other than a successful charge are acknowledged and ignored.
func (s *Service) ReconcileWebhook(ctx context.Context, body []byte, signature string) (*domain.SettlementResult, error) {
	if !s.aggregator.VerifySignature(body, signature) {
		return nil, ErrInvalidSignature
	}

	var event domain.PaystackWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if event.Event != paystackclient.EventChargeSuccess || paystackclient.NormalizeChargeStatus(event.Data.Status) != gateway.StatusSuccess {
		log.Printf("level=info component=settlement op=webhook event=%s status=%s reference=%s msg=\"event ignored\"",
			event.Event, event.Data.Status, event.Data.Reference)
		return &domain.SettlementResult{Ignored: true}, nil
	}
	if strings.TrimSpace(event.Data.Reference) == "" {
		return nil, ErrMissingReference
	}

	reported := paystackclient.FromMinorUnits(event.Data.Amount)
	return s.settleCredit(ctx, "webhook", event.Data.Reference, &reported)
}

// ReconcileCallback verifies reference with the aggregator before settling the pending credit.
func (s *Service) ReconcileCallback(ctx context.Context, reference string) (*domain.SettlementResult, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, ErrMissingReference
	}

	verified, err := s.aggregator.VerifyTransaction(ctx, reference)
	if err != nil {
		log.Printf("level=warn component=settlement op=callback reference=%s retryable=%t msg=\"verification failed\" err=%v",
			reference, gateway.IsRetryable(err), err)
		return nil, fmt.Errorf("failed to verify payment: %w", err)
	}
	if verified.Status != gateway.StatusSuccess {
		return nil, fmt.Errorf("%w: status %s", ErrPaymentNotSuccessful, verified.RawStatus)
	}

	reported := verified.Amount
	return s.settleCredit(ctx, "callback", reference, &reported)
}

// settleCredit is shared by the push and poll paths. The database row lock decides the
// outcome; the guard only keeps concurrent duplicates away from it. A webhook that loses
// the guard is answered with a conflict so the aggregator redelivers; a callback waits on
// the row lock instead, since the user's browser does not retry.
func (s *Service) settleCredit(ctx context.Context, channel, reference string, reported *decimal.Decimal) (*domain.SettlementResult, error) {
	if s.guard != nil {
		release, claimed, err := s.guard.Claim(ctx, "credit", reference)
		switch {
		case err != nil:
			log.Printf("level=warn component=settlement op=%s reference=%s msg=\"reference guard unavailable; continuing\" err=%v", channel, reference, err)
		case !claimed && channel == "callback":
			log.Printf("level=info component=settlement op=%s reference=%s msg=\"reference guard held; waiting on row lock\"", channel, reference)
		case !claimed:
			return nil, ErrReconciliationInProgress
		default:
			defer release()
		}
	}

	result, err := s.repo.SettleCredit(ctx, reference, reported)
	if errors.Is(err, store.ErrTransactionNotPending) {
		result, err = &domain.SettlementResult{AlreadyRecorded: true}, nil
	}
	if err != nil {
		if errors.Is(err, store.ErrAmountMismatch) {
			log.Printf("level=error component=settlement op=%s reference=%s invariant=amount_mismatch msg=\"pending credit left unsettled\" err=%v", channel, reference, err)
			return nil, fmt.Errorf("%w: %v", ErrInvariantViolation, err)
		}
		var transitionErr *domain.InvalidStatusTransitionError
		if errors.As(err, &transitionErr) {
			log.Printf("level=error component=settlement op=%s reference=%s invariant=invalid_status_transition from=%s to=%s msg=\"pending credit left unsettled\"",
				channel, reference, transitionErr.From, transitionErr.To)
			return nil, fmt.Errorf("%w: %v", ErrInvariantViolation, err)
		}
		return nil, err
	}

	if result.AlreadyRecorded {
		existing, lookupErr := s.repo.FindTransactionsByReference(ctx, reference)
		switch {
		case lookupErr != nil:
			log.Printf("level=warn component=settlement op=%s reference=%s msg=\"already recorded; lookup failed\" err=%v", channel, reference, lookupErr)
		case len(existing) == 0:
			log.Printf("level=warn component=settlement op=%s reference=%s msg=\"unknown reference acknowledged\"", channel, reference)
		default:
			result.Transaction = &existing[0]
			log.Printf("level=info component=settlement op=%s reference=%s msg=\"already recorded\"", channel, reference)
		}
		return result, nil
	}

	log.Printf("level=info component=settlement op=%s reference=%s amount=%s msg=\"credit settled\"", channel, reference, result.Transaction.Amount)
	s.notifyTransactionCompleted(*result.Transaction)
	return result, nil
}
