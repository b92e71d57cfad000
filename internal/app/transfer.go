package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/fundflow/settlement-service/internal/domain"
	"github.com/fundflow/settlement-service/internal/store"
	"github.com/google/uuid"
)

const transferQuotaKey = "transfer"

// TransferInternal moves funds between two accounts held in this system. The sender must
// belong to userID; any existing account may receive.
func (s *Service) TransferInternal(ctx context.Context, userID uuid.UUID, req domain.InternalTransferRequest) (*domain.TransferResult, error) {
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}
	if req.SenderAccountNumber == req.ReceiverAccountNumber {
		return nil, ErrSelfTransfer
	}
	if err := s.consumeTransferQuota(ctx, userID); err != nil {
		return nil, err
	}

	// Fast-fail checks. The authoritative checks repeat under row locks in TransferFunds.
	sender, err := s.repo.FindAccountByUserAndNumber(ctx, userID, req.SenderAccountNumber)
	if err != nil {
		return nil, err
	}
	if sender.Balance.LessThan(req.Amount) {
		return nil, store.ErrInsufficientFunds
	}
	if _, err := s.repo.FindAccountByNumber(ctx, req.ReceiverAccountNumber); err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			return nil, store.ErrReceiverNotFound
		}
		return nil, err
	}

	description := req.Description
	if description == "" {
		description = fmt.Sprintf("Transfer to %s", req.ReceiverAccountNumber)
	}

	result, err := s.repo.TransferFunds(ctx, domain.InternalTransfer{
		UserID:                userID,
		SenderAccountNumber:   req.SenderAccountNumber,
		ReceiverAccountNumber: req.ReceiverAccountNumber,
		Amount:                req.Amount,
		Description:           description,
		ReferenceNumber:       s.codes.Reference(),
	})
	if err != nil {
		if errors.Is(err, store.ErrSameAccount) {
			return nil, ErrSelfTransfer
		}
		log.Printf("level=warn component=settlement op=transfer user_id=%s msg=\"transfer failed\" err=%v", userID, err)
		return nil, err
	}

	log.Printf("level=info component=settlement op=transfer user_id=%s reference=%s amount=%s msg=\"transfer completed\"",
		userID, result.Transaction.ReferenceNumber, result.Transaction.Amount)
	s.notifyTransactionCompleted(result.Transaction)
	return result, nil
}

// consumeTransferQuota applies the per-user limit on money-moving requests. Limiter
// failures are logged and the request proceeds.
func (s *Service) consumeTransferQuota(ctx context.Context, userID uuid.UUID) error {
	if s.limiter == nil || s.opts.TransferRateLimitPerMinute <= 0 {
		return nil
	}
	quota, err := s.limiter.Take(ctx, transferQuotaKey+":"+userID.String(), s.opts.TransferRateLimitPerMinute, time.Minute)
	if err != nil {
		log.Printf("level=warn component=settlement msg=\"rate limiter unavailable; allowing request\" user_id=%s err=%v", userID, err)
		return nil
	}
	if quota.Exceeded() {
		log.Printf("level=info component=settlement msg=\"transfer quota exceeded\" user_id=%s used=%d limit=%d", userID, quota.Used, quota.Limit)
		return &RateLimitError{RetryAfterSeconds: quota.RetryAfterSeconds()}
	}
	return nil
}
