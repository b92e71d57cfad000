package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/fundflow/settlement-service/internal/domain"
	"github.com/fundflow/settlement-service/internal/store"
	"github.com/fundflow/settlement-service/pkg/gateway"
	"github.com/fundflow/settlement-service/pkg/monnifyclient"
	"github.com/google/uuid"
)

// TransferToBank sends funds from an account owned by userID to an external bank account.
// The debit is applied only when the gateway reports synchronous success, and then for the
// amount the gateway executed. Any other outcome leaves the pending row for manual
// reconciliation.
func (s *Service) TransferToBank(ctx context.Context, userID uuid.UUID, req domain.BankTransferRequest) (*domain.BankTransferOutcome, error) {
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}
	if err := s.consumeTransferQuota(ctx, userID); err != nil {
		return nil, err
	}

	account, err := s.repo.FindAccountByUserAndNumber(ctx, userID, req.SenderAccountNumber)
	if err != nil {
		return nil, err
	}
	if account.Balance.LessThan(req.Amount) {
		return nil, store.ErrInsufficientFunds
	}
	bank, err := s.repo.FindBankByCode(ctx, req.BankCode)
	if err != nil {
		return nil, err
	}

	token, err := s.transfers.Login(ctx)
	if err != nil {
		log.Printf("level=warn component=settlement op=payout user_id=%s retryable=%t msg=\"transfer gateway login failed; no transfer sent\" err=%v",
			userID, gateway.IsRetryable(err), err)
		return nil, fmt.Errorf("failed to authenticate with transfer gateway: %w", err)
	}

	receiverNumber := req.ReceiverAccountNumber
	receiverName := req.ReceiverAccountName
	bankName := bank.Name
	pending := &domain.Transaction{
		UserID:                 userID,
		AccountID:              account.ID,
		AccountNumber:          account.AccountNumber,
		Amount:                 req.Amount,
		Type:                   domain.TransactionTypeDebit,
		Description:            req.Narration,
		ReferenceNumber:        s.codes.Reference(),
		Source:                 domain.TransactionSourceMonnify,
		ReceivingAccountNumber: &receiverNumber,
		ReceiverAccountName:    &receiverName,
		ReceivingBankName:      &bankName,
	}
	// The reservation re-checks the balance under the account lock, net of other
	// in-flight payouts, so concurrent requests cannot both reach the gateway.
	if err := s.repo.ReserveDebit(ctx, pending); err != nil {
		if errors.Is(err, store.ErrInsufficientFunds) {
			log.Printf("level=info component=settlement op=payout user_id=%s account=%s msg=\"reservation refused; funds held by in-flight payouts\"",
				userID, account.AccountNumber)
		}
		return nil, err
	}

	result, err := s.transfers.InitiateSingleTransfer(ctx, token, monnifyclient.DisbursementRequest{
		Amount:                   req.Amount,
		Reference:                pending.ReferenceNumber,
		Narration:                req.Narration,
		DestinationBankCode:      req.BankCode,
		DestinationAccountNumber: req.ReceiverAccountNumber,
		Receiver: monnifyclient.ReceiverDetails{
			AccountNumber: req.ReceiverAccountNumber,
			AccountName:   req.ReceiverAccountName,
			BankCode:      req.BankCode,
		},
		SenderUserID: userID.String(),
	})
	if err != nil {
		// The gateway may have executed the transfer even though no response was observed.
		log.Printf("level=warn component=settlement op=payout reference=%s needs_manual_reconciliation=true retryable=%t msg=\"disbursement outcome unknown\" err=%v",
			pending.ReferenceNumber, gateway.IsRetryable(err), err)
		return nil, fmt.Errorf("transfer gateway call failed: %w", err)
	}

	switch result.Status {
	case gateway.StatusSuccess:
		return s.settlePayout(ctx, pending, result)
	case gateway.StatusFailed:
		log.Printf("level=warn component=settlement op=payout reference=%s gateway_status=%s needs_manual_reconciliation=true msg=\"disbursement failed; pending row left\"",
			pending.ReferenceNumber, result.RawStatus)
		return nil, gateway.Rejected("monnify", "disburse", "transfer reported "+result.RawStatus)
	default:
		log.Printf("level=warn component=settlement op=payout reference=%s gateway_status=%s needs_manual_reconciliation=true msg=\"disbursement not final; pending row left\"",
			pending.ReferenceNumber, result.RawStatus)
		return &domain.BankTransferOutcome{
			Settled:       false,
			Transaction:   *pending,
			GatewayStatus: result.RawStatus,
		}, nil
	}
}

// settlePayout applies the debit for a disbursement the gateway reported as executed. It
// runs detached from the request context: money has already left, so a client disconnect
// must not abandon the ledger write.
func (s *Service) settlePayout(ctx context.Context, pending *domain.Transaction, result *monnifyclient.DisbursementResult) (*domain.BankTransferOutcome, error) {
	executed := result.Amount
	if !executed.IsPositive() {
		log.Printf("level=warn component=settlement op=payout reference=%s msg=\"gateway omitted executed amount; using requested amount\"", pending.ReferenceNumber)
		executed = pending.Amount
	}
	bankName := result.DestinationBankName
	if bankName == "" && pending.ReceivingBankName != nil {
		bankName = *pending.ReceivingBankName
	}

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleAfterPayoutTimeout)
	defer cancel()

	settled, err := s.repo.SettleDebit(settleCtx, domain.DebitSettlement{
		ReferenceNumber:   pending.ReferenceNumber,
		ExecutedAmount:    executed,
		ReceivingBankName: bankName,
	})
	if err != nil {
		invariant := "settle_failed"
		var transitionErr *domain.InvalidStatusTransitionError
		switch {
		case errors.Is(err, store.ErrInsufficientFunds):
			invariant = "settle_time_overdraft"
		case errors.As(err, &transitionErr):
			invariant = "invalid_status_transition"
		}
		log.Printf("level=error component=settlement op=payout reference=%s invariant=%s needs_manual_reconciliation=true executed=%s msg=\"disbursement executed but debit not applied\" err=%v",
			pending.ReferenceNumber, invariant, executed, err)
		return nil, fmt.Errorf("%w: %v", ErrInvariantViolation, err)
	}
	if settled.AlreadyRecorded {
		log.Printf("level=error component=settlement op=payout reference=%s invariant=double_completion msg=\"fresh payout reference was already settled\"", pending.ReferenceNumber)
		return nil, ErrInvariantViolation
	}

	log.Printf("level=info component=settlement op=payout reference=%s amount=%s msg=\"payout settled\"", pending.ReferenceNumber, executed)
	s.notifyTransactionCompleted(*settled.Transaction)
	return &domain.BankTransferOutcome{
		Settled:       true,
		Transaction:   *settled.Transaction,
		Account:       settled.Account,
		GatewayStatus: result.RawStatus,
	}, nil
}
