package app

import (
	"context"
	"log"

	"github.com/fundflow/settlement-service/internal/domain"
)

const transactionAlertTemplate = "transaction_alert"

// notifyTransactionCompleted enqueues the email alert for a completed transaction. It never
// blocks the caller and never affects the settlement outcome.
func (s *Service) notifyTransactionCompleted(t domain.Transaction) {
	if s.publisher == nil {
		return
	}

	s.background.Add(1)
	go func() {
		defer s.background.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.opts.NotificationTimeout)
		defer cancel()

		user, err := s.repo.FindUserByID(ctx, t.UserID)
		if err != nil {
			log.Printf("level=warn component=notifier reference=%s user_id=%s msg=\"recipient lookup failed; alert skipped\" err=%v", t.ReferenceNumber, t.UserID, err)
			return
		}

		event := domain.EmailNotificationEvent{
			Template:        transactionAlertTemplate,
			To:              user.Email,
			FirstName:       user.FirstName,
			UserID:          t.UserID,
			TransactionID:   t.ID,
			ReferenceNumber: t.ReferenceNumber,
			AccountNumber:   t.AccountNumber,
			Amount:          t.Amount,
			Type:            t.Type,
			Status:          t.Status,
			Description:     t.Description,
			OccurredAt:      t.UpdatedAt,
		}
		if err := s.publisher.PublishEmailNotification(ctx, event); err != nil {
			log.Printf("level=warn component=notifier reference=%s msg=\"failed to publish transaction alert\" err=%v", t.ReferenceNumber, err)
		}
	}()
}
