package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/fundflow/settlement-service/internal/domain"
	"github.com/fundflow/settlement-service/internal/store"
	"github.com/fundflow/settlement-service/pkg/rabbitmq"
	"github.com/google/uuid"
)

const userEventTimeout = 30 * time.Second

// HandleUserRegistered opens the default account for a newly registered user. Messages that
// can never succeed are rejected; store failures are requeued.
func (s *Service) HandleUserRegistered(body []byte) rabbitmq.Disposition {
	var event domain.UserRegisteredEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=error component=user_consumer msg=\"failed to unmarshal user.registered event; dropping\" err=%v", err)
		return rabbitmq.Reject
	}
	if event.UserID == uuid.Nil {
		log.Printf("level=error component=user_consumer msg=\"user.registered event without user_id; dropping\"")
		return rabbitmq.Reject
	}

	ctx, cancel := context.WithTimeout(context.Background(), userEventTimeout)
	defer cancel()

	existing, err := s.repo.ListAccountsByUser(ctx, event.UserID)
	if err != nil {
		log.Printf("level=warn component=user_consumer user_id=%s msg=\"failed to list accounts; requeueing\" err=%v", event.UserID, err)
		return rabbitmq.Requeue
	}
	if len(existing) > 0 {
		log.Printf("level=info component=user_consumer user_id=%s msg=\"user already has an account\"", event.UserID)
		return rabbitmq.Ack
	}

	account, err := s.CreateAccount(ctx, event.UserID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			log.Printf("level=error component=user_consumer user_id=%s msg=\"user does not exist; dropping\"", event.UserID)
			return rabbitmq.Reject
		}
		log.Printf("level=warn component=user_consumer user_id=%s msg=\"failed to open default account; requeueing\" err=%v", event.UserID, err)
		return rabbitmq.Requeue
	}

	log.Printf("level=info component=user_consumer user_id=%s account_number=%s msg=\"default account opened\"", event.UserID, account.AccountNumber)
	return rabbitmq.Ack
}
