package app

import (
	"context"
	"errors"
	"testing"

	"github.com/fundflow/settlement-service/internal/store"
	"github.com/google/uuid"
)

func TestCreateAccount_FirstAccountIsDefault(t *testing.T) {
	env := newTestEnv(Options{})
	env.codes.numbers = []string{"1234567890", "2345678901"}
	user := env.repo.addUser("alice@example.com")

	first, err := env.svc.CreateAccount(context.Background(), user)
	if err != nil {
		t.Fatalf("create first account: %v", err)
	}
	second, err := env.svc.CreateAccount(context.Background(), user)
	if err != nil {
		t.Fatalf("create second account: %v", err)
	}

	if !first.IsDefault || second.IsDefault {
		t.Fatalf("expected only the first account to be default: first=%t second=%t", first.IsDefault, second.IsDefault)
	}
	if !first.Balance.IsZero() {
		t.Fatalf("expected zero opening balance, got %s", first.Balance)
	}
}

func TestGenerateUniqueAccountNumber_SkipsCollisions(t *testing.T) {
	env := newTestEnv(Options{})
	owner := env.repo.addUser("owner@example.com")
	env.repo.addAccount(owner, "1111111111", "0")
	env.codes.numbers = []string{"1111111111", "2222222222"}

	got, err := env.svc.GenerateUniqueAccountNumber(context.Background())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got != "2222222222" {
		t.Fatalf("expected the first free number, got %s", got)
	}
}

func TestCreateAccount_GivesUpAfterMaxAttempts(t *testing.T) {
	env := newTestEnv(Options{AccountNumberMaxAttempts: 3})
	owner := env.repo.addUser("owner@example.com")
	env.repo.addAccount(owner, "1111111111", "0")
	env.codes.numbers = []string{"1111111111", "1111111111", "1111111111", "2222222222"}

	_, err := env.svc.CreateAccount(context.Background(), owner)
	if !errors.Is(err, ErrAccountNumberExhausted) {
		t.Fatalf("expected ErrAccountNumberExhausted, got %v", err)
	}
}

func TestCreateAccount_UnknownUser(t *testing.T) {
	env := newTestEnv(Options{})
	env.codes.numbers = []string{"1234567890"}

	_, err := env.svc.CreateAccount(context.Background(), uuid.New())
	if !errors.Is(err, store.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestGetAccount_EnforcesOwnership(t *testing.T) {
	env := newTestEnv(Options{})
	alice := env.repo.addUser("alice@example.com")
	bob := env.repo.addUser("bob@example.com")
	account := env.repo.addAccount(alice, "1000000001", "10")

	if _, err := env.svc.GetAccount(context.Background(), bob, account.ID); !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound for non-owner, got %v", err)
	}
	if _, err := env.svc.GetAccountByNumber(context.Background(), bob, "1000000001"); !errors.Is(err, store.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound for non-owner, got %v", err)
	}
	got, err := env.svc.GetAccount(context.Background(), alice, account.ID)
	if err != nil || got.AccountNumber != "1000000001" {
		t.Fatalf("expected owner lookup to succeed, got %+v, %v", got, err)
	}
}
