package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/fundflow/settlement-service/internal/domain"
	"github.com/fundflow/settlement-service/pkg/gateway"
	"github.com/fundflow/settlement-service/pkg/paystackclient"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func chargeWebhook(t *testing.T, event, status, reference string, kobo int64) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(domain.PaystackWebhookEvent{
		Event: event,
		Data: domain.PaystackWebhookData{
			Reference: reference,
			Status:    status,
			Amount:    kobo,
			Currency:  "NGN",
		},
	})
	if err != nil {
		t.Fatalf("marshal webhook: %v", err)
	}
	return body, paystackclient.Sign(testWebhookSecret, body)
}

func fundedEnv(t *testing.T) (*testEnv, uuid.UUID, string) {
	t.Helper()
	env := newTestEnv(Options{})
	user := env.repo.addUser("alice@example.com")
	env.repo.addAccount(user, "1000000001", "0")

	started, err := env.svc.InitializeFunding(context.Background(), user, domain.FundAccountRequest{
		AccountNumber: "1000000001",
		Amount:        naira("5000.00"),
	})
	if err != nil {
		t.Fatalf("initialize funding: %v", err)
	}
	return env, user, started.Reference
}

func verifiedCallback(env *testEnv, reference string) (*domain.SettlementResult, error) {
	env.aggregator.verify = &paystackclient.VerifyResult{
		Status:    gateway.StatusSuccess,
		RawStatus: "success",
		Reference: reference,
		Amount:    naira("5000.00"),
	}
	return env.svc.ReconcileCallback(context.Background(), reference)
}

func TestInitializeFunding_RecordsPendingCredit(t *testing.T) {
	env, _, reference := fundedEnv(t)

	rows := env.repo.rowsFor(reference)
	if len(rows) != 1 {
		t.Fatalf("expected one pending row, got %d", len(rows))
	}
	row := rows[0]
	if row.Status != domain.TransactionStatusPending || row.Type != domain.TransactionTypeCredit || row.Source != domain.TransactionSourcePaystack {
		t.Fatalf("unexpected row: %+v", row)
	}
	if !row.Amount.Equal(naira("5000")) {
		t.Fatalf("expected pending amount 5000, got %s", row.Amount)
	}
	if got := env.repo.balance("1000000001"); !got.IsZero() {
		t.Fatalf("balance must not change before confirmation, got %s", got)
	}
}

func TestInitializeFunding_GatewayFailureRecordsNothing(t *testing.T) {
	env := newTestEnv(Options{})
	user := env.repo.addUser("alice@example.com")
	env.repo.addAccount(user, "1000000001", "0")
	env.aggregator.initErr = gateway.StatusError("paystack", "initialize", 503, "down")

	_, err := env.svc.InitializeFunding(context.Background(), user, domain.FundAccountRequest{
		AccountNumber: "1000000001",
		Amount:        naira("100.00"),
	})
	if !errors.Is(err, gateway.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if env.repo.transactionCount() != 0 {
		t.Fatalf("expected no ledger rows")
	}
}

func TestReconcileWebhook_CreditsOnceAcrossDuplicates(t *testing.T) {
	env, _, reference := fundedEnv(t)
	body, signature := chargeWebhook(t, paystackclient.EventChargeSuccess, "success", reference, 500000)

	first, err := env.svc.ReconcileWebhook(context.Background(), body, signature)
	if err != nil {
		t.Fatalf("first webhook: %v", err)
	}
	if first.AlreadyRecorded {
		t.Fatalf("first delivery must settle")
	}
	if got := env.repo.balance("1000000001"); !got.Equal(naira("5000")) {
		t.Fatalf("expected balance 5000, got %s", got)
	}

	second, err := env.svc.ReconcileWebhook(context.Background(), body, signature)
	if err != nil {
		t.Fatalf("second webhook: %v", err)
	}
	if !second.AlreadyRecorded {
		t.Fatalf("duplicate delivery must report AlreadyRecorded")
	}
	if second.Transaction == nil || second.Transaction.Status != domain.TransactionStatusCompleted {
		t.Fatalf("expected completed row on duplicate, got %+v", second.Transaction)
	}

	callback, err := verifiedCallback(env, reference)
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if !callback.AlreadyRecorded {
		t.Fatalf("callback after webhook must report AlreadyRecorded")
	}
	if got := env.repo.balance("1000000001"); !got.Equal(naira("5000")) {
		t.Fatalf("balance must stay 5000, got %s", got)
	}

	env.drain()
	if n := len(env.publisher.published()); n != 1 {
		t.Fatalf("expected exactly one alert, got %d", n)
	}
}

func TestReconcileWebhook_ConcurrentDeliveriesCreditOnce(t *testing.T) {
	env, _, reference := fundedEnv(t)
	body, signature := chargeWebhook(t, paystackclient.EventChargeSuccess, "success", reference, 500000)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		settled int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := env.svc.ReconcileWebhook(context.Background(), body, signature)
			if err != nil {
				t.Errorf("webhook: %v", err)
				return
			}
			if !result.AlreadyRecorded {
				mu.Lock()
				settled++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if settled != 1 {
		t.Fatalf("expected exactly one settling delivery, got %d", settled)
	}
	if got := env.repo.balance("1000000001"); !got.Equal(naira("5000")) {
		t.Fatalf("expected balance 5000, got %s", got)
	}
	env.drain()
}

func TestReconcileWebhook_RejectsBadSignature(t *testing.T) {
	env, _, reference := fundedEnv(t)
	body, _ := chargeWebhook(t, paystackclient.EventChargeSuccess, "success", reference, 500000)

	_, err := env.svc.ReconcileWebhook(context.Background(), body, paystackclient.Sign("other-secret", body))
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
	if got := env.repo.balance("1000000001"); !got.IsZero() {
		t.Fatalf("balance changed to %s", got)
	}
}

func TestReconcileWebhook_IgnoresNonSettlingEvents(t *testing.T) {
	env, _, reference := fundedEnv(t)

	for _, tc := range []struct{ event, status string }{
		{"transfer.success", "success"},
		{paystackclient.EventChargeSuccess, "abandoned"},
	} {
		body, signature := chargeWebhook(t, tc.event, tc.status, reference, 500000)
		result, err := env.svc.ReconcileWebhook(context.Background(), body, signature)
		if err != nil {
			t.Fatalf("%s/%s: %v", tc.event, tc.status, err)
		}
		if !result.Ignored {
			t.Fatalf("%s/%s: expected event to be ignored", tc.event, tc.status)
		}
	}
	if rows := env.repo.rowsFor(reference); rows[0].Status != domain.TransactionStatusPending {
		t.Fatalf("row must stay pending")
	}
}

func TestReconcileWebhook_AmountMismatchLeavesRowPending(t *testing.T) {
	env, _, reference := fundedEnv(t)
	body, signature := chargeWebhook(t, paystackclient.EventChargeSuccess, "success", reference, 100)

	_, err := env.svc.ReconcileWebhook(context.Background(), body, signature)
	if !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
	if rows := env.repo.rowsFor(reference); rows[0].Status != domain.TransactionStatusPending {
		t.Fatalf("row must stay pending")
	}
	if got := env.repo.balance("1000000001"); !got.IsZero() {
		t.Fatalf("balance changed to %s", got)
	}
}

func TestReconcileWebhook_UnknownReferenceIsAcknowledged(t *testing.T) {
	env, _, _ := fundedEnv(t)
	body, signature := chargeWebhook(t, paystackclient.EventChargeSuccess, "success", "never-issued", 500000)

	result, err := env.svc.ReconcileWebhook(context.Background(), body, signature)
	if err != nil {
		t.Fatalf("expected unknown reference to be acknowledged, got %v", err)
	}
	if !result.AlreadyRecorded || result.Transaction != nil {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestReconcileWebhook_MalformedPayloads(t *testing.T) {
	env, _, _ := fundedEnv(t)

	body := []byte(`{"event":`)
	if _, err := env.svc.ReconcileWebhook(context.Background(), body, paystackclient.Sign(testWebhookSecret, body)); !errors.Is(err, ErrInvalidPayload) {
		t.Fatalf("expected ErrInvalidPayload, got %v", err)
	}

	body, signature := chargeWebhook(t, paystackclient.EventChargeSuccess, "success", "  ", 500000)
	if _, err := env.svc.ReconcileWebhook(context.Background(), body, signature); !errors.Is(err, ErrMissingReference) {
		t.Fatalf("expected ErrMissingReference, got %v", err)
	}
}

func TestReconcileWebhook_GuardHeldElsewhere(t *testing.T) {
	env, _, reference := fundedEnv(t)
	env.svc.SetReferenceGuard(&guardStub{claimed: false})
	body, signature := chargeWebhook(t, paystackclient.EventChargeSuccess, "success", reference, 500000)

	_, err := env.svc.ReconcileWebhook(context.Background(), body, signature)
	if !errors.Is(err, ErrReconciliationInProgress) {
		t.Fatalf("expected ErrReconciliationInProgress, got %v", err)
	}
	if env.repo.settleCreditHits != 0 {
		t.Fatalf("store must not be reached while the guard is held")
	}
}

func TestReconcileCallback_GuardHeldWaitsOnRowLock(t *testing.T) {
	env, _, reference := fundedEnv(t)
	guard := &guardStub{claimed: false}
	env.svc.SetReferenceGuard(guard)

	result, err := verifiedCallback(env, reference)
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if result.AlreadyRecorded || result.Transaction.Status != domain.TransactionStatusCompleted {
		t.Fatalf("expected the callback to settle, got %+v", result)
	}
	if got := env.repo.balance("1000000001"); !got.Equal(naira("5000")) {
		t.Fatalf("expected balance 5000, got %s", got)
	}
	if guard.released != 0 {
		t.Fatalf("a guard held elsewhere must not be released, released=%d", guard.released)
	}

	body, signature := chargeWebhook(t, paystackclient.EventChargeSuccess, "success", reference, 500000)
	if _, err := env.svc.ReconcileWebhook(context.Background(), body, signature); !errors.Is(err, ErrReconciliationInProgress) {
		t.Fatalf("webhook: expected ErrReconciliationInProgress, got %v", err)
	}
	if env.repo.settleCreditHits != 1 {
		t.Fatalf("expected one settlement attempt, got %d", env.repo.settleCreditHits)
	}
	env.drain()
}

// completedElsewhereRepo reports the pending row as already completed when settling.
type completedElsewhereRepo struct {
	*memoryRepo
}

func (r completedElsewhereRepo) SettleCredit(ctx context.Context, reference string, reportedAmount *decimal.Decimal) (*domain.SettlementResult, error) {
	return nil, &domain.InvalidStatusTransitionError{From: domain.TransactionStatusCompleted, To: domain.TransactionStatusCompleted}
}

func (r completedElsewhereRepo) SettleDebit(ctx context.Context, in domain.DebitSettlement) (*domain.SettlementResult, error) {
	return nil, &domain.InvalidStatusTransitionError{From: domain.TransactionStatusCompleted, To: domain.TransactionStatusCompleted}
}

func TestReconcileCallback_InvalidTransitionIsInvariantViolation(t *testing.T) {
	env, _, reference := fundedEnv(t)
	env.svc = NewService(completedElsewhereRepo{env.repo}, env.aggregator, env.transfers, env.publisher, env.codes, Options{})

	_, err := verifiedCallback(env, reference)
	if !errors.Is(err, ErrInvariantViolation) {
		t.Fatalf("expected ErrInvariantViolation, got %v", err)
	}
	var transitionErr *domain.InvalidStatusTransitionError
	if errors.As(err, &transitionErr) {
		t.Fatalf("store error must not leak past the invariant mapping: %v", err)
	}
	if got := env.repo.balance("1000000001"); !got.IsZero() {
		t.Fatalf("balance must not change, got %s", got)
	}
}

func TestReconcileWebhook_GuardErrorFallsBackToDatabase(t *testing.T) {
	env, _, reference := fundedEnv(t)
	env.svc.SetReferenceGuard(&guardStub{err: errors.New("redis down")})
	body, signature := chargeWebhook(t, paystackclient.EventChargeSuccess, "success", reference, 500000)

	result, err := env.svc.ReconcileWebhook(context.Background(), body, signature)
	if err != nil || result.AlreadyRecorded {
		t.Fatalf("expected settlement despite guard error, got %+v, %v", result, err)
	}
	env.drain()
}

func TestReconcileWebhook_ReleasesGuard(t *testing.T) {
	env, _, reference := fundedEnv(t)
	guard := &guardStub{claimed: true}
	env.svc.SetReferenceGuard(guard)
	body, signature := chargeWebhook(t, paystackclient.EventChargeSuccess, "success", reference, 500000)

	if _, err := env.svc.ReconcileWebhook(context.Background(), body, signature); err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if guard.released != 1 {
		t.Fatalf("expected guard to be released once, got %d", guard.released)
	}
	env.drain()
}

func TestReconcileCallback_SettlesVerifiedPayment(t *testing.T) {
	env, _, reference := fundedEnv(t)

	result, err := verifiedCallback(env, reference)
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if result.AlreadyRecorded || result.Account == nil || !result.Account.Balance.Equal(naira("5000")) {
		t.Fatalf("unexpected result: %+v", result)
	}
	env.drain()
}

func TestReconcileCallback_UnsuccessfulPayment(t *testing.T) {
	env, _, reference := fundedEnv(t)
	env.aggregator.verify = &paystackclient.VerifyResult{Status: gateway.StatusFailed, RawStatus: "failed", Reference: reference}

	_, err := env.svc.ReconcileCallback(context.Background(), reference)
	if !errors.Is(err, ErrPaymentNotSuccessful) {
		t.Fatalf("expected ErrPaymentNotSuccessful, got %v", err)
	}
	if _, err := env.svc.ReconcileCallback(context.Background(), ""); !errors.Is(err, ErrMissingReference) {
		t.Fatalf("expected ErrMissingReference, got %v", err)
	}
}
