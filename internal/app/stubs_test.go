package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fundflow/settlement-service/internal/domain"
	"github.com/fundflow/settlement-service/pkg/gateway"
	"github.com/fundflow/settlement-service/pkg/monnifyclient"
	"github.com/fundflow/settlement-service/pkg/paystackclient"
	"github.com/shopspring/decimal"
)

const testWebhookSecret = "sk_test_secret"

type aggregatorStub struct {
	initErr    error
	verify     *paystackclient.VerifyResult
	verifyErr  error
	banks      []paystackclient.Bank
	banksErr   error
	resolved   *paystackclient.ResolvedAccount
	resolveErr error

	initCalls int
}

func (s *aggregatorStub) InitializeTransaction(ctx context.Context, in paystackclient.InitializeRequest) (*paystackclient.InitializeResult, error) {
	s.initCalls++
	if s.initErr != nil {
		return nil, s.initErr
	}
	return &paystackclient.InitializeResult{
		AuthorizationURL: "https://checkout.paystack.com/" + in.Reference,
		AccessCode:       "access_" + in.Reference,
		Reference:        in.Reference,
	}, nil
}

func (s *aggregatorStub) VerifyTransaction(ctx context.Context, reference string) (*paystackclient.VerifyResult, error) {
	if s.verifyErr != nil {
		return nil, s.verifyErr
	}
	return s.verify, nil
}

func (s *aggregatorStub) VerifySignature(body []byte, signature string) bool {
	return paystackclient.ValidSignature(testWebhookSecret, body, signature)
}

func (s *aggregatorStub) ListBanks(ctx context.Context) ([]paystackclient.Bank, error) {
	return s.banks, s.banksErr
}

func (s *aggregatorStub) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*paystackclient.ResolvedAccount, error) {
	if s.resolveErr != nil {
		return nil, s.resolveErr
	}
	return s.resolved, nil
}

type transferGatewayStub struct {
	loginErr error
	result   *monnifyclient.DisbursementResult
	err      error

	// onTransfer runs after the gateway has accepted the request.
	onTransfer func()

	mu      sync.Mutex
	calls   int
	lastReq monnifyclient.DisbursementRequest
}

func (s *transferGatewayStub) Login(ctx context.Context) (string, error) {
	if s.loginErr != nil {
		return "", s.loginErr
	}
	return "token", nil
}

func (s *transferGatewayStub) InitiateSingleTransfer(ctx context.Context, accessToken string, in monnifyclient.DisbursementRequest) (*monnifyclient.DisbursementResult, error) {
	s.mu.Lock()
	s.calls++
	s.lastReq = in
	s.mu.Unlock()
	if s.onTransfer != nil {
		s.onTransfer()
	}
	if s.err != nil {
		return nil, s.err
	}
	result := *s.result
	result.Reference = in.Reference
	return &result, nil
}

func successfulDisbursement(amount string) *monnifyclient.DisbursementResult {
	return &monnifyclient.DisbursementResult{
		Status:              gateway.StatusSuccess,
		RawStatus:           "SUCCESS",
		Amount:              decimal.RequireFromString(amount),
		DestinationBankName: "Access Bank",
	}
}

type publisherStub struct {
	mu     sync.Mutex
	events []domain.EmailNotificationEvent
	err    error
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	return p.err
}

func (p *publisherStub) PublishEmailNotification(ctx context.Context, event domain.EmailNotificationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *publisherStub) Close() {}

func (p *publisherStub) published() []domain.EmailNotificationEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]domain.EmailNotificationEvent(nil), p.events...)
}

// sequenceCodes hands out scripted account numbers and unique references.
type sequenceCodes struct {
	mu       sync.Mutex
	numbers  []string
	next     int
	refCount atomic.Int64
}

func (c *sequenceCodes) AccountNumber() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.next >= len(c.numbers) {
		return "", fmt.Errorf("no scripted account numbers left")
	}
	n := c.numbers[c.next]
	c.next++
	return n, nil
}

func (c *sequenceCodes) Reference() string {
	return fmt.Sprintf("ref%017d", c.refCount.Add(1))
}

type limiterStub struct {
	counts map[string]int
	err    error
}

func (l *limiterStub) Take(ctx context.Context, key string, limit int, window time.Duration) (Quota, error) {
	if l.err != nil {
		return Quota{}, l.err
	}
	if l.counts == nil {
		l.counts = make(map[string]int)
	}
	l.counts[key]++
	return Quota{Used: l.counts[key], Limit: limit, RetryAfter: 42 * time.Second}, nil
}

type guardStub struct {
	claimed bool
	err     error

	claims   []string
	released int
}

func (g *guardStub) Claim(ctx context.Context, scope string, reference string) (func(), bool, error) {
	g.claims = append(g.claims, scope+":"+reference)
	if g.err != nil {
		return func() {}, false, g.err
	}
	if !g.claimed {
		return func() {}, false, nil
	}
	return func() { g.released++ }, true, nil
}

type testEnv struct {
	repo       *memoryRepo
	aggregator *aggregatorStub
	transfers  *transferGatewayStub
	publisher  *publisherStub
	codes      *sequenceCodes
	svc        *Service
}

func newTestEnv(opts Options) *testEnv {
	env := &testEnv{
		repo:       newMemoryRepo(),
		aggregator: &aggregatorStub{},
		transfers:  &transferGatewayStub{},
		publisher:  &publisherStub{},
		codes:      &sequenceCodes{},
	}
	env.svc = NewService(env.repo, env.aggregator, env.transfers, env.publisher, env.codes, opts)
	return env
}

func (e *testEnv) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	e.svc.WaitForBackground(ctx)
}

func naira(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}
