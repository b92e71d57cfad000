package app

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fundflow/settlement-service/internal/domain"
	"github.com/fundflow/settlement-service/internal/store"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// memoryRepo is a mutex-guarded Repository whose atomic units mirror the Postgres ones.
type memoryRepo struct {
	store.Repository

	mu           sync.Mutex
	users        map[uuid.UUID]domain.User
	accounts     map[string]*domain.Account
	transactions []*domain.Transaction
	banks        map[string]domain.Bank

	// transferFault runs between debit and credit inside TransferFunds.
	transferFault    func() error
	settleCreditHits int
	now              func() time.Time
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		users:    make(map[uuid.UUID]domain.User),
		accounts: make(map[string]*domain.Account),
		banks:    make(map[string]domain.Bank),
		now:      time.Now,
	}
}

func (r *memoryRepo) addUser(email string) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	r.users[id] = domain.User{ID: id, Email: email, FirstName: "Ada"}
	return id
}

func (r *memoryRepo) setBalance(number string, balance string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[number].Balance = decimal.RequireFromString(balance)
}

func (r *memoryRepo) addAccount(userID uuid.UUID, number string, balance string) *domain.Account {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := &domain.Account{
		ID:            uuid.New(),
		UserID:        userID,
		AccountNumber: number,
		Balance:       decimal.RequireFromString(balance),
		CreatedAt:     r.now(),
		UpdatedAt:     r.now(),
	}
	r.accounts[number] = a
	return a
}

func (r *memoryRepo) balance(number string) decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.accounts[number].Balance
}

func (r *memoryRepo) rowsFor(reference string) []domain.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Transaction, 0)
	for _, t := range r.transactions {
		if t.ReferenceNumber == reference {
			out = append(out, *t)
		}
	}
	return out
}

func (r *memoryRepo) transactionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.transactions)
}

func (r *memoryRepo) AccountNumberExists(ctx context.Context, accountNumber string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.accounts[accountNumber]
	return ok, nil
}

func (r *memoryRepo) CreateAccount(ctx context.Context, userID uuid.UUID, accountNumber string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[userID]; !ok {
		return nil, store.ErrUserNotFound
	}
	if _, ok := r.accounts[accountNumber]; ok {
		return nil, store.ErrDuplicateAccountNumber
	}
	owned := 0
	for _, a := range r.accounts {
		if a.UserID == userID {
			owned++
		}
	}
	a := &domain.Account{
		ID:            uuid.New(),
		UserID:        userID,
		AccountNumber: accountNumber,
		Balance:       decimal.Zero,
		IsDefault:     owned == 0,
		CreatedAt:     r.now(),
		UpdatedAt:     r.now(),
	}
	r.accounts[accountNumber] = a
	copied := *a
	return &copied, nil
}

func (r *memoryRepo) FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.accounts[accountNumber]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	copied := *a
	return &copied, nil
}

func (r *memoryRepo) FindAccountByUserAndNumber(ctx context.Context, userID uuid.UUID, accountNumber string) (*domain.Account, error) {
	a, err := r.FindAccountByNumber(ctx, accountNumber)
	if err != nil {
		return nil, err
	}
	if a.UserID != userID {
		return nil, store.ErrAccountNotFound
	}
	return a, nil
}

func (r *memoryRepo) FindAccountByUserAndID(ctx context.Context, userID uuid.UUID, accountID uuid.UUID) (*domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.accounts {
		if a.ID == accountID && a.UserID == userID {
			copied := *a
			return &copied, nil
		}
	}
	return nil, store.ErrAccountNotFound
}

func (r *memoryRepo) ListAccountsByUser(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Account, 0)
	for _, a := range r.accounts {
		if a.UserID == userID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IsDefault && !out[j].IsDefault })
	return out, nil
}

func (r *memoryRepo) insertLocked(t *domain.Transaction, status domain.TransactionStatus) error {
	for _, existing := range r.transactions {
		if existing.ReferenceNumber == t.ReferenceNumber {
			return store.ErrDuplicateReference
		}
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.Status = status
	t.TransactionDate = r.now()
	t.CreatedAt = r.now()
	t.UpdatedAt = r.now()
	copied := *t
	r.transactions = append(r.transactions, &copied)
	return nil
}

func (r *memoryRepo) CreatePendingTransaction(ctx context.Context, t *domain.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.insertLocked(t, domain.TransactionStatusPending)
}

// availableLocked is the balance not held by pending debits.
func (r *memoryRepo) availableLocked(account *domain.Account) decimal.Decimal {
	available := account.Balance
	for _, t := range r.transactions {
		if t.AccountID == account.ID && t.Type == domain.TransactionTypeDebit && t.Status == domain.TransactionStatusPending {
			available = available.Sub(t.Amount)
		}
	}
	return available
}

func (r *memoryRepo) ReserveDebit(ctx context.Context, t *domain.Transaction) error {
	if t.Type != domain.TransactionTypeDebit {
		return fmt.Errorf("reserve requires a debit, got %s", t.Type)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	account, ok := r.accounts[t.AccountNumber]
	if !ok || account.ID != t.AccountID || account.UserID != t.UserID {
		return store.ErrAccountNotFound
	}
	if r.availableLocked(account).LessThan(t.Amount) {
		return store.ErrInsufficientFunds
	}
	return r.insertLocked(t, domain.TransactionStatusPending)
}

func (r *memoryRepo) FindTransactionsByReference(ctx context.Context, reference string) ([]domain.Transaction, error) {
	return r.rowsFor(reference), nil
}

func (r *memoryRepo) FindTransactionByIDAndUser(ctx context.Context, transactionID uuid.UUID, userID uuid.UUID) (*domain.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.transactions {
		if t.ID == transactionID && t.UserID == userID {
			copied := *t
			return &copied, nil
		}
	}
	return nil, store.ErrTransactionNotFound
}

func (r *memoryRepo) page(match func(*domain.Transaction) bool, opts domain.TransactionListOptions) *domain.TransactionPage {
	r.mu.Lock()
	defer r.mu.Unlock()
	offset := opts.Normalize()
	matched := make([]domain.Transaction, 0)
	for i := len(r.transactions) - 1; i >= 0; i-- {
		if match(r.transactions[i]) {
			matched = append(matched, *r.transactions[i])
		}
	}
	page := &domain.TransactionPage{TotalCount: len(matched), Page: opts.Page, Limit: opts.Limit, Transactions: []domain.Transaction{}}
	if offset < len(matched) {
		end := offset + opts.Limit
		if end > len(matched) {
			end = len(matched)
		}
		page.Transactions = matched[offset:end]
	}
	return page
}

func (r *memoryRepo) ListTransactionsByUser(ctx context.Context, userID uuid.UUID, opts domain.TransactionListOptions) (*domain.TransactionPage, error) {
	return r.page(func(t *domain.Transaction) bool { return t.UserID == userID }, opts), nil
}

func (r *memoryRepo) ListTransactionsByAccountNumber(ctx context.Context, userID uuid.UUID, accountNumber string, opts domain.TransactionListOptions) (*domain.TransactionPage, error) {
	if _, err := r.FindAccountByUserAndNumber(ctx, userID, accountNumber); err != nil {
		return nil, err
	}
	return r.page(func(t *domain.Transaction) bool { return t.AccountNumber == accountNumber }, opts), nil
}

func (r *memoryRepo) ListStalePendingTransactions(ctx context.Context, olderThan time.Time, limit int) ([]domain.StalePendingTransaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.StalePendingTransaction, 0)
	for _, t := range r.transactions {
		if t.Status == domain.TransactionStatusPending && t.CreatedAt.Before(olderThan) && len(out) < limit {
			out = append(out, domain.StalePendingTransaction{
				ID:              t.ID,
				ReferenceNumber: t.ReferenceNumber,
				Source:          t.Source,
				Type:            t.Type,
				Amount:          t.Amount,
				AccountNumber:   t.AccountNumber,
				CreatedAt:       t.CreatedAt,
			})
		}
	}
	return out, nil
}

func (r *memoryRepo) TransferFunds(ctx context.Context, in domain.InternalTransfer) (*domain.TransferResult, error) {
	if in.SenderAccountNumber == in.ReceiverAccountNumber {
		return nil, store.ErrSameAccount
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	sender, ok := r.accounts[in.SenderAccountNumber]
	if !ok || sender.UserID != in.UserID {
		return nil, store.ErrAccountNotFound
	}
	if r.availableLocked(sender).LessThan(in.Amount) {
		return nil, store.ErrInsufficientFunds
	}
	receiver, ok := r.accounts[in.ReceiverAccountNumber]
	if !ok {
		return nil, store.ErrReceiverNotFound
	}

	senderBefore, receiverBefore := sender.Balance, receiver.Balance
	sender.Balance = sender.Balance.Sub(in.Amount)
	if r.transferFault != nil {
		if err := r.transferFault(); err != nil {
			sender.Balance = senderBefore
			return nil, err
		}
	}
	receiver.Balance = receiver.Balance.Add(in.Amount)

	receiverID, receiverNumber := receiver.ID, receiver.AccountNumber
	record := domain.Transaction{
		UserID:                 sender.UserID,
		AccountID:              sender.ID,
		AccountNumber:          sender.AccountNumber,
		Amount:                 in.Amount,
		Type:                   domain.TransactionTypeDebit,
		Description:            in.Description,
		ReferenceNumber:        in.ReferenceNumber,
		Source:                 domain.TransactionSourceInternal,
		ReceivingAccountID:     &receiverID,
		ReceivingAccountNumber: &receiverNumber,
	}
	if err := r.insertLocked(&record, domain.TransactionStatusCompleted); err != nil {
		sender.Balance, receiver.Balance = senderBefore, receiverBefore
		return nil, err
	}
	return &domain.TransferResult{Sender: *sender, Receiver: *receiver, Transaction: record}, nil
}

func (r *memoryRepo) pendingLocked(reference string, txType domain.TransactionType) *domain.Transaction {
	for _, t := range r.transactions {
		if t.ReferenceNumber == reference && t.Type == txType && t.Status == domain.TransactionStatusPending {
			return t
		}
	}
	return nil
}

func (r *memoryRepo) SettleCredit(ctx context.Context, reference string, reportedAmount *decimal.Decimal) (*domain.SettlementResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settleCreditHits++

	pending := r.pendingLocked(reference, domain.TransactionTypeCredit)
	if pending == nil {
		return &domain.SettlementResult{AlreadyRecorded: true}, nil
	}
	if reportedAmount != nil && !reportedAmount.Equal(pending.Amount) {
		return nil, store.ErrAmountMismatch
	}
	account, ok := r.accounts[pending.AccountNumber]
	if !ok || account.UserID != pending.UserID {
		return nil, store.ErrAccountNotFound
	}
	next, err := pending.Status.Transition(domain.TransactionStatusCompleted)
	if err != nil {
		return nil, err
	}
	pending.Status = next
	pending.UpdatedAt = r.now()
	account.Balance = account.Balance.Add(pending.Amount)

	completed, updated := *pending, *account
	return &domain.SettlementResult{Transaction: &completed, Account: &updated}, nil
}

func (r *memoryRepo) SettleDebit(ctx context.Context, in domain.DebitSettlement) (*domain.SettlementResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	pending := r.pendingLocked(in.ReferenceNumber, domain.TransactionTypeDebit)
	if pending == nil {
		return &domain.SettlementResult{AlreadyRecorded: true}, nil
	}
	account, ok := r.accounts[pending.AccountNumber]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	next, err := pending.Status.Transition(domain.TransactionStatusCompleted)
	if err != nil {
		return nil, err
	}
	if account.Balance.LessThan(in.ExecutedAmount) {
		return nil, store.ErrInsufficientFunds
	}
	account.Balance = account.Balance.Sub(in.ExecutedAmount)
	pending.Status = next
	pending.Amount = in.ExecutedAmount
	if in.ReceivingBankName != "" {
		name := in.ReceivingBankName
		pending.ReceivingBankName = &name
	}
	pending.UpdatedAt = r.now()

	completed, updated := *pending, *account
	return &domain.SettlementResult{Transaction: &completed, Account: &updated}, nil
}

func (r *memoryRepo) UpsertBanks(ctx context.Context, banks []domain.Bank) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range banks {
		if b.Code == "" {
			continue
		}
		r.banks[b.Code] = b
		n++
	}
	return n, nil
}

func (r *memoryRepo) ListBanks(ctx context.Context) ([]domain.Bank, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Bank, 0)
	for _, b := range r.banks {
		if b.Active {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memoryRepo) FindBankByCode(ctx context.Context, code string) (*domain.Bank, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.banks[code]
	if !ok {
		return nil, store.ErrBankNotFound
	}
	return &b, nil
}

func (r *memoryRepo) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[userID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	return &u, nil
}
