package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/fundflow/settlement-service/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// afterTransferDebit runs between the sender debit and the receiver credit of TransferFunds.
// Only integration tests set it, to simulate a failure mid-transfer.
var afterTransferDebit func(ctx context.Context) error

// TransferFunds moves in.Amount from the sender to the receiver and records one completed
// debit row owned by the sender, all in one database transaction.
func (r *PostgresRepository) TransferFunds(ctx context.Context, in domain.InternalTransfer) (*domain.TransferResult, error) {
	if in.SenderAccountNumber == in.ReceiverAccountNumber {
		return nil, ErrSameAccount
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Lock both rows in account-number order so opposing transfers cannot deadlock.
	rows, err := tx.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE account_number IN ($1, $2) ORDER BY account_number FOR UPDATE`,
		in.SenderAccountNumber, in.ReceiverAccountNumber)
	if err != nil {
		return nil, err
	}
	var sender, receiver *domain.Account
	for rows.Next() {
		account, scanErr := scanAccount(rows)
		if scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		switch account.AccountNumber {
		case in.SenderAccountNumber:
			sender = account
		case in.ReceiverAccountNumber:
			receiver = account
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if sender == nil || sender.UserID != in.UserID {
		return nil, ErrAccountNotFound
	}
	available, err := availableBalance(ctx, tx, sender)
	if err != nil {
		return nil, err
	}
	if available.LessThan(in.Amount) {
		return nil, ErrInsufficientFunds
	}
	if receiver == nil {
		return nil, ErrReceiverNotFound
	}

	updatedSender, err := adjustBalance(ctx, tx, sender.ID, in.Amount.Neg())
	if err != nil {
		return nil, fmt.Errorf("failed to debit sender: %w", err)
	}
	if afterTransferDebit != nil {
		if err := afterTransferDebit(ctx); err != nil {
			return nil, err
		}
	}
	updatedReceiver, err := adjustBalance(ctx, tx, receiver.ID, in.Amount)
	if err != nil {
		return nil, fmt.Errorf("failed to credit receiver: %w", err)
	}

	receiverID := receiver.ID
	receiverNumber := receiver.AccountNumber
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
	if err := insertTransaction(ctx, tx, &record, domain.TransactionStatusCompleted); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return &domain.TransferResult{
		Sender:      *updatedSender,
		Receiver:    *updatedReceiver,
		Transaction: record,
	}, nil
}

// availableBalance is the balance of an account already locked by the caller, less the
// debits still pending against it.
func availableBalance(ctx context.Context, q querier, account *domain.Account) (decimal.Decimal, error) {
	var reserved decimal.Decimal
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE account_id = $1 AND transaction_type = 'debit' AND transaction_status = 'pending'
	`, account.ID).Scan(&reserved)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum pending debits: %w", err)
	}
	return account.Balance.Sub(reserved), nil
}

// ReserveDebit records t as a pending debit only when the account's available balance
// covers t.Amount. The account row lock serializes reservations against each other and
// against TransferFunds, so funds held by an in-flight payout cannot be spent twice.
func (r *PostgresRepository) ReserveDebit(ctx context.Context, t *domain.Transaction) error {
	if t.Type != domain.TransactionTypeDebit {
		return fmt.Errorf("reserve requires a debit, got %s", t.Type)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	account, err := findAccount(ctx, tx, `id = $1 AND user_id = $2 FOR UPDATE`, t.AccountID, t.UserID)
	if err != nil {
		return err
	}
	available, err := availableBalance(ctx, tx, account)
	if err != nil {
		return err
	}
	if available.LessThan(t.Amount) {
		return ErrInsufficientFunds
	}
	if err := insertTransaction(ctx, tx, t, domain.TransactionStatusPending); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// lockPending locks the pending row of the given type for reference. It returns nil when
// no such row exists, which callers treat as already settled.
func lockPending(ctx context.Context, tx pgx.Tx, reference string, txType domain.TransactionType) (*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE reference_number = $1 AND transaction_type = $2 AND transaction_status = 'pending'
		FOR UPDATE
	`
	pending, err := scanTransaction(tx.QueryRow(ctx, query, reference, string(txType)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return pending, nil
}

// SettleCredit completes the pending credit for reference and credits its account in one
// database transaction. A reference that is not pending yields AlreadyRecorded. When
// reportedAmount is set it must equal the pending amount.
func (r *PostgresRepository) SettleCredit(ctx context.Context, reference string, reportedAmount *decimal.Decimal) (*domain.SettlementResult, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	pending, err := lockPending(ctx, tx, reference, domain.TransactionTypeCredit)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return &domain.SettlementResult{AlreadyRecorded: true}, nil
	}
	if reportedAmount != nil && !reportedAmount.Equal(pending.Amount) {
		return nil, fmt.Errorf("%w: reference=%s pending=%s reported=%s", ErrAmountMismatch, reference, pending.Amount, reportedAmount)
	}
	next, err := pending.Status.Transition(domain.TransactionStatusCompleted)
	if err != nil {
		return nil, err
	}

	completed, err := markCompleted(ctx, tx, reference, pending.AccountNumber, pending.UserID, next)
	if err != nil {
		return nil, err
	}
	account, err := creditAccount(ctx, tx, pending.UserID, pending.AccountNumber, pending.Amount)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &domain.SettlementResult{Transaction: completed, Account: account}, nil
}

// SettleDebit completes the pending debit for in.ReferenceNumber and debits the sender by the
// executed amount in one database transaction. The row's amount is rewritten to the executed
// amount so the ledger matches the balance change.
func (r *PostgresRepository) SettleDebit(ctx context.Context, in domain.DebitSettlement) (*domain.SettlementResult, error) {
	if !in.ExecutedAmount.IsPositive() {
		return nil, fmt.Errorf("executed amount must be positive, got %s", in.ExecutedAmount)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	pending, err := lockPending(ctx, tx, in.ReferenceNumber, domain.TransactionTypeDebit)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return &domain.SettlementResult{AlreadyRecorded: true}, nil
	}
	next, err := pending.Status.Transition(domain.TransactionStatusCompleted)
	if err != nil {
		return nil, err
	}

	account, err := findAccount(ctx, tx, `id = $1 AND user_id = $2 FOR UPDATE`, pending.AccountID, pending.UserID)
	if err != nil {
		return nil, err
	}
	if account.Balance.LessThan(in.ExecutedAmount) {
		return nil, ErrInsufficientFunds
	}
	updated, err := adjustBalance(ctx, tx, account.ID, in.ExecutedAmount.Neg())
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE transactions
		SET transaction_status = $4,
			amount = $2::numeric,
			receiving_bank_name = COALESCE(NULLIF($3, ''), receiving_bank_name),
			updated_at = NOW()
		WHERE id = $1 AND transaction_status = 'pending'
		RETURNING ` + transactionColumns
	completed, err := scanTransaction(tx.QueryRow(ctx, query, pending.ID, in.ExecutedAmount, in.ReceivingBankName, string(next)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotPending
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &domain.SettlementResult{Transaction: completed, Account: updated}, nil
}
