package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fundflow/settlement-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const transactionColumns = `
	id, user_id, account_id, account_number, amount,
	transaction_type::text, transaction_status::text, transaction_date,
	description, reference_number, transaction_source::text,
	receiving_account, receiving_account_number, receiving_bank_name, receiver_account_name,
	created_at, updated_at`

// searchClause matches the free-text filter against type, status, description, account
// number and amount. The placeholder must be bound to the (possibly empty) search text.
func searchClause(placeholder string) string {
	pattern := `'%' || ` + placeholder + ` || '%'`
	return fmt.Sprintf(`(%[1]s = '' OR transaction_type::text ILIKE %[2]s OR transaction_status::text ILIKE %[2]s OR description ILIKE %[2]s OR account_number ILIKE %[2]s OR amount::text ILIKE %[2]s)`,
		placeholder, pattern)
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var (
		t      domain.Transaction
		txType string
		status string
		source string
	)
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.AccountID,
		&t.AccountNumber,
		&t.Amount,
		&txType,
		&status,
		&t.TransactionDate,
		&t.Description,
		&t.ReferenceNumber,
		&source,
		&t.ReceivingAccountID,
		&t.ReceivingAccountNumber,
		&t.ReceivingBankName,
		&t.ReceiverAccountName,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsed, err := domain.ParseTransactionStatus(status)
	if err != nil {
		return nil, err
	}
	t.Status = parsed
	t.Type = domain.TransactionType(txType)
	t.Source = domain.TransactionSource(source)
	return &t, nil
}

func collectTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	defer rows.Close()

	transactions := make([]domain.Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *t)
	}
	return transactions, rows.Err()
}

// insertTransaction writes t with the given status and fills in the generated timestamps.
func insertTransaction(ctx context.Context, q querier, t *domain.Transaction, status domain.TransactionStatus) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	t.Status = status

	query := `
		INSERT INTO transactions (
			id,
			user_id,
			account_id,
			account_number,
			amount,
			transaction_type,
			transaction_status,
			description,
			reference_number,
			transaction_source,
			receiving_account,
			receiving_account_number,
			receiving_bank_name,
			receiver_account_name
		)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING transaction_date, created_at, updated_at
	`
	err := q.QueryRow(ctx, query,
		t.ID,
		t.UserID,
		t.AccountID,
		t.AccountNumber,
		t.Amount,
		string(t.Type),
		string(t.Status),
		t.Description,
		t.ReferenceNumber,
		string(t.Source),
		t.ReceivingAccountID,
		t.ReceivingAccountNumber,
		t.ReceivingBankName,
		t.ReceiverAccountName,
	).Scan(&t.TransactionDate, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, referenceConstraint) {
			return ErrDuplicateReference
		}
		if code, _ := pgErrorCode(err); code == pgForeignKeyViolation {
			return ErrAccountNotFound
		}
		return err
	}
	return nil
}

// CreatePendingTransaction inserts t in pending status. A reused reference fails with
// ErrDuplicateReference.
func (r *PostgresRepository) CreatePendingTransaction(ctx context.Context, t *domain.Transaction) error {
	return insertTransaction(ctx, r.db, t, domain.TransactionStatusPending)
}

// FindTransactionsByReference returns every row carrying reference, or an empty slice.
func (r *PostgresRepository) FindTransactionsByReference(ctx context.Context, reference string) ([]domain.Transaction, error) {
	rows, err := r.db.Query(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE reference_number = $1`, reference)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// FindPendingTransactionsByReference returns only rows for reference that are still pending.
func (r *PostgresRepository) FindPendingTransactionsByReference(ctx context.Context, reference string) ([]domain.Transaction, error) {
	rows, err := r.db.Query(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE reference_number = $1 AND transaction_status = 'pending'`, reference)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

// MarkTransactionCompleted moves a pending row to completed. The update is conditional on
// the current status, so of two concurrent callers exactly one succeeds.
func (r *PostgresRepository) MarkTransactionCompleted(ctx context.Context, reference string, accountNumber string, userID uuid.UUID) (*domain.Transaction, error) {
	return markCompleted(ctx, r.db, reference, accountNumber, userID, domain.TransactionStatusCompleted)
}

// markCompleted writes next onto the pending row for (reference, account, user). When no
// pending row matches it reports ErrTransactionNotFound, or ErrTransactionNotPending
// wrapping the rejected transition.
func markCompleted(ctx context.Context, q querier, reference string, accountNumber string, userID uuid.UUID, next domain.TransactionStatus) (*domain.Transaction, error) {
	query := `
		UPDATE transactions
		SET transaction_status = $4, updated_at = NOW()
		WHERE reference_number = $1 AND account_number = $2 AND user_id = $3 AND transaction_status = 'pending'
		RETURNING ` + transactionColumns
	completed, err := scanTransaction(q.QueryRow(ctx, query, reference, accountNumber, userID, string(next)))
	if err == nil {
		return completed, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	var current string
	err = q.QueryRow(ctx, `SELECT transaction_status::text FROM transactions WHERE reference_number = $1 AND account_number = $2 AND user_id = $3`,
		reference, accountNumber, userID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	if _, transitionErr := domain.TransactionStatus(current).Transition(next); transitionErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransactionNotPending, transitionErr)
	}
	return nil, ErrTransactionNotPending
}

// FindTransactionByIDAndUser returns a transaction only when userID owns it.
func (r *PostgresRepository) FindTransactionByIDAndUser(ctx context.Context, transactionID uuid.UUID, userID uuid.UUID) (*domain.Transaction, error) {
	t, err := scanTransaction(r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 AND user_id = $2`, transactionID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return t, nil
}

// ListTransactionsByUser returns one page of the user's transactions, newest first.
func (r *PostgresRepository) ListTransactionsByUser(ctx context.Context, userID uuid.UUID, opts domain.TransactionListOptions) (*domain.TransactionPage, error) {
	return r.listTransactions(ctx, `user_id = $1`, userID, opts)
}

// ListTransactionsByAccountNumber returns one page of an account's transactions. The account
// must belong to userID.
func (r *PostgresRepository) ListTransactionsByAccountNumber(ctx context.Context, userID uuid.UUID, accountNumber string, opts domain.TransactionListOptions) (*domain.TransactionPage, error) {
	if _, err := r.FindAccountByUserAndNumber(ctx, userID, accountNumber); err != nil {
		return nil, err
	}
	return r.listTransactions(ctx, `account_number = $1`, accountNumber, opts)
}

// listTransactions pages over rows matching scope, which must reference $1 only.
func (r *PostgresRepository) listTransactions(ctx context.Context, scope string, scopeArg any, opts domain.TransactionListOptions) (*domain.TransactionPage, error) {
	offset := opts.Normalize()
	search := strings.TrimSpace(opts.Search)
	where := scope + ` AND ` + searchClause("$2")

	page := &domain.TransactionPage{Page: opts.Page, Limit: opts.Limit}
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM transactions WHERE `+where, scopeArg, search).Scan(&page.TotalCount); err != nil {
		return nil, fmt.Errorf("failed to count transactions: %w", err)
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE `+where+` ORDER BY created_at DESC LIMIT $3 OFFSET $4`,
		scopeArg, search, opts.Limit, offset)
	if err != nil {
		return nil, err
	}
	page.Transactions, err = collectTransactions(rows)
	if err != nil {
		return nil, err
	}
	return page, nil
}

// ListStalePendingTransactions returns pending rows created before olderThan, oldest first.
func (r *PostgresRepository) ListStalePendingTransactions(ctx context.Context, olderThan time.Time, limit int) ([]domain.StalePendingTransaction, error) {
	query := `
		SELECT id, reference_number, transaction_source::text, transaction_type::text, amount, account_number, created_at
		FROM transactions
		WHERE transaction_status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stale := make([]domain.StalePendingTransaction, 0)
	for rows.Next() {
		var (
			item   domain.StalePendingTransaction
			source string
			txType string
		)
		if err := rows.Scan(&item.ID, &item.ReferenceNumber, &source, &txType, &item.Amount, &item.AccountNumber, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.Source = domain.TransactionSource(source)
		item.Type = domain.TransactionType(txType)
		stale = append(stale, item)
	}
	return stale, rows.Err()
}
