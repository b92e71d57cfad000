/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface. It holds
 * the account store queries and the helpers shared by the ledger and settlement files.
 *
 * @dependencies
 * - context, errors: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 *
 * @notes
 * - Every balance mutation runs inside a pgx transaction that first locks the affected rows
 *   with SELECT ... FOR UPDATE, or is a single conditional UPDATE.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/fundflow/settlement-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"

	accountNumberConstraint = "accounts_account_number_key"
	referenceConstraint     = "transactions_reference_number_key"
	balanceConstraint       = "accounts_balance_non_negative"
)

const accountColumns = `id, user_id, account_number, balance, is_default, created_at, updated_at`

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so single-statement helpers can run
// standalone or inside an atomic unit.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func pgErrorCode(err error) (code string, constraint string) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code, pgErr.ConstraintName
	}
	return "", ""
}

func isUniqueViolation(err error, constraint string) bool {
	code, name := pgErrorCode(err)
	return code == pgUniqueViolation && (constraint == "" || name == constraint)
}

func scanAccount(row rowScanner) (*domain.Account, error) {
	var a domain.Account
	if err := row.Scan(&a.ID, &a.UserID, &a.AccountNumber, &a.Balance, &a.IsDefault, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return &a, nil
}

func findAccount(ctx context.Context, q querier, where string, args ...any) (*domain.Account, error) {
	account, err := scanAccount(q.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE `+where, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

// AccountNumberExists reports whether any account already carries accountNumber.
func (r *PostgresRepository) AccountNumberExists(ctx context.Context, accountNumber string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE account_number = $1)`, accountNumber).Scan(&exists)
	return exists, err
}

// CreateAccount inserts a zero-balance account. The first account a user owns is the default.
func (r *PostgresRepository) CreateAccount(ctx context.Context, userID uuid.UUID, accountNumber string) (*domain.Account, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	// Serialize account creation per user so only one concurrent create can see zero accounts.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, userID.String()); err != nil {
		return nil, fmt.Errorf("failed to acquire account creation lock: %w", err)
	}

	var existing int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM accounts WHERE user_id = $1`, userID).Scan(&existing); err != nil {
		return nil, err
	}

	query := `
		INSERT INTO accounts (id, user_id, account_number, balance, is_default)
		VALUES ($1, $2, $3, 0, $4)
		RETURNING ` + accountColumns
	account, err := scanAccount(tx.QueryRow(ctx, query, uuid.New(), userID, accountNumber, existing == 0))
	if err != nil {
		if isUniqueViolation(err, accountNumberConstraint) {
			return nil, ErrDuplicateAccountNumber
		}
		if code, _ := pgErrorCode(err); code == pgForeignKeyViolation {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return account, nil
}

// CreditAccount atomically increments the balance of the (user, account number) pair.
func (r *PostgresRepository) CreditAccount(ctx context.Context, userID uuid.UUID, accountNumber string, amount decimal.Decimal) (*domain.Account, error) {
	return creditAccount(ctx, r.db, userID, accountNumber, amount)
}

func creditAccount(ctx context.Context, q querier, userID uuid.UUID, accountNumber string, amount decimal.Decimal) (*domain.Account, error) {
	query := `
		UPDATE accounts
		SET balance = balance + $1::numeric, updated_at = NOW()
		WHERE user_id = $2 AND account_number = $3
		RETURNING ` + accountColumns
	account, err := scanAccount(q.QueryRow(ctx, query, amount, userID, accountNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return account, nil
}

// adjustBalance applies a signed delta to an account already locked by the caller.
func adjustBalance(ctx context.Context, q querier, accountID uuid.UUID, delta decimal.Decimal) (*domain.Account, error) {
	query := `
		UPDATE accounts
		SET balance = balance + $1::numeric, updated_at = NOW()
		WHERE id = $2
		RETURNING ` + accountColumns
	account, err := scanAccount(q.QueryRow(ctx, query, delta, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		if code, constraint := pgErrorCode(err); code == pgCheckViolation && constraint == balanceConstraint {
			return nil, ErrInsufficientFunds
		}
		return nil, err
	}
	return account, nil
}

// FindAccountByNumber returns the account with accountNumber regardless of owner.
func (r *PostgresRepository) FindAccountByNumber(ctx context.Context, accountNumber string) (*domain.Account, error) {
	return findAccount(ctx, r.db, `account_number = $1`, accountNumber)
}

// FindAccountByUserAndNumber returns the account only when userID owns it.
func (r *PostgresRepository) FindAccountByUserAndNumber(ctx context.Context, userID uuid.UUID, accountNumber string) (*domain.Account, error) {
	return findAccount(ctx, r.db, `user_id = $1 AND account_number = $2`, userID, accountNumber)
}

// FindAccountByUserAndID returns the account only when userID owns it.
func (r *PostgresRepository) FindAccountByUserAndID(ctx context.Context, userID uuid.UUID, accountID uuid.UUID) (*domain.Account, error) {
	return findAccount(ctx, r.db, `user_id = $1 AND id = $2`, userID, accountID)
}

// ListAccountsByUser returns the user's accounts, default first.
func (r *PostgresRepository) ListAccountsByUser(ctx context.Context, userID uuid.UUID) ([]domain.Account, error) {
	rows, err := r.db.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 ORDER BY is_default DESC, created_at ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	accounts := make([]domain.Account, 0)
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}
