package store

import (
	"context"
	"errors"

	"github.com/fundflow/settlement-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const bankColumns = `id, name, slug, code, longcode, pay_with_bank, supports_transfer, active, country, currency, type, updated_at`

func scanBank(row rowScanner) (*domain.Bank, error) {
	var b domain.Bank
	err := row.Scan(&b.ID, &b.Name, &b.Slug, &b.Code, &b.LongCode, &b.PayWithBank, &b.SupportsTransfer, &b.Active, &b.Country, &b.Currency, &b.Type, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// UpsertBanks inserts or refreshes catalog entries keyed by bank code.
func (r *PostgresRepository) UpsertBanks(ctx context.Context, banks []domain.Bank) (int, error) {
	if len(banks) == 0 {
		return 0, nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO banks (id, name, slug, code, longcode, pay_with_bank, supports_transfer, active, country, currency, type, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (code) DO UPDATE SET
			name = EXCLUDED.name,
			slug = EXCLUDED.slug,
			longcode = EXCLUDED.longcode,
			pay_with_bank = EXCLUDED.pay_with_bank,
			supports_transfer = EXCLUDED.supports_transfer,
			active = EXCLUDED.active,
			country = EXCLUDED.country,
			currency = EXCLUDED.currency,
			type = EXCLUDED.type,
			updated_at = NOW()
	`
	upserted := 0
	for _, b := range banks {
		if b.Code == "" {
			continue
		}
		if _, err := tx.Exec(ctx, query, b.ID, b.Name, b.Slug, b.Code, b.LongCode, b.PayWithBank, b.SupportsTransfer, b.Active, b.Country, b.Currency, b.Type); err != nil {
			return 0, err
		}
		upserted++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return upserted, nil
}

// ListBanks returns active banks ordered by name.
func (r *PostgresRepository) ListBanks(ctx context.Context) ([]domain.Bank, error) {
	rows, err := r.db.Query(ctx, `SELECT `+bankColumns+` FROM banks WHERE active ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	banks := make([]domain.Bank, 0)
	for rows.Next() {
		b, err := scanBank(rows)
		if err != nil {
			return nil, err
		}
		banks = append(banks, *b)
	}
	return banks, rows.Err()
}

// FindBankByCode returns the catalog entry for code.
func (r *PostgresRepository) FindBankByCode(ctx context.Context, code string) (*domain.Bank, error) {
	b, err := scanBank(r.db.QueryRow(ctx, `SELECT `+bankColumns+` FROM banks WHERE code = $1`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBankNotFound
		}
		return nil, err
	}
	return b, nil
}

// FindUserByID reads the user record maintained by the registration flow.
func (r *PostgresRepository) FindUserByID(ctx context.Context, userID uuid.UUID) (*domain.User, error) {
	var u domain.User
	err := r.db.QueryRow(ctx, `SELECT id, email, first_name, last_name FROM users WHERE id = $1`, userID).
		Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}
