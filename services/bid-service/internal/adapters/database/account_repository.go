package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/floroz/bidledger/services/bid-service/internal/domain/ledger"
)

const accountColumns = `id, username, verified, credits, created_at, updated_at`

// PostgresAccountRepository implements ledger.AccountRepository using pgx
type PostgresAccountRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresAccountRepository creates a new PostgreSQL account repository
func NewPostgresAccountRepository(pool *pgxpool.Pool) *PostgresAccountRepository {
	return &PostgresAccountRepository{pool: pool}
}

// GetAccount reads an account without locking it
func (r *PostgresAccountRepository) GetAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	acc, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[ledger.Account])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ledger.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acc, nil
}

// GetAccountsForUpdate locks the rows in ascending id order
func (r *PostgresAccountRepository) GetAccountsForUpdate(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) ([]*ledger.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE id = ANY($1)
		ORDER BY id
		FOR UPDATE
	`
	rows, err := tx.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to lock accounts: %w", err)
	}
	result, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[ledger.Account])
	if err != nil {
		return nil, fmt.Errorf("failed to scan accounts: %w", err)
	}
	return result, nil
}

// UpdateCredits stores the cached balance. The CHECK constraint rejects negatives.
func (r *PostgresAccountRepository) UpdateCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, credits int64) error {
	result, err := tx.Exec(ctx, `UPDATE accounts SET credits = $1, updated_at = NOW() WHERE id = $2`, credits, id)
	if err != nil {
		return fmt.Errorf("failed to update credits: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ledger.ErrAccountNotFound
	}
	return nil
}

// UpsertAccount creates the account or refreshes its profile
func (r *PostgresAccountRepository) UpsertAccount(ctx context.Context, cmd ledger.SyncAccountCommand) (*ledger.Account, error) {
	query := `
		INSERT INTO accounts (id, username, verified, credits, created_at, updated_at)
		VALUES ($1, $2, $3, 0, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE SET
			username = EXCLUDED.username,
			verified = EXCLUDED.verified,
			updated_at = NOW()
		RETURNING ` + accountColumns
	rows, err := r.pool.Query(ctx, query, cmd.ID, cmd.Username, cmd.Verified)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert account: %w", err)
	}
	acc, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[ledger.Account])
	if err != nil {
		return nil, fmt.Errorf("failed to upsert account: %w", err)
	}
	return acc, nil
}
