package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	pkgdb "github.com/floroz/bidledger/pkg/database"
	"github.com/floroz/bidledger/services/bid-service/internal/domain/ledger"
)

const adjustmentCauseConstraint = "credit_adjustments_cause_key"

// PostgresAdjustmentRepository implements ledger.AdjustmentRepository using pgx
type PostgresAdjustmentRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresAdjustmentRepository creates a new PostgreSQL ledger repository
func NewPostgresAdjustmentRepository(pool *pgxpool.Pool) *PostgresAdjustmentRepository {
	return &PostgresAdjustmentRepository{pool: pool}
}

// SaveAdjustment appends a ledger entry
func (r *PostgresAdjustmentRepository) SaveAdjustment(ctx context.Context, tx pgx.Tx, adj *ledger.Adjustment) error {
	query := `
		INSERT INTO credit_adjustments (id, account_id, kind, delta, reference_id, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := tx.Exec(ctx, query,
		adj.ID,
		adj.AccountID,
		adj.Kind,
		adj.Delta,
		adj.ReferenceID,
		adj.BalanceAfter,
		adj.CreatedAt,
	)
	if err != nil {
		if pkgdb.IsUniqueViolation(err, adjustmentCauseConstraint) {
			return ledger.ErrDuplicateAdjustment
		}
		return fmt.Errorf("failed to insert adjustment: %w", err)
	}
	return nil
}

// ListAdjustments returns the newest entries first
func (r *PostgresAdjustmentRepository) ListAdjustments(ctx context.Context, accountID uuid.UUID, limit int) ([]*ledger.Adjustment, error) {
	query := `
		SELECT id, account_id, kind, delta, reference_id, balance_after, created_at
		FROM credit_adjustments
		WHERE account_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query adjustments: %w", err)
	}
	result, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[ledger.Adjustment])
	if err != nil {
		return nil, fmt.Errorf("failed to scan adjustments: %w", err)
	}
	return result, nil
}

// SumDeltas folds every entry of the account
func (r *PostgresAdjustmentRepository) SumDeltas(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(delta), 0)::BIGINT FROM credit_adjustments WHERE account_id = $1`,
		accountID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("failed to sum adjustments: %w", err)
	}
	return sum, nil
}
