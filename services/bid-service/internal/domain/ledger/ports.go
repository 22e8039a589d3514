package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AccountRepository persists account balances.
type AccountRepository interface {
	// GetAccount reads an account without locking it.
	GetAccount(ctx context.Context, id uuid.UUID) (*Account, error)

	// GetAccountsForUpdate locks the given rows in ascending id order.
	// Must be called within a transaction.
	GetAccountsForUpdate(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) ([]*Account, error)

	// UpdateCredits stores the new cached balance.
	UpdateCredits(ctx context.Context, tx pgx.Tx, id uuid.UUID, credits int64) error

	// UpsertAccount creates the account or refreshes its profile fields.
	// Credits are never touched.
	UpsertAccount(ctx context.Context, cmd SyncAccountCommand) (*Account, error)
}

// AdjustmentRepository persists ledger entries.
type AdjustmentRepository interface {
	// SaveAdjustment appends an entry. Returns ErrDuplicateAdjustment when
	// the same cause was already recorded for the account.
	SaveAdjustment(ctx context.Context, tx pgx.Tx, adj *Adjustment) error

	// ListAdjustments returns the newest entries first.
	ListAdjustments(ctx context.Context, accountID uuid.UUID, limit int) ([]*Adjustment, error)

	// SumDeltas folds every entry of the account.
	SumDeltas(ctx context.Context, accountID uuid.UUID) (int64, error)
}
