package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// PostgresAuctionLocker serialises work per auction with transaction-scoped
// advisory locks. Lots live outside this database, so there is no row to lock.
type PostgresAuctionLocker struct{}

// NewPostgresAuctionLocker creates a new advisory lock based locker
func NewPostgresAuctionLocker() *PostgresAuctionLocker {
	return &PostgresAuctionLocker{}
}

// LockAuction waits for the auction's lock, bounded by the transaction's lock_timeout
func (l *PostgresAuctionLocker) LockAuction(ctx context.Context, tx pgx.Tx, auctionID string) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, auctionID); err != nil {
		return fmt.Errorf("failed to acquire auction lock: %w", err)
	}
	return nil
}
