package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/floroz/bidledger/services/bid-service/internal/domain/bids"
)

// PostgresPlacementRepository stores PlaceBid idempotency keys
type PostgresPlacementRepository struct{}

// NewPostgresPlacementRepository creates a new placement repository
func NewPostgresPlacementRepository() *PostgresPlacementRepository {
	return &PostgresPlacementRepository{}
}

// GetPlacement returns nil, nil when the key was never used
func (r *PostgresPlacementRepository) GetPlacement(ctx context.Context, tx pgx.Tx, bidderID uuid.UUID, key string) (*bids.Placement, error) {
	query := `
		SELECT bidder_id, idempotency_key, auction_id, bid_id, created_at
		FROM bid_placements
		WHERE bidder_id = $1 AND idempotency_key = $2
	`
	rows, err := tx.Query(ctx, query, bidderID, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get placement: %w", err)
	}
	placement, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[bids.Placement])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get placement: %w", err)
	}
	return placement, nil
}

// SavePlacement records the key. A concurrent use of the same key fails
// with a unique violation.
func (r *PostgresPlacementRepository) SavePlacement(ctx context.Context, tx pgx.Tx, p *bids.Placement) error {
	query := `
		INSERT INTO bid_placements (bidder_id, idempotency_key, auction_id, bid_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := tx.Exec(ctx, query, p.BidderID, p.IdempotencyKey, p.AuctionID, p.BidID, p.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert placement: %w", err)
	}
	return nil
}
