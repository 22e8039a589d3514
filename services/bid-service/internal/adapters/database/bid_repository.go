package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	pkgdb "github.com/floroz/bidledger/pkg/database"
	"github.com/floroz/bidledger/services/bid-service/internal/domain/bids"
)

const bidColumns = `id, auction_id, auction_title, bidder_id, amount, amount_charged, status, created_at, updated_at`

// PostgresBidRepository implements bids.BidRepository using pgx
type PostgresBidRepository struct {
	pool *pgxpool.Pool // Keep pool for read-only operations
}

// NewPostgresBidRepository creates a new PostgreSQL bid repository
func NewPostgresBidRepository(pool *pgxpool.Pool) *PostgresBidRepository {
	return &PostgresBidRepository{pool: pool}
}

// SaveBid saves a bid within a transaction
func (r *PostgresBidRepository) SaveBid(ctx context.Context, tx pgx.Tx, bid *bids.Bid) error {
	query := `
		INSERT INTO bids (` + bidColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := tx.Exec(ctx, query,
		bid.ID,
		bid.AuctionID,
		bid.AuctionTitle,
		bid.BidderID,
		bid.Amount,
		bid.AmountCharged,
		bid.Status,
		bid.CreatedAt,
		bid.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert bid: %w", err)
	}
	return nil
}

// UpdateBidStatus moves a bid to a new status
func (r *PostgresBidRepository) UpdateBidStatus(ctx context.Context, tx pgx.Tx, bidID uuid.UUID, status bids.BidStatus) error {
	result, err := tx.Exec(ctx, `UPDATE bids SET status = $1, updated_at = NOW() WHERE id = $2`, status, bidID)
	if err != nil {
		return fmt.Errorf("failed to update bid status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return bids.ErrBidNotFound
	}
	return nil
}

// GetBidByID retrieves a bid by its ID
func (r *PostgresBidRepository) GetBidByID(ctx context.Context, bidID uuid.UUID) (*bids.Bid, error) {
	return r.getBid(ctx, r.pool, bidID, false)
}

// GetBidByIDForUpdate retrieves a bid and locks its row
func (r *PostgresBidRepository) GetBidByIDForUpdate(ctx context.Context, tx pgx.Tx, bidID uuid.UUID) (*bids.Bid, error) {
	return r.getBid(ctx, tx, bidID, true)
}

func (r *PostgresBidRepository) getBid(ctx context.Context, db pkgdb.DBTX, bidID uuid.UUID, forUpdate bool) (*bids.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	rows, err := db.Query(ctx, query, bidID)
	if err != nil {
		return nil, fmt.Errorf("failed to get bid: %w", err)
	}
	bid, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[bids.Bid])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, bids.ErrBidNotFound
		}
		return nil, fmt.Errorf("failed to get bid: %w", err)
	}
	return bid, nil
}

// ListBidsByStatus reads the auction's bids in the given statuses, highest first
func (r *PostgresBidRepository) ListBidsByStatus(ctx context.Context, tx pgx.Tx, auctionID string, statuses ...bids.BidStatus) ([]*bids.Bid, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	query := `
		SELECT ` + bidColumns + `
		FROM bids
		WHERE auction_id = $1 AND status = ANY($2)
		ORDER BY amount DESC, created_at DESC
	`
	return r.collect(ctx, tx, query, auctionID, names)
}

// ListAuctionBids returns standing bids and optionally the winner
func (r *PostgresBidRepository) ListAuctionBids(ctx context.Context, auctionID string, includeWinner bool) ([]*bids.Bid, error) {
	statuses := []string{string(bids.BidStatusActive), string(bids.BidStatusPending)}
	if includeWinner {
		statuses = append(statuses, string(bids.BidStatusWinner))
	}
	query := `
		SELECT ` + bidColumns + `
		FROM bids
		WHERE auction_id = $1 AND status = ANY($2)
		ORDER BY amount DESC, created_at DESC
	`
	return r.collect(ctx, r.pool, query, auctionID, statuses)
}

// GetHighestStandingBid returns nil when the auction has no standing bid
func (r *PostgresBidRepository) GetHighestStandingBid(ctx context.Context, auctionID string) (*bids.Bid, error) {
	query := `
		SELECT ` + bidColumns + `
		FROM bids
		WHERE auction_id = $1 AND status IN ('active', 'pending')
		ORDER BY amount DESC, created_at DESC
		LIMIT 1
	`
	result, err := r.collect(ctx, r.pool, query, auctionID)
	if err != nil || len(result) == 0 {
		return nil, err
	}
	return result[0], nil
}

// ListBidderBids returns the bidder's bids, newest first
func (r *PostgresBidRepository) ListBidderBids(ctx context.Context, bidderID uuid.UUID, limit int) ([]*bids.Bid, error) {
	query := `
		SELECT ` + bidColumns + `
		FROM bids
		WHERE bidder_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	return r.collect(ctx, r.pool, query, bidderID, limit)
}

// ListPendingBids returns bids awaiting moderation, oldest first
func (r *PostgresBidRepository) ListPendingBids(ctx context.Context, auctionID string) ([]*bids.Bid, error) {
	query := `
		SELECT ` + bidColumns + `
		FROM bids
		WHERE status = 'pending' AND ($1 = '' OR auction_id = $1)
		ORDER BY created_at ASC
	`
	return r.collect(ctx, r.pool, query, auctionID)
}

func (r *PostgresBidRepository) collect(ctx context.Context, db pkgdb.DBTX, query string, args ...any) ([]*bids.Bid, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bids: %w", err)
	}
	result, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[bids.Bid])
	if err != nil {
		return nil, fmt.Errorf("failed to scan bids: %w", err)
	}
	return result, nil
}
