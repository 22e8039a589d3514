package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/floroz/bidledger/services/user-stats-service/internal/domain/userstats"
)

type BidderStatsRepository struct {
	pool *pgxpool.Pool
}

func NewBidderStatsRepository(pool *pgxpool.Pool) *BidderStatsRepository {
	return &BidderStatsRepository{pool: pool}
}

// ApplyBidPlaced counts the bid and what it charged. last_bid_at only moves forward.
func (r *BidderStatsRepository) ApplyBidPlaced(ctx context.Context, tx pgx.Tx, event userstats.BidPlacedEvent) error {
	query := `
		INSERT INTO bidder_stats (user_id, bids_placed, total_amount_bid, total_charged, last_bid_at, created_at, updated_at)
		VALUES ($1, 1, $2, $3, $4, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			bids_placed = bidder_stats.bids_placed + 1,
			total_amount_bid = bidder_stats.total_amount_bid + EXCLUDED.total_amount_bid,
			total_charged = bidder_stats.total_charged + EXCLUDED.total_charged,
			last_bid_at = GREATEST(bidder_stats.last_bid_at, EXCLUDED.last_bid_at),
			updated_at = NOW()
	`
	_, err := tx.Exec(ctx, query,
		event.BidderID,      // $1
		event.Amount,        // $2
		event.AmountCharged, // $3
		event.OccurredAt,    // $4
	)
	if err != nil {
		return fmt.Errorf("failed to apply bid placed: %w", err)
	}
	return nil
}

func (r *BidderStatsRepository) ApplyBidOutbid(ctx context.Context, tx pgx.Tx, event userstats.BidOutbidEvent) error {
	query := `
		INSERT INTO bidder_stats (user_id, times_outbid, total_refunded, created_at, updated_at)
		VALUES ($1, 1, $2, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			times_outbid = bidder_stats.times_outbid + 1,
			total_refunded = bidder_stats.total_refunded + EXCLUDED.total_refunded,
			updated_at = NOW()
	`
	if _, err := tx.Exec(ctx, query, event.BidderID, event.Refunded); err != nil {
		return fmt.Errorf("failed to apply bid outbid: %w", err)
	}
	return nil
}

func (r *BidderStatsRepository) ApplyAuctionWon(ctx context.Context, tx pgx.Tx, event userstats.AuctionClosedEvent) error {
	query := `
		INSERT INTO bidder_stats (user_id, auctions_won, total_won_amount, created_at, updated_at)
		VALUES ($1, 1, $2, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			auctions_won = bidder_stats.auctions_won + 1,
			total_won_amount = bidder_stats.total_won_amount + EXCLUDED.total_won_amount,
			updated_at = NOW()
	`
	if _, err := tx.Exec(ctx, query, event.WinnerID, event.WinningAmount); err != nil {
		return fmt.Errorf("failed to apply auction won: %w", err)
	}
	return nil
}

func (r *BidderStatsRepository) GetBidderStats(ctx context.Context, userID uuid.UUID) (*userstats.BidderStats, error) {
	query := `
		SELECT user_id, bids_placed, total_amount_bid, total_charged, times_outbid, total_refunded,
		       auctions_won, total_won_amount, last_bid_at, created_at, updated_at
		FROM bidder_stats
		WHERE user_id = $1
	`
	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get bidder stats: %w", err)
	}
	stats, err := pgx.CollectExactlyOneRow(rows, pgx.RowToAddrOfStructByName[userstats.BidderStats])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, userstats.ErrStatsNotFound
		}
		return nil, fmt.Errorf("failed to get bidder stats: %w", err)
	}
	return stats, nil
}

func (r *BidderStatsRepository) MarkEventProcessed(ctx context.Context, tx pgx.Tx, eventID uuid.UUID) error {
	query := `INSERT INTO processed_events (event_id) VALUES ($1)`
	_, err := tx.Exec(ctx, query, eventID)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	return nil
}

func (r *BidderStatsRepository) IsEventProcessed(ctx context.Context, tx pgx.Tx, eventID uuid.UUID) (bool, error) {
	query := `SELECT 1 FROM processed_events WHERE event_id = $1`
	var exists int
	err := tx.QueryRow(ctx, query, eventID).Scan(&exists)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check processed event: %w", err)
	}
	return true, nil
}
