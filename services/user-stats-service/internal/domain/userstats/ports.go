package userstats

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository persists bidder stats and the set of processed event ids.
type Repository interface {
	IsEventProcessed(ctx context.Context, tx pgx.Tx, eventID uuid.UUID) (bool, error)
	MarkEventProcessed(ctx context.Context, tx pgx.Tx, eventID uuid.UUID) error

	ApplyBidPlaced(ctx context.Context, tx pgx.Tx, event BidPlacedEvent) error
	ApplyBidOutbid(ctx context.Context, tx pgx.Tx, event BidOutbidEvent) error
	ApplyAuctionWon(ctx context.Context, tx pgx.Tx, event AuctionClosedEvent) error

	GetBidderStats(ctx context.Context, userID uuid.UUID) (*BidderStats, error)
}
