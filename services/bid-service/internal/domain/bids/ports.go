package bids

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/floroz/bidledger/pkg/events"
	"github.com/floroz/bidledger/services/bid-service/internal/domain/ledger"
)

// BidRepository defines the interface for bid persistence
type BidRepository interface {
	// SaveBid saves a bid within a transaction
	SaveBid(ctx context.Context, tx pgx.Tx, bid *Bid) error

	// UpdateBidStatus moves a bid to status within a transaction
	UpdateBidStatus(ctx context.Context, tx pgx.Tx, bidID uuid.UUID, status BidStatus) error

	// GetBidByID retrieves a bid by its ID. Returns ErrBidNotFound.
	GetBidByID(ctx context.Context, bidID uuid.UUID) (*Bid, error)

	// GetBidByIDForUpdate retrieves and locks a bid. Returns ErrBidNotFound.
	GetBidByIDForUpdate(ctx context.Context, tx pgx.Tx, bidID uuid.UUID) (*Bid, error)

	// ListBidsByStatus reads the auction's bids in the given statuses inside tx
	ListBidsByStatus(ctx context.Context, tx pgx.Tx, auctionID string, statuses ...BidStatus) ([]*Bid, error)

	// ListAuctionBids returns standing bids, plus the winner when includeWinner is set
	ListAuctionBids(ctx context.Context, auctionID string, includeWinner bool) ([]*Bid, error)

	// GetHighestStandingBid returns nil when the auction has no standing bid
	GetHighestStandingBid(ctx context.Context, auctionID string) (*Bid, error)

	// ListBidderBids returns the bidder's bids, newest first
	ListBidderBids(ctx context.Context, bidderID uuid.UUID, limit int) ([]*Bid, error)

	// ListPendingBids returns bids awaiting moderation; empty auctionID means all auctions
	ListPendingBids(ctx context.Context, auctionID string) ([]*Bid, error)
}

// AuctionLocker serialises every mutation of one auction.
type AuctionLocker interface {
	// LockAuction blocks until tx holds the auction's lock. Released on commit or rollback.
	LockAuction(ctx context.Context, tx pgx.Tx, auctionID string) error
}

// PlacementRepository stores idempotency keys of PlaceBid.
type PlacementRepository interface {
	// GetPlacement returns nil, nil when the key is unused
	GetPlacement(ctx context.Context, tx pgx.Tx, bidderID uuid.UUID, key string) (*Placement, error)
	SavePlacement(ctx context.Context, tx pgx.Tx, placement *Placement) error
}

// OutboxRepository defines the interface for outbox event persistence
type OutboxRepository interface {
	// SaveEvent saves an outbox event within a transaction
	SaveEvent(ctx context.Context, tx pgx.Tx, event *events.OutboxEvent) error
}

// StandingCache is a read model of the highest standing bid per auction.
type StandingCache interface {
	// GetHighest reports ok=false on a cache miss
	GetHighest(ctx context.Context, auctionID string) (bid *Bid, ok bool, err error)
	// Generation is bumped by every Invalidate. Unset reads as 0.
	Generation(ctx context.Context, auctionID string) (int64, error)
	// SetHighest stores bid unless a higher one is already cached or the
	// auction was invalidated after gen was read
	SetHighest(ctx context.Context, bid *Bid, gen int64) error
	Invalidate(ctx context.Context, auctionID string) error
}

// CreditLedger is the subset of the ledger the bidding engine needs.
type CreditLedger interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error)
	LockAccounts(ctx context.Context, tx pgx.Tx, ids ...uuid.UUID) (map[uuid.UUID]*ledger.Account, error)
	Debit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64, kind ledger.AdjustmentKind, ref uuid.UUID) (*ledger.Adjustment, error)
	Credit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64, kind ledger.AdjustmentKind, ref uuid.UUID) (*ledger.Adjustment, error)
}
