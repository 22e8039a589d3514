package userstats

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrStatsNotFound = errors.New("bidder stats not found")

// BidderStats is a per-bidder read model folded from bid ledger events.
type BidderStats struct {
	UserID         uuid.UUID  `db:"user_id"`
	BidsPlaced     int64      `db:"bids_placed"`
	TotalAmountBid int64      `db:"total_amount_bid"`
	TotalCharged   int64      `db:"total_charged"`
	TimesOutbid    int64      `db:"times_outbid"`
	TotalRefunded  int64      `db:"total_refunded"`
	AuctionsWon    int64      `db:"auctions_won"`
	TotalWonAmount int64      `db:"total_won_amount"`
	LastBidAt      *time.Time `db:"last_bid_at"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"`
}

// BidPlacedEvent is a bid.placed message.
type BidPlacedEvent struct {
	EventID       uuid.UUID
	BidderID      uuid.UUID
	Amount        int64
	AmountCharged int64
	OccurredAt    time.Time
}

// BidOutbidEvent is a bid.outbid message. Refunded is what the bidder got back.
type BidOutbidEvent struct {
	EventID    uuid.UUID
	BidderID   uuid.UUID
	Refunded   int64
	OccurredAt time.Time
}

// AuctionClosedEvent is an auction.closed message.
type AuctionClosedEvent struct {
	EventID       uuid.UUID
	WinnerID      uuid.UUID
	WinningAmount int64
	OccurredAt    time.Time
}
