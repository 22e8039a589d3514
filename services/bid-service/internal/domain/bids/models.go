package bids

import (
	"bytes"
	"slices"
	"time"

	"github.com/google/uuid"
)

// BidStatus is the lifecycle state of a bid
type BidStatus string

const (
	BidStatusPending BidStatus = "pending"
	BidStatusActive  BidStatus = "active"
	BidStatusOutbid  BidStatus = "outbid"
	BidStatusWinner  BidStatus = "winner"
)

// IsStanding reports whether the bid still competes for the lot.
func (s BidStatus) IsStanding() bool {
	return s == BidStatusPending || s == BidStatusActive
}

// IsTerminal reports whether the bid can no longer change.
func (s BidStatus) IsTerminal() bool {
	return s == BidStatusOutbid || s == BidStatusWinner
}

// Bid represents an auction bid. AuctionTitle is display metadata only.
type Bid struct {
	ID            uuid.UUID `db:"id" json:"id"`
	AuctionID     string    `db:"auction_id" json:"auctionId"`
	AuctionTitle  string    `db:"auction_title" json:"auctionTitle"`
	BidderID      uuid.UUID `db:"bidder_id" json:"bidderId"`
	Amount        int64     `db:"amount" json:"amount"`
	AmountCharged int64     `db:"amount_charged" json:"amountCharged"`
	Status        BidStatus `db:"status" json:"status"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time `db:"updated_at" json:"updatedAt"`
}

// SortStanding orders bids by amount desc, then newest first. Ties fall
// back to the id so the order is total.
func SortStanding(bids []*Bid) {
	slices.SortStableFunc(bids, func(a, b *Bid) int {
		switch {
		case a.Amount != b.Amount:
			if a.Amount > b.Amount {
				return -1
			}
			return 1
		case !a.CreatedAt.Equal(b.CreatedAt):
			if a.CreatedAt.After(b.CreatedAt) {
				return -1
			}
			return 1
		default:
			return bytes.Compare(a.ID[:], b.ID[:])
		}
	})
}

// PlaceBidCommand is a request to bid on a lot.
type PlaceBidCommand struct {
	AuctionID        string
	AuctionTitle     string
	BidderID         uuid.UUID
	Amount           int64
	RequiresApproval bool
	// IdempotencyKey makes retries safe when set.
	IdempotencyKey string
}

// PlaceBidResult is the outcome of PlaceBid.
type PlaceBidResult struct {
	Bid           *Bid
	NewBalance    int64
	AmountCharged int64
	// Replayed is true when the key matched an earlier placement.
	Replayed bool
}

// Placement records which bid an idempotency key produced.
type Placement struct {
	BidderID       uuid.UUID `db:"bidder_id"`
	IdempotencyKey string    `db:"idempotency_key"`
	AuctionID      string    `db:"auction_id"`
	BidID          uuid.UUID `db:"bid_id"`
	CreatedAt      time.Time `db:"created_at"`
}

// CloseAuctionResult describes the resolved winner.
type CloseAuctionResult struct {
	AuctionID      string
	WinnerBidID    uuid.UUID
	WinnerID       uuid.UUID
	WinnerUsername string
	WinningAmount  int64
	Demoted        []uuid.UUID
	DemotedBidders []uuid.UUID
	AlreadyClosed  bool
}
