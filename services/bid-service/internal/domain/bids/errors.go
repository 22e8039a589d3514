package bids

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAuction      = errors.New("auction id is required")
	ErrInvalidAmount       = errors.New("bid amount must be positive")
	ErrBidTooLow           = errors.New("bid amount must be higher than current highest bid")
	ErrUnverified          = errors.New("account must be verified to bid")
	ErrAuctionClosed       = errors.New("auction already has a winner")
	ErrBidNotFound         = errors.New("bid not found")
	ErrInvalidState        = errors.New("bid is not pending")
	ErrNoActiveBids        = errors.New("no active bids to resolve")
	ErrIdempotencyConflict = errors.New("idempotency key already used for another auction")
)

// BidTooLowError carries the amount a new bid has to beat.
type BidTooLowError struct {
	Minimum int64
}

func (e *BidTooLowError) Error() string {
	return fmt.Sprintf("bid must exceed $%d", e.Minimum)
}

func (e *BidTooLowError) Unwrap() error {
	return ErrBidTooLow
}
