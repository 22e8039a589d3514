package bids

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/floroz/bidledger/pkg/database"
)

const defaultListLimit = 100

// ListAuctionBids returns the standing bids of an auction, highest first.
func (s *AuctionService) ListAuctionBids(ctx context.Context, auctionID string, includeWinner bool) ([]*Bid, error) {
	auctionID = strings.TrimSpace(auctionID)
	if auctionID == "" {
		return nil, ErrInvalidAuction
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.bidRepo.ListAuctionBids(ctx, auctionID, includeWinner)
	if err != nil {
		return nil, database.Classify(fmt.Errorf("failed to list auction bids: %w", err))
	}
	SortStanding(result)
	return result, nil
}

// GetHighestBid returns the highest standing bid, or nil when there is none.
// The standing cache is consulted first and refilled on a miss.
func (s *AuctionService) GetHighestBid(ctx context.Context, auctionID string) (*Bid, error) {
	auctionID = strings.TrimSpace(auctionID)
	if auctionID == "" {
		return nil, ErrInvalidAuction
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if s.cache != nil {
		bid, ok, err := s.cache.GetHighest(ctx, auctionID)
		switch {
		case err != nil:
			s.logger.Warn("Standing cache read failed", "auction_id", auctionID, "error", err)
		case ok:
			return bid, nil
		}
	}

	// The generation is taken before the read so a moderation that lands
	// in between makes the refill a no-op.
	gen, genOK := s.cacheGeneration(ctx, auctionID)

	bid, err := s.bidRepo.GetHighestStandingBid(ctx, auctionID)
	if err != nil {
		return nil, database.Classify(fmt.Errorf("failed to get highest bid: %w", err))
	}
	if bid != nil && genOK {
		s.cacheHighest(ctx, bid, gen)
	}
	return bid, nil
}

// ListBidderBids returns a bidder's bids across auctions, newest first.
func (s *AuctionService) ListBidderBids(ctx context.Context, bidderID uuid.UUID, limit int) ([]*Bid, error) {
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.bidRepo.ListBidderBids(ctx, bidderID, limit)
	if err != nil {
		return nil, database.Classify(fmt.Errorf("failed to list bidder bids: %w", err))
	}
	return result, nil
}

// ListPendingBids returns bids awaiting moderation, optionally for one auction.
func (s *AuctionService) ListPendingBids(ctx context.Context, auctionID string) ([]*Bid, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.bidRepo.ListPendingBids(ctx, strings.TrimSpace(auctionID))
	if err != nil {
		return nil, database.Classify(fmt.Errorf("failed to list pending bids: %w", err))
	}
	return result, nil
}
