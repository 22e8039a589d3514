package bids

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/floroz/bidledger/pkg/database"
	"github.com/floroz/bidledger/pkg/events"
)

type pendingEvent struct {
	eventType  events.EventType
	occurredAt time.Time
	fields     map[string]any
}

func bidFields(bid *Bid) map[string]any {
	return map[string]any{
		events.FieldBidID:         bid.ID.String(),
		events.FieldAuctionID:     bid.AuctionID,
		events.FieldAuctionTitle:  bid.AuctionTitle,
		events.FieldBidderID:      bid.BidderID.String(),
		events.FieldAmount:        bid.Amount,
		events.FieldAmountCharged: bid.AmountCharged,
		events.FieldStatus:        string(bid.Status),
	}
}

func bidPlacedEvent(bid, outbid *Bid, at time.Time) pendingEvent {
	fields := bidFields(bid)
	if outbid != nil {
		fields[events.FieldOutbidBidID] = outbid.ID.String()
	}
	return pendingEvent{eventType: events.EventTypeBidPlaced, occurredAt: at, fields: fields}
}

func bidOutbidEvent(outbid, by *Bid, at time.Time) pendingEvent {
	fields := bidFields(outbid)
	fields[events.FieldStatus] = string(BidStatusOutbid)
	fields[events.FieldOutbidByBidID] = by.ID.String()
	fields[events.FieldRefunded] = outbid.Amount
	return pendingEvent{eventType: events.EventTypeBidOutbid, occurredAt: at, fields: fields}
}

func bidModeratedEvent(bid *Bid, rejected bool, at time.Time) pendingEvent {
	fields := bidFields(bid)
	eventType := events.EventTypeBidApproved
	if rejected {
		eventType = events.EventTypeBidRejected
		fields[events.FieldRefunded] = bid.AmountCharged
	}
	return pendingEvent{eventType: eventType, occurredAt: at, fields: fields}
}

func auctionClosedEvent(result *CloseAuctionResult, at time.Time) pendingEvent {
	demoted := make([]any, 0, len(result.Demoted))
	for _, id := range result.Demoted {
		demoted = append(demoted, id.String())
	}
	bidders := make([]any, 0, len(result.DemotedBidders))
	for _, id := range result.DemotedBidders {
		bidders = append(bidders, id.String())
	}
	return pendingEvent{
		eventType:  events.EventTypeAuctionClosed,
		occurredAt: at,
		fields: map[string]any{
			events.FieldAuctionID:      result.AuctionID,
			events.FieldWinnerBidID:    result.WinnerBidID.String(),
			events.FieldWinnerID:       result.WinnerID.String(),
			events.FieldWinningAmount:  result.WinningAmount,
			events.FieldDemotedCount:   int64(len(result.Demoted)),
			events.FieldDemotedBidIDs:  demoted,
			events.FieldDemotedBidders: bidders,
		},
	}
}

func (s *AuctionService) saveEvent(ctx context.Context, tx pgx.Tx, e pendingEvent) error {
	event, err := events.NewOutboxEvent(e.eventType, e.occurredAt, e.fields)
	if err != nil {
		return fmt.Errorf("failed to build %s event: %w", e.eventType, err)
	}
	if err := s.outboxRepo.SaveEvent(ctx, tx, event); err != nil {
		return database.Classify(fmt.Errorf("failed to save outbox event: %w", err))
	}
	return nil
}
