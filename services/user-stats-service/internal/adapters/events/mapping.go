package events

import (
	"fmt"

	"github.com/google/uuid"

	pkgevents "github.com/floroz/bidledger/pkg/events"
	"github.com/floroz/bidledger/services/user-stats-service/internal/domain/userstats"
)

// ids parses the envelope event id plus one more id field.
func ids(p *pkgevents.Payload, key string) (eventID, id uuid.UUID, err error) {
	if eventID, err = p.EventID(); err != nil {
		return uuid.Nil, uuid.Nil, malformed(p, err)
	}
	if id, err = p.UUID(key); err != nil {
		return uuid.Nil, uuid.Nil, malformed(p, err)
	}
	return eventID, id, nil
}

func malformed(p *pkgevents.Payload, err error) error {
	return fmt.Errorf("%w: %s: %w", errMalformed, p.EventType(), err)
}

func toBidPlaced(p *pkgevents.Payload) (userstats.BidPlacedEvent, error) {
	eventID, bidderID, err := ids(p, pkgevents.FieldBidderID)
	if err != nil {
		return userstats.BidPlacedEvent{}, err
	}
	at, err := p.Time(pkgevents.FieldOccurredAt)
	if err != nil {
		return userstats.BidPlacedEvent{}, malformed(p, err)
	}
	return userstats.BidPlacedEvent{
		EventID:       eventID,
		BidderID:      bidderID,
		Amount:        p.Int64(pkgevents.FieldAmount),
		AmountCharged: p.Int64(pkgevents.FieldAmountCharged),
		OccurredAt:    at,
	}, nil
}

func toBidOutbid(p *pkgevents.Payload) (userstats.BidOutbidEvent, error) {
	eventID, bidderID, err := ids(p, pkgevents.FieldBidderID)
	if err != nil {
		return userstats.BidOutbidEvent{}, err
	}
	at, err := p.Time(pkgevents.FieldOccurredAt)
	if err != nil {
		return userstats.BidOutbidEvent{}, malformed(p, err)
	}
	return userstats.BidOutbidEvent{
		EventID:    eventID,
		BidderID:   bidderID,
		Refunded:   p.Int64(pkgevents.FieldRefunded),
		OccurredAt: at,
	}, nil
}

func toAuctionClosed(p *pkgevents.Payload) (userstats.AuctionClosedEvent, error) {
	eventID, winnerID, err := ids(p, pkgevents.FieldWinnerID)
	if err != nil {
		return userstats.AuctionClosedEvent{}, err
	}
	at, err := p.Time(pkgevents.FieldOccurredAt)
	if err != nil {
		return userstats.AuctionClosedEvent{}, malformed(p, err)
	}
	return userstats.AuctionClosedEvent{
		EventID:       eventID,
		WinnerID:      winnerID,
		WinningAmount: p.Int64(pkgevents.FieldWinningAmount),
		OccurredAt:    at,
	}, nil
}
