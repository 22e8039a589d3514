package events

import (
	"fmt"
	"maps"
	"strconv"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// EventType represents the type of domain event. It doubles as the routing key.
type EventType string

const (
	EventTypeBidPlaced             EventType = "bid.placed"
	EventTypeBidOutbid             EventType = "bid.outbid"
	EventTypeBidApproved           EventType = "bid.approved"
	EventTypeBidRejected           EventType = "bid.rejected"
	EventTypeAuctionClosed         EventType = "auction.closed"
	EventTypeCreditRequestCreated  EventType = "credit_request.created"
	EventTypeCreditRequestApproved EventType = "credit_request.approved"
	EventTypeCreditRequestRejected EventType = "credit_request.rejected"
)

// String returns the string representation of the event type
func (e EventType) String() string {
	return string(e)
}

// IsValid checks if the event type is valid
func (e EventType) IsValid() bool {
	switch e {
	case EventTypeBidPlaced, EventTypeBidOutbid, EventTypeBidApproved, EventTypeBidRejected,
		EventTypeAuctionClosed, EventTypeCreditRequestCreated, EventTypeCreditRequestApproved,
		EventTypeCreditRequestRejected:
		return true
	default:
		return false
	}
}

// Envelope keys present on every payload.
const (
	FieldEventID    = "event_id"
	FieldEventType  = "event_type"
	FieldOccurredAt = "occurred_at"
)

// Bid ledger payload fields shared by producers and consumers.
const (
	FieldBidID          = "bid_id"
	FieldAuctionID      = "auction_id"
	FieldAuctionTitle   = "auction_title"
	FieldBidderID       = "bidder_id"
	FieldAmount         = "amount"
	FieldAmountCharged  = "amount_charged"
	FieldStatus         = "status"
	FieldOutbidBidID    = "outbid_bid_id"
	FieldOutbidByBidID  = "outbid_by_bid_id"
	FieldRefunded       = "refunded"
	FieldWinnerBidID    = "winner_bid_id"
	FieldWinnerID       = "winner_id"
	FieldWinningAmount  = "winning_amount"
	FieldDemotedCount   = "demoted_count"
	FieldDemotedBidIDs  = "demoted_bid_ids"
	FieldDemotedBidders = "demoted_bidder_ids"
)

// NewOutboxEvent encodes fields as a protobuf Struct and wraps them in a
// pending outbox event. Field values must be types structpb accepts
// (strings, numbers, bools, nested maps and slices). Top-level integers
// are stored as decimal strings since Struct numbers are float64.
func NewOutboxEvent(eventType EventType, occurredAt time.Time, fields map[string]any) (*OutboxEvent, error) {
	if !eventType.IsValid() {
		return nil, fmt.Errorf("unknown event type %q", eventType)
	}

	id := uuid.New()
	body := make(map[string]any, len(fields)+3)
	maps.Copy(body, fields)
	for key, v := range body {
		switch n := v.(type) {
		case int64:
			body[key] = strconv.FormatInt(n, 10)
		case int:
			body[key] = strconv.Itoa(n)
		}
	}
	body[FieldEventID] = id.String()
	body[FieldEventType] = eventType.String()
	body[FieldOccurredAt] = occurredAt.UTC().Format(time.RFC3339Nano)

	msg, err := structpb.NewStruct(body)
	if err != nil {
		return nil, fmt.Errorf("failed to build %s payload: %w", eventType, err)
	}

	payload, err := proto.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", eventType, err)
	}

	return &OutboxEvent{
		ID:        id,
		EventType: eventType,
		Payload:   payload,
		Status:    OutboxStatusPending,
		CreatedAt: occurredAt,
	}, nil
}

// Payload is a decoded event body.
type Payload struct {
	msg *structpb.Struct
}

// DecodePayload parses a body produced by NewOutboxEvent.
func DecodePayload(body []byte) (*Payload, error) {
	var msg structpb.Struct
	if err := proto.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}
	return &Payload{msg: &msg}, nil
}

func (p *Payload) value(key string) *structpb.Value {
	return p.msg.GetFields()[key]
}

// Has reports whether key is present.
func (p *Payload) Has(key string) bool {
	return p.value(key) != nil
}

// String returns the string value at key or "".
func (p *Payload) String(key string) string {
	return p.value(key).GetStringValue()
}

// Int64 returns the integer at key, or 0 when it is missing or malformed.
// Plain numbers are accepted and truncated.
func (p *Payload) Int64(key string) int64 {
	v := p.value(key)
	if s, ok := v.GetKind().(*structpb.Value_StringValue); ok {
		n, err := strconv.ParseInt(s.StringValue, 10, 64)
		if err != nil {
			return 0
		}
		return n
	}
	return int64(v.GetNumberValue())
}

// Bool returns the bool value at key.
func (p *Payload) Bool(key string) bool {
	return p.value(key).GetBoolValue()
}

// UUID parses the string value at key as a uuid.
func (p *Payload) UUID(key string) (uuid.UUID, error) {
	id, err := uuid.Parse(p.String(key))
	if err != nil {
		return uuid.Nil, fmt.Errorf("field %s: %w", key, err)
	}
	return id, nil
}

// Time parses the RFC3339 string value at key.
func (p *Payload) Time(key string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, p.String(key))
	if err != nil {
		return time.Time{}, fmt.Errorf("field %s: %w", key, err)
	}
	return ts, nil
}

// EventID returns the envelope event id.
func (p *Payload) EventID() (uuid.UUID, error) {
	return p.UUID(FieldEventID)
}

// EventType returns the envelope event type.
func (p *Payload) EventType() EventType {
	return EventType(p.String(FieldEventType))
}
