package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	amqp "github.com/rabbitmq/amqp091-go"

	pkgevents "github.com/floroz/bidledger/pkg/events"
	"github.com/floroz/bidledger/services/user-stats-service/internal/domain/userstats"
)

const QueueName = "user_stats_bids"

// RoutingKeys are the events folded into bidder stats.
var RoutingKeys = []pkgevents.EventType{
	pkgevents.EventTypeBidPlaced,
	pkgevents.EventTypeBidOutbid,
	pkgevents.EventTypeAuctionClosed,
}

var eventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "user_stats_events_consumed_total",
	Help: "Deliveries handled by the stats consumer by outcome.",
}, []string{"routing_key", "outcome"})

// errMalformed marks deliveries that can never be processed.
var errMalformed = errors.New("malformed event")

// StatsProcessor applies decoded events to the stats read model.
type StatsProcessor interface {
	ProcessBidPlaced(ctx context.Context, event userstats.BidPlacedEvent) error
	ProcessBidOutbid(ctx context.Context, event userstats.BidOutbidEvent) error
	ProcessAuctionClosed(ctx context.Context, event userstats.AuctionClosedEvent) error
}

// BidConsumer consumes bid ledger events and updates bidder statistics
type BidConsumer struct {
	conn      *amqp.Connection
	processor StatsProcessor
	exchange  string
	logger    *slog.Logger
}

// NewBidConsumer creates a new bid consumer
func NewBidConsumer(conn *amqp.Connection, processor StatsProcessor, exchange string, logger *slog.Logger) *BidConsumer {
	if exchange == "" {
		exchange = pkgevents.DefaultExchange
	}
	return &BidConsumer{
		conn:      conn,
		processor: processor,
		exchange:  exchange,
		logger:    logger,
	}
}

// Run starts the consumer loop. It returns nil once ctx is cancelled.
func (c *BidConsumer) Run(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer ch.Close()

	if setupErr := c.setupRabbitMQ(ch); setupErr != nil {
		return fmt.Errorf("failed to setup rabbitmq: %w", setupErr)
	}

	msgs, err := ch.Consume(
		QueueName, // queue
		"",        // consumer tag
		false,     // auto-ack
		false,     // exclusive
		false,     // no-local
		false,     // no-wait
		nil,       // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("Waiting for messages...", "queue", QueueName)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("channel closed")
			}
			c.deliver(ctx, d)
		}
	}
}

func (c *BidConsumer) deliver(ctx context.Context, d amqp.Delivery) {
	err := c.Handle(ctx, d.Body)
	eventsConsumed.WithLabelValues(d.RoutingKey, outcome(err)).Inc()
	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			c.logger.Error("Failed to Ack message", "error", ackErr)
		}
	case errors.Is(err, errMalformed):
		c.logger.Error("Dropping malformed event", "routing_key", d.RoutingKey, "error", err)
		if nackErr := d.Nack(false, false); nackErr != nil {
			c.logger.Error("Failed to Nack message", "error", nackErr)
		}
	default:
		c.logger.Error("Failed to process event", "routing_key", d.RoutingKey, "error", err)
		if nackErr := d.Nack(false, true); nackErr != nil {
			c.logger.Error("Failed to Nack message (requeue)", "error", nackErr)
		}
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "applied"
	case errors.Is(err, errMalformed):
		return "dropped"
	default:
		return "retried"
	}
}

// Handle decodes one message body and applies it. Unknown event types are
// ignored so the queue can be bound more widely without breaking.
func (c *BidConsumer) Handle(ctx context.Context, body []byte) error {
	payload, err := pkgevents.DecodePayload(body)
	if err != nil {
		return fmt.Errorf("%w: %w", errMalformed, err)
	}

	switch payload.EventType() {
	case pkgevents.EventTypeBidPlaced:
		event, err := toBidPlaced(payload)
		if err != nil {
			return err
		}
		return c.processor.ProcessBidPlaced(ctx, event)
	case pkgevents.EventTypeBidOutbid:
		event, err := toBidOutbid(payload)
		if err != nil {
			return err
		}
		return c.processor.ProcessBidOutbid(ctx, event)
	case pkgevents.EventTypeAuctionClosed:
		event, err := toAuctionClosed(payload)
		if err != nil {
			return err
		}
		return c.processor.ProcessAuctionClosed(ctx, event)
	default:
		c.logger.Debug("Ignoring event", "event_type", payload.EventType())
		return nil
	}
}

func (c *BidConsumer) setupRabbitMQ(ch *amqp.Channel) error {
	if err := pkgevents.DeclareExchange(ch, c.exchange); err != nil {
		return err
	}

	q, err := ch.QueueDeclare(
		QueueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // args
	)
	if err != nil {
		return err
	}

	for _, key := range RoutingKeys {
		if err := ch.QueueBind(q.Name, key.String(), c.exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}
	return nil
}
