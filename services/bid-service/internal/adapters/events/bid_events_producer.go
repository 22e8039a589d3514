package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"golang.org/x/sync/errgroup"

	pkgdb "github.com/floroz/bidledger/pkg/database"
	pkgevents "github.com/floroz/bidledger/pkg/events"
	"github.com/floroz/bidledger/services/bid-service/internal/adapters/database"
	"github.com/floroz/bidledger/services/bid-service/internal/metrics"
)

const backlogInterval = 15 * time.Second

// ProducerConfig tunes the relay loop.
type ProducerConfig struct {
	BatchSize   int
	Interval    time.Duration
	LockTimeout time.Duration
	Exchange    string
}

// outboxCounter reports outbox sizes per status.
type outboxCounter interface {
	CountByStatus(ctx context.Context) (map[pkgevents.OutboxStatus]int64, error)
}

// BidEventsProducer relays committed bid ledger events from the outbox to RabbitMQ
type BidEventsProducer struct {
	relay     *pkgevents.OutboxRelay
	publisher *pkgevents.RabbitMQPublisher
	counter   outboxCounter
	logger    *slog.Logger
}

// NewBidEventsProducer creates a new producer
func NewBidEventsProducer(pool *pgxpool.Pool, conn *amqp.Connection, cfg ProducerConfig, logger *slog.Logger) (*BidEventsProducer, error) {
	if cfg.Exchange == "" {
		cfg.Exchange = pkgevents.DefaultExchange
	}
	publisher, err := pkgevents.NewRabbitMQPublisher(conn, cfg.Exchange)
	if err != nil {
		return nil, fmt.Errorf("failed to create publisher: %w", err)
	}

	txManager := pkgdb.NewPostgresTransactionManager(pool, cfg.LockTimeout)
	outboxRepo := database.NewPostgresOutboxRepository(pool)

	relay := pkgevents.NewOutboxRelay(
		outboxRepo,
		publisher,
		txManager,
		cfg.BatchSize,
		cfg.Interval,
		cfg.Exchange,
		logger,
	)
	relay.OnPublish(func(t pkgevents.EventType) {
		metrics.RecordOutboxPublished(t.String())
	})

	return &BidEventsProducer{
		relay:     relay,
		publisher: publisher,
		counter:   outboxRepo,
		logger:    logger,
	}, nil
}

// Run relays events and samples the outbox backlog until ctx is done.
func (p *BidEventsProducer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return p.relay.Run(ctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(backlogInterval)
		defer ticker.Stop()
		for {
			if err := recordBacklog(ctx, p.counter); err != nil && ctx.Err() == nil {
				p.logger.Warn("Failed to sample outbox backlog", "error", err)
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})
	return g.Wait()
}

// Close closes the publisher channel
func (p *BidEventsProducer) Close() error {
	return p.publisher.Close()
}

func recordBacklog(ctx context.Context, counter outboxCounter) error {
	counts, err := counter.CountByStatus(ctx)
	if err != nil {
		return err
	}
	for _, status := range []pkgevents.OutboxStatus{
		pkgevents.OutboxStatusPending,
		pkgevents.OutboxStatusProcessing,
		pkgevents.OutboxStatusPublished,
		pkgevents.OutboxStatusFailed,
	} {
		metrics.SetOutboxEvents(string(status), counts[status])
	}
	return nil
}
