//go:build integration

package events_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"

	"github.com/floroz/bidledger/pkg/database"
	pkgevents "github.com/floroz/bidledger/pkg/events"
	"github.com/floroz/bidledger/pkg/testhelpers"
	infradb "github.com/floroz/bidledger/services/user-stats-service/internal/adapters/database"
	"github.com/floroz/bidledger/services/user-stats-service/internal/adapters/events"
	"github.com/floroz/bidledger/services/user-stats-service/internal/domain/userstats"
	"github.com/floroz/bidledger/services/user-stats-service/migrations"
)

func TestBidConsumerIntegration(t *testing.T) {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// 1. Start RabbitMQ Container
	rabbitmqContainer, err := rabbitmq.Run(ctx,
		"rabbitmq:3.12-management-alpine",
		rabbitmq.WithAdminPassword("password"),
	)
	require.NoError(t, err)
	defer func() {
		if termErr := rabbitmqContainer.Terminate(ctx); termErr != nil {
			t.Fatalf("failed to terminate container: %s", termErr)
		}
	}()

	amqpURL, err := rabbitmqContainer.AmqpURL(ctx)
	require.NoError(t, err)

	// 2. Setup Postgres
	testDB := testhelpers.NewTestDatabase(t, migrations.FS)
	defer testDB.Close()
	dbPool := testDB.Pool

	// 3. Setup Dependencies
	txManager := database.NewPostgresTransactionManager(dbPool, time.Second)
	statsRepo := infradb.NewBidderStatsRepository(dbPool)
	statsService := userstats.NewService(statsRepo, txManager)

	// 4. Run Consumer in Background
	conn, err := amqp.Dial(amqpURL)
	require.NoError(t, err)
	defer conn.Close()

	consumer := events.NewBidConsumer(conn, statsService, pkgevents.DefaultExchange, logger)
	ctxConsumer, cancelConsumer := context.WithCancel(ctx)
	defer cancelConsumer()
	go func() {
		_ = consumer.Run(ctxConsumer)
	}()

	// 5. Publish through the same publisher the outbox relay uses
	publishConn, err := amqp.Dial(amqpURL)
	require.NoError(t, err)
	defer publishConn.Close()
	publisher, err := pkgevents.NewRabbitMQPublisher(publishConn, pkgevents.DefaultExchange)
	require.NoError(t, err)
	defer publisher.Close()

	bidderID := uuid.New()
	now := time.Now().UTC()

	placed, err := pkgevents.NewOutboxEvent(pkgevents.EventTypeBidPlaced, now, map[string]any{
		pkgevents.FieldBidderID:      bidderID.String(),
		pkgevents.FieldAmount:        int64(1200),
		pkgevents.FieldAmountCharged: int64(1200),
	})
	require.NoError(t, err)
	outbid, err := pkgevents.NewOutboxEvent(pkgevents.EventTypeBidOutbid, now, map[string]any{
		pkgevents.FieldBidderID: bidderID.String(),
		pkgevents.FieldRefunded: int64(1200),
	})
	require.NoError(t, err)
	won, err := pkgevents.NewOutboxEvent(pkgevents.EventTypeAuctionClosed, now, map[string]any{
		pkgevents.FieldWinnerID:      bidderID.String(),
		pkgevents.FieldWinningAmount: int64(3000),
	})
	require.NoError(t, err)

	publish := func(e *pkgevents.OutboxEvent) {
		require.NoError(t, publisher.Publish(ctx, pkgevents.DefaultExchange, e.EventType.String(), e.Payload))
	}

	// the queue is declared by the consumer, so retry until the first message lands
	require.Eventually(t, func() bool {
		publish(placed)
		_, getErr := statsService.GetBidderStats(ctx, bidderID)
		return getErr == nil
	}, 10*time.Second, 250*time.Millisecond, "consumer should pick up bid.placed")

	publish(outbid)
	publish(won)
	// redelivery of the same event must not double count
	publish(outbid)

	require.Eventually(t, func() bool {
		stats, getErr := statsService.GetBidderStats(ctx, bidderID)
		return getErr == nil && stats.AuctionsWon == 1
	}, 5*time.Second, 100*time.Millisecond, "auction.closed should be folded in")

	time.Sleep(500 * time.Millisecond)

	stats, err := statsService.GetBidderStats(ctx, bidderID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.BidsPlaced)
	assert.Equal(t, int64(1200), stats.TotalAmountBid)
	assert.Equal(t, int64(1), stats.TimesOutbid)
	assert.Equal(t, int64(1200), stats.TotalRefunded)
	assert.Equal(t, int64(3000), stats.TotalWonAmount)
	require.NotNil(t, stats.LastBidAt)
}
