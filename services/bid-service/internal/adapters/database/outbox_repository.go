package database

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	pkgevents "github.com/floroz/bidledger/pkg/events"
)

// PostgresOutboxRepository stores domain events next to the state change
// that produced them and feeds the relay.
type PostgresOutboxRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresOutboxRepository(pool *pgxpool.Pool) *PostgresOutboxRepository {
	return &PostgresOutboxRepository{pool: pool}
}

// SaveEvent must run in the transaction that produced the event.
func (r *PostgresOutboxRepository) SaveEvent(ctx context.Context, tx pgx.Tx, event *pkgevents.OutboxEvent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (id, event_type, payload, status, created_at)
		VALUES ($1, $2, $3, $4::outbox_status, $5)`,
		event.ID, event.EventType, event.Payload, event.Status, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event %s: %w", event.EventType, err)
	}
	return nil
}

// GetPendingEvents claims up to limit pending events in emission order.
// SKIP LOCKED lets several relays drain the table without double publishing.
func (r *PostgresOutboxRepository) GetPendingEvents(ctx context.Context, tx pgx.Tx, limit int) ([]*pkgevents.OutboxEvent, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_type, payload, status::TEXT AS status, created_at, processed_at
		FROM outbox_events
		WHERE status = 'pending'
		ORDER BY seq
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}
	events, err := pgx.CollectRows(rows, pgx.RowToAddrOfStructByName[pkgevents.OutboxEvent])
	if err != nil {
		return nil, fmt.Errorf("failed to scan pending events: %w", err)
	}
	return events, nil
}

// CountByStatus feeds the outbox backlog gauge.
func (r *PostgresOutboxRepository) CountByStatus(ctx context.Context) (map[pkgevents.OutboxStatus]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT status::TEXT, COUNT(*) FROM outbox_events GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count outbox events: %w", err)
	}

	counts := make(map[pkgevents.OutboxStatus]int64)
	var (
		status string
		n      int64
	)
	_, err = pgx.ForEachRow(rows, []any{&status, &n}, func() error {
		counts[pkgevents.OutboxStatus(status)] = n
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan outbox counts: %w", err)
	}
	return counts, nil
}

// UpdateEventStatus moves an event along; terminal statuses stamp processed_at.
func (r *PostgresOutboxRepository) UpdateEventStatus(ctx context.Context, tx pgx.Tx, eventID uuid.UUID, status pkgevents.OutboxStatus) error {
	result, err := tx.Exec(ctx, `
		UPDATE outbox_events
		SET status = $1::outbox_status,
		    processed_at = CASE WHEN $1 IN ('published', 'failed') THEN NOW() END
		WHERE id = $2`, status, eventID)
	if err != nil {
		return fmt.Errorf("failed to update event status: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("outbox event %s not found", eventID)
	}
	return nil
}
