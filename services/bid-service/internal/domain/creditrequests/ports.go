package creditrequests

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/floroz/bidledger/pkg/events"
	"github.com/floroz/bidledger/services/bid-service/internal/domain/ledger"
)

// Repository persists credit requests.
type Repository interface {
	// CreateRequest inserts a pending request. A second pending request for
	// the same user fails with ErrDuplicatePendingRequest.
	CreateRequest(ctx context.Context, tx pgx.Tx, req *CreditRequest) error

	// HasPendingRequest reports whether the user already waits on a decision.
	HasPendingRequest(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (bool, error)

	// GetRequestForUpdate locks the request. Returns ErrCreditRequestNotFound.
	GetRequestForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*CreditRequest, error)

	// UpdateDecision stores the decided status and notes.
	UpdateDecision(ctx context.Context, tx pgx.Tx, req *CreditRequest) error

	// ListRequests returns requests newest first.
	ListRequests(ctx context.Context, filter ListFilter) ([]*CreditRequest, error)
}

// OutboxRepository stores domain events in the caller's transaction.
type OutboxRepository interface {
	SaveEvent(ctx context.Context, tx pgx.Tx, event *events.OutboxEvent) error
}

// CreditLedger grants approved credits.
type CreditLedger interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error)
	Credit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64, kind ledger.AdjustmentKind, ref uuid.UUID) (*ledger.Adjustment, error)
}
