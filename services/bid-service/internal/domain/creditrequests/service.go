package creditrequests

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/floroz/bidledger/pkg/database"
	"github.com/floroz/bidledger/pkg/events"
	"github.com/floroz/bidledger/services/bid-service/internal/domain/ledger"
)

const (
	defaultTimeout   = 5 * time.Second
	defaultListLimit = 100

	rejectedNotes = "Request rejected"
)

func approvedNotes(amount int64) string {
	return fmt.Sprintf("Approved. Credits granted: %d", amount)
}

// Service runs the credit-request approval flow.
type Service struct {
	txManager  database.TransactionManager
	repo       Repository
	outboxRepo OutboxRepository
	ledger     CreditLedger
	timeout    time.Duration
	now        func() time.Time
}

// NewService creates a new credit request service
func NewService(
	txManager database.TransactionManager,
	repo Repository,
	outboxRepo OutboxRepository,
	creditLedger CreditLedger,
	timeout time.Duration,
) *Service {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Service{
		txManager:  txManager,
		repo:       repo,
		outboxRepo: outboxRepo,
		ledger:     creditLedger,
		timeout:    timeout,
		now:        time.Now,
	}
}

func (s *Service) begin(ctx context.Context) (context.Context, pgx.Tx, func(), error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		cancel()
		return nil, nil, nil, database.Classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	return ctx, tx, func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		cancel()
	}, nil
}

// Create opens a pending request. A user may only have one pending request.
func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*CreditRequest, error) {
	if cmd.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	ctx, tx, cleanup, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	account, err := s.ledger.GetAccount(ctx, cmd.UserID)
	if err != nil {
		return nil, err
	}
	if !account.Verified {
		return nil, ErrUnverified
	}

	pending, err := s.repo.HasPendingRequest(ctx, tx, cmd.UserID)
	if err != nil {
		return nil, database.Classify(fmt.Errorf("failed to check pending requests: %w", err))
	}
	if pending {
		return nil, ErrDuplicatePendingRequest
	}

	now := s.now()
	req := &CreditRequest{
		ID:        uuid.New(),
		UserID:    cmd.UserID,
		Amount:    cmd.Amount,
		Reason:    strings.TrimSpace(cmd.Reason),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// The partial unique index catches a concurrent create that passed the check above
	if err := s.repo.CreateRequest(ctx, tx, req); err != nil {
		if errors.Is(err, ErrDuplicatePendingRequest) {
			return nil, err
		}
		return nil, database.Classify(fmt.Errorf("failed to create credit request: %w", err))
	}

	if err := s.saveEvent(ctx, tx, events.EventTypeCreditRequestCreated, req); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, database.Classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return req, nil
}

// Approve grants the requested credits and closes the request.
func (s *Service) Approve(ctx context.Context, cmd DecideCommand) (*CreditRequest, int64, error) {
	var balance int64
	req, err := s.decide(ctx, cmd, StatusApproved, func(ctx context.Context, tx pgx.Tx, req *CreditRequest) error {
		adj, err := s.ledger.Credit(ctx, tx, req.UserID, req.Amount, ledger.KindCreditGrant, req.ID)
		if err != nil {
			return fmt.Errorf("failed to grant credits: %w", err)
		}
		balance = adj.BalanceAfter
		if req.AdminNotes == "" {
			req.AdminNotes = approvedNotes(req.Amount)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return req, balance, nil
}

// Reject closes the request without touching the balance.
func (s *Service) Reject(ctx context.Context, cmd DecideCommand) (*CreditRequest, error) {
	return s.decide(ctx, cmd, StatusRejected, func(_ context.Context, _ pgx.Tx, req *CreditRequest) error {
		if req.AdminNotes == "" {
			req.AdminNotes = rejectedNotes
		}
		return nil
	})
}

func (s *Service) decide(ctx context.Context, cmd DecideCommand, status Status, apply func(context.Context, pgx.Tx, *CreditRequest) error) (*CreditRequest, error) {
	ctx, tx, cleanup, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	req, err := s.repo.GetRequestForUpdate(ctx, tx, cmd.RequestID)
	if err != nil {
		if errors.Is(err, ErrCreditRequestNotFound) {
			return nil, err
		}
		return nil, database.Classify(fmt.Errorf("failed to load credit request: %w", err))
	}
	if req.Status != StatusPending {
		return nil, ErrInvalidState
	}

	now := s.now()
	req.Status = status
	req.AdminNotes = strings.TrimSpace(cmd.AdminNotes)
	req.UpdatedAt = now
	req.DecidedAt = &now

	if err := apply(ctx, tx, req); err != nil {
		return nil, err
	}

	if err := s.repo.UpdateDecision(ctx, tx, req); err != nil {
		return nil, database.Classify(fmt.Errorf("failed to store decision: %w", err))
	}

	eventType := events.EventTypeCreditRequestApproved
	if status == StatusRejected {
		eventType = events.EventTypeCreditRequestRejected
	}
	if err := s.saveEvent(ctx, tx, eventType, req); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, database.Classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	return req, nil
}

// List returns requests newest first.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*CreditRequest, error) {
	switch filter.Status {
	case "", StatusPending, StatusApproved, StatusRejected:
	default:
		return nil, ErrInvalidStatus
	}
	if filter.Limit <= 0 || filter.Limit > defaultListLimit {
		filter.Limit = defaultListLimit
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	result, err := s.repo.ListRequests(ctx, filter)
	if err != nil {
		return nil, database.Classify(fmt.Errorf("failed to list credit requests: %w", err))
	}
	return result, nil
}

func (s *Service) saveEvent(ctx context.Context, tx pgx.Tx, eventType events.EventType, req *CreditRequest) error {
	event, err := events.NewOutboxEvent(eventType, req.UpdatedAt, map[string]any{
		"request_id":  req.ID.String(),
		"user_id":     req.UserID.String(),
		"amount":      req.Amount,
		"status":      string(req.Status),
		"admin_notes": req.AdminNotes,
	})
	if err != nil {
		return fmt.Errorf("failed to build %s event: %w", eventType, err)
	}
	if err := s.outboxRepo.SaveEvent(ctx, tx, event); err != nil {
		return database.Classify(fmt.Errorf("failed to save outbox event: %w", err))
	}
	return nil
}
