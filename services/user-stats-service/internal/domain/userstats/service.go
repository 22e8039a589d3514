package userstats

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/floroz/bidledger/pkg/database"
)

type Service struct {
	repo      Repository
	txManager database.TransactionManager
}

func NewService(repo Repository, txManager database.TransactionManager) *Service {
	return &Service{
		repo:      repo,
		txManager: txManager,
	}
}

func (s *Service) ProcessBidPlaced(ctx context.Context, event BidPlacedEvent) error {
	return s.process(ctx, event.EventID, func(tx pgx.Tx) error {
		return s.repo.ApplyBidPlaced(ctx, tx, event)
	})
}

func (s *Service) ProcessBidOutbid(ctx context.Context, event BidOutbidEvent) error {
	return s.process(ctx, event.EventID, func(tx pgx.Tx) error {
		return s.repo.ApplyBidOutbid(ctx, tx, event)
	})
}

func (s *Service) ProcessAuctionClosed(ctx context.Context, event AuctionClosedEvent) error {
	return s.process(ctx, event.EventID, func(tx pgx.Tx) error {
		return s.repo.ApplyAuctionWon(ctx, tx, event)
	})
}

// process applies an event at most once. Redelivered events are acknowledged
// without touching the stats.
func (s *Service) process(ctx context.Context, eventID uuid.UUID, apply func(pgx.Tx) error) error {
	// 1. Start Transaction
	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// 2. Check Idempotency (Has this event been processed?)
	isProcessed, err := s.repo.IsEventProcessed(ctx, tx, eventID)
	if err != nil {
		return fmt.Errorf("failed to check idempotency: %w", err)
	}
	if isProcessed {
		return nil
	}

	// 3. Update Bidder Stats
	if err := apply(tx); err != nil {
		return fmt.Errorf("failed to update bidder stats: %w", err)
	}

	// 4. Mark Event as Processed
	if err := s.repo.MarkEventProcessed(ctx, tx, eventID); err != nil {
		return fmt.Errorf("failed to mark event as processed: %w", err)
	}

	// 5. Commit
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Service) GetBidderStats(ctx context.Context, userID uuid.UUID) (*BidderStats, error) {
	return s.repo.GetBidderStats(ctx, userID)
}
