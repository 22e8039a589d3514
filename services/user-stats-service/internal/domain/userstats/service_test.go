package userstats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeTx struct {
	pgx.Tx
	committed bool
}

func (tx *fakeTx) Commit(_ context.Context) error {
	tx.committed = true
	return nil
}

func (tx *fakeTx) Rollback(_ context.Context) error { return nil }

type fakeTxManager struct {
	tx  *fakeTx
	err error
}

func (m *fakeTxManager) BeginTx(_ context.Context) (pgx.Tx, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.tx, nil
}

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) IsEventProcessed(ctx context.Context, tx pgx.Tx, eventID uuid.UUID) (bool, error) {
	args := m.Called(ctx, tx, eventID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) MarkEventProcessed(ctx context.Context, tx pgx.Tx, eventID uuid.UUID) error {
	return m.Called(ctx, tx, eventID).Error(0)
}

func (m *MockRepository) ApplyBidPlaced(ctx context.Context, tx pgx.Tx, event BidPlacedEvent) error {
	return m.Called(ctx, tx, event).Error(0)
}

func (m *MockRepository) ApplyBidOutbid(ctx context.Context, tx pgx.Tx, event BidOutbidEvent) error {
	return m.Called(ctx, tx, event).Error(0)
}

func (m *MockRepository) ApplyAuctionWon(ctx context.Context, tx pgx.Tx, event AuctionClosedEvent) error {
	return m.Called(ctx, tx, event).Error(0)
}

func (m *MockRepository) GetBidderStats(ctx context.Context, userID uuid.UUID) (*BidderStats, error) {
	args := m.Called(ctx, userID)
	stats, _ := args.Get(0).(*BidderStats)
	return stats, args.Error(1)
}

func newTestService() (*Service, *MockRepository, *fakeTx) {
	repo := &MockRepository{}
	tx := &fakeTx{}
	return NewService(repo, &fakeTxManager{tx: tx}), repo, tx
}

func TestProcessBidPlaced(t *testing.T) {
	ctx := context.Background()
	event := BidPlacedEvent{EventID: uuid.New(), BidderID: uuid.New(), Amount: 500, AmountCharged: 200, OccurredAt: time.Now()}

	t.Run("applies a new event", func(t *testing.T) {
		svc, repo, tx := newTestService()
		repo.On("IsEventProcessed", ctx, tx, event.EventID).Return(false, nil).Once()
		repo.On("ApplyBidPlaced", ctx, tx, event).Return(nil).Once()
		repo.On("MarkEventProcessed", ctx, tx, event.EventID).Return(nil).Once()

		require.NoError(t, svc.ProcessBidPlaced(ctx, event))
		assert.True(t, tx.committed)
		repo.AssertExpectations(t)
	})

	t.Run("skips a redelivered event", func(t *testing.T) {
		svc, repo, tx := newTestService()
		repo.On("IsEventProcessed", ctx, tx, event.EventID).Return(true, nil).Once()

		require.NoError(t, svc.ProcessBidPlaced(ctx, event))
		assert.False(t, tx.committed)
		repo.AssertNotCalled(t, "ApplyBidPlaced", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("does not commit when the update fails", func(t *testing.T) {
		svc, repo, tx := newTestService()
		repo.On("IsEventProcessed", ctx, tx, event.EventID).Return(false, nil).Once()
		repo.On("ApplyBidPlaced", ctx, tx, event).Return(errors.New("deadlock")).Once()

		err := svc.ProcessBidPlaced(ctx, event)
		assert.ErrorContains(t, err, "failed to update bidder stats")
		assert.False(t, tx.committed)
		repo.AssertNotCalled(t, "MarkEventProcessed", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("begin failure", func(t *testing.T) {
		repo := &MockRepository{}
		svc := NewService(repo, &fakeTxManager{err: errors.New("pool closed")})

		assert.ErrorContains(t, svc.ProcessBidPlaced(ctx, event), "failed to begin transaction")
	})
}

func TestProcessBidOutbid(t *testing.T) {
	ctx := context.Background()
	svc, repo, tx := newTestService()
	event := BidOutbidEvent{EventID: uuid.New(), BidderID: uuid.New(), Refunded: 300, OccurredAt: time.Now()}

	repo.On("IsEventProcessed", ctx, tx, event.EventID).Return(false, nil).Once()
	repo.On("ApplyBidOutbid", ctx, tx, event).Return(nil).Once()
	repo.On("MarkEventProcessed", ctx, tx, event.EventID).Return(errors.New("duplicate key")).Once()

	err := svc.ProcessBidOutbid(ctx, event)
	assert.ErrorContains(t, err, "failed to mark event as processed")
	assert.False(t, tx.committed)
}

func TestProcessAuctionClosed(t *testing.T) {
	ctx := context.Background()
	svc, repo, tx := newTestService()
	event := AuctionClosedEvent{EventID: uuid.New(), WinnerID: uuid.New(), WinningAmount: 900, OccurredAt: time.Now()}

	repo.On("IsEventProcessed", ctx, tx, event.EventID).Return(false, nil).Once()
	repo.On("ApplyAuctionWon", ctx, tx, event).Return(nil).Once()
	repo.On("MarkEventProcessed", ctx, tx, event.EventID).Return(nil).Once()

	require.NoError(t, svc.ProcessAuctionClosed(ctx, event))
	assert.True(t, tx.committed)
	repo.AssertExpectations(t)
}

func TestGetBidderStats(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService()
	userID := uuid.New()

	repo.On("GetBidderStats", ctx, userID).Return(nil, ErrStatsNotFound).Once()
	_, err := svc.GetBidderStats(ctx, userID)
	assert.ErrorIs(t, err, ErrStatsNotFound)
}
