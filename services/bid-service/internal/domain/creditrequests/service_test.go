package creditrequests

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/floroz/bidledger/pkg/events"
	"github.com/floroz/bidledger/services/bid-service/internal/domain/ledger"
)

type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (tx *fakeTx) Commit(_ context.Context) error {
	tx.committed = true
	return nil
}

func (tx *fakeTx) Rollback(_ context.Context) error {
	if !tx.committed {
		tx.rolledBack = true
	}
	return nil
}

type fakeTxManager struct {
	tx *fakeTx
}

func (m *fakeTxManager) BeginTx(_ context.Context) (pgx.Tx, error) {
	return m.tx, nil
}

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateRequest(ctx context.Context, tx pgx.Tx, req *CreditRequest) error {
	return m.Called(ctx, tx, req).Error(0)
}

func (m *MockRepository) HasPendingRequest(ctx context.Context, tx pgx.Tx, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, tx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) GetRequestForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*CreditRequest, error) {
	args := m.Called(ctx, tx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*CreditRequest), args.Error(1)
}

func (m *MockRepository) UpdateDecision(ctx context.Context, tx pgx.Tx, req *CreditRequest) error {
	return m.Called(ctx, tx, req).Error(0)
}

func (m *MockRepository) ListRequests(ctx context.Context, filter ListFilter) ([]*CreditRequest, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*CreditRequest), args.Error(1)
}

type MockOutbox struct {
	mock.Mock
}

func (m *MockOutbox) SaveEvent(ctx context.Context, tx pgx.Tx, event *events.OutboxEvent) error {
	return m.Called(ctx, tx, event).Error(0)
}

type MockLedger struct {
	mock.Mock
}

func (m *MockLedger) GetAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Account), args.Error(1)
}

func (m *MockLedger) Credit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64, kind ledger.AdjustmentKind, ref uuid.UUID) (*ledger.Adjustment, error) {
	args := m.Called(ctx, tx, accountID, amount, kind, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ledger.Adjustment), args.Error(1)
}

type mocks struct {
	tx     *fakeTx
	repo   *MockRepository
	outbox *MockOutbox
	ledger *MockLedger
}

func newTestService() (*Service, *mocks) {
	m := &mocks{tx: &fakeTx{}, repo: new(MockRepository), outbox: new(MockOutbox), ledger: new(MockLedger)}
	return NewService(&fakeTxManager{tx: m.tx}, m.repo, m.outbox, m.ledger, 0), m
}

func eventOfType(eventType events.EventType) any {
	return mock.MatchedBy(func(e *events.OutboxEvent) bool { return e.EventType == eventType })
}

func TestService_Create(t *testing.T) {
	userID := uuid.New()

	tests := []struct {
		name      string
		cmd       CreateCommand
		setupMock func(*mocks)
		wantErr   error
	}{
		{
			name: "opens a pending request",
			cmd:  CreateCommand{UserID: userID, Amount: 500, Reason: "  live tonight  "},
			setupMock: func(m *mocks) {
				m.ledger.On("GetAccount", mock.Anything, userID).Return(&ledger.Account{ID: userID, Verified: true}, nil)
				m.repo.On("HasPendingRequest", mock.Anything, m.tx, userID).Return(false, nil)
				m.repo.On("CreateRequest", mock.Anything, m.tx, mock.MatchedBy(func(r *CreditRequest) bool {
					return r.Status == StatusPending && r.Reason == "live tonight" && r.Amount == 500
				})).Return(nil)
				m.outbox.On("SaveEvent", mock.Anything, m.tx, eventOfType(events.EventTypeCreditRequestCreated)).Return(nil)
			},
		},
		{
			name:    "rejects non-positive amount",
			cmd:     CreateCommand{UserID: userID, Amount: 0},
			wantErr: ErrInvalidAmount,
		},
		{
			name: "requires a verified account",
			cmd:  CreateCommand{UserID: userID, Amount: 500},
			setupMock: func(m *mocks) {
				m.ledger.On("GetAccount", mock.Anything, userID).Return(&ledger.Account{ID: userID}, nil)
			},
			wantErr: ErrUnverified,
		},
		{
			name: "refuses a second pending request",
			cmd:  CreateCommand{UserID: userID, Amount: 500},
			setupMock: func(m *mocks) {
				m.ledger.On("GetAccount", mock.Anything, userID).Return(&ledger.Account{ID: userID, Verified: true}, nil)
				m.repo.On("HasPendingRequest", mock.Anything, m.tx, userID).Return(true, nil)
			},
			wantErr: ErrDuplicatePendingRequest,
		},
		{
			name: "concurrent duplicate caught by the unique index",
			cmd:  CreateCommand{UserID: userID, Amount: 500},
			setupMock: func(m *mocks) {
				m.ledger.On("GetAccount", mock.Anything, userID).Return(&ledger.Account{ID: userID, Verified: true}, nil)
				m.repo.On("HasPendingRequest", mock.Anything, m.tx, userID).Return(false, nil)
				m.repo.On("CreateRequest", mock.Anything, m.tx, mock.Anything).Return(ErrDuplicatePendingRequest)
			},
			wantErr: ErrDuplicatePendingRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, m := newTestService()
			if tt.setupMock != nil {
				tt.setupMock(m)
			}

			req, err := svc.Create(context.Background(), tt.cmd)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, req)
				assert.False(t, m.tx.committed)
			} else {
				require.NoError(t, err)
				assert.Equal(t, StatusPending, req.Status)
				assert.True(t, m.tx.committed)
			}
			m.repo.AssertExpectations(t)
			m.outbox.AssertExpectations(t)
			m.ledger.AssertExpectations(t)
		})
	}
}

func TestService_Approve(t *testing.T) {
	userID := uuid.New()
	requestID := uuid.New()

	t.Run("grants credits with default notes", func(t *testing.T) {
		svc, m := newTestService()
		m.repo.On("GetRequestForUpdate", mock.Anything, m.tx, requestID).
			Return(&CreditRequest{ID: requestID, UserID: userID, Amount: 750, Status: StatusPending}, nil)
		m.ledger.On("Credit", mock.Anything, m.tx, userID, int64(750), ledger.KindCreditGrant, requestID).
			Return(&ledger.Adjustment{BalanceAfter: 1750}, nil)
		m.repo.On("UpdateDecision", mock.Anything, m.tx, mock.MatchedBy(func(r *CreditRequest) bool {
			return r.Status == StatusApproved && r.DecidedAt != nil
		})).Return(nil)
		m.outbox.On("SaveEvent", mock.Anything, m.tx, eventOfType(events.EventTypeCreditRequestApproved)).Return(nil)

		req, balance, err := svc.Approve(context.Background(), DecideCommand{RequestID: requestID})

		require.NoError(t, err)
		assert.Equal(t, StatusApproved, req.Status)
		assert.Equal(t, "Approved. Credits granted: 750", req.AdminNotes)
		assert.Equal(t, int64(1750), balance)
		assert.True(t, m.tx.committed)
		m.repo.AssertExpectations(t)
		m.ledger.AssertExpectations(t)
	})

	t.Run("keeps admin notes", func(t *testing.T) {
		svc, m := newTestService()
		m.repo.On("GetRequestForUpdate", mock.Anything, m.tx, requestID).
			Return(&CreditRequest{ID: requestID, UserID: userID, Amount: 100, Status: StatusPending}, nil)
		m.ledger.On("Credit", mock.Anything, m.tx, userID, int64(100), ledger.KindCreditGrant, requestID).
			Return(&ledger.Adjustment{BalanceAfter: 100}, nil)
		m.repo.On("UpdateDecision", mock.Anything, m.tx, mock.Anything).Return(nil)
		m.outbox.On("SaveEvent", mock.Anything, m.tx, mock.Anything).Return(nil)

		req, _, err := svc.Approve(context.Background(), DecideCommand{RequestID: requestID, AdminNotes: "paid by transfer"})
		require.NoError(t, err)
		assert.Equal(t, "paid by transfer", req.AdminNotes)
	})

	t.Run("only pending requests can be approved", func(t *testing.T) {
		svc, m := newTestService()
		m.repo.On("GetRequestForUpdate", mock.Anything, m.tx, requestID).
			Return(&CreditRequest{ID: requestID, UserID: userID, Amount: 100, Status: StatusApproved}, nil)

		_, _, err := svc.Approve(context.Background(), DecideCommand{RequestID: requestID})

		assert.ErrorIs(t, err, ErrInvalidState)
		assert.True(t, m.tx.rolledBack)
		m.ledger.AssertNotCalled(t, "Credit", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("unknown request", func(t *testing.T) {
		svc, m := newTestService()
		m.repo.On("GetRequestForUpdate", mock.Anything, m.tx, requestID).Return(nil, ErrCreditRequestNotFound)

		_, _, err := svc.Approve(context.Background(), DecideCommand{RequestID: requestID})
		assert.ErrorIs(t, err, ErrCreditRequestNotFound)
	})
}

func TestService_Reject(t *testing.T) {
	requestID := uuid.New()
	svc, m := newTestService()
	m.repo.On("GetRequestForUpdate", mock.Anything, m.tx, requestID).
		Return(&CreditRequest{ID: requestID, UserID: uuid.New(), Amount: 100, Status: StatusPending}, nil)
	m.repo.On("UpdateDecision", mock.Anything, m.tx, mock.Anything).Return(nil)
	m.outbox.On("SaveEvent", mock.Anything, m.tx, eventOfType(events.EventTypeCreditRequestRejected)).Return(nil)

	req, err := svc.Reject(context.Background(), DecideCommand{RequestID: requestID})

	require.NoError(t, err)
	assert.Equal(t, StatusRejected, req.Status)
	assert.Equal(t, "Request rejected", req.AdminNotes)
	m.ledger.AssertNotCalled(t, "Credit", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestService_List(t *testing.T) {
	svc, m := newTestService()
	userID := uuid.New()
	m.repo.On("ListRequests", mock.Anything, ListFilter{UserID: userID, Status: StatusPending, Limit: defaultListLimit}).
		Return([]*CreditRequest{{ID: uuid.New()}}, nil)

	result, err := svc.List(context.Background(), ListFilter{UserID: userID, Status: StatusPending})
	require.NoError(t, err)
	assert.Len(t, result, 1)

	_, err = svc.List(context.Background(), ListFilter{Status: "archived"})
	assert.ErrorIs(t, err, ErrInvalidStatus)
}
