//go:build integration

package database_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgdb "github.com/floroz/bidledger/pkg/database"
	"github.com/floroz/bidledger/pkg/testhelpers"
	"github.com/floroz/bidledger/services/bid-service/internal/adapters/database"
	"github.com/floroz/bidledger/services/bid-service/internal/domain/bids"
	"github.com/floroz/bidledger/services/bid-service/internal/domain/creditrequests"
	"github.com/floroz/bidledger/services/bid-service/internal/domain/ledger"
	"github.com/floroz/bidledger/services/bid-service/migrations"
)

// testServices holds all service dependencies for testing
type testServices struct {
	Pool      *pgxpool.Pool
	TxManager pkgdb.TransactionManager
	Ledger    *ledger.Ledger
	Auctions  *bids.AuctionService
	Requests  *creditrequests.Service
	BidRepo   *database.PostgresBidRepository
	Outbox    *database.PostgresOutboxRepository
}

func setupServices(t *testing.T) *testServices {
	t.Helper()
	testDB := testhelpers.NewTestDatabase(t, migrations.FS)
	t.Cleanup(testDB.Close)
	pool := testDB.Pool

	txManager := pkgdb.NewPostgresTransactionManager(pool, 3*time.Second)
	bidRepo := database.NewPostgresBidRepository(pool)
	outboxRepo := database.NewPostgresOutboxRepository(pool)
	creditLedger := ledger.NewLedger(
		database.NewPostgresAccountRepository(pool),
		database.NewPostgresAdjustmentRepository(pool),
	)

	return &testServices{
		Pool:      pool,
		TxManager: txManager,
		Ledger:    creditLedger,
		Auctions: bids.NewAuctionService(
			txManager,
			bidRepo,
			database.NewPostgresAuctionLocker(),
			database.NewPostgresPlacementRepository(),
			outboxRepo,
			creditLedger,
			bids.WithTimeout(10*time.Second),
		),
		Requests: creditrequests.NewService(
			txManager,
			database.NewPostgresCreditRequestRepository(pool),
			outboxRepo,
			creditLedger,
			5*time.Second,
		),
		BidRepo: bidRepo,
		Outbox:  outboxRepo,
	}
}

// seedAccount creates a verified account funded through an approved credit request.
func seedAccount(t *testing.T, svc *testServices, username string, credits int64) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	id := uuid.New()
	_, err := svc.Ledger.SyncAccount(ctx, ledger.SyncAccountCommand{ID: id, Username: username, Verified: true})
	require.NoError(t, err)
	if credits > 0 {
		req, err := svc.Requests.Create(ctx, creditrequests.CreateCommand{UserID: id, Amount: credits, Reason: "seed"})
		require.NoError(t, err)
		_, _, err = svc.Requests.Approve(ctx, creditrequests.DecideCommand{RequestID: req.ID})
		require.NoError(t, err)
	}
	return id
}

func balance(t *testing.T, svc *testServices, id uuid.UUID) int64 {
	t.Helper()
	acc, err := svc.Ledger.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acc.Credits
}

func countOutboxEvents(t *testing.T, pool *pgxpool.Pool, eventType string) int {
	t.Helper()
	var count int
	err := pool.QueryRow(context.Background(), "SELECT COUNT(*) FROM outbox_events WHERE event_type = $1", eventType).Scan(&count)
	require.NoError(t, err)
	return count
}

func TestBiddingLedger_Postgres(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	svc := setupServices(t)
	ctx := context.Background()

	t.Run("outbid, top-up, close", func(t *testing.T) {
		auction := "lot-" + uuid.NewString()
		ana := seedAccount(t, svc, "ana", 1000)
		ben := seedAccount(t, svc, "ben", 1000)

		first, err := svc.Auctions.PlaceBid(ctx, bids.PlaceBidCommand{AuctionID: auction, AuctionTitle: "Vintage Guitar", BidderID: ana, Amount: 300})
		require.NoError(t, err)
		second, err := svc.Auctions.PlaceBid(ctx, bids.PlaceBidCommand{AuctionID: auction, BidderID: ben, Amount: 400})
		require.NoError(t, err)
		third, err := svc.Auctions.PlaceBid(ctx, bids.PlaceBidCommand{AuctionID: auction, BidderID: ben, Amount: 550})
		require.NoError(t, err)

		assert.Equal(t, int64(1000), balance(t, svc, ana))
		assert.Equal(t, int64(450), balance(t, svc, ben))
		assert.Equal(t, int64(150), third.AmountCharged)

		got, err := svc.BidRepo.GetBidByID(ctx, first.Bid.ID)
		require.NoError(t, err)
		assert.Equal(t, bids.BidStatusOutbid, got.Status)
		got, err = svc.BidRepo.GetBidByID(ctx, second.Bid.ID)
		require.NoError(t, err)
		assert.Equal(t, bids.BidStatusOutbid, got.Status)

		_, err = svc.Auctions.PlaceBid(ctx, bids.PlaceBidCommand{AuctionID: auction, BidderID: ana, Amount: 550})
		var tooLow *bids.BidTooLowError
		require.ErrorAs(t, err, &tooLow)
		assert.Equal(t, int64(550), tooLow.Minimum)

		res, err := svc.Auctions.CloseAuction(ctx, auction)
		require.NoError(t, err)
		assert.Equal(t, third.Bid.ID, res.WinnerBidID)
		assert.Equal(t, "ben", res.WinnerUsername)

		again, err := svc.Auctions.CloseAuction(ctx, auction)
		require.NoError(t, err)
		assert.True(t, again.AlreadyClosed)
		assert.Equal(t, res.WinnerBidID, again.WinnerBidID)

		for _, id := range []uuid.UUID{ana, ben} {
			require.NoError(t, svc.Ledger.Reconcile(ctx, id))
		}
		assert.GreaterOrEqual(t, countOutboxEvents(t, svc.Pool, "bid.outbid"), 1)
	})

	t.Run("idempotent retry", func(t *testing.T) {
		auction := "lot-" + uuid.NewString()
		ana := seedAccount(t, svc, "ana", 1000)
		cmd := bids.PlaceBidCommand{AuctionID: auction, BidderID: ana, Amount: 300, IdempotencyKey: "retry-me"}

		first, err := svc.Auctions.PlaceBid(ctx, cmd)
		require.NoError(t, err)
		retry, err := svc.Auctions.PlaceBid(ctx, cmd)
		require.NoError(t, err)

		assert.True(t, retry.Replayed)
		assert.Equal(t, first.Bid.ID, retry.Bid.ID)
		assert.Equal(t, int64(700), balance(t, svc, ana))
	})

	t.Run("pending bid rejection refunds the charge", func(t *testing.T) {
		auction := "lot-" + uuid.NewString()
		ana := seedAccount(t, svc, "ana", 1000)

		res, err := svc.Auctions.PlaceBid(ctx, bids.PlaceBidCommand{AuctionID: auction, BidderID: ana, Amount: 300, RequiresApproval: true})
		require.NoError(t, err)
		assert.Equal(t, bids.BidStatusPending, res.Bid.Status)

		pending, err := svc.Auctions.ListPendingBids(ctx, auction)
		require.NoError(t, err)
		require.Len(t, pending, 1)

		rejected, err := svc.Auctions.RejectBid(ctx, res.Bid.ID)
		require.NoError(t, err)
		assert.Equal(t, bids.BidStatusOutbid, rejected.Status)
		assert.Equal(t, int64(1000), balance(t, svc, ana))

		_, err = svc.Auctions.RejectBid(ctx, res.Bid.ID)
		assert.ErrorIs(t, err, bids.ErrInvalidState)
		require.NoError(t, svc.Ledger.Reconcile(ctx, ana))
	})

	t.Run("one pending credit request per user", func(t *testing.T) {
		ana := seedAccount(t, svc, "ana", 0)

		first, err := svc.Requests.Create(ctx, creditrequests.CreateCommand{UserID: ana, Amount: 100})
		require.NoError(t, err)
		_, err = svc.Requests.Create(ctx, creditrequests.CreateCommand{UserID: ana, Amount: 200})
		assert.ErrorIs(t, err, creditrequests.ErrDuplicatePendingRequest)

		rejected, err := svc.Requests.Reject(ctx, creditrequests.DecideCommand{RequestID: first.ID})
		require.NoError(t, err)
		assert.Equal(t, "Request rejected", rejected.AdminNotes)
		assert.Equal(t, int64(0), balance(t, svc, ana))

		_, _, err = svc.Requests.Approve(ctx, creditrequests.DecideCommand{RequestID: first.ID})
		assert.ErrorIs(t, err, creditrequests.ErrInvalidState)

		mine, err := svc.Requests.List(ctx, creditrequests.ListFilter{UserID: ana})
		require.NoError(t, err)
		assert.Len(t, mine, 1)
	})

	t.Run("concurrent credit requests leave one pending", func(t *testing.T) {
		ana := seedAccount(t, svc, "ana", 0)

		var wg sync.WaitGroup
		results := make(chan error, 10)
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := svc.Requests.Create(ctx, creditrequests.CreateCommand{UserID: ana, Amount: 50})
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		ok := 0
		for err := range results {
			if err == nil {
				ok++
				continue
			}
			assert.ErrorIs(t, err, creditrequests.ErrDuplicatePendingRequest)
		}
		assert.Equal(t, 1, ok)
	})

	t.Run("concurrent bidders on one lot", func(t *testing.T) {
		auction := "lot-" + uuid.NewString()
		const bidders = 6
		ids := make([]uuid.UUID, bidders)
		for i := range ids {
			ids[i] = seedAccount(t, svc, fmt.Sprintf("bidder-%d", i), 50_000)
		}

		var wg sync.WaitGroup
		for i, id := range ids {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for r := 1; r <= 10; r++ {
					_, err := svc.Auctions.PlaceBid(ctx, bids.PlaceBidCommand{
						AuctionID: auction,
						BidderID:  id,
						Amount:    int64(r*100 + i),
					})
					if err != nil && !errors.Is(err, bids.ErrBidTooLow) {
						t.Errorf("unexpected error: %v", err)
					}
				}
			}()
		}
		wg.Wait()

		standing, err := svc.Auctions.ListAuctionBids(ctx, auction, false)
		require.NoError(t, err)
		require.Len(t, standing, 1)

		for _, id := range ids {
			want := int64(50_000)
			if standing[0].BidderID == id {
				want -= standing[0].Amount
			}
			assert.Equal(t, want, balance(t, svc, id))
			require.NoError(t, svc.Ledger.Reconcile(ctx, id))
		}
	})
}

func TestOutboxRepository_Postgres(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	svc := setupServices(t)
	ctx := context.Background()

	ana := seedAccount(t, svc, "ana", 500)
	_, err := svc.Auctions.PlaceBid(ctx, bids.PlaceBidCommand{AuctionID: "lot-1", BidderID: ana, Amount: 100})
	require.NoError(t, err)

	tx, err := svc.TxManager.BeginTx(ctx)
	require.NoError(t, err)
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	pending, err := svc.Outbox.GetPendingEvents(ctx, tx, 10)
	require.NoError(t, err)
	// credit_request.created, credit_request.approved, bid.placed
	require.Len(t, pending, 3)
	assert.Equal(t, "credit_request.created", pending[0].EventType.String())
	assert.Equal(t, "bid.placed", pending[2].EventType.String())

	require.NoError(t, svc.Outbox.UpdateEventStatus(ctx, tx, pending[0].ID, "published"))
	require.NoError(t, tx.Commit(ctx))

	counts, err := svc.Outbox.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts["published"])
	assert.Equal(t, int64(2), counts["pending"])
}
