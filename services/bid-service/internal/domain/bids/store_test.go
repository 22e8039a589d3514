package bids

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/require"

	"github.com/floroz/bidledger/pkg/events"
	"github.com/floroz/bidledger/services/bid-service/internal/domain/ledger"
)

// memStore is an in-memory record store. Transactions are serialised and
// roll back to a snapshot, mirroring the per-auction lock and ACID commit of
// the Postgres adapter.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex

	bids        map[uuid.UUID]Bid
	placements  map[string]Placement
	outbox      []*events.OutboxEvent
	accounts    map[uuid.UUID]ledger.Account
	adjustments []ledger.Adjustment

	failOn map[string]error
	clock  time.Time

	// afterHighestRead runs once GetHighestStandingBid has read its result
	afterHighestRead func()
}

type memSnapshot struct {
	bids        map[uuid.UUID]Bid
	placements  map[string]Placement
	outbox      []*events.OutboxEvent
	accounts    map[uuid.UUID]ledger.Account
	adjustments []ledger.Adjustment
}

func newMemStore() *memStore {
	return &memStore{
		bids:       make(map[uuid.UUID]Bid),
		placements: make(map[string]Placement),
		accounts:   make(map[uuid.UUID]ledger.Account),
		failOn:     make(map[string]error),
		clock:      time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC),
	}
}

// now returns strictly increasing timestamps so creation order is observable.
func (s *memStore) now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = s.clock.Add(time.Millisecond)
	return s.clock
}

func (s *memStore) fail(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failOn[op]
}

type memTx struct {
	pgx.Tx
	store    *memStore
	snapshot memSnapshot
	done     bool
}

func (s *memStore) BeginTx(_ context.Context) (pgx.Tx, error) {
	if err := s.fail("BeginTx"); err != nil {
		return nil, err
	}
	s.txMu.Lock()
	s.mu.Lock()
	defer s.mu.Unlock()
	return &memTx{
		store: s,
		snapshot: memSnapshot{
			bids:        maps.Clone(s.bids),
			placements:  maps.Clone(s.placements),
			outbox:      slices.Clone(s.outbox),
			accounts:    maps.Clone(s.accounts),
			adjustments: slices.Clone(s.adjustments),
		},
	}, nil
}

func (tx *memTx) Commit(_ context.Context) error {
	if tx.done {
		return pgx.ErrTxClosed
	}
	if err := tx.store.fail("Commit"); err != nil {
		_ = tx.Rollback(context.Background())
		return err
	}
	tx.done = true
	tx.store.txMu.Unlock()
	return nil
}

func (tx *memTx) Rollback(_ context.Context) error {
	if tx.done {
		return pgx.ErrTxClosed
	}
	tx.done = true
	s := tx.store
	s.mu.Lock()
	s.bids = tx.snapshot.bids
	s.placements = tx.snapshot.placements
	s.outbox = tx.snapshot.outbox
	s.accounts = tx.snapshot.accounts
	s.adjustments = tx.snapshot.adjustments
	s.mu.Unlock()
	s.txMu.Unlock()
	return nil
}

// AuctionLocker

func (s *memStore) LockAuction(_ context.Context, _ pgx.Tx, _ string) error {
	return s.fail("LockAuction")
}

// BidRepository

func (s *memStore) SaveBid(_ context.Context, _ pgx.Tx, bid *Bid) error {
	if err := s.fail("SaveBid"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bids[bid.ID] = *bid
	return nil
}

func (s *memStore) UpdateBidStatus(_ context.Context, _ pgx.Tx, bidID uuid.UUID, status BidStatus) error {
	if err := s.fail("UpdateBidStatus"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bids[bidID]
	if !ok {
		return ErrBidNotFound
	}
	b.Status = status
	b.UpdatedAt = s.clock
	s.bids[bidID] = b
	return nil
}

func (s *memStore) GetBidByID(_ context.Context, bidID uuid.UUID) (*Bid, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bids[bidID]
	if !ok {
		return nil, ErrBidNotFound
	}
	return &b, nil
}

func (s *memStore) GetBidByIDForUpdate(ctx context.Context, _ pgx.Tx, bidID uuid.UUID) (*Bid, error) {
	return s.GetBidByID(ctx, bidID)
}

func (s *memStore) filter(keep func(Bid) bool) []*Bid {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Bid
	for _, b := range s.bids {
		if keep(b) {
			out = append(out, &b)
		}
	}
	return out
}

func (s *memStore) ListBidsByStatus(_ context.Context, _ pgx.Tx, auctionID string, statuses ...BidStatus) ([]*Bid, error) {
	if err := s.fail("ListBidsByStatus"); err != nil {
		return nil, err
	}
	out := s.filter(func(b Bid) bool {
		return b.AuctionID == auctionID && slices.Contains(statuses, b.Status)
	})
	SortStanding(out)
	return out, nil
}

func (s *memStore) ListAuctionBids(_ context.Context, auctionID string, includeWinner bool) ([]*Bid, error) {
	out := s.filter(func(b Bid) bool {
		return b.AuctionID == auctionID && (b.Status.IsStanding() || (includeWinner && b.Status == BidStatusWinner))
	})
	SortStanding(out)
	return out, nil
}

func (s *memStore) GetHighestStandingBid(ctx context.Context, auctionID string) (*Bid, error) {
	if err := s.fail("GetHighestStandingBid"); err != nil {
		return nil, err
	}
	out, _ := s.ListAuctionBids(ctx, auctionID, false)
	if s.afterHighestRead != nil {
		s.afterHighestRead()
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

func (s *memStore) ListBidderBids(_ context.Context, bidderID uuid.UUID, limit int) ([]*Bid, error) {
	out := s.filter(func(b Bid) bool { return b.BidderID == bidderID })
	slices.SortFunc(out, func(a, b *Bid) int { return b.CreatedAt.Compare(a.CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) ListPendingBids(_ context.Context, auctionID string) ([]*Bid, error) {
	out := s.filter(func(b Bid) bool {
		return b.Status == BidStatusPending && (auctionID == "" || b.AuctionID == auctionID)
	})
	slices.SortFunc(out, func(a, b *Bid) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

// PlacementRepository

func placementKey(bidderID uuid.UUID, key string) string {
	return bidderID.String() + "|" + key
}

func (s *memStore) GetPlacement(_ context.Context, _ pgx.Tx, bidderID uuid.UUID, key string) (*Placement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.placements[placementKey(bidderID, key)]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *memStore) SavePlacement(_ context.Context, _ pgx.Tx, p *Placement) error {
	if err := s.fail("SavePlacement"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.placements[placementKey(p.BidderID, p.IdempotencyKey)] = *p
	return nil
}

// OutboxRepository

func (s *memStore) SaveEvent(_ context.Context, _ pgx.Tx, event *events.OutboxEvent) error {
	if err := s.fail("SaveEvent"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outbox = append(s.outbox, event)
	return nil
}

// ledger.AccountRepository

func (s *memStore) GetAccount(_ context.Context, id uuid.UUID) (*ledger.Account, error) {
	if err := s.fail("GetAccount"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[id]
	if !ok {
		return nil, ledger.ErrAccountNotFound
	}
	return &acc, nil
}

func (s *memStore) GetAccountsForUpdate(_ context.Context, _ pgx.Tx, ids []uuid.UUID) ([]*ledger.Account, error) {
	if err := s.fail("GetAccountsForUpdate"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ledger.Account
	for _, id := range ids {
		if acc, ok := s.accounts[id]; ok {
			out = append(out, &acc)
		}
	}
	return out, nil
}

func (s *memStore) UpdateCredits(_ context.Context, _ pgx.Tx, id uuid.UUID, credits int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.accounts[id]
	acc.Credits = credits
	s.accounts[id] = acc
	return nil
}

func (s *memStore) UpsertAccount(_ context.Context, cmd ledger.SyncAccountCommand) (*ledger.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.accounts[cmd.ID]
	acc.ID, acc.Username, acc.Verified = cmd.ID, cmd.Username, cmd.Verified
	s.accounts[cmd.ID] = acc
	return &acc, nil
}

// ledger.AdjustmentRepository

func (s *memStore) SaveAdjustment(_ context.Context, _ pgx.Tx, adj *ledger.Adjustment) error {
	if err := s.fail("SaveAdjustment"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.adjustments {
		if a.Kind == adj.Kind && a.ReferenceID == adj.ReferenceID && a.AccountID == adj.AccountID {
			return ledger.ErrDuplicateAdjustment
		}
	}
	s.adjustments = append(s.adjustments, *adj)
	return nil
}

func (s *memStore) ListAdjustments(_ context.Context, accountID uuid.UUID, limit int) ([]*ledger.Adjustment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ledger.Adjustment
	for i := len(s.adjustments) - 1; i >= 0 && len(out) < limit; i-- {
		if a := s.adjustments[i]; a.AccountID == accountID {
			out = append(out, &a)
		}
	}
	return out, nil
}

func (s *memStore) SumDeltas(_ context.Context, accountID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, a := range s.adjustments {
		if a.AccountID == accountID {
			sum += a.Delta
		}
	}
	return sum, nil
}

// memCache is an in-memory StandingCache.
type memCache struct {
	mu      sync.Mutex
	highest map[string]Bid
	gen     map[string]int64
	reads   int
}

func newMemCache() *memCache {
	return &memCache{highest: make(map[string]Bid), gen: make(map[string]int64)}
}

func (c *memCache) GetHighest(_ context.Context, auctionID string) (*Bid, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	b, ok := c.highest[auctionID]
	if !ok {
		return nil, false, nil
	}
	return &b, true, nil
}

func (c *memCache) Generation(_ context.Context, auctionID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen[auctionID], nil
}

func (c *memCache) SetHighest(_ context.Context, bid *Bid, gen int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen[bid.AuctionID] != gen {
		return nil
	}
	if cur, ok := c.highest[bid.AuctionID]; ok && cur.Amount >= bid.Amount {
		return nil
	}
	c.highest[bid.AuctionID] = *bid
	return nil
}

func (c *memCache) Invalidate(_ context.Context, auctionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen[auctionID]++
	delete(c.highest, auctionID)
	return nil
}

// fixture wires an AuctionService to a memStore.
type fixture struct {
	store   *memStore
	cache   *memCache
	ledger  *ledger.Ledger
	service *AuctionService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	cache := newMemCache()
	l := ledger.NewLedger(store, store)
	svc := NewAuctionService(store, store, store, store, store, l, WithStandingCache(cache))
	svc.now = store.now
	return &fixture{store: store, cache: cache, ledger: l, service: svc}
}

// account creates a bidder whose opening balance is a credit grant, so the
// ledger reconciles from the start.
func (f *fixture) account(t *testing.T, username string, verified bool, credits int64) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	id := uuid.New()
	_, err := f.ledger.SyncAccount(ctx, ledger.SyncAccountCommand{ID: id, Username: username, Verified: verified})
	require.NoError(t, err)
	if credits > 0 {
		tx, err := f.store.BeginTx(ctx)
		require.NoError(t, err)
		_, err = f.ledger.Credit(ctx, tx, id, credits, ledger.KindCreditGrant, uuid.New())
		require.NoError(t, err)
		require.NoError(t, tx.Commit(ctx))
	}
	return id
}

func (f *fixture) balance(t *testing.T, id uuid.UUID) int64 {
	t.Helper()
	acc, err := f.ledger.GetAccount(context.Background(), id)
	require.NoError(t, err)
	return acc.Credits
}

func (f *fixture) bid(t *testing.T, id uuid.UUID) *Bid {
	t.Helper()
	b, err := f.store.GetBidByID(context.Background(), id)
	require.NoError(t, err)
	return b
}

func (f *fixture) place(t *testing.T, auctionID string, bidder uuid.UUID, amount int64) *PlaceBidResult {
	t.Helper()
	res, err := f.service.PlaceBid(context.Background(), PlaceBidCommand{
		AuctionID:    auctionID,
		AuctionTitle: fmt.Sprintf("Lot %s", auctionID),
		BidderID:     bidder,
		Amount:       amount,
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) eventTypes() []events.EventType {
	f.store.mu.Lock()
	defer f.store.mu.Unlock()
	out := make([]events.EventType, 0, len(f.store.outbox))
	for _, e := range f.store.outbox {
		out = append(out, e.EventType)
	}
	return out
}
