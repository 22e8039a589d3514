package bids

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/floroz/bidledger/pkg/database"
	"github.com/floroz/bidledger/services/bid-service/internal/domain/ledger"
)

const defaultTimeout = 5 * time.Second

// AuctionService implements the bidding engine, bid moderation and
// auction resolution. Every mutation runs in one transaction holding the
// auction's lock, so the ledger, the bids and the outbox move together.
type AuctionService struct {
	txManager  database.TransactionManager
	bidRepo    BidRepository
	locker     AuctionLocker
	placements PlacementRepository
	outboxRepo OutboxRepository
	ledger     CreditLedger
	cache      StandingCache
	timeout    time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// Option configures an AuctionService.
type Option func(*AuctionService)

// WithTimeout bounds every operation, including time spent waiting on locks.
func WithTimeout(d time.Duration) Option {
	return func(s *AuctionService) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger used for post-commit cache failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *AuctionService) {
		s.logger = logger
	}
}

// WithStandingCache enables the highest-bid read model.
func WithStandingCache(cache StandingCache) Option {
	return func(s *AuctionService) {
		s.cache = cache
	}
}

// NewAuctionService creates a new auction service
func NewAuctionService(
	txManager database.TransactionManager,
	bidRepo BidRepository,
	locker AuctionLocker,
	placements PlacementRepository,
	outboxRepo OutboxRepository,
	creditLedger CreditLedger,
	opts ...Option,
) *AuctionService {
	s := &AuctionService{
		txManager:  txManager,
		bidRepo:    bidRepo,
		locker:     locker,
		placements: placements,
		outboxRepo: outboxRepo,
		ledger:     creditLedger,
		timeout:    defaultTimeout,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// begin opens a transaction bounded by the service timeout and takes the
// auction lock. The returned cleanup rolls back unless committed.
func (s *AuctionService) begin(ctx context.Context, auctionID string) (context.Context, pgx.Tx, func(), error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)

	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		cancel()
		return nil, nil, nil, database.Classify(fmt.Errorf("failed to begin transaction: %w", err))
	}
	cleanup := func() {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		cancel()
	}

	if err := s.locker.LockAuction(ctx, tx, auctionID); err != nil {
		cleanup()
		return nil, nil, nil, database.Classify(fmt.Errorf("failed to lock auction: %w", err))
	}
	return ctx, tx, cleanup, nil
}

// PlaceBid validates the bid against the current standing bids, charges the
// bidder, refunds whoever was outbid and records the new bid, all in one
// transaction. Nothing is written unless every check passes.
func (s *AuctionService) PlaceBid(ctx context.Context, cmd PlaceBidCommand) (*PlaceBidResult, error) {
	cmd.AuctionID = strings.TrimSpace(cmd.AuctionID)
	cmd.IdempotencyKey = strings.TrimSpace(cmd.IdempotencyKey)
	if cmd.AuctionID == "" {
		// A missing auction still ranks after the bidder and amount checks
		if err := s.checkBidder(ctx, cmd); err != nil {
			return nil, err
		}
		return nil, ErrInvalidAuction
	}

	ctx, tx, cleanup, err := s.begin(ctx, cmd.AuctionID)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if cmd.IdempotencyKey != "" {
		placement, getErr := s.placements.GetPlacement(ctx, tx, cmd.BidderID, cmd.IdempotencyKey)
		if getErr != nil {
			return nil, database.Classify(fmt.Errorf("failed to check idempotency key: %w", getErr))
		}
		if placement != nil {
			if placement.AuctionID != cmd.AuctionID {
				return nil, ErrIdempotencyConflict
			}
			return s.replay(ctx, placement)
		}
	}

	// Validation, in order. The first failure wins and nothing is written.
	if err := s.checkBidder(ctx, cmd); err != nil {
		return nil, err
	}

	winners, err := s.bidRepo.ListBidsByStatus(ctx, tx, cmd.AuctionID, BidStatusWinner)
	if err != nil {
		return nil, database.Classify(fmt.Errorf("failed to check auction state: %w", err))
	}
	if len(winners) > 0 {
		return nil, ErrAuctionClosed
	}

	standing, err := s.bidRepo.ListBidsByStatus(ctx, tx, cmd.AuctionID, BidStatusActive, BidStatusPending)
	if err != nil {
		return nil, database.Classify(fmt.Errorf("failed to read standing bids: %w", err))
	}
	SortStanding(standing)

	var highest, own *Bid
	if len(standing) > 0 {
		highest = standing[0]
		if cmd.Amount <= highest.Amount {
			return nil, &BidTooLowError{Minimum: highest.Amount}
		}
	}
	for _, b := range standing {
		if b.BidderID == cmd.BidderID {
			own = b
			break
		}
	}

	amountToCharge := cmd.Amount
	if own != nil {
		amountToCharge = cmd.Amount - own.Amount
	}

	var outbid *Bid
	if highest != nil && highest.BidderID != cmd.BidderID {
		outbid = highest
	}

	lockIDs := []uuid.UUID{cmd.BidderID}
	if outbid != nil {
		lockIDs = append(lockIDs, outbid.BidderID)
	}
	locked, err := s.ledger.LockAccounts(ctx, tx, lockIDs...)
	if err != nil {
		return nil, err
	}
	if balance := locked[cmd.BidderID].Credits; balance < amountToCharge {
		return nil, &ledger.InsufficientCreditsError{
			AccountID: cmd.BidderID,
			Balance:   balance,
			Required:  amountToCharge,
		}
	}

	// Effects
	now := s.now()
	status := BidStatusActive
	if cmd.RequiresApproval {
		status = BidStatusPending
	}
	bid := &Bid{
		ID:            uuid.New(),
		AuctionID:     cmd.AuctionID,
		AuctionTitle:  cmd.AuctionTitle,
		BidderID:      cmd.BidderID,
		Amount:        cmd.Amount,
		AmountCharged: amountToCharge,
		Status:        status,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	charge, err := s.ledger.Debit(ctx, tx, cmd.BidderID, amountToCharge, ledger.KindBidCharge, bid.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to charge bidder: %w", err)
	}

	if outbid != nil {
		if _, err := s.ledger.Credit(ctx, tx, outbid.BidderID, outbid.Amount, ledger.KindOutbidRefund, outbid.ID); err != nil {
			return nil, fmt.Errorf("failed to refund outbid bidder: %w", err)
		}
		if err := s.bidRepo.UpdateBidStatus(ctx, tx, outbid.ID, BidStatusOutbid); err != nil {
			return nil, database.Classify(fmt.Errorf("failed to mark bid outbid: %w", err))
		}
	}

	if own != nil {
		if err := s.bidRepo.UpdateBidStatus(ctx, tx, own.ID, BidStatusOutbid); err != nil {
			return nil, database.Classify(fmt.Errorf("failed to supersede own bid: %w", err))
		}
	}

	if err := s.bidRepo.SaveBid(ctx, tx, bid); err != nil {
		return nil, database.Classify(fmt.Errorf("failed to save bid: %w", err))
	}

	if err := s.saveEvent(ctx, tx, bidPlacedEvent(bid, outbid, now)); err != nil {
		return nil, err
	}
	if outbid != nil {
		if err := s.saveEvent(ctx, tx, bidOutbidEvent(outbid, bid, now)); err != nil {
			return nil, err
		}
	}

	if cmd.IdempotencyKey != "" {
		placement := &Placement{
			BidderID:       cmd.BidderID,
			IdempotencyKey: cmd.IdempotencyKey,
			AuctionID:      cmd.AuctionID,
			BidID:          bid.ID,
			CreatedAt:      now,
		}
		if err := s.placements.SavePlacement(ctx, tx, placement); err != nil {
			// Same key raced on another auction
			if database.IsUniqueViolation(err, "") {
				return nil, ErrIdempotencyConflict
			}
			return nil, database.Classify(fmt.Errorf("failed to save idempotency key: %w", err))
		}
	}

	// Read under the auction lock so a later moderation bumps past it
	gen, genOK := s.cacheGeneration(ctx, cmd.AuctionID)

	if err := tx.Commit(ctx); err != nil {
		return nil, database.Classify(fmt.Errorf("failed to commit transaction: %w", err))
	}

	if genOK {
		s.cacheHighest(ctx, bid, gen)
	}

	return &PlaceBidResult{
		Bid:           bid,
		NewBalance:    charge.BalanceAfter,
		AmountCharged: amountToCharge,
	}, nil
}

func (s *AuctionService) replay(ctx context.Context, placement *Placement) (*PlaceBidResult, error) {
	bid, err := s.bidRepo.GetBidByID(ctx, placement.BidID)
	if err != nil {
		return nil, database.Classify(fmt.Errorf("failed to load replayed bid: %w", err))
	}
	acc, err := s.ledger.GetAccount(ctx, placement.BidderID)
	if err != nil {
		return nil, err
	}
	return &PlaceBidResult{
		Bid:           bid,
		NewBalance:    acc.Credits,
		AmountCharged: bid.AmountCharged,
		Replayed:      true,
	}, nil
}

// ApproveBid promotes a pending bid to active. Balances are unchanged.
func (s *AuctionService) ApproveBid(ctx context.Context, bidID uuid.UUID) (*Bid, error) {
	return s.moderate(ctx, bidID, func(ctx context.Context, tx pgx.Tx, bid *Bid) error {
		if err := s.bidRepo.UpdateBidStatus(ctx, tx, bid.ID, BidStatusActive); err != nil {
			return database.Classify(fmt.Errorf("failed to approve bid: %w", err))
		}
		bid.Status = BidStatusActive
		return s.saveEvent(ctx, tx, bidModeratedEvent(bid, false, s.now()))
	})
}

// RejectBid refunds what a pending bid charged and retires it.
func (s *AuctionService) RejectBid(ctx context.Context, bidID uuid.UUID) (*Bid, error) {
	return s.moderate(ctx, bidID, func(ctx context.Context, tx pgx.Tx, bid *Bid) error {
		if _, err := s.ledger.Credit(ctx, tx, bid.BidderID, bid.AmountCharged, ledger.KindBidRefund, bid.ID); err != nil {
			return fmt.Errorf("failed to refund rejected bid: %w", err)
		}
		if err := s.bidRepo.UpdateBidStatus(ctx, tx, bid.ID, BidStatusOutbid); err != nil {
			return database.Classify(fmt.Errorf("failed to reject bid: %w", err))
		}
		bid.Status = BidStatusOutbid
		return s.saveEvent(ctx, tx, bidModeratedEvent(bid, true, s.now()))
	})
}

func (s *AuctionService) moderate(ctx context.Context, bidID uuid.UUID, apply func(context.Context, pgx.Tx, *Bid) error) (*Bid, error) {
	// The auction id is immutable, so an unlocked read is enough to find the lock
	found, err := s.bidRepo.GetBidByID(ctx, bidID)
	if err != nil {
		if errors.Is(err, ErrBidNotFound) {
			return nil, err
		}
		return nil, database.Classify(fmt.Errorf("failed to load bid: %w", err))
	}

	ctx, tx, cleanup, err := s.begin(ctx, found.AuctionID)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	bid, err := s.bidRepo.GetBidByIDForUpdate(ctx, tx, bidID)
	if err != nil {
		if errors.Is(err, ErrBidNotFound) {
			return nil, err
		}
		return nil, database.Classify(fmt.Errorf("failed to lock bid: %w", err))
	}
	if bid.Status != BidStatusPending {
		return nil, ErrInvalidState
	}

	if err := apply(ctx, tx, bid); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, database.Classify(fmt.Errorf("failed to commit transaction: %w", err))
	}
	bid.UpdatedAt = s.now()

	s.invalidate(ctx, bid.AuctionID)
	return bid, nil
}

// CloseAuction declares the highest active bid the winner and retires the
// other active bids without refunding them. Closing again returns the same
// winner. Pending bids are left for moderation.
func (s *AuctionService) CloseAuction(ctx context.Context, auctionID string) (*CloseAuctionResult, error) {
	auctionID = strings.TrimSpace(auctionID)
	if auctionID == "" {
		return nil, ErrInvalidAuction
	}

	ctx, tx, cleanup, err := s.begin(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	winners, err := s.bidRepo.ListBidsByStatus(ctx, tx, auctionID, BidStatusWinner)
	if err != nil {
		return nil, database.Classify(fmt.Errorf("failed to read winner: %w", err))
	}
	active, err := s.bidRepo.ListBidsByStatus(ctx, tx, auctionID, BidStatusActive)
	if err != nil {
		return nil, database.Classify(fmt.Errorf("failed to read active bids: %w", err))
	}
	SortStanding(active)

	if len(winners) == 0 && len(active) == 0 {
		return nil, ErrNoActiveBids
	}

	result := &CloseAuctionResult{AuctionID: auctionID}
	var winner *Bid
	if len(winners) > 0 {
		winner = winners[0]
		result.AlreadyClosed = true
	} else {
		winner, active = active[0], active[1:]
		if err := s.bidRepo.UpdateBidStatus(ctx, tx, winner.ID, BidStatusWinner); err != nil {
			return nil, database.Classify(fmt.Errorf("failed to promote winner: %w", err))
		}
	}

	for _, b := range active {
		if err := s.bidRepo.UpdateBidStatus(ctx, tx, b.ID, BidStatusOutbid); err != nil {
			return nil, database.Classify(fmt.Errorf("failed to demote bid %s: %w", b.ID, err))
		}
		result.Demoted = append(result.Demoted, b.ID)
		result.DemotedBidders = append(result.DemotedBidders, b.BidderID)
	}

	account, err := s.ledger.GetAccount(ctx, winner.BidderID)
	if err != nil {
		return nil, err
	}

	result.WinnerBidID = winner.ID
	result.WinnerID = winner.BidderID
	result.WinnerUsername = account.Username
	result.WinningAmount = winner.Amount

	if !result.AlreadyClosed {
		if err := s.saveEvent(ctx, tx, auctionClosedEvent(result, s.now())); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, database.Classify(fmt.Errorf("failed to commit transaction: %w", err))
	}

	s.invalidate(ctx, auctionID)
	return result, nil
}

// checkBidder runs the checks that do not depend on auction state.
func (s *AuctionService) checkBidder(ctx context.Context, cmd PlaceBidCommand) error {
	bidder, err := s.ledger.GetAccount(ctx, cmd.BidderID)
	if err != nil {
		return err
	}
	if !bidder.Verified {
		return ErrUnverified
	}
	if cmd.Amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// cacheGeneration reports ok=false when the cache is off or unreadable,
// in which case nothing should be written to it.
func (s *AuctionService) cacheGeneration(ctx context.Context, auctionID string) (int64, bool) {
	if s.cache == nil {
		return 0, false
	}
	gen, err := s.cache.Generation(context.WithoutCancel(ctx), auctionID)
	if err != nil {
		s.logger.Warn("Failed to read standing cache generation", "auction_id", auctionID, "error", err)
		return 0, false
	}
	return gen, true
}

func (s *AuctionService) cacheHighest(ctx context.Context, bid *Bid, gen int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetHighest(context.WithoutCancel(ctx), bid, gen); err != nil {
		s.logger.Warn("Failed to cache highest bid", "auction_id", bid.AuctionID, "error", err)
	}
}

func (s *AuctionService) invalidate(ctx context.Context, auctionID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(context.WithoutCancel(ctx), auctionID); err != nil {
		s.logger.Warn("Failed to invalidate standing cache", "auction_id", auctionID, "error", err)
	}
}
