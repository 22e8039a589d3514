package ledger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/floroz/bidledger/pkg/database"
)

const defaultHistoryLimit = 50

// Ledger owns every balance change. Mutations run inside the caller's
// transaction so they commit or roll back with the effect that caused them.
type Ledger struct {
	accounts    AccountRepository
	adjustments AdjustmentRepository
	now         func() time.Time
}

// NewLedger creates a new credit ledger
func NewLedger(accounts AccountRepository, adjustments AdjustmentRepository) *Ledger {
	return &Ledger{
		accounts:    accounts,
		adjustments: adjustments,
		now:         time.Now,
	}
}

// GetAccount returns the account without locking it.
func (l *Ledger) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	acc, err := l.accounts.GetAccount(ctx, id)
	if err != nil {
		return nil, database.Classify(err)
	}
	return acc, nil
}

// SyncAccount mirrors a user profile from the auth subsystem.
func (l *Ledger) SyncAccount(ctx context.Context, cmd SyncAccountCommand) (*Account, error) {
	cmd.Username = strings.TrimSpace(cmd.Username)
	if cmd.Username == "" {
		return nil, ErrInvalidUsername
	}
	acc, err := l.accounts.UpsertAccount(ctx, cmd)
	if err != nil {
		return nil, database.Classify(fmt.Errorf("failed to sync account: %w", err))
	}
	return acc, nil
}

// LockAccounts locks the given accounts for the rest of tx. Ids are
// deduplicated and locked in ascending order so concurrent transactions
// touching the same accounts cannot deadlock.
func (l *Ledger) LockAccounts(ctx context.Context, tx pgx.Tx, ids ...uuid.UUID) (map[uuid.UUID]*Account, error) {
	ordered := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id != uuid.Nil {
			ordered = append(ordered, id)
		}
	}
	slices.SortFunc(ordered, func(a, b uuid.UUID) int {
		return bytes.Compare(a[:], b[:])
	})
	ordered = slices.Compact(ordered)

	rows, err := l.accounts.GetAccountsForUpdate(ctx, tx, ordered)
	if err != nil {
		return nil, database.Classify(fmt.Errorf("failed to lock accounts: %w", err))
	}

	locked := make(map[uuid.UUID]*Account, len(rows))
	for _, acc := range rows {
		locked[acc.ID] = acc
	}
	for _, id := range ordered {
		if _, ok := locked[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
		}
	}
	return locked, nil
}

// Debit removes amount from the account. The balance never goes negative.
func (l *Ledger) Debit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64, kind AdjustmentKind, ref uuid.UUID) (*Adjustment, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return l.apply(ctx, tx, accountID, -amount, kind, ref)
}

// Credit adds amount to the account.
func (l *Ledger) Credit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int64, kind AdjustmentKind, ref uuid.UUID) (*Adjustment, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	return l.apply(ctx, tx, accountID, amount, kind, ref)
}

func (l *Ledger) apply(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, delta int64, kind AdjustmentKind, ref uuid.UUID) (*Adjustment, error) {
	// Re-locking a row already held by tx is a no-op
	locked, err := l.LockAccounts(ctx, tx, accountID)
	if err != nil {
		return nil, err
	}
	acc := locked[accountID]

	balanceAfter := acc.Credits + delta
	if balanceAfter < 0 {
		return nil, &InsufficientCreditsError{
			AccountID: accountID,
			Balance:   acc.Credits,
			Required:  -delta,
		}
	}

	adj := &Adjustment{
		ID:           uuid.New(),
		AccountID:    accountID,
		Kind:         kind,
		Delta:        delta,
		ReferenceID:  ref,
		BalanceAfter: balanceAfter,
		CreatedAt:    l.now(),
	}

	if err := l.adjustments.SaveAdjustment(ctx, tx, adj); err != nil {
		if errors.Is(err, ErrDuplicateAdjustment) {
			return nil, err
		}
		return nil, database.Classify(fmt.Errorf("failed to save adjustment: %w", err))
	}

	if err := l.accounts.UpdateCredits(ctx, tx, accountID, balanceAfter); err != nil {
		return nil, database.Classify(fmt.Errorf("failed to update balance: %w", err))
	}

	acc.Credits = balanceAfter
	return adj, nil
}

// History returns the newest ledger entries of the account.
func (l *Ledger) History(ctx context.Context, accountID uuid.UUID, limit int) ([]*Adjustment, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	entries, err := l.adjustments.ListAdjustments(ctx, accountID, limit)
	if err != nil {
		return nil, database.Classify(fmt.Errorf("failed to list adjustments: %w", err))
	}
	return entries, nil
}

// Reconcile checks that the cached balance equals the fold of the ledger.
func (l *Ledger) Reconcile(ctx context.Context, accountID uuid.UUID) error {
	acc, err := l.GetAccount(ctx, accountID)
	if err != nil {
		return err
	}
	sum, err := l.adjustments.SumDeltas(ctx, accountID)
	if err != nil {
		return database.Classify(fmt.Errorf("failed to sum adjustments: %w", err))
	}
	if sum != acc.Credits {
		return fmt.Errorf("%w: account %s has %d, ledger sums to %d", ErrLedgerMismatch, accountID, acc.Credits, sum)
	}
	return nil
}
