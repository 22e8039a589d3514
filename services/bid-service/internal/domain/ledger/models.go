package ledger

import (
	"time"

	"github.com/google/uuid"
)

// AdjustmentKind names the cause of a balance change.
type AdjustmentKind string

const (
	KindBidCharge    AdjustmentKind = "bid_charge"
	KindBidRefund    AdjustmentKind = "bid_refund"
	KindOutbidRefund AdjustmentKind = "outbid_refund"
	KindCreditGrant  AdjustmentKind = "credit_grant"
)

// Account is a bidder's credit balance. Credits is the running sum of the
// account's adjustments.
type Account struct {
	ID        uuid.UUID `db:"id"`
	Username  string    `db:"username"`
	Verified  bool      `db:"verified"`
	Credits   int64     `db:"credits"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Adjustment is an append-only ledger entry. (Kind, ReferenceID, AccountID)
// is unique, so an effect can be applied at most once per cause.
type Adjustment struct {
	ID           uuid.UUID      `db:"id"`
	AccountID    uuid.UUID      `db:"account_id"`
	Kind         AdjustmentKind `db:"kind"`
	Delta        int64          `db:"delta"`
	ReferenceID  uuid.UUID      `db:"reference_id"`
	BalanceAfter int64          `db:"balance_after"`
	CreatedAt    time.Time      `db:"created_at"`
}

// SyncAccountCommand mirrors a user from the auth subsystem.
type SyncAccountCommand struct {
	ID       uuid.UUID
	Username string
	Verified bool
}
