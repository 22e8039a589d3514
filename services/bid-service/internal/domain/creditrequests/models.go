package creditrequests

import (
	"time"

	"github.com/google/uuid"
)

// Status of a credit request
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// CreditRequest is a user's ask for more credits, decided by an admin.
type CreditRequest struct {
	ID         uuid.UUID  `db:"id"`
	UserID     uuid.UUID  `db:"user_id"`
	Amount     int64      `db:"amount"`
	Reason     string     `db:"reason"`
	Status     Status     `db:"status"`
	AdminNotes string     `db:"admin_notes"`
	CreatedAt  time.Time  `db:"created_at"`
	UpdatedAt  time.Time  `db:"updated_at"`
	DecidedAt  *time.Time `db:"decided_at"`
}

// CreateCommand opens a new request.
type CreateCommand struct {
	UserID uuid.UUID
	Amount int64
	Reason string
}

// DecideCommand approves or rejects a pending request.
type DecideCommand struct {
	RequestID  uuid.UUID
	AdminNotes string
}

// ListFilter selects requests. A zero UserID lists every user.
type ListFilter struct {
	UserID uuid.UUID
	Status Status
	Limit  int
}
