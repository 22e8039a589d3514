package ledger

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrAccountNotFound     = errors.New("account not found")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrDuplicateAdjustment = errors.New("adjustment already applied")
	ErrLedgerMismatch      = errors.New("cached balance does not match ledger")
	ErrInvalidUsername     = errors.New("username is required")
)

// InsufficientCreditsError reports how far short an account is.
type InsufficientCreditsError struct {
	AccountID uuid.UUID
	Balance   int64
	Required  int64
}

// Shortfall is the number of credits missing.
func (e *InsufficientCreditsError) Shortfall() int64 {
	return e.Required - e.Balance
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits, need $%d more", e.Shortfall())
}

func (e *InsufficientCreditsError) Unwrap() error {
	return ErrInsufficientCredits
}
