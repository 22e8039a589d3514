package creditrequests

import "errors"

var (
	ErrInvalidAmount           = errors.New("requested amount must be positive")
	ErrInvalidStatus           = errors.New("unknown credit request status")
	ErrUnverified              = errors.New("account must be verified to request credits")
	ErrDuplicatePendingRequest = errors.New("a pending credit request already exists")
	ErrCreditRequestNotFound   = errors.New("credit request not found")
	ErrInvalidState            = errors.New("credit request is not pending")
)
