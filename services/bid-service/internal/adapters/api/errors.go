package api

import (
	"context"
	"errors"
	"log/slog"

	"connectrpc.com/connect"

	pkgdb "github.com/floroz/bidledger/pkg/database"
	"github.com/floroz/bidledger/services/bid-service/internal/domain/bids"
	"github.com/floroz/bidledger/services/bid-service/internal/domain/creditrequests"
	"github.com/floroz/bidledger/services/bid-service/internal/domain/ledger"
)

var (
	errUnavailable = errors.New("service temporarily unavailable, please retry")
	errInternal    = errors.New("internal error")
)

// toConnectError maps domain failures to connect codes. Dependency failures
// and unknown errors are logged and replaced with a generic message.
func toConnectError(logger *slog.Logger, procedure string, err error) error {
	var tooLow *bids.BidTooLowError
	var short *ledger.InsufficientCreditsError

	switch {
	case errors.As(err, &tooLow):
		return connect.NewError(connect.CodeFailedPrecondition, tooLow)
	case errors.As(err, &short):
		return connect.NewError(connect.CodeFailedPrecondition, short)

	case errors.Is(err, bids.ErrUnverified),
		errors.Is(err, creditrequests.ErrUnverified):
		return connect.NewError(connect.CodePermissionDenied, err)

	case errors.Is(err, bids.ErrInvalidAuction),
		errors.Is(err, bids.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInvalidUsername),
		errors.Is(err, creditrequests.ErrInvalidAmount),
		errors.Is(err, creditrequests.ErrInvalidStatus):
		return connect.NewError(connect.CodeInvalidArgument, err)

	case errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, bids.ErrBidNotFound),
		errors.Is(err, creditrequests.ErrCreditRequestNotFound):
		return connect.NewError(connect.CodeNotFound, err)

	case errors.Is(err, bids.ErrInvalidState),
		errors.Is(err, bids.ErrNoActiveBids),
		errors.Is(err, bids.ErrAuctionClosed),
		errors.Is(err, creditrequests.ErrInvalidState):
		return connect.NewError(connect.CodeFailedPrecondition, err)

	case errors.Is(err, creditrequests.ErrDuplicatePendingRequest),
		errors.Is(err, bids.ErrIdempotencyConflict):
		return connect.NewError(connect.CodeAlreadyExists, err)

	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)

	case errors.Is(err, pkgdb.ErrDependencyFailure):
		logger.Warn("Dependency failure", "procedure", procedure, "error", err)
		return connect.NewError(connect.CodeUnavailable, errUnavailable)
	}

	logger.Error("Unhandled error", "procedure", procedure, "error", err)
	return connect.NewError(connect.CodeInternal, errInternal)
}

// bidOutcome labels a placement for metrics.
func bidOutcome(res *bids.PlaceBidResult, err error) string {
	switch {
	case err == nil && res.Replayed:
		return "replayed"
	case err == nil && res.Bid.Status == bids.BidStatusPending:
		return "pending"
	case err == nil:
		return "accepted"
	case errors.Is(err, bids.ErrBidTooLow):
		return "too_low"
	case errors.Is(err, ledger.ErrInsufficientCredits):
		return "insufficient_credits"
	case errors.Is(err, bids.ErrUnverified):
		return "unverified"
	case errors.Is(err, bids.ErrAuctionClosed):
		return "auction_closed"
	case errors.Is(err, pkgdb.ErrDependencyFailure):
		return "unavailable"
	default:
		return "rejected"
	}
}
