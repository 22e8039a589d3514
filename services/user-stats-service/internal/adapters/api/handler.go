package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/floroz/bidledger/pkg/auth"
	"github.com/floroz/bidledger/pkg/rpc"
	"github.com/floroz/bidledger/services/user-stats-service/internal/domain/userstats"
)

const (
	ServiceName = "bidledger.v1.UserStatsService"

	GetBidderStatsProcedure = "/" + ServiceName + "/GetBidderStats"

	// viewing someone else's stats
	PermissionViewStats = "stats:read"
)

type GetBidderStatsRequest struct {
	// UserID defaults to the caller
	UserID string `json:"user_id,omitempty"`
}

type BidderStats struct {
	UserID         string `json:"user_id"`
	BidsPlaced     int64  `json:"bids_placed"`
	TotalAmountBid int64  `json:"total_amount_bid"`
	TotalCharged   int64  `json:"total_charged"`
	TimesOutbid    int64  `json:"times_outbid"`
	TotalRefunded  int64  `json:"total_refunded"`
	AuctionsWon    int64  `json:"auctions_won"`
	TotalWonAmount int64  `json:"total_won_amount"`
	LastBidAt      string `json:"last_bid_at,omitempty"`
	UpdatedAt      string `json:"updated_at"`
}

type GetBidderStatsResponse struct {
	Stats BidderStats `json:"stats"`
}

type StatsReader interface {
	GetBidderStats(ctx context.Context, userID uuid.UUID) (*userstats.BidderStats, error)
}

type UserStatsServiceHandler struct {
	service StatsReader
	logger  *slog.Logger
}

func NewUserStatsServiceHandler(service StatsReader, logger *slog.Logger) *UserStatsServiceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UserStatsServiceHandler{
		service: service,
		logger:  logger,
	}
}

func (h *UserStatsServiceHandler) Register(mux *http.ServeMux, opts ...connect.HandlerOption) {
	mux.Handle(GetBidderStatsProcedure, rpc.NewUnaryHandler(GetBidderStatsProcedure, h.GetBidderStats, opts...))
}

func (h *UserStatsServiceHandler) GetBidderStats(
	ctx context.Context,
	req *connect.Request[GetBidderStatsRequest],
) (*connect.Response[GetBidderStatsResponse], error) {
	callerID, err := auth.RequireUserID(ctx)
	if err != nil {
		return nil, err
	}

	userID := callerID
	if req.Msg.UserID != "" {
		userID, err = uuid.Parse(req.Msg.UserID)
		if err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid user_id"))
		}
	}
	if userID != callerID {
		if err := auth.RequirePermission(ctx, PermissionViewStats); err != nil {
			return nil, err
		}
	}

	stats, err := h.service.GetBidderStats(ctx, userID)
	if err != nil {
		if errors.Is(err, userstats.ErrStatsNotFound) {
			return nil, connect.NewError(connect.CodeNotFound, errors.New("bidder stats not found"))
		}
		h.logger.Error("Failed to load bidder stats", "user_id", userID, "error", err)
		return nil, connect.NewError(connect.CodeInternal, errors.New("internal error"))
	}

	return connect.NewResponse(&GetBidderStatsResponse{Stats: toBidderStats(stats)}), nil
}

func toBidderStats(s *userstats.BidderStats) BidderStats {
	out := BidderStats{
		UserID:         s.UserID.String(),
		BidsPlaced:     s.BidsPlaced,
		TotalAmountBid: s.TotalAmountBid,
		TotalCharged:   s.TotalCharged,
		TimesOutbid:    s.TimesOutbid,
		TotalRefunded:  s.TotalRefunded,
		AuctionsWon:    s.AuctionsWon,
		TotalWonAmount: s.TotalWonAmount,
		UpdatedAt:      s.UpdatedAt.Format(time.RFC3339),
	}
	if s.LastBidAt != nil {
		out.LastBidAt = s.LastBidAt.Format(time.RFC3339)
	}
	return out
}
