package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"
	"github.com/google/uuid"

	"github.com/floroz/bidledger/pkg/auth"
	"github.com/floroz/bidledger/pkg/rpc"
	"github.com/floroz/bidledger/services/bid-service/internal/domain/bids"
	"github.com/floroz/bidledger/services/bid-service/internal/domain/creditrequests"
	"github.com/floroz/bidledger/services/bid-service/internal/domain/ledger"
	"github.com/floroz/bidledger/services/bid-service/internal/metrics"
)

// AuctionService is the bidding engine as seen by the API.
type AuctionService interface {
	PlaceBid(ctx context.Context, cmd bids.PlaceBidCommand) (*bids.PlaceBidResult, error)
	CloseAuction(ctx context.Context, auctionID string) (*bids.CloseAuctionResult, error)
	ApproveBid(ctx context.Context, bidID uuid.UUID) (*bids.Bid, error)
	RejectBid(ctx context.Context, bidID uuid.UUID) (*bids.Bid, error)
	ListPendingBids(ctx context.Context, auctionID string) ([]*bids.Bid, error)
	ListAuctionBids(ctx context.Context, auctionID string, includeWinner bool) ([]*bids.Bid, error)
	GetHighestBid(ctx context.Context, auctionID string) (*bids.Bid, error)
	ListBidderBids(ctx context.Context, bidderID uuid.UUID, limit int) ([]*bids.Bid, error)
}

// CreditRequestService is the credit-request approval flow.
type CreditRequestService interface {
	Create(ctx context.Context, cmd creditrequests.CreateCommand) (*creditrequests.CreditRequest, error)
	Approve(ctx context.Context, cmd creditrequests.DecideCommand) (*creditrequests.CreditRequest, int64, error)
	Reject(ctx context.Context, cmd creditrequests.DecideCommand) (*creditrequests.CreditRequest, error)
	List(ctx context.Context, filter creditrequests.ListFilter) ([]*creditrequests.CreditRequest, error)
}

// CreditLedger exposes balances and history.
type CreditLedger interface {
	GetAccount(ctx context.Context, id uuid.UUID) (*ledger.Account, error)
	SyncAccount(ctx context.Context, cmd ledger.SyncAccountCommand) (*ledger.Account, error)
	History(ctx context.Context, accountID uuid.UUID, limit int) ([]*ledger.Adjustment, error)
}

type BidServiceHandler struct {
	auctions AuctionService
	requests CreditRequestService
	ledger   CreditLedger
	logger   *slog.Logger
}

func NewBidServiceHandler(auctions AuctionService, requests CreditRequestService, creditLedger CreditLedger, logger *slog.Logger) *BidServiceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BidServiceHandler{
		auctions: auctions,
		requests: requests,
		ledger:   creditLedger,
		logger:   logger,
	}
}

// Register mounts every procedure on mux. opts usually carries the
// interceptor chain.
func (h *BidServiceHandler) Register(mux *http.ServeMux, opts ...connect.HandlerOption) {
	mux.Handle(PlaceBidProcedure, rpc.NewUnaryHandler(PlaceBidProcedure, h.PlaceBid, opts...))
	mux.Handle(CloseAuctionProcedure, rpc.NewUnaryHandler(CloseAuctionProcedure, h.CloseAuction, opts...))
	mux.Handle(ApproveBidProcedure, rpc.NewUnaryHandler(ApproveBidProcedure, h.ApproveBid, opts...))
	mux.Handle(RejectBidProcedure, rpc.NewUnaryHandler(RejectBidProcedure, h.RejectBid, opts...))
	mux.Handle(ListPendingBidsProcedure, rpc.NewUnaryHandler(ListPendingBidsProcedure, h.ListPendingBids, opts...))
	mux.Handle(ListAuctionBidsProcedure, rpc.NewUnaryHandler(ListAuctionBidsProcedure, h.ListAuctionBids, opts...))
	mux.Handle(GetHighestBidProcedure, rpc.NewUnaryHandler(GetHighestBidProcedure, h.GetHighestBid, opts...))
	mux.Handle(ListMyBidsProcedure, rpc.NewUnaryHandler(ListMyBidsProcedure, h.ListMyBids, opts...))
	mux.Handle(GetBalanceProcedure, rpc.NewUnaryHandler(GetBalanceProcedure, h.GetBalance, opts...))
	mux.Handle(GetLedgerHistoryProcedure, rpc.NewUnaryHandler(GetLedgerHistoryProcedure, h.GetLedgerHistory, opts...))
	mux.Handle(SyncAccountProcedure, rpc.NewUnaryHandler(SyncAccountProcedure, h.SyncAccount, opts...))
	mux.Handle(CreateCreditRequestProcedure, rpc.NewUnaryHandler(CreateCreditRequestProcedure, h.CreateCreditRequest, opts...))
	mux.Handle(ApproveCreditRequestProcedure, rpc.NewUnaryHandler(ApproveCreditRequestProcedure, h.ApproveCreditRequest, opts...))
	mux.Handle(RejectCreditRequestProcedure, rpc.NewUnaryHandler(RejectCreditRequestProcedure, h.RejectCreditRequest, opts...))
	mux.Handle(ListCreditRequestsProcedure, rpc.NewUnaryHandler(ListCreditRequestsProcedure, h.ListCreditRequests, opts...))
}

func (h *BidServiceHandler) PlaceBid(
	ctx context.Context,
	req *connect.Request[PlaceBidRequest],
) (*connect.Response[PlaceBidResponse], error) {
	userID, err := auth.RequireUserID(ctx)
	if err != nil {
		return nil, err
	}

	res, err := h.auctions.PlaceBid(ctx, bids.PlaceBidCommand{
		AuctionID:        req.Msg.AuctionID,
		AuctionTitle:     req.Msg.AuctionTitle,
		BidderID:         userID,
		Amount:           req.Msg.Amount,
		RequiresApproval: req.Msg.RequiresApproval,
		IdempotencyKey:   req.Msg.IdempotencyKey,
	})
	metrics.RecordBid(bidOutcome(res, err))
	if err != nil {
		return nil, toConnectError(h.logger, PlaceBidProcedure, err)
	}
	if !res.Replayed {
		metrics.RecordCredits(string(ledger.KindBidCharge), res.AmountCharged)
	}

	return connect.NewResponse(&PlaceBidResponse{
		Bid:           mapBid(res.Bid),
		NewBalance:    res.NewBalance,
		AmountCharged: res.AmountCharged,
		Replayed:      res.Replayed,
	}), nil
}

func (h *BidServiceHandler) CloseAuction(
	ctx context.Context,
	req *connect.Request[CloseAuctionRequest],
) (*connect.Response[CloseAuctionResponse], error) {
	if err := auth.RequirePermission(ctx, auth.PermissionCloseAuctions); err != nil {
		return nil, err
	}

	res, err := h.auctions.CloseAuction(ctx, req.Msg.AuctionID)
	if err != nil {
		return nil, toConnectError(h.logger, CloseAuctionProcedure, err)
	}
	if !res.AlreadyClosed {
		metrics.RecordAuctionClosed()
	}

	demoted := make([]string, len(res.Demoted))
	for i, id := range res.Demoted {
		demoted[i] = id.String()
	}
	return connect.NewResponse(&CloseAuctionResponse{
		AuctionID:      res.AuctionID,
		WinnerBidID:    res.WinnerBidID.String(),
		WinnerID:       res.WinnerID.String(),
		WinnerUsername: res.WinnerUsername,
		WinningAmount:  res.WinningAmount,
		DemotedBidIDs:  demoted,
		AlreadyClosed:  res.AlreadyClosed,
	}), nil
}

func (h *BidServiceHandler) ApproveBid(
	ctx context.Context,
	req *connect.Request[BidRequest],
) (*connect.Response[BidResponse], error) {
	return h.moderate(ctx, ApproveBidProcedure, req.Msg.BidID, h.auctions.ApproveBid)
}

func (h *BidServiceHandler) RejectBid(
	ctx context.Context,
	req *connect.Request[BidRequest],
) (*connect.Response[BidResponse], error) {
	res, err := h.moderate(ctx, RejectBidProcedure, req.Msg.BidID, h.auctions.RejectBid)
	if err == nil {
		metrics.RecordCredits(string(ledger.KindBidRefund), res.Msg.Bid.AmountCharged)
	}
	return res, err
}

func (h *BidServiceHandler) moderate(
	ctx context.Context,
	procedure, rawID string,
	fn func(context.Context, uuid.UUID) (*bids.Bid, error),
) (*connect.Response[BidResponse], error) {
	if err := auth.RequirePermission(ctx, auth.PermissionModerateBids); err != nil {
		return nil, err
	}
	bidID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid bid_id"))
	}

	bid, err := fn(ctx, bidID)
	if err != nil {
		return nil, toConnectError(h.logger, procedure, err)
	}
	return connect.NewResponse(&BidResponse{Bid: mapBid(bid)}), nil
}

func (h *BidServiceHandler) ListPendingBids(
	ctx context.Context,
	req *connect.Request[AuctionRequest],
) (*connect.Response[BidsResponse], error) {
	if err := auth.RequirePermission(ctx, auth.PermissionModerateBids); err != nil {
		return nil, err
	}
	list, err := h.auctions.ListPendingBids(ctx, req.Msg.AuctionID)
	if err != nil {
		return nil, toConnectError(h.logger, ListPendingBidsProcedure, err)
	}
	return connect.NewResponse(&BidsResponse{Bids: mapBids(list)}), nil
}

func (h *BidServiceHandler) ListAuctionBids(
	ctx context.Context,
	req *connect.Request[AuctionBidsRequest],
) (*connect.Response[BidsResponse], error) {
	list, err := h.auctions.ListAuctionBids(ctx, req.Msg.AuctionID, req.Msg.IncludeWinner)
	if err != nil {
		return nil, toConnectError(h.logger, ListAuctionBidsProcedure, err)
	}
	return connect.NewResponse(&BidsResponse{Bids: mapBids(list)}), nil
}

func (h *BidServiceHandler) GetHighestBid(
	ctx context.Context,
	req *connect.Request[AuctionRequest],
) (*connect.Response[BidResponse], error) {
	bid, err := h.auctions.GetHighestBid(ctx, req.Msg.AuctionID)
	if err != nil {
		return nil, toConnectError(h.logger, GetHighestBidProcedure, err)
	}
	return connect.NewResponse(&BidResponse{Bid: mapBid(bid)}), nil
}

func (h *BidServiceHandler) ListMyBids(
	ctx context.Context,
	req *connect.Request[ListRequest],
) (*connect.Response[BidsResponse], error) {
	userID, err := auth.RequireUserID(ctx)
	if err != nil {
		return nil, err
	}
	list, err := h.auctions.ListBidderBids(ctx, userID, req.Msg.Limit)
	if err != nil {
		return nil, toConnectError(h.logger, ListMyBidsProcedure, err)
	}
	return connect.NewResponse(&BidsResponse{Bids: mapBids(list)}), nil
}

func (h *BidServiceHandler) GetBalance(
	ctx context.Context,
	_ *connect.Request[BalanceRequest],
) (*connect.Response[BalanceResponse], error) {
	userID, err := auth.RequireUserID(ctx)
	if err != nil {
		return nil, err
	}
	acc, err := h.ledger.GetAccount(ctx, userID)
	if err != nil {
		return nil, toConnectError(h.logger, GetBalanceProcedure, err)
	}
	return connect.NewResponse(mapAccount(acc)), nil
}

func (h *BidServiceHandler) GetLedgerHistory(
	ctx context.Context,
	req *connect.Request[LedgerHistoryRequest],
) (*connect.Response[LedgerHistoryResponse], error) {
	userID, err := auth.RequireUserID(ctx)
	if err != nil {
		return nil, err
	}

	accountID := userID
	if req.Msg.UserID != "" {
		accountID, err = uuid.Parse(req.Msg.UserID)
		if err != nil {
			return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid user_id"))
		}
		if accountID != userID {
			if err := auth.RequirePermission(ctx, auth.PermissionManageCredits); err != nil {
				return nil, err
			}
		}
	}

	history, err := h.ledger.History(ctx, accountID, req.Msg.Limit)
	if err != nil {
		return nil, toConnectError(h.logger, GetLedgerHistoryProcedure, err)
	}
	out := make([]*Adjustment, len(history))
	for i, adj := range history {
		out[i] = mapAdjustment(adj)
	}
	return connect.NewResponse(&LedgerHistoryResponse{Adjustments: out}), nil
}

func (h *BidServiceHandler) SyncAccount(
	ctx context.Context,
	req *connect.Request[SyncAccountRequest],
) (*connect.Response[BalanceResponse], error) {
	if err := auth.RequirePermission(ctx, auth.PermissionManageAccounts); err != nil {
		return nil, err
	}
	userID, err := uuid.Parse(req.Msg.UserID)
	if err != nil {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid user_id"))
	}

	acc, err := h.ledger.SyncAccount(ctx, ledger.SyncAccountCommand{
		ID:       userID,
		Username: req.Msg.Username,
		Verified: req.Msg.Verified,
	})
	if err != nil {
		return nil, toConnectError(h.logger, SyncAccountProcedure, err)
	}
	return connect.NewResponse(mapAccount(acc)), nil
}

func (h *BidServiceHandler) CreateCreditRequest(
	ctx context.Context,
	req *connect.Request[CreateCreditRequestRequest],
) (*connect.Response[CreditRequestResponse], error) {
	userID, err := auth.RequireUserID(ctx)
	if err != nil {
		return nil, err
	}

	created, err := h.requests.Create(ctx, creditrequests.CreateCommand{
		UserID: userID,
		Amount: req.Msg.Amount,
		Reason: req.Msg.Reason,
	})
	if err != nil {
		return nil, toConnectError(h.logger, CreateCreditRequestProcedure, err)
	}
	metrics.RecordCreditRequest(string(created.Status))
	return connect.NewResponse(&CreditRequestResponse{Request: mapCreditRequest(created)}), nil
}

func (h *BidServiceHandler) ApproveCreditRequest(
	ctx context.Context,
	req *connect.Request[DecideCreditRequestRequest],
) (*connect.Response[CreditRequestResponse], error) {
	cmd, err := decideCommand(ctx, req.Msg)
	if err != nil {
		return nil, err
	}

	approved, balance, err := h.requests.Approve(ctx, cmd)
	if err != nil {
		return nil, toConnectError(h.logger, ApproveCreditRequestProcedure, err)
	}
	metrics.RecordCreditRequest(string(approved.Status))
	metrics.RecordCredits(string(ledger.KindCreditGrant), approved.Amount)
	return connect.NewResponse(&CreditRequestResponse{
		Request:    mapCreditRequest(approved),
		NewBalance: balance,
	}), nil
}

func (h *BidServiceHandler) RejectCreditRequest(
	ctx context.Context,
	req *connect.Request[DecideCreditRequestRequest],
) (*connect.Response[CreditRequestResponse], error) {
	cmd, err := decideCommand(ctx, req.Msg)
	if err != nil {
		return nil, err
	}

	rejected, err := h.requests.Reject(ctx, cmd)
	if err != nil {
		return nil, toConnectError(h.logger, RejectCreditRequestProcedure, err)
	}
	metrics.RecordCreditRequest(string(rejected.Status))
	return connect.NewResponse(&CreditRequestResponse{Request: mapCreditRequest(rejected)}), nil
}

func decideCommand(ctx context.Context, msg *DecideCreditRequestRequest) (creditrequests.DecideCommand, error) {
	if err := auth.RequirePermission(ctx, auth.PermissionManageCredits); err != nil {
		return creditrequests.DecideCommand{}, err
	}
	id, err := uuid.Parse(msg.RequestID)
	if err != nil {
		return creditrequests.DecideCommand{}, connect.NewError(connect.CodeInvalidArgument, errors.New("invalid request_id"))
	}
	return creditrequests.DecideCommand{RequestID: id, AdminNotes: msg.AdminNotes}, nil
}

// ListCreditRequests lists every user's requests for credit managers and the
// caller's own requests for everyone else.
func (h *BidServiceHandler) ListCreditRequests(
	ctx context.Context,
	req *connect.Request[ListCreditRequestsRequest],
) (*connect.Response[ListCreditRequestsResponse], error) {
	userID, err := auth.RequireUserID(ctx)
	if err != nil {
		return nil, err
	}

	filter := creditrequests.ListFilter{
		UserID: userID,
		Status: creditrequests.Status(req.Msg.Status),
		Limit:  req.Msg.Limit,
	}
	if auth.RequirePermission(ctx, auth.PermissionManageCredits) == nil {
		filter.UserID = uuid.Nil
	}

	list, err := h.requests.List(ctx, filter)
	if err != nil {
		return nil, toConnectError(h.logger, ListCreditRequestsProcedure, err)
	}
	out := make([]*CreditRequest, len(list))
	for i, r := range list {
		out[i] = mapCreditRequest(r)
	}
	return connect.NewResponse(&ListCreditRequestsResponse{Requests: out}), nil
}
