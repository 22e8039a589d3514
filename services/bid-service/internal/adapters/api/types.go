package api

import (
	"time"

	"github.com/floroz/bidledger/services/bid-service/internal/domain/bids"
	"github.com/floroz/bidledger/services/bid-service/internal/domain/creditrequests"
	"github.com/floroz/bidledger/services/bid-service/internal/domain/ledger"
)

// Service and procedure names of the bid API.
const (
	ServiceName = "bidledger.v1.BidService"

	PlaceBidProcedure             = "/" + ServiceName + "/PlaceBid"
	CloseAuctionProcedure         = "/" + ServiceName + "/CloseAuction"
	ApproveBidProcedure           = "/" + ServiceName + "/ApproveBid"
	RejectBidProcedure            = "/" + ServiceName + "/RejectBid"
	ListPendingBidsProcedure      = "/" + ServiceName + "/ListPendingBids"
	ListAuctionBidsProcedure      = "/" + ServiceName + "/ListAuctionBids"
	GetHighestBidProcedure        = "/" + ServiceName + "/GetHighestBid"
	ListMyBidsProcedure           = "/" + ServiceName + "/ListMyBids"
	GetBalanceProcedure           = "/" + ServiceName + "/GetBalance"
	GetLedgerHistoryProcedure     = "/" + ServiceName + "/GetLedgerHistory"
	SyncAccountProcedure          = "/" + ServiceName + "/SyncAccount"
	CreateCreditRequestProcedure  = "/" + ServiceName + "/CreateCreditRequest"
	ApproveCreditRequestProcedure = "/" + ServiceName + "/ApproveCreditRequest"
	RejectCreditRequestProcedure  = "/" + ServiceName + "/RejectCreditRequest"
	ListCreditRequestsProcedure   = "/" + ServiceName + "/ListCreditRequests"
)

// PublicProcedures may be called without a token.
var PublicProcedures = []string{
	ListAuctionBidsProcedure,
	GetHighestBidProcedure,
}

type Bid struct {
	ID            string `json:"id"`
	AuctionID     string `json:"auctionId"`
	AuctionTitle  string `json:"auctionTitle,omitempty"`
	BidderID      string `json:"bidderId"`
	Amount        int64  `json:"amount"`
	AmountCharged int64  `json:"amountCharged"`
	Status        string `json:"status"`
	CreatedAt     string `json:"createdAt"`
	UpdatedAt     string `json:"updatedAt"`
}

type PlaceBidRequest struct {
	AuctionID        string `json:"auctionId"`
	AuctionTitle     string `json:"auctionTitle"`
	Amount           int64  `json:"amount"`
	RequiresApproval bool   `json:"requiresApproval"`
	IdempotencyKey   string `json:"idempotencyKey,omitempty"`
}

type PlaceBidResponse struct {
	Bid           *Bid  `json:"bid"`
	NewBalance    int64 `json:"newBalance"`
	AmountCharged int64 `json:"amountCharged"`
	Replayed      bool  `json:"replayed"`
}

type CloseAuctionRequest struct {
	AuctionID string `json:"auctionId"`
}

type CloseAuctionResponse struct {
	AuctionID      string   `json:"auctionId"`
	WinnerBidID    string   `json:"winnerBidId"`
	WinnerID       string   `json:"winnerId"`
	WinnerUsername string   `json:"winnerUsername"`
	WinningAmount  int64    `json:"winningAmount"`
	DemotedBidIDs  []string `json:"demotedBidIds"`
	AlreadyClosed  bool     `json:"alreadyClosed"`
}

type BidRequest struct {
	BidID string `json:"bidId"`
}

type BidResponse struct {
	Bid *Bid `json:"bid"`
}

type AuctionBidsRequest struct {
	AuctionID     string `json:"auctionId"`
	IncludeWinner bool   `json:"includeWinner"`
}

type BidsResponse struct {
	Bids []*Bid `json:"bids"`
}

type AuctionRequest struct {
	AuctionID string `json:"auctionId"`
}

type ListRequest struct {
	Limit int `json:"limit"`
}

type BalanceRequest struct{}

type BalanceResponse struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Verified bool   `json:"verified"`
	Credits  int64  `json:"credits"`
}

type Adjustment struct {
	ID           string `json:"id"`
	Kind         string `json:"kind"`
	Delta        int64  `json:"delta"`
	ReferenceID  string `json:"referenceId"`
	BalanceAfter int64  `json:"balanceAfter"`
	CreatedAt    string `json:"createdAt"`
}

type LedgerHistoryRequest struct {
	// UserID defaults to the caller. Other users need credits:manage.
	UserID string `json:"userId,omitempty"`
	Limit  int    `json:"limit"`
}

type LedgerHistoryResponse struct {
	Adjustments []*Adjustment `json:"adjustments"`
}

type SyncAccountRequest struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Verified bool   `json:"verified"`
}

type CreditRequest struct {
	ID         string `json:"id"`
	UserID     string `json:"userId"`
	Amount     int64  `json:"amount"`
	Reason     string `json:"reason"`
	Status     string `json:"status"`
	AdminNotes string `json:"adminNotes,omitempty"`
	CreatedAt  string `json:"createdAt"`
	UpdatedAt  string `json:"updatedAt"`
	DecidedAt  string `json:"decidedAt,omitempty"`
}

type CreateCreditRequestRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

type DecideCreditRequestRequest struct {
	RequestID  string `json:"requestId"`
	AdminNotes string `json:"adminNotes"`
}

type CreditRequestResponse struct {
	Request *CreditRequest `json:"request"`
	// NewBalance is set on approval.
	NewBalance int64 `json:"newBalance,omitempty"`
}

type ListCreditRequestsRequest struct {
	Status string `json:"status,omitempty"`
	Limit  int    `json:"limit"`
}

type ListCreditRequestsResponse struct {
	Requests []*CreditRequest `json:"requests"`
}

func mapBid(b *bids.Bid) *Bid {
	if b == nil {
		return nil
	}
	return &Bid{
		ID:            b.ID.String(),
		AuctionID:     b.AuctionID,
		AuctionTitle:  b.AuctionTitle,
		BidderID:      b.BidderID.String(),
		Amount:        b.Amount,
		AmountCharged: b.AmountCharged,
		Status:        string(b.Status),
		CreatedAt:     b.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     b.UpdatedAt.Format(time.RFC3339),
	}
}

func mapBids(list []*bids.Bid) []*Bid {
	out := make([]*Bid, len(list))
	for i, b := range list {
		out[i] = mapBid(b)
	}
	return out
}

func mapAccount(acc *ledger.Account) *BalanceResponse {
	return &BalanceResponse{
		UserID:   acc.ID.String(),
		Username: acc.Username,
		Verified: acc.Verified,
		Credits:  acc.Credits,
	}
}

func mapAdjustment(adj *ledger.Adjustment) *Adjustment {
	return &Adjustment{
		ID:           adj.ID.String(),
		Kind:         string(adj.Kind),
		Delta:        adj.Delta,
		ReferenceID:  adj.ReferenceID.String(),
		BalanceAfter: adj.BalanceAfter,
		CreatedAt:    adj.CreatedAt.Format(time.RFC3339),
	}
}

func mapCreditRequest(req *creditrequests.CreditRequest) *CreditRequest {
	out := &CreditRequest{
		ID:         req.ID.String(),
		UserID:     req.UserID.String(),
		Amount:     req.Amount,
		Reason:     req.Reason,
		Status:     string(req.Status),
		AdminNotes: req.AdminNotes,
		CreatedAt:  req.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  req.UpdatedAt.Format(time.RFC3339),
	}
	if req.DecidedAt != nil {
		out.DecidedAt = req.DecidedAt.Format(time.RFC3339)
	}
	return out
}
