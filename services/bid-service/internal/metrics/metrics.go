package metrics

import (
	"context"
	"time"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidledger_rpc_requests_total",
			Help: "Total number of RPC requests",
		},
		[]string{"procedure", "code"},
	)

	RPCRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bidledger_rpc_request_duration_seconds",
			Help:    "RPC request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"procedure"},
	)

	BidsPlacedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidledger_bids_placed_total",
			Help: "Total number of bid placements by outcome",
		},
		[]string{"outcome"},
	)

	CreditsMovedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidledger_credits_moved_total",
			Help: "Total credits moved through the ledger by adjustment kind",
		},
		[]string{"kind"},
	)

	AuctionsClosedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bidledger_auctions_closed_total",
			Help: "Total number of auctions resolved for the first time",
		},
	)

	CreditRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidledger_credit_requests_total",
			Help: "Total number of credit requests by status",
		},
		[]string{"status"},
	)

	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidledger_rate_limited_total",
			Help: "Total number of requests rejected by the rate limiter",
		},
		[]string{"procedure"},
	)

	OutboxPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bidledger_outbox_published_total",
			Help: "Total number of outbox events published",
		},
		[]string{"event_type"},
	)

	OutboxEvents = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "bidledger_outbox_events",
			Help: "Current number of outbox events by status",
		},
		[]string{"status"},
	)
)

func RecordRPC(procedure, code string, duration float64) {
	RPCRequestsTotal.WithLabelValues(procedure, code).Inc()
	RPCRequestDuration.WithLabelValues(procedure).Observe(duration)
}

func RecordBid(outcome string) {
	BidsPlacedTotal.WithLabelValues(outcome).Inc()
}

func RecordCredits(kind string, amount int64) {
	if amount <= 0 {
		return
	}
	CreditsMovedTotal.WithLabelValues(kind).Add(float64(amount))
}

func RecordAuctionClosed() {
	AuctionsClosedTotal.Inc()
}

func RecordCreditRequest(status string) {
	CreditRequestsTotal.WithLabelValues(status).Inc()
}

func RecordRateLimited(procedure string) {
	RateLimitedTotal.WithLabelValues(procedure).Inc()
}

func RecordOutboxPublished(eventType string) {
	OutboxPublishedTotal.WithLabelValues(eventType).Inc()
}

func SetOutboxEvents(status string, count int64) {
	OutboxEvents.WithLabelValues(status).Set(float64(count))
}

// NewInterceptor records the count, code and latency of every unary call.
func NewInterceptor() connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			start := time.Now()
			res, err := next(ctx, req)

			code := "ok"
			if err != nil {
				code = connect.CodeOf(err).String()
			}
			RecordRPC(req.Spec().Procedure, code, time.Since(start).Seconds())
			return res, err
		}
	}
}
