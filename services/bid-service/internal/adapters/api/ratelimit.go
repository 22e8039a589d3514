package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"connectrpc.com/connect"
	"golang.org/x/time/rate"

	"github.com/floroz/bidledger/pkg/auth"
	"github.com/floroz/bidledger/services/bid-service/internal/metrics"
)

// RateLimiter implements a simple in-memory rate limiter keyed by caller.
type RateLimiter struct {
	callers map[string]*caller
	mu      sync.Mutex
	rate    rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
}

type caller struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
// rps: requests per second
// burst: maximum burst size
// ttl: time to live for idle caller entries
func NewRateLimiter(rps float64, burst int, ttl time.Duration) *RateLimiter {
	return &RateLimiter{
		callers: make(map[string]*caller),
		rate:    rate.Limit(rps),
		burst:   burst,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Run evicts idle callers until ctx is done.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.cleanup()
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	for key, c := range rl.callers {
		if now.Sub(c.lastSeen) > rl.ttl {
			delete(rl.callers, key)
		}
	}
}

func (rl *RateLimiter) getCaller(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	c, exists := rl.callers[key]
	if !exists {
		c = &caller{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.callers[key] = c
	}
	c.lastSeen = rl.now()
	return c.limiter
}

func (rl *RateLimiter) Allow(key string) bool {
	return rl.getCaller(key).AllowN(rl.now(), 1)
}

// NewRateLimitInterceptor limits the listed procedures per authenticated
// user, falling back to the peer address. It must run after the auth
// interceptor.
func NewRateLimitInterceptor(rl *RateLimiter, procedures ...string) connect.UnaryInterceptorFunc {
	limited := make(map[string]struct{}, len(procedures))
	for _, p := range procedures {
		limited[p] = struct{}{}
	}

	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			procedure := req.Spec().Procedure
			if _, ok := limited[procedure]; !ok {
				return next(ctx, req)
			}

			key, ok := auth.GetUserID(ctx)
			if !ok {
				key = req.Peer().Addr
			}
			if !rl.Allow(procedure + "|" + key) {
				metrics.RecordRateLimited(procedure)
				return nil, connect.NewError(connect.CodeResourceExhausted, errors.New("rate limit exceeded"))
			}
			return next(ctx, req)
		}
	}
}
