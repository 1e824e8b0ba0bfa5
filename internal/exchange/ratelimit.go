// ratelimit.go implements token-bucket rate limiting for the OKX v5 API.
//
// OKX enforces per-endpoint limits measured in requests per 2-second
// windows. This file provides a smooth token-bucket implementation that
// refills continuously (rather than in 2s bursts) to stay clear of the
// hard limits.
//
// Four buckets are maintained:
//   - Trade:   60 burst / 30 per sec (place order, 60/2s)
//   - Cancel:  60 burst / 30 per sec (cancel order, 60/2s)
//   - Market:  20 burst / 10 per sec (candles and tickers, 20/2s)
//   - Account: 10 burst /  5 per sec (order and balance queries, 10/2s)
package exchange

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous refill.
// Callers block in Wait() until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		// Calculate wait time for next token
		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// RateLimiter groups token buckets by OKX API endpoint category.
// Each operation must call the appropriate bucket's Wait() before making
// the HTTP request.
type RateLimiter struct {
	Trade   *TokenBucket // POST /api/v5/trade/order
	Cancel  *TokenBucket // POST /api/v5/trade/cancel-order
	Market  *TokenBucket // GET /api/v5/market/*
	Account *TokenBucket // GET /api/v5/trade/order, account queries
}

// NewRateLimiter creates rate limiters tuned to OKX's published limits.
// Capacities are set to the 2-second burst allowance, rates to half for
// smooth refill.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Trade:   NewTokenBucket(60, 30), // 60 per 2s window
		Cancel:  NewTokenBucket(60, 30), // 60 per 2s window
		Market:  NewTokenBucket(20, 10), // 20 per 2s window
		Account: NewTokenBucket(10, 5),  // 10 per 2s window
	}
}
