// ratelimit.go bounds outgoing request rates per CLOB endpoint category.
//
// Polymarket enforces per-category limits measured in requests per
// 10-second windows. Each category gets a token bucket sized to the
// 10-second burst allowance with a smooth 1/10th refill rate, so sustained
// traffic stays under the hard limit without bursting into it.
//
//   - Order: 350 burst / 50 per sec (maps to the 3500/10s order limit)
//   - Book:  150 burst / 15 per sec (maps to the 1500/10s data limit)
package exchange

import "golang.org/x/time/rate"

// RateLimiter groups token buckets by CLOB endpoint category. Each request
// must Wait on the matching bucket before going out.
type RateLimiter struct {
	Order *rate.Limiter // POST /order
	Book  *rate.Limiter // GET /book, GET /price
}

// NewRateLimiter creates limiters tuned to Polymarket's published limits.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Order: rate.NewLimiter(rate.Limit(50), 350),
		Book:  rate.NewLimiter(rate.Limit(15), 150),
	}
}
