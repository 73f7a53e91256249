package api

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedGateway waits on a token bucket before each call.
type RateLimitedGateway struct {
	base    Gateway
	limiter *rate.Limiter
}

// WithRateLimit wraps gw with a limiter of rps requests per second. A
// non-positive rps returns gw unchanged. A burst less than 1 is coerced to 1.
func WithRateLimit(gw Gateway, rps float64, burst int) Gateway {
	if rps <= 0 {
		return gw
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedGateway{
		base:    gw,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// Generate implements Gateway.
func (g *RateLimitedGateway) Generate(ctx context.Context, req Request) (*Response, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, &GatewayError{Op: "rate limit", Err: err}
	}
	return g.base.Generate(ctx, req)
}
