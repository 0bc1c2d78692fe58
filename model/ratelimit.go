package model

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedClient wraps a Client with a token-bucket limiter so Nucleus
// invoke rounds against a real provider can be throttled without the
// scheduler itself knowing about rate limits (SPEC_FULL.md Ambient Stack).
type RateLimitedClient struct {
	inner   Client
	limiter *rate.Limiter
}

// NewRateLimitedClient wraps inner with a limiter allowing rps requests per
// second and burst concurrent requests.
func NewRateLimitedClient(inner Client, rps float64, burst int) *RateLimitedClient {
	return &RateLimitedClient{inner: inner, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

// Complete waits for a limiter token, then delegates to the wrapped client.
func (c *RateLimitedClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.inner.Complete(ctx, req)
}

// Stream waits for a limiter token, then delegates to the wrapped client.
func (c *RateLimitedClient) Stream(ctx context.Context, req *Request) (Streamer, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return c.inner.Stream(ctx, req)
}
