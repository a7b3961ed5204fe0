package httputil

import (
	"net/http"

	"golang.org/x/time/rate"
)

// RateLimitedClient wraps an http.Client with a token-bucket pacer so a burst
// of matched triggers cannot stampede a single remote endpoint.
type RateLimitedClient struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewRateLimitedClient builds a paced client. requestsPerSecond <= 0 disables
// pacing (the limiter admits everything).
func NewRateLimitedClient(client *http.Client, requestsPerSecond float64, burst int) *RateLimitedClient {
	if client == nil {
		client = http.DefaultClient
	}
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedClient{
		client:  client,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Do waits for a token, then performs the request. The wait respects the
// request context, so per-call deadlines bound the total time.
func (c *RateLimitedClient) Do(req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return c.client.Do(req)
}
