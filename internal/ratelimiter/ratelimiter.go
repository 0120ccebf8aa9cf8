// Package ratelimiter throttles outbound feed fetches.
//
// Two token buckets are consulted for every fetch: a global one that caps
// the total request rate of the process, and one per remote host so that
// many feeds served by the same site do not hammer it in a burst.
package ratelimiter

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// unlimited is used instead of rate.Inf so that SetLimit can move back to a
// finite rate without resetting bucket state.
const unlimited = rate.Limit(1_000_000_000)

// RateLimiter gates fetches by a global and a per-host token bucket.
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	global *rate.Limiter

	mu        sync.Mutex
	perHost   map[string]*rate.Limiter
	hostLimit rate.Limit
	hostBurst int
}

// New creates a limiter allowing requestsPerSecond sustained fetches with
// the given burst, globally and per host.
//
// A zero requestsPerSecond disables limiting.
func New(requestsPerSecond float64, burst int) *RateLimiter {
	limit, burst := normalize(requestsPerSecond, burst)
	return &RateLimiter{
		global:    rate.NewLimiter(limit, burst),
		perHost:   make(map[string]*rate.Limiter),
		hostLimit: limit,
		hostBurst: burst,
	}
}

func normalize(requestsPerSecond float64, burst int) (rate.Limit, int) {
	if requestsPerSecond <= 0 {
		return unlimited, 1_000_000_000
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.Limit(requestsPerSecond), burst
}

// Wait blocks until both the global bucket and the bucket of rawURL's host
// grant a token, or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context, rawURL string) error {
	if err := r.global.Wait(ctx); err != nil {
		return err
	}
	return r.hostLimiter(hostOf(rawURL)).Wait(ctx)
}

// SetLimit changes the rate and burst of every bucket, including hosts
// already seen. Used when a reload changes refresh.rate_limit.
func (r *RateLimiter) SetLimit(requestsPerSecond float64, burst int) {
	limit, burst := normalize(requestsPerSecond, burst)

	r.global.SetLimit(limit)
	r.global.SetBurst(burst)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.hostLimit = limit
	r.hostBurst = burst
	for _, l := range r.perHost {
		l.SetLimit(limit)
		l.SetBurst(burst)
	}
}

func (r *RateLimiter) hostLimiter(host string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.perHost[host]
	if !ok {
		l = rate.NewLimiter(r.hostLimit, r.hostBurst)
		r.perHost[host] = l
	}
	return l
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return strings.ToLower(u.Hostname())
}
