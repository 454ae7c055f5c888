package rate

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// RateLimitError is returned when calls are blocked.
type RateLimitError struct {
	Provider string
	Reason   string
	RetryAt  time.Time
}

func (e RateLimitError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("%s rate limited: %s", e.Provider, e.Reason)
	}
	return fmt.Sprintf("%s rate limited: %s (retry at %s)", e.Provider, e.Reason, e.RetryAt.UTC().Format(time.RFC3339))
}

type Decision struct {
	Allowed bool
	Reason  string
	RetryAt time.Time
}

type bucket struct {
	capacity int
	tokens   float64
	last     time.Time
}

// Guard enforces a token bucket per window plus a server-requested cooldown.
type Guard struct {
	decl Declaration
	now  func() time.Time

	mu       sync.Mutex
	buckets  map[Window]*bucket
	cooldown time.Time
}

// WrapHTTP wraps an http.Client with rate-limit enforcement.
func WrapHTTP(decl Declaration, base *http.Client) *http.Client {
	return WrapHTTPWithGuard(NewGuard(decl), base)
}

func WrapHTTPWithGuard(guard *Guard, base *http.Client) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	client := *base
	transport := client.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	client.Transport = &roundTripper{base: transport, guard: guard}
	return &client
}

func NewGuard(decl Declaration) *Guard {
	g := &Guard{
		decl:    decl,
		now:     time.Now,
		buckets: make(map[Window]*bucket),
	}
	for window, limit := range decl.Limits() {
		g.buckets[window] = &bucket{capacity: limit, tokens: float64(limit)}
	}
	return g
}

type roundTripper struct {
	base  http.RoundTripper
	guard *Guard
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	decision := rt.guard.ShouldCall()
	if !decision.Allowed {
		blockedTotal.WithLabelValues(rt.guard.decl.ProviderName(), decision.Reason).Inc()
		return nil, RateLimitError{
			Provider: rt.guard.decl.ProviderName(),
			Reason:   decision.Reason,
			RetryAt:  decision.RetryAt,
		}
	}

	resp, err := rt.base.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	rt.guard.RecordResponse(resp.StatusCode, resp.Header)
	return resp, nil
}

// ShouldCall consumes one token from every window when the call is allowed.
func (g *Guard) ShouldCall() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.decl.HasLimits() {
		return Decision{Allowed: false, Reason: "disabled"}
	}

	now := g.now()
	if !g.cooldown.IsZero() && now.Before(g.cooldown) {
		return Decision{Allowed: false, Reason: "cooldown", RetryAt: g.cooldown}
	}

	for window, b := range g.buckets {
		if b.capacity <= 0 {
			return Decision{Allowed: false, Reason: "disabled"}
		}
		refill(b, window.Duration(), now)
		if b.tokens < 1 {
			retryAt := now.Add(time.Duration((1 - b.tokens) * float64(window.Duration()) / float64(b.capacity)))
			return Decision{Allowed: false, Reason: "budget", RetryAt: retryAt}
		}
	}
	for window, b := range g.buckets {
		b.tokens--
		remainingGauge.WithLabelValues(g.decl.ProviderName(), window.String()).Set(b.tokens)
	}
	return Decision{Allowed: true}
}

// RecordResponse applies Retry-After, or the 429 cooldown when the header
// is missing.
func (g *Guard) RecordResponse(status int, headers http.Header) {
	g.mu.Lock()
	defer g.mu.Unlock()

	provider := g.decl.ProviderName()
	lastStatusGauge.WithLabelValues(provider).Set(float64(status))

	wait := retryAfter(headers.Get(g.decl.retryHeader))
	if wait <= 0 && status == http.StatusTooManyRequests {
		wait = g.decl.statusCooldown
	}
	if wait <= 0 {
		return
	}
	g.cooldown = g.now().Add(wait)
	retryAfterGauge.WithLabelValues(provider).Set(wait.Seconds())
}

func retryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	seconds, err := strconv.Atoi(value)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}

func refill(b *bucket, window time.Duration, now time.Time) {
	if b.last.IsZero() {
		b.last = now
		return
	}
	elapsed := now.Sub(b.last).Seconds()
	if elapsed <= 0 {
		return
	}
	rate := float64(b.capacity) / window.Seconds()
	b.tokens += elapsed * rate
	if b.tokens > float64(b.capacity) {
		b.tokens = float64(b.capacity)
	}
	b.last = now
}
