package middleware

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"crm-backend/internal/models"
)

// Policy is a per-client request budget.
type Policy struct {
	Requests int
	Window   time.Duration
}

// Option configures a RateLimiter.
type Option func(*RateLimiter)

// WithRouteGroup gives requests under prefix their own budget, separate from
// the default one.
func WithRouteGroup(prefix string, p Policy) Option {
	return func(rl *RateLimiter) {
		rl.groups = append(rl.groups, routeGroup{prefix: strings.TrimSuffix(prefix, "/"), policy: p})
	}
}

// RateLimiter keeps one token bucket per client and route group. Tokens
// refill continuously at Requests per Window.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[bucketKey]*bucket
	policy  Policy
	groups  []routeGroup
	now     func() time.Time

	cleanupTick *time.Ticker
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

type routeGroup struct {
	prefix string
	policy Policy
}

type bucketKey struct {
	group  string
	client string
}

type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// Decision is the outcome of charging one request.
type Decision struct {
	Group      string
	Limit      int
	Remaining  int
	Allowed    bool
	RetryAfter time.Duration
}

// NewRateLimiter creates a limiter whose default policy applies to every
// path not claimed by a route group.
func NewRateLimiter(policy Policy, opts ...Option) *RateLimiter {
	rl := &RateLimiter{
		buckets:     make(map[bucketKey]*bucket),
		policy:      policy,
		now:         time.Now,
		cleanupTick: time.NewTicker(5 * time.Minute),
		stopCleanup: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(rl)
	}

	// longest prefix wins
	sort.SliceStable(rl.groups, func(i, j int) bool {
		return len(rl.groups[i].prefix) > len(rl.groups[j].prefix)
	})

	go rl.cleanup()

	return rl
}

// cleanup drops buckets that have been idle for an hour.
func (rl *RateLimiter) cleanup() {
	for {
		select {
		case <-rl.cleanupTick.C:
			rl.mu.Lock()
			now := rl.now()
			for key, b := range rl.buckets {
				if now.Sub(b.lastUpdate) > time.Hour {
					delete(rl.buckets, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCleanup:
			return
		}
	}
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() {
		rl.cleanupTick.Stop()
		close(rl.stopCleanup)
	})
}

// PolicyFor returns the route group name and policy that govern path. The
// default policy has an empty group name.
func (rl *RateLimiter) PolicyFor(path string) (string, Policy) {
	for _, g := range rl.groups {
		if path == g.prefix || strings.HasPrefix(path, g.prefix+"/") {
			return g.prefix, g.policy
		}
	}
	return "", rl.policy
}

// Take charges one request from client against the budget for path.
func (rl *RateLimiter) Take(path, client string) Decision {
	group, policy := rl.PolicyFor(path)
	d := Decision{Group: group, Limit: policy.Requests}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	key := bucketKey{group: group, client: client}
	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(policy.Requests), lastUpdate: now}
		rl.buckets[key] = b
	}

	perToken := policy.Window / time.Duration(max(policy.Requests, 1))
	if elapsed := now.Sub(b.lastUpdate); elapsed > 0 {
		b.tokens = math.Min(b.tokens+float64(elapsed)/float64(perToken), float64(policy.Requests))
		b.lastUpdate = now
	}

	if b.tokens >= 1 {
		b.tokens--
		d.Allowed = true
	} else {
		d.RetryAfter = time.Duration((1 - b.tokens) * float64(perToken))
	}
	d.Remaining = int(b.tokens)

	return d
}

// Allow reports whether client may make a request to path.
func (rl *RateLimiter) Allow(path, client string) bool {
	return rl.Take(path, client).Allowed
}

// GetClientKey extracts a client identifier from the request: the first
// X-Forwarded-For hop, then X-Real-IP, then the remote address.
func GetClientKey(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}

	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	return r.RemoteAddr
}

// RateLimitMiddleware rejects requests over their route group's budget with
// 429 and reports the budget in X-RateLimit-* headers.
func RateLimitMiddleware(limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := limiter.Take(r.URL.Path, GetClientKey(r))

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))

			if !d.Allowed {
				secs := int(math.Ceil(d.RetryAfter.Seconds()))
				w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				json.NewEncoder(w).Encode(models.ErrorResponse{Error: "rate limit exceeded"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
