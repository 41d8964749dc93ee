// Package ratelimit throttles clients with one token bucket per key.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	auth "github.com/mind-engage/psyportal/internal/auth/middleware"
	"github.com/mind-engage/psyportal/internal/metrics"
)

// KeyFunc picks the bucket a request is charged to.
type KeyFunc func(r *http.Request) string

// ClientKey charges authenticated requests to the user and the rest to the
// client IP.
func ClientKey(r *http.Request) string {
	if id := auth.IdentityFromContext(r.Context()); !id.Anonymous() {
		return "user:" + id.UserID
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter holds the per-key buckets of one scope.
type Limiter struct {
	scope string
	limit rate.Limit
	burst int
	idle  time.Duration
	key   KeyFunc
	log   *zap.Logger
	now   func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
}

type Option func(*Limiter)

// WithIdleTTL sets how long an unused bucket is kept. Default 10m.
func WithIdleTTL(d time.Duration) Option { return func(l *Limiter) { l.idle = d } }

func WithKeyFunc(fn KeyFunc) Option { return func(l *Limiter) { l.key = fn } }

func WithLogger(log *zap.Logger) Option { return func(l *Limiter) { l.log = log } }

// New returns a limiter that refills at rps tokens per second up to burst.
func New(scope string, rps float64, burst int, opts ...Option) *Limiter {
	if burst < 1 {
		burst = 1
	}
	l := &Limiter{
		scope:    scope,
		limit:    rate.Limit(rps),
		burst:    burst,
		idle:     10 * time.Minute,
		key:      ClientKey,
		log:      zap.NewNop(),
		now:      time.Now,
		visitors: make(map[string]*visitor),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// PerMinute is New with the rate expressed per minute.
func PerMinute(scope string, n, burst int, opts ...Option) *Limiter {
	return New(scope, float64(n)/60, burst, opts...)
}

// reserve takes a token for key. It returns 0 when the request may pass,
// otherwise how long the caller should wait.
func (l *Limiter) reserve(key string) time.Duration {
	now := l.now()
	l.mu.Lock()
	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	l.mu.Unlock()

	if v.limiter.AllowN(now, 1) {
		return 0
	}
	r := v.limiter.ReserveN(now, 1)
	if !r.OK() {
		return time.Minute
	}
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	if wait <= 0 {
		wait = time.Second
	}
	return wait
}

// Sweep drops buckets idle for longer than the idle TTL.
func (l *Limiter) Sweep() int {
	cutoff := l.now().Add(-l.idle)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, v := range l.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(l.visitors, k)
			n++
		}
	}
	return n
}

// Len is the number of live buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.visitors)
}

// Start sweeps every interval until ctx is done.
func (l *Limiter) Start(ctx context.Context, interval time.Duration) {
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := l.Sweep(); n > 0 {
					l.log.Debug("rate limiter sweep", zap.String("scope", l.scope), zap.Int("evicted", n))
				}
			}
		}
	}()
}

// Middleware answers 429 with Retry-After once a key runs out of tokens.
func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := l.key(r)
		wait := l.reserve(key)
		if wait == 0 {
			next.ServeHTTP(w, r)
			return
		}
		metrics.RateLimited(l.scope)
		l.log.Warn("rate limit exceeded",
			zap.String("scope", l.scope),
			zap.String("key", key),
			zap.String("path", r.URL.Path))
		secs := int(math.Ceil(wait.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = fmt.Fprintf(w, "{\"error\":\"rate limit exceeded\",\"retry_after\":%d}\n", secs)
	})
}
