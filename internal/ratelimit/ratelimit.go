package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lessongate/lessongate/internal/httputil"
)

const (
	sweepInterval = 5 * time.Minute
	idleTTL       = 10 * time.Minute
)

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// KeyFunc picks the identity a request is limited by.
type KeyFunc func(r *http.Request) string

type Option func(*Limiter)

func WithClock(clock clockwork.Clock) Option {
	return func(l *Limiter) { l.clock = clock }
}

// WithKey limits by key(r) instead of the client address. Requests for which
// key returns "" fall back to the client address.
func WithKey(key KeyFunc) Option {
	return func(l *Limiter) { l.key = key }
}

// Limiter is a token bucket per key.
type Limiter struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	key     KeyFunc
	buckets map[string]*bucket
	rate    float64
	burst   float64
}

func NewLimiter(requestsPerSecond float64, burst int, opts ...Option) *Limiter {
	l := &Limiter{
		clock:   clockwork.NewRealClock(),
		buckets: make(map[string]*bucket),
		rate:    requestsPerSecond,
		burst:   float64(burst),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	b, exists := l.buckets[key]
	if !exists {
		l.buckets[key] = &bucket{tokens: l.burst - 1, lastSeen: now}
		return l.burst >= 1
	}

	b.tokens += now.Sub(b.lastSeen).Seconds() * l.rate
	b.lastSeen = now
	if b.tokens > l.burst {
		b.tokens = l.burst
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Sweep drops buckets idle for longer than the idle TTL.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock.Now()
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > idleTTL {
			delete(l.buckets, key)
		}
	}
}

// Run sweeps idle buckets until ctx is cancelled.
func (l *Limiter) Run(ctx context.Context) {
	ticker := l.clock.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			l.Sweep()
		}
	}
}

func (l *Limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := ""
		if l.key != nil {
			key = l.key(r)
		}
		if key == "" {
			key = clientAddr(r)
		}

		if !l.Allow(key) {
			retry := 1.0
			if l.rate > 0 {
				retry = 1 / l.rate
			}
			w.Header().Set("Retry-After", strconv.Itoa(max(1, int(retry+0.5))))
			httputil.WriteError(w, http.StatusTooManyRequests, "too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
