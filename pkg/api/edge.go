package api

import (
	"context"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// EdgeLimiter is a per-IP token bucket in front of the public routes. It
// guards the process, not the protocol: the per-agent budget lives in
// pkg/ratelimit and runs after the consumer is identified.
type EdgeLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rps      rate.Limit
	burst    int
	idle     time.Duration
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewEdgeLimiter creates a limiter allowing rps sustained requests per IP
// with the given burst. A non-positive rps disables it.
func NewEdgeLimiter(rps float64, burst int) *EdgeLimiter {
	if burst <= 0 {
		burst = int(math.Max(1, math.Ceil(rps)))
	}
	return &EdgeLimiter{
		visitors: make(map[string]*visitor),
		rps:      rate.Limit(rps),
		burst:    burst,
		idle:     3 * time.Minute,
	}
}

// Run evicts idle visitors until ctx is done.
func (l *EdgeLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.evict(now)
		}
	}
}

func (l *EdgeLimiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.idle {
			delete(l.visitors, ip)
		}
	}
}

func (l *EdgeLimiter) limiterFor(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// Middleware rejects requests over the per-IP budget with RATE_LIMITED.
func (l *EdgeLimiter) Middleware(next http.Handler) http.Handler {
	if l == nil || l.rps <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := l.limiterFor(clientIP(r)).Reserve()
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			WriteTooManyRequests(w, r, int(math.Ceil(delay.Seconds())))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = strings.Trim(r.RemoteAddr, "[]")
	}
	return ip
}
