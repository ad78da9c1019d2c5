// ABOUTME: Per-client token bucket rate limiting for the public POST endpoints
// ABOUTME: Limiters are keyed by client IP and evicted after a period of inactivity

package gateway

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	limiterTTL           = 10 * time.Minute
	limiterCleanupPeriod = time.Minute
)

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

// limiterPool holds one token bucket per client key.
type limiterPool struct {
	mu    sync.Mutex
	m     map[string]*limiterEntry
	rps   rate.Limit
	burst int
	ttl   time.Duration

	stop     chan struct{}
	stopOnce sync.Once
}

func newLimiterPool(rps float64, burst int) *limiterPool {
	if burst <= 0 {
		burst = int(rps)
		if burst < 1 {
			burst = 1
		}
	}
	p := &limiterPool{
		m:     make(map[string]*limiterEntry),
		rps:   rate.Limit(rps),
		burst: burst,
		ttl:   limiterTTL,
		stop:  make(chan struct{}),
	}
	go p.cleanupLoop(limiterCleanupPeriod)
	return p
}

// Allow reports whether key may make a request now.
func (p *limiterPool) Allow(key string) bool {
	p.mu.Lock()
	e, ok := p.m[key]
	if !ok {
		e = &limiterEntry{l: rate.NewLimiter(p.rps, p.burst)}
		p.m[key] = e
	}
	e.lastSeen = time.Now()
	p.mu.Unlock()

	return e.l.Allow()
}

// cleanupLoop removes limiters not seen within the TTL.
func (p *limiterPool) cleanupLoop(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			p.sweep(time.Now().Add(-p.ttl))
		}
	}
}

func (p *limiterPool) sweep(cutoff time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for k, e := range p.m {
		if e.lastSeen.Before(cutoff) {
			delete(p.m, k)
		}
	}
}

// Close stops the cleanup goroutine.
func (p *limiterPool) Close() {
	p.stopOnce.Do(func() { close(p.stop) })
}

// rateLimit wraps next with the limiter pool. It is a pass-through when
// rate limiting is disabled.
func (g *Gateway) rateLimit(route string, next http.Handler) http.Handler {
	if g.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !g.limiter.Allow(clientIP(r, g.config.RateLimit.TrustProxy)) {
			g.metrics.RateLimited(route)
			w.Header().Set("Retry-After", "1")
			g.sendJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP returns the remote address host. Behind a trusted proxy it
// returns the last X-Forwarded-For hop, the one the proxy itself appended;
// earlier hops are client-supplied.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			hops := strings.Split(fwd, ",")
			if ip := strings.TrimSpace(hops[len(hops)-1]); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
