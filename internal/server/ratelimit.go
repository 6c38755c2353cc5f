package server

import (
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/zudu-go/internal/logging"
)

const (
	// defaultRateLimit is the sustained per-IP rate in requests/second. A
	// voice turn arrives every few seconds at most, so this leaves headroom.
	defaultRateLimit = 5
	// defaultRateBurst is the per-IP burst size.
	defaultRateBurst = 10
	// limiterIdleTTL is how long an idle IP keeps its bucket.
	limiterIdleTTL = 5 * time.Minute
)

// ipLimiter is one client's bucket plus the time it was last used.
type ipLimiter struct {
	// limiter is the client's token bucket.
	limiter *rate.Limiter
	// lastSeen is refreshed on every request and drives idle eviction.
	lastSeen time.Time
}

// rateLimiter enforces a per-IP token bucket.
type rateLimiter struct {
	// mu guards limiters.
	mu sync.Mutex
	// limiters maps a client IP to its bucket.
	limiters map[string]*ipLimiter
	// rps is the sustained per-IP rate in requests/second.
	rps rate.Limit
	// burst is the per-IP bucket size.
	burst int
	// log receives eviction and rejection events.
	log *slog.Logger
}

// newRateLimiter starts the eviction goroutine and returns a stop function
// that ends it. Calling stop more than once is safe.
func newRateLimiter(rps float64, burst int, log *slog.Logger) (*rateLimiter, func()) {
	rl := &rateLimiter{
		limiters: make(map[string]*ipLimiter),
		rps:      rate.Limit(rps),
		burst:    burst,
		log:      log,
	}
	stopCh := make(chan struct{})
	go rl.evictLoop(stopCh)

	var once sync.Once
	return rl, func() { once.Do(func() { close(stopCh) }) }
}

func (rl *rateLimiter) getLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, ok := rl.limiters[ip]
	if !ok {
		entry = &ipLimiter{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.limiters[ip] = entry
	}
	entry.lastSeen = time.Now()
	return entry.limiter
}

func (rl *rateLimiter) evictLoop(stopCh <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case now := <-ticker.C:
			if n := rl.evict(now); n > 0 {
				rl.log.Debug("rate limiter: evicted idle clients", slog.Int("count", n))
			}
		}
	}
}

// evict drops buckets idle for longer than limiterIdleTTL as of now.
func (rl *rateLimiter) evict(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := now.Add(-limiterIdleTTL)
	n := 0
	for ip, entry := range rl.limiters {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.limiters, ip)
			n++
		}
	}
	return n
}

func (rl *rateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

// middleware rejects requests over the limit with 429 and Retry-After.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !rl.getLimiter(ip).Allow() {
			logging.FromContext(r.Context()).Warn("rate limit exceeded",
				slog.String("ip", ip),
				slog.String("path", r.URL.Path),
			)
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP returns the remote IP without its port. X-Forwarded-For is not
// trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
