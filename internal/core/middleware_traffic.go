package core

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"forwardgate/internal/types"
)

// limiterIdleTTL is how long a client's bucket survives without traffic.
const limiterIdleTTL = 10 * time.Minute

// ClientIPMiddleware resolves the caller address once and stores it with
// types.WithClientIP. The first X-Forwarded-For entry wins over RemoteAddr.
func ClientIPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(types.WithClientIP(r.Context(), extractClientIP(r))))
	})
}

func extractClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ClientRateLimiter keeps one token bucket per client address. Idle buckets
// are swept lazily on access.
type ClientRateLimiter struct {
	limit rate.Limit
	burst int
	now   func() time.Time

	mu        sync.Mutex
	buckets   map[string]*clientBucket
	lastSweep time.Time
}

// NewClientRateLimiter allows perMinute requests per client with the given
// burst.
func NewClientRateLimiter(perMinute, burst int) *ClientRateLimiter {
	return &ClientRateLimiter{
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		now:     time.Now,
		buckets: make(map[string]*clientBucket),
	}
}

// Reserve takes a token for key. It reports whether the request may proceed
// and, when it may not, how long until a token is available.
func (l *ClientRateLimiter) Reserve(key string) (bool, time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > limiterIdleTTL {
		for k, b := range l.buckets {
			if now.Sub(b.lastSeen) > limiterIdleTTL {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[key]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now

	if b.limiter.AllowN(now, 1) {
		return true, 0
	}
	r := b.limiter.ReserveN(now, 1)
	wait := r.DelayFrom(now)
	r.CancelAt(now)
	return false, wait
}

// Len reports how many client buckets are live.
func (l *ClientRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// ClientThrottle rejects callers that exhaust their bucket with 429 and a
// Retry-After header. A server without a Limiter passes everything through.
func (s *Server) ClientThrottle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		ip := types.GetClientIP(r.Context())
		if ip == "" {
			ip = extractClientIP(r)
		}

		ok, wait := s.Limiter.Reserve(ip)
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		logFromRequest(r).Warn("client rate limit exceeded",
			"client_ip", ip,
			"path", r.URL.Path,
		)
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Max(1, math.Ceil(wait.Seconds())))))
		Error(w, r, types.NewAppError(types.ErrCodeRateLimit, "too many requests, retry later", nil))
	})
}
