package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Window is one rate-limit tier: a token bucket per identity sized so that
// at most `requests` fit in `window`. Buckets live in-process; identities
// idle for ten windows are pruned.
type Window struct {
	limit  rate.Limit
	burst  int
	window time.Duration

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewWindow builds a tier admitting `requests` per `window` per identity.
func NewWindow(requests int, window time.Duration) *Window {
	if requests <= 0 {
		requests = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Window{
		limit:   rate.Limit(float64(requests) / window.Seconds()),
		burst:   requests,
		window:  window,
		buckets: make(map[string]*bucket),
	}
}

// Admit consumes one slot for identity, or reports how long to wait.
func (w *Window) Admit(identity string) (bool, time.Duration) {
	lim := w.bucket(identity)

	r := lim.Reserve()
	if !r.OK() {
		return false, w.window
	}
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return false, delay
	}
	return true, 0
}

func (w *Window) bucket(identity string) *rate.Limiter {
	now := time.Now()

	w.mu.Lock()
	defer w.mu.Unlock()

	b, ok := w.buckets[identity]
	if !ok {
		if len(w.buckets) >= 10000 {
			w.prune(now)
		}
		b = &bucket{limiter: rate.NewLimiter(w.limit, w.burst)}
		w.buckets[identity] = b
	}
	b.lastSeen = now
	return b.limiter
}

// prune drops identities idle for ten windows. Caller holds the lock.
func (w *Window) prune(now time.Time) {
	cutoff := now.Add(-10 * w.window)
	for id, b := range w.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(w.buckets, id)
		}
	}
}

// RateLimit enforces one tier. Identity is the authenticated user id when
// present, otherwise the client IP. Local development addresses bypass.
// An optional onReject callback fires once per rejected request.
func RateLimit(window *Window, onReject ...func()) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip == "127.0.0.1" || ip == "::1" {
			c.Next()
			return
		}

		identity := UserID(c)
		if identity == "" {
			identity = ip
		}

		ok, retryAfter := window.Admit(identity)
		if !ok {
			for _, fn := range onReject {
				fn()
			}
			seconds := int(math.Ceil(retryAfter.Seconds()))
			if seconds < 1 {
				seconds = 1
			}
			c.Header("Retry-After", strconv.Itoa(seconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": seconds,
			})
			return
		}
		c.Next()
	}
}
