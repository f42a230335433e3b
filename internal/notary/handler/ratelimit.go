package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// Limiter scopes reported by starregistry_rate_limited_total.
const (
	scopeIP      = "ip"
	scopeAddress = "address"
)

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter hands out token buckets keyed by client IP or by the star address a
// request claims. Buckets idle longer than the sweep TTL are forgotten.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

// NewLimiter creates an empty Limiter.
func NewLimiter() *Limiter {
	return &Limiter{buckets: make(map[string]*bucket), now: time.Now}
}

// Run drops buckets unused for twice the sweep interval, every interval,
// until ctx is done.
func (l *Limiter) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep(2 * every)
		case <-ctx.Done():
			return
		}
	}
}

func (l *Limiter) sweep(ttl time.Duration) {
	cutoff := l.now().Add(-ttl)
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, key)
		}
	}
}

func (l *Limiter) allow(key string, limit rate.Limit, burst int) bool {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(limit, burst)}
		l.buckets[key] = b
	}
	b.lastSeen = l.now()
	l.mu.Unlock()
	return b.limiter.AllowN(b.lastSeen, 1)
}

// PerIP limits every request to rps per second per client IP, with the given
// burst.
func (l *Limiter) PerIP(rps, burst int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.allow(scopeIP+":"+c.ClientIP(), rate.Limit(rps), burst) {
			tooManyRequests(c, scopeIP, 1)
			return
		}
		c.Next()
	}
}

// PerAddress limits challenge requests and star submissions to perMinute per
// claimed address, read from the "address" field of the JSON body. Requests
// without an address pass through so the handler can reject them. The body is
// restored for the handler.
func (l *Limiter) PerAddress(perMinute, burst int) gin.HandlerFunc {
	limit := rate.Limit(float64(perMinute) / 60)
	retryAfter := (60 + perMinute - 1) / perMinute
	return func(c *gin.Context) {
		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
				return
			}
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewReader(raw))

		var claim struct {
			Address string `json:"address"`
		}
		if json.Unmarshal(raw, &claim) != nil || claim.Address == "" {
			c.Next()
			return
		}
		if !l.allow(scopeAddress+":"+claim.Address, limit, burst) {
			tooManyRequests(c, scopeAddress, retryAfter)
			return
		}
		c.Next()
	}
}

func tooManyRequests(c *gin.Context, scope string, retryAfter int) {
	rateLimitedTotal.WithLabelValues(scope).Inc()
	c.Header("Retry-After", strconv.Itoa(retryAfter))
	c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
		"error": "rate limit exceeded",
		"scope": scope,
	})
}
