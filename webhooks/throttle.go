package webhooks

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-integrations/core"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const (
	defaultThrottleKeys = 4096
	defaultThrottleTTL  = 10 * time.Minute
)

// Throttle is a per-tenant token bucket in front of the webhook endpoint.
// Idle tenants fall out of the cache after the TTL.
type Throttle struct {
	mu       sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

func NewThrottle(cfg core.IngestionConfig) *Throttle {
	perMinute := cfg.ThrottlePerMinute
	if perMinute <= 0 {
		return nil
	}
	burst := cfg.ThrottleBurst
	if burst <= 0 {
		burst = max(1, perMinute/10)
	}
	return &Throttle{
		limiters: expirable.NewLRU[string, *rate.Limiter](defaultThrottleKeys, nil, defaultThrottleTTL),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
	}
}

// Allow consumes one token for tenantID. A nil throttle admits everything.
func (t *Throttle) Allow(tenantID string) bool {
	if t == nil {
		return true
	}
	return t.limiter(strings.TrimSpace(tenantID)).Allow()
}

// limiter returns the tenant's bucket, creating it on first use. The lookup
// and insert happen under one lock so concurrent first deliveries share a
// bucket.
func (t *Throttle) limiter(key string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	if limiter, ok := t.limiters.Get(key); ok {
		return limiter
	}
	limiter := rate.NewLimiter(t.limit, t.burst)
	t.limiters.Add(key, limiter)
	return limiter
}

// ThrottledError is the rate limit rejection returned for a tenant whose
// bucket is empty.
func ThrottledError(tenantID string) error {
	return core.RateLimitedError(fmt.Sprintf("webhooks: too many deliveries for tenant %s", tenantID))
}
