package resilience

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-integrations/core"
)

type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// CircuitSnapshot is a read-only view of one tenant's breaker.
type CircuitSnapshot struct {
	TenantID            string
	State               CircuitState
	ConsecutiveFailures int
	OpenedAt            *time.Time
	RetryAt             *time.Time
}

// Breaker opens after threshold consecutive failures inside window, stays open
// for cooldown, then lets exactly one probe through.
type Breaker struct {
	mu        sync.Mutex
	tenantID  string
	threshold int
	window    time.Duration
	cooldown  time.Duration

	state          CircuitState
	failures       int
	firstFailureAt time.Time
	openedAt       time.Time
	probing        bool
}

func NewBreaker(tenantID string, threshold int, window, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	return &Breaker{
		tenantID:  tenantID,
		threshold: threshold,
		window:    window,
		cooldown:  cooldown,
		state:     CircuitClosed,
	}
}

// Allow admits a call. The returned flag is true when the call is the single
// half-open probe.
func (b *Breaker) Allow(now time.Time) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		if now.Sub(b.openedAt) < b.cooldown {
			return false, b.openError(now)
		}
		b.state = CircuitHalfOpen
		b.probing = true
		return true, nil
	case CircuitHalfOpen:
		if b.probing {
			return false, b.openError(now)
		}
		b.probing = true
		return true, nil
	default:
		return false, nil
	}
}

func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = CircuitClosed
	b.failures = 0
	b.firstFailureAt = time.Time{}
	b.openedAt = time.Time{}
	b.probing = false
}

// RecordFailure counts a transient failure and reports whether it tripped
// the breaker.
func (b *Breaker) RecordFailure(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitHalfOpen {
		b.trip(now)
		return true
	}
	if b.state == CircuitOpen {
		return false
	}
	if b.failures == 0 || (b.window > 0 && now.Sub(b.firstFailureAt) > b.window) {
		b.failures = 0
		b.firstFailureAt = now
	}
	b.failures++
	if b.failures >= b.threshold {
		b.trip(now)
		return true
	}
	return false
}

// Abandon releases a probe slot without judging the remote, e.g. when the
// caller gave up before the call was made.
func (b *Breaker) Abandon() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
}

func (b *Breaker) Reset() {
	b.RecordSuccess()
}

func (b *Breaker) State(now time.Time) CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && now.Sub(b.openedAt) >= b.cooldown {
		return CircuitHalfOpen
	}
	return b.state
}

func (b *Breaker) Snapshot(now time.Time) CircuitSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	snapshot := CircuitSnapshot{
		TenantID:            b.tenantID,
		State:               b.state,
		ConsecutiveFailures: b.failures,
	}
	if b.state == CircuitOpen && now.Sub(b.openedAt) >= b.cooldown {
		snapshot.State = CircuitHalfOpen
	}
	if !b.openedAt.IsZero() {
		openedAt := b.openedAt
		retryAt := b.openedAt.Add(b.cooldown)
		snapshot.OpenedAt = &openedAt
		snapshot.RetryAt = &retryAt
	}
	return snapshot
}

func (b *Breaker) trip(now time.Time) {
	b.state = CircuitOpen
	b.openedAt = now
	b.probing = false
}

func (b *Breaker) openError(now time.Time) error {
	retryAfter := b.cooldown - now.Sub(b.openedAt)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return core.CircuitOpenError(fmt.Sprintf("resilience: circuit open for tenant %q", b.tenantID)).
		WithMetadata(map[string]any{
			"tenant_id":      b.tenantID,
			"retry_after_ms": retryAfter.Milliseconds(),
		})
}

// StateStore keeps one breaker per tenant.
type StateStore interface {
	Breaker(tenantID string) *Breaker
	Delete(tenantID string)
}

type MemoryStateStore struct {
	mu        sync.Mutex
	breakers  map[string]*Breaker
	threshold int
	window    time.Duration
	cooldown  time.Duration
}

func NewMemoryStateStore(cfg core.ResilienceConfig) *MemoryStateStore {
	return &MemoryStateStore{
		breakers:  map[string]*Breaker{},
		threshold: cfg.FailureThreshold,
		window:    cfg.FailureWindow,
		cooldown:  cfg.Cooldown,
	}
}

func (s *MemoryStateStore) Breaker(tenantID string) *Breaker {
	key := strings.ToLower(strings.TrimSpace(tenantID))
	s.mu.Lock()
	defer s.mu.Unlock()
	breaker, ok := s.breakers[key]
	if !ok {
		breaker = NewBreaker(tenantID, s.threshold, s.window, s.cooldown)
		s.breakers[key] = breaker
	}
	return breaker
}

func (s *MemoryStateStore) Delete(tenantID string) {
	key := strings.ToLower(strings.TrimSpace(tenantID))
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.breakers, key)
}

var _ StateStore = (*MemoryStateStore)(nil)
