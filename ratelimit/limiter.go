package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integrations/core"
)

// Refresher fetches authoritative budget numbers, e.g. GitHub GET /rate_limit.
type Refresher interface {
	RefreshRateLimit(ctx context.Context, tenantID string) (Window, error)
}

type RefresherFunc func(ctx context.Context, tenantID string) (Window, error)

func (f RefresherFunc) RefreshRateLimit(ctx context.Context, tenantID string) (Window, error) {
	return f(ctx, tenantID)
}

// ExhaustedError is returned by Wait when the caller's deadline ends before
// the window resets.
type ExhaustedError struct {
	TenantID   string
	RetryAfter time.Duration
}

func (e ExhaustedError) Error() string {
	return fmt.Sprintf("ratelimit: tenant %q budget exhausted for %s", strings.TrimSpace(e.TenantID), e.RetryAfter)
}

func (e ExhaustedError) ToError() *goerrors.Error {
	metadata := map[string]any{"tenant_id": strings.TrimSpace(e.TenantID)}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.ErrorRateLimited).
		WithMetadata(metadata)
}

type Option func(*Limiter)

func WithStore(store Store) Option {
	return func(l *Limiter) {
		if store != nil {
			l.store = store
		}
	}
}

func WithRefresher(refresher Refresher) Option {
	return func(l *Limiter) {
		l.refresher = refresher
	}
}

func WithObserver(observer core.Observer) Option {
	return func(l *Limiter) {
		l.observer = observer
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// Limiter tracks the per-tenant call budget. Windows reset lazily on read once
// their reset instant has passed.
type Limiter struct {
	store     Store
	refresher Refresher
	observer  core.Observer
	now       func() time.Time

	hardLimit int
	window    time.Duration
	threshold int
}

func New(cfg core.RateLimitConfig, opts ...Option) *Limiter {
	defaults := core.DefaultConfig().RateLimit
	if cfg.HardLimit <= 0 {
		cfg.HardLimit = defaults.HardLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = defaults.Window
	}
	if cfg.ApproachingThreshold < 0 {
		cfg.ApproachingThreshold = 0
	}
	limiter := &Limiter{
		store:     NewMemoryStore(),
		observer:  core.NewObserver(nil, nil, ""),
		now:       func() time.Time { return time.Now().UTC() },
		hardLimit: cfg.HardLimit,
		window:    cfg.Window,
		threshold: cfg.ApproachingThreshold,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(limiter)
		}
	}
	return limiter
}

func (l *Limiter) Check(tenantID string) Window {
	now := l.now()
	return l.store.Update(tenantID, func(current Window, found bool) Window {
		return l.current(tenantID, current, found, now)
	})
}

func (l *Limiter) RecordCall(tenantID string) {
	l.record(tenantID, nil)
}

// Synced returns the tenant window's sync count, to be handed back to
// RecordCallSince once the call finished.
func (l *Limiter) Synced(tenantID string) uint64 {
	return l.Check(tenantID).Syncs
}

// RecordCallSince counts one call unless the window was synced from the
// remote after syncs was read; the remote figure already includes the call.
// It reports whether the call was counted.
func (l *Limiter) RecordCallSince(tenantID string, syncs uint64) bool {
	return l.record(tenantID, &syncs)
}

func (l *Limiter) record(tenantID string, syncs *uint64) bool {
	now := l.now()
	counted := false
	l.store.Update(tenantID, func(current Window, found bool) Window {
		window := l.current(tenantID, current, found, now)
		if syncs != nil && window.Syncs != *syncs {
			return window
		}
		if window.Remaining > 0 {
			window.Remaining--
		}
		window.UpdatedAt = now
		counted = true
		return window
	})
	return counted
}

// Update overwrites the window from an authoritative source.
func (l *Limiter) Update(tenantID string, remaining int, resetAt time.Time) {
	now := l.now()
	l.store.Update(tenantID, func(current Window, found bool) Window {
		window := current
		if !found {
			window = l.fresh(tenantID, now)
		}
		if remaining < 0 {
			remaining = 0
		}
		window.Remaining = remaining
		window.ResetAt = resetAt.UTC()
		window.UpdatedAt = now
		window.Syncs++
		return window
	})
}

// UpdateFromHeaders applies x-ratelimit-* (and Retry-After) response headers.
// It reports whether any budget header was present.
func (l *Limiter) UpdateFromHeaders(tenantID string, headers map[string]string) bool {
	now := l.now()
	snapshot := ParseHeaders(headers, now)
	if snapshot.Empty() {
		return false
	}
	l.store.Update(tenantID, func(current Window, found bool) Window {
		window := current
		if !found {
			window = l.fresh(tenantID, now)
		}
		if snapshot.HasLimit && snapshot.Limit > 0 {
			window.Limit = snapshot.Limit
		}
		if snapshot.HasRemaining {
			window.Remaining = max(snapshot.Remaining, 0)
		}
		if snapshot.HasResetAt {
			window.ResetAt = snapshot.ResetAt
		}
		if snapshot.RetryAfter > 0 && !snapshot.HasRemaining {
			window.Remaining = 0
			window.ResetAt = now.Add(snapshot.RetryAfter)
		}
		window.UpdatedAt = now
		window.Syncs++
		return window
	})
	return true
}

func (l *Limiter) Reset(tenantID string) {
	l.store.Delete(tenantID)
}

func (l *Limiter) Approaching(tenantID string) bool {
	return l.Check(tenantID).Remaining < l.threshold
}

// Wait blocks until a call for tenantID may proceed. With forceRefresh the
// Refresher is consulted once before deciding.
func (l *Limiter) Wait(ctx context.Context, tenantID string, forceRefresh bool) error {
	if forceRefresh {
		l.refresh(ctx, tenantID)
	}
	for {
		window := l.Check(tenantID)
		if window.Remaining > 0 {
			if window.Remaining < l.threshold {
				l.observer.Warn(ctx, "rate limit approaching", map[string]any{
					"tenant_id": tenantID,
					"remaining": window.Remaining,
					"limit":     window.Limit,
					"reset_at":  window.ResetAt,
				})
			}
			return nil
		}

		delay := window.ResetAt.Sub(l.now())
		if delay <= 0 {
			continue
		}
		if deadline, ok := ctx.Deadline(); ok && deadline.Before(window.ResetAt) {
			return ExhaustedError{TenantID: tenantID, RetryAfter: delay}.ToError()
		}
		l.observer.Info(ctx, "rate limit exhausted, waiting for reset", map[string]any{
			"tenant_id": tenantID,
			"wait_ms":   delay.Milliseconds(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *Limiter) refresh(ctx context.Context, tenantID string) {
	if l.refresher == nil {
		return
	}
	fetched, err := l.refresher.RefreshRateLimit(ctx, tenantID)
	if err != nil {
		l.observer.Warn(ctx, "rate limit refresh failed, using local window", map[string]any{
			"tenant_id": tenantID,
			"error":     err.Error(),
		})
		return
	}
	now := l.now()
	l.store.Update(tenantID, func(current Window, _ bool) Window {
		window := fetched
		window.TenantID = tenantID
		if window.Limit <= 0 {
			window.Limit = l.hardLimit
		}
		window.Remaining = max(window.Remaining, 0)
		window.UpdatedAt = now
		window.Syncs = current.Syncs + 1
		return window
	})
}

func (l *Limiter) current(tenantID string, window Window, found bool, now time.Time) Window {
	if !found || !now.Before(window.ResetAt) {
		reset := l.fresh(tenantID, now)
		reset.Syncs = window.Syncs
		return reset
	}
	return window
}

func (l *Limiter) fresh(tenantID string, now time.Time) Window {
	return Window{
		TenantID:  tenantID,
		Limit:     l.hardLimit,
		Remaining: l.hardLimit,
		ResetAt:   now.Add(l.window),
		UpdatedAt: now,
	}
}
