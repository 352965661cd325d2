package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goliatone/go-integrations/core"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/goliatone/go-integrations/resilience"

// RateGate is the part of the rate limiter the policy consults around each
// attempt. RecordCallSince skips the local decrement when the window was
// synced from response headers while the attempt ran.
type RateGate interface {
	Wait(ctx context.Context, tenantID string, forceRefresh bool) error
	Synced(tenantID string) uint64
	RecordCallSince(tenantID string, syncs uint64) bool
}

type Option func(*Policy)

func WithRateGate(gate RateGate) Option {
	return func(p *Policy) {
		p.gate = gate
	}
}

func WithStateStore(store StateStore) Option {
	return func(p *Policy) {
		if store != nil {
			p.breakers = store
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(p *Policy) {
		if tracer != nil {
			p.tracer = tracer
		}
	}
}

func WithObserver(observer core.Observer) Option {
	return func(p *Policy) {
		p.observer = observer
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Policy) {
		if now != nil {
			p.now = now
		}
	}
}

func WithJitter(jitter func(time.Duration) time.Duration) Option {
	return func(p *Policy) {
		p.backoff.Jitter = jitter
	}
}

// Policy wraps calls to the external API with per-tenant retry, circuit
// breaking, call timeouts and a concurrency bulkhead.
type Policy struct {
	maxRetries  int
	callTimeout time.Duration
	backoff     Backoff

	gate     RateGate
	breakers StateStore
	bulkhead *Bulkhead
	tracer   trace.Tracer
	observer core.Observer
	now      func() time.Time
}

func New(cfg core.ResilienceConfig, opts ...Option) *Policy {
	defaults := core.DefaultConfig().Resilience
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = defaults.FailureThreshold
	}
	if cfg.FailureWindow <= 0 {
		cfg.FailureWindow = defaults.FailureWindow
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaults.Cooldown
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaults.MaxConcurrent
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaults.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaults.MaxBackoff
	}
	policy := &Policy{
		maxRetries:  cfg.MaxRetries,
		callTimeout: cfg.CallTimeout,
		backoff:     Backoff{Initial: cfg.InitialBackoff, Max: cfg.MaxBackoff},
		breakers:    NewMemoryStateStore(cfg),
		bulkhead:    NewBulkhead(cfg.MaxConcurrent),
		tracer:      otel.Tracer(tracerName),
		observer:    core.NewObserver(nil, nil, ""),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(policy)
		}
	}
	return policy
}

// Execute runs action under the full policy: breaker, bulkhead, rate gate,
// timeout and retries.
func Execute[T any](ctx context.Context, p *Policy, tenantID string, action func(ctx context.Context) (T, error)) (T, error) {
	return execute(ctx, p, tenantID, true, action)
}

// ExecuteRetryOnly skips the circuit breaker. Use it for one-shot calls whose
// failures should not trip the tenant's circuit.
func ExecuteRetryOnly[T any](ctx context.Context, p *Policy, tenantID string, action func(ctx context.Context) (T, error)) (T, error) {
	return execute(ctx, p, tenantID, false, action)
}

func execute[T any](ctx context.Context, p *Policy, tenantID string, useBreaker bool, action func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if p == nil {
		return action(ctx)
	}
	if action == nil {
		return zero, fmt.Errorf("resilience: action is required")
	}

	var result T
	err := p.run(ctx, tenantID, useBreaker, func(callCtx context.Context) error {
		value, err := action(callCtx)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return zero, err
	}
	return result, nil
}

func (p *Policy) CircuitState(tenantID string) CircuitState {
	return p.breakers.Breaker(tenantID).State(p.now())
}

func (p *Policy) CircuitSnapshot(tenantID string) CircuitSnapshot {
	return p.breakers.Breaker(tenantID).Snapshot(p.now())
}

func (p *Policy) ResetCircuit(tenantID string) {
	p.breakers.Breaker(tenantID).Reset()
	p.observer.Info(context.Background(), "circuit reset", map[string]any{"tenant_id": tenantID})
}

func (p *Policy) run(ctx context.Context, tenantID string, useBreaker bool, call func(context.Context) error) error {
	var lastErr error
	forceRefresh := false
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		if attempt > 0 {
			delay := p.backoff.Delay(attempt)
			if hint := retryHint(lastErr); hint > delay {
				delay = min(hint, p.backoff.Max)
			}
			p.observer.Count(ctx, "resilience.retry", 1, map[string]string{"tenant_id": tenantID})
			if err := sleepContext(ctx, delay); err != nil {
				return lastErr
			}
		}

		err := p.attempt(ctx, tenantID, attempt, useBreaker, forceRefresh, call)
		if err == nil {
			return nil
		}
		if core.IsCircuitOpen(err) {
			return err
		}
		lastErr = err
		if !core.IsRetryable(err) || ctx.Err() != nil {
			return err
		}
		forceRefresh = core.HasTextCode(err, core.ErrorRateLimited)
	}
	return lastErr
}

func (p *Policy) attempt(
	ctx context.Context,
	tenantID string,
	attempt int,
	useBreaker bool,
	forceRefresh bool,
	call func(context.Context) error,
) (err error) {
	ctx, span := p.tracer.Start(ctx, "resilience.attempt", trace.WithAttributes(
		attribute.String("tenant.id", tenantID),
		attribute.Int("attempt", attempt),
		attribute.Bool("breaker", useBreaker),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	var breaker *Breaker
	if useBreaker {
		breaker = p.breakers.Breaker(tenantID)
		if _, err := breaker.Allow(p.now()); err != nil {
			p.observer.Count(ctx, "resilience.rejected", 1, map[string]string{"tenant_id": tenantID})
			return err
		}
	}

	release, err := p.bulkhead.Acquire(ctx, tenantID)
	if err != nil {
		if breaker != nil {
			breaker.Abandon()
		}
		return err
	}
	defer release()

	var syncs uint64
	if p.gate != nil {
		if err := p.gate.Wait(ctx, tenantID, forceRefresh); err != nil {
			if breaker != nil {
				breaker.Abandon()
			}
			return err
		}
		syncs = p.gate.Synced(tenantID)
	}

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if p.callTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, p.callTimeout)
	}
	err = call(callCtx)
	timedOut := errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	cancel()

	if p.gate != nil {
		p.gate.RecordCallSince(tenantID, syncs)
	}
	if err != nil && timedOut && !core.IsRetryable(err) {
		err = core.TransientError(err, "resilience: call timed out")
	}

	p.account(ctx, breaker, tenantID, err)
	return err
}

// account records the attempt outcome on the breaker exactly once. Only
// transient failures count against the circuit; a terminal error still proves
// the remote answered.
func (p *Policy) account(ctx context.Context, breaker *Breaker, tenantID string, err error) {
	if breaker == nil {
		return
	}
	switch {
	case err == nil:
		breaker.RecordSuccess()
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		breaker.Abandon()
	case core.IsRetryable(err):
		if breaker.RecordFailure(p.now()) {
			p.observer.Count(ctx, "resilience.circuit_opened", 1, map[string]string{"tenant_id": tenantID})
			p.observer.Warn(ctx, "circuit opened", map[string]any{
				"tenant_id": tenantID,
				"error":     err.Error(),
			})
		}
	default:
		breaker.RecordSuccess()
	}
}
