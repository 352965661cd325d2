// Package consumer runs the long-lived loop that pulls domain events off the
// bus and hands each one to an EventHandler.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integrations/core"
)

type Option func(*Consumer)

func WithObserver(observer core.Observer) Option {
	return func(c *Consumer) {
		c.observer = observer
	}
}

func WithConcurrency(workers int) Option {
	return func(c *Consumer) {
		if workers > 0 {
			c.workers = workers
		}
	}
}

// WithRetryDelay sets how long a failed message waits before redelivery.
func WithRetryDelay(delay time.Duration) Option {
	return func(c *Consumer) {
		if delay >= 0 {
			c.retryDelay = delay
		}
	}
}

// Consumer acknowledges a message only after its handler succeeded. Failed
// messages are nacked for redelivery, or dead-lettered when the payload can
// never succeed.
type Consumer struct {
	dequeuer   core.EventDequeuer
	handler    core.EventHandler
	cfg        core.ConsumerConfig
	workers    int
	retryDelay time.Duration
	observer   core.Observer

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup
}

func New(dequeuer core.EventDequeuer, handler core.EventHandler, cfg core.ConsumerConfig, opts ...Option) (*Consumer, error) {
	if dequeuer == nil {
		return nil, fmt.Errorf("consumer: dequeuer is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("consumer: handler is required")
	}
	defaults := core.DefaultConfig().Consumer
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaults.PollTimeout
	}
	if cfg.IdleBackoff <= 0 {
		cfg.IdleBackoff = defaults.IdleBackoff
	}
	if cfg.MessageTimeout <= 0 {
		cfg.MessageTimeout = defaults.MessageTimeout
	}
	c := &Consumer{
		dequeuer:   dequeuer,
		handler:    handler,
		cfg:        cfg,
		workers:    1,
		retryDelay: time.Second,
		observer:   core.NewObserver(nil, nil, ""),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// Run polls until ctx is cancelled, then waits for in-flight messages to
// finish. A message already being handled keeps its own timeout and is not
// interrupted by the cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("consumer: already running")
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	c.observer.Info(ctx, "consumer started", map[string]any{"workers": c.workers})
	for range c.workers {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.loop(ctx)
		}()
	}
	c.wg.Wait()
	c.observer.Info(context.Background(), "consumer stopped", nil)
	return nil
}

func (c *Consumer) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		pollCtx, cancel := context.WithTimeout(ctx, c.cfg.PollTimeout)
		delivery, err := c.dequeuer.Dequeue(pollCtx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, context.DeadlineExceeded) {
				c.observer.Warn(ctx, "dequeue failed", map[string]any{"error": err.Error()})
			}
			c.idle(ctx)
			continue
		}
		if delivery == nil {
			c.idle(ctx)
			continue
		}
		c.process(ctx, delivery)
	}
}

func (c *Consumer) process(parent context.Context, delivery core.EventDelivery) {
	startedAt := time.Now()
	event := delivery.Event()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), c.cfg.MessageTimeout)
	defer cancel()

	err := c.handle(ctx, event)
	fields := map[string]any{
		"tenant_id":  event.TenantID,
		"event_type": event.EventType,
		"event_id":   event.ID,
		"topic":      event.Topic,
	}
	c.observer.Observe(ctx, startedAt, "consume_event", err, fields)

	if err == nil {
		if ackErr := delivery.Ack(ctx); ackErr != nil {
			c.observer.Error(ctx, "ack failed", mergeFields(fields, "error", ackErr.Error()))
		}
		return
	}

	opts := core.NackOptions{Requeue: true, Delay: c.retryDelay, Reason: err.Error()}
	if permanent(err) {
		opts = core.NackOptions{DeadLetter: true, Reason: err.Error()}
	}
	if nackErr := delivery.Nack(ctx, opts); nackErr != nil {
		c.observer.Error(ctx, "nack failed", mergeFields(fields, "error", nackErr.Error()))
	}
}

func (c *Consumer) handle(ctx context.Context, event core.DomainEvent) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = core.NewError(fmt.Sprintf("consumer: handler panicked: %v", recovered), goerrors.CategoryInternal, core.ErrorInternal)
		}
	}()
	return c.handler.HandleEvent(ctx, event)
}

func (c *Consumer) idle(ctx context.Context) {
	timer := time.NewTimer(c.cfg.IdleBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// permanent reports failures that redelivery cannot fix: the event itself
// is invalid.
func permanent(err error) bool {
	if core.IsRetryable(err) {
		return false
	}
	switch core.TextCode(err) {
	case core.ErrorValidation, core.ErrorMalformedPayload, core.ErrorMissingField,
		core.ErrorUnsupportedEvent, core.ErrorTypeMismatch:
		return true
	}
	return false
}

func mergeFields(fields map[string]any, key string, value any) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out[key] = value
	return out
}

// Mux routes events to handlers by topic. Events on a topic nobody handles
// are acknowledged without work.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string][]core.EventHandler
}

func NewMux() *Mux {
	return &Mux{handlers: map[string][]core.EventHandler{}}
}

func (m *Mux) Handle(topic string, handler core.EventHandler) {
	if handler == nil {
		return
	}
	topic = strings.TrimSpace(topic)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[topic] = append(m.handlers[topic], handler)
}

// HandleEvent runs every handler for the event's topic and joins their errors.
func (m *Mux) HandleEvent(ctx context.Context, event core.DomainEvent) error {
	m.mu.RLock()
	handlers := append([]core.EventHandler(nil), m.handlers[strings.TrimSpace(event.Topic)]...)
	m.mu.RUnlock()

	var errs []error
	for _, handler := range handlers {
		if err := handler.HandleEvent(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
