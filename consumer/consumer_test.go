package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-integrations/core"
)

type stubDelivery struct {
	event core.DomainEvent

	mu     sync.Mutex
	acked  bool
	nacked bool
	opts   core.NackOptions
}

func (d *stubDelivery) Event() core.DomainEvent { return d.event }

func (d *stubDelivery) Ack(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acked = true
	return nil
}

func (d *stubDelivery) Nack(_ context.Context, opts core.NackOptions) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nacked = true
	d.opts = opts
	return nil
}

func (d *stubDelivery) state() (bool, bool, core.NackOptions) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acked, d.nacked, d.opts
}

// stubDequeuer hands out queued deliveries, then reports an empty queue by
// waiting for the poll deadline.
type stubDequeuer struct {
	mu      sync.Mutex
	pending []*stubDelivery
	err     error
	polls   int
	drained chan struct{}
	once    sync.Once
}

func newStubDequeuer(deliveries ...*stubDelivery) *stubDequeuer {
	return &stubDequeuer{pending: deliveries, drained: make(chan struct{})}
}

func (d *stubDequeuer) Dequeue(ctx context.Context) (core.EventDelivery, error) {
	d.mu.Lock()
	d.polls++
	if d.err != nil {
		err := d.err
		d.mu.Unlock()
		return nil, err
	}
	if len(d.pending) > 0 {
		next := d.pending[0]
		d.pending = d.pending[1:]
		d.mu.Unlock()
		return next, nil
	}
	d.mu.Unlock()
	d.once.Do(func() { close(d.drained) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func testConfig() core.ConsumerConfig {
	return core.ConsumerConfig{
		PollTimeout:    5 * time.Millisecond,
		IdleBackoff:    time.Millisecond,
		MessageTimeout: time.Second,
	}
}

func delivery(eventType string) *stubDelivery {
	return &stubDelivery{event: core.NewDomainEvent(core.TopicGitHubEvents, eventType, "tenant-a", map[string]any{"k": "v"}, "")}
}

func runUntilDrained(t *testing.T, c *Consumer, dequeuer *stubDequeuer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	select {
	case <-dequeuer.drained:
	case <-time.After(2 * time.Second):
		t.Fatalf("queue was not drained")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("consumer did not stop")
	}
}

func TestConsumer_AcksAfterSuccess(t *testing.T) {
	first, second := delivery("push"), delivery("issues")
	dequeuer := newStubDequeuer(first, second)

	var mu sync.Mutex
	var seen []string
	handler := core.EventHandlerFunc(func(_ context.Context, event core.DomainEvent) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, event.EventType)
		return nil
	})
	c, err := New(dequeuer, handler, testConfig())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	runUntilDrained(t, c, dequeuer)

	if len(seen) != 2 || seen[0] != "push" || seen[1] != "issues" {
		t.Fatalf("expected both events handled in order, got %v", seen)
	}
	for _, d := range []*stubDelivery{first, second} {
		if acked, nacked, _ := d.state(); !acked || nacked {
			t.Fatalf("expected ack only, got acked=%v nacked=%v", acked, nacked)
		}
	}
}

func TestConsumer_TransientFailureRequeues(t *testing.T) {
	d := delivery("push")
	dequeuer := newStubDequeuer(d)
	handler := core.EventHandlerFunc(func(context.Context, core.DomainEvent) error {
		return core.TransientError(errors.New("db down"), "store unavailable")
	})
	c, _ := New(dequeuer, handler, testConfig(), WithRetryDelay(2*time.Second))
	runUntilDrained(t, c, dequeuer)

	acked, nacked, opts := d.state()
	if acked || !nacked {
		t.Fatalf("expected nack without ack")
	}
	if !opts.Requeue || opts.DeadLetter || opts.Delay != 2*time.Second || opts.Reason == "" {
		t.Fatalf("unexpected nack options: %+v", opts)
	}
}

func TestConsumer_InvalidEventIsDeadLettered(t *testing.T) {
	d := delivery("push")
	dequeuer := newStubDequeuer(d)
	handler := core.EventHandlerFunc(func(context.Context, core.DomainEvent) error {
		return core.ValidationError("payload missing repository")
	})
	c, _ := New(dequeuer, handler, testConfig())
	runUntilDrained(t, c, dequeuer)

	if _, _, opts := d.state(); !opts.DeadLetter || opts.Requeue {
		t.Fatalf("expected dead letter, got %+v", opts)
	}
}

func TestConsumer_PanicIsNackedAndLoopSurvives(t *testing.T) {
	bad, good := delivery("push"), delivery("issues")
	dequeuer := newStubDequeuer(bad, good)
	handler := core.EventHandlerFunc(func(_ context.Context, event core.DomainEvent) error {
		if event.EventType == "push" {
			panic("boom")
		}
		return nil
	})
	c, _ := New(dequeuer, handler, testConfig())
	runUntilDrained(t, c, dequeuer)

	if _, nacked, opts := bad.state(); !nacked || !opts.Requeue {
		t.Fatalf("expected panicking handler to requeue, got %+v", opts)
	}
	if acked, _, _ := good.state(); !acked {
		t.Fatalf("expected next message to be processed")
	}
}

func TestConsumer_InFlightMessageFinishesOnShutdown(t *testing.T) {
	d := delivery("push")
	dequeuer := newStubDequeuer(d)
	started := make(chan struct{})
	release := make(chan struct{})
	handler := core.EventHandlerFunc(func(ctx context.Context, _ core.DomainEvent) error {
		close(started)
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	c, _ := New(dequeuer, handler, testConfig())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	<-started
	cancel()
	select {
	case <-done:
		t.Fatalf("run returned before the in-flight message finished")
	case <-time.After(20 * time.Millisecond):
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
	if acked, _, _ := d.state(); !acked {
		t.Fatalf("expected in-flight message to be acked")
	}
}

func TestConsumer_DequeueErrorsBackOff(t *testing.T) {
	dequeuer := newStubDequeuer()
	dequeuer.err = errors.New("broker unavailable")
	c, _ := New(dequeuer, core.EventHandlerFunc(func(context.Context, core.DomainEvent) error { return nil }), testConfig())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := c.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	dequeuer.mu.Lock()
	polls := dequeuer.polls
	dequeuer.mu.Unlock()
	if polls < 2 {
		t.Fatalf("expected repeated polling after errors, got %d", polls)
	}
}

func TestConsumer_RejectsConcurrentRun(t *testing.T) {
	dequeuer := newStubDequeuer()
	c, _ := New(dequeuer, core.EventHandlerFunc(func(context.Context, core.DomainEvent) error { return nil }), testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	<-dequeuer.drained
	if err := c.Run(ctx); err == nil {
		t.Fatalf("expected second run to fail")
	}
	cancel()
	<-done
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(nil, core.EventHandlerFunc(nil), testConfig()); err == nil {
		t.Fatalf("expected missing dequeuer error")
	}
	if _, err := New(newStubDequeuer(), nil, testConfig()); err == nil {
		t.Fatalf("expected missing handler error")
	}
}

func TestMux_RoutesByTopic(t *testing.T) {
	mux := NewMux()
	var github, prs int
	mux.Handle(core.TopicGitHubEvents, core.EventHandlerFunc(func(context.Context, core.DomainEvent) error {
		github++
		return nil
	}))
	mux.Handle(core.TopicAutonomousPR, core.EventHandlerFunc(func(context.Context, core.DomainEvent) error {
		prs++
		return errors.New("subscriber store down")
	}))

	if err := mux.HandleEvent(context.Background(), core.DomainEvent{Topic: core.TopicGitHubEvents}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := mux.HandleEvent(context.Background(), core.DomainEvent{Topic: core.TopicAutonomousPR}); err == nil {
		t.Fatalf("expected handler error to surface")
	}
	if err := mux.HandleEvent(context.Background(), core.DomainEvent{Topic: "unrouted"}); err != nil {
		t.Fatalf("unrouted topics should be a no-op, got %v", err)
	}
	if github != 1 || prs != 1 {
		t.Fatalf("unexpected routing counts github=%d prs=%d", github, prs)
	}
}
