package gojob

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-integrations/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

func sampleEvent() core.DomainEvent {
	event := core.NewDomainEvent(core.TopicAutonomousPR, core.EventAutonomousPRCreated, "tenant-a",
		map[string]any{"pr_number": 7, "branch": "autonomous/fix"}, "req-1")
	event.Timestamp = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return event
}

func TestExecutionMessageCarriesEvent(t *testing.T) {
	event := sampleEvent()
	msg := ToExecutionMessage(event)
	if msg.JobID != JobIDDomainEvent || msg.IdempotencyKey != event.ID {
		t.Fatalf("unexpected message envelope: %+v", msg)
	}
	if string(msg.DedupPolicy) != DedupPolicyDrop {
		t.Fatalf("expected drop dedup policy, got %q", msg.DedupPolicy)
	}

	got, err := FromExecutionMessage(msg)
	if err != nil {
		t.Fatalf("from message: %v", err)
	}
	if got.ID != event.ID || got.Topic != event.Topic || got.EventType != event.EventType ||
		got.TenantID != event.TenantID || got.CorrelationID != "req-1" {
		t.Fatalf("event identity lost: %+v", got)
	}
	if !got.Timestamp.Equal(event.Timestamp) {
		t.Fatalf("expected timestamp %s, got %s", event.Timestamp, got.Timestamp)
	}
	if got.Payload["branch"] != "autonomous/fix" {
		t.Fatalf("expected payload to survive, got %+v", got.Payload)
	}
}

func TestFromExecutionMessageRejectsForeignMessages(t *testing.T) {
	if _, err := FromExecutionMessage(nil); !core.HasTextCode(err, core.ErrorMalformedPayload) {
		t.Fatalf("expected malformed error for nil message, got %v", err)
	}
	if _, err := FromExecutionMessage(OutboxDispatchMessage(10)); !core.HasTextCode(err, core.ErrorMalformedPayload) {
		t.Fatalf("expected malformed error for other job ids, got %v", err)
	}
	msg := ToExecutionMessage(sampleEvent())
	msg.Parameters["payload"] = "not-an-object"
	if _, err := FromExecutionMessage(msg); !core.HasTextCode(err, core.ErrorMalformedPayload) {
		t.Fatalf("expected malformed error for bad payload, got %v", err)
	}
}

func TestOutboxBatchSize(t *testing.T) {
	if got := OutboxBatchSize(OutboxDispatchMessage(25)); got != 25 {
		t.Fatalf("expected 25, got %d", got)
	}
	decoded := &job.ExecutionMessage{JobID: JobIDOutboxDispatch, Parameters: map[string]any{"batch_size": float64(40)}}
	if got := OutboxBatchSize(decoded); got != 40 {
		t.Fatalf("expected json-decoded batch size 40, got %d", got)
	}
}

func TestPublishAndDequeueAdapters(t *testing.T) {
	ctx := context.Background()
	enqueuer := &stubQueueEnqueuer{}
	publisher := NewEnqueuerAdapter(enqueuer)

	event := sampleEvent()
	if err := publisher.Publish(ctx, event); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if enqueuer.last == nil || enqueuer.last.JobID != JobIDDomainEvent {
		t.Fatalf("expected mapped go-job message")
	}

	raw := &stubQueueDelivery{msg: enqueuer.last}
	dequeuer := NewDequeuerAdapter(&stubQueueDequeuer{deliveries: []queue.Delivery{raw}}, RetryPolicy{})
	delivery, err := dequeuer.Dequeue(ctx)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if delivery.Event().ID != event.ID {
		t.Fatalf("expected event %s, got %+v", event.ID, delivery.Event())
	}
	if err := delivery.Ack(ctx); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if !raw.acked {
		t.Fatalf("expected ack on underlying delivery")
	}
}

func TestPublishFailureIsTransient(t *testing.T) {
	publisher := NewEnqueuerAdapter(&stubQueueEnqueuer{err: errors.New("redis down")})
	err := publisher.Publish(context.Background(), sampleEvent())
	if !core.IsRetryable(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	if err := NewEnqueuerAdapter(nil).Publish(context.Background(), sampleEvent()); err == nil {
		t.Fatalf("expected unconfigured enqueuer error")
	}
}

func TestDequeueDeadLettersUnreadableMessages(t *testing.T) {
	broken := &stubQueueDelivery{msg: &job.ExecutionMessage{JobID: "someone.else"}}
	good := &stubQueueDelivery{msg: ToExecutionMessage(sampleEvent())}
	dequeuer := NewDequeuerAdapter(&stubQueueDequeuer{deliveries: []queue.Delivery{broken, good}}, RetryPolicy{})

	delivery, err := dequeuer.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if delivery.Event().EventType != core.EventAutonomousPRCreated {
		t.Fatalf("expected the readable message, got %+v", delivery.Event())
	}
	if !broken.nackOpts.DeadLetter || broken.nackOpts.Requeue {
		t.Fatalf("expected unreadable message dead-lettered, got %+v", broken.nackOpts)
	}
}

func TestNackRetryPolicyBoundaries(t *testing.T) {
	ctx := context.Background()
	rawDelivery := &stubQueueDelivery{msg: ToExecutionMessage(sampleEvent())}
	adapter := NewDeliveryAdapter(rawDelivery, sampleEvent(), RetryPolicy{
		MaxAttempts:     3,
		MaxDelay:        10 * time.Second,
		DeadLetterOnMax: true,
	})

	if err := adapter.NackForAttempt(ctx, core.NackOptions{
		Delay:   30 * time.Second,
		Requeue: true,
		Reason:  "transient",
	}, 1); err != nil {
		t.Fatalf("nack attempt 1: %v", err)
	}
	if rawDelivery.nackOpts.Delay != 10*time.Second {
		t.Fatalf("expected delay to be bounded, got %s", rawDelivery.nackOpts.Delay)
	}
	if !rawDelivery.nackOpts.Requeue {
		t.Fatalf("expected message to be requeued before max attempts")
	}

	if err := adapter.NackForAttempt(ctx, core.NackOptions{
		Delay:   time.Second,
		Requeue: true,
		Reason:  "still failing",
	}, 3); err != nil {
		t.Fatalf("nack max attempt: %v", err)
	}
	if rawDelivery.nackOpts.Requeue || !rawDelivery.nackOpts.DeadLetter {
		t.Fatalf("expected dead letter without requeue at max attempts, got %+v", rawDelivery.nackOpts)
	}

	if err := adapter.Nack(ctx, core.NackOptions{Reason: "  unspecified  "}); err != nil {
		t.Fatalf("nack: %v", err)
	}
	if !rawDelivery.nackOpts.Requeue || rawDelivery.nackOpts.Reason != "unspecified" {
		t.Fatalf("expected bare nack to requeue with trimmed reason, got %+v", rawDelivery.nackOpts)
	}
}

func TestWorkerHookAdapterRecordsRetries(t *testing.T) {
	metrics := &capturingMetrics{}
	adapter := NewWorkerHookAdapter(core.NewObserver(nil, metrics, "integrations"))

	evt := worker.Event{
		Message:   ToExecutionMessage(sampleEvent()),
		Attempt:   2,
		Delay:     5 * time.Second,
		Err:       errors.New("retry"),
		StartedAt: time.Now().Add(-time.Second),
		Duration:  250 * time.Millisecond,
	}
	adapter.OnRetry(context.Background(), evt)
	adapter.OnFailure(context.Background(), evt)

	if metrics.count("integrations.job.retry") != 1 {
		t.Fatalf("expected retry counter, got %v", metrics.counters)
	}
	if metrics.count("integrations.job_execute.total") != 1 {
		t.Fatalf("expected execution counter, got %v", metrics.counters)
	}
	if tags := metrics.lastTags["integrations.job_execute.total"]; tags["status"] != "failure" || tags["tenant_id"] != "tenant-a" {
		t.Fatalf("unexpected execution tags: %v", tags)
	}
}

type stubQueueEnqueuer struct {
	last *job.ExecutionMessage
	err  error
}

func (s *stubQueueEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	if s.err != nil {
		return s.err
	}
	s.last = msg
	return nil
}

type stubQueueDequeuer struct {
	deliveries []queue.Delivery
}

func (s *stubQueueDequeuer) Dequeue(context.Context) (queue.Delivery, error) {
	if len(s.deliveries) == 0 {
		return nil, context.DeadlineExceeded
	}
	next := s.deliveries[0]
	s.deliveries = s.deliveries[1:]
	return next, nil
}

type stubQueueDelivery struct {
	msg      *job.ExecutionMessage
	acked    bool
	nackOpts queue.NackOptions
}

func (s *stubQueueDelivery) Message() *job.ExecutionMessage {
	return s.msg
}

func (s *stubQueueDelivery) Ack(context.Context) error {
	s.acked = true
	return nil
}

func (s *stubQueueDelivery) Nack(_ context.Context, opts queue.NackOptions) error {
	s.nackOpts = opts
	return nil
}

type capturingMetrics struct {
	mu       sync.Mutex
	counters map[string]int64
	lastTags map[string]map[string]string
}

func (m *capturingMetrics) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = map[string]int64{}
		m.lastTags = map[string]map[string]string{}
	}
	m.counters[name] += value
	m.lastTags[name] = tags
}

func (m *capturingMetrics) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func (m *capturingMetrics) count(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}
