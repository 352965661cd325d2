// Package gojob carries domain events over go-job queues.
package gojob

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integrations/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

const (
	JobIDDomainEvent    = "integrations.domain_event"
	JobIDOutboxDispatch = "integrations.outbox.dispatch"

	DedupPolicyDrop = "drop"
)

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts core.NackOptions, attempt int) core.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// ToExecutionMessage wraps a domain event in a go-job message. The event id
// doubles as the idempotency key so a redelivered publish is dropped.
func ToExecutionMessage(event core.DomainEvent) *job.ExecutionMessage {
	params := map[string]any{
		"event_id":       event.ID,
		"topic":          event.Topic,
		"event_type":     event.EventType,
		"tenant_id":      event.TenantID,
		"correlation_id": event.CorrelationID,
		"payload":        copyAnyMap(event.Payload),
	}
	if !event.Timestamp.IsZero() {
		params["timestamp"] = event.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	return &job.ExecutionMessage{
		JobID:          JobIDDomainEvent,
		ScriptPath:     strings.TrimSpace(event.Topic),
		Parameters:     params,
		IdempotencyKey: strings.TrimSpace(event.ID),
		DedupPolicy:    job.DeduplicationPolicy(DedupPolicyDrop),
	}
}

// FromExecutionMessage rebuilds the domain event carried by msg.
func FromExecutionMessage(msg *job.ExecutionMessage) (core.DomainEvent, error) {
	if msg == nil {
		return core.DomainEvent{}, malformed("execution message is nil")
	}
	if strings.TrimSpace(msg.JobID) != JobIDDomainEvent {
		return core.DomainEvent{}, malformed(fmt.Sprintf("unexpected job id %q", msg.JobID))
	}
	params := msg.Parameters
	event := core.DomainEvent{
		ID:            stringParam(params, "event_id"),
		Topic:         stringParam(params, "topic"),
		EventType:     stringParam(params, "event_type"),
		TenantID:      stringParam(params, "tenant_id"),
		CorrelationID: stringParam(params, "correlation_id"),
	}
	if event.ID == "" {
		event.ID = strings.TrimSpace(msg.IdempotencyKey)
	}
	if event.Topic == "" {
		event.Topic = strings.TrimSpace(msg.ScriptPath)
	}
	if event.ID == "" || event.Topic == "" || event.EventType == "" {
		return core.DomainEvent{}, malformed("event id, topic and event type are required")
	}

	switch payload := params["payload"].(type) {
	case nil:
		event.Payload = map[string]any{}
	case map[string]any:
		event.Payload = copyAnyMap(payload)
	default:
		return core.DomainEvent{}, malformed(fmt.Sprintf("payload has type %T", payload))
	}

	switch ts := params["timestamp"].(type) {
	case time.Time:
		event.Timestamp = ts.UTC()
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return core.DomainEvent{}, malformed("timestamp is not RFC3339")
		}
		event.Timestamp = parsed.UTC()
	}
	return event, nil
}

// OutboxDispatchMessage asks a worker to drain one outbox batch.
func OutboxDispatchMessage(batchSize int) *job.ExecutionMessage {
	return &job.ExecutionMessage{
		JobID:       JobIDOutboxDispatch,
		ScriptPath:  JobIDOutboxDispatch,
		Parameters:  map[string]any{"batch_size": batchSize},
		DedupPolicy: job.DeduplicationPolicy(DedupPolicyDrop),
	}
}

// OutboxBatchSize reads the batch size from an outbox dispatch message. JSON
// transports turn integers into float64.
func OutboxBatchSize(msg *job.ExecutionMessage) int {
	if msg == nil {
		return 0
	}
	switch value := msg.Parameters["batch_size"].(type) {
	case int:
		return value
	case int64:
		return int(value)
	case float64:
		return int(value)
	}
	return 0
}

// ToNackOptions maps nack options to go-job.
func ToNackOptions(opts core.NackOptions) queue.NackOptions {
	return queue.NackOptions{
		Delay:      opts.Delay,
		Requeue:    opts.Requeue,
		DeadLetter: opts.DeadLetter,
		Reason:     opts.Reason,
	}
}

// EnqueuerAdapter publishes domain events onto a go-job queue.
type EnqueuerAdapter struct {
	enqueuer queue.Enqueuer
}

func NewEnqueuerAdapter(enqueuer queue.Enqueuer) *EnqueuerAdapter {
	return &EnqueuerAdapter{enqueuer: enqueuer}
}

func (a *EnqueuerAdapter) Publish(ctx context.Context, event core.DomainEvent) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(event.Topic) == "" {
		return fmt.Errorf("gojob: event id and topic are required")
	}
	if err := a.enqueuer.Enqueue(ctx, ToExecutionMessage(event)); err != nil {
		return core.TransientError(err, "gojob: enqueue domain event")
	}
	return nil
}

type DeliveryAdapter struct {
	delivery queue.Delivery
	event    core.DomainEvent
	policy   RetryPolicy
}

func NewDeliveryAdapter(delivery queue.Delivery, event core.DomainEvent, policy RetryPolicy) *DeliveryAdapter {
	return &DeliveryAdapter{delivery: delivery, event: event, policy: policy}
}

func (d *DeliveryAdapter) Event() core.DomainEvent {
	if d == nil {
		return core.DomainEvent{}
	}
	return d.event
}

func (d *DeliveryAdapter) Ack(ctx context.Context) error {
	if d == nil || d.delivery == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	return d.delivery.Ack(ctx)
}

func (d *DeliveryAdapter) Nack(ctx context.Context, opts core.NackOptions) error {
	return d.NackForAttempt(ctx, opts, 0)
}

func (d *DeliveryAdapter) NackForAttempt(ctx context.Context, opts core.NackOptions, attempt int) error {
	if d == nil || d.delivery == nil {
		return fmt.Errorf("gojob: delivery is not configured")
	}
	normalized := d.policy.NormalizeAttempt(opts, attempt)
	return d.delivery.Nack(ctx, ToNackOptions(normalized))
}

// DequeuerAdapter yields domain event deliveries. Messages that do not carry
// a readable event are dead-lettered and skipped.
type DequeuerAdapter struct {
	dequeuer queue.Dequeuer
	policy   RetryPolicy
	observer core.Observer
}

func NewDequeuerAdapter(dequeuer queue.Dequeuer, policy RetryPolicy) *DequeuerAdapter {
	return &DequeuerAdapter{dequeuer: dequeuer, policy: policy, observer: core.NewObserver(nil, nil, "")}
}

func (a *DequeuerAdapter) WithObserver(observer core.Observer) *DequeuerAdapter {
	if a != nil {
		a.observer = observer
	}
	return a
}

func (a *DequeuerAdapter) Dequeue(ctx context.Context) (core.EventDelivery, error) {
	if a == nil || a.dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is not configured")
	}
	for {
		delivery, err := a.dequeuer.Dequeue(ctx)
		if err != nil {
			return nil, err
		}
		if delivery == nil {
			return nil, nil
		}
		event, err := FromExecutionMessage(delivery.Message())
		if err == nil {
			return NewDeliveryAdapter(delivery, event, a.policy), nil
		}
		a.observer.Warn(ctx, "dropping unreadable queue message", map[string]any{"error": err.Error()})
		if nackErr := delivery.Nack(ctx, queue.NackOptions{DeadLetter: true, Reason: err.Error()}); nackErr != nil {
			return nil, errors.Join(err, nackErr)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
}

// WorkerHookAdapter reports go-job worker lifecycle through the observer.
type WorkerHookAdapter struct {
	observer core.Observer
}

func NewWorkerHookAdapter(observer core.Observer) *WorkerHookAdapter {
	return &WorkerHookAdapter{observer: observer}
}

func (a *WorkerHookAdapter) OnStart(ctx context.Context, event worker.Event) {
	if a == nil {
		return
	}
	a.observer.Debug(ctx, "job started", workerFields(event))
}

func (a *WorkerHookAdapter) OnSuccess(ctx context.Context, event worker.Event) {
	if a == nil {
		return
	}
	a.observer.Observe(ctx, event.StartedAt, "job_execute", nil, workerFields(event))
}

func (a *WorkerHookAdapter) OnFailure(ctx context.Context, event worker.Event) {
	if a == nil {
		return
	}
	a.observer.Observe(ctx, event.StartedAt, "job_execute", event.Err, workerFields(event))
}

func (a *WorkerHookAdapter) OnRetry(ctx context.Context, event worker.Event) {
	if a == nil {
		return
	}
	fields := workerFields(event)
	fields["delay_ms"] = event.Delay.Milliseconds()
	if event.Err != nil {
		fields["error"] = event.Err.Error()
	}
	a.observer.Count(ctx, "job.retry", 1, map[string]string{"job_id": stringField(fields, "job_id")})
	a.observer.Warn(ctx, "job scheduled for retry", fields)
}

func workerFields(event worker.Event) map[string]any {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	fields := map[string]any{
		"attempt":     event.Attempt,
		"duration_ms": event.Duration.Milliseconds(),
	}
	if message != nil {
		fields["job_id"] = strings.TrimSpace(message.JobID)
		fields["idempotency_key"] = strings.TrimSpace(message.IdempotencyKey)
		if tenantID := stringParam(message.Parameters, "tenant_id"); tenantID != "" {
			fields["tenant_id"] = tenantID
		}
		if eventType := stringParam(message.Parameters, "event_type"); eventType != "" {
			fields["event_type"] = eventType
		}
	}
	return fields
}

func malformed(message string) *goerrors.Error {
	return core.NewError("gojob: "+message, goerrors.CategoryBadInput, core.ErrorMalformedPayload)
}

func stringParam(params map[string]any, key string) string {
	value, _ := params[key].(string)
	return strings.TrimSpace(value)
}

func stringField(fields map[string]any, key string) string {
	value, _ := fields[key].(string)
	return value
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}

var (
	_ core.EventPublisher = (*EnqueuerAdapter)(nil)
	_ core.EventDelivery  = (*DeliveryAdapter)(nil)
	_ core.EventDequeuer  = (*DequeuerAdapter)(nil)
	_ worker.Hook         = (*WorkerHookAdapter)(nil)
)
