package core

import (
	"context"
	"errors"
	"testing"
	"time"
)

type retriedEntry struct {
	id    string
	cause error
	next  time.Time
}

type stubOutboxStore struct {
	enqueued []DomainEvent
	claimed  []OutboxEntry
	acked    []string
	retried  []retriedEntry
}

func (s *stubOutboxStore) Enqueue(_ context.Context, event DomainEvent) error {
	s.enqueued = append(s.enqueued, event)
	return nil
}

func (s *stubOutboxStore) ClaimBatch(_ context.Context, limit int) ([]OutboxEntry, error) {
	if limit < len(s.claimed) {
		return append([]OutboxEntry(nil), s.claimed[:limit]...), nil
	}
	return append([]OutboxEntry(nil), s.claimed...), nil
}

func (s *stubOutboxStore) Ack(_ context.Context, eventID string) error {
	s.acked = append(s.acked, eventID)
	return nil
}

func (s *stubOutboxStore) Retry(_ context.Context, eventID string, cause error, next time.Time) error {
	s.retried = append(s.retried, retriedEntry{id: eventID, cause: cause, next: next})
	return nil
}

func TestOutboxDispatcher_AckSuccess(t *testing.T) {
	store := &stubOutboxStore{
		claimed: []OutboxEntry{{Event: DomainEvent{ID: "evt_1", Topic: TopicGitHubEvents, EventType: "push"}}},
	}
	var published []string
	publisher := EventPublisherFunc(func(_ context.Context, event DomainEvent) error {
		published = append(published, event.ID)
		return nil
	})

	dispatcher, err := NewOutboxDispatcher(store, publisher, DefaultOutboxDispatcherConfig())
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	stats, err := dispatcher.DispatchPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("dispatch pending: %v", err)
	}
	if stats.Claimed != 1 || stats.Delivered != 1 || stats.Retried != 0 || stats.Failed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(published) != 1 || published[0] != "evt_1" {
		t.Fatalf("expected evt_1 to be published, got %v", published)
	}
	if len(store.acked) != 1 || store.acked[0] != "evt_1" {
		t.Fatalf("expected ack for evt_1")
	}
}

func TestOutboxDispatcher_RetryWithBackoff(t *testing.T) {
	store := &stubOutboxStore{
		claimed: []OutboxEntry{{Event: DomainEvent{ID: "evt_retry"}, Attempts: 1}},
	}
	publisher := EventPublisherFunc(func(context.Context, DomainEvent) error {
		return errors.New("temporary")
	})

	dispatcher, err := NewOutboxDispatcher(store, publisher, OutboxDispatcherConfig{
		BatchSize:      10,
		MaxAttempts:    4,
		InitialBackoff: time.Second,
		MaxBackoff:     8 * time.Second,
	})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	dispatcher.now = func() time.Time { return fixed }

	stats, err := dispatcher.DispatchPending(context.Background(), 0)
	if err == nil {
		t.Fatalf("expected dispatch error")
	}
	if stats.Retried != 1 || stats.Failed != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(store.retried) != 1 {
		t.Fatalf("expected one retry call")
	}
	if got := store.retried[0].next.Sub(fixed); got != 2*time.Second {
		t.Fatalf("expected 2s backoff for second attempt, got %s", got)
	}
	if len(store.acked) != 0 {
		t.Fatalf("failed entry must not be acked")
	}
}

func TestOutboxDispatcher_MaxAttemptsMarkedFailed(t *testing.T) {
	store := &stubOutboxStore{
		claimed: []OutboxEntry{{Event: DomainEvent{ID: "evt_dead"}, Attempts: 2}},
	}
	publisher := EventPublisherFunc(func(context.Context, DomainEvent) error {
		return errors.New("still failing")
	})

	dispatcher, err := NewOutboxDispatcher(store, publisher, OutboxDispatcherConfig{MaxAttempts: 3})
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}

	stats, _ := dispatcher.DispatchPending(context.Background(), 0)
	if stats.Failed != 1 || stats.Retried != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if len(store.retried) != 1 || !store.retried[0].next.IsZero() {
		t.Fatalf("expected terminal retry with zero next attempt")
	}
}

func TestOutboxPublisher_EnqueuesEvent(t *testing.T) {
	store := &stubOutboxStore{}
	publisher, err := NewOutboxPublisher(store)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	if err := publisher.Publish(context.Background(), DomainEvent{ID: "evt", Topic: TopicAutonomousPR}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(store.enqueued) != 1 {
		t.Fatalf("expected one enqueued event")
	}
	if err := publisher.Publish(context.Background(), DomainEvent{Topic: TopicAutonomousPR}); err == nil {
		t.Fatalf("expected missing id to fail")
	}
}
