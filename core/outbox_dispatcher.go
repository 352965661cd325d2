package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

type OutboxDispatcherConfig struct {
	BatchSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultOutboxDispatcherConfig() OutboxDispatcherConfig {
	return OutboxDispatcherConfig{
		BatchSize:      50,
		MaxAttempts:    5,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     5 * time.Minute,
	}
}

type DispatchStats struct {
	Claimed   int
	Delivered int
	Retried   int
	Failed    int
}

// OutboxPublisher stores events in the outbox instead of sending them, so the
// write that produced an event and the event itself share a commit.
type OutboxPublisher struct {
	store OutboxStore
}

func NewOutboxPublisher(store OutboxStore) (*OutboxPublisher, error) {
	if store == nil {
		return nil, fmt.Errorf("core: outbox store is required")
	}
	return &OutboxPublisher{store: store}, nil
}

func (p *OutboxPublisher) Publish(ctx context.Context, event DomainEvent) error {
	if strings.TrimSpace(event.ID) == "" {
		return fmt.Errorf("core: outbox event id is required")
	}
	if strings.TrimSpace(event.Topic) == "" {
		return fmt.Errorf("core: outbox event topic is required")
	}
	return p.store.Enqueue(ctx, event)
}

// OutboxDispatcher drains claimed outbox entries into the downstream publisher.
type OutboxDispatcher struct {
	store     OutboxStore
	publisher EventPublisher
	config    OutboxDispatcherConfig
	observer  Observer
	now       func() time.Time
}

func NewOutboxDispatcher(
	store OutboxStore,
	publisher EventPublisher,
	config OutboxDispatcherConfig,
) (*OutboxDispatcher, error) {
	if store == nil {
		return nil, fmt.Errorf("core: outbox store is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("core: outbox publisher is required")
	}
	defaults := DefaultOutboxDispatcherConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	return &OutboxDispatcher{
		store:     store,
		publisher: publisher,
		config:    config,
		observer:  NewObserver(nil, nil, ""),
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (d *OutboxDispatcher) WithObserver(observer Observer) *OutboxDispatcher {
	if d != nil {
		d.observer = observer
	}
	return d
}

func (d *OutboxDispatcher) DispatchPending(ctx context.Context, batchSize int) (DispatchStats, error) {
	if d == nil || d.store == nil {
		return DispatchStats{}, fmt.Errorf("core: outbox dispatcher is not configured")
	}
	limit := batchSize
	if limit <= 0 {
		limit = d.config.BatchSize
	}
	entries, err := d.store.ClaimBatch(ctx, limit)
	if err != nil {
		return DispatchStats{}, err
	}

	stats := DispatchStats{Claimed: len(entries)}
	var dispatchErr error
	for _, entry := range entries {
		startedAt := time.Now()
		eventID := strings.TrimSpace(entry.Event.ID)
		if err := d.publisher.Publish(ctx, entry.Event); err != nil {
			if retryErr := d.retryEntry(ctx, entry, err); retryErr != nil {
				dispatchErr = errors.Join(dispatchErr, retryErr)
			}
			if entry.Attempts+1 >= d.config.MaxAttempts {
				stats.Failed++
			} else {
				stats.Retried++
			}
			d.observer.Observe(ctx, startedAt, "outbox.dispatch", err, map[string]any{
				"event_id":   eventID,
				"event_type": entry.Event.EventType,
				"tenant_id":  entry.Event.TenantID,
				"attempts":   entry.Attempts + 1,
			})
			dispatchErr = errors.Join(dispatchErr, err)
			continue
		}
		if err := d.store.Ack(ctx, eventID); err != nil {
			dispatchErr = errors.Join(dispatchErr, err)
			continue
		}
		stats.Delivered++
	}

	return stats, dispatchErr
}

// Run dispatches batches until ctx is cancelled, sleeping interval between
// empty polls.
func (d *OutboxDispatcher) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		stats, err := d.DispatchPending(ctx, 0)
		if err != nil && ctx.Err() == nil {
			d.observer.Warn(ctx, "outbox dispatch batch finished with errors", map[string]any{
				"claimed": stats.Claimed,
				"error":   err.Error(),
			})
		}
		if stats.Claimed > 0 && ctx.Err() == nil {
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (d *OutboxDispatcher) retryEntry(ctx context.Context, entry OutboxEntry, cause error) error {
	eventID := strings.TrimSpace(entry.Event.ID)
	if entry.Attempts+1 >= d.config.MaxAttempts {
		return d.store.Retry(ctx, eventID, cause, time.Time{})
	}
	nextAttemptAt := d.now().Add(d.nextBackoffDelay(entry.Attempts + 1))
	return d.store.Retry(ctx, eventID, cause, nextAttemptAt)
}

func (d *OutboxDispatcher) nextBackoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(d.config.InitialBackoff)
	next := time.Duration(base * math.Pow(2, float64(attempt-1)))
	if next <= 0 || next > d.config.MaxBackoff {
		return d.config.MaxBackoff
	}
	return next
}

var _ EventPublisher = (*OutboxPublisher)(nil)
