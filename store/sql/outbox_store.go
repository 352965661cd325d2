package sqlstore

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	outboxStatusPending    = "pending"
	outboxStatusProcessing = "processing"
	outboxStatusDelivered  = "delivered"
	outboxStatusFailed     = "failed"
)

type OutboxStore struct {
	db   *bun.DB
	repo repository.Repository[*outboxRecord]
}

func NewOutboxStore(db *bun.DB) (*OutboxStore, error) {
	repo, err := newRepository(db, "outbox", outboxHandlers())
	if err != nil {
		return nil, err
	}
	return &OutboxStore{db: db, repo: repo}, nil
}

// Enqueue is idempotent on the event id.
func (s *OutboxStore) Enqueue(ctx context.Context, event core.DomainEvent) error {
	if s == nil || s.repo == nil {
		return notConfigured("outbox")
	}
	if strings.TrimSpace(event.ID) == "" {
		return core.ValidationError("sqlstore: outbox event id is required")
	}
	if strings.TrimSpace(event.Topic) == "" {
		return core.ValidationError("sqlstore: outbox event topic is required")
	}

	occurredAt := event.Timestamp.UTC()
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	now := time.Now().UTC()
	record := &outboxRecord{
		ID:            uuid.NewString(),
		EventID:       strings.TrimSpace(event.ID),
		Topic:         strings.TrimSpace(event.Topic),
		EventType:     strings.TrimSpace(event.EventType),
		TenantID:      strings.TrimSpace(event.TenantID),
		CorrelationID: strings.TrimSpace(event.CorrelationID),
		Payload:       core.CopyAnyMap(event.Payload),
		Status:        outboxStatusPending,
		OccurredAt:    occurredAt,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if _, err := s.repo.Create(ctx, record); err != nil {
		if isUniqueViolation(err) {
			return nil
		}
		return err
	}
	return nil
}

// ClaimBatch flips due pending rows to processing in one statement so two
// dispatchers never claim the same row.
func (s *OutboxStore) ClaimBatch(ctx context.Context, limit int) ([]core.OutboxEntry, error) {
	if s == nil || s.db == nil {
		return nil, notConfigured("outbox")
	}
	if limit <= 0 {
		limit = 1
	}
	now := time.Now().UTC()
	var records []outboxRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := `
WITH claimed AS (
	SELECT id
	FROM integration_outbox
	WHERE status = ?
	  AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
	ORDER BY occurred_at ASC, created_at ASC
	LIMIT ?
)
UPDATE integration_outbox
SET status = ?, updated_at = ?
WHERE id IN (SELECT id FROM claimed)
  AND status = ?
RETURNING
	id,
	event_id,
	topic,
	event_type,
	tenant_id,
	correlation_id,
	payload,
	status,
	attempts,
	next_attempt_at,
	last_error,
	occurred_at,
	created_at,
	updated_at
`
		return tx.NewRaw(
			query,
			outboxStatusPending,
			now,
			limit,
			outboxStatusProcessing,
			now,
			outboxStatusPending,
		).Scan(ctx, &records)
	})
	if err != nil {
		return nil, err
	}

	entries := make([]core.OutboxEntry, 0, len(records))
	for _, record := range records {
		entries = append(entries, core.OutboxEntry{
			Event:    record.toDomain(),
			Attempts: record.Attempts,
		})
	}
	return entries, nil
}

func (s *OutboxStore) Ack(ctx context.Context, eventID string) error {
	if s == nil || s.db == nil {
		return notConfigured("outbox")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return core.ValidationError("sqlstore: event id is required")
	}
	_, err := s.db.NewUpdate().
		Model((*outboxRecord)(nil)).
		Set("status = ?", outboxStatusDelivered).
		Set("last_error = ?", "").
		Set("next_attempt_at = NULL").
		Set("updated_at = ?", time.Now().UTC()).
		Where("event_id = ?", eventID).
		Exec(ctx)
	return err
}

// Retry schedules another attempt. A zero nextAttemptAt parks the row as failed.
func (s *OutboxStore) Retry(ctx context.Context, eventID string, cause error, nextAttemptAt time.Time) error {
	if s == nil || s.db == nil {
		return notConfigured("outbox")
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return core.ValidationError("sqlstore: event id is required")
	}
	status := outboxStatusPending
	var next *time.Time
	if !nextAttemptAt.IsZero() {
		value := nextAttemptAt.UTC()
		next = &value
	} else {
		status = outboxStatusFailed
	}
	lastError := ""
	if cause != nil {
		lastError = strings.TrimSpace(cause.Error())
	}
	_, err := s.db.NewUpdate().
		Model((*outboxRecord)(nil)).
		Set("status = ?", status).
		Set("attempts = attempts + 1").
		Set("next_attempt_at = ?", next).
		Set("last_error = ?", lastError).
		Set("updated_at = ?", time.Now().UTC()).
		Where("event_id = ?", eventID).
		Exec(ctx)
	return err
}

func (r outboxRecord) toDomain() core.DomainEvent {
	return core.DomainEvent{
		ID:            r.EventID,
		Topic:         r.Topic,
		EventType:     r.EventType,
		TenantID:      r.TenantID,
		Payload:       core.CopyAnyMap(r.Payload),
		CorrelationID: r.CorrelationID,
		Timestamp:     r.OccurredAt,
	}
}
