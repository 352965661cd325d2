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

type InboundEventStore struct {
	db   *bun.DB
	repo repository.Repository[*inboundEventRecord]
}

func NewInboundEventStore(db *bun.DB) (*InboundEventStore, error) {
	repo, err := newRepository(db, "inbound event", inboundEventHandlers())
	if err != nil {
		return nil, err
	}
	return &InboundEventStore{db: db, repo: repo}, nil
}

// Insert relies on the (tenant_id, delivery_id) unique index to reject
// redeliveries with a conflict.
func (s *InboundEventStore) Insert(ctx context.Context, event core.InboundWebhookEvent) (core.InboundWebhookEvent, error) {
	if s == nil || s.repo == nil {
		return core.InboundWebhookEvent{}, notConfigured("inbound event")
	}
	tenantID := strings.TrimSpace(event.TenantID)
	deliveryID := strings.TrimSpace(event.DeliveryID)
	if tenantID == "" || deliveryID == "" {
		return core.InboundWebhookEvent{}, core.ValidationError("sqlstore: tenant id and delivery id are required")
	}
	receivedAt := event.ReceivedAt.UTC()
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	record := &inboundEventRecord{
		ID:         strings.TrimSpace(event.ID),
		TenantID:   tenantID,
		DeliveryID: deliveryID,
		EventType:  strings.TrimSpace(event.EventType),
		Repository: strings.TrimSpace(event.Repository),
		Payload:    append([]byte{}, event.Payload...),
		Signature:  event.Signature,
		ReceivedAt: receivedAt,
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.InboundWebhookEvent{}, mapWriteError(err, "delivery "+deliveryID+" already recorded for tenant")
	}
	return created.toDomain(), nil
}

func (s *InboundEventStore) GetByDeliveryID(ctx context.Context, tenantID, deliveryID string) (core.InboundWebhookEvent, error) {
	if s == nil || s.db == nil {
		return core.InboundWebhookEvent{}, notConfigured("inbound event")
	}
	record := &inboundEventRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.tenant_id = ?", strings.TrimSpace(tenantID)).
		Where("?TableAlias.delivery_id = ?", strings.TrimSpace(deliveryID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.InboundWebhookEvent{}, mapReadError(err, "delivery %q not found", deliveryID)
	}
	return record.toDomain(), nil
}

// MarkProcessed keeps the first processed timestamp.
func (s *InboundEventStore) MarkProcessed(ctx context.Context, id string, processedAt time.Time) error {
	if s == nil || s.db == nil {
		return notConfigured("inbound event")
	}
	id = strings.TrimSpace(id)
	result, err := s.db.NewUpdate().
		Model((*inboundEventRecord)(nil)).
		Set("processed = ?", true).
		Set("processed_at = ?", processedAt.UTC()).
		Where("id = ?", id).
		Where("processed = ?", false).
		Exec(ctx)
	if err != nil {
		return err
	}
	if affected, _ := result.RowsAffected(); affected > 0 {
		return nil
	}
	exists, err := s.db.NewSelect().Model((*inboundEventRecord)(nil)).Where("id = ?", id).Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return notFound("inbound event %q not found", id)
	}
	return nil
}

func (r *inboundEventRecord) toDomain() core.InboundWebhookEvent {
	if r == nil {
		return core.InboundWebhookEvent{}
	}
	event := core.InboundWebhookEvent{
		ID:         r.ID,
		TenantID:   r.TenantID,
		DeliveryID: r.DeliveryID,
		EventType:  r.EventType,
		Repository: r.Repository,
		Payload:    append([]byte(nil), r.Payload...),
		Signature:  r.Signature,
		ReceivedAt: r.ReceivedAt,
		Processed:  r.Processed,
	}
	if r.ProcessedAt != nil {
		value := *r.ProcessedAt
		event.ProcessedAt = &value
	}
	return event
}
