package sqlstore

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// DeliveryRecordStore is append-only; one row per delivery attempt.
type DeliveryRecordStore struct {
	repo repository.Repository[*deliveryRecord]
}

func (s *DeliveryRecordStore) Append(ctx context.Context, record core.OutboundDeliveryRecord) (core.OutboundDeliveryRecord, error) {
	if s == nil || s.repo == nil {
		return core.OutboundDeliveryRecord{}, notConfigured("delivery record")
	}
	if strings.TrimSpace(record.SubscriptionID) == "" {
		return core.OutboundDeliveryRecord{}, core.ValidationError("sqlstore: subscription id is required")
	}
	row := &deliveryRecord{
		ID:             strings.TrimSpace(record.ID),
		SubscriptionID: strings.TrimSpace(record.SubscriptionID),
		TenantID:       strings.TrimSpace(record.TenantID),
		EventType:      strings.TrimSpace(record.EventType),
		Payload:        append([]byte{}, record.Payload...),
		Attempt:        record.Attempt,
		ResponseStatus: record.ResponseStatus,
		Success:        record.Success,
		Error:          record.Error,
		DurationMS:     record.DurationMS,
		DeliveredAt:    record.DeliveredAt.UTC(),
	}
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.DeliveredAt.IsZero() {
		row.DeliveredAt = time.Now().UTC()
	}
	created, err := s.repo.Create(ctx, row)
	if err != nil {
		return core.OutboundDeliveryRecord{}, err
	}
	return created.toDomain(), nil
}

// ListBySubscription returns the newest attempts first.
func (s *DeliveryRecordStore) ListBySubscription(ctx context.Context, subscriptionID string, limit int) ([]core.OutboundDeliveryRecord, error) {
	if s == nil || s.repo == nil {
		return nil, notConfigured("delivery record")
	}
	criteria := []repository.SelectCriteria{
		repository.SelectBy("subscription_id", "=", strings.TrimSpace(subscriptionID)),
		repository.OrderBy("delivered_at DESC"),
		repository.OrderBy("attempt DESC"),
	}
	if limit > 0 {
		criteria = append(criteria, repository.SelectPaginate(limit, 0))
	}
	rows, _, err := s.repo.List(ctx, criteria...)
	if err != nil {
		return nil, err
	}
	records := make([]core.OutboundDeliveryRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.toDomain())
	}
	return records, nil
}

func (r *deliveryRecord) toDomain() core.OutboundDeliveryRecord {
	if r == nil {
		return core.OutboundDeliveryRecord{}
	}
	return core.OutboundDeliveryRecord{
		ID:             r.ID,
		SubscriptionID: r.SubscriptionID,
		TenantID:       r.TenantID,
		EventType:      r.EventType,
		Payload:        append([]byte(nil), r.Payload...),
		Attempt:        r.Attempt,
		ResponseStatus: r.ResponseStatus,
		Success:        r.Success,
		Error:          r.Error,
		DurationMS:     r.DurationMS,
		DeliveredAt:    r.DeliveredAt,
	}
}
