package webhooks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/events"
)

const (
	ReasonInvalidTenant      = "invalid_tenant"
	ReasonPersistenceFailure = "persistence_failure"
)

// Delivery is one inbound webhook request as received from GitHub.
type Delivery struct {
	TenantID   string
	EventType  string
	DeliveryID string
	Signature  string
	Payload    []byte
	ReceivedAt time.Time

	// authenticated is set once Authenticate passed for this payload.
	authenticated bool
}

type Result struct {
	Success   bool
	Duplicate bool
	Resumed   bool
	Reason    string
	EventID   string
	EventType string
}

type IngestionOption func(*IngestionService)

func WithIngestionObserver(observer core.Observer) IngestionOption {
	return func(s *IngestionService) {
		s.observer = observer
	}
}

func WithTopic(topic string) IngestionOption {
	return func(s *IngestionService) {
		if topic = strings.TrimSpace(topic); topic != "" {
			s.topic = topic
		}
	}
}

func WithIngestionClock(now func() time.Time) IngestionOption {
	return func(s *IngestionService) {
		if now != nil {
			s.now = now
		}
	}
}

type IngestionService struct {
	store     core.InboundEventStore
	publisher core.EventPublisher
	secrets   SecretSource
	topic     string
	observer  core.Observer
	now       func() time.Time
}

func NewIngestionService(
	store core.InboundEventStore,
	publisher core.EventPublisher,
	secrets SecretSource,
	opts ...IngestionOption,
) (*IngestionService, error) {
	if store == nil {
		return nil, fmt.Errorf("webhooks: inbound event store is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("webhooks: event publisher is required")
	}
	if secrets == nil {
		return nil, fmt.Errorf("webhooks: secret source is required")
	}
	service := &IngestionService{
		store:     store,
		publisher: publisher,
		secrets:   secrets,
		topic:     core.TopicGitHubEvents,
		observer:  core.NewObserver(nil, nil, ""),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	return service, nil
}

// Process runs a delivery through verification, parsing, persistence and
// publication. Expected failures (an unknown tenant, a store outage) come back
// as an unsuccessful Result; rejected requests and unexpected failures are
// returned as errors.
func (s *IngestionService) Process(ctx context.Context, delivery Delivery) (result Result, err error) {
	startedAt := time.Now()
	delivery.EventType = strings.TrimSpace(delivery.EventType)
	delivery.DeliveryID = strings.TrimSpace(delivery.DeliveryID)
	delivery.TenantID = strings.TrimSpace(delivery.TenantID)
	result.EventType = delivery.EventType
	defer func() {
		s.observer.Observe(ctx, startedAt, "webhook_ingest", err, map[string]any{
			"tenant_id":   delivery.TenantID,
			"event_type":  delivery.EventType,
			"delivery_id": delivery.DeliveryID,
			"success":     result.Success,
			"duplicate":   result.Duplicate,
			"reason":      result.Reason,
		})
	}()

	if delivery.EventType == "" {
		return result, core.ValidationError("webhooks: event type header is required")
	}
	if delivery.DeliveryID == "" {
		return result, core.ValidationError("webhooks: delivery id header is required")
	}
	if err := core.ValidateTenantID(delivery.TenantID); err != nil {
		result.Reason = ReasonInvalidTenant
		return result, nil
	}

	if !delivery.authenticated {
		if err := s.Authenticate(ctx, delivery); err != nil {
			return result, err
		}
	}

	event, err := events.Parse(delivery.EventType, delivery.Payload)
	if err != nil {
		return result, err
	}

	record, found, err := s.lookup(ctx, delivery)
	if err != nil {
		s.persistenceFailure(ctx, delivery, err)
		result.Reason = ReasonPersistenceFailure
		return result, nil
	}
	if found && record.Processed {
		result.Success = true
		result.Duplicate = true
		result.EventID = record.ID
		return result, nil
	}
	if !found {
		record, found, err = s.insert(ctx, delivery, event)
		if err != nil {
			s.persistenceFailure(ctx, delivery, err)
			result.Reason = ReasonPersistenceFailure
			return result, nil
		}
		if found && record.Processed {
			result.Success = true
			result.Duplicate = true
			result.EventID = record.ID
			return result, nil
		}
	}
	result.EventID = record.ID
	result.Resumed = found

	domainEvent := core.NewDomainEvent(s.topic, event.EventType(), delivery.TenantID, s.payload(event, delivery), delivery.DeliveryID)
	if err := s.publisher.Publish(ctx, domainEvent); err != nil {
		return result, core.TransientError(err, "webhooks: publish domain event")
	}
	if err := s.store.MarkProcessed(ctx, record.ID, s.now()); err != nil {
		return result, core.TransientError(err, "webhooks: mark delivery processed")
	}
	result.Success = true
	return result, nil
}

// Authenticate checks the delivery signature against the tenant's webhook
// secret. Deliveries for a malformed tenant are left for Process to reject.
func (s *IngestionService) Authenticate(ctx context.Context, delivery Delivery) error {
	tenantID := strings.TrimSpace(delivery.TenantID)
	if core.ValidateTenantID(tenantID) != nil {
		return nil
	}
	secret, err := s.secrets.WebhookSecret(ctx, tenantID)
	if err != nil {
		return core.WrapError(err, goerrors.CategoryInternal, core.ErrorInternal, "webhooks: resolve webhook secret")
	}
	if !VerifySignature(delivery.Payload, delivery.Signature, secret) {
		return SignatureError(strings.TrimSpace(delivery.DeliveryID))
	}
	return nil
}

func (s *IngestionService) lookup(ctx context.Context, delivery Delivery) (core.InboundWebhookEvent, bool, error) {
	record, err := s.store.GetByDeliveryID(ctx, delivery.TenantID, delivery.DeliveryID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) || core.HasTextCode(err, core.ErrorNotFound) {
			return core.InboundWebhookEvent{}, false, nil
		}
		return core.InboundWebhookEvent{}, false, err
	}
	return record, true, nil
}

// insert stores the delivery once. Losing an insert race to a concurrent
// redelivery reads back the winner's record instead.
func (s *IngestionService) insert(ctx context.Context, delivery Delivery, event events.Event) (core.InboundWebhookEvent, bool, error) {
	receivedAt := delivery.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = s.now()
	}
	record, err := s.store.Insert(ctx, core.InboundWebhookEvent{
		TenantID:   delivery.TenantID,
		DeliveryID: delivery.DeliveryID,
		EventType:  event.EventType(),
		Repository: event.Repo().FullName,
		Payload:    append([]byte(nil), delivery.Payload...),
		Signature:  delivery.Signature,
		ReceivedAt: receivedAt,
	})
	if err == nil {
		return record, false, nil
	}
	if !core.HasTextCode(err, core.ErrorConflict) {
		return core.InboundWebhookEvent{}, false, err
	}
	existing, found, lookupErr := s.lookup(ctx, delivery)
	if lookupErr != nil {
		return core.InboundWebhookEvent{}, false, lookupErr
	}
	if !found {
		return core.InboundWebhookEvent{}, false, err
	}
	return existing, true, nil
}

func (s *IngestionService) payload(event events.Event, delivery Delivery) map[string]any {
	payload := event.Summary()
	payload["delivery_id"] = delivery.DeliveryID
	payload["event_type"] = event.EventType()
	return payload
}

func (s *IngestionService) persistenceFailure(ctx context.Context, delivery Delivery, err error) {
	s.observer.Error(ctx, "webhook delivery not persisted", map[string]any{
		"tenant_id":   delivery.TenantID,
		"delivery_id": delivery.DeliveryID,
		"error":       err.Error(),
	})
}
