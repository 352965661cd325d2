package webhooks

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/goliatone/go-integrations/core"
	"github.com/google/uuid"
)

const (
	testTenant = "6b1f7a9e-2f3c-4d8a-9b7e-1c2d3e4f5a6b"
	testSecret = "It's a Secret to Everybody"
)

const pushPayload = `{"ref":"refs/heads/main","after":"9f2c1e7","commits":[{"id":"9f2c1e7","message":"init"}],` +
	`"repository":{"name":"widgets","full_name":"acme/widgets"},"sender":{"login":"octo"}}`

type memoryInboundStore struct {
	mu        sync.Mutex
	records   map[string]core.InboundWebhookEvent
	insertErr error
	markErr   error
	inserts   int
}

func newMemoryInboundStore() *memoryInboundStore {
	return &memoryInboundStore{records: map[string]core.InboundWebhookEvent{}}
}

func (s *memoryInboundStore) Insert(_ context.Context, event core.InboundWebhookEvent) (core.InboundWebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return core.InboundWebhookEvent{}, s.insertErr
	}
	key := event.TenantID + "|" + event.DeliveryID
	if _, ok := s.records[key]; ok {
		return core.InboundWebhookEvent{}, core.ConflictError("duplicate delivery")
	}
	event.ID = uuid.NewString()
	s.records[key] = event
	s.inserts++
	return event, nil
}

func (s *memoryInboundStore) GetByDeliveryID(_ context.Context, tenantID, deliveryID string) (core.InboundWebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[tenantID+"|"+deliveryID]
	if !ok {
		return core.InboundWebhookEvent{}, core.ErrNotFound
	}
	return record, nil
}

func (s *memoryInboundStore) MarkProcessed(_ context.Context, id string, processedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	for key, record := range s.records {
		if record.ID != id {
			continue
		}
		if record.Processed {
			return core.ConflictError("already processed")
		}
		record.Processed = true
		record.ProcessedAt = &processedAt
		s.records[key] = record
		return nil
	}
	return core.ErrNotFound
}

func (s *memoryInboundStore) all() []core.InboundWebhookEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.InboundWebhookEvent, 0, len(s.records))
	for _, record := range s.records {
		out = append(out, record)
	}
	return out
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []core.DomainEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event core.DomainEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) published() []core.DomainEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]core.DomainEvent(nil), p.events...)
}

var errStoreDown = errors.New("connection refused")
