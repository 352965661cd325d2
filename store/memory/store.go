// Package memorystore keeps every integration record in process memory. It
// backs tests and single-node deployments that do not need durability.
package memorystore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-integrations/core"
	"github.com/google/uuid"
)

// Provider hands out one instance of every store.
type Provider struct {
	inbound       *InboundEventStore
	credentials   *CredentialStore
	changes       *ChangeRequestStore
	subscriptions *SubscriptionStore
	deliveries    *DeliveryRecordStore
	outbox        *OutboxStore
}

func NewProvider() *Provider {
	return &Provider{
		inbound:       NewInboundEventStore(),
		credentials:   NewCredentialStore(),
		changes:       NewChangeRequestStore(),
		subscriptions: NewSubscriptionStore(),
		deliveries:    NewDeliveryRecordStore(),
		outbox:        NewOutboxStore(),
	}
}

func (p *Provider) InboundEventStore() core.InboundEventStore { return p.inbound }

func (p *Provider) CredentialStore() core.CredentialStore { return p.credentials }

func (p *Provider) ChangeRequestStore() core.ChangeRequestStore { return p.changes }

func (p *Provider) SubscriptionStore() core.SubscriptionStore { return p.subscriptions }

func (p *Provider) DeliveryRecordStore() core.DeliveryRecordStore { return p.deliveries }

func (p *Provider) OutboxStore() core.OutboxStore { return p.outbox }

type InboundEventStore struct {
	mu         sync.RWMutex
	records    map[string]core.InboundWebhookEvent
	byDelivery map[string]string
	Now        func() time.Time
}

func NewInboundEventStore() *InboundEventStore {
	return &InboundEventStore{
		records:    map[string]core.InboundWebhookEvent{},
		byDelivery: map[string]string{},
		Now:        utcNow,
	}
}

func (s *InboundEventStore) Insert(_ context.Context, event core.InboundWebhookEvent) (core.InboundWebhookEvent, error) {
	tenantID := strings.TrimSpace(event.TenantID)
	deliveryID := strings.TrimSpace(event.DeliveryID)
	if tenantID == "" || deliveryID == "" {
		return core.InboundWebhookEvent{}, core.ValidationError("memorystore: tenant id and delivery id are required")
	}
	key := tenantKey(tenantID, deliveryID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byDelivery[key]; exists {
		return core.InboundWebhookEvent{}, core.ConflictError(
			fmt.Sprintf("memorystore: delivery %q already recorded for tenant", deliveryID),
		)
	}
	if strings.TrimSpace(event.ID) == "" {
		event.ID = uuid.NewString()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = s.Now()
	}
	event.TenantID = tenantID
	event.DeliveryID = deliveryID
	event.Processed = false
	event.ProcessedAt = nil
	event.Payload = append([]byte(nil), event.Payload...)
	s.records[event.ID] = event
	s.byDelivery[key] = event.ID
	return cloneInbound(event), nil
}

func (s *InboundEventStore) GetByDeliveryID(_ context.Context, tenantID, deliveryID string) (core.InboundWebhookEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byDelivery[tenantKey(strings.TrimSpace(tenantID), strings.TrimSpace(deliveryID))]
	if !ok {
		return core.InboundWebhookEvent{}, fmt.Errorf("memorystore: delivery %q: %w", deliveryID, core.ErrNotFound)
	}
	return cloneInbound(s.records[id]), nil
}

// MarkProcessed is idempotent; the first processed timestamp wins.
func (s *InboundEventStore) MarkProcessed(_ context.Context, id string, processedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[strings.TrimSpace(id)]
	if !ok {
		return fmt.Errorf("memorystore: inbound event %q: %w", id, core.ErrNotFound)
	}
	if record.Processed {
		return nil
	}
	stamp := processedAt.UTC()
	record.Processed = true
	record.ProcessedAt = &stamp
	s.records[record.ID] = record
	return nil
}

func cloneInbound(event core.InboundWebhookEvent) core.InboundWebhookEvent {
	event.Payload = append([]byte(nil), event.Payload...)
	if event.ProcessedAt != nil {
		stamp := *event.ProcessedAt
		event.ProcessedAt = &stamp
	}
	return event
}

type CredentialStore struct {
	mu       sync.RWMutex
	byTenant map[string]core.OAuthCredential
	Now      func() time.Time
}

func NewCredentialStore() *CredentialStore {
	return &CredentialStore{byTenant: map[string]core.OAuthCredential{}, Now: utcNow}
}

// Upsert keeps one credential per tenant, preserving the original id and
// creation time across refreshes.
func (s *CredentialStore) Upsert(_ context.Context, credential core.OAuthCredential) (core.OAuthCredential, error) {
	tenantID := strings.TrimSpace(credential.TenantID)
	if tenantID == "" {
		return core.OAuthCredential{}, core.ValidationError("memorystore: tenant id is required")
	}
	now := s.Now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.byTenant[tenantID]; ok {
		credential.ID = existing.ID
		credential.CreatedAt = existing.CreatedAt
	} else {
		if strings.TrimSpace(credential.ID) == "" {
			credential.ID = uuid.NewString()
		}
		credential.CreatedAt = now
	}
	credential.TenantID = tenantID
	credential.UpdatedAt = now
	credential.ExpiresAt = copyTime(credential.ExpiresAt)
	s.byTenant[tenantID] = credential
	return cloneCredential(credential), nil
}

func (s *CredentialStore) GetByTenant(_ context.Context, tenantID string) (core.OAuthCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	credential, ok := s.byTenant[strings.TrimSpace(tenantID)]
	if !ok {
		return core.OAuthCredential{}, fmt.Errorf("memorystore: credential for tenant %q: %w", tenantID, core.ErrNotFound)
	}
	return cloneCredential(credential), nil
}

func (s *CredentialStore) DeleteByTenant(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byTenant, strings.TrimSpace(tenantID))
	return nil
}

func cloneCredential(credential core.OAuthCredential) core.OAuthCredential {
	credential.ExpiresAt = copyTime(credential.ExpiresAt)
	return credential
}

type ChangeRequestStore struct {
	mu       sync.RWMutex
	requests map[string]core.AutonomousChangeRequest
}

func NewChangeRequestStore() *ChangeRequestStore {
	return &ChangeRequestStore{requests: map[string]core.AutonomousChangeRequest{}}
}

// Create rejects a second open request on the same tenant, repository and
// branch with a conflict.
func (s *ChangeRequestStore) Create(_ context.Context, request core.AutonomousChangeRequest) (core.AutonomousChangeRequest, error) {
	if strings.TrimSpace(request.TenantID) == "" {
		return core.AutonomousChangeRequest{}, core.ValidationError("memorystore: tenant id is required")
	}
	if strings.TrimSpace(request.ID) == "" {
		request.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[request.ID]; exists {
		return core.AutonomousChangeRequest{}, core.ConflictError(
			fmt.Sprintf("memorystore: change request %q already exists", request.ID),
		)
	}
	if request.Status == core.ChangeRequestOpen {
		if _, found := s.findOpenLocked(request.TenantID, request.Repository, request.BranchName); found {
			return core.AutonomousChangeRequest{}, core.ConflictError(
				fmt.Sprintf("memorystore: open change request already exists for branch %q", request.BranchName),
			)
		}
	}
	s.requests[request.ID] = cloneChangeRequest(request)
	return cloneChangeRequest(request), nil
}

func (s *ChangeRequestStore) Get(_ context.Context, tenantID, id string) (core.AutonomousChangeRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	request, ok := s.requests[strings.TrimSpace(id)]
	if !ok || request.TenantID != strings.TrimSpace(tenantID) {
		return core.AutonomousChangeRequest{}, core.NotFoundError(fmt.Sprintf("memorystore: change request %q not found", id))
	}
	return cloneChangeRequest(request), nil
}

func (s *ChangeRequestStore) FindOpenByBranch(
	_ context.Context,
	tenantID string,
	repo core.RepositoryRef,
	branch string,
) (core.AutonomousChangeRequest, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	request, found := s.findOpenLocked(strings.TrimSpace(tenantID), repo, strings.TrimSpace(branch))
	return cloneChangeRequest(request), found, nil
}

func (s *ChangeRequestStore) Update(_ context.Context, request core.AutonomousChangeRequest) (core.AutonomousChangeRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.requests[request.ID]
	if !ok || current.TenantID != request.TenantID {
		return core.AutonomousChangeRequest{}, core.NotFoundError(
			fmt.Sprintf("memorystore: change request %q not found", request.ID),
		)
	}
	request.CreatedAt = current.CreatedAt
	s.requests[request.ID] = cloneChangeRequest(request)
	return cloneChangeRequest(request), nil
}

func (s *ChangeRequestStore) findOpenLocked(tenantID string, repo core.RepositoryRef, branch string) (core.AutonomousChangeRequest, bool) {
	for _, request := range s.requests {
		if request.TenantID != tenantID || request.Status != core.ChangeRequestOpen {
			continue
		}
		if request.BranchName == branch && strings.EqualFold(request.Repository.FullName(), repo.FullName()) {
			return request, true
		}
	}
	return core.AutonomousChangeRequest{}, false
}

func cloneChangeRequest(request core.AutonomousChangeRequest) core.AutonomousChangeRequest {
	request.MergedAt = copyTime(request.MergedAt)
	request.ClosedAt = copyTime(request.ClosedAt)
	return request
}

type SubscriptionStore struct {
	mu   sync.RWMutex
	subs map[string]core.OutboundWebhookSubscription
}

func NewSubscriptionStore() *SubscriptionStore {
	return &SubscriptionStore{subs: map[string]core.OutboundWebhookSubscription{}}
}

func (s *SubscriptionStore) Create(_ context.Context, sub core.OutboundWebhookSubscription) (core.OutboundWebhookSubscription, error) {
	if strings.TrimSpace(sub.TenantID) == "" {
		return core.OutboundWebhookSubscription{}, core.ValidationError("memorystore: tenant id is required")
	}
	if strings.TrimSpace(sub.ID) == "" {
		sub.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.subs[sub.ID]; exists {
		return core.OutboundWebhookSubscription{}, core.ConflictError(
			fmt.Sprintf("memorystore: subscription %q already exists", sub.ID),
		)
	}
	s.subs[sub.ID] = cloneSubscription(sub)
	return cloneSubscription(sub), nil
}

func (s *SubscriptionStore) Update(_ context.Context, sub core.OutboundWebhookSubscription) (core.OutboundWebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.subs[sub.ID]
	if !ok || current.TenantID != sub.TenantID {
		return core.OutboundWebhookSubscription{}, core.NotFoundError(
			fmt.Sprintf("memorystore: subscription %q not found", sub.ID),
		)
	}
	sub.CreatedAt = current.CreatedAt
	s.subs[sub.ID] = cloneSubscription(sub)
	return cloneSubscription(sub), nil
}

func (s *SubscriptionStore) Get(_ context.Context, tenantID, id string) (core.OutboundWebhookSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[strings.TrimSpace(id)]
	if !ok || sub.TenantID != strings.TrimSpace(tenantID) {
		return core.OutboundWebhookSubscription{}, core.NotFoundError(fmt.Sprintf("memorystore: subscription %q not found", id))
	}
	return cloneSubscription(sub), nil
}

// ListActiveByTenant returns active subscriptions oldest first.
func (s *SubscriptionStore) ListActiveByTenant(_ context.Context, tenantID string) ([]core.OutboundWebhookSubscription, error) {
	tenantID = strings.TrimSpace(tenantID)
	s.mu.RLock()
	out := make([]core.OutboundWebhookSubscription, 0)
	for _, sub := range s.subs {
		if sub.TenantID == tenantID && sub.Active {
			out = append(out, cloneSubscription(sub))
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func cloneSubscription(sub core.OutboundWebhookSubscription) core.OutboundWebhookSubscription {
	sub.Events = append([]string(nil), sub.Events...)
	sub.Headers = core.CopyStringMap(sub.Headers)
	return sub
}

type DeliveryRecordStore struct {
	mu      sync.RWMutex
	records []core.OutboundDeliveryRecord
}

func NewDeliveryRecordStore() *DeliveryRecordStore {
	return &DeliveryRecordStore{}
}

func (s *DeliveryRecordStore) Append(_ context.Context, record core.OutboundDeliveryRecord) (core.OutboundDeliveryRecord, error) {
	if strings.TrimSpace(record.SubscriptionID) == "" {
		return core.OutboundDeliveryRecord{}, core.ValidationError("memorystore: subscription id is required")
	}
	if strings.TrimSpace(record.ID) == "" {
		record.ID = uuid.NewString()
	}
	record.Payload = append([]byte(nil), record.Payload...)
	s.mu.Lock()
	s.records = append(s.records, record)
	s.mu.Unlock()
	return record, nil
}

// ListBySubscription returns the newest records first.
func (s *DeliveryRecordStore) ListBySubscription(_ context.Context, subscriptionID string, limit int) ([]core.OutboundDeliveryRecord, error) {
	subscriptionID = strings.TrimSpace(subscriptionID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.OutboundDeliveryRecord, 0)
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].SubscriptionID != subscriptionID {
			continue
		}
		record := s.records[i]
		record.Payload = append([]byte(nil), record.Payload...)
		out = append(out, record)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

const (
	outboxPending    = "pending"
	outboxProcessing = "processing"
	outboxDelivered  = "delivered"
	outboxFailed     = "failed"
)

type outboxEntry struct {
	event         core.DomainEvent
	status        string
	attempts      int
	nextAttemptAt time.Time
	lastError     string
	seq           int
}

type OutboxStore struct {
	mu      sync.Mutex
	entries map[string]*outboxEntry
	seq     int
	Now     func() time.Time
}

func NewOutboxStore() *OutboxStore {
	return &OutboxStore{entries: map[string]*outboxEntry{}, Now: utcNow}
}

// Enqueue ignores an event id it has already seen.
func (s *OutboxStore) Enqueue(_ context.Context, event core.DomainEvent) error {
	eventID := strings.TrimSpace(event.ID)
	if eventID == "" {
		return core.ValidationError("memorystore: outbox event id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[eventID]; exists {
		return nil
	}
	s.seq++
	event.Payload = core.CopyAnyMap(event.Payload)
	s.entries[eventID] = &outboxEntry{event: event, status: outboxPending, seq: s.seq}
	return nil
}

// ClaimBatch moves due pending entries to processing in enqueue order.
func (s *OutboxStore) ClaimBatch(_ context.Context, limit int) ([]core.OutboxEntry, error) {
	if limit <= 0 {
		limit = 1
	}
	now := s.Now()
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]*outboxEntry, 0)
	for _, entry := range s.entries {
		if entry.status != outboxPending {
			continue
		}
		if !entry.nextAttemptAt.IsZero() && entry.nextAttemptAt.After(now) {
			continue
		}
		due = append(due, entry)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].seq < due[j].seq })
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]core.OutboxEntry, 0, len(due))
	for _, entry := range due {
		entry.status = outboxProcessing
		event := entry.event
		event.Payload = core.CopyAnyMap(event.Payload)
		out = append(out, core.OutboxEntry{Event: event, Attempts: entry.attempts})
	}
	return out, nil
}

func (s *OutboxStore) Ack(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[strings.TrimSpace(eventID)]
	if !ok {
		return fmt.Errorf("memorystore: outbox event %q: %w", eventID, core.ErrNotFound)
	}
	entry.status = outboxDelivered
	entry.lastError = ""
	entry.nextAttemptAt = time.Time{}
	return nil
}

// Retry schedules another attempt; a zero nextAttemptAt parks the entry as failed.
func (s *OutboxStore) Retry(_ context.Context, eventID string, cause error, nextAttemptAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[strings.TrimSpace(eventID)]
	if !ok {
		return fmt.Errorf("memorystore: outbox event %q: %w", eventID, core.ErrNotFound)
	}
	entry.attempts++
	entry.lastError = ""
	if cause != nil {
		entry.lastError = strings.TrimSpace(cause.Error())
	}
	if nextAttemptAt.IsZero() {
		entry.status = outboxFailed
		entry.nextAttemptAt = time.Time{}
		return nil
	}
	entry.status = outboxPending
	entry.nextAttemptAt = nextAttemptAt.UTC()
	return nil
}

// Status reports the outbox state of an event, for diagnostics.
func (s *OutboxStore) Status(eventID string) (status string, attempts int, lastError string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, found := s.entries[strings.TrimSpace(eventID)]
	if !found {
		return "", 0, "", false
	}
	return entry.status, entry.attempts, entry.lastError, true
}

func tenantKey(tenantID, id string) string {
	return tenantID + "\x00" + id
}

func copyTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func utcNow() time.Time {
	return time.Now().UTC()
}

var (
	_ core.StoreProvider       = (*Provider)(nil)
	_ core.InboundEventStore   = (*InboundEventStore)(nil)
	_ core.CredentialStore     = (*CredentialStore)(nil)
	_ core.ChangeRequestStore  = (*ChangeRequestStore)(nil)
	_ core.SubscriptionStore   = (*SubscriptionStore)(nil)
	_ core.DeliveryRecordStore = (*DeliveryRecordStore)(nil)
	_ core.OutboxStore         = (*OutboxStore)(nil)
)
