package core

import (
	"context"
	"errors"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

var ErrNotFound = errors.New("core: record not found")

type InboundEventStore interface {
	// Insert stores a fully built record once; a duplicate (tenant, delivery id)
	// pair must fail with a conflict.
	Insert(ctx context.Context, event InboundWebhookEvent) (InboundWebhookEvent, error)
	GetByDeliveryID(ctx context.Context, tenantID, deliveryID string) (InboundWebhookEvent, error)
	MarkProcessed(ctx context.Context, id string, processedAt time.Time) error
}

type CredentialStore interface {
	Upsert(ctx context.Context, credential OAuthCredential) (OAuthCredential, error)
	GetByTenant(ctx context.Context, tenantID string) (OAuthCredential, error)
	DeleteByTenant(ctx context.Context, tenantID string) error
}

type ChangeRequestStore interface {
	Create(ctx context.Context, request AutonomousChangeRequest) (AutonomousChangeRequest, error)
	Get(ctx context.Context, tenantID, id string) (AutonomousChangeRequest, error)
	FindOpenByBranch(ctx context.Context, tenantID string, repo RepositoryRef, branch string) (AutonomousChangeRequest, bool, error)
	Update(ctx context.Context, request AutonomousChangeRequest) (AutonomousChangeRequest, error)
}

type SubscriptionStore interface {
	Create(ctx context.Context, sub OutboundWebhookSubscription) (OutboundWebhookSubscription, error)
	Update(ctx context.Context, sub OutboundWebhookSubscription) (OutboundWebhookSubscription, error)
	Get(ctx context.Context, tenantID, id string) (OutboundWebhookSubscription, error)
	ListActiveByTenant(ctx context.Context, tenantID string) ([]OutboundWebhookSubscription, error)
}

type DeliveryRecordStore interface {
	Append(ctx context.Context, record OutboundDeliveryRecord) (OutboundDeliveryRecord, error)
	ListBySubscription(ctx context.Context, subscriptionID string, limit int) ([]OutboundDeliveryRecord, error)
}

type OutboxStore interface {
	Enqueue(ctx context.Context, event DomainEvent) error
	ClaimBatch(ctx context.Context, limit int) ([]OutboxEntry, error)
	Ack(ctx context.Context, eventID string) error
	Retry(ctx context.Context, eventID string, cause error, nextAttemptAt time.Time) error
}

type OutboxEntry struct {
	Event    DomainEvent
	Attempts int
}

// StoreProvider groups every store a repository factory can build.
type StoreProvider interface {
	InboundEventStore() InboundEventStore
	CredentialStore() CredentialStore
	ChangeRequestStore() ChangeRequestStore
	SubscriptionStore() SubscriptionStore
	DeliveryRecordStore() DeliveryRecordStore
	OutboxStore() OutboxStore
}

type EventPublisher interface {
	Publish(ctx context.Context, event DomainEvent) error
}

type EventPublisherFunc func(ctx context.Context, event DomainEvent) error

func (f EventPublisherFunc) Publish(ctx context.Context, event DomainEvent) error {
	return f(ctx, event)
}

// EventDelivery is one message taken from the bus. Ack must be called only
// after the message was fully processed.
type EventDelivery interface {
	Event() DomainEvent
	Ack(ctx context.Context) error
	Nack(ctx context.Context, opts NackOptions) error
}

type NackOptions struct {
	Delay      time.Duration
	Requeue    bool
	DeadLetter bool
	Reason     string
}

type EventDequeuer interface {
	Dequeue(ctx context.Context) (EventDelivery, error)
}

type EventHandler interface {
	HandleEvent(ctx context.Context, event DomainEvent) error
}

type EventHandlerFunc func(ctx context.Context, event DomainEvent) error

func (f EventHandlerFunc) HandleEvent(ctx context.Context, event DomainEvent) error {
	return f(ctx, event)
}

type SecretProvider interface {
	Encrypt(ctx context.Context, plaintext []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error)
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
