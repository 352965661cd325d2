package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// SubscriptionStore persists outbound webhook subscriptions with their signing
// secret sealed by the secret provider.
type SubscriptionStore struct {
	db      *bun.DB
	repo    repository.Repository[*subscriptionRecord]
	secrets core.SecretProvider
}

func NewSubscriptionStore(db *bun.DB, secrets core.SecretProvider) (*SubscriptionStore, error) {
	if secrets == nil {
		return nil, fmt.Errorf("sqlstore: secret provider is required for subscriptions")
	}
	repo, err := newRepository(db, "subscription", subscriptionHandlers())
	if err != nil {
		return nil, err
	}
	return &SubscriptionStore{db: db, repo: repo, secrets: secrets}, nil
}

func (s *SubscriptionStore) Create(ctx context.Context, sub core.OutboundWebhookSubscription) (core.OutboundWebhookSubscription, error) {
	if s == nil || s.repo == nil {
		return core.OutboundWebhookSubscription{}, notConfigured("subscription")
	}
	if strings.TrimSpace(sub.TenantID) == "" {
		return core.OutboundWebhookSubscription{}, core.ValidationError("sqlstore: tenant id is required")
	}
	record, err := s.seal(ctx, sub)
	if err != nil {
		return core.OutboundWebhookSubscription{}, err
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}
	created, err := s.repo.Create(ctx, record)
	if err != nil {
		return core.OutboundWebhookSubscription{}, mapWriteError(err, "subscription "+record.ID+" already exists")
	}
	return s.open(ctx, created)
}

func (s *SubscriptionStore) Update(ctx context.Context, sub core.OutboundWebhookSubscription) (core.OutboundWebhookSubscription, error) {
	if s == nil || s.db == nil {
		return core.OutboundWebhookSubscription{}, notConfigured("subscription")
	}
	record, err := s.seal(ctx, sub)
	if err != nil {
		return core.OutboundWebhookSubscription{}, err
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}
	result, err := s.db.NewUpdate().
		Model(record).
		ExcludeColumn("id", "tenant_id", "created_at").
		Where("id = ?", record.ID).
		Where("tenant_id = ?", record.TenantID).
		Exec(ctx)
	if err != nil {
		return core.OutboundWebhookSubscription{}, err
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return core.OutboundWebhookSubscription{}, notFound("subscription %q not found", sub.ID)
	}
	return s.Get(ctx, record.TenantID, record.ID)
}

func (s *SubscriptionStore) Get(ctx context.Context, tenantID, id string) (core.OutboundWebhookSubscription, error) {
	if s == nil || s.repo == nil {
		return core.OutboundWebhookSubscription{}, notConfigured("subscription")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("id", "=", strings.TrimSpace(id)),
		repository.SelectBy("tenant_id", "=", strings.TrimSpace(tenantID)),
		repository.SelectPaginate(1, 0),
	)
	if err != nil {
		return core.OutboundWebhookSubscription{}, err
	}
	if len(records) == 0 {
		return core.OutboundWebhookSubscription{}, notFound("subscription %q not found", id)
	}
	return s.open(ctx, records[0])
}

func (s *SubscriptionStore) ListActiveByTenant(ctx context.Context, tenantID string) ([]core.OutboundWebhookSubscription, error) {
	if s == nil || s.repo == nil {
		return nil, notConfigured("subscription")
	}
	records, _, err := s.repo.List(ctx,
		repository.SelectBy("tenant_id", "=", strings.TrimSpace(tenantID)),
		repository.SelectRawProcessor(func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("?TableAlias.active = ?", true)
		}),
		repository.OrderBy("created_at ASC"),
	)
	if err != nil {
		return nil, err
	}
	subs := make([]core.OutboundWebhookSubscription, 0, len(records))
	for _, record := range records {
		sub, err := s.open(ctx, record)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, nil
}

func (s *SubscriptionStore) seal(ctx context.Context, sub core.OutboundWebhookSubscription) (*subscriptionRecord, error) {
	ciphertext, err := s.secrets.Encrypt(ctx, []byte(sub.Secret))
	if err != nil {
		return nil, fmt.Errorf("sqlstore: seal subscription secret: %w", err)
	}
	events := append([]string{}, sub.Events...)
	return &subscriptionRecord{
		ID:               strings.TrimSpace(sub.ID),
		TenantID:         strings.TrimSpace(sub.TenantID),
		URL:              strings.TrimSpace(sub.URL),
		Events:           events,
		SecretCiphertext: ciphertext,
		Active:           sub.Active,
		Headers:          core.CopyStringMap(sub.Headers),
		MaxRetries:       sub.MaxRetries,
		CreatedAt:        sub.CreatedAt.UTC(),
		UpdatedAt:        sub.UpdatedAt.UTC(),
	}, nil
}

func (s *SubscriptionStore) open(ctx context.Context, record *subscriptionRecord) (core.OutboundWebhookSubscription, error) {
	if record == nil {
		return core.OutboundWebhookSubscription{}, notFound("subscription not found")
	}
	secret, err := s.secrets.Decrypt(ctx, record.SecretCiphertext)
	if err != nil {
		return core.OutboundWebhookSubscription{}, fmt.Errorf("sqlstore: open subscription %q secret: %w", record.ID, err)
	}
	return core.OutboundWebhookSubscription{
		ID:         record.ID,
		TenantID:   record.TenantID,
		URL:        record.URL,
		Events:     append([]string(nil), record.Events...),
		Secret:     string(secret),
		Active:     record.Active,
		Headers:    core.CopyStringMap(record.Headers),
		MaxRetries: record.MaxRetries,
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  record.UpdatedAt,
	}, nil
}
