package delivery

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integrations/core"
	"github.com/google/uuid"
)

const defaultRecordLimit = 50

// SubscriptionInput carries the writable fields of a subscription. Nil
// pointers and empty values leave the current value untouched on update.
type SubscriptionInput struct {
	URL        string
	Events     []string
	Secret     string
	Headers    map[string]string
	MaxRetries *int
}

type SubscriptionService struct {
	store     core.SubscriptionStore
	records   core.DeliveryRecordStore
	validator *URLValidator
	cfg       core.DeliveryConfig
	observer  core.Observer
	now       func() time.Time
}

type SubscriptionOption func(*SubscriptionService)

func WithSubscriptionValidator(validator *URLValidator) SubscriptionOption {
	return func(s *SubscriptionService) {
		if validator != nil {
			s.validator = validator
		}
	}
}

func WithSubscriptionObserver(observer core.Observer) SubscriptionOption {
	return func(s *SubscriptionService) {
		s.observer = observer
	}
}

func WithSubscriptionClock(now func() time.Time) SubscriptionOption {
	return func(s *SubscriptionService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewSubscriptionService(
	cfg core.DeliveryConfig,
	store core.SubscriptionStore,
	records core.DeliveryRecordStore,
	opts ...SubscriptionOption,
) (*SubscriptionService, error) {
	if store == nil {
		return nil, fmt.Errorf("delivery: subscription store is required")
	}
	s := &SubscriptionService{
		store:     store,
		records:   records,
		validator: NewURLValidator(cfg),
		cfg:       cfg,
		observer:  core.NewObserver(nil, nil, ""),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Create validates and stores a new active subscription. The endpoint is
// checked against the SSRF rules before anything is written. A blank secret
// is replaced with a random one.
func (s *SubscriptionService) Create(ctx context.Context, tenantID string, input SubscriptionInput) (sub core.OutboundWebhookSubscription, err error) {
	startedAt := time.Now()
	defer func() {
		s.observer.Observe(ctx, startedAt, "webhook_subscription_create", err, map[string]any{
			"tenant_id":       tenantID,
			"subscription_id": sub.ID,
		})
	}()

	tenantID = strings.TrimSpace(tenantID)
	if err := core.ValidateTenantID(tenantID); err != nil {
		return sub, core.ValidationError(err.Error())
	}
	maxRetries := s.cfg.DefaultMaxRetries
	if input.MaxRetries != nil {
		maxRetries = *input.MaxRetries
	}
	secret := strings.TrimSpace(input.Secret)
	if secret == "" {
		if secret, err = generateSecret(); err != nil {
			return sub, err
		}
	}
	now := s.now()
	candidate := core.OutboundWebhookSubscription{
		ID:         uuid.NewString(),
		TenantID:   tenantID,
		URL:        strings.TrimSpace(input.URL),
		Events:     normalizeEvents(input.Events),
		Secret:     secret,
		Active:     true,
		Headers:    normalizeHeaders(input.Headers),
		MaxRetries: maxRetries,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.validate(ctx, candidate); err != nil {
		return sub, err
	}
	return s.store.Create(ctx, candidate)
}

func (s *SubscriptionService) Update(ctx context.Context, tenantID, id string, input SubscriptionInput) (sub core.OutboundWebhookSubscription, err error) {
	startedAt := time.Now()
	defer func() {
		s.observer.Observe(ctx, startedAt, "webhook_subscription_update", err, map[string]any{
			"tenant_id":       tenantID,
			"subscription_id": id,
		})
	}()

	current, err := s.get(ctx, tenantID, id)
	if err != nil {
		return sub, err
	}
	if url := strings.TrimSpace(input.URL); url != "" {
		current.URL = url
	}
	if len(input.Events) > 0 {
		current.Events = normalizeEvents(input.Events)
	}
	if secret := strings.TrimSpace(input.Secret); secret != "" {
		current.Secret = secret
	}
	if input.Headers != nil {
		current.Headers = normalizeHeaders(input.Headers)
	}
	if input.MaxRetries != nil {
		current.MaxRetries = *input.MaxRetries
	}
	current.UpdatedAt = s.now()
	if err := s.validate(ctx, current); err != nil {
		return sub, err
	}
	return s.store.Update(ctx, current)
}

// Deactivate stops future deliveries. Delivery history is kept.
func (s *SubscriptionService) Deactivate(ctx context.Context, tenantID, id string) (core.OutboundWebhookSubscription, error) {
	current, err := s.get(ctx, tenantID, id)
	if err != nil {
		return core.OutboundWebhookSubscription{}, err
	}
	if !current.Active {
		return current, nil
	}
	current.Active = false
	current.UpdatedAt = s.now()
	return s.store.Update(ctx, current)
}

func (s *SubscriptionService) List(ctx context.Context, tenantID string) ([]core.OutboundWebhookSubscription, error) {
	tenantID = strings.TrimSpace(tenantID)
	if err := core.ValidateTenantID(tenantID); err != nil {
		return nil, core.ValidationError(err.Error())
	}
	return s.store.ListActiveByTenant(ctx, tenantID)
}

// Deliveries lists the most recent attempts for a tenant's subscription.
func (s *SubscriptionService) Deliveries(ctx context.Context, tenantID, id string, limit int) ([]core.OutboundDeliveryRecord, error) {
	if s.records == nil {
		return nil, fmt.Errorf("delivery: delivery record store is not configured")
	}
	sub, err := s.get(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultRecordLimit
	}
	return s.records.ListBySubscription(ctx, sub.ID, limit)
}

func (s *SubscriptionService) get(ctx context.Context, tenantID, id string) (core.OutboundWebhookSubscription, error) {
	tenantID = strings.TrimSpace(tenantID)
	if err := core.ValidateTenantID(tenantID); err != nil {
		return core.OutboundWebhookSubscription{}, core.ValidationError(err.Error())
	}
	if strings.TrimSpace(id) == "" {
		return core.OutboundWebhookSubscription{}, core.ValidationError("delivery: subscription id is required")
	}
	return s.store.Get(ctx, tenantID, strings.TrimSpace(id))
}

func (s *SubscriptionService) validate(ctx context.Context, sub core.OutboundWebhookSubscription) error {
	var fields []goerrors.FieldError
	if len(sub.Events) == 0 {
		fields = append(fields, goerrors.FieldError{Field: "events", Message: "at least one event type is required"})
	}
	if sub.MaxRetries < 0 || sub.MaxRetries > core.MaxSubscriptionRetries {
		fields = append(fields, goerrors.FieldError{
			Field:   "max_retries",
			Message: fmt.Sprintf("must be between 0 and %d", core.MaxSubscriptionRetries),
		})
	}
	for key := range sub.Headers {
		if _, reserved := reservedHeaders[key]; reserved {
			fields = append(fields, goerrors.FieldError{Field: "headers." + key, Message: "header is set by the delivery service"})
		}
	}
	if len(fields) > 0 {
		return goerrors.NewValidation("delivery: invalid subscription", fields...).
			WithCode(http.StatusBadRequest).
			WithTextCode(core.ErrorValidation)
	}
	return s.validator.Validate(ctx, sub.URL)
}

func normalizeEvents(events []string) []string {
	out := make([]string, 0, len(events))
	seen := make(map[string]struct{}, len(events))
	for _, event := range events {
		event = strings.TrimSpace(event)
		if event == "" {
			continue
		}
		if _, ok := seen[event]; ok {
			continue
		}
		seen[event] = struct{}{}
		out = append(out, event)
	}
	return out
}

func normalizeHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for key, value := range headers {
		key = http.CanonicalHeaderKey(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(value)
	}
	return out
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", core.WrapError(err, goerrors.CategoryInternal, core.ErrorInternal, "delivery: generate subscription secret")
	}
	return hex.EncodeToString(buf), nil
}
