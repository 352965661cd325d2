package delivery

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/resilience"
	"github.com/goliatone/go-integrations/transport"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	HeaderSignature = "X-Webhook-Signature"
	HeaderEvent     = "X-Webhook-Event"
	HeaderDelivery  = "X-Webhook-Delivery"
	HeaderAttempt   = "X-Webhook-Attempt"

	userAgent              = "go-integrations-webhooks/1"
	maxResponseBodyBytes   = 64 << 10
	defaultDispatchWorkers = 4
)

var reservedHeaders = map[string]struct{}{
	http.CanonicalHeaderKey(HeaderSignature): {},
	http.CanonicalHeaderKey(HeaderEvent):     {},
	http.CanonicalHeaderKey(HeaderDelivery):  {},
	http.CanonicalHeaderKey(HeaderAttempt):   {},
	"Content-Type":                           {},
	"Content-Length":                         {},
	"Host":                                   {},
	"User-Agent":                             {},
}

// Sign returns the hex HMAC-SHA256 of payload under secret.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Outcome summarizes every attempt made for one subscription.
type Outcome struct {
	SubscriptionID string
	DeliveryID     string
	Delivered      bool
	Attempts       int
	StatusCode     int
	Records        []core.OutboundDeliveryRecord
}

type DispatchStats struct {
	Matched   int
	Delivered int
	Failed    int
}

type Option func(*Service)

func WithHTTPClient(client transport.HTTPDoer) Option {
	return func(s *Service) {
		if client != nil {
			s.rest = transport.NewRESTAdapter(client)
		}
	}
}

func WithValidator(validator *URLValidator) Option {
	return func(s *Service) {
		if validator != nil {
			s.validator = validator
		}
	}
}

func WithObserver(observer core.Observer) Option {
	return func(s *Service) {
		s.observer = observer
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func WithJitter(jitter func(time.Duration) time.Duration) Option {
	return func(s *Service) {
		s.backoff.Jitter = jitter
	}
}

func WithDispatchWorkers(workers int) Option {
	return func(s *Service) {
		if workers > 0 {
			s.workers = workers
		}
	}
}

// Service delivers payloads to outbound webhook subscriptions. Failed
// deliveries are recorded and retried within the subscription's budget; a
// subscription is never disabled by failures.
type Service struct {
	cfg       core.DeliveryConfig
	subs      core.SubscriptionStore
	records   core.DeliveryRecordStore
	validator *URLValidator
	rest      *transport.RESTAdapter
	backoff   resilience.Backoff
	workers   int
	observer  core.Observer
	now       func() time.Time
}

func NewService(cfg core.DeliveryConfig, subs core.SubscriptionStore, records core.DeliveryRecordStore, opts ...Option) (*Service, error) {
	if subs == nil {
		return nil, fmt.Errorf("delivery: subscription store is required")
	}
	if records == nil {
		return nil, fmt.Errorf("delivery: delivery record store is required")
	}
	defaults := core.DefaultConfig().Delivery
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaults.InitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaults.MaxBackoff
	}
	s := &Service{
		cfg:       cfg,
		subs:      subs,
		records:   records,
		validator: NewURLValidator(cfg),
		rest:      transport.NewRESTAdapter(NewHTTPClient(cfg.Timeout)),
		backoff:   resilience.Backoff{Initial: cfg.InitialBackoff, Max: cfg.MaxBackoff},
		workers:   defaultDispatchWorkers,
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

// Deliver POSTs payload to sub, retrying transient failures up to the
// subscription's retry budget. Every attempt is appended to the delivery
// record store.
func (s *Service) Deliver(ctx context.Context, sub core.OutboundWebhookSubscription, eventType string, payload any) (outcome Outcome, err error) {
	startedAt := time.Now()
	outcome = Outcome{SubscriptionID: sub.ID, DeliveryID: uuid.NewString()}
	defer func() {
		s.observer.Observe(ctx, startedAt, "webhook_deliver", err, map[string]any{
			"tenant_id":       sub.TenantID,
			"event_type":      eventType,
			"subscription_id": sub.ID,
			"attempts":        outcome.Attempts,
			"status_code":     outcome.StatusCode,
		})
	}()

	if !sub.Active {
		return outcome, core.ConflictError(fmt.Sprintf("delivery: subscription %s is inactive", sub.ID))
	}
	body, err := encodePayload(payload)
	if err != nil {
		return outcome, err
	}
	if err := s.validator.Validate(ctx, sub.URL); err != nil {
		outcome.Attempts = 1
		outcome.Records = append(outcome.Records, s.record(ctx, sub, eventType, body, 1, transport.Response{}, err))
		return outcome, err
	}

	headers := s.headers(sub, eventType, outcome.DeliveryID, body)
	attempts := 1 + sub.RetryBudget()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, s.backoff.Delay(attempt-1)); err != nil {
				break
			}
		}
		headers[HeaderAttempt] = strconv.Itoa(attempt)
		res, callErr := s.rest.Do(ctx, transport.Request{
			Method:               http.MethodPost,
			URL:                  sub.URL,
			Headers:              headers,
			Body:                 body,
			Timeout:              s.cfg.Timeout,
			MaxResponseBodyBytes: maxResponseBodyBytes,
			TruncateResponseBody: true,
		})
		if callErr == nil && !res.OK() {
			callErr = transport.StatusError(res, "webhook_deliver")
		}
		outcome.Attempts = attempt
		outcome.StatusCode = res.StatusCode
		outcome.Records = append(outcome.Records, s.record(ctx, sub, eventType, body, attempt, res, callErr))
		if callErr == nil {
			outcome.Delivered = true
			return outcome, nil
		}
		lastErr = callErr
		if !core.IsRetryable(callErr) {
			break
		}
	}
	return outcome, lastErr
}

// Dispatch fans event out to every active subscription of its tenant that
// wants its type. Individual delivery failures are recorded, not returned.
func (s *Service) Dispatch(ctx context.Context, event core.DomainEvent) (DispatchStats, error) {
	stats := DispatchStats{}
	if err := core.ValidateTenantID(event.TenantID); err != nil {
		return stats, core.ValidationError(err.Error())
	}
	subs, err := s.subs.ListActiveByTenant(ctx, event.TenantID)
	if err != nil {
		return stats, err
	}

	envelope := map[string]any{
		"id":        event.ID,
		"eventType": event.EventType,
		"tenantId":  event.TenantID,
		"payload":   event.Payload,
		"timestamp": event.Timestamp.UTC().Format(time.RFC3339Nano),
	}

	var mu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.workers)
	for _, sub := range subs {
		if !sub.Active || !sub.Subscribes(event.EventType) {
			continue
		}
		stats.Matched++
		group.Go(func() error {
			outcome, _ := s.Deliver(groupCtx, sub, event.EventType, envelope)
			mu.Lock()
			defer mu.Unlock()
			if outcome.Delivered {
				stats.Delivered++
			} else {
				stats.Failed++
			}
			return nil
		})
	}
	_ = group.Wait()
	return stats, nil
}

// HandleEvent lets the service consume domain events from the bus.
func (s *Service) HandleEvent(ctx context.Context, event core.DomainEvent) error {
	_, err := s.Dispatch(ctx, event)
	return err
}

func (s *Service) headers(sub core.OutboundWebhookSubscription, eventType, deliveryID string, body []byte) map[string]string {
	headers := make(map[string]string, len(sub.Headers)+6)
	for key, value := range sub.Headers {
		key = http.CanonicalHeaderKey(strings.TrimSpace(key))
		if _, reserved := reservedHeaders[key]; reserved || key == "" {
			continue
		}
		headers[key] = value
	}
	headers["Content-Type"] = "application/json"
	headers["User-Agent"] = userAgent
	headers[HeaderEvent] = eventType
	headers[HeaderDelivery] = deliveryID
	headers[HeaderSignature] = Sign(body, sub.Secret)
	return headers
}

func (s *Service) record(
	ctx context.Context,
	sub core.OutboundWebhookSubscription,
	eventType string,
	body []byte,
	attempt int,
	res transport.Response,
	callErr error,
) core.OutboundDeliveryRecord {
	record := core.OutboundDeliveryRecord{
		ID:             uuid.NewString(),
		SubscriptionID: sub.ID,
		TenantID:       sub.TenantID,
		EventType:      eventType,
		Payload:        body,
		Attempt:        attempt,
		ResponseStatus: res.StatusCode,
		Success:        callErr == nil,
		DurationMS:     res.Duration.Milliseconds(),
		DeliveredAt:    s.now(),
	}
	if callErr != nil {
		record.Error = callErr.Error()
	}
	stored, err := s.records.Append(ctx, record)
	if err != nil {
		s.observer.Warn(ctx, "appending delivery record failed", map[string]any{
			"tenant_id":       sub.TenantID,
			"subscription_id": sub.ID,
			"attempt":         attempt,
			"error":           err.Error(),
		})
		return record
	}
	return stored
}

func encodePayload(payload any) ([]byte, error) {
	switch typed := payload.(type) {
	case nil:
		return []byte("null"), nil
	case json.RawMessage:
		if !json.Valid(typed) {
			return nil, core.ValidationError("delivery: payload is not valid json")
		}
		return typed, nil
	case []byte:
		if !json.Valid(typed) {
			return nil, core.ValidationError("delivery: payload is not valid json")
		}
		return typed, nil
	default:
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, core.WrapError(err, goerrors.CategoryBadInput, core.ErrorValidation, "delivery: payload cannot be encoded")
		}
		return body, nil
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
