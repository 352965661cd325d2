package webhooks

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/goliatone/go-integrations/core"
)

func newTestHandler(t *testing.T, store *memoryInboundStore, publisher *recordingPublisher, opts ...HandlerOption) *Handler {
	t.Helper()
	service := newTestService(t, store, publisher)
	return NewHandler(service, func(*http.Request) string { return testTenant }, opts...)
}

func webhookRequest(eventType, deliveryID, signature, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/github", strings.NewReader(body))
	if eventType != "" {
		req.Header.Set(HeaderEvent, eventType)
	}
	if deliveryID != "" {
		req.Header.Set(HeaderDelivery, deliveryID)
	}
	if signature != "" {
		req.Header.Set(HeaderSignature, signature)
	}
	return req
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var response Response
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return response
}

func TestHandler_ValidPush(t *testing.T) {
	store := newMemoryInboundStore()
	publisher := &recordingPublisher{}
	handler := newTestHandler(t, store, publisher)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, webhookRequest("push", "d-1", Sign([]byte(pushPayload), testSecret), pushPayload))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	response := decodeResponse(t, rec)
	if !response.Success || response.EventType != "push" || response.DeliveryID != "d-1" || response.Message == "" {
		t.Fatalf("unexpected response: %+v", response)
	}
	if records := store.all(); len(records) != 1 || !records[0].Processed {
		t.Fatalf("expected one processed record, got %+v", records)
	}
	if events := publisher.published(); len(events) != 1 || events[0].EventType != "push" {
		t.Fatalf("expected one push domain event, got %+v", events)
	}
}

func TestHandler_StatusMapping(t *testing.T) {
	signature := Sign([]byte(pushPayload), testSecret)
	cases := []struct {
		name   string
		req    *http.Request
		status int
	}{
		{"missing event", webhookRequest("", "d-1", signature, pushPayload), http.StatusBadRequest},
		{"missing delivery", webhookRequest("push", "", signature, pushPayload), http.StatusBadRequest},
		{"missing signature", webhookRequest("push", "d-1", "", pushPayload), http.StatusUnauthorized},
		{"bad signature", webhookRequest("push", "d-1", Sign([]byte(pushPayload), "nope"), pushPayload), http.StatusUnauthorized},
		{"unsupported event", webhookRequest("deployment", "d-1", signature, pushPayload), http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			handler := newTestHandler(t, newMemoryInboundStore(), &recordingPublisher{})
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, tc.req)
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rec.Code, rec.Body.String())
			}
			if decodeResponse(t, rec).Success {
				t.Fatalf("expected unsuccessful response")
			}
		})
	}
}

func TestHandler_PersistenceFailureIs503(t *testing.T) {
	store := newMemoryInboundStore()
	store.insertErr = errStoreDown
	handler := newTestHandler(t, store, &recordingPublisher{})

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, webhookRequest("push", "d-1", Sign([]byte(pushPayload), testSecret), pushPayload))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestHandler_Throttles(t *testing.T) {
	throttle := NewThrottle(core.IngestionConfig{ThrottlePerMinute: 1, ThrottleBurst: 1})
	handler := newTestHandler(t, newMemoryInboundStore(), &recordingPublisher{}, WithThrottle(throttle))
	signature := Sign([]byte(pushPayload), testSecret)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, webhookRequest("push", "d-1", signature, pushPayload))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected first delivery accepted, got %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, webhookRequest("push", "d-2", signature, pushPayload))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if response := decodeResponse(t, rec); response.Success || !strings.Contains(response.Message, "too many deliveries") {
		t.Fatalf("unexpected throttled response: %+v", response)
	}
}

func TestHandler_UnsignedFloodDoesNotThrottleSignedDelivery(t *testing.T) {
	throttle := NewThrottle(core.IngestionConfig{ThrottlePerMinute: 1, ThrottleBurst: 1})
	store := newMemoryInboundStore()
	handler := newTestHandler(t, store, &recordingPublisher{}, WithThrottle(throttle))

	for i := range 20 {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, webhookRequest("push", "forged-"+strconv.Itoa(i), "", pushPayload))
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("expected unsigned delivery %d rejected with 401, got %d", i, rec.Code)
		}
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, webhookRequest("push", "d-1", Sign([]byte(pushPayload), testSecret), pushPayload))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected signed delivery accepted after unsigned flood, got %d: %s", rec.Code, rec.Body.String())
	}
	if records := store.all(); len(records) != 1 {
		t.Fatalf("expected only the signed delivery stored, got %d", len(records))
	}
}

func TestHandler_BodyLimit(t *testing.T) {
	handler := newTestHandler(t, newMemoryInboundStore(), &recordingPublisher{}, WithMaxBodyBytes(16))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, webhookRequest("push", "d-1", Sign([]byte(pushPayload), testSecret), pushPayload))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
}

func TestThrottle_PerTenantBuckets(t *testing.T) {
	throttle := NewThrottle(core.IngestionConfig{ThrottlePerMinute: 60, ThrottleBurst: 2})
	if !throttle.Allow("a") || !throttle.Allow("a") {
		t.Fatalf("expected burst of two")
	}
	if throttle.Allow("a") {
		t.Fatalf("expected third call to be throttled")
	}
	if !throttle.Allow("b") {
		t.Fatalf("other tenants have their own bucket")
	}
	var disabled *Throttle
	if !disabled.Allow("a") || NewThrottle(core.IngestionConfig{}) != nil {
		t.Fatalf("a disabled throttle admits everything")
	}
}

func TestThrottle_ConcurrentFirstUseSharesBucket(t *testing.T) {
	throttle := NewThrottle(core.IngestionConfig{ThrottlePerMinute: 1, ThrottleBurst: 5})

	var allowed atomic.Int32
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if throttle.Allow("c") {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := allowed.Load(); got != 5 {
		t.Fatalf("expected a single bucket of 5 tokens, got %d admitted", got)
	}
}
