package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-integrations/core"
)

func newTestService(t *testing.T, handler http.Handler, subs *memorySubscriptions, records *memoryRecords) *Service {
	t.Helper()
	cfg := testDeliveryConfig()
	service, err := NewService(cfg, subs, records,
		WithHTTPClient(handlerDoer{handler: handler}),
		WithValidator(NewURLValidator(cfg, WithResolver(testResolver()))),
		WithJitter(func(d time.Duration) time.Duration { return d }),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

func activeSubscription(id string, maxRetries int) core.OutboundWebhookSubscription {
	return core.OutboundWebhookSubscription{
		ID:         id,
		TenantID:   tenantID,
		URL:        "https://hooks.example.com/in",
		Events:     []string{core.EventAutonomousPRCreated},
		Secret:     "whsec",
		Active:     true,
		Headers:    map[string]string{"X-Team": "platform", "X-Webhook-Signature": "forged"},
		MaxRetries: maxRetries,
	}
}

func TestSign(t *testing.T) {
	got := Sign([]byte("Hello, World!"), "It's a Secret to Everybody")
	if got != "757107ea0eb2509fc211221cce984b8a37570b6d7586c22c46f4379c8b043e17" {
		t.Fatalf("unexpected signature %s", got)
	}
}

func TestDeliver_SignsAndRecords(t *testing.T) {
	var seen http.Header
	var body []byte
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Clone()
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusAccepted)
	})
	records := &memoryRecords{}
	service := newTestService(t, handler, newMemorySubscriptions(), records)

	outcome, err := service.Deliver(context.Background(), activeSubscription("sub-1", 3), core.EventAutonomousPRCreated, map[string]any{"pr_number": 7})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if !outcome.Delivered || outcome.Attempts != 1 || outcome.StatusCode != http.StatusAccepted {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if seen.Get(HeaderSignature) != Sign(body, "whsec") {
		t.Fatalf("signature does not match body")
	}
	if seen.Get(HeaderEvent) != core.EventAutonomousPRCreated || seen.Get("X-Team") != "platform" {
		t.Fatalf("unexpected headers: %v", seen)
	}
	if seen.Get(HeaderDelivery) != outcome.DeliveryID || seen.Get("Content-Type") != "application/json" {
		t.Fatalf("unexpected delivery headers: %v", seen)
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil || decoded["pr_number"] != float64(7) {
		t.Fatalf("unexpected body %s", body)
	}
	stored := records.all()
	if len(stored) != 1 || !stored[0].Success || stored[0].ResponseStatus != http.StatusAccepted || stored[0].Attempt != 1 {
		t.Fatalf("unexpected records: %+v", stored)
	}
}

func TestDeliver_RetriesWithinBudget(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	records := &memoryRecords{}
	service := newTestService(t, handler, newMemorySubscriptions(), records)

	outcome, err := service.Deliver(context.Background(), activeSubscription("sub-1", 3), core.EventAutonomousPRCreated, map[string]any{})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if outcome.Attempts != 3 || len(records.all()) != 3 {
		t.Fatalf("expected three recorded attempts, got %d / %d", outcome.Attempts, len(records.all()))
	}
	if records.all()[0].Success || !records.all()[2].Success {
		t.Fatalf("unexpected attempt outcomes: %+v", records.all())
	}
}

func TestDeliver_OversizedSuccessBodyStillDelivers(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(strings.Repeat("a", 70<<10)))
	})
	records := &memoryRecords{}
	service := newTestService(t, handler, newMemorySubscriptions(), records)

	outcome, err := service.Deliver(context.Background(), activeSubscription("sub-1", 2), core.EventAutonomousPRCreated, map[string]any{})
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if !outcome.Delivered || outcome.Attempts != 1 || calls.Load() != 1 {
		t.Fatalf("expected one successful attempt, got %+v after %d calls", outcome, calls.Load())
	}
	if stored := records.all(); len(stored) != 1 || !stored[0].Success {
		t.Fatalf("unexpected records: %+v", stored)
	}
}

func TestDeliver_ExhaustedRetriesKeepSubscriptionActive(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	subs := newMemorySubscriptions()
	sub, _ := subs.Create(context.Background(), activeSubscription("sub-1", 9))
	records := &memoryRecords{}
	service := newTestService(t, handler, subs, records)

	outcome, err := service.Deliver(context.Background(), sub, core.EventAutonomousPRCreated, map[string]any{})
	if err == nil || outcome.Delivered {
		t.Fatalf("expected delivery failure")
	}
	if outcome.Attempts != 1+core.MaxSubscriptionRetries {
		t.Fatalf("expected retries capped at %d, got %d attempts", core.MaxSubscriptionRetries, outcome.Attempts)
	}
	stored, _ := subs.Get(context.Background(), tenantID, "sub-1")
	if !stored.Active {
		t.Fatalf("failed deliveries must not disable the subscription")
	}
}

func TestDeliver_ClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusGone)
	})
	service := newTestService(t, handler, newMemorySubscriptions(), &memoryRecords{})

	if _, err := service.Deliver(context.Background(), activeSubscription("sub-1", 3), "x", map[string]any{}); err == nil {
		t.Fatalf("expected failure")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestDeliver_RevalidatesEndpoint(t *testing.T) {
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	})
	records := &memoryRecords{}
	service := newTestService(t, handler, newMemorySubscriptions(), records)

	sub := activeSubscription("sub-1", 3)
	sub.URL = "https://rebind.example/in"
	_, err := service.Deliver(context.Background(), sub, "x", map[string]any{})
	if !core.HasTextCode(err, core.ErrorURLRejected) {
		t.Fatalf("expected url rejection, got %v", err)
	}
	if called {
		t.Fatalf("rejected endpoints must not be called")
	}
	if stored := records.all(); len(stored) != 1 || stored[0].Success {
		t.Fatalf("expected the rejection to be recorded, got %+v", stored)
	}
}

func TestDeliver_InactiveSubscription(t *testing.T) {
	service := newTestService(t, http.NotFoundHandler(), newMemorySubscriptions(), &memoryRecords{})
	sub := activeSubscription("sub-1", 0)
	sub.Active = false
	if _, err := service.Deliver(context.Background(), sub, "x", nil); !core.HasTextCode(err, core.ErrorConflict) {
		t.Fatalf("expected conflict for inactive subscription, got %v", err)
	}
}

func TestDispatch_FansOutToMatchingSubscriptions(t *testing.T) {
	var mu sync.Mutex
	hits := map[string]int{}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path]++
		mu.Unlock()
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	subs := newMemorySubscriptions()
	ctx := context.Background()

	wildcard := activeSubscription("sub-a", 0)
	wildcard.URL = "https://hooks.example.com/all"
	wildcard.Events = []string{"*"}
	specific := activeSubscription("sub-b", 0)
	specific.URL = "https://hooks.example.com/created"
	broken := activeSubscription("sub-c", 0)
	broken.URL = "https://hooks.example.com/broken"
	unrelated := activeSubscription("sub-d", 0)
	unrelated.URL = "https://hooks.example.com/merged"
	unrelated.Events = []string{core.EventAutonomousPRMerged}
	foreign := activeSubscription("sub-e", 0)
	foreign.TenantID = otherTenant
	foreign.URL = "https://hooks.example.com/foreign"
	for _, sub := range []core.OutboundWebhookSubscription{wildcard, specific, broken, unrelated, foreign} {
		_, _ = subs.Create(ctx, sub)
	}

	service := newTestService(t, handler, subs, &memoryRecords{})
	event := core.NewDomainEvent(core.TopicAutonomousPR, core.EventAutonomousPRCreated, tenantID, map[string]any{"pr_number": 1}, "req-1")
	stats, err := service.Dispatch(ctx, event)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if stats.Matched != 3 || stats.Delivered != 2 || stats.Failed != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if hits["/merged"] != 0 || hits["/foreign"] != 0 || hits["/all"] != 1 || hits["/created"] != 1 {
		t.Fatalf("unexpected hits: %v", hits)
	}
}
