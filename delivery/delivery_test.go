package delivery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"sort"
	"sync"
	"time"

	"github.com/goliatone/go-integrations/core"
)

const (
	tenantID    = "6b1f7a9e-2f3c-4d8a-9b7e-1c2d3e4f5a6b"
	otherTenant = "1a2b3c4d-0000-4000-8000-000000000000"
)

type stubResolver map[string][]string

func (r stubResolver) LookupNetIP(_ context.Context, _ string, host string) ([]netip.Addr, error) {
	values, ok := r[host]
	if !ok {
		return nil, errors.New("no such host")
	}
	addrs := make([]netip.Addr, 0, len(values))
	for _, value := range values {
		addrs = append(addrs, netip.MustParseAddr(value))
	}
	return addrs, nil
}

func testResolver() stubResolver {
	return stubResolver{
		"example.com":       {"93.184.216.34"},
		"hooks.example.com": {"93.184.216.35", "2606:2800:220:1:248:1893:25c8:1946"},
		"rebind.example":    {"93.184.216.36", "10.0.0.7"},
		"internal.example":  {"192.168.1.20"},
	}
}

// handlerDoer serves requests straight from an http.Handler so tests never
// open a socket.
type handlerDoer struct {
	handler http.Handler
}

func (d handlerDoer) Do(req *http.Request) (*http.Response, error) {
	recorder := httptest.NewRecorder()
	d.handler.ServeHTTP(recorder, req)
	return recorder.Result(), nil
}

type memorySubscriptions struct {
	mu   sync.Mutex
	subs map[string]core.OutboundWebhookSubscription
}

func newMemorySubscriptions() *memorySubscriptions {
	return &memorySubscriptions{subs: map[string]core.OutboundWebhookSubscription{}}
}

func (s *memorySubscriptions) Create(_ context.Context, sub core.OutboundWebhookSubscription) (core.OutboundWebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub.ID] = sub
	return sub, nil
}

func (s *memorySubscriptions) Update(_ context.Context, sub core.OutboundWebhookSubscription) (core.OutboundWebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub.ID]; !ok {
		return core.OutboundWebhookSubscription{}, core.NotFoundError("subscription not found")
	}
	s.subs[sub.ID] = sub
	return sub, nil
}

func (s *memorySubscriptions) Get(_ context.Context, tenantID, id string) (core.OutboundWebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok || sub.TenantID != tenantID {
		return core.OutboundWebhookSubscription{}, core.NotFoundError("subscription not found")
	}
	return sub, nil
}

func (s *memorySubscriptions) ListActiveByTenant(_ context.Context, tenantID string) ([]core.OutboundWebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.OutboundWebhookSubscription{}
	for _, sub := range s.subs {
		if sub.TenantID == tenantID && sub.Active {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type memoryRecords struct {
	mu      sync.Mutex
	records []core.OutboundDeliveryRecord
}

func (s *memoryRecords) Append(_ context.Context, record core.OutboundDeliveryRecord) (core.OutboundDeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return record, nil
}

func (s *memoryRecords) ListBySubscription(_ context.Context, subscriptionID string, limit int) ([]core.OutboundDeliveryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []core.OutboundDeliveryRecord{}
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		if s.records[i].SubscriptionID == subscriptionID {
			out = append(out, s.records[i])
		}
	}
	return out, nil
}

func (s *memoryRecords) all() []core.OutboundDeliveryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.OutboundDeliveryRecord(nil), s.records...)
}

func testDeliveryConfig() core.DeliveryConfig {
	return core.DeliveryConfig{
		Timeout:           time.Second,
		DefaultMaxRetries: 3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        2 * time.Millisecond,
		AllowHTTP:         true,
	}
}
