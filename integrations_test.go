package integrations

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-integrations/adapters/gojob"
	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/delivery"
	"github.com/goliatone/go-integrations/providers/github"
	"github.com/goliatone/go-integrations/webhooks"
	job "github.com/goliatone/go-job"
	"golang.org/x/oauth2"
)

const (
	testTenant    = "0d9c5b1e-7f3a-4b2c-9d8e-1f2a3b4c5d6e"
	testSecret    = "integration-webhook-secret"
	pushDelivery  = `{"ref":"refs/heads/main","after":"9f2c1e7","commits":[{"id":"9f2c1e7","message":"init"}],` +
		`"repository":{"name":"widgets","full_name":"acme/widgets"},"sender":{"login":"octo"}}`
)

func TestNew_WebhookFlowsThroughOutboxToSubscribers(t *testing.T) {
	ctx := context.Background()
	receiver := &receivingEndpoint{}
	metrics := &countingMetrics{}
	svc := newTestIntegrations(t,
		WithDeliveryHTTPClient(handlerDoer{handler: receiver}),
		WithMetricsRecorder(metrics),
	)
	handler := svc.HTTPHandler()

	created := serve(t, handler, http.MethodPost, "/tenants/"+testTenant+"/subscriptions",
		`{"url":"https://hooks.example.com/in","events":["*"]}`, nil)
	if created.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating subscription, got %d: %s", created.Code, created.Body.String())
	}
	var sub struct {
		ID     string `json:"id"`
		Secret string `json:"secret"`
	}
	if err := json.Unmarshal(created.Body.Bytes(), &sub); err != nil {
		t.Fatalf("decode subscription: %v", err)
	}
	if sub.ID == "" || sub.Secret == "" {
		t.Fatalf("expected id and generated secret, got %+v", sub)
	}

	headers := map[string]string{
		webhooks.HeaderEvent:     "push",
		webhooks.HeaderDelivery:  "delivery-1",
		webhooks.HeaderSignature: webhooks.Sign([]byte(pushDelivery), testSecret),
	}
	first := serve(t, handler, http.MethodPost, "/webhooks/github/"+testTenant, pushDelivery, headers)
	if first.Code != http.StatusOK {
		t.Fatalf("expected 200 for webhook, got %d: %s", first.Code, first.Body.String())
	}
	again := serve(t, handler, http.MethodPost, "/webhooks/github/"+testTenant, pushDelivery, headers)
	if again.Code != http.StatusOK || !strings.Contains(again.Body.String(), "already processed") {
		t.Fatalf("expected duplicate delivery to be acknowledged, got %d: %s", again.Code, again.Body.String())
	}

	stored, err := svc.Stores().InboundEventStore().GetByDeliveryID(ctx, testTenant, "delivery-1")
	if err != nil {
		t.Fatalf("load inbound event: %v", err)
	}
	if !stored.Processed || stored.Repository != "acme/widgets" {
		t.Fatalf("expected processed push for acme/widgets, got %+v", stored)
	}

	stats, err := svc.DispatchOutbox(ctx)
	if err != nil {
		t.Fatalf("dispatch outbox: %v", err)
	}
	if stats.Claimed != 1 || stats.Delivered != 1 {
		t.Fatalf("expected the single domain event to be drained, got %+v", stats)
	}
	if receiver.count() != 1 {
		t.Fatalf("expected one outbound delivery, got %d", receiver.count())
	}
	body := receiver.lastBody()
	if !strings.Contains(body, `"eventType":"push"`) || !strings.Contains(body, testTenant) {
		t.Fatalf("unexpected outbound body %s", body)
	}
	if receiver.lastSignature() == "" {
		t.Fatalf("expected outbound delivery to be signed")
	}

	history := serve(t, handler, http.MethodGet, "/tenants/"+testTenant+"/subscriptions/"+sub.ID+"/deliveries", "", nil)
	if history.Code != http.StatusOK {
		t.Fatalf("expected 200 for delivery history, got %d", history.Code)
	}
	var records []map[string]any
	if err := json.Unmarshal(history.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(records) != 1 || records[0]["success"] != true {
		t.Fatalf("expected one successful delivery record, got %v", records)
	}

	if !metrics.sawPrefix("integrations.webhooks.") {
		t.Fatalf("expected webhook metrics to be recorded, got %v", metrics.names())
	}
}

func TestNew_ResolvesRuntimeOverrides(t *testing.T) {
	runtime := core.Config{RateLimit: core.RateLimitConfig{HardLimit: 1200}}
	svc, err := New(context.Background(), WithRuntimeConfig(runtime), WithTokenSource(staticTokens()))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer svc.Close()

	if svc.Config().RateLimit.HardLimit != 1200 {
		t.Fatalf("expected runtime hard limit, got %d", svc.Config().RateLimit.HardLimit)
	}
	if svc.Config().Orchestrator.MergeMethod != "squash" {
		t.Fatalf("expected default merge method to survive, got %q", svc.Config().Orchestrator.MergeMethod)
	}
	if window := svc.Limiter().Check(testTenant); window.Limit != 1200 || window.Remaining != 1200 {
		t.Fatalf("expected limiter to use the resolved budget, got %+v", window)
	}
	if svc.OAuth() != nil {
		t.Fatalf("expected no oauth flow without a client id")
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Orchestrator.MergeMethod = "fast-forward"
	if _, err := New(context.Background(), WithConfig(cfg)); err == nil {
		t.Fatalf("expected invalid merge method to fail")
	}
}

func TestNew_OAuthRoutesNeedClientID(t *testing.T) {
	without := newTestIntegrations(t)
	rec := serve(t, without.HTTPHandler(), http.MethodGet, "/tenants/"+testTenant+"/github/authorize?state=abc", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without an oauth app, got %d", rec.Code)
	}

	cfg := testConfig()
	cfg.GitHub.ClientID = "client-123"
	cfg.GitHub.ClientSecret = "secret-456"
	cfg.GitHub.RedirectURL = "https://app.example.com/github/callback"
	with, err := New(context.Background(), WithConfig(cfg))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer with.Close()
	if with.OAuth() == nil || with.Facade().Commands().CompleteGitHubOAuth == nil {
		t.Fatalf("expected oauth commands to be wired")
	}
	rec = serve(t, with.HTTPHandler(), http.MethodGet, "/tenants/"+testTenant+"/github/authorize?state=abc", "", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "client_id=client-123") {
		t.Fatalf("expected authorize url, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestNew_QueueCarriesDrainedEvents(t *testing.T) {
	enqueuer := &recordingEnqueuer{}
	svc := newTestIntegrations(t, WithQueue(enqueuer, nil, gojob.RetryPolicy{MaxAttempts: 3}))
	handled := 0
	svc.Bus().Handle(core.TopicGitHubEvents, core.EventHandlerFunc(func(context.Context, core.DomainEvent) error {
		handled++
		return nil
	}))

	headers := map[string]string{
		webhooks.HeaderEvent:     "push",
		webhooks.HeaderDelivery:  "delivery-q",
		webhooks.HeaderSignature: webhooks.Sign([]byte(pushDelivery), testSecret),
	}
	if rec := serve(t, svc.HTTPHandler(), http.MethodPost, "/webhooks/github/"+testTenant, pushDelivery, headers); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for webhook, got %d", rec.Code)
	}
	if _, err := svc.DispatchOutbox(context.Background()); err != nil {
		t.Fatalf("dispatch outbox: %v", err)
	}
	if len(enqueuer.messages) != 1 || enqueuer.messages[0].JobID != gojob.JobIDDomainEvent {
		t.Fatalf("expected the event on the queue, got %d messages", len(enqueuer.messages))
	}
	if handled != 0 {
		t.Fatalf("expected no in-process handling when a queue is configured")
	}
}

func TestStoredTokens_ServeCredentialUntilExpiry(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	svc := newTestIntegrations(t)
	store := svc.Stores().CredentialStore()
	expires := now.Add(time.Hour)
	if _, err := store.Upsert(context.Background(), core.OAuthCredential{
		TenantID:    testTenant,
		AccessToken: "gho_stored",
		TokenType:   "bearer",
		ExpiresAt:   &expires,
	}); err != nil {
		t.Fatalf("upsert credential: %v", err)
	}

	current := now
	tokens := storedTokens(store, func() time.Time { return current })
	token, err := tokens.Token(context.Background(), testTenant)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	if token.AccessToken != "gho_stored" || !token.Expiry.Equal(expires) {
		t.Fatalf("unexpected token %+v", token)
	}

	current = now.Add(2 * time.Hour)
	if _, err := tokens.Token(context.Background(), testTenant); !core.HasTextCode(err, core.ErrorAuthentication) {
		t.Fatalf("expected expired token to fail authentication, got %v", err)
	}
	if _, err := tokens.Token(context.Background(), "00000000-0000-4000-8000-000000000000"); err == nil {
		t.Fatalf("expected unknown tenant to fail")
	}
}

func testConfig() core.Config {
	cfg := core.DefaultConfig()
	cfg.Ingestion.WebhookSecret = testSecret
	cfg.Delivery.InitialBackoff = time.Millisecond
	cfg.Delivery.MaxBackoff = time.Millisecond
	return cfg
}

func newTestIntegrations(t *testing.T, opts ...Option) *Integrations {
	t.Helper()
	validator := delivery.NewURLValidator(testConfig().Delivery, delivery.WithResolver(stubResolver{
		"hooks.example.com": {netip.MustParseAddr("93.184.216.35")},
	}))
	base := []Option{
		WithConfig(testConfig()),
		WithTokenSource(staticTokens()),
		WithURLValidator(validator),
		WithJitter(func(d time.Duration) time.Duration { return d }),
	}
	svc, err := New(context.Background(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("new integrations: %v", err)
	}
	t.Cleanup(svc.Close)
	return svc
}

func staticTokens() github.TokenSource {
	return github.TokenSourceFunc(func(context.Context, string) (*oauth2.Token, error) {
		return &oauth2.Token{AccessToken: "gho_test", TokenType: "bearer"}, nil
	})
}

func serve(t *testing.T, handler http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

type stubResolver map[string][]netip.Addr

func (r stubResolver) LookupNetIP(_ context.Context, _ string, host string) ([]netip.Addr, error) {
	return r[host], nil
}

type handlerDoer struct {
	handler http.Handler
}

func (d handlerDoer) Do(req *http.Request) (*http.Response, error) {
	rec := httptest.NewRecorder()
	d.handler.ServeHTTP(rec, req)
	return rec.Result(), nil
}

type receivingEndpoint struct {
	mu         sync.Mutex
	bodies     []string
	signatures []string
}

func (e *receivingEndpoint) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	e.mu.Lock()
	e.bodies = append(e.bodies, string(body))
	e.signatures = append(e.signatures, r.Header.Get(delivery.HeaderSignature))
	e.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (e *receivingEndpoint) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.bodies)
}

func (e *receivingEndpoint) lastBody() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.bodies) == 0 {
		return ""
	}
	return e.bodies[len(e.bodies)-1]
}

func (e *receivingEndpoint) lastSignature() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.signatures) == 0 {
		return ""
	}
	return e.signatures[len(e.signatures)-1]
}

type countingMetrics struct {
	mu       sync.Mutex
	counters map[string]int64
}

func (m *countingMetrics) IncCounter(_ context.Context, name string, value int64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = map[string]int64{}
	}
	m.counters[name] += value
}

func (m *countingMetrics) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func (m *countingMetrics) sawPrefix(prefix string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name := range m.counters {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func (m *countingMetrics) names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.counters))
	for name := range m.counters {
		out = append(out, name)
	}
	return out
}

type recordingEnqueuer struct {
	messages []*job.ExecutionMessage
}

func (e *recordingEnqueuer) Enqueue(_ context.Context, msg *job.ExecutionMessage) error {
	e.messages = append(e.messages, msg)
	return nil
}
