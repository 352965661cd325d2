// Package integrations assembles the GitHub integration subsystem: webhook
// ingestion, autonomous pull requests, outbound webhook delivery and the
// rate-limit and resilience layers they share.
package integrations

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/adapters/gocommand"
	"github.com/goliatone/go-integrations/adapters/gojob"
	"github.com/goliatone/go-integrations/adapters/gologger"
	"github.com/goliatone/go-integrations/consumer"
	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/delivery"
	"github.com/goliatone/go-integrations/httpapi"
	"github.com/goliatone/go-integrations/orchestrator"
	"github.com/goliatone/go-integrations/providers/github"
	"github.com/goliatone/go-integrations/ratelimit"
	"github.com/goliatone/go-integrations/resilience"
	memorystore "github.com/goliatone/go-integrations/store/memory"
	"github.com/goliatone/go-integrations/transport"
	"github.com/goliatone/go-integrations/webhooks"
	"github.com/goliatone/go-job/queue"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
)

type Config = core.Config

const defaultOutboxInterval = time.Second

type Option func(*options)

type options struct {
	config         *core.Config
	configProvider core.ConfigProvider
	resolver       core.OptionsResolver
	runtime        core.Config

	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        []core.MetricsRecorder

	stores       core.StoreProvider
	secrets      webhooks.SecretSource
	tokens       github.TokenSource
	githubHTTP   transport.HTTPDoer
	oauthHTTP    *http.Client
	deliveryHTTP transport.HTTPDoer
	validator    *delivery.URLValidator

	enqueuer    queue.Enqueuer
	dequeuer    queue.Dequeuer
	retryPolicy gojob.RetryPolicy

	handlers       map[string][]core.EventHandler
	outboxInterval time.Duration
	clock          func() time.Time
	jitter         func(time.Duration) time.Duration
}

// WithConfig skips file loading and uses cfg as resolved.
func WithConfig(cfg core.Config) Option {
	return func(o *options) {
		o.config = &cfg
	}
}

func WithConfigProvider(provider core.ConfigProvider) Option {
	return func(o *options) {
		o.configProvider = provider
	}
}

func WithOptionsResolver(resolver core.OptionsResolver) Option {
	return func(o *options) {
		o.resolver = resolver
	}
}

// WithRuntimeConfig sets the highest precedence layer merged over the file.
func WithRuntimeConfig(runtime core.Config) Option {
	return func(o *options) {
		o.runtime = runtime
	}
}

func WithLogger(logger core.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(o *options) {
		o.loggerProvider = provider
	}
}

// WithMetricsRecorder adds a recorder. Repeated calls record to all of them.
func WithMetricsRecorder(metrics core.MetricsRecorder) Option {
	return func(o *options) {
		o.metrics = append(o.metrics, metrics)
	}
}

// WithStores replaces the in-memory stores, e.g. with a sqlstore factory.
func WithStores(stores core.StoreProvider) Option {
	return func(o *options) {
		o.stores = stores
	}
}

// WithWebhookSecrets resolves per-tenant webhook secrets. Without it the
// configured ingestion.webhook_secret signs every tenant.
func WithWebhookSecrets(secrets webhooks.SecretSource) Option {
	return func(o *options) {
		o.secrets = secrets
	}
}

// WithTokenSource bypasses the OAuth flow for GitHub API calls.
func WithTokenSource(tokens github.TokenSource) Option {
	return func(o *options) {
		o.tokens = tokens
	}
}

func WithGitHubHTTPClient(client transport.HTTPDoer) Option {
	return func(o *options) {
		o.githubHTTP = client
	}
}

func WithOAuthHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.oauthHTTP = client
	}
}

func WithDeliveryHTTPClient(client transport.HTTPDoer) Option {
	return func(o *options) {
		o.deliveryHTTP = client
	}
}

func WithURLValidator(validator *delivery.URLValidator) Option {
	return func(o *options) {
		o.validator = validator
	}
}

// WithQueue carries domain events over a go-job queue. The outbox drains into
// enqueuer and the consumer reads from dequeuer. Without a queue, drained
// events are handled in process.
func WithQueue(enqueuer queue.Enqueuer, dequeuer queue.Dequeuer, policy gojob.RetryPolicy) Option {
	return func(o *options) {
		o.enqueuer = enqueuer
		o.dequeuer = dequeuer
		o.retryPolicy = policy
	}
}

// WithEventHandler subscribes an extra handler to a bus topic.
func WithEventHandler(topic string, handler core.EventHandler) Option {
	return func(o *options) {
		if handler == nil {
			return
		}
		if o.handlers == nil {
			o.handlers = map[string][]core.EventHandler{}
		}
		topic = strings.TrimSpace(topic)
		o.handlers[topic] = append(o.handlers[topic], handler)
	}
}

func WithOutboxInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.outboxInterval = interval
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.clock = now
	}
}

// WithJitter overrides the retry jitter of the resilience policy and the
// delivery service.
func WithJitter(jitter func(time.Duration) time.Duration) Option {
	return func(o *options) {
		o.jitter = jitter
	}
}

// Integrations owns every component of the subsystem and the background
// loops that move events between them.
type Integrations struct {
	config  core.Config
	stores  core.StoreProvider
	logger         core.Logger
	loggerProvider core.LoggerProvider
	metrics        core.MetricsRecorder
	observe        func(component string) core.Observer
	enqueuer       queue.Enqueuer

	limiter       *ratelimit.Limiter
	policy        *resilience.Policy
	github        *github.Client
	oauth         *github.OAuth
	ingestion     *webhooks.IngestionService
	webhook       *webhooks.Handler
	orchestrator  *orchestrator.Orchestrator
	deliveries    *delivery.Service
	subscriptions *delivery.SubscriptionService
	mux           *consumer.Mux
	consumer      *consumer.Consumer
	dispatcher    *core.OutboxDispatcher
	facade        *Facade

	outboxInterval time.Duration
}

func New(ctx context.Context, opts ...Option) (*Integrations, error) {
	o := options{outboxInterval: defaultOutboxInterval}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	cfg, err := resolveConfig(ctx, o)
	if err != nil {
		return nil, err
	}

	provider, logger := gologger.Resolve("", o.loggerProvider, o.logger)
	metrics := core.CombineMetrics(o.metrics...)
	observer := func(component string) core.Observer {
		return core.NewObserver(
			gologger.Component(provider, logger, component),
			metrics,
			gologger.ComponentName(component),
		)
	}

	stores := o.stores
	if stores == nil {
		stores = memorystore.NewProvider()
	}

	svc := &Integrations{
		config:         cfg,
		stores:         stores,
		logger:         logger,
		loggerProvider: provider,
		metrics:        metrics,
		observe:        observer,
		enqueuer:       o.enqueuer,
		mux:            consumer.NewMux(),
		outboxInterval: o.outboxInterval,
	}

	// The limiter refreshes through the GitHub client, which in turn feeds the
	// limiter from response headers, so the refresher resolves it lazily.
	limiterOpts := []ratelimit.Option{
		ratelimit.WithObserver(observer("ratelimit")),
		ratelimit.WithRefresher(ratelimit.RefresherFunc(func(ctx context.Context, tenantID string) (ratelimit.Window, error) {
			if svc.github == nil {
				return ratelimit.Window{}, fmt.Errorf("integrations: github client is not configured")
			}
			return svc.github.RefreshRateLimit(ctx, tenantID)
		})),
	}
	policyOpts := []resilience.Option{
		resilience.WithObserver(observer("resilience")),
	}
	if o.clock != nil {
		limiterOpts = append(limiterOpts, ratelimit.WithClock(o.clock))
		policyOpts = append(policyOpts, resilience.WithClock(o.clock))
	}
	if o.jitter != nil {
		policyOpts = append(policyOpts, resilience.WithJitter(o.jitter))
	}
	svc.limiter = ratelimit.New(cfg.RateLimit, limiterOpts...)
	svc.policy = resilience.New(cfg.Resilience, append(policyOpts, resilience.WithRateGate(svc.limiter))...)

	if err := svc.buildGitHub(cfg, o, observer("github")); err != nil {
		return nil, err
	}

	publisher, err := core.NewOutboxPublisher(stores.OutboxStore())
	if err != nil {
		return nil, err
	}

	secrets := o.secrets
	if secrets == nil {
		secrets = webhooks.StaticSecret(cfg.Ingestion.WebhookSecret)
	}
	ingestionOpts := []webhooks.IngestionOption{
		webhooks.WithIngestionObserver(observer("webhooks")),
		webhooks.WithTopic(cfg.Ingestion.Topic),
	}
	if o.clock != nil {
		ingestionOpts = append(ingestionOpts, webhooks.WithIngestionClock(o.clock))
	}
	svc.ingestion, err = webhooks.NewIngestionService(stores.InboundEventStore(), publisher, secrets, ingestionOpts...)
	if err != nil {
		return nil, err
	}
	svc.webhook = webhooks.NewHandler(svc.ingestion, httpapi.TenantFromRoute,
		webhooks.WithThrottle(webhooks.NewThrottle(cfg.Ingestion)),
		webhooks.WithHandlerObserver(observer("webhooks.http")),
	)

	orchestratorOpts := []orchestrator.Option{
		orchestrator.WithPolicy(svc.policy),
		orchestrator.WithPublisher(publisher),
		orchestrator.WithObserver(observer("orchestrator")),
	}
	if o.clock != nil {
		orchestratorOpts = append(orchestratorOpts, orchestrator.WithClock(o.clock))
	}
	svc.orchestrator, err = orchestrator.New(cfg.Orchestrator, svc.github, stores.ChangeRequestStore(), orchestratorOpts...)
	if err != nil {
		return nil, err
	}

	if err := svc.buildDelivery(cfg, o, observer); err != nil {
		svc.orchestrator.Stop()
		return nil, err
	}

	if err := svc.buildBus(cfg, o, observer); err != nil {
		svc.orchestrator.Stop()
		return nil, err
	}

	svc.facade, err = NewFacade(FacadeServices{
		Webhooks:      svc.ingestion,
		PullRequests:  svc.orchestrator,
		Subscriptions: svc.subscriptions,
		Circuits:      svc.policy,
		RateLimits:    svc.limiter,
		GitHub:        svc.connector(),
	})
	if err != nil {
		svc.orchestrator.Stop()
		return nil, err
	}

	logger.Info("integrations initialized",
		"service", cfg.ServiceName,
		"oauth", svc.oauth != nil,
		"queue", o.enqueuer != nil,
	)
	return svc, nil
}

func resolveConfig(ctx context.Context, o options) (core.Config, error) {
	if o.config != nil {
		cfg := *o.config
		if err := cfg.Validate(); err != nil {
			return core.Config{}, err
		}
		return cfg, nil
	}
	return core.ResolveConfig(ctx, o.configProvider, o.resolver, o.runtime)
}

func (s *Integrations) buildGitHub(cfg core.Config, o options, observer core.Observer) error {
	if strings.TrimSpace(cfg.GitHub.ClientID) != "" {
		oauthOpts := []github.OAuthOption{github.WithOAuthObserver(observer)}
		if o.oauthHTTP != nil {
			oauthOpts = append(oauthOpts, github.WithOAuthHTTPClient(o.oauthHTTP))
		}
		if o.clock != nil {
			oauthOpts = append(oauthOpts, github.WithOAuthClock(o.clock))
		}
		oauth, err := github.NewOAuth(cfg.GitHub, s.stores.CredentialStore(), oauthOpts...)
		if err != nil {
			return err
		}
		s.oauth = oauth
	}

	tokens := o.tokens
	if tokens == nil && s.oauth != nil {
		tokens = s.oauth
	}
	if tokens == nil {
		tokens = storedTokens(s.stores.CredentialStore(), o.clock)
	}

	clientOpts := []github.Option{
		github.WithHeaderSink(s.limiter),
		github.WithObserver(observer),
	}
	if o.githubHTTP != nil {
		clientOpts = append(clientOpts, github.WithHTTPClient(o.githubHTTP))
	}
	client, err := github.New(cfg.GitHub, tokens, clientOpts...)
	if err != nil {
		return err
	}
	s.github = client
	return nil
}

// storedTokens serves the tenant's stored access token as is. It is used when
// no OAuth application is configured, so expired tokens cannot be refreshed.
func storedTokens(store core.CredentialStore, clock func() time.Time) github.TokenSource {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return github.TokenSourceFunc(func(ctx context.Context, tenantID string) (*oauth2.Token, error) {
		credential, err := store.GetByTenant(ctx, tenantID)
		if err != nil {
			return nil, err
		}
		if credential.Expired(clock()) {
			return nil, core.AuthenticationError(fmt.Sprintf("integrations: github token for tenant %q expired", tenantID))
		}
		token := &oauth2.Token{AccessToken: credential.AccessToken, TokenType: credential.TokenType}
		if credential.ExpiresAt != nil {
			token.Expiry = *credential.ExpiresAt
		}
		return token, nil
	})
}

func (s *Integrations) buildDelivery(cfg core.Config, o options, observer func(string) core.Observer) error {
	validator := o.validator
	if validator == nil {
		validator = delivery.NewURLValidator(cfg.Delivery)
	}
	deliveryOpts := []delivery.Option{
		delivery.WithValidator(validator),
		delivery.WithObserver(observer("delivery")),
	}
	if o.deliveryHTTP != nil {
		deliveryOpts = append(deliveryOpts, delivery.WithHTTPClient(o.deliveryHTTP))
	}
	if o.clock != nil {
		deliveryOpts = append(deliveryOpts, delivery.WithClock(o.clock))
	}
	if o.jitter != nil {
		deliveryOpts = append(deliveryOpts, delivery.WithJitter(o.jitter))
	}
	deliveries, err := delivery.NewService(cfg.Delivery, s.stores.SubscriptionStore(), s.stores.DeliveryRecordStore(), deliveryOpts...)
	if err != nil {
		return err
	}

	subscriptionOpts := []delivery.SubscriptionOption{
		delivery.WithSubscriptionValidator(validator),
		delivery.WithSubscriptionObserver(observer("subscriptions")),
	}
	if o.clock != nil {
		subscriptionOpts = append(subscriptionOpts, delivery.WithSubscriptionClock(o.clock))
	}
	subscriptions, err := delivery.NewSubscriptionService(cfg.Delivery, s.stores.SubscriptionStore(), s.stores.DeliveryRecordStore(), subscriptionOpts...)
	if err != nil {
		return err
	}
	s.deliveries = deliveries
	s.subscriptions = subscriptions
	return nil
}

// buildBus routes both topics to outbound delivery and picks where drained
// outbox events go: the go-job queue when one is configured, the mux otherwise.
func (s *Integrations) buildBus(cfg core.Config, o options, observer func(string) core.Observer) error {
	topics := []string{core.TopicGitHubEvents, core.TopicAutonomousPR}
	if topic := strings.TrimSpace(cfg.Ingestion.Topic); topic != "" && topic != core.TopicGitHubEvents {
		topics = append(topics, topic)
	}
	for _, topic := range topics {
		s.mux.Handle(topic, s.deliveries)
	}
	for topic, handlers := range o.handlers {
		for _, handler := range handlers {
			s.mux.Handle(topic, handler)
		}
	}

	var downstream core.EventPublisher = core.EventPublisherFunc(s.mux.HandleEvent)
	if o.enqueuer != nil {
		downstream = gojob.NewEnqueuerAdapter(o.enqueuer)
	}
	dispatcher, err := core.NewOutboxDispatcher(s.stores.OutboxStore(), downstream, core.OutboxDispatcherConfig{
		BatchSize:   cfg.Outbox.BatchSize,
		MaxAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return err
	}
	s.dispatcher = dispatcher.WithObserver(observer("outbox"))

	if o.dequeuer != nil {
		dequeuer := gojob.NewDequeuerAdapter(o.dequeuer, o.retryPolicy).WithObserver(observer("queue"))
		s.consumer, err = consumer.New(dequeuer, s.mux, cfg.Consumer, consumer.WithObserver(observer("consumer")))
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Integrations) connector() GitHubService {
	if s.oauth == nil {
		return nil
	}
	return s.oauth
}

// Run drains the outbox and, with a queue configured, consumes the bus until
// ctx is cancelled.
func (s *Integrations) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return s.dispatcher.Run(groupCtx, s.outboxInterval)
	})
	if s.consumer != nil {
		group.Go(func() error {
			return s.consumer.Run(groupCtx)
		})
	}
	return group.Wait()
}

// DispatchOutbox drains one outbox batch immediately.
func (s *Integrations) DispatchOutbox(ctx context.Context) (core.DispatchStats, error) {
	return s.dispatcher.DispatchPending(ctx, 0)
}

// Close stops background auto-merges and waits for them to finish.
func (s *Integrations) Close() {
	if s == nil || s.orchestrator == nil {
		return
	}
	s.orchestrator.Stop()
	s.orchestrator.Wait()
}

// RegisterCommands subscribes every command and query on the go-command
// dispatcher through router.
func (s *Integrations) RegisterCommands(router *gocommand.Router) error {
	return s.facade.Register(router)
}

// HTTPHandler serves the webhook endpoint and the management API.
func (s *Integrations) HTTPHandler(opts ...httpapi.Option) http.Handler {
	return s.API(opts...).Router()
}

func (s *Integrations) API(opts ...httpapi.Option) *httpapi.API {
	base := []httpapi.Option{
		httpapi.WithObserver(core.NewObserver(
			gologger.Component(nil, s.logger, "http"),
			s.metrics,
			gologger.ComponentName("http"),
		)),
	}
	return httpapi.New(s.webhook, s.facade.HTTPCommands(), s.facade.HTTPQueries(), append(base, opts...)...)
}

func (s *Integrations) Config() core.Config                          { return s.config }
func (s *Integrations) Stores() core.StoreProvider                   { return s.stores }
func (s *Integrations) Facade() *Facade                              { return s.facade }
func (s *Integrations) Limiter() *ratelimit.Limiter                  { return s.limiter }
func (s *Integrations) Policy() *resilience.Policy                   { return s.policy }
func (s *Integrations) GitHub() *github.Client                       { return s.github }
func (s *Integrations) OAuth() *github.OAuth                         { return s.oauth }
func (s *Integrations) Ingestion() *webhooks.IngestionService        { return s.ingestion }
func (s *Integrations) WebhookHandler() *webhooks.Handler            { return s.webhook }
func (s *Integrations) Orchestrator() *orchestrator.Orchestrator     { return s.orchestrator }
func (s *Integrations) Deliveries() *delivery.Service                { return s.deliveries }
func (s *Integrations) Subscriptions() *delivery.SubscriptionService { return s.subscriptions }
func (s *Integrations) Bus() *consumer.Mux                           { return s.mux }
