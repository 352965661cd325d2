// Package httpapi exposes the integration commands and queries over chi.
// Handlers decode, validate through the message contract and delegate.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	gocmd "github.com/goliatone/go-command"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integrations/command"
	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/delivery"
	"github.com/goliatone/go-integrations/orchestrator"
	"github.com/goliatone/go-integrations/query"
	"github.com/goliatone/go-integrations/ratelimit"
	"github.com/goliatone/go-integrations/resilience"
)

const (
	TenantParam = "tenantID"

	DefaultMaxRequestBytes int64 = 5 << 20
)

// TenantFromRoute reads the tenant path parameter. It is the tenant resolver
// for the webhook handler mounted under /webhooks/github/{tenantID}.
func TenantFromRoute(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, TenantParam))
}

type Commands struct {
	CreatePullRequest      gocmd.Commander[command.CreatePullRequestMessage]
	MergePullRequest       gocmd.Commander[command.MergePullRequestMessage]
	ClosePullRequest       gocmd.Commander[command.ClosePullRequestMessage]
	CreateSubscription     gocmd.Commander[command.CreateSubscriptionMessage]
	UpdateSubscription     gocmd.Commander[command.UpdateSubscriptionMessage]
	DeactivateSubscription gocmd.Commander[command.DeactivateSubscriptionMessage]
	ResetCircuit           gocmd.Commander[command.ResetCircuitMessage]
	CompleteGitHubOAuth    gocmd.Commander[command.CompleteGitHubOAuthMessage]
	DisconnectGitHub       gocmd.Commander[command.DisconnectGitHubMessage]
}

type Queries struct {
	GetChangeRequest   gocmd.Querier[query.GetChangeRequestMessage, core.AutonomousChangeRequest]
	ListSubscriptions  gocmd.Querier[query.ListSubscriptionsMessage, []core.OutboundWebhookSubscription]
	ListDeliveries     gocmd.Querier[query.ListDeliveriesMessage, []core.OutboundDeliveryRecord]
	CircuitState       gocmd.Querier[query.CircuitStateMessage, resilience.CircuitSnapshot]
	RateLimitWindow    gocmd.Querier[query.RateLimitWindowMessage, ratelimit.Window]
	GitHubAuthorizeURL gocmd.Querier[query.GitHubAuthorizeURLMessage, string]
}

type Option func(*API)

func WithObserver(observer core.Observer) Option {
	return func(a *API) {
		a.observer = observer
	}
}

func WithMaxRequestBytes(limit int64) Option {
	return func(a *API) {
		if limit > 0 {
			a.maxBody = limit
		}
	}
}

type API struct {
	webhook  http.Handler
	commands Commands
	queries  Queries
	observer core.Observer
	maxBody  int64
}

// New builds the API. webhook receives POST /webhooks/github/{tenantID}; a nil
// webhook handler leaves the route unmounted.
func New(webhook http.Handler, commands Commands, queries Queries, opts ...Option) *API {
	api := &API{
		webhook:  webhook,
		commands: commands,
		queries:  queries,
		observer: core.NewObserver(nil, nil, ""),
		maxBody:  DefaultMaxRequestBytes,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(api)
		}
	}
	return api
}

// Router returns a fresh chi router with every route registered.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	a.Register(r)
	return r
}

func (a *API) Register(r chi.Router) {
	if a.webhook != nil {
		r.Method(http.MethodPost, "/webhooks/github/{"+TenantParam+"}", a.webhook)
	}
	r.Route("/tenants/{"+TenantParam+"}", func(r chi.Router) {
		r.Post("/autonomous-prs", a.handleCreatePullRequest)
		r.Get("/autonomous-prs/{id}", a.handleGetPullRequest)
		r.Post("/autonomous-prs/{id}/merge", a.handleMergePullRequest)
		r.Post("/autonomous-prs/{id}/close", a.handleClosePullRequest)

		r.Get("/circuit", a.handleCircuitState)
		r.Delete("/circuit", a.handleResetCircuit)
		r.Get("/rate-limit", a.handleRateLimit)

		r.Get("/subscriptions", a.handleListSubscriptions)
		r.Post("/subscriptions", a.handleCreateSubscription)
		r.Patch("/subscriptions/{id}", a.handleUpdateSubscription)
		r.Delete("/subscriptions/{id}", a.handleDeactivateSubscription)
		r.Get("/subscriptions/{id}/deliveries", a.handleListDeliveries)

		r.Get("/github/authorize", a.handleAuthorizeURL)
		r.Post("/github/callback", a.handleOAuthCallback)
		r.Delete("/github", a.handleDisconnect)
	})
}

func (a *API) handleCreatePullRequest(w http.ResponseWriter, r *http.Request) {
	var body createPullRequestRequest
	if !a.decode(w, r, &body) {
		return
	}
	msg := command.CreatePullRequestMessage{Request: body.toCreateRequest(TenantFromRoute(r))}
	result, err := execute[command.CreatePullRequestMessage, orchestrator.CreateResult](r.Context(), a.commands.CreatePullRequest, msg)
	if err != nil {
		a.fail(w, r, "autonomous_pr.create", err)
		return
	}
	status := http.StatusCreated
	if result.Existing {
		status = http.StatusOK
	}
	writeJSON(w, status, createPullRequestResponse{
		Success:   result.Success,
		RequestID: result.Request.ID,
		PRNumber:  result.PRNumber,
		PRURL:     result.PRURL,
		Branch:    result.Branch,
		Existing:  result.Existing,
	})
}

func (a *API) handleGetPullRequest(w http.ResponseWriter, r *http.Request) {
	record, err := ask(r.Context(), a.queries.GetChangeRequest, query.GetChangeRequestMessage{
		TenantID:  TenantFromRoute(r),
		RequestID: chi.URLParam(r, "id"),
	})
	if err != nil {
		a.fail(w, r, "autonomous_pr.get", err)
		return
	}
	writeJSON(w, http.StatusOK, toChangeRequestResponse(record))
}

func (a *API) handleMergePullRequest(w http.ResponseWriter, r *http.Request) {
	record, err := execute[command.MergePullRequestMessage, core.AutonomousChangeRequest](r.Context(), a.commands.MergePullRequest, command.MergePullRequestMessage{
		TenantID:  TenantFromRoute(r),
		RequestID: chi.URLParam(r, "id"),
	})
	if err != nil {
		a.fail(w, r, "autonomous_pr.merge", err)
		return
	}
	writeJSON(w, http.StatusOK, toChangeRequestResponse(record))
}

func (a *API) handleClosePullRequest(w http.ResponseWriter, r *http.Request) {
	record, err := execute[command.ClosePullRequestMessage, core.AutonomousChangeRequest](r.Context(), a.commands.ClosePullRequest, command.ClosePullRequestMessage{
		TenantID:  TenantFromRoute(r),
		RequestID: chi.URLParam(r, "id"),
	})
	if err != nil {
		a.fail(w, r, "autonomous_pr.close", err)
		return
	}
	writeJSON(w, http.StatusOK, toChangeRequestResponse(record))
}

func (a *API) handleCircuitState(w http.ResponseWriter, r *http.Request) {
	snapshot, err := ask(r.Context(), a.queries.CircuitState, query.CircuitStateMessage{TenantID: TenantFromRoute(r)})
	if err != nil {
		a.fail(w, r, "circuit.state", err)
		return
	}
	writeJSON(w, http.StatusOK, toCircuitResponse(snapshot))
}

func (a *API) handleResetCircuit(w http.ResponseWriter, r *http.Request) {
	if _, err := execute[command.ResetCircuitMessage, struct{}](r.Context(), a.commands.ResetCircuit, command.ResetCircuitMessage{TenantID: TenantFromRoute(r)}); err != nil {
		a.fail(w, r, "circuit.reset", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleRateLimit(w http.ResponseWriter, r *http.Request) {
	window, err := ask(r.Context(), a.queries.RateLimitWindow, query.RateLimitWindowMessage{TenantID: TenantFromRoute(r)})
	if err != nil {
		a.fail(w, r, "rate_limit.window", err)
		return
	}
	writeJSON(w, http.StatusOK, toRateLimitResponse(window))
}

func (a *API) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	subs, err := ask(r.Context(), a.queries.ListSubscriptions, query.ListSubscriptionsMessage{TenantID: TenantFromRoute(r)})
	if err != nil {
		a.fail(w, r, "subscription.list", err)
		return
	}
	out := make([]subscriptionResponse, 0, len(subs))
	for _, sub := range subs {
		out = append(out, toSubscriptionResponse(sub, false))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleCreateSubscription(w http.ResponseWriter, r *http.Request) {
	var body subscriptionRequest
	if !a.decode(w, r, &body) {
		return
	}
	sub, err := execute[command.CreateSubscriptionMessage, core.OutboundWebhookSubscription](r.Context(), a.commands.CreateSubscription, command.CreateSubscriptionMessage{
		TenantID: TenantFromRoute(r),
		Input:    toSubscriptionInput(body),
	})
	if err != nil {
		a.fail(w, r, "subscription.create", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSubscriptionResponse(sub, true))
}

func (a *API) handleUpdateSubscription(w http.ResponseWriter, r *http.Request) {
	var body subscriptionRequest
	if !a.decode(w, r, &body) {
		return
	}
	sub, err := execute[command.UpdateSubscriptionMessage, core.OutboundWebhookSubscription](r.Context(), a.commands.UpdateSubscription, command.UpdateSubscriptionMessage{
		TenantID:       TenantFromRoute(r),
		SubscriptionID: chi.URLParam(r, "id"),
		Input:          toSubscriptionInput(body),
	})
	if err != nil {
		a.fail(w, r, "subscription.update", err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub, false))
}

func (a *API) handleDeactivateSubscription(w http.ResponseWriter, r *http.Request) {
	sub, err := execute[command.DeactivateSubscriptionMessage, core.OutboundWebhookSubscription](r.Context(), a.commands.DeactivateSubscription, command.DeactivateSubscriptionMessage{
		TenantID:       TenantFromRoute(r),
		SubscriptionID: chi.URLParam(r, "id"),
	})
	if err != nil {
		a.fail(w, r, "subscription.deactivate", err)
		return
	}
	writeJSON(w, http.StatusOK, toSubscriptionResponse(sub, false))
}

func (a *API) handleListDeliveries(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, core.ValidationError("httpapi: limit must be an integer"))
			return
		}
		limit = parsed
	}
	records, err := ask(r.Context(), a.queries.ListDeliveries, query.ListDeliveriesMessage{
		TenantID:       TenantFromRoute(r),
		SubscriptionID: chi.URLParam(r, "id"),
		Limit:          limit,
	})
	if err != nil {
		a.fail(w, r, "subscription.deliveries", err)
		return
	}
	out := make([]deliveryRecordResponse, 0, len(records))
	for _, record := range records {
		out = append(out, toDeliveryRecordResponse(record))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleAuthorizeURL(w http.ResponseWriter, r *http.Request) {
	authorizeURL, err := ask(r.Context(), a.queries.GitHubAuthorizeURL, query.GitHubAuthorizeURLMessage{
		TenantID: TenantFromRoute(r),
		State:    r.URL.Query().Get("state"),
	})
	if err != nil {
		a.fail(w, r, "github.authorize_url", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": authorizeURL})
}

func (a *API) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	var body oauthCallbackRequest
	if !a.decode(w, r, &body) {
		return
	}
	tenantID := TenantFromRoute(r)
	credential, err := execute[command.CompleteGitHubOAuthMessage, core.OAuthCredential](r.Context(), a.commands.CompleteGitHubOAuth, command.CompleteGitHubOAuthMessage{
		TenantID: tenantID,
		Code:     body.Code,
	})
	if err != nil {
		a.fail(w, r, "github.oauth_callback", err)
		return
	}
	writeJSON(w, http.StatusOK, connectionResponse{
		TenantID:  tenantID,
		Connected: true,
		TokenType: credential.TokenType,
		Scope:     credential.Scope,
		ExpiresAt: credential.ExpiresAt,
	})
}

func (a *API) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if _, err := execute[command.DisconnectGitHubMessage, struct{}](r.Context(), a.commands.DisconnectGitHub, command.DisconnectGitHubMessage{TenantID: TenantFromRoute(r)}); err != nil {
		a.fail(w, r, "github.disconnect", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, a.maxBody))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: ErrorBody{
				Code:    core.ErrorValidation,
				Message: "request body too large",
			}})
		case errors.Is(err, io.EOF):
			writeError(w, core.ValidationError("httpapi: request body is required"))
		default:
			writeError(w, core.ValidationError("httpapi: invalid JSON body: "+err.Error()))
		}
		return false
	}
	return true
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, operation string, err error) {
	rich := core.MapError(err)
	fields := map[string]any{
		"operation": operation,
		"tenant_id": TenantFromRoute(r),
		"error":     err.Error(),
		"status":    rich.Code,
	}
	if rich.Code >= http.StatusInternalServerError {
		a.observer.Error(r.Context(), "http request failed", fields)
	} else {
		a.observer.Debug(r.Context(), "http request rejected", fields)
	}
	writeError(w, rich)
}

type validated interface {
	Validate() error
}

// execute validates msg, runs cmd and returns the result it stored, if any.
func execute[M validated, R any](ctx context.Context, cmd gocmd.Commander[M], msg M) (R, error) {
	var zero R
	if cmd == nil {
		return zero, routeNotConfigured()
	}
	if err := msg.Validate(); err != nil {
		return zero, err
	}
	collector := gocmd.NewResult[R]()
	if err := cmd.Execute(gocmd.ContextWithResult(ctx, collector), msg); err != nil {
		return zero, err
	}
	out, _ := collector.Load()
	return out, nil
}

func ask[M validated, R any](ctx context.Context, qry gocmd.Querier[M, R], msg M) (R, error) {
	var zero R
	if qry == nil {
		return zero, routeNotConfigured()
	}
	if err := msg.Validate(); err != nil {
		return zero, err
	}
	return qry.Query(ctx, msg)
}

func routeNotConfigured() error {
	return core.NewError("httpapi: route is not configured", goerrors.CategoryOperation, core.ErrorInternal)
}

func toSubscriptionInput(body subscriptionRequest) delivery.SubscriptionInput {
	return delivery.SubscriptionInput{
		URL:        body.URL,
		Events:     body.Events,
		Secret:     body.Secret,
		Headers:    body.Headers,
		MaxRetries: body.MaxRetries,
	}
}
