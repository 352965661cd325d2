package query

import (
	"context"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/ratelimit"
	"github.com/goliatone/go-integrations/resilience"
)

type ChangeRequestReader interface {
	Get(ctx context.Context, tenantID, requestID string) (core.AutonomousChangeRequest, error)
}

type SubscriptionReader interface {
	List(ctx context.Context, tenantID string) ([]core.OutboundWebhookSubscription, error)
	Deliveries(ctx context.Context, tenantID, id string, limit int) ([]core.OutboundDeliveryRecord, error)
}

type CircuitReader interface {
	CircuitSnapshot(tenantID string) resilience.CircuitSnapshot
}

type RateLimitReader interface {
	Check(tenantID string) ratelimit.Window
}

type AuthorizeURLBuilder interface {
	AuthCodeURL(state string) string
}

type GetChangeRequestQuery struct {
	reader ChangeRequestReader
}

func NewGetChangeRequestQuery(reader ChangeRequestReader) *GetChangeRequestQuery {
	return &GetChangeRequestQuery{reader: reader}
}

func (q *GetChangeRequestQuery) Query(ctx context.Context, msg GetChangeRequestMessage) (core.AutonomousChangeRequest, error) {
	if q == nil || q.reader == nil {
		return core.AutonomousChangeRequest{}, core.DependencyError("query: change request reader is required")
	}
	return q.reader.Get(ctx, msg.TenantID, msg.RequestID)
}

type ListSubscriptionsQuery struct {
	reader SubscriptionReader
}

func NewListSubscriptionsQuery(reader SubscriptionReader) *ListSubscriptionsQuery {
	return &ListSubscriptionsQuery{reader: reader}
}

func (q *ListSubscriptionsQuery) Query(ctx context.Context, msg ListSubscriptionsMessage) ([]core.OutboundWebhookSubscription, error) {
	if q == nil || q.reader == nil {
		return nil, core.DependencyError("query: subscription reader is required")
	}
	subs, err := q.reader.List(ctx, msg.TenantID)
	if err != nil {
		return nil, err
	}
	for i := range subs {
		subs[i].Secret = ""
	}
	return subs, nil
}

type ListDeliveriesQuery struct {
	reader SubscriptionReader
}

func NewListDeliveriesQuery(reader SubscriptionReader) *ListDeliveriesQuery {
	return &ListDeliveriesQuery{reader: reader}
}

func (q *ListDeliveriesQuery) Query(ctx context.Context, msg ListDeliveriesMessage) ([]core.OutboundDeliveryRecord, error) {
	if q == nil || q.reader == nil {
		return nil, core.DependencyError("query: subscription reader is required")
	}
	return q.reader.Deliveries(ctx, msg.TenantID, msg.SubscriptionID, msg.Limit)
}

type CircuitStateQuery struct {
	reader CircuitReader
}

func NewCircuitStateQuery(reader CircuitReader) *CircuitStateQuery {
	return &CircuitStateQuery{reader: reader}
}

func (q *CircuitStateQuery) Query(_ context.Context, msg CircuitStateMessage) (resilience.CircuitSnapshot, error) {
	if q == nil || q.reader == nil {
		return resilience.CircuitSnapshot{}, core.DependencyError("query: circuit reader is required")
	}
	return q.reader.CircuitSnapshot(msg.TenantID), nil
}

type RateLimitWindowQuery struct {
	reader RateLimitReader
}

func NewRateLimitWindowQuery(reader RateLimitReader) *RateLimitWindowQuery {
	return &RateLimitWindowQuery{reader: reader}
}

func (q *RateLimitWindowQuery) Query(_ context.Context, msg RateLimitWindowMessage) (ratelimit.Window, error) {
	if q == nil || q.reader == nil {
		return ratelimit.Window{}, core.DependencyError("query: rate limit reader is required")
	}
	return q.reader.Check(msg.TenantID), nil
}

type GitHubAuthorizeURLQuery struct {
	builder AuthorizeURLBuilder
}

func NewGitHubAuthorizeURLQuery(builder AuthorizeURLBuilder) *GitHubAuthorizeURLQuery {
	return &GitHubAuthorizeURLQuery{builder: builder}
}

func (q *GitHubAuthorizeURLQuery) Query(_ context.Context, msg GitHubAuthorizeURLMessage) (string, error) {
	if q == nil || q.builder == nil {
		return "", core.DependencyError("query: github oauth is not configured")
	}
	return q.builder.AuthCodeURL(msg.State), nil
}
