package query

import (
	"strings"

	"github.com/goliatone/go-integrations/core"
)

const (
	TypeGetChangeRequest   = "integrations.query.autonomous_pr.get"
	TypeListSubscriptions  = "integrations.query.subscription.list"
	TypeListDeliveries     = "integrations.query.subscription.deliveries"
	TypeCircuitState       = "integrations.query.circuit.state"
	TypeRateLimitWindow    = "integrations.query.rate_limit.window"
	TypeGitHubAuthorizeURL = "integrations.query.github.authorize_url"

	MaxDeliveryPageSize = 200
)

type GetChangeRequestMessage struct {
	TenantID  string
	RequestID string
}

func (GetChangeRequestMessage) Type() string { return TypeGetChangeRequest }

func (m GetChangeRequestMessage) Validate() error {
	if err := validateTenant(m.TenantID); err != nil {
		return err
	}
	if strings.TrimSpace(m.RequestID) == "" {
		return core.FieldError("query", "request_id", "request id is required")
	}
	return nil
}

type ListSubscriptionsMessage struct {
	TenantID string
}

func (ListSubscriptionsMessage) Type() string { return TypeListSubscriptions }

func (m ListSubscriptionsMessage) Validate() error {
	return validateTenant(m.TenantID)
}

type ListDeliveriesMessage struct {
	TenantID       string
	SubscriptionID string
	Limit          int
}

func (ListDeliveriesMessage) Type() string { return TypeListDeliveries }

func (m ListDeliveriesMessage) Validate() error {
	if err := validateTenant(m.TenantID); err != nil {
		return err
	}
	if strings.TrimSpace(m.SubscriptionID) == "" {
		return core.FieldError("query", "subscription_id", "subscription id is required")
	}
	if m.Limit < 0 || m.Limit > MaxDeliveryPageSize {
		return core.FieldError("query", "limit", "limit must be between 0 and 200")
	}
	return nil
}

type CircuitStateMessage struct {
	TenantID string
}

func (CircuitStateMessage) Type() string { return TypeCircuitState }

func (m CircuitStateMessage) Validate() error {
	return validateTenant(m.TenantID)
}

type RateLimitWindowMessage struct {
	TenantID string
}

func (RateLimitWindowMessage) Type() string { return TypeRateLimitWindow }

func (m RateLimitWindowMessage) Validate() error {
	return validateTenant(m.TenantID)
}

// GitHubAuthorizeURLMessage asks for the OAuth consent URL. State must be an
// opaque value the caller can verify on callback.
type GitHubAuthorizeURLMessage struct {
	TenantID string
	State    string
}

func (GitHubAuthorizeURLMessage) Type() string { return TypeGitHubAuthorizeURL }

func (m GitHubAuthorizeURLMessage) Validate() error {
	if err := validateTenant(m.TenantID); err != nil {
		return err
	}
	if strings.TrimSpace(m.State) == "" {
		return core.FieldError("query", "state", "state is required")
	}
	return nil
}

func validateTenant(tenantID string) error {
	if err := core.ValidateTenantID(tenantID); err != nil {
		return core.FieldError("query", "tenant_id", err.Error())
	}
	return nil
}
