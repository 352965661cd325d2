package command

import (
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/delivery"
	"github.com/goliatone/go-integrations/orchestrator"
	"github.com/goliatone/go-integrations/webhooks"
)

const (
	TypeIngestWebhook          = "integrations.command.webhook.ingest"
	TypeCreatePullRequest      = "integrations.command.autonomous_pr.create"
	TypeMergePullRequest       = "integrations.command.autonomous_pr.merge"
	TypeClosePullRequest       = "integrations.command.autonomous_pr.close"
	TypeCreateSubscription     = "integrations.command.subscription.create"
	TypeUpdateSubscription     = "integrations.command.subscription.update"
	TypeDeactivateSubscription = "integrations.command.subscription.deactivate"
	TypeResetCircuit           = "integrations.command.circuit.reset"
	TypeCompleteGitHubOAuth    = "integrations.command.github.oauth.complete"
	TypeDisconnectGitHub       = "integrations.command.github.disconnect"
)

type IngestWebhookMessage struct {
	Delivery webhooks.Delivery
}

func (IngestWebhookMessage) Type() string { return TypeIngestWebhook }

func (m IngestWebhookMessage) Validate() error {
	if strings.TrimSpace(m.Delivery.EventType) == "" {
		return core.FieldError("command", "event_type", "event type is required")
	}
	if strings.TrimSpace(m.Delivery.DeliveryID) == "" {
		return core.FieldError("command", "delivery_id", "delivery id is required")
	}
	return nil
}

type CreatePullRequestMessage struct {
	Request orchestrator.CreateRequest
}

func (CreatePullRequestMessage) Type() string { return TypeCreatePullRequest }

func (m CreatePullRequestMessage) Validate() error {
	if err := validateTenant(m.Request.TenantID); err != nil {
		return err
	}
	if err := m.Request.Repository.Validate(); err != nil {
		return core.WrapError(err, goerrors.CategoryValidation, core.ErrorValidation, "command: invalid repository")
	}
	if strings.TrimSpace(m.Request.Title) == "" {
		return core.FieldError("command", "title", "title is required")
	}
	if len(m.Request.Changes) == 0 {
		return core.FieldError("command", "changes", "at least one file change is required")
	}
	for _, change := range m.Request.Changes {
		if err := change.Validate(); err != nil {
			return core.WrapError(err, goerrors.CategoryValidation, core.ErrorValidation, "command: invalid file change")
		}
	}
	return nil
}

type MergePullRequestMessage struct {
	TenantID  string
	RequestID string
}

func (MergePullRequestMessage) Type() string { return TypeMergePullRequest }

func (m MergePullRequestMessage) Validate() error {
	return validateRequestRef(m.TenantID, m.RequestID)
}

type ClosePullRequestMessage struct {
	TenantID  string
	RequestID string
}

func (ClosePullRequestMessage) Type() string { return TypeClosePullRequest }

func (m ClosePullRequestMessage) Validate() error {
	return validateRequestRef(m.TenantID, m.RequestID)
}

type CreateSubscriptionMessage struct {
	TenantID string
	Input    delivery.SubscriptionInput
}

func (CreateSubscriptionMessage) Type() string { return TypeCreateSubscription }

func (m CreateSubscriptionMessage) Validate() error {
	if err := validateTenant(m.TenantID); err != nil {
		return err
	}
	if strings.TrimSpace(m.Input.URL) == "" {
		return core.FieldError("command", "url", "url is required")
	}
	if len(m.Input.Events) == 0 {
		return core.FieldError("command", "events", "at least one event is required")
	}
	return nil
}

type UpdateSubscriptionMessage struct {
	TenantID       string
	SubscriptionID string
	Input          delivery.SubscriptionInput
}

func (UpdateSubscriptionMessage) Type() string { return TypeUpdateSubscription }

func (m UpdateSubscriptionMessage) Validate() error {
	return validateSubscriptionRef(m.TenantID, m.SubscriptionID)
}

type DeactivateSubscriptionMessage struct {
	TenantID       string
	SubscriptionID string
}

func (DeactivateSubscriptionMessage) Type() string { return TypeDeactivateSubscription }

func (m DeactivateSubscriptionMessage) Validate() error {
	return validateSubscriptionRef(m.TenantID, m.SubscriptionID)
}

type ResetCircuitMessage struct {
	TenantID string
}

func (ResetCircuitMessage) Type() string { return TypeResetCircuit }

func (m ResetCircuitMessage) Validate() error {
	return validateTenant(m.TenantID)
}

type CompleteGitHubOAuthMessage struct {
	TenantID string
	Code     string
}

func (CompleteGitHubOAuthMessage) Type() string { return TypeCompleteGitHubOAuth }

func (m CompleteGitHubOAuthMessage) Validate() error {
	if err := validateTenant(m.TenantID); err != nil {
		return err
	}
	if strings.TrimSpace(m.Code) == "" {
		return core.FieldError("command", "code", "authorization code is required")
	}
	return nil
}

type DisconnectGitHubMessage struct {
	TenantID string
}

func (DisconnectGitHubMessage) Type() string { return TypeDisconnectGitHub }

func (m DisconnectGitHubMessage) Validate() error {
	return validateTenant(m.TenantID)
}

func validateTenant(tenantID string) error {
	if err := core.ValidateTenantID(tenantID); err != nil {
		return core.FieldError("command", "tenant_id", err.Error())
	}
	return nil
}

func validateRequestRef(tenantID, requestID string) error {
	if err := validateTenant(tenantID); err != nil {
		return err
	}
	if strings.TrimSpace(requestID) == "" {
		return core.FieldError("command", "request_id", "request id is required")
	}
	return nil
}

func validateSubscriptionRef(tenantID, subscriptionID string) error {
	if err := validateTenant(tenantID); err != nil {
		return err
	}
	if strings.TrimSpace(subscriptionID) == "" {
		return core.FieldError("command", "subscription_id", "subscription id is required")
	}
	return nil
}
