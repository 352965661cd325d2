package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/delivery"
	"github.com/goliatone/go-integrations/orchestrator"
	"github.com/goliatone/go-integrations/webhooks"
)

type WebhookProcessor interface {
	Process(ctx context.Context, delivery webhooks.Delivery) (webhooks.Result, error)
}

type PullRequestService interface {
	CreatePullRequest(ctx context.Context, req orchestrator.CreateRequest) (orchestrator.CreateResult, error)
	Merge(ctx context.Context, tenantID, requestID string) (core.AutonomousChangeRequest, error)
	Close(ctx context.Context, tenantID, requestID string) (core.AutonomousChangeRequest, error)
}

type SubscriptionManager interface {
	Create(ctx context.Context, tenantID string, input delivery.SubscriptionInput) (core.OutboundWebhookSubscription, error)
	Update(ctx context.Context, tenantID, id string, input delivery.SubscriptionInput) (core.OutboundWebhookSubscription, error)
	Deactivate(ctx context.Context, tenantID, id string) (core.OutboundWebhookSubscription, error)
}

type CircuitResetter interface {
	ResetCircuit(tenantID string)
}

type GitHubConnector interface {
	Exchange(ctx context.Context, tenantID, code string) (core.OAuthCredential, error)
	Disconnect(ctx context.Context, tenantID string) error
}

type IngestWebhookCommand struct {
	processor WebhookProcessor
}

func NewIngestWebhookCommand(processor WebhookProcessor) *IngestWebhookCommand {
	return &IngestWebhookCommand{processor: processor}
}

func (c *IngestWebhookCommand) Execute(ctx context.Context, msg IngestWebhookMessage) error {
	if c == nil || c.processor == nil {
		return core.DependencyError("command: webhook processor is required")
	}
	out, err := c.processor.Process(ctx, msg.Delivery)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CreatePullRequestCommand struct {
	service PullRequestService
}

func NewCreatePullRequestCommand(service PullRequestService) *CreatePullRequestCommand {
	return &CreatePullRequestCommand{service: service}
}

func (c *CreatePullRequestCommand) Execute(ctx context.Context, msg CreatePullRequestMessage) error {
	if c == nil || c.service == nil {
		return core.DependencyError("command: pull request service is required")
	}
	out, err := c.service.CreatePullRequest(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type MergePullRequestCommand struct {
	service PullRequestService
}

func NewMergePullRequestCommand(service PullRequestService) *MergePullRequestCommand {
	return &MergePullRequestCommand{service: service}
}

func (c *MergePullRequestCommand) Execute(ctx context.Context, msg MergePullRequestMessage) error {
	if c == nil || c.service == nil {
		return core.DependencyError("command: pull request service is required")
	}
	out, err := c.service.Merge(ctx, msg.TenantID, msg.RequestID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ClosePullRequestCommand struct {
	service PullRequestService
}

func NewClosePullRequestCommand(service PullRequestService) *ClosePullRequestCommand {
	return &ClosePullRequestCommand{service: service}
}

func (c *ClosePullRequestCommand) Execute(ctx context.Context, msg ClosePullRequestMessage) error {
	if c == nil || c.service == nil {
		return core.DependencyError("command: pull request service is required")
	}
	out, err := c.service.Close(ctx, msg.TenantID, msg.RequestID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type CreateSubscriptionCommand struct {
	manager SubscriptionManager
}

func NewCreateSubscriptionCommand(manager SubscriptionManager) *CreateSubscriptionCommand {
	return &CreateSubscriptionCommand{manager: manager}
}

func (c *CreateSubscriptionCommand) Execute(ctx context.Context, msg CreateSubscriptionMessage) error {
	if c == nil || c.manager == nil {
		return core.DependencyError("command: subscription manager is required")
	}
	out, err := c.manager.Create(ctx, msg.TenantID, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type UpdateSubscriptionCommand struct {
	manager SubscriptionManager
}

func NewUpdateSubscriptionCommand(manager SubscriptionManager) *UpdateSubscriptionCommand {
	return &UpdateSubscriptionCommand{manager: manager}
}

func (c *UpdateSubscriptionCommand) Execute(ctx context.Context, msg UpdateSubscriptionMessage) error {
	if c == nil || c.manager == nil {
		return core.DependencyError("command: subscription manager is required")
	}
	out, err := c.manager.Update(ctx, msg.TenantID, msg.SubscriptionID, msg.Input)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type DeactivateSubscriptionCommand struct {
	manager SubscriptionManager
}

func NewDeactivateSubscriptionCommand(manager SubscriptionManager) *DeactivateSubscriptionCommand {
	return &DeactivateSubscriptionCommand{manager: manager}
}

func (c *DeactivateSubscriptionCommand) Execute(ctx context.Context, msg DeactivateSubscriptionMessage) error {
	if c == nil || c.manager == nil {
		return core.DependencyError("command: subscription manager is required")
	}
	out, err := c.manager.Deactivate(ctx, msg.TenantID, msg.SubscriptionID)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type ResetCircuitCommand struct {
	resetter CircuitResetter
}

func NewResetCircuitCommand(resetter CircuitResetter) *ResetCircuitCommand {
	return &ResetCircuitCommand{resetter: resetter}
}

func (c *ResetCircuitCommand) Execute(_ context.Context, msg ResetCircuitMessage) error {
	if c == nil || c.resetter == nil {
		return core.DependencyError("command: circuit resetter is required")
	}
	c.resetter.ResetCircuit(msg.TenantID)
	return nil
}

type CompleteGitHubOAuthCommand struct {
	connector GitHubConnector
}

func NewCompleteGitHubOAuthCommand(connector GitHubConnector) *CompleteGitHubOAuthCommand {
	return &CompleteGitHubOAuthCommand{connector: connector}
}

// Execute stores the credential minus its tokens as the command result.
func (c *CompleteGitHubOAuthCommand) Execute(ctx context.Context, msg CompleteGitHubOAuthMessage) error {
	if c == nil || c.connector == nil {
		return core.DependencyError("command: github connector is required")
	}
	out, err := c.connector.Exchange(ctx, msg.TenantID, msg.Code)
	if err != nil {
		return err
	}
	out.AccessToken = ""
	out.RefreshToken = ""
	storeResult(ctx, out)
	return nil
}

type DisconnectGitHubCommand struct {
	connector GitHubConnector
}

func NewDisconnectGitHubCommand(connector GitHubConnector) *DisconnectGitHubCommand {
	return &DisconnectGitHubCommand{connector: connector}
}

func (c *DisconnectGitHubCommand) Execute(ctx context.Context, msg DisconnectGitHubMessage) error {
	if c == nil || c.connector == nil {
		return core.DependencyError("command: github connector is required")
	}
	return c.connector.Disconnect(ctx, msg.TenantID)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
