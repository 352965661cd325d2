package integrations

import (
	"fmt"

	"github.com/goliatone/go-integrations/adapters/gocommand"
	"github.com/goliatone/go-integrations/command"
	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/httpapi"
	"github.com/goliatone/go-integrations/query"
	"github.com/goliatone/go-integrations/ratelimit"
	"github.com/goliatone/go-integrations/resilience"
)

type PullRequestService interface {
	command.PullRequestService
	query.ChangeRequestReader
}

type SubscriptionService interface {
	command.SubscriptionManager
	query.SubscriptionReader
}

type CircuitService interface {
	command.CircuitResetter
	query.CircuitReader
}

type GitHubService interface {
	command.GitHubConnector
	query.AuthorizeURLBuilder
}

// FacadeServices lists what the facade delegates to. PullRequests and
// Subscriptions are required; a nil optional service leaves its commands and
// queries unset.
type FacadeServices struct {
	Webhooks      command.WebhookProcessor
	PullRequests  PullRequestService
	Subscriptions SubscriptionService
	Circuits      CircuitService
	RateLimits    query.RateLimitReader
	GitHub        GitHubService
}

type Commands struct {
	IngestWebhook          *command.IngestWebhookCommand
	CreatePullRequest      *command.CreatePullRequestCommand
	MergePullRequest       *command.MergePullRequestCommand
	ClosePullRequest       *command.ClosePullRequestCommand
	CreateSubscription     *command.CreateSubscriptionCommand
	UpdateSubscription     *command.UpdateSubscriptionCommand
	DeactivateSubscription *command.DeactivateSubscriptionCommand
	ResetCircuit           *command.ResetCircuitCommand
	CompleteGitHubOAuth    *command.CompleteGitHubOAuthCommand
	DisconnectGitHub       *command.DisconnectGitHubCommand
}

type Queries struct {
	GetChangeRequest   *query.GetChangeRequestQuery
	ListSubscriptions  *query.ListSubscriptionsQuery
	ListDeliveries     *query.ListDeliveriesQuery
	CircuitState       *query.CircuitStateQuery
	RateLimitWindow    *query.RateLimitWindowQuery
	GitHubAuthorizeURL *query.GitHubAuthorizeURLQuery
}

type Facade struct {
	commands Commands
	queries  Queries
}

func NewFacade(services FacadeServices) (*Facade, error) {
	if services.PullRequests == nil {
		return nil, fmt.Errorf("integrations: pull request service is required")
	}
	if services.Subscriptions == nil {
		return nil, fmt.Errorf("integrations: subscription service is required")
	}

	facade := &Facade{}
	facade.commands = Commands{
		CreatePullRequest:      command.NewCreatePullRequestCommand(services.PullRequests),
		MergePullRequest:       command.NewMergePullRequestCommand(services.PullRequests),
		ClosePullRequest:       command.NewClosePullRequestCommand(services.PullRequests),
		CreateSubscription:     command.NewCreateSubscriptionCommand(services.Subscriptions),
		UpdateSubscription:     command.NewUpdateSubscriptionCommand(services.Subscriptions),
		DeactivateSubscription: command.NewDeactivateSubscriptionCommand(services.Subscriptions),
	}
	facade.queries = Queries{
		GetChangeRequest:  query.NewGetChangeRequestQuery(services.PullRequests),
		ListSubscriptions: query.NewListSubscriptionsQuery(services.Subscriptions),
		ListDeliveries:    query.NewListDeliveriesQuery(services.Subscriptions),
	}
	if services.Webhooks != nil {
		facade.commands.IngestWebhook = command.NewIngestWebhookCommand(services.Webhooks)
	}
	if services.Circuits != nil {
		facade.commands.ResetCircuit = command.NewResetCircuitCommand(services.Circuits)
		facade.queries.CircuitState = query.NewCircuitStateQuery(services.Circuits)
	}
	if services.RateLimits != nil {
		facade.queries.RateLimitWindow = query.NewRateLimitWindowQuery(services.RateLimits)
	}
	if services.GitHub != nil {
		facade.commands.CompleteGitHubOAuth = command.NewCompleteGitHubOAuthCommand(services.GitHub)
		facade.commands.DisconnectGitHub = command.NewDisconnectGitHubCommand(services.GitHub)
		facade.queries.GitHubAuthorizeURL = query.NewGitHubAuthorizeURLQuery(services.GitHub)
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

// HTTPCommands converts the facade commands for httpapi. Unset commands stay
// nil interfaces so their routes answer as not configured.
func (f *Facade) HTTPCommands() httpapi.Commands {
	out := httpapi.Commands{}
	if f == nil {
		return out
	}
	c := f.commands
	if c.CreatePullRequest != nil {
		out.CreatePullRequest = c.CreatePullRequest
	}
	if c.MergePullRequest != nil {
		out.MergePullRequest = c.MergePullRequest
	}
	if c.ClosePullRequest != nil {
		out.ClosePullRequest = c.ClosePullRequest
	}
	if c.CreateSubscription != nil {
		out.CreateSubscription = c.CreateSubscription
	}
	if c.UpdateSubscription != nil {
		out.UpdateSubscription = c.UpdateSubscription
	}
	if c.DeactivateSubscription != nil {
		out.DeactivateSubscription = c.DeactivateSubscription
	}
	if c.ResetCircuit != nil {
		out.ResetCircuit = c.ResetCircuit
	}
	if c.CompleteGitHubOAuth != nil {
		out.CompleteGitHubOAuth = c.CompleteGitHubOAuth
	}
	if c.DisconnectGitHub != nil {
		out.DisconnectGitHub = c.DisconnectGitHub
	}
	return out
}

func (f *Facade) HTTPQueries() httpapi.Queries {
	out := httpapi.Queries{}
	if f == nil {
		return out
	}
	q := f.queries
	if q.GetChangeRequest != nil {
		out.GetChangeRequest = q.GetChangeRequest
	}
	if q.ListSubscriptions != nil {
		out.ListSubscriptions = q.ListSubscriptions
	}
	if q.ListDeliveries != nil {
		out.ListDeliveries = q.ListDeliveries
	}
	if q.CircuitState != nil {
		out.CircuitState = q.CircuitState
	}
	if q.RateLimitWindow != nil {
		out.RateLimitWindow = q.RateLimitWindow
	}
	if q.GitHubAuthorizeURL != nil {
		out.GitHubAuthorizeURL = q.GitHubAuthorizeURL
	}
	return out
}

// Register subscribes every configured command and query on the go-command
// dispatcher. Call router.Close to undo it.
func (f *Facade) Register(router *gocommand.Router) error {
	if f == nil {
		return fmt.Errorf("integrations: facade is not configured")
	}
	if router == nil {
		return fmt.Errorf("integrations: command router is required")
	}
	c, q := f.commands, f.queries
	steps := []func() error{
		func() error { return gocommand.Handle[command.CreatePullRequestMessage](router, c.CreatePullRequest) },
		func() error { return gocommand.Handle[command.MergePullRequestMessage](router, c.MergePullRequest) },
		func() error { return gocommand.Handle[command.ClosePullRequestMessage](router, c.ClosePullRequest) },
		func() error { return gocommand.Handle[command.CreateSubscriptionMessage](router, c.CreateSubscription) },
		func() error { return gocommand.Handle[command.UpdateSubscriptionMessage](router, c.UpdateSubscription) },
		func() error {
			return gocommand.Handle[command.DeactivateSubscriptionMessage](router, c.DeactivateSubscription)
		},
		func() error {
			return gocommand.HandleQuery[query.GetChangeRequestMessage, core.AutonomousChangeRequest](router, q.GetChangeRequest)
		},
		func() error {
			return gocommand.HandleQuery[query.ListSubscriptionsMessage, []core.OutboundWebhookSubscription](router, q.ListSubscriptions)
		},
		func() error { return gocommand.HandleQuery[query.ListDeliveriesMessage, []core.OutboundDeliveryRecord](router, q.ListDeliveries) },
	}
	if c.IngestWebhook != nil {
		steps = append(steps, func() error {
			return gocommand.Handle[command.IngestWebhookMessage](router, c.IngestWebhook)
		})
	}
	if c.ResetCircuit != nil {
		steps = append(steps,
			func() error { return gocommand.Handle[command.ResetCircuitMessage](router, c.ResetCircuit) },
			func() error { return gocommand.HandleQuery[query.CircuitStateMessage, resilience.CircuitSnapshot](router, q.CircuitState) },
		)
	}
	if q.RateLimitWindow != nil {
		steps = append(steps, func() error {
			return gocommand.HandleQuery[query.RateLimitWindowMessage, ratelimit.Window](router, q.RateLimitWindow)
		})
	}
	if c.CompleteGitHubOAuth != nil {
		steps = append(steps,
			func() error {
				return gocommand.Handle[command.CompleteGitHubOAuthMessage](router, c.CompleteGitHubOAuth)
			},
			func() error { return gocommand.Handle[command.DisconnectGitHubMessage](router, c.DisconnectGitHub) },
			func() error {
				return gocommand.HandleQuery[query.GitHubAuthorizeURLMessage, string](router, q.GitHubAuthorizeURL)
			},
		)
	}
	for _, step := range steps {
		if err := step(); err != nil {
			router.Close()
			return err
		}
	}
	return nil
}
