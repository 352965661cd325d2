package integrations

import (
	"context"
	"testing"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-integrations/adapters/gocommand"
	"github.com/goliatone/go-integrations/command"
	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/delivery"
	"github.com/goliatone/go-integrations/orchestrator"
	"github.com/goliatone/go-integrations/query"
	"github.com/goliatone/go-integrations/resilience"
)

const facadeTenant = "6f1c2d3e-4a5b-4c6d-8e9f-0a1b2c3d4e5f"

func TestNewFacade_WiresCommandsAndQueries(t *testing.T) {
	facade, err := NewFacade(FacadeServices{
		PullRequests:  &stubFacadePullRequests{},
		Subscriptions: &stubFacadeSubscriptions{},
		Circuits:      &stubFacadeCircuits{},
	})
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	commands := facade.Commands()
	if commands.CreatePullRequest == nil || commands.MergePullRequest == nil || commands.CreateSubscription == nil {
		t.Fatalf("expected command handlers to be wired")
	}
	if commands.ResetCircuit == nil {
		t.Fatalf("expected circuit reset command when a circuit service is set")
	}
	if commands.CompleteGitHubOAuth != nil || commands.IngestWebhook != nil {
		t.Fatalf("expected optional commands to stay unset")
	}
	queries := facade.Queries()
	if queries.GetChangeRequest == nil || queries.ListDeliveries == nil || queries.CircuitState == nil {
		t.Fatalf("expected query handlers to be wired")
	}
	if queries.RateLimitWindow != nil || queries.GitHubAuthorizeURL != nil {
		t.Fatalf("expected optional queries to stay unset")
	}

	httpCommands := facade.HTTPCommands()
	if httpCommands.CompleteGitHubOAuth != nil || httpCommands.DisconnectGitHub != nil {
		t.Fatalf("expected unset commands to convert to nil interfaces")
	}
	if httpCommands.ResetCircuit == nil {
		t.Fatalf("expected reset command to be exposed over http")
	}
	if facade.HTTPQueries().GitHubAuthorizeURL != nil {
		t.Fatalf("expected unset query to convert to a nil interface")
	}
}

func TestNewFacade_RequiresCoreServices(t *testing.T) {
	if _, err := NewFacade(FacadeServices{Subscriptions: &stubFacadeSubscriptions{}}); err == nil {
		t.Fatalf("expected missing pull request service to fail")
	}
	if _, err := NewFacade(FacadeServices{PullRequests: &stubFacadePullRequests{}}); err == nil {
		t.Fatalf("expected missing subscription service to fail")
	}
}

func TestFacade_CommandAndQueryDelegation(t *testing.T) {
	prs := &stubFacadePullRequests{}
	facade, err := NewFacade(FacadeServices{PullRequests: prs, Subscriptions: &stubFacadeSubscriptions{}})
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}

	collector := gocmd.NewResult[core.AutonomousChangeRequest]()
	ctx := gocmd.ContextWithResult(context.Background(), collector)
	if err := facade.Commands().MergePullRequest.Execute(ctx, command.MergePullRequestMessage{
		TenantID:  facadeTenant,
		RequestID: "req-1",
	}); err != nil {
		t.Fatalf("execute merge command: %v", err)
	}
	if prs.merged != "req-1" {
		t.Fatalf("expected merge to be delegated, got %q", prs.merged)
	}
	merged, ok := collector.Load()
	if !ok || merged.Status != core.ChangeRequestMerged {
		t.Fatalf("expected merged record in result collector, got %#v", merged)
	}

	record, err := facade.Queries().GetChangeRequest.Query(context.Background(), query.GetChangeRequestMessage{
		TenantID:  facadeTenant,
		RequestID: "req-1",
	})
	if err != nil {
		t.Fatalf("query change request: %v", err)
	}
	if record.ID != "req-1" || record.TenantID != facadeTenant {
		t.Fatalf("unexpected change request: %#v", record)
	}
}

func TestFacade_RegisterDispatchesThroughGoCommand(t *testing.T) {
	circuits := &stubFacadeCircuits{}
	facade, err := NewFacade(FacadeServices{
		PullRequests:  &stubFacadePullRequests{},
		Subscriptions: &stubFacadeSubscriptions{},
		Circuits:      circuits,
	})
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	if err := facade.Register(nil); err == nil {
		t.Fatalf("expected nil router to fail")
	}

	router := gocommand.NewRouter(nil)
	defer router.Close()
	if err := facade.Register(router); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := router.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if err := gocommand.Dispatch(context.Background(), command.ResetCircuitMessage{TenantID: facadeTenant}); err != nil {
		t.Fatalf("dispatch reset: %v", err)
	}
	if len(circuits.resets) != 1 || circuits.resets[0] != facadeTenant {
		t.Fatalf("expected one circuit reset, got %v", circuits.resets)
	}

	snapshot, err := gocommand.Query[query.CircuitStateMessage, resilience.CircuitSnapshot](
		context.Background(),
		query.CircuitStateMessage{TenantID: facadeTenant},
	)
	if err != nil {
		t.Fatalf("query circuit state: %v", err)
	}
	if snapshot.TenantID != facadeTenant || snapshot.State != resilience.CircuitClosed {
		t.Fatalf("unexpected circuit snapshot: %#v", snapshot)
	}
}

type stubFacadePullRequests struct {
	merged string
	closed string
}

func (s *stubFacadePullRequests) CreatePullRequest(_ context.Context, req orchestrator.CreateRequest) (orchestrator.CreateResult, error) {
	record := core.AutonomousChangeRequest{ID: "req-1", TenantID: req.TenantID, Status: core.ChangeRequestOpen}
	return orchestrator.CreateResult{Success: true, Request: record, PRNumber: 1}, nil
}

func (s *stubFacadePullRequests) Merge(_ context.Context, tenantID, requestID string) (core.AutonomousChangeRequest, error) {
	s.merged = requestID
	return core.AutonomousChangeRequest{ID: requestID, TenantID: tenantID, Status: core.ChangeRequestMerged}, nil
}

func (s *stubFacadePullRequests) Close(_ context.Context, tenantID, requestID string) (core.AutonomousChangeRequest, error) {
	s.closed = requestID
	return core.AutonomousChangeRequest{ID: requestID, TenantID: tenantID, Status: core.ChangeRequestClosed}, nil
}

func (s *stubFacadePullRequests) Get(_ context.Context, tenantID, requestID string) (core.AutonomousChangeRequest, error) {
	return core.AutonomousChangeRequest{ID: requestID, TenantID: tenantID, Status: core.ChangeRequestOpen}, nil
}

type stubFacadeSubscriptions struct{}

func (stubFacadeSubscriptions) Create(_ context.Context, tenantID string, input delivery.SubscriptionInput) (core.OutboundWebhookSubscription, error) {
	return core.OutboundWebhookSubscription{ID: "sub-1", TenantID: tenantID, URL: input.URL, Active: true}, nil
}

func (stubFacadeSubscriptions) Update(_ context.Context, tenantID, id string, input delivery.SubscriptionInput) (core.OutboundWebhookSubscription, error) {
	return core.OutboundWebhookSubscription{ID: id, TenantID: tenantID, URL: input.URL, Active: true}, nil
}

func (stubFacadeSubscriptions) Deactivate(_ context.Context, tenantID, id string) (core.OutboundWebhookSubscription, error) {
	return core.OutboundWebhookSubscription{ID: id, TenantID: tenantID}, nil
}

func (stubFacadeSubscriptions) List(context.Context, string) ([]core.OutboundWebhookSubscription, error) {
	return nil, nil
}

func (stubFacadeSubscriptions) Deliveries(context.Context, string, string, int) ([]core.OutboundDeliveryRecord, error) {
	return nil, nil
}

type stubFacadeCircuits struct {
	resets []string
}

func (s *stubFacadeCircuits) ResetCircuit(tenantID string) {
	s.resets = append(s.resets, tenantID)
}

func (s *stubFacadeCircuits) CircuitSnapshot(tenantID string) resilience.CircuitSnapshot {
	return resilience.CircuitSnapshot{TenantID: tenantID, State: resilience.CircuitClosed}
}
