package gocommand

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-command"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
)

type okMessage struct{}

func (okMessage) Type() string { return "integrations.command.ok" }

type invalidMessage struct{}

func (invalidMessage) Type() string { return "" }

type failingMessage struct{}

func (failingMessage) Type() string { return "integrations.command.fail" }

func (failingMessage) Validate() error { return errors.New("invalid payload") }

type mergeMessage struct {
	RequestID string
}

func (mergeMessage) Type() string { return "integrations.command.router_test" }

type lookupMessage struct {
	RequestID string
}

func (lookupMessage) Type() string { return "integrations.query.router_test" }

type queuedMessage struct{}

func (queuedMessage) Type() string { return "integrations.command.queued" }

func TestValidateMessageContract(t *testing.T) {
	if err := ValidateMessageContract(okMessage{}); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
	if err := ValidateMessageContract(invalidMessage{}); err == nil {
		t.Fatalf("expected empty type to fail contract validation")
	}
	if err := ValidateMessageContract(failingMessage{}); err == nil {
		t.Fatalf("expected Validate() failure to bubble")
	}
}

func TestRouterDispatchAndClose(t *testing.T) {
	router := NewRouter(command.NewRegistry())
	var merged []string

	cmd := command.CommandFunc[mergeMessage](func(_ context.Context, msg mergeMessage) error {
		merged = append(merged, msg.RequestID)
		return nil
	})
	if err := Handle(router, cmd); err != nil {
		t.Fatalf("handle: %v", err)
	}
	qry := command.QueryFunc[lookupMessage, string](func(_ context.Context, msg lookupMessage) (string, error) {
		return "pr-for-" + msg.RequestID, nil
	})
	if err := HandleQuery(router, qry); err != nil {
		t.Fatalf("handle query: %v", err)
	}
	if err := router.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	if err := Dispatch(context.Background(), mergeMessage{RequestID: "r1"}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(merged) != 1 || merged[0] != "r1" {
		t.Fatalf("expected command to run once, got %v", merged)
	}
	got, err := Query[lookupMessage, string](context.Background(), lookupMessage{RequestID: "r1"})
	if err != nil || got != "pr-for-r1" {
		t.Fatalf("unexpected query result %q %v", got, err)
	}

	router.Close()
	_ = Dispatch(context.Background(), mergeMessage{RequestID: "r2"})
	if len(merged) != 1 {
		t.Fatalf("expected no execution after close, got %v", merged)
	}
}

func TestRouterRequiresHandler(t *testing.T) {
	router := NewRouter(nil)
	if err := Handle[mergeMessage](router, nil); err == nil {
		t.Fatalf("expected nil command to be rejected")
	}
	if err := HandleQuery[lookupMessage, string](router, nil); err == nil {
		t.Fatalf("expected nil query to be rejected")
	}
}

func TestQueueResolverMirrorsCommands(t *testing.T) {
	router := NewRouter(command.NewRegistry())
	queueRegistry := jobqueuecommand.NewRegistry()

	if err := router.AddQueueResolver("queue", queueRegistry); err != nil {
		t.Fatalf("add queue resolver: %v", err)
	}
	if !router.HasResolver("queue") {
		t.Fatalf("expected queue resolver to be registered")
	}
	if err := Handle(router, command.CommandFunc[queuedMessage](func(context.Context, queuedMessage) error { return nil })); err != nil {
		t.Fatalf("handle: %v", err)
	}
	defer router.Close()
	if err := router.Initialize(); err != nil {
		t.Fatalf("initialize registry: %v", err)
	}
	if _, ok := queueRegistry.Get("integrations.command.queued"); !ok {
		t.Fatalf("expected command to be mirrored into queue registry")
	}
}
