package command

import (
	"testing"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/delivery"
	"github.com/goliatone/go-integrations/orchestrator"
)

func TestMessages_ValidateReturnsRichError(t *testing.T) {
	cases := map[string]interface{ Validate() error }{
		"merge without tenant":         MergePullRequestMessage{RequestID: "r1"},
		"close without request":        ClosePullRequestMessage{TenantID: tenantID},
		"subscription with bad tenant": CreateSubscriptionMessage{TenantID: "tenant-a", Input: delivery.SubscriptionInput{URL: "https://example.com", Events: []string{"*"}}},
		"subscription without events":  CreateSubscriptionMessage{TenantID: tenantID, Input: delivery.SubscriptionInput{URL: "https://example.com"}},
		"oauth without code":           CompleteGitHubOAuthMessage{TenantID: tenantID},
		"ingest without delivery id":   IngestWebhookMessage{},
		"pr without changes": CreatePullRequestMessage{Request: orchestrator.CreateRequest{
			TenantID: tenantID, Repository: core.RepositoryRef{Owner: "acme", Name: "widgets"}, Title: "t",
		}},
		"pr with escaping path": CreatePullRequestMessage{Request: orchestrator.CreateRequest{
			TenantID: tenantID, Repository: core.RepositoryRef{Owner: "acme", Name: "widgets"}, Title: "t",
			Changes: []core.FileChange{{Path: "../etc/passwd", Content: "x", Mode: core.FileChangeCreate}},
		}},
	}
	for name, msg := range cases {
		err := msg.Validate()
		var rich *goerrors.Error
		if !goerrors.As(err, &rich) {
			t.Fatalf("%s: expected go-errors envelope, got %T %v", name, err, err)
		}
		if rich.TextCode != core.ErrorValidation {
			t.Fatalf("%s: expected %q text code, got %q", name, core.ErrorValidation, rich.TextCode)
		}
	}
}

func TestMessages_ValidAccepted(t *testing.T) {
	msg := CreatePullRequestMessage{Request: orchestrator.CreateRequest{
		TenantID:   tenantID,
		Repository: core.RepositoryRef{Owner: "acme", Name: "widgets"},
		Title:      "Fix login",
		Changes:    []core.FileChange{{Path: "src/login.go", Content: "package src", Mode: core.FileChangeUpdate}},
	}}
	if err := msg.Validate(); err != nil {
		t.Fatalf("expected valid message, got %v", err)
	}
	if err := (ResetCircuitMessage{TenantID: tenantID}).Validate(); err != nil {
		t.Fatalf("expected valid reset, got %v", err)
	}
}
