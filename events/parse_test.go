package events

import (
	"strings"
	"testing"

	"github.com/goliatone/go-integrations/core"
)

const pushPayload = `{
  "ref": "refs/heads/main",
  "before": "0000000000000000000000000000000000000000",
  "after": "9f2c1e7",
  "commits": [
    {"id": "9f2c1e7", "message": "Add ontology", "author": {"name": "octo", "email": "octo@example.com"}}
  ],
  "repository": {"id": 1, "name": "widgets", "full_name": "acme/widgets", "owner": {"login": "acme"}},
  "sender": {"login": "octo"}
}`

const pullRequestPayload = `{
  "action": "opened",
  "number": 12,
  "pull_request": {
    "number": 12,
    "state": "open",
    "title": "Refactor",
    "head": {"ref": "autonomous/abc", "sha": "deadbeef"},
    "base": {"ref": "main", "sha": "cafebabe"}
  },
  "repository": {"name": "widgets", "full_name": "acme/widgets"},
  "sender": {"login": "octo"}
}`

func TestParse_Push(t *testing.T) {
	event, err := Parse("push", []byte(pushPayload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	push, err := As[PushEvent](event)
	if err != nil {
		t.Fatalf("as push: %v", err)
	}
	if push.Ref != "refs/heads/main" || push.After != "9f2c1e7" || len(push.Commits) != 1 {
		t.Fatalf("unexpected push event: %+v", push)
	}
	if push.Branch() != "main" {
		t.Fatalf("expected branch main, got %q", push.Branch())
	}
	if ref := push.Repo().Ref(); ref.Owner != "acme" || ref.Name != "widgets" {
		t.Fatalf("unexpected repository ref: %+v", ref)
	}
	summary := push.Summary()
	if summary["repository"] != "acme/widgets" || summary["after"] != "9f2c1e7" {
		t.Fatalf("unexpected summary: %+v", summary)
	}
}

func TestParse_PushMissingRef(t *testing.T) {
	payload := strings.Replace(pushPayload, `"ref": "refs/heads/main",`, "", 1)
	_, err := Parse("push", []byte(payload))
	if !core.HasTextCode(err, core.ErrorMissingField) {
		t.Fatalf("expected missing field error, got %v", err)
	}
	if !strings.Contains(err.Error(), "ref") {
		t.Fatalf("expected error to name the field, got %q", err.Error())
	}
}

func TestParse_NullFieldCountsAsMissing(t *testing.T) {
	payload := strings.Replace(pushPayload, `"after": "9f2c1e7",`, `"after": null,`, 1)
	_, err := Parse("push", []byte(payload))
	if !core.HasTextCode(err, core.ErrorMissingField) || !strings.Contains(err.Error(), "after") {
		t.Fatalf("expected missing after, got %v", err)
	}
}

func TestParse_NestedRequiredField(t *testing.T) {
	payload := strings.Replace(pullRequestPayload, `"base": {"ref": "main", "sha": "cafebabe"}`, `"merged": false`, 1)
	_, err := Parse("pull_request", []byte(payload))
	if !core.HasTextCode(err, core.ErrorMissingField) || !strings.Contains(err.Error(), "pull_request.base") {
		t.Fatalf("expected missing pull_request.base, got %v", err)
	}
}

func TestParse_TypeMismatch(t *testing.T) {
	event, err := Parse("push", []byte(pushPayload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := As[PullRequestEvent](event); !core.HasTextCode(err, core.ErrorTypeMismatch) {
		t.Fatalf("expected type mismatch, got %v", err)
	}
}

func TestParse_UnsupportedAndMalformed(t *testing.T) {
	if _, err := Parse("deployment", []byte(`{}`)); !core.HasTextCode(err, core.ErrorUnsupportedEvent) {
		t.Fatalf("expected unsupported event error, got %v", err)
	}
	if _, err := Parse("push", []byte(`{"ref":`)); !core.HasTextCode(err, core.ErrorMalformedPayload) {
		t.Fatalf("expected malformed payload error, got %v", err)
	}
	if _, err := Parse("push", nil); !core.HasTextCode(err, core.ErrorMalformedPayload) {
		t.Fatalf("expected malformed payload error for empty body, got %v", err)
	}
	if _, err := Parse("push", []byte(`{"ref": "x", "after": "y", "commits": "nope", "repository": {"full_name": "a/b"}, "sender": {"login": "octo"}}`)); !core.HasTextCode(err, core.ErrorMalformedPayload) {
		t.Fatalf("expected malformed payload error for wrong field type, got %v", err)
	}
}

func TestParse_AllSupportedShapes(t *testing.T) {
	cases := map[string]string{
		TypePullRequest: pullRequestPayload,
		TypeIssues: `{"action":"opened","issue":{"number":3,"title":"Bug"},"repository":{"full_name":"acme/widgets"},` +
			`"sender":{"login":"octo"}}`,
		TypeIssueComment: `{"action":"created","issue":{"number":3},"comment":{"id":9,"body":"lgtm"},` +
			`"repository":{"full_name":"acme/widgets"},"sender":{"login":"octo"}}`,
		TypePullRequestReview: `{"action":"submitted","review":{"id":4,"state":"approved"},` +
			`"pull_request":{"number":12},"repository":{"full_name":"acme/widgets"},"sender":{"login":"octo"}}`,
	}
	for eventType, payload := range cases {
		event, err := Parse(eventType, []byte(payload))
		if err != nil {
			t.Fatalf("parse %s: %v", eventType, err)
		}
		if event.EventType() != eventType {
			t.Fatalf("expected %s, got %s", eventType, event.EventType())
		}
		if event.Repo().FullName != "acme/widgets" {
			t.Fatalf("expected repository on %s", eventType)
		}
	}
	if len(SupportedTypes()) != 5 {
		t.Fatalf("expected five supported types, got %v", SupportedTypes())
	}
}

func TestParse_MissingSender(t *testing.T) {
	cases := map[string]string{
		TypePush: `{"ref":"refs/heads/main","after":"9f2c1e7","commits":[],"repository":{"full_name":"acme/widgets"}}`,
		TypePullRequest: `{"action":"opened","number":12,"pull_request":{"head":{"ref":"a"},"base":{"ref":"main"}},` +
			`"repository":{"full_name":"acme/widgets"}}`,
		TypeIssues:       `{"action":"opened","issue":{"number":3},"repository":{"full_name":"acme/widgets"}}`,
		TypeIssueComment: `{"action":"created","issue":{"number":3},"comment":{"body":"lgtm"},"repository":{"full_name":"acme/widgets"}}`,
		TypePullRequestReview: `{"action":"submitted","review":{"state":"approved"},"pull_request":{"number":12},` +
			`"repository":{"full_name":"acme/widgets"}}`,
	}
	for eventType, payload := range cases {
		_, err := Parse(eventType, []byte(payload))
		if !core.HasTextCode(err, core.ErrorMissingField) || !strings.Contains(err.Error(), "sender") {
			t.Fatalf("%s: expected missing sender, got %v", eventType, err)
		}

		withoutLogin := strings.TrimSuffix(payload, "}") + `,"sender":{"id":7}}`
		_, err = Parse(eventType, []byte(withoutLogin))
		if !core.HasTextCode(err, core.ErrorMissingField) || !strings.Contains(err.Error(), "sender.login") {
			t.Fatalf("%s: expected missing sender.login, got %v", eventType, err)
		}
	}
}
