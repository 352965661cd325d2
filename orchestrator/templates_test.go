package orchestrator

import (
	"strings"
	"testing"

	"github.com/goliatone/go-integrations/core"
)

func TestRenderer_DefaultTemplates(t *testing.T) {
	renderer, err := NewRenderer(nil)
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	body, err := renderer.Render(TemplateContext{
		Title:        "Split person entity",
		WorkflowType: core.WorkflowOntologyRefactor,
		Changes:      []core.FileChange{{Path: "ontology/person.ttl", Mode: core.FileChangeUpdate}},
		Data:         map[string]any{"entities": []string{"Person", "Agent"}},
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	for _, want := range []string{"## Ontology Refactor: Split person entity", "Person, Agent", "`ontology/person.ttl` (update)"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in body:\n%s", want, body)
		}
	}
}

func TestRenderer_OverrideAndFallback(t *testing.T) {
	renderer, err := NewRenderer(map[core.WorkflowType]string{
		core.WorkflowRefactor: `{{title .Title}} on {{.Branch}}`,
	})
	if err != nil {
		t.Fatalf("new renderer: %v", err)
	}
	body, err := renderer.Render(TemplateContext{Title: "tidy imports", WorkflowType: core.WorkflowRefactor, Branch: "autonomous/x"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if body != "Tidy Imports on autonomous/x\n" {
		t.Fatalf("unexpected override output %q", body)
	}

	body, err = renderer.Render(TemplateContext{Title: "Misc", WorkflowType: core.WorkflowType("unknown")})
	if err != nil {
		t.Fatalf("render fallback: %v", err)
	}
	if !strings.HasPrefix(body, "## Misc") {
		t.Fatalf("expected general template fallback, got %q", body)
	}

	if _, err := NewRenderer(map[core.WorkflowType]string{"nope": "x"}); err == nil {
		t.Fatalf("expected unknown workflow override to be rejected")
	}
	if _, err := NewRenderer(map[core.WorkflowType]string{core.WorkflowBugFix: "{{"}); err == nil {
		t.Fatalf("expected template parse error")
	}
}

func TestWorkflowLabel(t *testing.T) {
	if got := WorkflowLabel(core.WorkflowFeatureAddition); got != "Feature Addition" {
		t.Fatalf("unexpected label %q", got)
	}
}
