package orchestrator

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/goliatone/go-integrations/core"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const commonFooter = `
### Files changed
{{range .Changes}}- ` + "`{{.Path}}`" + ` ({{.Mode}})
{{end}}
---
_Opened automatically as a {{.Label}} change._
`

var defaultTemplates = map[core.WorkflowType]string{
	core.WorkflowOntologyRefactor: `## {{.Label}}: {{.Title}}

{{with .Description}}{{.}}

{{end}}This pull request restructures ontology definitions.
{{with index .Data "entities"}}
**Entities affected:** {{join . ", "}}
{{end}}` + commonFooter,
	core.WorkflowCodeGeneration: `## {{.Label}}: {{.Title}}

{{with .Description}}{{.}}

{{end}}Generated code{{with index .Data "generator"}} produced by {{.}}{{end}}. Review the output before merging.
` + commonFooter,
	core.WorkflowBugFix: `## {{.Label}}: {{.Title}}

{{with .Description}}{{.}}

{{end}}{{with index .Data "issue"}}Fixes #{{.}}
{{end}}{{with index .Data "root_cause"}}
**Root cause:** {{.}}
{{end}}` + commonFooter,
	core.WorkflowFeatureAddition: `## {{.Label}}: {{.Title}}

{{with .Description}}{{.}}

{{end}}{{with index .Data "motivation"}}**Motivation:** {{.}}
{{end}}` + commonFooter,
	core.WorkflowRefactor: `## {{.Label}}: {{.Title}}

{{with .Description}}{{.}}

{{end}}No behavior change is intended.
` + commonFooter,
	core.WorkflowGeneral: `## {{.Title}}

{{with .Description}}{{.}}
{{end}}` + commonFooter,
}

// TemplateContext is what pull request templates are executed against.
type TemplateContext struct {
	Title        string
	Description  string
	WorkflowType core.WorkflowType
	Label        string
	Branch       string
	BaseBranch   string
	Changes      []core.FileChange
	Data         map[string]any
}

// Renderer turns a workflow type into a pull request body.
type Renderer struct {
	templates map[core.WorkflowType]*template.Template
}

// NewRenderer parses the built-in templates, replacing any whose workflow
// type appears in overrides.
func NewRenderer(overrides map[core.WorkflowType]string) (*Renderer, error) {
	sources := make(map[core.WorkflowType]string, len(defaultTemplates))
	for workflow, text := range defaultTemplates {
		sources[workflow] = text
	}
	for workflow, text := range overrides {
		if _, err := core.ParseWorkflowType(string(workflow)); err != nil {
			return nil, err
		}
		sources[workflow] = text
	}
	funcs := template.FuncMap{
		"join":  joinAny,
		"title": titleCase,
	}
	renderer := &Renderer{templates: make(map[core.WorkflowType]*template.Template, len(sources))}
	for workflow, text := range sources {
		parsed, err := template.New(string(workflow)).Funcs(funcs).Option("missingkey=zero").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: parse %s template: %w", workflow, err)
		}
		renderer.templates[workflow] = parsed
	}
	return renderer, nil
}

func (r *Renderer) Render(ctx TemplateContext) (string, error) {
	tmpl, ok := r.templates[ctx.WorkflowType]
	if !ok {
		tmpl = r.templates[core.WorkflowGeneral]
	}
	if ctx.Label == "" {
		ctx.Label = WorkflowLabel(ctx.WorkflowType)
	}
	if ctx.Data == nil {
		ctx.Data = map[string]any{}
	}
	var out bytes.Buffer
	if err := tmpl.Execute(&out, ctx); err != nil {
		return "", fmt.Errorf("orchestrator: render %s template: %w", ctx.WorkflowType, err)
	}
	return strings.TrimSpace(out.String()) + "\n", nil
}

// WorkflowLabel turns "bug-fix" into "Bug Fix".
func WorkflowLabel(workflow core.WorkflowType) string {
	return titleCase(strings.ReplaceAll(string(workflow), "-", " "))
}

// titleCase builds a fresh Caser per call; a Caser must not be shared
// between goroutines.
func titleCase(value string) string {
	return cases.Title(language.English).String(value)
}

func joinAny(value any, sep string) string {
	switch typed := value.(type) {
	case []string:
		return strings.Join(typed, sep)
	case []any:
		parts := make([]string, 0, len(typed))
		for _, item := range typed {
			parts = append(parts, fmt.Sprint(item))
		}
		return strings.Join(parts, sep)
	default:
		return fmt.Sprint(value)
	}
}
