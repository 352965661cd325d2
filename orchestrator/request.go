package orchestrator

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/goliatone/go-integrations/core"
	"github.com/google/uuid"
	"golang.org/x/text/unicode/norm"
)

const maxBranchSlug = 40

// CreateRequest asks for one autonomous pull request. Changes are applied in
// order as a single commit.
type CreateRequest struct {
	TenantID      string
	Repository    core.RepositoryRef
	BaseBranch    string
	BranchPrefix  string
	Title         string
	Description   string
	WorkflowType  string
	Changes       []core.FileChange
	TemplateData  map[string]any
	CommitMessage string
	Reviewers     []string
	Labels        []string
	Draft         bool
	AutoMerge     bool
	// RequestKey disambiguates the branch name. Reusing a key retries the
	// same workflow; empty keys get a fresh one.
	RequestKey string
}

type CreateResult struct {
	Success  bool
	Request  core.AutonomousChangeRequest
	PRNumber int
	PRURL    string
	Branch   string
	// Existing is set when an open request for the branch was returned
	// instead of creating a new one.
	Existing bool
}

type normalizedRequest struct {
	CreateRequest
	workflow core.WorkflowType
	branch   string
}

func (o *Orchestrator) normalize(req CreateRequest) (normalizedRequest, error) {
	req.TenantID = strings.TrimSpace(req.TenantID)
	if err := core.ValidateTenantID(req.TenantID); err != nil {
		return normalizedRequest{}, core.ValidationError(err.Error())
	}
	req.Repository = core.RepositoryRef{
		Owner: strings.TrimSpace(req.Repository.Owner),
		Name:  strings.TrimSpace(req.Repository.Name),
	}
	if err := req.Repository.Validate(); err != nil {
		return normalizedRequest{}, core.ValidationError(err.Error())
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return normalizedRequest{}, core.ValidationError("orchestrator: title is required")
	}
	if len(req.Changes) == 0 {
		return normalizedRequest{}, core.ValidationError("orchestrator: at least one file change is required")
	}
	seen := make(map[string]struct{}, len(req.Changes))
	for i, change := range req.Changes {
		if err := change.Validate(); err != nil {
			return normalizedRequest{}, core.ValidationError(fmt.Sprintf("orchestrator: change %d: %v", i, err))
		}
		path := strings.TrimSpace(change.Path)
		if _, dup := seen[path]; dup {
			return normalizedRequest{}, core.ValidationError(fmt.Sprintf("orchestrator: path %q is changed twice", path))
		}
		seen[path] = struct{}{}
	}
	workflow, err := core.ParseWorkflowType(req.WorkflowType)
	if err != nil {
		return normalizedRequest{}, core.ValidationError(err.Error())
	}
	req.BaseBranch = strings.TrimSpace(req.BaseBranch)
	if req.BaseBranch == "" {
		req.BaseBranch = "main"
	}
	req.BranchPrefix = strings.Trim(strings.TrimSpace(req.BranchPrefix), "/")
	if req.BranchPrefix == "" {
		req.BranchPrefix = o.cfg.BranchPrefix
	}
	req.RequestKey = strings.TrimSpace(req.RequestKey)
	if req.RequestKey == "" {
		req.RequestKey = uuid.NewString()[:8]
	}
	req.CommitMessage = strings.TrimSpace(req.CommitMessage)
	if req.CommitMessage == "" {
		req.CommitMessage = req.Title
	}

	branch := BranchName(req.BranchPrefix, workflow, req.Title, req.RequestKey)
	if branch == req.BaseBranch {
		return normalizedRequest{}, core.ValidationError("orchestrator: branch must differ from the base branch")
	}
	return normalizedRequest{CreateRequest: req, workflow: workflow, branch: branch}, nil
}

// BranchName builds "<prefix>/<workflow>-<title slug>-<key>". The same inputs
// always yield the same name.
func BranchName(prefix string, workflow core.WorkflowType, title, key string) string {
	parts := []string{string(workflow)}
	if slug := slugify(title, maxBranchSlug); slug != "" {
		parts = append(parts, slug)
	}
	if slug := slugify(key, maxBranchSlug); slug != "" {
		parts = append(parts, slug)
	}
	name := strings.Join(parts, "-")
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// slugify folds accents away and keeps lowercase ASCII letters and digits
// separated by single dashes.
func slugify(value string, limit int) string {
	var b strings.Builder
	dash := false
	for _, r := range norm.NFKD.String(value) {
		switch {
		case unicode.Is(unicode.Mn, r):
			continue
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(unicode.ToLower(r))
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
		if b.Len() >= limit {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}
