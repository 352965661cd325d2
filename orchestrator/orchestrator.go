// Package orchestrator opens autonomous pull requests: branch, one atomic
// commit, pull request, persisted change request, lifecycle events and an
// optional CI-gated auto-merge.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/providers/github"
	"github.com/goliatone/go-integrations/resilience"
	"github.com/google/uuid"
)

type Option func(*Orchestrator)

func WithPolicy(policy *resilience.Policy) Option {
	return func(o *Orchestrator) {
		if policy != nil {
			o.policy = policy
		}
	}
}

func WithPublisher(publisher core.EventPublisher) Option {
	return func(o *Orchestrator) {
		o.publisher = publisher
	}
}

func WithRenderer(renderer *Renderer) Option {
	return func(o *Orchestrator) {
		if renderer != nil {
			o.renderer = renderer
		}
	}
}

func WithObserver(observer core.Observer) Option {
	return func(o *Orchestrator) {
		o.observer = observer
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

type Orchestrator struct {
	cfg       core.OrchestratorConfig
	client    Client
	store     core.ChangeRequestStore
	policy    *resilience.Policy
	publisher core.EventPublisher
	renderer  *Renderer
	observer  core.Observer
	now       func() time.Time

	background context.Context
	stop       context.CancelFunc
	wg         sync.WaitGroup
}

func New(cfg core.OrchestratorConfig, client Client, store core.ChangeRequestStore, opts ...Option) (*Orchestrator, error) {
	if client == nil {
		return nil, fmt.Errorf("orchestrator: git host client is required")
	}
	if store == nil {
		return nil, fmt.Errorf("orchestrator: change request store is required")
	}
	defaults := core.DefaultConfig().Orchestrator
	if strings.TrimSpace(cfg.BranchPrefix) == "" {
		cfg.BranchPrefix = defaults.BranchPrefix
	}
	cfg.BranchPrefix = strings.Trim(strings.TrimSpace(cfg.BranchPrefix), "/")
	cfg.MergeMethod = strings.ToLower(strings.TrimSpace(cfg.MergeMethod))
	if cfg.MergeMethod == "" {
		cfg.MergeMethod = defaults.MergeMethod
	}
	if cfg.CIPollInterval <= 0 {
		cfg.CIPollInterval = defaults.CIPollInterval
	}
	if cfg.AutoMergeTimeout <= 0 {
		cfg.AutoMergeTimeout = defaults.AutoMergeTimeout
	}

	renderer, err := NewRenderer(nil)
	if err != nil {
		return nil, err
	}
	background, stop := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:        cfg,
		client:     client,
		store:      store,
		policy:     resilience.New(core.DefaultConfig().Resilience),
		renderer:   renderer,
		observer:   core.NewObserver(nil, nil, ""),
		now:        func() time.Time { return time.Now().UTC() },
		background: background,
		stop:       stop,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o, nil
}

// Wait blocks until every background auto-merge has finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Stop abandons pending auto-merges, leaving their pull requests open, and
// waits for them to exit.
func (o *Orchestrator) Stop() {
	o.stop()
	o.wg.Wait()
}

// CreatePullRequest runs the workflow. Retrying with the same RequestKey never
// yields a second open pull request for the branch.
func (o *Orchestrator) CreatePullRequest(ctx context.Context, req CreateRequest) (result CreateResult, err error) {
	startedAt := time.Now()
	stage := StageDraft
	defer func() {
		o.observer.Observe(ctx, startedAt, "orchestrator_create", err, map[string]any{
			"tenant_id": strings.TrimSpace(req.TenantID),
			"stage":     string(stage),
			"branch":    result.Branch,
			"pr_number": result.PRNumber,
			"existing":  result.Existing,
		})
	}()

	n, err := o.normalize(req)
	if err != nil {
		return result, &WorkflowError{Stage: stage, Err: err}
	}
	result.Branch = n.branch
	fail := func(err error, commitSHA string, prNumber int) (CreateResult, error) {
		return result, &WorkflowError{
			Stage:      stage,
			Branch:     n.branch,
			CommitSHA:  commitSHA,
			PRNumber:   prNumber,
			RequestKey: n.RequestKey,
			Err:        err,
		}
	}

	existing, found, err := o.store.FindOpenByBranch(ctx, n.TenantID, n.Repository, n.branch)
	if err != nil {
		return fail(err, "", 0)
	}
	if found {
		return existingResult(existing), nil
	}

	baseSHA, err := resilience.Execute(ctx, o.policy, n.TenantID, func(ctx context.Context) (string, error) {
		return o.client.BranchHead(ctx, n.TenantID, n.Repository, n.BaseBranch)
	})
	if err != nil {
		return fail(err, "", 0)
	}

	headSHA, committed, err := o.prepareBranch(ctx, n, baseSHA)
	if err != nil {
		return fail(err, "", 0)
	}
	stage = StageBranchCreated

	if !committed {
		headSHA, err = o.commit(ctx, n, baseSHA)
		if err != nil {
			return fail(err, "", 0)
		}
	}
	stage = StageCommitted

	body, err := o.renderer.Render(TemplateContext{
		Title:        n.Title,
		Description:  strings.TrimSpace(n.Description),
		WorkflowType: n.workflow,
		Branch:       n.branch,
		BaseBranch:   n.BaseBranch,
		Changes:      n.Changes,
		Data:         n.TemplateData,
	})
	if err != nil {
		return fail(err, headSHA, 0)
	}

	pr, err := o.openPullRequest(ctx, n, body)
	if err != nil {
		return fail(err, headSHA, 0)
	}
	stage = StagePROpen

	now := o.now()
	record, err := o.store.Create(ctx, core.AutonomousChangeRequest{
		ID:           uuid.NewString(),
		TenantID:     n.TenantID,
		Repository:   n.Repository,
		BaseBranch:   n.BaseBranch,
		BranchName:   n.branch,
		HeadSHA:      firstNonEmpty(pr.Head.SHA, headSHA),
		PRNumber:     pr.Number,
		PRURL:        pr.HTMLURL,
		Title:        n.Title,
		Description:  body,
		WorkflowType: n.workflow,
		Status:       core.ChangeRequestOpen,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		if core.HasTextCode(err, core.ErrorConflict) {
			if existing, found, lookupErr := o.store.FindOpenByBranch(ctx, n.TenantID, n.Repository, n.branch); lookupErr == nil && found {
				return existingResult(existing), nil
			}
		}
		return fail(err, headSHA, pr.Number)
	}

	o.decorate(ctx, n, pr.Number)
	o.publish(ctx, core.EventAutonomousPRCreated, record)
	if n.AutoMerge {
		o.scheduleAutoMerge(record)
	}

	result = CreateResult{
		Success:  true,
		Request:  record,
		PRNumber: record.PRNumber,
		PRURL:    record.PRURL,
		Branch:   record.BranchName,
	}
	return result, nil
}

// prepareBranch makes the branch exist at the current base. A leftover
// branch from an earlier attempt is resumed when it holds nothing or exactly
// this request's commit on top of the base; anything else is deleted and
// recreated.
func (o *Orchestrator) prepareBranch(ctx context.Context, n normalizedRequest, baseSHA string) (string, bool, error) {
	current, err := resilience.Execute(ctx, o.policy, n.TenantID, func(ctx context.Context) (string, error) {
		return o.client.BranchHead(ctx, n.TenantID, n.Repository, n.branch)
	})
	if core.HasTextCode(err, core.ErrorNotFound) {
		return baseSHA, false, o.createBranch(ctx, n, baseSHA)
	}
	if err != nil {
		return "", false, err
	}
	if current == baseSHA {
		o.observer.Info(ctx, "resuming existing branch", map[string]any{"tenant_id": n.TenantID, "branch": n.branch})
		return current, false, nil
	}

	commit, err := resilience.Execute(ctx, o.policy, n.TenantID, func(ctx context.Context) (github.Commit, error) {
		return o.client.GetCommit(ctx, n.TenantID, n.Repository, current)
	})
	if err != nil {
		return "", false, err
	}
	parents := commit.ParentSHAs()
	if len(parents) == 1 && parents[0] == baseSHA && strings.TrimSpace(commit.Message) == n.CommitMessage {
		o.observer.Info(ctx, "resuming committed branch", map[string]any{"tenant_id": n.TenantID, "branch": n.branch, "commit_sha": current})
		return current, true, nil
	}

	o.observer.Warn(ctx, "recreating stale branch", map[string]any{
		"tenant_id": n.TenantID,
		"branch":    n.branch,
		"head_sha":  current,
		"base_sha":  baseSHA,
	})
	if err := o.run(ctx, n.TenantID, func(ctx context.Context) error {
		return o.client.DeleteBranch(ctx, n.TenantID, n.Repository, n.branch)
	}); err != nil {
		return "", false, err
	}
	return baseSHA, false, o.createBranch(ctx, n, baseSHA)
}

func (o *Orchestrator) createBranch(ctx context.Context, n normalizedRequest, baseSHA string) error {
	return o.run(ctx, n.TenantID, func(ctx context.Context) error {
		return o.client.CreateBranch(ctx, n.TenantID, n.Repository, n.branch, baseSHA)
	})
}

// commit writes every change as one tree and one commit, then fast-forwards
// the branch to it.
func (o *Orchestrator) commit(ctx context.Context, n normalizedRequest, baseSHA string) (string, error) {
	base, err := resilience.Execute(ctx, o.policy, n.TenantID, func(ctx context.Context) (github.Commit, error) {
		return o.client.GetCommit(ctx, n.TenantID, n.Repository, baseSHA)
	})
	if err != nil {
		return "", err
	}
	entries := github.TreeEntriesFromChanges(n.Changes)
	treeSHA, err := resilience.Execute(ctx, o.policy, n.TenantID, func(ctx context.Context) (string, error) {
		return o.client.CreateTree(ctx, n.TenantID, n.Repository, base.TreeSHA(), entries)
	})
	if err != nil {
		return "", err
	}
	commit, err := resilience.Execute(ctx, o.policy, n.TenantID, func(ctx context.Context) (github.Commit, error) {
		return o.client.CreateCommit(ctx, n.TenantID, n.Repository, n.CommitMessage, treeSHA, []string{baseSHA})
	})
	if err != nil {
		return "", err
	}
	if err := o.run(ctx, n.TenantID, func(ctx context.Context) error {
		return o.client.UpdateBranch(ctx, n.TenantID, n.Repository, n.branch, commit.SHA, false)
	}); err != nil {
		return "", err
	}
	return commit.SHA, nil
}

// openPullRequest adopts an already open pull request for the branch before
// creating one.
func (o *Orchestrator) openPullRequest(ctx context.Context, n normalizedRequest, body string) (github.PullRequest, error) {
	find := func() (github.PullRequest, bool, error) {
		var found bool
		pr, err := resilience.Execute(ctx, o.policy, n.TenantID, func(ctx context.Context) (github.PullRequest, error) {
			pr, ok, err := o.client.FindOpenPullRequest(ctx, n.TenantID, n.Repository, n.branch)
			found = ok
			return pr, err
		})
		return pr, found, err
	}

	pr, found, err := find()
	if err != nil {
		return github.PullRequest{}, err
	}
	if found {
		o.observer.Info(ctx, "adopting open pull request", map[string]any{"tenant_id": n.TenantID, "branch": n.branch, "pr_number": pr.Number})
		return pr, nil
	}

	pr, err = resilience.Execute(ctx, o.policy, n.TenantID, func(ctx context.Context) (github.PullRequest, error) {
		return o.client.CreatePullRequest(ctx, n.TenantID, n.Repository, github.NewPullRequest{
			Title: n.Title,
			Body:  body,
			Head:  n.branch,
			Base:  n.BaseBranch,
			Draft: n.Draft,
		})
	})
	if core.HasTextCode(err, core.ErrorConflict) {
		if adopted, ok, findErr := find(); findErr == nil && ok {
			return adopted, nil
		}
	}
	return pr, err
}

// decorate applies reviewers and labels. Failures are logged; the pull
// request already exists.
func (o *Orchestrator) decorate(ctx context.Context, n normalizedRequest, number int) {
	if len(n.Reviewers) > 0 {
		if err := o.run(ctx, n.TenantID, func(ctx context.Context) error {
			return o.client.RequestReviewers(ctx, n.TenantID, n.Repository, number, n.Reviewers)
		}); err != nil {
			o.observer.Warn(ctx, "requesting reviewers failed", map[string]any{"tenant_id": n.TenantID, "pr_number": number, "error": err.Error()})
		}
	}
	if len(n.Labels) > 0 {
		if err := o.run(ctx, n.TenantID, func(ctx context.Context) error {
			return o.client.AddLabels(ctx, n.TenantID, n.Repository, number, n.Labels)
		}); err != nil {
			o.observer.Warn(ctx, "adding labels failed", map[string]any{"tenant_id": n.TenantID, "pr_number": number, "error": err.Error()})
		}
	}
}

func (o *Orchestrator) run(ctx context.Context, tenantID string, fn func(ctx context.Context) error) error {
	_, err := resilience.Execute(ctx, o.policy, tenantID, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func (o *Orchestrator) publish(ctx context.Context, eventType string, record core.AutonomousChangeRequest) {
	if o.publisher == nil {
		return
	}
	event := core.NewDomainEvent(core.TopicAutonomousPR, eventType, record.TenantID, map[string]any{
		"request_id":    record.ID,
		"repository":    record.Repository.FullName(),
		"branch":        record.BranchName,
		"base_branch":   record.BaseBranch,
		"pr_number":     record.PRNumber,
		"pr_url":        record.PRURL,
		"workflow_type": string(record.WorkflowType),
		"status":        string(record.Status),
	}, record.ID)
	if err := o.publisher.Publish(ctx, event); err != nil {
		o.observer.Error(ctx, "publishing pull request event failed", map[string]any{
			"tenant_id":  record.TenantID,
			"event_type": eventType,
			"request_id": record.ID,
			"error":      err.Error(),
		})
	}
}

func existingResult(record core.AutonomousChangeRequest) CreateResult {
	return CreateResult{
		Success:  true,
		Request:  record,
		PRNumber: record.PRNumber,
		PRURL:    record.PRURL,
		Branch:   record.BranchName,
		Existing: true,
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
