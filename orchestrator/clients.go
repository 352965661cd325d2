package orchestrator

import (
	"context"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/providers/github"
)

type BranchClient interface {
	BranchHead(ctx context.Context, tenantID string, repo core.RepositoryRef, branch string) (string, error)
	CreateBranch(ctx context.Context, tenantID string, repo core.RepositoryRef, branch, sha string) error
	UpdateBranch(ctx context.Context, tenantID string, repo core.RepositoryRef, branch, sha string, force bool) error
	DeleteBranch(ctx context.Context, tenantID string, repo core.RepositoryRef, branch string) error
}

type CommitClient interface {
	GetCommit(ctx context.Context, tenantID string, repo core.RepositoryRef, sha string) (github.Commit, error)
	CreateTree(ctx context.Context, tenantID string, repo core.RepositoryRef, baseTree string, entries []github.TreeEntry) (string, error)
	CreateCommit(ctx context.Context, tenantID string, repo core.RepositoryRef, message, treeSHA string, parents []string) (github.Commit, error)
}

type PullRequestClient interface {
	CreatePullRequest(ctx context.Context, tenantID string, repo core.RepositoryRef, req github.NewPullRequest) (github.PullRequest, error)
	FindOpenPullRequest(ctx context.Context, tenantID string, repo core.RepositoryRef, branch string) (github.PullRequest, bool, error)
	GetPullRequest(ctx context.Context, tenantID string, repo core.RepositoryRef, number int) (github.PullRequest, error)
	MergePullRequest(ctx context.Context, tenantID string, repo core.RepositoryRef, number int, opts github.MergeOptions) (github.MergeResult, error)
	ClosePullRequest(ctx context.Context, tenantID string, repo core.RepositoryRef, number int) (github.PullRequest, error)
	RequestReviewers(ctx context.Context, tenantID string, repo core.RepositoryRef, number int, reviewers []string) error
	AddLabels(ctx context.Context, tenantID string, repo core.RepositoryRef, number int, labels []string) error
}

type StatusClient interface {
	CombinedStatus(ctx context.Context, tenantID string, repo core.RepositoryRef, ref string) (github.CombinedStatus, error)
	ListCheckRuns(ctx context.Context, tenantID string, repo core.RepositoryRef, ref string) ([]github.CheckRun, error)
}

// Client is everything the workflow needs from the Git host.
type Client interface {
	BranchClient
	CommitClient
	PullRequestClient
	StatusClient
}

var _ Client = (*github.Client)(nil)
