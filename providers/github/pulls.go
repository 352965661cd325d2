package github

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
)

type PullRequestBranch struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

type PullRequest struct {
	Number    int               `json:"number"`
	State     string            `json:"state"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	HTMLURL   string            `json:"html_url"`
	Draft     bool              `json:"draft"`
	Merged    bool              `json:"merged"`
	Mergeable *bool             `json:"mergeable"`
	MergedAt  *time.Time        `json:"merged_at"`
	Head      PullRequestBranch `json:"head"`
	Base      PullRequestBranch `json:"base"`
}

type NewPullRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Head  string `json:"head"`
	Base  string `json:"base"`
	Draft bool   `json:"draft"`
}

type MergeOptions struct {
	Method      string `json:"merge_method,omitempty"`
	SHA         string `json:"sha,omitempty"`
	CommitTitle string `json:"commit_title,omitempty"`
}

type MergeResult struct {
	SHA     string `json:"sha"`
	Merged  bool   `json:"merged"`
	Message string `json:"message"`
}

func pullPath(repo core.RepositoryRef, number int) string {
	return repoPath(repo, "/pulls/"+strconv.Itoa(number))
}

func (c *Client) CreatePullRequest(ctx context.Context, tenantID string, repo core.RepositoryRef, req NewPullRequest) (PullRequest, error) {
	var pr PullRequest
	res, err := c.do(ctx, tenantID, call{
		operation: "create_pull",
		method:    http.MethodPost,
		path:      repoPath(repo, "/pulls"),
		body:      req,
		out:       &pr,
	})
	if err != nil && validationFailed(res, "a pull request already exists") {
		return PullRequest{}, core.ConflictError(fmt.Sprintf("github: a pull request for %s already exists", req.Head))
	}
	return pr, err
}

// FindOpenPullRequest looks up the open pull request whose head is branch.
func (c *Client) FindOpenPullRequest(ctx context.Context, tenantID string, repo core.RepositoryRef, branch string) (PullRequest, bool, error) {
	var pulls []PullRequest
	_, err := c.do(ctx, tenantID, call{
		operation: "list_pulls",
		method:    http.MethodGet,
		path:      repoPath(repo, "/pulls"),
		query: map[string]string{
			"state": "open",
			"head":  strings.TrimSpace(repo.Owner) + ":" + strings.TrimSpace(branch),
		},
		out: &pulls,
	})
	if err != nil {
		return PullRequest{}, false, err
	}
	for _, pr := range pulls {
		if pr.Head.Ref == strings.TrimSpace(branch) {
			return pr, true, nil
		}
	}
	return PullRequest{}, false, nil
}

func (c *Client) GetPullRequest(ctx context.Context, tenantID string, repo core.RepositoryRef, number int) (PullRequest, error) {
	var pr PullRequest
	_, err := c.do(ctx, tenantID, call{
		operation: "get_pull",
		method:    http.MethodGet,
		path:      pullPath(repo, number),
		out:       &pr,
	})
	return pr, err
}

// MergePullRequest merges number. A pull request GitHub refuses to merge, or
// whose head moved past opts.SHA, is a conflict.
func (c *Client) MergePullRequest(ctx context.Context, tenantID string, repo core.RepositoryRef, number int, opts MergeOptions) (MergeResult, error) {
	var result MergeResult
	res, err := c.do(ctx, tenantID, call{
		operation: "merge_pull",
		method:    http.MethodPut,
		path:      pullPath(repo, number) + "/merge",
		body:      opts,
		out:       &result,
	})
	if err != nil && (res.StatusCode == http.StatusMethodNotAllowed || res.StatusCode == http.StatusConflict) {
		return MergeResult{}, core.ConflictError(fmt.Sprintf("github: pull request #%d cannot be merged", number))
	}
	return result, err
}

func (c *Client) ClosePullRequest(ctx context.Context, tenantID string, repo core.RepositoryRef, number int) (PullRequest, error) {
	var pr PullRequest
	_, err := c.do(ctx, tenantID, call{
		operation: "close_pull",
		method:    http.MethodPatch,
		path:      pullPath(repo, number),
		body:      map[string]string{"state": "closed"},
		out:       &pr,
	})
	return pr, err
}

func (c *Client) RequestReviewers(ctx context.Context, tenantID string, repo core.RepositoryRef, number int, reviewers []string) error {
	if len(reviewers) == 0 {
		return nil
	}
	_, err := c.do(ctx, tenantID, call{
		operation: "request_reviewers",
		method:    http.MethodPost,
		path:      pullPath(repo, number) + "/requested_reviewers",
		body:      map[string][]string{"reviewers": reviewers},
	})
	return err
}

// AddLabels labels a pull request through the issues API.
func (c *Client) AddLabels(ctx context.Context, tenantID string, repo core.RepositoryRef, number int, labels []string) error {
	if len(labels) == 0 {
		return nil
	}
	_, err := c.do(ctx, tenantID, call{
		operation: "add_labels",
		method:    http.MethodPost,
		path:      repoPath(repo, "/issues/"+strconv.Itoa(number)+"/labels"),
		body:      map[string][]string{"labels": labels},
	})
	return err
}
