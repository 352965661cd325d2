package github

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/ratelimit"
)

const (
	StatusSuccess = "success"
	StatusPending = "pending"
	StatusFailure = "failure"
	StatusError   = "error"
)

type CommitStatus struct {
	State       string `json:"state"`
	Context     string `json:"context"`
	Description string `json:"description"`
	TargetURL   string `json:"target_url"`
}

type CombinedStatus struct {
	State      string         `json:"state"`
	SHA        string         `json:"sha"`
	TotalCount int            `json:"total_count"`
	Statuses   []CommitStatus `json:"statuses"`
}

// Green reports whether every commit status passed. A ref with no statuses
// counts as green here; check runs are judged separately by CIReport.
func (s CombinedStatus) Green() bool {
	return s.State == StatusSuccess || (s.TotalCount == 0 && s.State == StatusPending)
}

// Failed reports whether any check failed or errored.
func (s CombinedStatus) Failed() bool {
	return s.State == StatusFailure || s.State == StatusError
}

func (c *Client) CombinedStatus(ctx context.Context, tenantID string, repo core.RepositoryRef, ref string) (CombinedStatus, error) {
	var status CombinedStatus
	_, err := c.do(ctx, tenantID, call{
		operation: "combined_status",
		method:    http.MethodGet,
		path:      repoPath(repo, "/commits/"+branchPath(ref)+"/status"),
		out:       &status,
	})
	status.State = strings.ToLower(strings.TrimSpace(status.State))
	return status, err
}

const (
	CheckRunCompleted = "completed"

	ConclusionSuccess = "success"
	ConclusionNeutral = "neutral"
	ConclusionSkipped = "skipped"
)

// CheckRun is one GitHub Actions (or other app) check on a commit. Checks
// are not part of the combined status.
type CheckRun struct {
	ID         int64  `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`
	Conclusion string `json:"conclusion"`
}

func (r CheckRun) completed() bool {
	return r.Status == CheckRunCompleted
}

func (r CheckRun) passed() bool {
	switch r.Conclusion {
	case ConclusionSuccess, ConclusionNeutral, ConclusionSkipped:
		return r.completed()
	}
	return false
}

type checkRunsResponse struct {
	TotalCount int        `json:"total_count"`
	CheckRuns  []CheckRun `json:"check_runs"`
}

const checkRunsPageSize = 100

// ListCheckRuns returns the check runs reported for ref, following pages
// until total_count is reached.
func (c *Client) ListCheckRuns(ctx context.Context, tenantID string, repo core.RepositoryRef, ref string) ([]CheckRun, error) {
	var runs []CheckRun
	for page := 1; ; page++ {
		var payload checkRunsResponse
		_, err := c.do(ctx, tenantID, call{
			operation: "list_check_runs",
			method:    http.MethodGet,
			path:      repoPath(repo, "/commits/"+branchPath(ref)+"/check-runs"),
			query: map[string]string{
				"per_page": strconv.Itoa(checkRunsPageSize),
				"page":     strconv.Itoa(page),
			},
			out: &payload,
		})
		if err != nil {
			return nil, err
		}
		for _, run := range payload.CheckRuns {
			run.Status = strings.ToLower(strings.TrimSpace(run.Status))
			run.Conclusion = strings.ToLower(strings.TrimSpace(run.Conclusion))
			runs = append(runs, run)
		}
		if len(payload.CheckRuns) < checkRunsPageSize || len(runs) >= payload.TotalCount {
			return runs, nil
		}
	}
}

// CIReport joins the combined commit status with the check runs of the
// same commit. Both have to pass before a change counts as green.
type CIReport struct {
	Status    CombinedStatus
	CheckRuns []CheckRun
}

// Failed reports whether a status failed or a completed check run did not
// pass.
func (r CIReport) Failed() bool {
	if r.Status.Failed() {
		return true
	}
	for _, run := range r.CheckRuns {
		if run.completed() && !run.passed() {
			return true
		}
	}
	return false
}

// Green reports whether every status and every check run passed. A commit
// with no statuses leaves the decision to its check runs; with neither it
// is green.
func (r CIReport) Green() bool {
	if r.Failed() || !r.Status.Green() {
		return false
	}
	for _, run := range r.CheckRuns {
		if !run.passed() {
			return false
		}
	}
	return true
}

type rateLimitResponse struct {
	Resources struct {
		Core struct {
			Limit     int   `json:"limit"`
			Remaining int   `json:"remaining"`
			Reset     int64 `json:"reset"`
		} `json:"core"`
	} `json:"resources"`
}

// RefreshRateLimit reads the tenant's core budget from GET /rate_limit. The
// endpoint does not count against the budget.
func (c *Client) RefreshRateLimit(ctx context.Context, tenantID string) (ratelimit.Window, error) {
	var payload rateLimitResponse
	_, err := c.do(ctx, tenantID, call{
		operation: "rate_limit",
		method:    http.MethodGet,
		path:      "/rate_limit",
		out:       &payload,
	})
	if err != nil {
		return ratelimit.Window{}, err
	}
	budget := payload.Resources.Core
	return ratelimit.Window{
		TenantID:  tenantID,
		Limit:     budget.Limit,
		Remaining: budget.Remaining,
		ResetAt:   time.Unix(budget.Reset, 0).UTC(),
	}, nil
}

var _ ratelimit.Refresher = (*Client)(nil)
