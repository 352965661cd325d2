package orchestrator

import (
	"fmt"
	"strings"
)

// Stage is the furthest point a pull request workflow reached.
type Stage string

const (
	StageDraft         Stage = "draft"
	StageBranchCreated Stage = "branch_created"
	StageCommitted     Stage = "committed"
	StagePROpen        Stage = "pr_open"
)

// WorkflowError reports where a workflow stopped and what it left behind on
// the remote, so a caller can retry or clean up. RequestKey is the key the
// branch was named with; resending it resumes the same branch.
type WorkflowError struct {
	Stage      Stage
	Branch     string
	CommitSHA  string
	PRNumber   int
	RequestKey string
	Err        error
}

func (e *WorkflowError) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "orchestrator: workflow stopped at %s", e.Stage)
	if e.Branch != "" {
		fmt.Fprintf(&b, " (branch %s", e.Branch)
		if e.CommitSHA != "" {
			fmt.Fprintf(&b, ", commit %s", e.CommitSHA)
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *WorkflowError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
