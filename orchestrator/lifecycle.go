package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-integrations/core"
	"github.com/goliatone/go-integrations/providers/github"
	"github.com/goliatone/go-integrations/resilience"
)

// Get returns the change request only when it belongs to tenantID.
func (o *Orchestrator) Get(ctx context.Context, tenantID, requestID string) (core.AutonomousChangeRequest, error) {
	if err := core.ValidateTenantID(tenantID); err != nil {
		return core.AutonomousChangeRequest{}, core.ValidationError(err.Error())
	}
	if strings.TrimSpace(requestID) == "" {
		return core.AutonomousChangeRequest{}, core.ValidationError("orchestrator: request id is required")
	}
	return o.store.Get(ctx, strings.TrimSpace(tenantID), strings.TrimSpace(requestID))
}

// Merge merges the pull request behind a tenant's change request.
func (o *Orchestrator) Merge(ctx context.Context, tenantID, requestID string) (record core.AutonomousChangeRequest, err error) {
	startedAt := time.Now()
	defer func() {
		o.observer.Observe(ctx, startedAt, "orchestrator_merge", err, map[string]any{
			"tenant_id":  tenantID,
			"request_id": requestID,
			"pr_number":  record.PRNumber,
		})
	}()

	record, err = o.Get(ctx, tenantID, requestID)
	if err != nil {
		return record, err
	}
	return o.merge(ctx, record)
}

// Close closes the pull request and removes its branch.
func (o *Orchestrator) Close(ctx context.Context, tenantID, requestID string) (record core.AutonomousChangeRequest, err error) {
	startedAt := time.Now()
	defer func() {
		o.observer.Observe(ctx, startedAt, "orchestrator_close", err, map[string]any{
			"tenant_id":  tenantID,
			"request_id": requestID,
			"pr_number":  record.PRNumber,
		})
	}()

	record, err = o.Get(ctx, tenantID, requestID)
	if err != nil {
		return record, err
	}
	if err := ensureActive(record); err != nil {
		return record, err
	}

	if _, err := resilience.Execute(ctx, o.policy, record.TenantID, func(ctx context.Context) (github.PullRequest, error) {
		return o.client.ClosePullRequest(ctx, record.TenantID, record.Repository, record.PRNumber)
	}); err != nil {
		return record, err
	}
	if err := o.run(ctx, record.TenantID, func(ctx context.Context) error {
		return o.client.DeleteBranch(ctx, record.TenantID, record.Repository, record.BranchName)
	}); err != nil {
		o.observer.Warn(ctx, "deleting branch after close failed", map[string]any{
			"tenant_id": record.TenantID,
			"branch":    record.BranchName,
			"error":     err.Error(),
		})
	}
	return o.transition(ctx, record, core.ChangeRequestClosed, core.EventAutonomousPRClosed)
}

func (o *Orchestrator) merge(ctx context.Context, record core.AutonomousChangeRequest) (core.AutonomousChangeRequest, error) {
	if err := ensureActive(record); err != nil {
		return record, err
	}

	pr, err := resilience.Execute(ctx, o.policy, record.TenantID, func(ctx context.Context) (github.PullRequest, error) {
		return o.client.GetPullRequest(ctx, record.TenantID, record.Repository, record.PRNumber)
	})
	if err != nil {
		return record, err
	}
	switch {
	case pr.Merged:
		// merged outside the workflow; only the row is behind
	case pr.State == "closed":
		return record, core.ConflictError(fmt.Sprintf("orchestrator: pull request #%d was closed remotely", pr.Number))
	default:
		result, err := resilience.Execute(ctx, o.policy, record.TenantID, func(ctx context.Context) (github.MergeResult, error) {
			return o.client.MergePullRequest(ctx, record.TenantID, record.Repository, record.PRNumber, github.MergeOptions{
				Method: o.cfg.MergeMethod,
				SHA:    firstNonEmpty(pr.Head.SHA, record.HeadSHA),
			})
		})
		if err != nil {
			return record, err
		}
		if !result.Merged {
			return record, core.ConflictError(fmt.Sprintf("orchestrator: pull request #%d was not merged: %s", record.PRNumber, result.Message))
		}
	}
	return o.transition(ctx, record, core.ChangeRequestMerged, core.EventAutonomousPRMerged)
}

func (o *Orchestrator) transition(
	ctx context.Context,
	record core.AutonomousChangeRequest,
	status core.ChangeRequestStatus,
	eventType string,
) (core.AutonomousChangeRequest, error) {
	if err := record.TransitionTo(status, o.now()); err != nil {
		return record, err
	}
	updated, err := o.store.Update(ctx, record)
	if err != nil {
		return record, err
	}
	if eventType != "" {
		o.publish(ctx, eventType, updated)
	}
	return updated, nil
}

func ensureActive(record core.AutonomousChangeRequest) error {
	switch record.Status {
	case core.ChangeRequestOpen, core.ChangeRequestFailed:
		return nil
	default:
		return core.ConflictError(fmt.Sprintf("orchestrator: change request %s is already %s", record.ID, record.Status))
	}
}

func (o *Orchestrator) scheduleAutoMerge(record core.AutonomousChangeRequest) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		ctx, cancel := context.WithTimeout(o.background, o.cfg.AutoMergeTimeout)
		defer cancel()
		o.autoMerge(ctx, record)
	}()
}

// autoMerge polls the commit statuses and check runs of the head commit and
// merges once both are green. A red status marks the request failed; running out of time
// leaves the pull request open for a human.
func (o *Orchestrator) autoMerge(ctx context.Context, record core.AutonomousChangeRequest) {
	startedAt := time.Now()
	var err error
	outcome := "timeout"
	defer func() {
		o.observer.Observe(ctx, startedAt, "orchestrator_auto_merge", err, map[string]any{
			"tenant_id":  record.TenantID,
			"request_id": record.ID,
			"pr_number":  record.PRNumber,
			"outcome":    outcome,
		})
	}()

	ticker := time.NewTicker(o.cfg.CIPollInterval)
	defer ticker.Stop()
	for {
		if current, getErr := o.store.Get(ctx, record.TenantID, record.ID); getErr == nil {
			if current.Status != core.ChangeRequestOpen {
				outcome = "superseded"
				return
			}
			record = current
		}

		report, reportErr := o.ciReport(ctx, record)
		switch {
		case reportErr != nil:
			if !core.IsRetryable(reportErr) && !core.IsCircuitOpen(reportErr) && ctx.Err() == nil {
				outcome = "error"
				err = reportErr
				return
			}
		case report.Failed():
			outcome = "ci_failed"
			_, err = o.transition(ctx, record, core.ChangeRequestFailed, "")
			return
		case report.Green():
			outcome = "merged"
			_, err = o.merge(ctx, record)
			switch {
			case core.HasTextCode(err, core.ErrorConflict):
				outcome = "rejected"
				if _, markErr := o.transition(ctx, record, core.ChangeRequestFailed, ""); markErr != nil {
					o.observer.Warn(ctx, "marking rejected merge failed", map[string]any{"request_id": record.ID, "error": markErr.Error()})
				}
			case err != nil:
				outcome = "error"
			}
			return
		}

		select {
		case <-ctx.Done():
			o.observer.Info(context.Background(), "auto-merge window elapsed, leaving pull request open", map[string]any{
				"tenant_id": record.TenantID,
				"pr_number": record.PRNumber,
			})
			return
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) ciReport(ctx context.Context, record core.AutonomousChangeRequest) (github.CIReport, error) {
	status, err := resilience.Execute(ctx, o.policy, record.TenantID, func(ctx context.Context) (github.CombinedStatus, error) {
		return o.client.CombinedStatus(ctx, record.TenantID, record.Repository, record.HeadSHA)
	})
	if err != nil {
		return github.CIReport{}, err
	}
	runs, err := resilience.Execute(ctx, o.policy, record.TenantID, func(ctx context.Context) ([]github.CheckRun, error) {
		return o.client.ListCheckRuns(ctx, record.TenantID, record.Repository, record.HeadSHA)
	})
	if err != nil {
		return github.CIReport{}, err
	}
	return github.CIReport{Status: status, CheckRuns: runs}, nil
}
