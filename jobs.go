package integrations

import (
	"context"
	"fmt"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-integrations/adapters/gojob"
	"github.com/goliatone/go-integrations/adapters/gologger"
	"github.com/goliatone/go-integrations/core"
	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue/worker"
	glog "github.com/goliatone/go-logger/glog"
)

// JobBindings carries what a go-job worker needs to run integration jobs
// with the subsystem's logging and metrics.
type JobBindings struct {
	Hook           worker.Hook
	LoggerProvider job.LoggerProvider
	Logger         job.Logger
}

func (s *Integrations) JobBindings() JobBindings {
	base := s.loggerProvider
	if base == nil {
		base = glog.ProviderFromLogger(s.logger)
	}
	_, _, provider, logger := gologger.ResolveForJob(base, s.logger)
	return JobBindings{
		Hook:           gojob.NewWorkerHookAdapter(s.observe("worker")),
		LoggerProvider: provider,
		Logger:         logger,
	}
}

// ScheduleOutboxDispatch enqueues an outbox drain on the configured queue. A
// batchSize of zero uses the configured batch size.
func (s *Integrations) ScheduleOutboxDispatch(ctx context.Context, batchSize int) error {
	if s.enqueuer == nil {
		return fmt.Errorf("integrations: no job queue configured")
	}
	if batchSize <= 0 {
		batchSize = s.config.Outbox.BatchSize
	}
	if err := s.enqueuer.Enqueue(ctx, gojob.OutboxDispatchMessage(batchSize)); err != nil {
		return core.TransientError(err, "integrations: enqueue outbox dispatch")
	}
	return nil
}

// ExecuteJob runs one go-job message: an outbox drain or a domain event
// published through the queue.
func (s *Integrations) ExecuteJob(ctx context.Context, msg *job.ExecutionMessage) error {
	if msg == nil {
		return core.ValidationError("integrations: job message is required")
	}
	switch strings.TrimSpace(msg.JobID) {
	case gojob.JobIDOutboxDispatch:
		stats, err := s.dispatcher.DispatchPending(ctx, gojob.OutboxBatchSize(msg))
		if err != nil {
			return err
		}
		s.logger.Debug("outbox job drained", "claimed", stats.Claimed, "delivered", stats.Delivered)
		return nil
	case gojob.JobIDDomainEvent:
		event, err := gojob.FromExecutionMessage(msg)
		if err != nil {
			return err
		}
		return s.mux.HandleEvent(ctx, event)
	default:
		return core.NewError("integrations: unknown job "+msg.JobID, goerrors.CategoryBadInput, core.ErrorUnsupportedEvent)
	}
}
