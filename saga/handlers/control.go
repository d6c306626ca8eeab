package handlers

import (
	"context"

	"github.com/go-foreman/conductor/log"
	"github.com/go-foreman/conductor/pubsub/dispatcher"
	"github.com/go-foreman/conductor/pubsub/message/execution"
	sagaPkg "github.com/go-foreman/conductor/saga"
	"github.com/pkg/errors"
)

//go:generate mockgen --build_flags=--mod=mod -destination ../../testing/mocks/saga/handlers/runner.go -package handlers . JobRunner

// JobRunner runs a single saga job, saga.Runner implements it
type JobRunner interface {
	ExecuteStep(ctx context.Context, job sagaPkg.ExecuteJob) error
	Compensate(ctx context.Context, job sagaPkg.CompensateJob) error
	Timeout(ctx context.Context, job sagaPkg.TimeoutJob) error
}

func NewSagaControlHandler(runner JobRunner) *SagaControlHandler {
	return &SagaControlHandler{runner: runner}
}

// SagaControlHandler executes saga jobs received from the queue
type SagaControlHandler struct {
	runner JobRunner
}

// Subscribe registers the handler for all saga jobs
func (h *SagaControlHandler) Subscribe(d dispatcher.Dispatcher) {
	d.Subscribe(sagaPkg.ExecuteJobName, h.Handle)
	d.Subscribe(sagaPkg.CompensateJobName, h.Handle)
	d.Subscribe(sagaPkg.TimeoutJobName, h.Handle)
}

func (h *SagaControlHandler) Handle(execCtx execution.JobExecutionCtx) error {
	job := execCtx.Job()
	logger := execCtx.Logger()

	traceID := job.Headers.TraceID()
	if traceID == "" {
		traceID = job.ID
	}

	// jobs sent while handling this one share its trace
	ctx := withTraceID(execCtx.Context(), traceID)

	switch payload := job.Payload.(type) {
	case sagaPkg.ExecuteJob:
		logger.Logf(log.DebugLevel, "executing step %d of saga %s", payload.StepIndex, payload.SagaID)

		if err := h.runner.ExecuteStep(ctx, payload); err != nil {
			return errors.Wrapf(err, "executing step %d of saga %s", payload.StepIndex, payload.SagaID)
		}
	case sagaPkg.CompensateJob:
		logger.Logf(log.DebugLevel, "compensating saga %s from step %d", payload.SagaID, payload.FromStepIndex)

		if err := h.runner.Compensate(ctx, payload); err != nil {
			return errors.Wrapf(err, "compensating saga %s", payload.SagaID)
		}
	case sagaPkg.TimeoutJob:
		logger.Logf(log.DebugLevel, "checking timeout of saga %s", payload.SagaID)

		if err := h.runner.Timeout(ctx, payload); err != nil {
			return errors.Wrapf(err, "handling timeout of saga %s", payload.SagaID)
		}
	default:
		// redelivery won't change the payload type
		logger.Logf(log.ErrorLevel, "job %s %s has unexpected payload %T, skipping it", job.ID, job.Name, job.Payload)
	}

	return nil
}
