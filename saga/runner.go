package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/go-foreman/conductor/log"
	"github.com/go-foreman/conductor/saga/mutex"
	"github.com/pkg/errors"
)

// Runner handles jobs of sagas: it executes steps, compensates them and enforces saga timeouts.
// All handlers of the same saga are serialized by the mutex.
type Runner struct {
	registry   *Registry
	store      Store
	dispatcher JobDispatcher
	mutex      mutex.Mutex
	logger     log.Logger
	options
}

func NewRunner(registry *Registry, store Store, dispatcher JobDispatcher, sagaMutex mutex.Mutex, logger log.Logger, opts ...Opt) *Runner {
	return &Runner{
		registry:   registry,
		store:      store,
		dispatcher: dispatcher,
		mutex:      sagaMutex,
		logger:     logger,
		options:    newOptions(opts),
	}
}

// ExecuteStep runs a single attempt of a step. Stale and duplicated jobs are no-ops.
func (r *Runner) ExecuteStep(ctx context.Context, job ExecuteJob) error {
	return r.withLock(ctx, job.SagaID, func() error {
		return r.executeStep(ctx, job)
	})
}

// Compensate unwinds completed steps in reverse order
func (r *Runner) Compensate(ctx context.Context, job CompensateJob) error {
	return r.withLock(ctx, job.SagaID, func() error {
		return r.compensate(ctx, job)
	})
}

// Timeout fails a saga that has not finished in time and starts its compensation
func (r *Runner) Timeout(ctx context.Context, job TimeoutJob) error {
	return r.withLock(ctx, job.SagaID, func() error {
		return r.timeout(ctx, job)
	})
}

func (r *Runner) withLock(ctx context.Context, sagaID string, handle func() error) error {
	lock, err := r.mutex.Lock(ctx, sagaID)
	if err != nil {
		return errors.Wrapf(err, "locking saga %s", sagaID)
	}

	defer func() {
		// the job context may be done already, the lock must be released anyway
		if err := lock.Release(context.Background()); err != nil {
			r.logger.Logf(log.ErrorLevel, "releasing lock of saga %s: %s", sagaID, err)
		}
	}()

	return handle()
}

func (r *Runner) executeStep(ctx context.Context, job ExecuteJob) error {
	logger := r.logger.WithFields(log.Fields{"sagaId": job.SagaID, "stepIndex": job.StepIndex})

	instance, err := r.store.GetByID(ctx, job.SagaID)
	if err != nil {
		return errors.Wrapf(err, "getting saga %s", job.SagaID)
	}

	if instance == nil {
		logger.Log(log.WarnLevel, "saga not found, skipping execute job")
		return nil
	}

	if !instance.Status.Active() {
		if step := instance.Step(job.StepIndex); step != nil && compensationMayBeLost(instance, step) {
			logger.Logf(log.InfoLevel, "saga is %s with step %s, sending compensate job again", instance.Status, step.Status)
			return r.resumeCompensation(ctx, instance)
		}

		logger.Logf(log.DebugLevel, "saga is %s, skipping execute job", instance.Status)
		return nil
	}

	def, ok := r.registry.Get(instance.Type)
	if !ok {
		return r.failSaga(ctx, nil, instance, fmt.Sprintf("saga type %s is not registered", instance.Type), logger)
	}

	if len(def.Steps) != instance.TotalSteps {
		return r.failSaga(ctx, &def, instance, fmt.Sprintf("definition of saga %s has %d steps, instance has %d", def.Type, len(def.Steps), instance.TotalSteps), logger)
	}

	// every step is completed already, the saga failed preparing its output and has been retried
	if instance.CurrentStepIndex >= instance.TotalSteps {
		if job.StepIndex != instance.CurrentStepIndex {
			logger.Logf(log.DebugLevel, "saga is at step %d, skipping stale execute job", instance.CurrentStepIndex)
			return nil
		}

		return r.completeSaga(ctx, def, instance, nil, logger)
	}

	step := instance.Step(job.StepIndex)
	if step == nil {
		logger.Logf(log.WarnLevel, "step is out of range of %d steps, skipping execute job", instance.TotalSteps)
		return nil
	}

	switch step.Status {
	case StepStatusFailed:
		if def.Steps[step.StepIndex].Skippable && instance.CurrentStepIndex == step.StepIndex+1 {
			logger.Log(log.InfoLevel, "skippable step has failed already, saga has moved on")
			return r.resendNextStep(ctx, instance, step, logger)
		}

		logger.Log(log.DebugLevel, "step has failed already, skipping execute job")
		return nil
	case StepStatusCompensated:
		logger.Log(log.DebugLevel, "step is compensated already, skipping execute job")
		return nil
	case StepStatusCompleted:
		return r.resumeCompletedStep(ctx, def, instance, step, logger)
	}

	if job.StepIndex != instance.CurrentStepIndex {
		logger.Logf(log.DebugLevel, "saga is at step %d, skipping stale execute job", instance.CurrentStepIndex)
		return nil
	}

	stepDef := def.Steps[step.StepIndex]
	ec := newExecutionContext(instance, step)

	if stepDef.IdempotencyKey != nil {
		ec.IdempotencyKey = stepDef.IdempotencyKey(instance.Input, ec)

		if step.Status == StepStatusRunning && step.IdempotencyKey != "" && step.IdempotencyKey == ec.IdempotencyKey {
			logger.Logf(log.WarnLevel, "duplicate execution of step %s with idempotency key %s", step.Name, ec.IdempotencyKey)
		}
	}

	now := r.clock()

	instance.Status = StatusRunning
	if instance.StartedAt == nil {
		instance.StartedAt = timePtr(now)
	}
	instance.touch(now)

	step.Status = StepStatusRunning
	step.Input = instance.Input
	step.IdempotencyKey = ec.IdempotencyKey
	step.StartedAt = timePtr(now)
	step.CompletedAt = nil

	updated, err := r.store.Update(ctx, instance, []*StepInstance{step}, StatusPending, StatusRunning)
	if err != nil {
		return errors.Wrapf(err, "marking step %d of saga %s running", step.StepIndex, instance.ID)
	}

	if !updated {
		logger.Log(log.InfoLevel, "saga has changed its status concurrently, skipping execute job")
		return nil
	}

	result := r.invokeExecute(ctx, stepDef, instance.Input, ec)

	// the worker is shutting down or has given up on the job, it will be redelivered
	if ctx.Err() != nil {
		return errors.Wrapf(ctx.Err(), "executing step %d of saga %s", step.StepIndex, instance.ID)
	}

	duration := r.clock().Sub(now)

	if result.Success {
		r.metrics.StepExecuted(instance.Type, step.Name, StepOutcomeSucceeded, duration)

		completedAt := r.clock()
		step.Status = StepStatusCompleted
		step.Output = result.Output
		step.Error = ""
		step.CompletedAt = timePtr(completedAt)
		instance.Context = instance.Context.Merge(result.Output)

		logger.Log(log.DebugLevel, "step completed")

		return r.proceed(ctx, def, instance, step, logger)
	}

	return r.handleStepFailure(ctx, def, instance, step, result, duration, logger)
}

// resumeCompletedStep handles a redelivered job of a step that has been completed already
func (r *Runner) resumeCompletedStep(ctx context.Context, def Definition, instance *Instance, step *StepInstance, logger log.Logger) error {
	switch instance.CurrentStepIndex {
	case step.StepIndex:
		logger.Log(log.InfoLevel, "step is already completed, resuming saga")
		return r.proceed(ctx, def, instance, step, logger)
	case step.StepIndex + 1:
		return r.resendNextStep(ctx, instance, step, logger)
	}

	logger.Log(log.DebugLevel, "step is already completed, skipping execute job")

	return nil
}

// resendNextStep dispatches the step after the given one again if it has not started yet.
// The saga has advanced past the step, but sending the next job may have failed.
func (r *Runner) resendNextStep(ctx context.Context, instance *Instance, step *StepInstance, logger log.Logger) error {
	next := instance.Step(step.StepIndex + 1)
	if next == nil || next.Status != StepStatusPending || next.RetryCount != 0 {
		logger.Log(log.DebugLevel, "next step has started already, skipping execute job")
		return nil
	}

	logger.Log(log.InfoLevel, "next step has not started, dispatching it again")

	if err := r.dispatcher.Send(ctx, newExecuteJob(instance.ID, next.StepIndex)); err != nil {
		return errors.Wrapf(err, "sending %s job of saga %s", ExecuteJobName, instance.ID)
	}

	return nil
}

// resumeCompensation sends the compensate job of the saga again. The status is stored before the job is sent,
// so the job may have been lost. Compensation tolerates repeated jobs.
func (r *Runner) resumeCompensation(ctx context.Context, instance *Instance) error {
	if err := r.dispatcher.Send(ctx, newCompensateJob(instance.ID, instance.lastCompletedStep())); err != nil {
		return errors.Wrapf(err, "sending %s job of saga %s", CompensateJobName, instance.ID)
	}

	return nil
}

// compensationMayBeLost reports whether the step still waits for a compensate job that nobody may have sent:
// the saga is compensating after the step failed or completed, or the step completed after compensation ended
func compensationMayBeLost(instance *Instance, step *StepInstance) bool {
	switch instance.Status {
	case StatusCompensating:
		return step.Status == StepStatusFailed || step.Status == StepStatusCompleted
	case StatusCompensated, StatusCancelled:
		// a completed step with an error has had its compensation attempted already
		return step.Status == StepStatusCompleted && step.Error == ""
	}

	return false
}

// proceed advances the saga past the step: it completes the saga after the last step or dispatches the next one
func (r *Runner) proceed(ctx context.Context, def Definition, instance *Instance, step *StepInstance, logger log.Logger) error {
	if step.StepIndex >= instance.TotalSteps-1 {
		return r.completeSaga(ctx, def, instance, step, logger)
	}

	instance.CurrentStepIndex = step.StepIndex + 1
	instance.touch(r.clock())

	updated, err := r.store.Update(ctx, instance, []*StepInstance{step}, StatusPending, StatusRunning)
	if err != nil {
		return errors.Wrapf(err, "advancing saga %s to step %d", instance.ID, instance.CurrentStepIndex)
	}

	if !updated {
		return r.persistStraggler(ctx, instance.ID, step, logger)
	}

	if err := r.dispatcher.Send(ctx, newExecuteJob(instance.ID, instance.CurrentStepIndex)); err != nil {
		return errors.Wrapf(err, "sending %s job of saga %s", ExecuteJobName, instance.ID)
	}

	return nil
}

func (r *Runner) completeSaga(ctx context.Context, def Definition, instance *Instance, step *StepInstance, logger log.Logger) error {
	ec := ExecutionContext{
		SagaID:        instance.ID,
		SagaType:      instance.Type,
		CorrelationID: instance.CorrelationID,
		StepIndex:     instance.TotalSteps,
		Input:         instance.Input.Clone(),
		Data:          instance.Context.Clone(),
	}

	output, err := prepareOutput(def, ec)
	if err != nil {
		// a retry must not execute the last step again
		instance.CurrentStepIndex = instance.TotalSteps

		var steps []*StepInstance
		if step != nil {
			steps = append(steps, step)
		}

		if _, uErr := r.store.Update(ctx, instance, steps, StatusPending, StatusRunning); uErr != nil {
			return errors.Wrapf(uErr, "persisting last step of saga %s", instance.ID)
		}

		return r.failSaga(ctx, &def, instance, fmt.Sprintf("preparing output: %s", err), logger)
	}

	now := r.clock()

	instance.Status = StatusCompleted
	instance.Output = output
	instance.CurrentStepIndex = instance.TotalSteps
	instance.CompletedAt = timePtr(now)
	instance.touch(now)

	var steps []*StepInstance
	if step != nil {
		steps = append(steps, step)
	}

	updated, err := r.store.Update(ctx, instance, steps, StatusPending, StatusRunning)
	if err != nil {
		return errors.Wrapf(err, "completing saga %s", instance.ID)
	}

	if !updated {
		if step == nil {
			return nil
		}
		return r.persistStraggler(ctx, instance.ID, step, logger)
	}

	r.metrics.SagaFinished(instance.Type, StatusCompleted)
	logger.Log(log.InfoLevel, "saga completed")

	r.callHook(ctx, "onCompleted", def.OnCompleted, instance, logger)

	return nil
}

func (r *Runner) handleStepFailure(ctx context.Context, def Definition, instance *Instance, step *StepInstance, result StepResult, duration time.Duration, logger log.Logger) error {
	stepDef := def.Steps[step.StepIndex]
	policy := stepDef.retryPolicy()
	errMsg := errorMessage(result.Error, "step failed")
	now := r.clock()

	if result.ShouldRetry && step.RetryCount < policy.MaxRetries {
		r.metrics.StepExecuted(instance.Type, step.Name, StepOutcomeRetried, duration)

		delay := policy.delay(step.RetryCount)

		step.RetryCount++
		step.Status = StepStatusPending
		step.Error = errMsg
		instance.touch(now)

		updated, err := r.store.Update(ctx, instance, []*StepInstance{step}, StatusPending, StatusRunning)
		if err != nil {
			return errors.Wrapf(err, "scheduling retry of step %d of saga %s", step.StepIndex, instance.ID)
		}

		if !updated {
			return r.persistStraggler(ctx, instance.ID, step, logger)
		}

		job := newExecuteJob(instance.ID, step.StepIndex)
		job.StartAfter = timePtr(now.Add(delay))

		if err := r.dispatcher.Send(ctx, job); err != nil {
			return errors.Wrapf(err, "sending retry of step %d of saga %s", step.StepIndex, instance.ID)
		}

		logger.Logf(log.InfoLevel, "step failed: %s. Retry %d/%d in %s", errMsg, step.RetryCount, policy.MaxRetries, delay)

		return nil
	}

	step.Status = StepStatusFailed
	step.Error = errMsg
	step.CompletedAt = timePtr(now)

	if stepDef.Skippable {
		r.metrics.StepExecuted(instance.Type, step.Name, StepOutcomeSkipped, duration)
		logger.Logf(log.WarnLevel, "skippable step failed: %s. Proceeding", errMsg)

		return r.proceed(ctx, def, instance, step, logger)
	}

	r.metrics.StepExecuted(instance.Type, step.Name, StepOutcomeFailed, duration)

	instance.Status = StatusCompensating
	instance.Error = errMsg
	instance.touch(now)

	updated, err := r.store.Update(ctx, instance, []*StepInstance{step}, StatusPending, StatusRunning)
	if err != nil {
		return errors.Wrapf(err, "failing step %d of saga %s", step.StepIndex, instance.ID)
	}

	if !updated {
		return r.persistStraggler(ctx, instance.ID, step, logger)
	}

	logger.Logf(log.WarnLevel, "step failed: %s. Compensating saga", errMsg)

	if err := r.dispatcher.Send(ctx, newCompensateJob(instance.ID, step.StepIndex-1)); err != nil {
		return errors.Wrapf(err, "sending %s job of saga %s", CompensateJobName, instance.ID)
	}

	return nil
}

// persistStraggler stores the outcome of a step that finished after the saga was moved out of RUNNING concurrently.
// A completed straggler is compensated as well.
func (r *Runner) persistStraggler(ctx context.Context, sagaID string, step *StepInstance, logger log.Logger) error {
	logger.Log(log.InfoLevel, "saga has changed its status while the step was running")

	if err := r.store.UpdateStep(ctx, step); err != nil {
		return errors.Wrapf(err, "persisting step %d of saga %s", step.StepIndex, sagaID)
	}

	if step.Status != StepStatusCompleted {
		return nil
	}

	if err := r.dispatcher.Send(ctx, newCompensateJob(sagaID, step.StepIndex)); err != nil {
		return errors.Wrapf(err, "sending %s job of saga %s", CompensateJobName, sagaID)
	}

	return nil
}

func (r *Runner) compensate(ctx context.Context, job CompensateJob) error {
	logger := r.logger.WithFields(log.Fields{"sagaId": job.SagaID, "fromStepIndex": job.FromStepIndex})

	instance, err := r.store.GetByID(ctx, job.SagaID)
	if err != nil {
		return errors.Wrapf(err, "getting saga %s", job.SagaID)
	}

	if instance == nil {
		logger.Log(log.WarnLevel, "saga not found, skipping compensate job")
		return nil
	}

	if !instance.Status.in(StatusCompensating, StatusCompensated, StatusCancelled) {
		logger.Logf(log.WarnLevel, "saga is %s, skipping compensate job", instance.Status)
		return nil
	}

	previousErr := instance.Error

	// without a definition there is nothing to call, the saga still has to reach its final status
	def, ok := r.registry.Get(instance.Type)
	if !ok {
		logger.Logf(log.ErrorLevel, "saga type %s is not registered, steps are not compensated", instance.Type)

		if instance.Status == StatusCompensating && instance.lastCompletedStep() >= 0 {
			instance.Error = appendError(instance.Error, fmt.Sprintf("saga type %s is not registered, steps are not compensated", instance.Type))
		}
	}

	from := job.FromStepIndex
	if last := instance.lastCompletedStep(); last > from {
		from = last
	}

	if from > len(instance.Steps)-1 {
		from = len(instance.Steps) - 1
	}

	for i := from; i >= 0; i-- {
		step := instance.Steps[i]
		if step.Status != StepStatusCompleted || i >= len(def.Steps) {
			continue
		}

		stepDef := def.Steps[i]
		if stepDef.Compensate == nil || stepDef.Skippable {
			continue
		}

		ec := newExecutionContext(instance, step)
		ec.IdempotencyKey = step.IdempotencyKey

		result := r.invokeCompensate(ctx, stepDef, step, ec)
		r.metrics.StepCompensated(instance.Type, step.Name, result.Success)

		if result.Success {
			step.Status = StepStatusCompensated
			step.Error = ""
			logger.Logf(log.DebugLevel, "step %s compensated", step.Name)
		} else {
			errMsg := errorMessage(result.Error, "compensation failed")
			step.Error = errMsg
			instance.Error = appendError(instance.Error, fmt.Sprintf("compensating step %q: %s", step.Name, errMsg))
			logger.Logf(log.ErrorLevel, "compensating step %s: %s", step.Name, errMsg)
		}

		if err := r.store.UpdateStep(ctx, step); err != nil {
			return errors.Wrapf(err, "persisting compensation of step %d of saga %s", i, instance.ID)
		}
	}

	now := r.clock()

	if instance.Status != StatusCompensating {
		if instance.Error == previousErr {
			return nil
		}

		instance.touch(now)

		if _, err := r.store.Update(ctx, instance, nil, instance.Status); err != nil {
			return errors.Wrapf(err, "persisting compensation errors of saga %s", instance.ID)
		}

		return nil
	}

	final := StatusCompensated
	if instance.CancelledAt != nil {
		final = StatusCancelled
	}

	instance.Status = final
	instance.CompletedAt = timePtr(now)
	instance.touch(now)

	updated, err := r.store.Update(ctx, instance, nil, StatusCompensating)
	if err != nil {
		return errors.Wrapf(err, "finishing compensation of saga %s", instance.ID)
	}

	if !updated {
		return nil
	}

	r.metrics.SagaFinished(instance.Type, final)
	logger.Logf(log.InfoLevel, "saga is %s", final)

	if final == StatusCompensated {
		r.callHook(ctx, "onFailed", def.OnFailed, instance, logger)
	}

	return nil
}

func (r *Runner) timeout(ctx context.Context, job TimeoutJob) error {
	logger := r.logger.WithFields(log.Fields{"sagaId": job.SagaID})

	instance, err := r.store.GetByID(ctx, job.SagaID)
	if err != nil {
		return errors.Wrapf(err, "getting saga %s", job.SagaID)
	}

	if instance == nil {
		return nil
	}

	if instance.Status == StatusCompensating {
		logger.Log(log.InfoLevel, "saga is compensating, sending compensate job again")
		return r.resumeCompensation(ctx, instance)
	}

	if !instance.Status.Active() {
		return nil
	}

	now := r.clock()

	var steps []*StepInstance

	if step := instance.Step(instance.CurrentStepIndex); step != nil && step.Status != StepStatusCompleted {
		step.Status = StepStatusFailed
		step.Error = timedOutReason
		step.CompletedAt = timePtr(now)
		steps = append(steps, step)
	}

	instance.Status = StatusCompensating
	instance.Error = timedOutReason
	instance.touch(now)

	updated, err := r.store.Update(ctx, instance, steps, StatusPending, StatusRunning)
	if err != nil {
		return errors.Wrapf(err, "timing out saga %s", instance.ID)
	}

	if !updated {
		return nil
	}

	logger.Log(log.WarnLevel, "saga timed out, compensating")

	if err := r.dispatcher.Send(ctx, newCompensateJob(instance.ID, instance.CurrentStepIndex-1)); err != nil {
		return errors.Wrapf(err, "sending %s job of saga %s", CompensateJobName, instance.ID)
	}

	return nil
}

// failSaga marks the saga FAILED because of a definition problem. It stays retry-eligible.
func (r *Runner) failSaga(ctx context.Context, def *Definition, instance *Instance, reason string, logger log.Logger) error {
	instance.Status = StatusFailed
	instance.Error = reason
	instance.touch(r.clock())

	updated, err := r.store.Update(ctx, instance, nil, StatusPending, StatusRunning)
	if err != nil {
		return errors.Wrapf(err, "failing saga %s", instance.ID)
	}

	if !updated {
		return nil
	}

	r.metrics.SagaFinished(instance.Type, StatusFailed)
	logger.Logf(log.ErrorLevel, "saga failed: %s", reason)

	if def != nil {
		r.callHook(ctx, "onFailed", def.OnFailed, instance, logger)
	}

	return nil
}

func (r *Runner) invokeExecute(ctx context.Context, stepDef StepDefinition, input Payload, ec ExecutionContext) StepResult {
	if stepDef.Execute == nil {
		return Failed(errors.Errorf("step %s has no execute function", stepDef.Name), false)
	}

	execCtx := ctx
	if stepDef.Timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, stepDef.Timeout)
		defer cancel()
	}

	resCh := make(chan StepResult, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				resCh <- Failed(errors.Errorf("step %s panicked: %v", stepDef.Name, rec), true)
			}
		}()

		resCh <- stepDef.Execute(execCtx, input.Clone(), ec)
	}()

	select {
	case res := <-resCh:
		return res
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return Failed(ctx.Err(), true)
		}
		return Failed(errors.Errorf("step %s timed out after %s", stepDef.Name, stepDef.Timeout), true)
	}
}

func (r *Runner) invokeCompensate(ctx context.Context, stepDef StepDefinition, step *StepInstance, ec ExecutionContext) (result CompensationResult) {
	defer func() {
		if rec := recover(); rec != nil {
			result = CompensationFailed(errors.Errorf("compensation of step %s panicked: %v", stepDef.Name, rec))
		}
	}()

	input := step.Input
	if input == nil {
		input = ec.Input
	}

	return stepDef.Compensate(ctx, input.Clone(), step.Output.Clone(), ec)
}

func (r *Runner) callHook(ctx context.Context, name string, hook func(ctx context.Context, instance *Instance) error, instance *Instance, logger log.Logger) {
	if hook == nil {
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			logger.Logf(log.ErrorLevel, "%s hook panicked: %v", name, rec)
		}
	}()

	if err := hook(ctx, instance); err != nil {
		logger.Logf(log.ErrorLevel, "%s hook: %s", name, err)
	}
}

func newExecutionContext(instance *Instance, step *StepInstance) ExecutionContext {
	return ExecutionContext{
		SagaID:        instance.ID,
		SagaType:      instance.Type,
		CorrelationID: instance.CorrelationID,
		StepIndex:     step.StepIndex,
		StepName:      step.Name,
		Attempt:       step.RetryCount + 1,
		Input:         instance.Input.Clone(),
		Data:          instance.Context.Clone(),
	}
}

func prepareOutput(def Definition, ec ExecutionContext) (Payload, error) {
	if def.PrepareOutput == nil {
		return ec.Data.Clone(), nil
	}

	return def.PrepareOutput(ec)
}

func errorMessage(err error, fallback string) string {
	if err == nil {
		return fallback
	}

	return err.Error()
}

func appendError(current, msg string) string {
	if current == "" {
		return msg
	}

	return current + "; " + msg
}
