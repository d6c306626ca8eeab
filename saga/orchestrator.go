package saga

import (
	"context"
	"time"

	"github.com/go-foreman/conductor/log"
	"github.com/pkg/errors"
)

type Opt func(o *options)

type options struct {
	clock   func() time.Time
	metrics Metrics
}

// WithClock replaces time.Now, mostly for tests
func WithClock(clock func() time.Time) Opt {
	return func(o *options) {
		o.clock = clock
	}
}

func WithMetrics(metrics Metrics) Opt {
	return func(o *options) {
		o.metrics = metrics
	}
}

func newOptions(opts []Opt) options {
	o := options{
		clock:   time.Now,
		metrics: NopMetrics(),
	}

	for _, opt := range opts {
		opt(&o)
	}

	return o
}

type StartOpt func(o *startOptions)

type startOptions struct {
	correlationID string
	delay         time.Duration
	priority      int
}

// WithCorrelation links the saga to an external entity, sagas can be listed by it
func WithCorrelation(correlationID string) StartOpt {
	return func(o *startOptions) {
		o.correlationID = correlationID
	}
}

// WithDelay postpones execution of the first step
func WithDelay(delay time.Duration) StartOpt {
	return func(o *startOptions) {
		o.delay = delay
	}
}

// WithPriority sets priority of the first execute job
func WithPriority(priority int) StartOpt {
	return func(o *startOptions) {
		o.priority = priority
	}
}

// Orchestrator is the public entry point: it starts sagas and applies operator commands. It never waits for step outcomes.
type Orchestrator struct {
	registry   *Registry
	store      Store
	dispatcher JobDispatcher
	logger     log.Logger
	options
}

func NewOrchestrator(registry *Registry, store Store, dispatcher JobDispatcher, logger log.Logger, opts ...Opt) *Orchestrator {
	return &Orchestrator{
		registry:   registry,
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
		options:    newOptions(opts),
	}
}

// Start persists a new saga with all its steps pending and schedules the first step and the saga timeout
func (o *Orchestrator) Start(ctx context.Context, sagaType string, rawInput interface{}, opts ...StartOpt) (string, error) {
	def, ok := o.registry.Get(sagaType)
	if !ok {
		return "", errors.Wrapf(ErrSagaTypeNotRegistered, "starting saga %s", sagaType)
	}

	startOpts := startOptions{}
	for _, opt := range opts {
		opt(&startOpts)
	}

	input, err := prepareInput(def, rawInput)
	if err != nil {
		return "", errors.Wrapf(err, "preparing input of saga %s", sagaType)
	}

	now := o.clock()
	instance := newInstance(def, input, startOpts.correlationID, now)

	if err := o.store.Create(ctx, instance); err != nil {
		return "", errors.Wrapf(err, "creating saga %s", sagaType)
	}

	executeJob := newExecuteJob(instance.ID, 0)
	executeJob.Priority = startOpts.priority

	if startOpts.delay > 0 {
		executeJob.StartAfter = timePtr(now.Add(startOpts.delay))
	}

	if err := o.dispatcher.Send(ctx, executeJob); err != nil {
		return "", o.abortStart(ctx, instance, errors.Wrapf(err, "sending %s job of saga %s", ExecuteJobName, instance.ID))
	}

	if err := o.dispatcher.Send(ctx, newTimeoutJob(instance.ID, now.Add(def.timeout()))); err != nil {
		return "", o.abortStart(ctx, instance, errors.Wrapf(err, "sending %s job of saga %s", TimeoutJobName, instance.ID))
	}

	o.metrics.SagaStarted(sagaType)
	o.logger.WithFields(log.Fields{"sagaId": instance.ID, "sagaType": sagaType}).Log(log.DebugLevel, "saga started")

	return instance.ID, nil
}

// Get returns the saga with its steps or nil if it does not exist
func (o *Orchestrator) Get(ctx context.Context, sagaID string) (*Instance, error) {
	instance, err := o.store.GetByID(ctx, sagaID)
	if err != nil {
		return nil, errors.Wrapf(err, "getting saga %s", sagaID)
	}

	return instance, nil
}

func (o *Orchestrator) List(ctx context.Context, filters ...FilterOption) ([]*Instance, error) {
	instances, err := o.store.GetByFilter(ctx, filters...)
	if err != nil {
		return nil, errors.Wrap(err, "listing sagas")
	}

	return instances, nil
}

// Delete removes the saga with its steps. Jobs of the saga that are still queued become no-ops.
func (o *Orchestrator) Delete(ctx context.Context, sagaID string) error {
	if err := o.store.Delete(ctx, sagaID); err != nil {
		return errors.Wrapf(err, "deleting saga %s", sagaID)
	}

	return nil
}

// Cancel moves a saga that is not finished yet into compensation. False means there was nothing to cancel.
func (o *Orchestrator) Cancel(ctx context.Context, sagaID string) (bool, error) {
	instance, err := o.store.GetByID(ctx, sagaID)
	if err != nil {
		return false, errors.Wrapf(err, "getting saga %s", sagaID)
	}

	if instance == nil || instance.Status.in(StatusCompleted, StatusCancelled, StatusCompensated) {
		return false, nil
	}

	// already compensating, but the compensate job may have been lost between the status change and its dispatch
	if instance.Status == StatusCompensating {
		if err := o.dispatcher.Send(ctx, newCompensateJob(sagaID, instance.lastCompletedStep())); err != nil {
			return false, errors.Wrapf(err, "sending %s job of compensating saga %s", CompensateJobName, sagaID)
		}

		return false, nil
	}

	now := o.clock()

	instance.Status = StatusCompensating
	instance.Error = cancelledReason
	instance.CancelledAt = timePtr(now)
	instance.touch(now)

	// status only: a step may complete concurrently, its progress must not be overwritten by this snapshot
	updated, err := o.store.UpdateStatus(ctx, instance, nil, StatusPending, StatusRunning, StatusFailed)
	if err != nil {
		return false, errors.Wrapf(err, "cancelling saga %s", sagaID)
	}

	if !updated {
		return false, nil
	}

	if err := o.dispatcher.Send(ctx, newCompensateJob(sagaID, instance.CurrentStepIndex-1)); err != nil {
		return false, errors.Wrapf(err, "sending %s job of cancelled saga %s", CompensateJobName, sagaID)
	}

	o.logger.WithFields(log.Fields{"sagaId": sagaID}).Log(log.InfoLevel, "saga cancelled")

	return true, nil
}

// Retry resumes a failed saga from its current step while the saga retry budget allows it.
// A saga that failed after all its steps were completed only prepares its output again.
func (o *Orchestrator) Retry(ctx context.Context, sagaID string) (bool, error) {
	instance, err := o.store.GetByID(ctx, sagaID)
	if err != nil {
		return false, errors.Wrapf(err, "getting saga %s", sagaID)
	}

	if instance == nil || instance.Status != StatusFailed || instance.RetryCount >= instance.MaxRetries {
		return false, nil
	}

	failed := *instance

	var steps, failedSteps []*StepInstance

	instance.RetryCount++
	instance.Error = ""
	instance.Status = StatusPending
	instance.CompletedAt = nil
	instance.touch(o.clock())

	if step := instance.Step(instance.CurrentStepIndex); step != nil {
		failedStep := *step
		failedSteps = append(failedSteps, &failedStep)

		step.Status = StepStatusPending
		step.RetryCount = 0
		step.Error = ""
		step.CompletedAt = nil
		steps = append(steps, step)
	}

	updated, err := o.store.UpdateStatus(ctx, instance, steps, StatusFailed)
	if err != nil {
		return false, errors.Wrapf(err, "retrying saga %s", sagaID)
	}

	if !updated {
		return false, nil
	}

	if err := o.dispatcher.Send(ctx, newExecuteJob(sagaID, instance.CurrentStepIndex)); err != nil {
		// nothing would execute a pending saga, it stays failed so the retry can be repeated
		failed.touch(o.clock())

		if _, rErr := o.store.UpdateStatus(ctx, &failed, failedSteps, StatusPending); rErr != nil {
			o.logger.Logf(log.ErrorLevel, "restoring failed status of saga %s: %s", sagaID, rErr)
		}

		return false, errors.Wrapf(err, "sending %s job of retried saga %s", ExecuteJobName, sagaID)
	}

	o.logger.WithFields(log.Fields{"sagaId": sagaID, "retryCount": instance.RetryCount}).Log(log.InfoLevel, "saga retried")

	return true, nil
}

// abortStart removes a saga whose jobs could not be dispatched, so a failed start leaves nothing behind
func (o *Orchestrator) abortStart(ctx context.Context, instance *Instance, err error) error {
	if dErr := o.store.Delete(ctx, instance.ID); dErr != nil {
		o.logger.Logf(log.ErrorLevel, "deleting saga %s after failed start: %s", instance.ID, dErr)
	}

	return err
}

func prepareInput(def Definition, rawInput interface{}) (Payload, error) {
	if def.PrepareInput != nil {
		input, err := def.PrepareInput(rawInput)
		if err != nil {
			return nil, err
		}

		if input == nil {
			input = Payload{}
		}

		return input, nil
	}

	return ToPayload(rawInput)
}
