package saga

import (
	"context"
	"time"
)

const (
	DefaultSagaTimeout    = time.Hour
	DefaultSagaMaxRetries = 3
	DefaultStepMaxRetries = 3
	DefaultStepRetryDelay = time.Second
	// MaxStepRetryDelay caps the exponential backoff of step retries
	MaxStepRetryDelay = 24 * time.Hour
)

// Definition describes a saga type: ordered steps and lifecycle hooks
type Definition struct {
	Type  string
	Steps []StepDefinition

	// Timeout of the whole saga counted from Start. Zero means DefaultSagaTimeout.
	Timeout time.Duration
	// MaxRetries is the whole-saga retry budget used by Orchestrator.Retry.
	// Zero means DefaultSagaMaxRetries, a negative value disables retries.
	MaxRetries int

	// PrepareInput transforms raw input passed to Start. Without it the raw input is converted with ToPayload.
	PrepareInput func(raw interface{}) (Payload, error)
	// PrepareOutput builds the saga output once all steps are completed. Without it the accumulated context is the output.
	PrepareOutput func(ec ExecutionContext) (Payload, error)

	// OnCompleted is called after the saga is completed. An error is logged, the saga stays completed.
	OnCompleted func(ctx context.Context, instance *Instance) error
	// OnFailed is called when the saga ends up compensated or failed.
	OnFailed func(ctx context.Context, instance *Instance) error
}

// StepDefinition describes a single step
type StepDefinition struct {
	Name string
	// Timeout of a single Execute attempt. Zero means no deadline besides the worker's one.
	Timeout time.Duration
	// Retry policy, nil means DefaultRetryPolicy
	Retry *RetryPolicy
	// Skippable steps don't trigger compensation when they fail and are never compensated
	Skippable bool

	Execute    func(ctx context.Context, input Payload, ec ExecutionContext) StepResult
	Compensate func(ctx context.Context, input Payload, output Payload, ec ExecutionContext) CompensationResult
	// IdempotencyKey derives a key from the step input. It's persisted with the step and passed to Execute,
	// so side effects can be deduplicated on redelivery.
	IdempotencyKey func(input Payload, ec ExecutionContext) string
}

// RetryPolicy of a step
type RetryPolicy struct {
	MaxRetries int
	Delay      time.Duration
	// Backoff makes the delay grow exponentially: Delay * 2^retryCount
	Backoff bool
}

// DefaultRetryPolicy is used by steps without their own policy
var DefaultRetryPolicy = RetryPolicy{
	MaxRetries: DefaultStepMaxRetries,
	Delay:      DefaultStepRetryDelay,
}

// ExecutionContext is passed to step functions and hooks
type ExecutionContext struct {
	SagaID         string
	SagaType       string
	CorrelationID  string
	StepIndex      int
	StepName       string
	Attempt        int
	IdempotencyKey string
	// Input of the saga
	Input Payload
	// Data accumulated from outputs of completed steps
	Data Payload
}

// StepResult is returned by StepDefinition.Execute. Failures are data, not errors.
type StepResult struct {
	Success     bool
	Output      Payload
	Error       error
	ShouldRetry bool
}

// CompensationResult is returned by StepDefinition.Compensate
type CompensationResult struct {
	Success bool
	Error   error
}

// Succeeded is a shortcut for a successful StepResult
func Succeeded(output Payload) StepResult {
	return StepResult{Success: true, Output: output}
}

// Failed is a shortcut for a failed StepResult
func Failed(err error, shouldRetry bool) StepResult {
	return StepResult{Error: err, ShouldRetry: shouldRetry}
}

// Compensated is a shortcut for a successful CompensationResult
func Compensated() CompensationResult {
	return CompensationResult{Success: true}
}

// CompensationFailed is a shortcut for a failed CompensationResult
func CompensationFailed(err error) CompensationResult {
	return CompensationResult{Error: err}
}

func (d Definition) timeout() time.Duration {
	if d.Timeout <= 0 {
		return DefaultSagaTimeout
	}

	return d.Timeout
}

func (d Definition) maxRetries() int {
	switch {
	case d.MaxRetries == 0:
		return DefaultSagaMaxRetries
	case d.MaxRetries < 0:
		return 0
	default:
		return d.MaxRetries
	}
}

func (s StepDefinition) retryPolicy() RetryPolicy {
	if s.Retry == nil {
		return DefaultRetryPolicy
	}

	return *s.Retry
}

// delay returns how long to wait before the next attempt, retryCount is the number of retries made so far
func (p RetryPolicy) delay(retryCount int) time.Duration {
	if !p.Backoff || retryCount <= 0 {
		return p.Delay
	}

	delay := p.Delay

	for i := 0; i < retryCount && delay > 0 && delay < MaxStepRetryDelay; i++ {
		delay *= 2
	}

	if delay > MaxStepRetryDelay {
		return MaxStepRetryDelay
	}

	return delay
}
