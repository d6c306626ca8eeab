package subscriber

import (
	"context"
	"time"

	"github.com/go-foreman/conductor/log"
	msgDispatcher "github.com/go-foreman/conductor/pubsub/dispatcher"
	"github.com/go-foreman/conductor/pubsub/endpoint"
	"github.com/go-foreman/conductor/pubsub/message"
	"github.com/go-foreman/conductor/pubsub/message/execution"
	"github.com/go-foreman/conductor/pubsub/transport"
	"github.com/pkg/errors"
)

//go:generate mockgen --build_flags=--mod=mod -destination ../../testing/mocks/pubsub/subscriber/processor.go -package subscriber . Processor

type Processor interface {
	// Process decodes the package and executes the job. A RejectErr means the package must not be redelivered.
	Process(ctx context.Context, inPkg transport.IncomingPkg) error
}

// ProcessorConfig configures returns of failed jobs. A job that failed is sent to the queue again with
// the delay ReturnDelay * 2^returnsCount capped by MaxReturnDelay, after MaxReturns returns it's rejected.
type ProcessorConfig struct {
	MaxReturns     int
	ReturnDelay    time.Duration
	MaxReturnDelay time.Duration
}

var DefaultProcessorConfig = ProcessorConfig{
	MaxReturns:     10,
	ReturnDelay:    time.Second,
	MaxReturnDelay: time.Minute * 5,
}

type ProcessorOpt func(p *processor)

func WithProcessorConfig(c ProcessorConfig) ProcessorOpt {
	return func(p *processor) {
		p.config = c
	}
}

type processor struct {
	logger         log.Logger
	decoder        message.Decoder
	dispatcher     msgDispatcher.Dispatcher
	execCtxFactory execution.JobExecutionCtxFactory
	config         ProcessorConfig
}

func NewJobProcessor(decoder message.Decoder, execCtxFactory execution.JobExecutionCtxFactory, dispatcher msgDispatcher.Dispatcher, logger log.Logger, opts ...ProcessorOpt) Processor {
	p := &processor{decoder: decoder, execCtxFactory: execCtxFactory, dispatcher: dispatcher, logger: logger, config: DefaultProcessorConfig}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

func (p *processor) Process(ctx context.Context, inPkg transport.IncomingPkg) error {
	job, err := p.decoder.Decode(inPkg)
	if err != nil {
		p.logger.Logf(log.ErrorLevel, "failed to decode pkg %s into a job. %s", inPkg.UID(), err)
		return WithRejectErr(errors.Wrap(err, "decoding pkg"))
	}

	if returns := job.Headers.ReturnsCount(); returns >= p.config.MaxReturns {
		return WithRejectErr(errors.Errorf("job %s %s was returned %d times", job.ID, job.Name, returns))
	}

	executors := p.dispatcher.Match(job.Name)

	if len(executors) == 0 {
		p.logger.Logf(log.ErrorLevel, "no executors defined for job %s %s", job.ID, job.Name)
		return WithRejectErr(WithNoExecutorsDefinedErr(errors.Errorf("no executors defined for job %s %s", job.ID, job.Name)))
	}

	execCtx := p.execCtxFactory.CreateCtx(ctx, job)

	for _, exec := range executors {
		if err := exec(execCtx); err != nil {
			return p.returnJob(execCtx, errors.Wrapf(err, "executing job %s %s", job.ID, job.Name))
		}
	}

	return nil
}

// returnJob sends the failed job to the queue again with a delay. The original package is redelivered if that's impossible.
func (p *processor) returnJob(execCtx execution.JobExecutionCtx, execErr error) error {
	if p.config.MaxReturns <= 0 || execCtx.Context().Err() != nil {
		return execErr
	}

	job := execCtx.Job()
	delay := p.returnDelay(job.Headers.ReturnsCount())

	if err := execCtx.Return(endpoint.WithDelay(delay)); err != nil {
		execCtx.Logger().Logf(log.ErrorLevel, "error returning job %s. %s", job.ID, err)
		return execErr
	}

	execCtx.Logger().Logf(log.WarnLevel, "job %s returned to the queue, next attempt in %s. %s", job.ID, delay, execErr)

	return nil
}

func (p *processor) returnDelay(returnsCount int) time.Duration {
	delay := p.config.ReturnDelay

	for i := 0; i < returnsCount && delay < p.config.MaxReturnDelay; i++ {
		delay *= 2
	}

	if delay > p.config.MaxReturnDelay {
		return p.config.MaxReturnDelay
	}

	return delay
}

type NoExecutorsDefinedErr struct {
	error
}

func WithNoExecutorsDefinedErr(err error) error {
	return &NoExecutorsDefinedErr{err}
}

func (n NoExecutorsDefinedErr) Unwrap() error {
	return n.error
}

// RejectErr marks a package that will never be processed successfully
type RejectErr struct {
	error
}

func WithRejectErr(err error) error {
	return RejectErr{err}
}

func (r RejectErr) Cause() error {
	return r.error
}

func (r RejectErr) Unwrap() error {
	return r.error
}
