package execution

import (
	"context"

	"github.com/go-foreman/conductor/log"
	"github.com/go-foreman/conductor/pubsub/endpoint"
	"github.com/go-foreman/conductor/pubsub/message"
	"github.com/pkg/errors"
)

//go:generate mockgen --build_flags=--mod=mod -destination ../../../testing/mocks/pubsub/message/execution/context.go -package execution . JobExecutionCtx,JobExecutionCtxFactory

// JobExecutionCtx is passed to each executor and contains the received job, ctx, knows how to send out or return a job.
type JobExecutionCtx interface {
	// Job returns received job
	Job() *message.ReceivedJob
	// Context returns parent execution context. Each job has own time limit in which it must be processed.
	Context() context.Context
	// Send sends a job to the endpoints registered for its name
	Send(job *message.Job, options ...endpoint.DeliveryOption) error
	// Return sends the received job again and increments the number of returns in its headers
	Return(options ...endpoint.DeliveryOption) error
	// Logger returns logger instance with job id and traceId included as fields
	Logger() log.Logger
}

type jobExecutionCtx struct {
	ctx    context.Context
	job    *message.ReceivedJob
	router endpoint.Router
	logger log.Logger
}

func (j jobExecutionCtx) Context() context.Context {
	return j.ctx
}

func (j jobExecutionCtx) Send(job *message.Job, options ...endpoint.DeliveryOption) error {
	endpoints := j.router.Route(job.Name)

	if len(endpoints) == 0 {
		j.logger.Logf(log.ErrorLevel, "no endpoints defined for job %s", job.Name)
		return WithNoDefinedEndpoints(errors.Errorf("no endpoints defined for job %s", job.Name))
	}

	for _, endp := range endpoints {
		if err := endp.Send(j.ctx, job, options...); err != nil {
			j.logger.Logf(log.ErrorLevel, "error sending job. %s", err)
			return errors.WithStack(err)
		}
	}

	return nil
}

func (j jobExecutionCtx) Return(options ...endpoint.DeliveryOption) error {
	outbound := message.FromReceivedJob(j.job)
	outbound.Headers.RegisterReturn()

	if err := j.Send(outbound, options...); err != nil {
		return errors.Wrapf(err, "returning job %s", outbound.ID)
	}

	return nil
}

func (j jobExecutionCtx) Job() *message.ReceivedJob {
	return j.job
}

func (j jobExecutionCtx) Logger() log.Logger {
	return j.logger
}

type JobExecutionCtxFactory interface {
	CreateCtx(ctx context.Context, job *message.ReceivedJob) JobExecutionCtx
}

type jobExecutionCtxFactory struct {
	router endpoint.Router
	logger log.Logger
}

func NewJobExecutionCtxFactory(router endpoint.Router, logger log.Logger) JobExecutionCtxFactory {
	return &jobExecutionCtxFactory{router: router, logger: logger}
}

func (f jobExecutionCtxFactory) CreateCtx(ctx context.Context, job *message.ReceivedJob) JobExecutionCtx {
	fields := log.Fields{"jobId": job.ID, "job": job.Name}

	if traceID := job.Headers.TraceID(); traceID != "" {
		fields["traceId"] = traceID
	}

	return &jobExecutionCtx{ctx: ctx, job: job, router: f.router, logger: f.logger.WithFields(fields)}
}

type NoDefinedEndpoints struct {
	error
}

func WithNoDefinedEndpoints(err error) error {
	return NoDefinedEndpoints{err}
}

func (n NoDefinedEndpoints) Unwrap() error {
	return n.error
}
