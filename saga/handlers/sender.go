package handlers

import (
	"context"

	"github.com/go-foreman/conductor/log"
	"github.com/go-foreman/conductor/pubsub/endpoint"
	"github.com/go-foreman/conductor/pubsub/message"
	sagaPkg "github.com/go-foreman/conductor/saga"
	"github.com/pkg/errors"
)

type traceIDKey struct{}

func withTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

func traceIDFromContext(ctx context.Context) string {
	traceID, _ := ctx.Value(traceIDKey{}).(string)
	return traceID
}

// NewJobSender creates saga.JobDispatcher that sends saga jobs to the endpoints registered in the router for their names
func NewJobSender(router endpoint.Router, logger log.Logger) *JobSender {
	return &JobSender{router: router, logger: logger}
}

type JobSender struct {
	router endpoint.Router
	logger log.Logger
}

// Send wraps the saga job into a message.Job. A job sent outside of a saga job handler starts a new trace with the job id.
func (s *JobSender) Send(ctx context.Context, job *sagaPkg.Job) error {
	endpoints := s.router.Route(job.Name)

	if len(endpoints) == 0 {
		return errors.Errorf("no endpoints defined for job %s", job.Name)
	}

	opts := []message.JobOption{message.WithPriority(job.Priority)}

	if job.StartAfter != nil {
		opts = append(opts, message.WithStartAfter(*job.StartAfter))
	}

	outbound := message.NewJob(job.Name, job.Payload, opts...)

	traceID := traceIDFromContext(ctx)
	if traceID == "" {
		traceID = outbound.ID
	}

	message.WithTraceID(traceID)(outbound)

	for _, endp := range endpoints {
		if err := endp.Send(ctx, outbound); err != nil {
			return errors.Wrapf(err, "sending job %s %s to endpoint %s", outbound.ID, job.Name, endp.Name())
		}
	}

	s.logger.Logf(log.DebugLevel, "sent job %s %s to %d endpoints", outbound.ID, job.Name, len(endpoints))

	return nil
}
