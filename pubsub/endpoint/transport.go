package endpoint

import (
	"context"
	"time"

	"github.com/go-foreman/conductor/pubsub/message"
	"github.com/go-foreman/conductor/pubsub/transport"
	"github.com/pkg/errors"
)

const maxPriority = 255

type TransportEndpoint struct {
	transport   transport.Transport
	destination transport.DeliveryDestination
	marshaller  message.Marshaller
	name        string
	now         func() time.Time
}

// NewTransportEndpoint sends jobs to the destination topic. An empty routing key of the destination is replaced with the job name.
func NewTransportEndpoint(name string, t transport.Transport, destination transport.DeliveryDestination, marshaller message.Marshaller) Endpoint {
	return &TransportEndpoint{name: name, transport: t, destination: destination, marshaller: marshaller, now: time.Now}
}

func (e TransportEndpoint) Name() string {
	return e.name
}

func (e TransportEndpoint) Send(ctx context.Context, job *message.Job, opts ...DeliveryOption) error {
	deliveryOpts := &deliveryOptions{}

	for _, opt := range opts {
		if err := opt(deliveryOpts); err != nil {
			return errors.Wrapf(err, "compiling delivery options for job %s", job.ID)
		}
	}

	var delay time.Duration

	if deliveryOpts.delay != nil {
		delay = *deliveryOpts.delay
		startAfter := e.now().Add(delay)
		job.StartAfter = &startAfter
	} else if job.StartAfter != nil {
		delay = job.StartAfter.Sub(e.now())
	}

	data, err := e.marshaller.Marshal(job)
	if err != nil {
		return errors.Wrapf(err, "serializing job %s", job.ID)
	}

	destination := e.destination
	if destination.RoutingKey == "" {
		destination.RoutingKey = job.Name
	}

	headers := make(map[string]interface{}, len(job.Headers)+1)
	for k, v := range job.Headers {
		headers[k] = v
	}
	headers["uid"] = job.ID

	toSend := transport.NewOutboundPkg(
		data,
		message.ContentTypeJSON,
		destination,
		headers,
		transport.WithDelay(delay),
		transport.WithPriority(clampPriority(job.Priority)),
	)

	return e.transport.Send(ctx, toSend)
}

func clampPriority(priority int) uint8 {
	switch {
	case priority < 0:
		return 0
	case priority > maxPriority:
		return maxPriority
	default:
		return uint8(priority)
	}
}
