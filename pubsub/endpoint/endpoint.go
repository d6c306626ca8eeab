package endpoint

import (
	"context"
	"time"

	"github.com/go-foreman/conductor/pubsub/message"
)

//go:generate mockgen --build_flags=--mod=mod -destination ../../testing/mocks/pubsub/endpoint/endpoint.go -package endpoint . Endpoint,Router

type Endpoint interface {
	// Name is a unique name of the endpoint
	Name() string
	// Send hands the job over to the underlying transport
	Send(ctx context.Context, job *message.Job, options ...DeliveryOption) error
}

type deliveryOptions struct {
	delay *time.Duration
}

// WithDelay postpones the delivery counting from now, it takes precedence over the StartAfter of the job
func WithDelay(delay time.Duration) DeliveryOption {
	return func(o *deliveryOptions) error {
		o.delay = &delay
		return nil
	}
}

type DeliveryOption func(o *deliveryOptions) error
