package transport

import (
	"time"
)

type IncomingPkg interface {
	UID() string
	Origin() string
	Payload() []byte
	Headers() map[string]interface{}
	Ack(options ...AcknowledgmentOption) error
	Nack(options ...AcknowledgmentOption) error
	Reject(options ...AcknowledgmentOption) error
	ReceivedAt() time.Time
	PublishedAt() time.Time
}

type OutboundPkg interface {
	Payload() []byte
	ContentType() string
	Headers() map[string]interface{}
	Destination() DeliveryDestination
	// Delay postpones the delivery, zero means as soon as possible
	Delay() time.Duration
	// Priority of the delivery, zero is the lowest one
	Priority() uint8
}

type PkgOpt func(o *outboundPkg)

func WithDelay(delay time.Duration) PkgOpt {
	return func(o *outboundPkg) {
		if delay > 0 {
			o.delay = delay
		}
	}
}

func WithPriority(priority uint8) PkgOpt {
	return func(o *outboundPkg) {
		o.priority = priority
	}
}

func NewOutboundPkg(payload []byte, contentType string, destination DeliveryDestination, headers map[string]interface{}, opts ...PkgOpt) OutboundPkg {
	pkg := &outboundPkg{payload: payload, contentType: contentType, destination: destination, headers: headers}

	for _, opt := range opts {
		opt(pkg)
	}

	return pkg
}

type outboundPkg struct {
	payload     []byte
	contentType string
	headers     map[string]interface{}
	destination DeliveryDestination
	delay       time.Duration
	priority    uint8
}

func (o outboundPkg) Payload() []byte {
	return o.payload
}

func (o outboundPkg) ContentType() string {
	return o.contentType
}

func (o outboundPkg) Headers() map[string]interface{} {
	return o.headers
}

func (o outboundPkg) Destination() DeliveryDestination {
	return o.destination
}

func (o outboundPkg) Delay() time.Duration {
	return o.delay
}

func (o outboundPkg) Priority() uint8 {
	return o.priority
}

type DeliveryDestination struct {
	DestinationTopic string
	RoutingKey       string
}

type AcknowledgmentOption func(options map[string]interface{})

// WithRequeue puts a nacked or rejected package back to the queue
func WithRequeue() AcknowledgmentOption {
	return func(options map[string]interface{}) {
		options["requeue"] = true
	}
}

func WithMultiple() AcknowledgmentOption {
	return func(options map[string]interface{}) {
		options["multiple"] = true
	}
}

type AckOpts struct {
	Requeue  bool
	Multiple bool
}

func CollectAckOpts(passedOpts ...AcknowledgmentOption) AckOpts {
	optsMap := map[string]interface{}{}
	for _, opt := range passedOpts {
		opt(optsMap)
	}

	opts := AckOpts{}

	if requeueVal, exists := optsMap["requeue"]; exists {
		if requeue, isBool := requeueVal.(bool); isBool {
			opts.Requeue = requeue
		}
	}

	if multipleVal, exists := optsMap["multiple"]; exists {
		if multiple, isBool := multipleVal.(bool); isBool {
			opts.Multiple = multiple
		}
	}

	return opts
}
