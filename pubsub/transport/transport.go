package transport

import (
	"context"
)

//go:generate mockgen --build_flags=--mod=mod -destination ../../testing/mocks/pubsub/transport/transport.go -package transport . Transport

// Transport is an adapter of an external at-least-once queue
type Transport interface {
	CreateTopic(ctx context.Context, topic Topic) error
	CreateQueue(ctx context.Context, queue Queue, queueBind ...QueueBind) error
	// Consume delivers packages of the queues until ctx is done. The channel is closed once all consumers have stopped.
	Consume(ctx context.Context, queues []Queue, options ...ConsumeOpt) (<-chan IncomingPkg, error)
	Send(ctx context.Context, outboundPkg OutboundPkg, options ...SendOpt) error
	Connect(context.Context) error
	Disconnect(context.Context) error
}

type Topic interface {
	Name() string
}

type Queue interface {
	Name() string
}

type QueueBind interface {
	DestinationTopic() string
	BindingKey() string
}

// ConsumeOpt and SendOpt are implementation specific, each transport checks the type of options it's called on
type ConsumeOpt func(options interface{}) error
type SendOpt func(options interface{}) error
