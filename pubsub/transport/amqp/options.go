package amqp

import (
	"github.com/go-foreman/conductor/pubsub/transport"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

type consumeOptions struct {
	Exclusive     bool
	NoLocal       bool
	NoWait        bool
	PrefetchCount uint
	// ConsumerTag prefixes tags of queue consumers, queue name is used when empty
	ConsumerTag string
}

type sendOptions struct {
	Mandatory bool
	Immediate bool
	// Transient jobs are not written to disk by the broker
	Transient bool
}

func consumeOpt(name string, apply func(opts *consumeOptions)) transport.ConsumeOpt {
	return func(options interface{}) error {
		opts, ok := options.(*consumeOptions)
		if !ok {
			return errors.Errorf("calling %s opt: this option must be called on amqp.consumeOptions type", name)
		}

		apply(opts)

		return nil
	}
}

func sendOpt(name string, apply func(opts *sendOptions)) transport.SendOpt {
	return func(options interface{}) error {
		opts, ok := options.(*sendOptions)
		if !ok {
			return errors.Errorf("calling %s opt: this option must be called on amqp.sendOptions type", name)
		}

		apply(opts)

		return nil
	}
}

// WithQosPrefetchCount limits unacknowledged deliveries per consuming channel
func WithQosPrefetchCount(limit uint) transport.ConsumeOpt {
	return consumeOpt("WithQosPrefetchCount", func(opts *consumeOptions) {
		opts.PrefetchCount = limit
	})
}

func WithExclusive() transport.ConsumeOpt {
	return consumeOpt("WithExclusive", func(opts *consumeOptions) {
		opts.Exclusive = true
	})
}

func WithNoLocal() transport.ConsumeOpt {
	return consumeOpt("WithNoLocal", func(opts *consumeOptions) {
		opts.NoLocal = true
	})
}

func WithNoWait() transport.ConsumeOpt {
	return consumeOpt("WithNoWait", func(opts *consumeOptions) {
		opts.NoWait = true
	})
}

func WithConsumerTag(tag string) transport.ConsumeOpt {
	return consumeOpt("WithConsumerTag", func(opts *consumeOptions) {
		opts.ConsumerTag = tag
	})
}

func WithMandatory() transport.SendOpt {
	return sendOpt("WithMandatory", func(opts *sendOptions) {
		opts.Mandatory = true
	})
}

func WithImmediate() transport.SendOpt {
	return sendOpt("WithImmediate", func(opts *sendOptions) {
		opts.Immediate = true
	})
}

func WithTransient() transport.SendOpt {
	return sendOpt("WithTransient", func(opts *sendOptions) {
		opts.Transient = true
	})
}

func (o consumeOptions) consumerTag(q transport.Queue) string {
	if o.ConsumerTag == "" {
		return q.Name()
	}

	return o.ConsumerTag + "-" + q.Name()
}

func (o sendOptions) deliveryMode() uint8 {
	if o.Transient {
		return amqp.Transient
	}

	return amqp.Persistent
}
