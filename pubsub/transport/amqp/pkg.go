package amqp

import (
	"time"

	"github.com/go-foreman/conductor/pubsub/transport"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// delivery adapts amqp.Delivery to the Delivery interface
type delivery struct {
	msg *amqp.Delivery
}

func (d *delivery) Headers() amqp.Table {
	return d.msg.Headers
}

func (d *delivery) Timestamp() time.Time {
	return d.msg.Timestamp
}

func (d *delivery) Body() []byte {
	return d.msg.Body
}

func (d *delivery) Priority() uint8 {
	return d.msg.Priority
}

func (d *delivery) Ack(multiple bool) error {
	return d.msg.Ack(multiple)
}

func (d *delivery) Nack(multiple, requeue bool) error {
	return d.msg.Nack(multiple, requeue)
}

func (d *delivery) Reject(requeue bool) error {
	return d.msg.Reject(requeue)
}

type inAmqpPkg struct {
	delivery   Delivery
	receivedAt time.Time
	origin     string
}

func (i inAmqpPkg) UID() string {
	if uid, ok := i.delivery.Headers()["uid"].(string); ok {
		return uid
	}

	return ""
}

func (i inAmqpPkg) Origin() string {
	return i.origin
}

func (i inAmqpPkg) Payload() []byte {
	return i.delivery.Body()
}

func (i inAmqpPkg) Headers() map[string]interface{} {
	return i.delivery.Headers()
}

func (i inAmqpPkg) Ack(options ...transport.AcknowledgmentOption) error {
	opts := transport.CollectAckOpts(options...)

	return errors.WithStack(i.delivery.Ack(opts.Multiple))
}

func (i inAmqpPkg) Nack(options ...transport.AcknowledgmentOption) error {
	opts := transport.CollectAckOpts(options...)

	return errors.WithStack(i.delivery.Nack(opts.Multiple, opts.Requeue))
}

func (i inAmqpPkg) Reject(options ...transport.AcknowledgmentOption) error {
	opts := transport.CollectAckOpts(options...)

	return errors.WithStack(i.delivery.Reject(opts.Requeue))
}

func (i inAmqpPkg) PublishedAt() time.Time {
	return i.delivery.Timestamp()
}

func (i inAmqpPkg) ReceivedAt() time.Time {
	return i.receivedAt
}
