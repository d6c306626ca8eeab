package amqp

import (
	"github.com/go-foreman/conductor/pubsub/transport"
	amqp "github.com/rabbitmq/amqp091-go"
)

type QueueType string

const (
	QueueTypeClassic QueueType = "classic"
	QueueTypeQuorum  QueueType = "quorum"
)

type QueueOptionsPatch func(options *amqpQueue)

func WithQueueType(v QueueType) QueueOptionsPatch {
	return func(options *amqpQueue) {
		options.queueType = v
	}
}

// WithMaxPriority enables priorities of messages in the queue, from 0 up to max
func WithMaxPriority(max uint8) QueueOptionsPatch {
	return func(options *amqpQueue) {
		options.maxPriority = max
	}
}

func Queue(name string, durable, autoDelete, exclusive, noWait bool, patches ...QueueOptionsPatch) transport.Queue {
	q := amqpQueue{queueName: name, durable: durable, autoDelete: autoDelete, exclusive: exclusive, noWait: noWait}

	for _, patch := range patches {
		patch(&q)
	}

	return q
}

type amqpQueue struct {
	queueName   string
	queueType   QueueType
	maxPriority uint8
	durable     bool
	autoDelete  bool
	exclusive   bool
	noWait      bool
}

func (q amqpQueue) Name() string {
	return q.queueName
}

func (q amqpQueue) args() amqp.Table {
	var args amqp.Table

	if q.queueType != "" {
		args = amqp.Table{"x-queue-type": string(q.queueType)}
	}

	if q.maxPriority > 0 {
		if args == nil {
			args = amqp.Table{}
		}
		args["x-max-priority"] = q.maxPriority
	}

	return args
}

func QueueBind(destinationTopic, bindingKey string, noWait bool) transport.QueueBind {
	return amqpQueueBind{destination: destinationTopic, binding: bindingKey, noWait: noWait}
}

type amqpQueueBind struct {
	destination string
	binding     string
	noWait      bool
}

func (q amqpQueueBind) DestinationTopic() string {
	return q.destination
}

func (q amqpQueueBind) BindingKey() string {
	return q.binding
}

type TopicOptionsPatch func(options *amqpTopic)

// WithDelayedDelivery declares the topic as an exchange of the rabbitmq_delayed_message_exchange plugin.
// Messages sent with a delay are held by the exchange until the x-delay header expires.
func WithDelayedDelivery() TopicOptionsPatch {
	return func(options *amqpTopic) {
		options.delayed = true
	}
}

func Topic(name string, durable, autoDelete, internal, noWait bool, patches ...TopicOptionsPatch) transport.Topic {
	t := amqpTopic{topicName: name, durable: durable, autoDelete: autoDelete, internal: internal, noWait: noWait}

	for _, patch := range patches {
		patch(&t)
	}

	return t
}

type amqpTopic struct {
	topicName  string
	delayed    bool
	durable    bool
	autoDelete bool
	internal   bool
	noWait     bool
}

func (t amqpTopic) Name() string {
	return t.topicName
}

func (t amqpTopic) kind() (string, amqp.Table) {
	if t.delayed {
		return "x-delayed-message", amqp.Table{"x-delayed-type": "topic"}
	}

	return "topic", nil
}
