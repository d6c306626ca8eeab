package amqp

import (
	"context"
	"sync"
	"time"

	"github.com/go-foreman/conductor/log"
	"github.com/go-foreman/conductor/pubsub/transport"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// NewTransport creates a transport over an established connection. Channels are recreated when the broker closes them.
// The connection itself is owned by the caller.
func NewTransport(conn UnderlyingConnection, logger log.Logger) transport.Transport {
	return &amqpTransport{
		connection:        NewReconnectConnection(logger, conn, defaultReconnectDelay),
		mutex:             &sync.Mutex{},
		consumingChannels: map[AmqpChannel]struct{}{},
		logger:            logger,
	}
}

type amqpTransport struct {
	connection        AmqpConnection
	publishingChannel AmqpChannel
	mutex             *sync.Mutex
	consumingChannels map[AmqpChannel]struct{}
	logger            log.Logger
}

func (t *amqpTransport) Connect(ctx context.Context) error {
	return t.checkConnection()
}

// CreateTopic declares an exchange. A topic created with WithDelayedDelivery requires the delayed message exchange plugin.
func (t *amqpTransport) CreateTopic(ctx context.Context, topic transport.Topic) error {
	if err := t.checkConnection(); err != nil {
		return err
	}

	amqpTopic, topicConv := topic.(amqpTopic)
	if !topicConv {
		return errors.Errorf("supplied topic is not an instance of amqp.Topic")
	}

	kind, args := amqpTopic.kind()

	if err := t.publishingChannel.ExchangeDeclare(
		amqpTopic.Name(),
		kind,
		amqpTopic.durable,
		amqpTopic.autoDelete,
		amqpTopic.internal,
		amqpTopic.noWait,
		args,
	); err != nil {
		return errors.WithStack(err)
	}

	return nil
}

func (t *amqpTransport) CreateQueue(ctx context.Context, q transport.Queue, qbs ...transport.QueueBind) error {
	if err := t.checkConnection(); err != nil {
		return err
	}

	queue, queueConv := q.(amqpQueue)
	if !queueConv {
		return errors.Errorf("supplied Queue is not an instance of amqp.amqpQueue")
	}

	queueBinds := make([]amqpQueueBind, 0, len(qbs))

	for _, item := range qbs {
		queueBind, queueBindConv := item.(amqpQueueBind)
		if !queueBindConv {
			return errors.Errorf("one of supplied QueueBinds is not an instance of amqp.amqpQueueBind")
		}

		queueBinds = append(queueBinds, queueBind)
	}

	if _, err := t.publishingChannel.QueueDeclare(
		queue.Name(),
		queue.durable,
		queue.autoDelete,
		queue.exclusive,
		queue.noWait,
		queue.args(),
	); err != nil {
		return errors.WithStack(err)
	}

	for _, qb := range queueBinds {
		if err := t.publishingChannel.QueueBind(
			queue.Name(),
			qb.BindingKey(),
			qb.DestinationTopic(),
			qb.noWait,
			nil,
		); err != nil {
			return errors.WithStack(err)
		}
	}

	return nil
}

// Send publishes a package. Delay is passed in the x-delay header, so the destination topic must be created WithDelayedDelivery.
func (t *amqpTransport) Send(ctx context.Context, outboundPkg transport.OutboundPkg, options ...transport.SendOpt) error {
	if err := t.checkConnection(); err != nil {
		return err
	}

	sendOpts := &sendOptions{}

	for _, opt := range options {
		if err := opt(sendOpts); err != nil {
			return errors.WithStack(err)
		}
	}

	headers := amqp.Table(outboundPkg.Headers())

	if delay := outboundPkg.Delay(); delay > 0 {
		headers = make(amqp.Table, len(outboundPkg.Headers())+1)
		for k, v := range outboundPkg.Headers() {
			headers[k] = v
		}
		headers["x-delay"] = delay.Milliseconds()
	}

	if err := t.publishingChannel.Publish(
		outboundPkg.Destination().DestinationTopic,
		outboundPkg.Destination().RoutingKey,
		sendOpts.Mandatory,
		sendOpts.Immediate,
		amqp.Publishing{
			Headers:      headers,
			ContentType:  outboundPkg.ContentType(),
			Body:         outboundPkg.Payload(),
			Priority:     outboundPkg.Priority(),
			DeliveryMode: sendOpts.deliveryMode(),
		},
	); err != nil {
		return errors.Wrap(err, "sending out pkg")
	}

	return nil
}

func (t *amqpTransport) Consume(ctx context.Context, queues []transport.Queue, options ...transport.ConsumeOpt) (<-chan transport.IncomingPkg, error) {
	if err := t.checkConnection(); err != nil {
		return nil, err
	}

	consumeOpts := &consumeOptions{}

	for _, opt := range options {
		if err := opt(consumeOpts); err != nil {
			return nil, errors.WithStack(err)
		}
	}

	consumingChannel, err := t.connection.Channel()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	if consumeOpts.PrefetchCount > 0 {
		if err := consumingChannel.Qos(int(consumeOpts.PrefetchCount), 0, false); err != nil {
			if closeErr := consumingChannel.Close(); closeErr != nil {
				t.logger.Logf(log.ErrorLevel, "error closing amqp channel. %s", closeErr)
			}

			return nil, errors.Wrap(err, "setting qos")
		}
	}

	t.mutex.Lock()
	t.consumingChannels[consumingChannel] = struct{}{}
	t.mutex.Unlock()

	income := make(chan transport.IncomingPkg)
	consumersWait := &sync.WaitGroup{}
	consumersCtx, cancelConsumers := context.WithCancel(ctx)

	stopConsuming := func() {
		consumersWait.Wait()
		cancelConsumers()
		t.closeConsumingChannel(consumingChannel)
		close(income)
	}

	for _, q := range queues {
		consumerTag := consumeOpts.consumerTag(q)

		deliveries, err := consumingChannel.Consume(
			q.Name(),
			consumerTag,
			false,
			consumeOpts.Exclusive,
			consumeOpts.NoLocal,
			consumeOpts.NoWait,
			nil,
		)
		if err != nil {
			// shuts down consumers started in previous iterations
			cancelConsumers()
			go stopConsuming()

			return nil, errors.Wrapf(err, "consuming %s", q.Name())
		}

		consumersWait.Add(1)

		go t.consumeQueue(consumersCtx, consumersWait, consumingChannel, q, consumerTag, deliveries, income)
	}

	go stopConsuming()

	return income, nil
}

func (t *amqpTransport) consumeQueue(ctx context.Context, wg *sync.WaitGroup, ch AmqpChannel, queue transport.Queue, consumerTag string, deliveries <-chan amqp.Delivery, income chan<- transport.IncomingPkg) {
	defer wg.Done()

	defer func() {
		t.logger.Logf(log.InfoLevel, "canceling consumer %s", consumerTag)

		if err := ch.Cancel(consumerTag, false); err != nil {
			t.logger.Logf(log.ErrorLevel, "error canceling consumer %s. %s", consumerTag, err)
		} else {
			t.logger.Logf(log.InfoLevel, "canceled consumer %s", consumerTag)
		}
	}()

	for {
		select {
		case msg, open := <-deliveries:
			if !open {
				t.logger.Logf(log.WarnLevel, "amqp consumer closed channel for queue %s", queue.Name())
				return
			}

			pkg := &inAmqpPkg{origin: queue.Name(), receivedAt: time.Now(), delivery: &delivery{msg: &msg}}

			select {
			case income <- pkg:
			case <-ctx.Done():
				// not acked, the broker redelivers it once the channel is closed
				t.logger.Logf(log.WarnLevel, "canceled context. Stopped consuming queue %s", queue.Name())
				return
			}
		case <-ctx.Done():
			t.logger.Logf(log.WarnLevel, "canceled context. Stopped consuming queue %s", queue.Name())
			return
		}
	}
}

func (t *amqpTransport) closeConsumingChannel(ch AmqpChannel) {
	t.mutex.Lock()
	_, registered := t.consumingChannels[ch]
	delete(t.consumingChannels, ch)
	t.mutex.Unlock()

	if !registered {
		// already closed by Disconnect
		return
	}

	if err := ch.Close(); err != nil {
		t.logger.Logf(log.ErrorLevel, "error closing amqp channel. %s", err)
		return
	}

	t.logger.Log(log.InfoLevel, "closed consumer channel")
}

func (t *amqpTransport) Disconnect(ctx context.Context) error {
	if t.connection == nil || t.publishingChannel == nil {
		return nil
	}

	if err := t.publishingChannel.Close(); err != nil {
		return errors.Wrap(err, "closing publishing channel")
	}

	t.mutex.Lock()
	defer t.mutex.Unlock()

	for ch := range t.consumingChannels {
		delete(t.consumingChannels, ch)

		if err := ch.Close(); err != nil {
			return errors.Wrap(err, "closing one of consuming channels")
		}
	}

	return nil
}

// checkConnection opens the publishing channel on first use
func (t *amqpTransport) checkConnection() error {
	if t.connection == nil {
		return errors.New("connection is nil")
	}

	if t.publishingChannel != nil {
		return nil
	}

	ch, err := t.connection.Channel()
	if err != nil {
		return errors.Wrap(err, "creating publishing channel")
	}

	t.publishingChannel = ch

	return nil
}
