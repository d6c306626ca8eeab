package amqp

import (
	"reflect"
	"sync/atomic"
	"time"

	"github.com/go-foreman/conductor/log"
	"github.com/pkg/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	defaultReconnectDelay = time.Second * 3
	reconnectCount        = 20
)

type dialOpts struct {
	autoReconnect  bool
	reconnectDelay time.Duration
}

type DialOpt func(o *dialOpts)

// WithAutoReconnect redials the broker when the connection is lost, waiting delay between attempts
func WithAutoReconnect(delay time.Duration) DialOpt {
	return func(o *dialOpts) {
		o.autoReconnect = true
		o.reconnectDelay = delay
	}
}

// Dial wraps amqp.Dial. With WithAutoReconnect the returned connection is swapped in place once the broker is reachable again.
func Dial(url string, logger log.Logger, opts ...DialOpt) (UnderlyingConnection, error) {
	o := &dialOpts{reconnectDelay: defaultReconnectDelay}
	for _, opt := range opts {
		opt(o)
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, errors.Wrap(err, "dialing amqp broker")
	}

	if o.autoReconnect {
		go redial(url, conn, o.reconnectDelay, logger)
	}

	return conn, nil
}

func redial(url string, conn *amqp.Connection, delay time.Duration, logger log.Logger) {
	for {
		reason, ok := <-conn.NotifyClose(make(chan *amqp.Error))
		// closed explicitly
		if !ok {
			logger.Log(log.InfoLevel, "amqp connection closed explicitly")
			return
		}

		logger.Logf(log.WarnLevel, "amqp connection closed, reason: %v", reason)

		var reconnected uint

		for {
			time.Sleep(delay)

			if reconnected > reconnectCount {
				logger.Logf(log.FatalLevel, "reached limit of amqp reconnects %d", reconnectCount)
				return
			}
			reconnected++

			newConn, err := amqp.Dial(url)
			if err == nil {
				reflect.ValueOf(conn).Elem().Set(reflect.ValueOf(newConn).Elem())
				logger.Log(log.InfoLevel, "reconnected to amqp broker")
				break
			}

			logger.Logf(log.ErrorLevel, "reconnect failed, err: %v", err)
		}
	}
}

type Connection struct {
	logger log.Logger
	// underlyingConn and Connection have to point to the same connection at all times
	underlyingConn      UnderlyingConnection
	chReconnectionDelay time.Duration
}

func NewReconnectConnection(logger log.Logger, underlyingConn UnderlyingConnection, chReconnectionDelay time.Duration) *Connection {
	return &Connection{
		logger:              logger,
		underlyingConn:      underlyingConn,
		chReconnectionDelay: chReconnectionDelay,
	}
}

func (c *Connection) Close() error {
	return c.underlyingConn.Close()
}

func (c *Connection) IsClosed() bool {
	return c.underlyingConn.IsClosed()
}

// Channel wraps amqp.Connection.Channel into a channel that is recreated when it's closed by the broker
func (c *Connection) Channel() (AmqpChannel, error) {
	ch, err := c.underlyingConn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "creating channel")
	}

	channel := &Channel{
		AmqpChannel:              ch,
		logger:                   c.logger,
		consumeReconnectionDelay: c.chReconnectionDelay,
	}

	go c.watchChannel(channel)

	return channel, nil
}

func (c *Connection) watchChannel(channel *Channel) {
	for {
		reason, ok := <-channel.NotifyClose(make(chan *amqp.Error))
		if !ok || channel.IsClosed() {
			c.logger.Log(log.DebugLevel, "channel closed")
			// ensures the closed flag is set when the whole connection is closed
			if err := channel.Close(); err != nil && err != amqp.ErrClosed {
				c.logger.Logf(log.ErrorLevel, "error closing channel %s", err)
			}
			return
		}

		c.logger.Logf(log.WarnLevel, "channel closed, reason: %v", reason)

		for {
			time.Sleep(c.chReconnectionDelay)

			ch, err := c.underlyingConn.Channel()
			if err == nil {
				channel.AmqpChannel = ch
				break
			}

			c.logger.Logf(log.ErrorLevel, "channel recreate failed, err: %v", err)
		}
	}
}

// Channel is an amqp.Channel wrapper
type Channel struct {
	AmqpChannel
	closed                   int32
	logger                   log.Logger
	consumeReconnectionDelay time.Duration
}

// IsClosed indicates the channel was closed explicitly
func (ch *Channel) IsClosed() bool {
	return atomic.LoadInt32(&ch.closed) == 1
}

// Close ensures the closed flag is set
func (ch *Channel) Close() error {
	if ch.IsClosed() {
		return amqp.ErrClosed
	}

	atomic.StoreInt32(&ch.closed, 1)

	return ch.AmqpChannel.Close()
}

// Consume wraps amqp.Channel.Consume, the returned deliveries end only when the channel is closed explicitly
func (ch *Channel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	deliveries := make(chan amqp.Delivery)

	var reconnected uint

	go func() {
		defer close(deliveries)

		for {
			d, err := ch.AmqpChannel.Consume(queue, consumer, autoAck, exclusive, noLocal, noWait, args)
			if err != nil {
				ch.logger.Logf(log.ErrorLevel, "consume failed, err: %v", err)
				time.Sleep(ch.consumeReconnectionDelay)

				if reconnected > reconnectCount {
					ch.logger.Logf(log.ErrorLevel, "Reached limit of reconnects %d", reconnectCount)
					return
				}

				reconnected++
				ch.logger.Logf(log.DebugLevel, "retrying to reconnect consumer %s", consumer)

				continue
			}

			ch.logger.Logf(log.DebugLevel, "started consuming %s", consumer)

			for msg := range d {
				deliveries <- msg
			}

			// the closed flag may be set a bit later than the deliveries channel is closed
			time.Sleep(ch.consumeReconnectionDelay)

			if ch.IsClosed() {
				return
			}
		}
	}()

	return deliveries, nil
}
