package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/go-foreman/conductor/log"
	"github.com/go-foreman/conductor/pubsub/transport"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// NewTransport creates an in-process transport with topic exchange semantics.
// Delayed packages are held by timers, so they are lost when the process stops. Consume and send options are ignored.
func NewTransport(logger log.Logger) transport.Transport {
	return &memoryTransport{
		topics:   map[string][]memoryQueueBind{},
		queues:   map[string]*queue{},
		timers:   map[*time.Timer]struct{}{},
		logger:   logger,
		stopping: make(chan struct{}),
	}
}

type memoryTransport struct {
	mu       sync.Mutex
	topics   map[string][]memoryQueueBind
	queues   map[string]*queue
	timers   map[*time.Timer]struct{}
	stopped  bool
	stopping chan struct{}
	logger   log.Logger
}

func (t *memoryTransport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return errors.New("transport is disconnected")
	}

	return nil
}

func (t *memoryTransport) CreateTopic(ctx context.Context, topic transport.Topic) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.topics[topic.Name()]; !exists {
		t.topics[topic.Name()] = nil
	}

	return nil
}

func (t *memoryTransport) CreateQueue(ctx context.Context, q transport.Queue, qbs ...transport.QueueBind) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, qb := range qbs {
		if _, exists := t.topics[qb.DestinationTopic()]; !exists {
			return errors.Errorf("binding queue %s: topic %s does not exist", q.Name(), qb.DestinationTopic())
		}
	}

	if _, exists := t.queues[q.Name()]; !exists {
		t.queues[q.Name()] = newQueue(q.Name())
	}

	for _, qb := range qbs {
		bind := memoryQueueBind{queue: q.Name(), destination: qb.DestinationTopic(), binding: qb.BindingKey()}

		if !containsBind(t.topics[qb.DestinationTopic()], bind) {
			t.topics[qb.DestinationTopic()] = append(t.topics[qb.DestinationTopic()], bind)
		}
	}

	return nil
}

func (t *memoryTransport) Send(ctx context.Context, outboundPkg transport.OutboundPkg, options ...transport.SendOpt) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return errors.New("transport is disconnected")
	}

	dest := outboundPkg.Destination()

	if _, exists := t.topics[dest.DestinationTopic]; !exists {
		return errors.Errorf("sending out pkg: topic %s does not exist", dest.DestinationTopic)
	}

	if delay := outboundPkg.Delay(); delay > 0 {
		var timer *time.Timer
		timer = time.AfterFunc(delay, func() {
			t.mu.Lock()
			defer t.mu.Unlock()

			delete(t.timers, timer)

			if !t.stopped {
				t.route(outboundPkg)
			}
		})
		t.timers[timer] = struct{}{}

		return nil
	}

	t.route(outboundPkg)

	return nil
}

// route must be called with t.mu held
func (t *memoryTransport) route(outboundPkg transport.OutboundPkg) {
	dest := outboundPkg.Destination()
	routed := false

	for _, bind := range t.topics[dest.DestinationTopic] {
		if !matchBindingKey(bind.binding, dest.RoutingKey) {
			continue
		}

		q, exists := t.queues[bind.queue]
		if !exists {
			continue
		}

		headers := make(map[string]interface{}, len(outboundPkg.Headers()))
		for k, v := range outboundPkg.Headers() {
			headers[k] = v
		}

		q.push(&inMemoryPkg{
			uid:         uuid.New().String(),
			payload:     outboundPkg.Payload(),
			headers:     headers,
			priority:    outboundPkg.Priority(),
			publishedAt: time.Now(),
			queue:       q,
		})
		routed = true
	}

	if !routed {
		t.logger.Logf(log.DebugLevel, "no queue is bound to %s with routing key %s, package dropped", dest.DestinationTopic, dest.RoutingKey)
	}
}

func (t *memoryTransport) Consume(ctx context.Context, queues []transport.Queue, options ...transport.ConsumeOpt) (<-chan transport.IncomingPkg, error) {
	t.mu.Lock()
	consumed := make([]*queue, 0, len(queues))

	for _, q := range queues {
		memQueue, exists := t.queues[q.Name()]
		if !exists {
			t.mu.Unlock()
			return nil, errors.Errorf("consuming %s: queue does not exist", q.Name())
		}

		consumed = append(consumed, memQueue)
	}
	t.mu.Unlock()

	income := make(chan transport.IncomingPkg)
	consumersWait := &sync.WaitGroup{}

	for _, q := range consumed {
		consumersWait.Add(1)

		go t.consumeQueue(ctx, consumersWait, q, income)
	}

	go func() {
		consumersWait.Wait()
		close(income)
	}()

	return income, nil
}

func (t *memoryTransport) consumeQueue(ctx context.Context, wg *sync.WaitGroup, q *queue, income chan<- transport.IncomingPkg) {
	defer wg.Done()

	for {
		pkg := q.pop()
		if pkg == nil {
			select {
			case <-q.notify:
				continue
			case <-t.stopping:
				t.logger.Logf(log.InfoLevel, "transport disconnected. Stopped consuming queue %s", q.name)
				return
			case <-ctx.Done():
				t.logger.Logf(log.InfoLevel, "canceled context. Stopped consuming queue %s", q.name)
				return
			}
		}

		pkg.receivedAt = time.Now()

		select {
		case income <- pkg:
		case <-t.stopping:
			q.requeue(pkg)
			return
		case <-ctx.Done():
			// was not delivered, keeps its place for the next consumer
			q.requeue(pkg)
			t.logger.Logf(log.InfoLevel, "canceled context. Stopped consuming queue %s", q.name)
			return
		}
	}
}

// Disconnect stops pending delayed deliveries and consumers
func (t *memoryTransport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stopped {
		return nil
	}

	t.stopped = true
	close(t.stopping)

	for timer := range t.timers {
		timer.Stop()
		delete(t.timers, timer)
	}

	return nil
}

func containsBind(binds []memoryQueueBind, bind memoryQueueBind) bool {
	for _, b := range binds {
		if b == bind {
			return true
		}
	}

	return false
}

// matchBindingKey matches a routing key with amqp topic rules: * substitutes one word, # zero or more words
func matchBindingKey(bindingKey, routingKey string) bool {
	return matchWords(strings.Split(bindingKey, "."), strings.Split(routingKey, "."))
}

func matchWords(pattern, words []string) bool {
	if len(pattern) == 0 {
		return len(words) == 0
	}

	switch pattern[0] {
	case "#":
		for i := 0; i <= len(words); i++ {
			if matchWords(pattern[1:], words[i:]) {
				return true
			}
		}

		return false
	case "*":
		return len(words) > 0 && matchWords(pattern[1:], words[1:])
	default:
		return len(words) > 0 && pattern[0] == words[0] && matchWords(pattern[1:], words[1:])
	}
}
