package memory

import (
	"sync"

	"github.com/go-foreman/conductor/pubsub/transport"
)

func Topic(name string) transport.Topic {
	return memoryTopic{name: name}
}

type memoryTopic struct {
	name string
}

func (t memoryTopic) Name() string {
	return t.name
}

func Queue(name string) transport.Queue {
	return memoryQueue{name: name}
}

type memoryQueue struct {
	name string
}

func (q memoryQueue) Name() string {
	return q.name
}

func QueueBind(destinationTopic, bindingKey string) transport.QueueBind {
	return memoryQueueBind{destination: destinationTopic, binding: bindingKey}
}

type memoryQueueBind struct {
	queue       string
	destination string
	binding     string
}

func (q memoryQueueBind) DestinationTopic() string {
	return q.destination
}

func (q memoryQueueBind) BindingKey() string {
	return q.binding
}

// queue keeps packages ordered by priority, FIFO within the same priority
type queue struct {
	name   string
	mu     sync.Mutex
	items  []*inMemoryPkg
	notify chan struct{}
}

func newQueue(name string) *queue {
	return &queue{name: name, notify: make(chan struct{}, 1)}
}

func (q *queue) push(pkg *inMemoryPkg) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pos := len(q.items)
	for i, item := range q.items {
		if item.priority < pkg.priority {
			pos = i
			break
		}
	}

	q.insert(pos, pkg)
}

// requeue places the package before the others of the same priority
func (q *queue) requeue(pkg *inMemoryPkg) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pos := len(q.items)
	for i, item := range q.items {
		if item.priority <= pkg.priority {
			pos = i
			break
		}
	}

	q.insert(pos, pkg)
}

func (q *queue) insert(pos int, pkg *inMemoryPkg) {
	q.items = append(q.items, nil)
	copy(q.items[pos+1:], q.items[pos:])
	q.items[pos] = pkg

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *queue) pop() *inMemoryPkg {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return nil
	}

	pkg := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]

	return pkg
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}
