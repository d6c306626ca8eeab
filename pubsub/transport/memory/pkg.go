package memory

import (
	"sync"
	"time"

	"github.com/go-foreman/conductor/pubsub/transport"
	"github.com/pkg/errors"
)

type inMemoryPkg struct {
	mu           sync.Mutex
	acknowledged bool

	uid         string
	payload     []byte
	headers     map[string]interface{}
	priority    uint8
	publishedAt time.Time
	receivedAt  time.Time
	queue       *queue
}

func (p *inMemoryPkg) UID() string {
	return p.uid
}

func (p *inMemoryPkg) Origin() string {
	return p.queue.name
}

func (p *inMemoryPkg) Payload() []byte {
	return p.payload
}

func (p *inMemoryPkg) Headers() map[string]interface{} {
	return p.headers
}

func (p *inMemoryPkg) Ack(options ...transport.AcknowledgmentOption) error {
	return p.acknowledge(false)
}

// Nack returns the package to its queue if WithRequeue is passed, otherwise the package is dropped
func (p *inMemoryPkg) Nack(options ...transport.AcknowledgmentOption) error {
	return p.acknowledge(transport.CollectAckOpts(options...).Requeue)
}

func (p *inMemoryPkg) Reject(options ...transport.AcknowledgmentOption) error {
	return p.acknowledge(transport.CollectAckOpts(options...).Requeue)
}

func (p *inMemoryPkg) ReceivedAt() time.Time {
	return p.receivedAt
}

func (p *inMemoryPkg) PublishedAt() time.Time {
	return p.publishedAt
}

func (p *inMemoryPkg) acknowledge(requeue bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.acknowledged {
		return errors.Errorf("package %s is already acknowledged", p.uid)
	}

	if requeue {
		p.queue.requeue(&inMemoryPkg{
			uid:         p.uid,
			payload:     p.payload,
			headers:     p.headers,
			priority:    p.priority,
			publishedAt: p.publishedAt,
			queue:       p.queue,
		})
	}

	p.acknowledged = true

	return nil
}
