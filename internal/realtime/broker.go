package realtime

import (
	"context"
	"sync"
)

// Envelope is a frame addressed to a room or to a user. With Room set the
// frame goes to every connection joined to it, minus ExceptUser; with only
// User set it goes to every connection of that user.
type Envelope struct {
	Room       string `json:"room,omitempty"`
	User       string `json:"user,omitempty"`
	ExceptUser string `json:"except,omitempty"`
	Frame      []byte `json:"frame"`
}

// Broker moves envelopes from publishers to the hubs that deliver them.
// Envelopes published by one goroutine are delivered in publish order.
type Broker interface {
	// Start begins delivering envelopes to deliver until ctx ends.
	Start(ctx context.Context, deliver func(Envelope)) error
	Publish(ctx context.Context, env Envelope) error
	Close() error
}

// MemoryBroker delivers in-process, synchronously on the publisher's
// goroutine. It is the default for a single instance.
type MemoryBroker struct {
	mu      sync.RWMutex
	deliver func(Envelope)
}

// NewMemoryBroker returns an unstarted in-process broker.
func NewMemoryBroker() *MemoryBroker { return &MemoryBroker{} }

func (b *MemoryBroker) Start(_ context.Context, deliver func(Envelope)) error {
	b.mu.Lock()
	b.deliver = deliver
	b.mu.Unlock()
	return nil
}

func (b *MemoryBroker) Publish(_ context.Context, env Envelope) error {
	b.mu.RLock()
	d := b.deliver
	b.mu.RUnlock()
	if d != nil {
		d(env)
	}
	return nil
}

func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	b.deliver = nil
	b.mu.Unlock()
	return nil
}
