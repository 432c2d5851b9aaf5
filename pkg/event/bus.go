// Package event republishes decoded device messages to in-process listeners.
package event

import (
	"sync"

	"go.uber.org/zap"

	"github.com/terraformation/device-ingest/pkg/message"
)

// Dispatcher accepts decoded messages for delivery to downstream listeners.
type Dispatcher interface {
	Publish(msg message.Message)
}

// Listener handles messages published on a Bus. Handle runs on the
// publisher's goroutine, which is the broker client's delivery goroutine, so
// it must return quickly.
type Listener interface {
	Handle(msg message.Message)
}

// ListenerFunc adapts a function to a Listener.
type ListenerFunc func(msg message.Message)

func (f ListenerFunc) Handle(msg message.Message) { f(msg) }

var _ Dispatcher = (*Bus)(nil)

// Bus delivers every published message to each subscribed listener in
// subscription order.
type Bus struct {
	mu        sync.RWMutex
	listeners []Listener
	logger    *zap.Logger
}

// NewBus creates an empty Bus.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger}
}

// Subscribe adds l to the bus.
func (b *Bus) Subscribe(l Listener) {
	b.mu.Lock()
	b.listeners = append(b.listeners, l)
	b.mu.Unlock()
}

func (b *Bus) Publish(msg message.Message) {
	b.mu.RLock()
	listeners := b.listeners
	b.mu.RUnlock()

	for _, l := range listeners {
		b.deliver(l, msg)
	}
}

func (b *Bus) deliver(l Listener, msg message.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Event listener panic recovered",
				zap.String("topic", msg.MessageTopic()), zap.Any("panic", r))
		}
	}()
	l.Handle(msg)
}
