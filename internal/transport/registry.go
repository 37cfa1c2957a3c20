package transport

import (
	"sync"

	"github.com/google/uuid"
	"github.com/tidepay/realtime/internal/wire"
)

// registry maps topics to subscriber callbacks. Dispatch happens from the
// transport's single read loop, so per-topic delivery order follows frame
// arrival order.
type registry struct {
	mu      sync.RWMutex
	byTopic map[string]map[uuid.UUID]MessageHandler
	topicOf map[uuid.UUID]string
}

func newRegistry() *registry {
	return &registry{
		byTopic: make(map[string]map[uuid.UUID]MessageHandler),
		topicOf: make(map[uuid.UUID]string),
	}
}

// add registers a handler and reports whether it is the first for its topic.
func (r *registry) add(topic string, fn MessageHandler) (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.New()
	handlers, ok := r.byTopic[topic]
	if !ok {
		handlers = make(map[uuid.UUID]MessageHandler)
		r.byTopic[topic] = handlers
	}
	handlers[id] = fn
	r.topicOf[id] = topic

	return id, len(handlers) == 1
}

// remove unregisters a handler and reports whether its topic is now empty.
func (r *registry) remove(id uuid.UUID) (topic string, last bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	topic, ok = r.topicOf[id]
	if !ok {
		return "", false, false
	}
	delete(r.topicOf, id)

	handlers := r.byTopic[topic]
	delete(handlers, id)
	if len(handlers) == 0 {
		delete(r.byTopic, topic)
		return topic, true, true
	}
	return topic, false, true
}

// dispatch delivers a frame to every handler subscribed to its topic.
// Handlers run outside the lock so they may subscribe/unsubscribe freely.
func (r *registry) dispatch(env wire.Envelope) int {
	r.mu.RLock()
	handlers := make([]MessageHandler, 0, len(r.byTopic[env.Type]))
	for _, fn := range r.byTopic[env.Type] {
		handlers = append(handlers, fn)
	}
	r.mu.RUnlock()

	for _, fn := range handlers {
		fn(env)
	}
	return len(handlers)
}

// topics returns every topic with at least one subscriber.
func (r *registry) topics() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byTopic))
	for topic := range r.byTopic {
		out = append(out, topic)
	}
	return out
}
