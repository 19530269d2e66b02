// Package events carries the in-process change notifications services publish
// after successful mutations. Notifications have no payload: subscribers must
// reload their view of the truth rather than trust event data.
package events

import "sync"

// Topics published by the services.
const (
	TopicUserDataChanged      = "user-data-changed"
	TopicPairedDevicesChanged = "paired-devices-changed"
)

// Notifier is an injectable publish/subscribe channel. Publishing fires
// synchronously; handlers typically kick off their own async reloads and must
// tolerate overlapping invocations.
type Notifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]func()
}

// NewNotifier returns a notifier with no subscribers.
func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[string]map[int]func())}
}

// Subscribe registers fn for topic and returns its unsubscribe function.
// Calling the returned function more than once is safe.
func (n *Notifier) Subscribe(topic string, fn func()) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.subs[topic] == nil {
		n.subs[topic] = make(map[int]func())
	}
	id := n.nextID
	n.nextID++
	n.subs[topic][id] = fn

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs[topic], id)
	}
}

// Publish invokes every subscriber registered for topic. Handlers run outside
// the notifier lock so they may subscribe or unsubscribe reentrantly.
func (n *Notifier) Publish(topic string) {
	n.mu.Lock()
	handlers := make([]func(), 0, len(n.subs[topic]))
	for _, fn := range n.subs[topic] {
		handlers = append(handlers, fn)
	}
	n.mu.Unlock()

	for _, fn := range handlers {
		fn()
	}
}
