// Package notify distributes domain-change events to cache layers: a
// synchronous pub/sub bus plus a filesystem-backed source that turns
// repository file changes into invalidation events.
package notify

import (
	"sync"
	"time"
)

// EventType classifies invalidation events.
type EventType int

const (
	// EventContentChanged signals that one content item changed; only
	// cache entries for that item are affected.
	EventContentChanged EventType = iota
	// EventObjectInvalidation signals a design-object change; the
	// GUIDType decides which cache regions are cleared.
	EventObjectInvalidation
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	switch t {
	case EventContentChanged:
		return "content-changed"
	case EventObjectInvalidation:
		return "object-invalidation"
	default:
		return "unknown"
	}
}

// GUIDType names the kind of design object an invalidation refers to.
type GUIDType string

const (
	GUIDTemplate         GUIDType = "template"
	GUIDSlot             GUIDType = "slot"
	GUIDItemFilter       GUIDType = "item-filter"
	GUIDLocationScheme   GUIDType = "location-scheme"
	GUIDLocationProperty GUIDType = "location-property"
	GUIDNodeDefinition   GUIDType = "node-definition"
)

// Event is one invalidation notification.
type Event struct {
	Type      EventType
	ItemID    string
	GUIDType  GUIDType
	GUID      string
	Timestamp time.Time
}

// Handler receives events. Delivery is synchronous with Publish, so
// the staleness window of a cache is bounded by the write that caused
// the event.
type Handler func(Event)

// Subscription is the deregistration handle returned by Subscribe.
type Subscription struct {
	notifier *Notifier
	id       int
}

// Cancel removes the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s == nil || s.notifier == nil {
		return
	}
	s.notifier.unsubscribe(s.id)
	s.notifier = nil
}

// Notifier is a synchronous pub/sub bus for invalidation events.
// Subscriptions are made explicitly at construction time of the
// consuming component and carry an explicit deregistration handle.
type Notifier struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
}

// NewNotifier creates an empty bus.
func NewNotifier() *Notifier {
	return &Notifier{handlers: make(map[int]Handler)}
}

// Subscribe registers a handler and returns its deregistration handle.
func (n *Notifier) Subscribe(h Handler) *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nextID++
	id := n.nextID
	n.handlers[id] = h
	return &Subscription{notifier: n, id: id}
}

func (n *Notifier) unsubscribe(id int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.handlers, id)
}

// Publish delivers an event to every subscriber on the calling
// goroutine.
func (n *Notifier) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	n.mu.RLock()
	handlers := make([]Handler, 0, len(n.handlers))
	for _, h := range n.handlers {
		handlers = append(handlers, h)
	}
	n.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// ContentChanged publishes a per-item content change.
func (n *Notifier) ContentChanged(itemID string) {
	n.Publish(Event{Type: EventContentChanged, ItemID: itemID})
}

// ObjectInvalidated publishes a design-object invalidation.
func (n *Notifier) ObjectInvalidated(guidType GUIDType, guid string) {
	n.Publish(Event{Type: EventObjectInvalidation, GUIDType: guidType, GUID: guid})
}
