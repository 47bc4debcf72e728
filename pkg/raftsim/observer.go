package raftsim

import (
	"sync"

	"github.com/google/uuid"
)

// NodeStateChanged is published whenever a node transitions between
// follower, candidate and leader states.
type NodeStateChanged struct {
	NodeId   NodeId    `json:"nodeId"`
	OldState NodeState `json:"oldState"`
	NewState NodeState `json:"newState"`
	Term     Term      `json:"term"`
}

// MessageSent is published for every message handed to the bus, delivered
// or not. Delivered is false for messages dropped because of a dead node or
// a partition, letting a visualizer animate failed sends.
type MessageSent struct {
	Envelope  Envelope `json:"envelope"`
	Delivered bool     `json:"delivered"`
}

// Observer receives core events. Callbacks are invoked synchronously from
// node goroutines and must not block; anything slow belongs behind a queue
// on the observer side.
type Observer interface {
	OnNodeStateChanged(NodeStateChanged)
	OnMessageSent(MessageSent)
}

type SubscriptionId string

type observerHub struct {
	mu        sync.Mutex
	observers map[SubscriptionId]Observer
}

func newObserverHub() *observerHub {
	return &observerHub{
		observers: make(map[SubscriptionId]Observer),
	}
}

func (h *observerHub) subscribe(observer Observer) SubscriptionId {
	id := SubscriptionId(uuid.NewString())

	h.mu.Lock()
	h.observers[id] = observer
	h.mu.Unlock()

	return id
}

func (h *observerHub) unsubscribe(id SubscriptionId) {
	h.mu.Lock()
	delete(h.observers, id)
	h.mu.Unlock()
}

func (h *observerHub) publishStateChange(event NodeStateChanged) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, observer := range h.observers {
		observer.OnNodeStateChanged(event)
	}
}

func (h *observerHub) publishMessageSent(event MessageSent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, observer := range h.observers {
		observer.OnMessageSent(event)
	}
}
