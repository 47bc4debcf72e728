package main

import (
	"encoding/json"
	"sync"

	"github.com/galdor/go-raftsim/pkg/raftsim"
)

// Event is the record served by GET /events. Exactly one of the two payload
// members is set, matching Type.
type Event struct {
	Type string `json:"type"` // "nodeStateChanged" or "messageSent"

	NodeStateChanged *raftsim.NodeStateChanged `json:"nodeStateChanged,omitempty"`
	MessageSent      *MessageSentData          `json:"messageSent,omitempty"`
}

type MessageSentData struct {
	SenderId    raftsim.NodeId  `json:"senderId"`
	RecipientId raftsim.NodeId  `json:"recipientId"`
	Msg         json.RawMessage `json:"msg"`
	Delivered   bool            `json:"delivered"`
}

// EventBuffer subscribes to the cluster and accumulates events until the
// visualizer polls them. The buffer is bounded; when it overflows the oldest
// events are discarded, which only costs the visualizer an animation.
type EventBuffer struct {
	mu       sync.Mutex
	events   []Event
	capacity int
}

func NewEventBuffer(capacity int) *EventBuffer {
	return &EventBuffer{
		capacity: capacity,
	}
}

func (b *EventBuffer) OnNodeStateChanged(event raftsim.NodeStateChanged) {
	b.append(Event{
		Type:             "nodeStateChanged",
		NodeStateChanged: &event,
	})
}

func (b *EventBuffer) OnMessageSent(event raftsim.MessageSent) {
	msgData, err := raftsim.EncodeMsg(event.Envelope.Msg)
	if err != nil {
		return
	}

	b.append(Event{
		Type: "messageSent",
		MessageSent: &MessageSentData{
			SenderId:    event.Envelope.SenderId,
			RecipientId: event.Envelope.RecipientId,
			Msg:         msgData,
			Delivered:   event.Delivered,
		},
	})
}

func (b *EventBuffer) append(event Event) {
	b.mu.Lock()

	b.events = append(b.events, event)

	if nbEvents := len(b.events); nbEvents > b.capacity {
		b.events = b.events[nbEvents-b.capacity:]
	}

	b.mu.Unlock()
}

// Drain returns all buffered events and empties the buffer.
func (b *EventBuffer) Drain() []Event {
	b.mu.Lock()

	events := b.events
	b.events = nil

	b.mu.Unlock()

	return events
}
