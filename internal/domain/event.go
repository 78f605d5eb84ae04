package domain

import (
	"context"
	"encoding/json"
	"time"
)

// EventType identifies the kind of event being published.
type EventType string

const (
	EventGameConnected    EventType = "game.connected"
	EventGameDisconnected EventType = "game.disconnected"
	EventGameReplaced     EventType = "game.replaced"

	EventFrameReceived  EventType = "frame.received"
	EventFrameMalformed EventType = "frame.malformed"
	EventFrameIgnored   EventType = "frame.ignored"

	EventNotificationSent   EventType = "notification.sent"
	EventNotificationFailed EventType = "notification.failed"
	EventChatMirrored       EventType = "chat.mirrored"

	EventRequestSent      EventType = "request.sent"
	EventRequestCompleted EventType = "request.completed"
	EventRequestTimedOut  EventType = "request.timed_out"
	EventRequestFailed    EventType = "request.failed"
	EventResponseOrphaned EventType = "response.orphaned"

	EventChatForwarded EventType = "chat.forwarded"
	EventChatDropped   EventType = "chat.dropped"
)

// Event is the envelope published on the event bus.
type Event struct {
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	ConnID    string          `json:"conn_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEvent builds an event stamped with the current time.
func NewEvent(t EventType, connID string) Event {
	return Event{Type: t, Timestamp: time.Now(), ConnID: connID}
}

// RequestInfo is the payload of request.* events.
type RequestInfo struct {
	Kind      RequestKind `json:"kind"`
	RequestID string      `json:"request_id"`
}

// EventHandler is a callback invoked when an event is received.
type EventHandler func(ctx context.Context, event Event)

// EventBus provides a publish/subscribe mechanism for domain events.
type EventBus interface {
	// Publish sends an event to all matching subscribers.
	Publish(ctx context.Context, event Event)
	// Subscribe registers a handler for a specific event type.
	// Returns an unsubscribe function.
	Subscribe(eventType EventType, handler EventHandler) func()
	// SubscribeAll registers a handler that receives every event.
	// Returns an unsubscribe function.
	SubscribeAll(handler EventHandler) func()
	// Close drains in-flight handlers and prevents new publishes.
	Close()
}
