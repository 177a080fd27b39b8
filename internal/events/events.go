// Package events implements the EventSink collaborator (C7): a
// best-effort, bounded-buffer publisher of domain events. The core
// consumes the abstract EventSink interface; a Kafka-backed producer
// lives outside this module.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Type discriminates the payload carried by an Event.
type Type string

const (
	ServerRegistered  Type = "ServerRegistered"
	ServerUpdated     Type = "ServerUpdated"
	ServerDeleted     Type = "ServerDeleted"
	ExecutionStarted  Type = "ExecutionStarted"
	ExecutionCompleted Type = "ExecutionCompleted"
	ExecutionFailed   Type = "ExecutionFailed"
	ToolsDiscovered   Type = "ToolsDiscovered"
)

// Event is the envelope every published domain event shares. Ordering
// across events is not preserved; Payload carries enough context
// (executionId, serverId) for a consumer to re-order if needed.
type Event struct {
	EventID   string    `json:"eventId"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// New stamps a fresh eventId and timestamp onto a payload.
func New(typ Type, payload any) Event {
	return Event{
		EventID:   uuid.NewString(),
		Type:      typ,
		Timestamp: time.Now(),
		Payload:   payload,
	}
}

// Sink is the abstract collaborator every producer in this core depends
// on. A failed Publish is the sink implementation's problem to swallow;
// callers never see emission errors.
type Sink interface {
	Publish(e Event)
}
