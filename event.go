package xrail

import (
	"time"
)

// EventType enumerates loop lifecycle events delivered to observers.
type EventType string

const (
	EventDequeued      EventType = "dequeued"
	EventHandled       EventType = "handled"
	EventClientError   EventType = "client_error"
	EventDatabaseError EventType = "database_error"
	EventFailure       EventType = "failure"
	EventUnknownGroup  EventType = "unknown_group"
	EventReset         EventType = "reset"
	EventShutdown      EventType = "shutdown"
	EventClientClosed  EventType = "client_closed"
	EventHardwareState EventType = "hardware_state"
)

// Event carries loop telemetry for observers.
type Event struct {
	Type       EventType
	Generation string
	Kind       Kind
	Origin     AppID
	Duration   time.Duration
	Err        error

	observers []Observer
}

// Observer receives loop events, asynchronously when an ObserverPool is used.
type Observer interface {
	OnEvent(e Event)
}
