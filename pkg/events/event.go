package events

import "time"

// Event defines the contract for all published events.
type Event interface {
	// EventType returns the unique code for this event (e.g. "REPORT_GENERATED").
	EventType() string

	Payload() map[string]interface{}

	Timestamp() time.Time
}

type BaseEvent struct {
	Type       string
	Data       map[string]interface{}
	OccurredAt time.Time
}

func (e BaseEvent) EventType() string {
	return e.Type
}

func (e BaseEvent) Payload() map[string]interface{} {
	return e.Data
}

func (e BaseEvent) Timestamp() time.Time {
	return e.OccurredAt
}
