package journal

import "time"

// Event represents a journaled order event.
type Event struct {
	Time        time.Time
	Type        string // e.g., "order", "peg", "error", etc.
	Description string
	Data        map[string]any
}

// Journaler interface for journaling events.
type Journaler interface {
	LogEvent(event Event) error
	GetEvents(eventType string, start, end time.Time) ([]Event, error)
}

// OrderEvent builds an order audit record stamped with the current time.
func OrderEvent(description string, data map[string]any) Event {
	return Event{
		Time:        time.Now(),
		Type:        "order",
		Description: description,
		Data:        data,
	}
}

// PegEvent builds a peg strategy audit record stamped with the current time.
func PegEvent(description string, data map[string]any) Event {
	return Event{
		Time:        time.Now(),
		Type:        "peg",
		Description: description,
		Data:        data,
	}
}
