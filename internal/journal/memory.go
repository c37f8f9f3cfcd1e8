package journal

import (
	"sync"
	"time"
)

// DefaultCapacity bounds an in-memory journal when none is given.
const DefaultCapacity = 1024

// Memory is an in-process Journaler keeping the most recent events in a
// bounded buffer. Safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	events   []Event
	capacity int
}

// NewMemory returns a journal holding up to capacity events; older entries
// are dropped first. A non-positive capacity falls back to DefaultCapacity.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Memory{capacity: capacity}
}

// LogEvent appends the event, evicting the oldest entry when full.
func (m *Memory) LogEvent(event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == m.capacity {
		copy(m.events, m.events[1:])
		m.events = m.events[:len(m.events)-1]
	}
	m.events = append(m.events, event)
	return nil
}

// GetEvents returns events matching eventType (empty matches all) whose
// timestamps fall within [start, end]; zero bounds are open-ended.
func (m *Memory) GetEvents(eventType string, start, end time.Time) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, e := range m.events {
		if eventType != "" && e.Type != eventType {
			continue
		}
		if !start.IsZero() && e.Time.Before(start) {
			continue
		}
		if !end.IsZero() && e.Time.After(end) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
