package journal

import (
	"slices"
	"sync"
	"time"
)

// Event represents a journaled event.
type Event struct {
	Time        time.Time
	Type        string // e.g., "order", "order_rejected"
	Description string
	Data        map[string]any
}

// Journaler interface for journaling events.
type Journaler interface {
	LogEvent(event Event) error
	GetEvents(eventType string, start, end time.Time) ([]Event, error)
}

// Book is an in-process journal owned by whoever creates it. It is safe for
// concurrent use.
type Book struct {
	mu     sync.Mutex
	events []Event
	now    func() time.Time
}

func NewBook() *Book {
	return &Book{now: time.Now}
}

// LogEvent appends event, stamping it with the current time when Time is zero.
func (b *Book) LogEvent(event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if event.Time.IsZero() {
		event.Time = b.now().UTC()
	}
	b.events = append(b.events, event)
	return nil
}

// GetEvents returns a copy of the events of eventType in [start, end]. An
// empty eventType matches every type and zero bounds are open.
func (b *Book) GetEvents(eventType string, start, end time.Time) ([]Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Event, 0, len(b.events))
	for _, e := range b.events {
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
	return slices.Clip(out), nil
}

func (b *Book) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
