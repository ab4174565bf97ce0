package fleet

// Event represents a fleet lifecycle event.
// Minimal and stable: name + worker ID and optional fields via key/values.
type Event struct {
	Name     string
	WorkerID string
	Fields   map[string]any
}

// EventPublisher receives events from the fleet. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}
