package telemetry

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/infractl/pkg/engine"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(ctx context.Context, event *engine.Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event *engine.Event) bool

// EventPublisher fans execution events out to subscribers.
// Delivery is synchronous, in subscription order, on the publishing goroutine.
type EventPublisher struct {
	subscribers []subscriberEntry
	filters     []EventFilter
	mu          sync.RWMutex
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

var _ engine.EventPublisher = (*EventPublisher)(nil)

// NewEventPublisher creates an event publisher with no subscribers.
func NewEventPublisher() *EventPublisher {
	return &EventPublisher{
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
	}
}

// Publish delivers event to every subscriber whose filter accepts it.
func (ep *EventPublisher) Publish(ctx context.Context, event *engine.Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, filter := range ep.filters {
		if !filter(event) {
			return nil
		}
	}

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(ctx, event)
	}
	return nil
}

// Subscribe adds a subscriber. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// SubscribePublisher forwards events to another engine.EventPublisher, such as Metrics.
func (ep *EventPublisher) SubscribePublisher(p engine.EventPublisher, filter EventFilter) {
	ep.Subscribe(func(ctx context.Context, event *engine.Event) {
		_ = p.Publish(ctx, event)
	}, filter)
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()
	ep.filters = append(ep.filters, filter)
}

// LogSubscriber returns a subscriber that writes events to logger at debug
// level, or error level for failures.
func LogSubscriber(logger *Logger) EventSubscriber {
	return func(_ context.Context, event *engine.Event) {
		zl := logger.Zerolog()
		e := zl.Debug()
		if event.Level() == "error" {
			e = zl.Error().Err(event.Err)
		}
		e.Str("event", string(event.Type)).
			Str("run_id", event.RunID).
			Str("operation", event.Operation).
			Dur("duration", event.Duration).
			Msg(event.Message)
	}
}

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		"info":  0,
		"error": 1,
	}
	minPriority := levels[minLevel]

	return func(event *engine.Event) bool {
		return levels[event.Level()] >= minPriority
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...engine.EventType) EventFilter {
	return func(event *engine.Event) bool {
		return slices.Contains(types, event.Type)
	}
}

// FilterByRunID creates a filter that only allows events for a specific run.
func FilterByRunID(runID string) EventFilter {
	return func(event *engine.Event) bool {
		return event.RunID == runID
	}
}

// FilterByOperation creates a filter that only allows events for a specific operation.
func FilterByOperation(name string) EventFilter {
	return func(event *engine.Event) bool {
		return event.Operation == name
	}
}
