// Package eventbus carries execution commands, collaborator notifications and lifecycle events
// between the API, the workers and delegate collaborators.
package eventbus

import (
	"context"
	"fmt"

	"github.com/dukex/stagehand/pkg/events"
)

type Event interface {
	GetType() events.EventType
}

// EventPublisher publishes an event under key. Events sharing a key keep their order on
// transports that partition.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event Event) error
}

type EventSubscriber interface {
	Handle(eventType events.EventType, handler EventHandler) error
	Subscribe(ctx context.Context) error
}

// EventHandler receives a pointer to the decoded event. A returned error nacks the message
// for redelivery.
type EventHandler func(ctx context.Context, event any) error

type EventBus interface {
	EventPublisher
	EventSubscriber
	Close() error
	GenerateID() string
}

// HandleAll registers every handler of the map on subscriber.
func HandleAll(subscriber EventSubscriber, handlers map[events.EventType]EventHandler) error {
	for eventType, handler := range handlers {
		err := subscriber.Handle(eventType, handler)
		if err != nil {
			return fmt.Errorf("failed to register %s handler: %w", eventType, err)
		}
	}

	return nil
}
