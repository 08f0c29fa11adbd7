// Observer pattern interfaces for the runtime's lifecycle notifications.
// Events use the CloudEvents specification for a standardized format and
// interoperability with external systems.
package crosswire

import (
	"context"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// Observer is notified of lifecycle events emitted by a Subject. Each
// notification is delivered on its own goroutine, so a slow observer does
// not delay the emitter or other observers.
type Observer interface {
	// OnEvent is called when an event the observer subscribed to occurs.
	OnEvent(ctx context.Context, event cloudevents.Event) error

	// ObserverID returns a unique identifier used for registration
	// tracking and debugging.
	ObserverID() string
}

// Subject emits lifecycle events to registered observers. The dispatcher
// implements it.
type Subject interface {
	// RegisterObserver adds an observer, optionally filtered to the given
	// event types. An empty filter receives all events.
	RegisterObserver(observer Observer, eventTypes ...string) error

	// UnregisterObserver removes an observer. Idempotent.
	UnregisterObserver(observer Observer) error

	// NotifyObservers sends an event to all interested observers without
	// blocking the caller.
	NotifyObservers(ctx context.Context, event cloudevents.Event) error

	// GetObservers returns information about registered observers.
	GetObservers() []ObserverInfo
}

// ObserverInfo describes one registered observer.
type ObserverInfo struct {
	// ID is the unique identifier of the observer.
	ID string `json:"id"`

	// EventTypes are the subscribed event types; empty means all.
	EventTypes []string `json:"eventTypes"`

	// RegisteredAt is when the observer was registered.
	RegisteredAt time.Time `json:"registeredAt"`
}

// Event types emitted by the core, in reverse-domain notation.
const (
	EventTypeModuleRegistered = "com.crosswire.module.registered"
	EventTypeModuleStarted    = "com.crosswire.module.started"
	EventTypeModuleFinished   = "com.crosswire.module.finished"

	EventTypeRuntimeStarted = "com.crosswire.runtime.started"
	EventTypeRuntimeStopped = "com.crosswire.runtime.stopped"
	EventTypeRuntimeFailed  = "com.crosswire.runtime.failed"

	EventTypeSettingsChanged = "com.crosswire.settings.changed"
)

// CloudEvent is an alias for the CloudEvents Event type.
type CloudEvent = cloudevents.Event

// NewCloudEvent creates a properly formed CloudEvent.
func NewCloudEvent(eventType, source string, data interface{}, metadata map[string]interface{}) cloudevents.Event {
	event := cloudevents.NewEvent()

	event.SetID(generateEventID())
	event.SetSource(source)
	event.SetType(eventType)
	event.SetTime(time.Now())
	event.SetSpecVersion(cloudevents.VersionV1)

	if data != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, data)
	}

	for key, value := range metadata {
		event.SetExtension(key, value)
	}

	return event
}

// generateEventID produces time-ordered unique event ids using UUIDv7.
func generateEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// FunctionalObserver wraps a handler function as an Observer, for quick
// observer creation without defining a struct.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates an observer that delegates to handler.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) Observer {
	return &FunctionalObserver{
		id:      id,
		handler: handler,
	}
}

// OnEvent implements Observer by calling the handler function.
func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

// ObserverID implements Observer.
func (f *FunctionalObserver) ObserverID() string {
	return f.id
}
