package crosswire

import (
	"context"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
)

// eventSource identifies the dispatcher as the origin of core lifecycle
// events.
const eventSource = "crosswire.dispatcher"

// observerRegistration holds one registered observer.
type observerRegistration struct {
	observer     Observer
	eventTypes   map[string]bool // empty = all events
	registeredAt time.Time
}

// RegisterObserver adds an observer to receive lifecycle notifications.
// Observers can optionally filter events by type; an empty filter
// receives all events.
func (d *Dispatcher) RegisterObserver(observer Observer, eventTypes ...string) error {
	d.observerMu.Lock()
	defer d.observerMu.Unlock()

	eventTypeMap := make(map[string]bool)
	for _, eventType := range eventTypes {
		eventTypeMap[eventType] = true
	}

	d.observers[observer.ObserverID()] = &observerRegistration{
		observer:     observer,
		eventTypes:   eventTypeMap,
		registeredAt: time.Now(),
	}

	d.LogDebug("observer registered", "observerID", observer.ObserverID(), "eventTypes", eventTypes)
	return nil
}

// UnregisterObserver removes an observer. Idempotent.
func (d *Dispatcher) UnregisterObserver(observer Observer) error {
	d.observerMu.Lock()
	defer d.observerMu.Unlock()

	if _, exists := d.observers[observer.ObserverID()]; exists {
		delete(d.observers, observer.ObserverID())
		d.LogDebug("observer unregistered", "observerID", observer.ObserverID())
	}

	return nil
}

// NotifyObservers sends a CloudEvent to every interested observer. The
// notification is non-blocking for the caller; observer errors and panics
// are logged and contained.
func (d *Dispatcher) NotifyObservers(ctx context.Context, event cloudevents.Event) error {
	d.observerMu.RLock()
	defer d.observerMu.RUnlock()

	if event.Time().IsZero() {
		event.SetTime(time.Now())
	}

	if err := event.Validate(); err != nil {
		d.LogError("invalid lifecycle event", "eventType", event.Type(), "error", err)
		return err
	}

	for _, registration := range d.observers {
		if len(registration.eventTypes) > 0 && !registration.eventTypes[event.Type()] {
			continue
		}

		registration := registration
		go func() {
			defer func() {
				if r := recover(); r != nil {
					d.LogError("observer panicked",
						"observerID", registration.observer.ObserverID(),
						"event", event.Type(), "panic", r)
				}
			}()

			if err := registration.observer.OnEvent(ctx, event); err != nil {
				d.LogError("observer error",
					"observerID", registration.observer.ObserverID(),
					"event", event.Type(), "error", err)
			}
		}()
	}

	return nil
}

// GetObservers returns information about registered observers.
func (d *Dispatcher) GetObservers() []ObserverInfo {
	d.observerMu.RLock()
	defer d.observerMu.RUnlock()

	info := make([]ObserverInfo, 0, len(d.observers))
	for _, registration := range d.observers {
		eventTypes := make([]string, 0, len(registration.eventTypes))
		for eventType := range registration.eventTypes {
			eventTypes = append(eventTypes, eventType)
		}

		info = append(info, ObserverInfo{
			ID:           registration.observer.ObserverID(),
			EventTypes:   eventTypes,
			RegisteredAt: registration.registeredAt,
		})
	}

	return info
}

// emitEvent builds and fans out one lifecycle CloudEvent.
func (d *Dispatcher) emitEvent(eventType string, data map[string]any) {
	d.observerMu.RLock()
	empty := len(d.observers) == 0
	d.observerMu.RUnlock()
	if empty {
		return
	}

	event := NewCloudEvent(eventType, eventSource, data, nil)
	if err := d.NotifyObservers(context.Background(), event); err != nil {
		d.LogError("failed to notify observers", "event", eventType, "error", err)
	}
}
