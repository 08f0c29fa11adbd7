package crosswire

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCloudEvent(t *testing.T) {
	t.Parallel()
	metadata := map[string]interface{}{"key": "value"}
	event := NewCloudEvent("test.event", "test.source", "test data", metadata)

	assert.Equal(t, "test.event", event.Type())
	assert.Equal(t, "test.source", event.Source())
	assert.NotEmpty(t, event.ID())
	assert.False(t, event.Time().IsZero())

	var data string
	require.NoError(t, event.DataAs(&data))
	assert.Equal(t, "test data", data)

	val, ok := event.Extensions()["key"]
	require.True(t, ok)
	assert.Equal(t, "value", val)
}

func TestFunctionalObserver(t *testing.T) {
	t.Parallel()
	called := false
	var received cloudevents.Event

	obs := NewFunctionalObserver("test-observer", func(ctx context.Context, event cloudevents.Event) error {
		called = true
		received = event
		return nil
	})

	assert.Equal(t, "test-observer", obs.ObserverID())

	event := NewCloudEvent("test.event", "test", nil, nil)
	require.NoError(t, obs.OnEvent(context.Background(), event))
	assert.True(t, called)
	assert.Equal(t, event.Type(), received.Type())
}

// eventCollector records every event it observes.
type eventCollector struct {
	id string

	mu     sync.Mutex
	events []cloudevents.Event
	seen   chan string
}

func newEventCollector(id string) *eventCollector {
	return &eventCollector{id: id, seen: make(chan string, 64)}
}

func (c *eventCollector) OnEvent(_ context.Context, event cloudevents.Event) error {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
	c.seen <- event.Type()
	return nil
}

func (c *eventCollector) ObserverID() string { return c.id }

func (c *eventCollector) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type())
	}
	return out
}

func (c *eventCollector) waitFor(t *testing.T, eventType string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case got := <-c.seen:
			if got == eventType {
				return
			}
		case <-deadline:
			t.Fatalf("did not observe %s", eventType)
		}
	}
}

func TestDispatcherNotifiesModuleRegistered(t *testing.T) {
	t.Parallel()
	d, _ := newTestDispatcher(nil)

	collector := newEventCollector("registrations")
	require.NoError(t, d.RegisterObserver(collector, EventTypeModuleRegistered))

	require.NoError(t, d.RegisterModule("storage", "", &testPlainModule{}))
	collector.waitFor(t, EventTypeModuleRegistered)
}

func TestObserverEventTypeFilter(t *testing.T) {
	t.Parallel()
	d, _ := newTestDispatcher(nil)

	filtered := newEventCollector("filtered")
	require.NoError(t, d.RegisterObserver(filtered, EventTypeModuleStarted))

	require.NoError(t, d.RegisterModule("storage", "", &testPlainModule{}))
	quitAfter(d, 30*time.Millisecond)
	require.NoError(t, d.Exec())

	filtered.waitFor(t, EventTypeModuleStarted)
	for _, typ := range filtered.types() {
		assert.Equal(t, EventTypeModuleStarted, typ)
	}
}

func TestExecEmitsLifecycleEvents(t *testing.T) {
	t.Parallel()
	d, _ := newTestDispatcher(nil)

	collector := newEventCollector("lifecycle")
	require.NoError(t, d.RegisterObserver(collector))

	require.NoError(t, d.RegisterModule("storage", "", &testPlainModule{}))
	quitAfter(d, 30*time.Millisecond)
	require.NoError(t, d.Exec())

	collector.waitFor(t, EventTypeRuntimeStopped)

	// Each notification runs on its own goroutine, so events emitted before
	// runtime.stopped may still be in flight when it is observed.
	want := []string{EventTypeModuleRegistered, EventTypeModuleStarted, EventTypeRuntimeStarted, EventTypeModuleFinished}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		missing := false
		for _, typ := range want {
			if !slices.Contains(collector.types(), typ) {
				missing = true
			}
		}
		if !missing {
			break
		}
		time.Sleep(time.Millisecond)
	}

	types := collector.types()
	assert.Contains(t, types, EventTypeModuleRegistered)
	assert.Contains(t, types, EventTypeModuleStarted)
	assert.Contains(t, types, EventTypeRuntimeStarted)
	assert.Contains(t, types, EventTypeModuleFinished)
}

func TestUnregisterObserverIsIdempotent(t *testing.T) {
	t.Parallel()
	d, _ := newTestDispatcher(nil)

	obs := newEventCollector("transient")
	require.NoError(t, d.RegisterObserver(obs))
	require.Len(t, d.GetObservers(), 1)

	require.NoError(t, d.UnregisterObserver(obs))
	require.NoError(t, d.UnregisterObserver(obs))
	assert.Empty(t, d.GetObservers())
}

func TestGetObserversReportsFilters(t *testing.T) {
	t.Parallel()
	d, _ := newTestDispatcher(nil)

	require.NoError(t, d.RegisterObserver(newEventCollector("all")))
	require.NoError(t, d.RegisterObserver(newEventCollector("some"), EventTypeModuleStarted))

	infos := d.GetObservers()
	require.Len(t, infos, 2)
	for _, info := range infos {
		switch info.ID {
		case "all":
			assert.Empty(t, info.EventTypes)
		case "some":
			assert.Equal(t, []string{EventTypeModuleStarted}, info.EventTypes)
		default:
			t.Fatalf("unexpected observer %s", info.ID)
		}
		assert.False(t, info.RegisteredAt.IsZero())
	}
}

func TestObserverPanicIsContained(t *testing.T) {
	t.Parallel()
	d, logger := newTestDispatcher(nil)

	panicking := NewFunctionalObserver("panicky", func(context.Context, cloudevents.Event) error {
		panic("boom")
	})
	require.NoError(t, d.RegisterObserver(panicking))

	require.NoError(t, d.RegisterModule("storage", "", &testPlainModule{}))

	// The panic must be recovered and logged, not propagated.
	deadline := time.Now().Add(2 * time.Second)
	for logger.count("error") == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.Positive(t, logger.count("error"))
}
