package crosswire

import "time"

// timerCallback wraps cb with the delivery routing for m: plain modules
// are invoked directly on the timer worker goroutine, async modules get
// the callback enqueued into their mailbox, slaves into their master's
// mailbox, and a nil module routes through the dispatcher's own mailbox.
func (d *Dispatcher) timerCallback(m Module, cb func()) func() {
	switch {
	case m == nil:
		return func() { d.queue.Push(cb) }
	case m.UsesQueuedSlots():
		return func() { m.CallbackQueue().Push(cb) }
	case m.IsSlave():
		return func() { m.Master().CallbackQueue().Push(cb) }
	default:
		return cb
	}
}

// AcquireTimer schedules cb with the delivery discipline of m, or direct
// invocation when m is nil. A zero period means one-shot; one-shot timers
// remove themselves after firing.
func (d *Dispatcher) AcquireTimer(m Module, delay, period time.Duration, cb func()) TimerID {
	if m == nil {
		return d.timers.Create(delay, period, cb)
	}
	return d.timers.Create(delay, period, d.timerCallback(m, cb))
}

// AcquireTimerDispatcher schedules cb for delivery through the
// dispatcher's mailbox.
func (d *Dispatcher) AcquireTimerDispatcher(delay, period time.Duration, cb func()) TimerID {
	return d.timers.Create(delay, period, d.timerCallback(nil, cb))
}

// DestroyTimer cancels a timer. If the callback is in flight the call
// blocks until it returns.
func (d *Dispatcher) DestroyTimer(id TimerID) bool {
	return d.timers.Destroy(id)
}

// TimerCount returns the number of live timers in the pool.
func (d *Dispatcher) TimerCount() int {
	return d.timers.Size()
}
