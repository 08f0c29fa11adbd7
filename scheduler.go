package crosswire

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts the standard five-field cron form, an optional
// leading seconds field, and @-descriptors such as @hourly and @every.
var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// CronTimer fires a callback on a cron schedule by chaining one-shot pool
// timers: each firing re-arms the next from Schedule.Next.
type CronTimer struct {
	mu      sync.Mutex
	disp    *Dispatcher
	sched   cron.Schedule
	deliver func()
	current TimerID
	stopped bool
}

// AcquireCronTimer schedules cb according to the cron expression expr.
// Delivery follows the same routing as AcquireTimer for a non-nil m; a nil
// m routes through the dispatcher mailbox (AcquireTimer invokes a nil-module
// callback directly instead). The returned timer keeps firing until Stop is
// called or the runtime finalizes.
func (d *Dispatcher) AcquireCronTimer(expr string, m Module, cb func()) (*CronTimer, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		err = fmt.Errorf("parse cron expression %q: %w", expr, err)
		d.LogError("cannot schedule cron timer", "expression", expr, "error", err)
		return nil, err
	}

	ct := &CronTimer{
		disp:    d,
		sched:   sched,
		deliver: d.timerCallback(m, cb),
	}

	ct.mu.Lock()
	ct.arm()
	ct.mu.Unlock()
	return ct, nil
}

// arm schedules the next firing. Caller holds ct.mu.
func (ct *CronTimer) arm() {
	next := ct.sched.Next(time.Now())
	if next.IsZero() {
		ct.stopped = true
		return
	}
	delay := time.Until(next)
	if delay < 0 {
		delay = 0
	}
	ct.current = ct.disp.timers.Create(delay, 0, ct.fire)
}

// fire runs on the timer worker: deliver the payload, then re-arm.
func (ct *CronTimer) fire() {
	ct.mu.Lock()
	stopped := ct.stopped
	ct.mu.Unlock()
	if stopped {
		return
	}

	ct.deliver()

	ct.mu.Lock()
	if !ct.stopped {
		ct.arm()
	}
	ct.mu.Unlock()
}

// Stop cancels the schedule. A delivery in flight completes; no further
// firing happens after Stop returns.
func (ct *CronTimer) Stop() {
	ct.mu.Lock()
	if ct.stopped {
		ct.mu.Unlock()
		return
	}
	ct.stopped = true
	id := ct.current
	ct.mu.Unlock()

	ct.disp.timers.Destroy(id)
}
