// Package crosswire is an in-process component runtime. It hosts a
// collection of independent modules inside one executable, wires them
// together through a typed signal/slot bus, coordinates their lifecycles
// across cooperating goroutines, and provides a shared timer facility.
// Modules may be statically linked into the host binary or loaded at
// start-up from plugin libraries.
//
// A module is one of three kinds, fixed at construction by the base type
// it embeds:
//
//   - ModuleBase (plain): slots run synchronously on the emitting goroutine
//   - AsyncBase: owns a mailbox and runs on its own goroutine; slots are
//     enqueued into that mailbox
//   - SlaveBase: slots are enqueued into the master's mailbox and always
//     execute on the master's goroutine
//
// Basic usage:
//
//	api := []crosswire.APIPoint{
//		crosswire.NewAPIPoint[int](1, "measurement feed"),
//	}
//	d := crosswire.NewDispatcher(api, settings, logger)
//	d.RegisterModule("probe", "", &ProbeModule{})
//	d.RegisterModule("sink", "", &SinkModule{})
//	if err := d.Exec(); err != nil {
//		os.Exit(1)
//	}
package crosswire

import (
	"sync"
	"time"
)

// EmitterBinding declares that a signal data member of a module is bound
// to an API point. Signal must be the *Signal[T] whose T matches the API
// point's argument type.
type EmitterBinding struct {
	ID     int
	Signal any
}

// DetectorBinding declares that a slot of a module is bound to an API
// point. Slot must be a func(T) whose T matches the API point's argument
// type; it is invoked on the module per the module's delivery discipline.
type DetectorBinding struct {
	ID   int
	Slot any
}

// Module is a hosted component: a named lifecycle participant carrying
// declarative emitter and detector tables. Concrete modules embed one of
// the kind bases (ModuleBase, AsyncBase, SlaveBase) and override the
// methods they need.
type Module interface {
	Receiver

	// Name returns the unique name assigned at registration.
	Name() string

	// Emitters enumerates the module's signals by API-point id. Entries
	// whose id is not in the dispatcher's registry are dropped with a
	// warning.
	Emitters() []EmitterBinding

	// Detectors enumerates the module's slots by API-point id.
	Detectors() []DetectorBinding

	// OnLoaded runs inside registration, after the module is wired into
	// the dispatcher. A non-nil error fails the registration and rolls
	// the module back.
	OnLoaded() error

	// OnStart runs during startup with the runtime settings bag. A
	// non-nil error keeps the module out of the Started state and, for
	// runnable modules, records a failure on the start barrier.
	OnStart(settings *Settings) error

	// OnFinish runs exactly once at teardown for every module that
	// started: async modules and their slaves at the end of the async run
	// wrapper, every other started module during finalization. Errors are
	// logged as warnings; teardown continues.
	OnFinish() error

	core() *moduleCore
}

// Runner is an optional interface for async modules that replace the
// default run loop (wait on the mailbox, drain, repeat). Implementations
// remain obliged to drain the mailbox regularly (ProcessEvents) and to
// return once IsQuit reports true.
type Runner interface {
	Run() error
}

// moduleCore carries the state common to every module kind.
type moduleCore struct {
	SlotHolder

	name     string
	disp     *Dispatcher
	self     Module
	started  bool
	finished bool
}

func (c *moduleCore) core() *moduleCore { return c }

func (c *moduleCore) bind(name string, d *Dispatcher, self Module) {
	c.name = name
	c.disp = d
	c.self = self
	c.SlotHolder.owner = self
}

func (c *moduleCore) unbind() {
	c.disp = nil
	c.self = nil
}

// Name returns the unique name assigned at registration.
func (c *moduleCore) Name() string { return c.name }

// IsRegistered reports whether the module is owned by a dispatcher.
func (c *moduleCore) IsRegistered() bool { return c.disp != nil }

// IsStarted reports whether OnStart completed successfully.
func (c *moduleCore) IsStarted() bool { return c.started }

// Dispatcher returns the owning dispatcher, nil before registration.
func (c *moduleCore) Dispatcher() *Dispatcher { return c.disp }

// Quit requests runtime shutdown. Safe to call from any goroutine.
func (c *moduleCore) Quit() { c.disp.Quit() }

// IsQuit reports whether shutdown has been requested.
func (c *moduleCore) IsQuit() bool { return c.disp.IsQuit() }

// LogInfo logs through the dispatcher's routed logger.
func (c *moduleCore) LogInfo(msg string) {
	c.disp.logVia(func(l Logger) { l.Info(msg, "module", c.name) })
}

// LogDebug logs through the dispatcher's routed logger.
func (c *moduleCore) LogDebug(msg string) {
	c.disp.logVia(func(l Logger) { l.Debug(msg, "module", c.name) })
}

// LogWarn logs through the dispatcher's routed logger.
func (c *moduleCore) LogWarn(msg string) {
	c.disp.logVia(func(l Logger) { l.Warn(msg, "module", c.name) })
}

// LogError logs through the dispatcher's routed logger.
func (c *moduleCore) LogError(msg string) {
	c.disp.logVia(func(l Logger) { l.Error(msg, "module", c.name) })
}

// AcquireTimer schedules cb with the module's delivery discipline: invoked
// inline on the timer goroutine for plain modules, enqueued into the
// module's mailbox for async modules, into the master's mailbox for
// slaves. A zero period means one-shot.
func (c *moduleCore) AcquireTimer(delay, period time.Duration, cb func()) TimerID {
	return c.disp.AcquireTimer(c.self, delay, period, cb)
}

// AcquireTimerDispatcher schedules cb to be delivered through the
// dispatcher's mailbox.
func (c *moduleCore) AcquireTimerDispatcher(delay, period time.Duration, cb func()) TimerID {
	return c.disp.AcquireTimerDispatcher(delay, period, cb)
}

// DestroyTimer cancels a timer previously acquired by this module.
func (c *moduleCore) DestroyTimer(id TimerID) {
	c.disp.DestroyTimer(id)
}

// Default hook and table implementations; concrete modules override what
// they need.

func (c *moduleCore) Emitters() []EmitterBinding   { return nil }
func (c *moduleCore) Detectors() []DetectorBinding { return nil }
func (c *moduleCore) OnLoaded() error              { return nil }
func (c *moduleCore) OnStart(*Settings) error      { return nil }
func (c *moduleCore) OnFinish() error              { return nil }

// ModuleBase is the plain module kind. Slot invocations happen
// synchronously on the emitting goroutine.
type ModuleBase struct {
	moduleCore
}

func (*ModuleBase) UsesQueuedSlots() bool   { return false }
func (*ModuleBase) IsSlave() bool           { return false }
func (*ModuleBase) Master() Receiver        { return nil }
func (*ModuleBase) CallbackQueue() *Mailbox { return nil }

// AsyncBase is the asynchronous module kind. It owns a mailbox and the
// dispatcher runs it on its own goroutine: the default loop waits on the
// mailbox for the dispatcher's wait period, drains it, and repeats until
// quit. Override the loop by implementing Runner.
type AsyncBase struct {
	moduleCore

	queueOnce sync.Once
	queue     *Mailbox
	slaves    []Module
}

func (*AsyncBase) UsesQueuedSlots() bool { return true }
func (*AsyncBase) IsSlave() bool         { return false }
func (*AsyncBase) Master() Receiver      { return nil }

// CallbackQueue returns the module's mailbox, creating it on first use so
// the zero value of an embedding struct works.
func (b *AsyncBase) CallbackQueue() *Mailbox {
	b.queueOnce.Do(func() { b.queue = NewMailbox() })
	return b.queue
}

// ProcessEvents drains the mailbox, running every deferred slot and timer
// callback queued for this module.
func (b *AsyncBase) ProcessEvents() { b.CallbackQueue().CallAll() }

// ProcessEventsN runs up to max deferred invocations.
func (b *AsyncBase) ProcessEventsN(max int) { b.CallbackQueue().CallN(max) }

// HasPendingEvents reports whether deferred invocations are waiting.
func (b *AsyncBase) HasPendingEvents() bool { return !b.CallbackQueue().Empty() }

func (b *AsyncBase) addSlave(m Module)      { b.slaves = append(b.slaves, m) }
func (b *AsyncBase) dropLastSlave()         { b.slaves = b.slaves[:len(b.slaves)-1] }
func (b *AsyncBase) slaveModules() []Module { return b.slaves }

// SlaveBase is the slave module kind. Slot invocations are redirected
// into the master's mailbox, so the slave's slots always execute on the
// master's goroutine. The master is an async module named at
// registration, or the dispatcher itself when the master name is empty.
type SlaveBase struct {
	moduleCore

	master Receiver
}

func (*SlaveBase) UsesQueuedSlots() bool   { return false }
func (*SlaveBase) IsSlave() bool           { return true }
func (*SlaveBase) CallbackQueue() *Mailbox { return nil }

// Master returns the delivery target installed at registration.
func (b *SlaveBase) Master() Receiver { return b.master }

func (b *SlaveBase) setMaster(r Receiver) { b.master = r }

// slaveLinker is satisfied by SlaveBase; the dispatcher uses it to
// install the master back-link at registration.
type slaveLinker interface {
	setMaster(r Receiver)
}

// slaveOwner is satisfied by AsyncBase; the dispatcher uses it to attach
// slave children to their master.
type slaveOwner interface {
	addSlave(m Module)
	dropLastSlave()
	slaveModules() []Module
}
