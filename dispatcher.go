package crosswire

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// defaultWaitPeriod is how long run loops block on their mailbox before
// rechecking the quit flag.
const defaultWaitPeriod = 100 * time.Millisecond

// moduleSpec is the owning record for one registered module. When the
// module was loaded from a library, the handle is retained so the library
// outlives the module instance, and the resolved destroyer runs at
// unregistration.
type moduleSpec struct {
	module  Module
	library LibraryHandle
	dtor    ModuleDtor
}

// Dispatcher is the process-wide orchestrator: it owns the API-point
// registry, the registered modules, the timer pool and its own mailbox,
// and drives register / connect / start / run / stop across all of them.
//
// The dispatcher is itself a queued Receiver: slaves registered with an
// empty master name have their slots executed on the dispatcher's run
// loop, and log calls are forwarded through its mailbox once startup
// completes.
type Dispatcher struct {
	SlotHolder

	api      map[int]*APIPoint
	apiOrder []int

	specs      map[string]*moduleSpec
	order      []string
	runnables  []Module
	dispSlaves []Module
	mainModule Module

	queue    *Mailbox
	timers   *TimerPool
	settings *Settings
	logger   Logger

	waitPeriod time.Duration
	searchDirs []string
	loader     DynamicLoader

	quitFlag     atomic.Bool
	asyncLog     atomic.Bool
	startedCount atomic.Int32
	startOK      atomic.Bool

	finalizeMu sync.Mutex

	watchMu   sync.Mutex
	watchStop []func() error

	observers  map[string]*observerRegistration
	observerMu sync.RWMutex
}

// Option customizes a dispatcher at construction.
type Option func(*Dispatcher)

// WithWaitPeriod sets how long run loops block on their mailbox before
// rechecking the quit flag.
func WithWaitPeriod(d time.Duration) Option {
	return func(disp *Dispatcher) { disp.waitPeriod = d }
}

// WithSearchDirs sets the directories searched when a module library is
// registered by relative path or name. Empty means the current directory.
func WithSearchDirs(dirs ...string) Option {
	return func(disp *Dispatcher) { disp.searchDirs = dirs }
}

// WithLoader replaces the dynamic-library loader.
func WithLoader(l DynamicLoader) Option {
	return func(disp *Dispatcher) { disp.loader = l }
}

// NewDispatcher constructs a dispatcher over the given API-point table.
// Ids must be unique within the table. The settings bag is handed to each
// module's OnStart; the logger must outlive the dispatcher.
func NewDispatcher(api []APIPoint, settings *Settings, logger Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		api:        make(map[int]*APIPoint, len(api)),
		specs:      make(map[string]*moduleSpec),
		queue:      NewMailbox(),
		timers:     NewTimerPool(),
		settings:   settings,
		logger:     logger,
		waitPeriod: defaultWaitPeriod,
		loader:     NewPluginLoader(),
		observers:  make(map[string]*observerRegistration),
	}
	d.SlotHolder.owner = d
	for i := range api {
		p := &api[i]
		d.api[p.ID] = p
		d.apiOrder = append(d.apiOrder, p.ID)
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// The dispatcher participates in the bus as a queued receiver.

func (d *Dispatcher) UsesQueuedSlots() bool   { return true }
func (d *Dispatcher) IsSlave() bool           { return false }
func (d *Dispatcher) Master() Receiver        { return nil }
func (d *Dispatcher) CallbackQueue() *Mailbox { return d.queue }

// Quit requests shutdown of every run loop. Safe to call from any
// goroutine and from OS signal handlers; once set the flag is never
// cleared.
func (d *Dispatcher) Quit() {
	d.quitFlag.Store(true)
}

// IsQuit reports whether shutdown has been requested.
func (d *Dispatcher) IsQuit() bool {
	return d.quitFlag.Load()
}

// Settings returns the settings bag shared with every module's OnStart.
func (d *Dispatcher) Settings() *Settings { return d.settings }

// Count returns the number of registered modules.
func (d *Dispatcher) Count() int {
	return len(d.specs)
}

// IsModuleRegistered reports whether a module with the given name is
// registered.
func (d *Dispatcher) IsModuleRegistered(name string) bool {
	_, ok := d.specs[name]
	return ok
}

// SetMainModule designates the async module that will run its loop on
// the goroutine calling Exec; the dispatcher's own loop then moves to a
// separate goroutine.
func (d *Dispatcher) SetMainModule(name string) error {
	spec, ok := d.specs[name]
	if !ok {
		err := fmt.Errorf("%w: %s", ErrMainModuleNotFound, name)
		d.LogError("cannot set main module", "module", name, "error", err)
		return err
	}
	if !spec.module.UsesQueuedSlots() {
		err := fmt.Errorf("%w: %s", ErrMainModuleNotAsync, name)
		d.LogError("cannot set main module", "module", name, "error", err)
		return err
	}
	d.mainModule = spec.module
	return nil
}

// RegisterModule registers a statically constructed module under name.
// masterName applies only to slave modules: it names the async master, or
// links the slave to the dispatcher itself when empty.
func (d *Dispatcher) RegisterModule(name, masterName string, m Module) error {
	if m == nil {
		d.LogError("cannot register module", "module", name, "error", ErrModuleNil)
		return fmt.Errorf("%w: %s", ErrModuleNil, name)
	}
	return d.registerModule(name, masterName, &moduleSpec{module: m})
}

// RegisterModuleForPath registers a module loaded from the library at
// path. Relative paths are resolved against the configured search
// directories, current directory when none are set.
func (d *Dispatcher) RegisterModuleForPath(name, masterName, path string) error {
	spec, err := d.moduleForPath(path)
	if err != nil {
		return err
	}
	return d.registerModule(name, masterName, spec)
}

// RegisterModuleForName registers a module loaded from the library whose
// filename is derived from name by the platform convention.
func (d *Dispatcher) RegisterModuleForName(name, masterName string) error {
	spec, err := d.moduleForPath(BuildLibraryFilename(name))
	if err != nil {
		return err
	}
	return d.registerModule(name, masterName, spec)
}

func (d *Dispatcher) registerModule(name, masterName string, spec *moduleSpec) error {
	m := spec.module

	if _, dup := d.specs[name]; dup {
		err := fmt.Errorf("%w: %s", ErrModuleAlreadyRegistered, name)
		d.LogError("module registration rejected", "module", name, "error", err)
		return err
	}

	m.core().bind(name, d, m)

	if m.UsesQueuedSlots() {
		d.runnables = append(d.runnables, m)
	}

	var masterOwner slaveOwner
	switch {
	case m.IsSlave():
		if masterName == "" {
			m.(slaveLinker).setMaster(d)
			d.dispSlaves = append(d.dispSlaves, m)
		} else {
			master := d.findModule(masterName)
			if master == nil {
				err := fmt.Errorf("%w: %s", ErrMasterNotFound, masterName)
				d.LogError("module registration rejected", "module", name, "error", err)
				d.rollbackRegistration(m, nil)
				return err
			}
			owner, ok := master.(slaveOwner)
			if !ok || !master.UsesQueuedSlots() {
				err := fmt.Errorf("%w: %s", ErrMasterNotAsync, masterName)
				d.LogError("module registration rejected", "module", name, "error", err)
				d.rollbackRegistration(m, nil)
				return err
			}
			m.(slaveLinker).setMaster(master)
			owner.addSlave(m)
			masterOwner = owner
		}
	case masterName != "":
		err := fmt.Errorf("%w: %s", ErrMasterNotAllowed, name)
		d.LogError("module registration rejected", "module", name, "error", err)
		d.rollbackRegistration(m, nil)
		return err
	}

	if err := m.OnLoaded(); err != nil {
		wrapped := fmt.Errorf("%w: %s: %v", ErrModuleLoadFailed, name, err)
		d.LogError("module registration rejected", "module", name, "error", wrapped)
		d.rollbackRegistration(m, masterOwner)
		return wrapped
	}

	for _, eb := range m.Emitters() {
		point, ok := d.api[eb.ID]
		if !ok {
			d.LogWarn("emitter id not in API registry, endpoint dropped",
				"module", name, "id", eb.ID)
			continue
		}
		if err := point.Mapper.AppendEmitter(eb.Signal); err != nil {
			d.LogWarn("emitter rejected by API point, endpoint dropped",
				"module", name, "id", eb.ID, "error", err)
		}
	}

	for _, db := range m.Detectors() {
		point, ok := d.api[db.ID]
		if !ok {
			d.LogWarn("detector id not in API registry, endpoint dropped",
				"module", name, "id", db.ID)
			continue
		}
		if err := point.Mapper.AppendDetector(m, db.Slot); err != nil {
			d.LogWarn("detector rejected by API point, endpoint dropped",
				"module", name, "id", db.ID, "error", err)
		}
	}

	d.specs[name] = spec
	d.order = append(d.order, name)

	d.LogDebug("module registered", "module", name)
	d.emitEvent(EventTypeModuleRegistered, map[string]any{"moduleName": name})
	return nil
}

// rollbackRegistration undoes the wiring done before a registration
// failure so no module state is recorded.
func (d *Dispatcher) rollbackRegistration(m Module, masterOwner slaveOwner) {
	if m.UsesQueuedSlots() && len(d.runnables) > 0 && d.runnables[len(d.runnables)-1] == m {
		d.runnables = d.runnables[:len(d.runnables)-1]
	}
	if len(d.dispSlaves) > 0 && d.dispSlaves[len(d.dispSlaves)-1] == m {
		d.dispSlaves = d.dispSlaves[:len(d.dispSlaves)-1]
	}
	if masterOwner != nil {
		masterOwner.dropLastSlave()
	}
	if linker, ok := m.(slaveLinker); ok {
		linker.setMaster(nil)
	}
	m.core().unbind()
}

func (d *Dispatcher) findModule(name string) Module {
	if spec, ok := d.specs[name]; ok {
		return spec.module
	}
	return nil
}

// connectAll has every API point's mapper connect every emitter to every
// detector.
func (d *Dispatcher) connectAll() {
	for _, id := range d.apiOrder {
		d.api[id].Mapper.ConnectAll()
	}
}

func (d *Dispatcher) disconnectAll() {
	for _, id := range d.apiOrder {
		d.api[id].Mapper.DisconnectAll()
	}
}

// logVia routes one log call: directly to the sink before startup
// completes and once finalization begins, through the dispatcher mailbox
// in between.
func (d *Dispatcher) logVia(call func(Logger)) {
	if d.asyncLog.Load() {
		d.queue.Push(func() { call(d.logger) })
	} else {
		call(d.logger)
	}
}

// LogInfo logs through the dispatcher's routed logger.
func (d *Dispatcher) LogInfo(msg string, args ...any) {
	d.logVia(func(l Logger) { l.Info(msg, args...) })
}

// LogDebug logs through the dispatcher's routed logger.
func (d *Dispatcher) LogDebug(msg string, args ...any) {
	d.logVia(func(l Logger) { l.Debug(msg, args...) })
}

// LogWarn logs through the dispatcher's routed logger.
func (d *Dispatcher) LogWarn(msg string, args ...any) {
	d.logVia(func(l Logger) { l.Warn(msg, args...) })
}

// LogError logs through the dispatcher's routed logger.
func (d *Dispatcher) LogError(msg string, args ...any) {
	d.logVia(func(l Logger) { l.Error(msg, args...) })
}
