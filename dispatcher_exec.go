package crosswire

import (
	"time"
)

// barrierSpin is the micro-sleep used while spinning on the start
// barrier. The barrier is crossed once per process lifetime.
const barrierSpin = 10 * time.Microsecond

// Exec wires every signal to every slot, runs the staged start-up, waits
// at the start barrier until every runnable module reported start
// completion, runs each module's event loop until quit is requested, and
// tears everything down in reverse order. It returns nil only when every
// module started successfully and the run phase ended by Quit.
func (d *Dispatcher) Exec() error {
	var err error

	ok := d.start()
	if ok {
		err = d.execMain()
		if !d.startOK.Load() {
			err = ErrModuleStartFailed
		}
	} else {
		err = ErrModuleStartFailed
	}

	if err != nil {
		d.emitEvent(EventTypeRuntimeFailed, map[string]any{"error": err.Error()})
	}

	d.finalize(ok)
	return err
}

// start connects the API table and runs the on-start stage for plain
// modules on the calling goroutine. Async and slave modules start inside
// their run wrappers. On full success the log routing switches to the
// dispatcher mailbox.
func (d *Dispatcher) start() bool {
	d.connectAll()

	ok := true
	for _, name := range d.order {
		m := d.specs[name].module
		if !m.IsSlave() && !m.UsesQueuedSlots() {
			if !d.startModule(m) {
				ok = false
			}
		}
	}

	if ok {
		// All plain modules started. Redirect log output through the
		// dispatcher mailbox until finalization begins.
		d.asyncLog.Store(true)
	}
	return ok
}

// execMain spawns one goroutine per runnable async module (the designated
// main module, if any, runs on the calling goroutine instead), runs the
// dispatcher loop, and joins everything on quit.
func (d *Dispatcher) execMain() error {
	d.startOK.Store(true)
	d.startedCount.Store(0)

	// The dispatcher loop reports to the barrier like any runnable.
	total := len(d.runnables) + 1

	done := make(chan struct{}, len(d.runnables))
	for _, m := range d.runnables {
		if m == d.mainModule {
			continue
		}
		go func(m Module) {
			defer func() { done <- struct{}{} }()
			d.runModule(m, total)
		}(m)
	}
	spawned := len(d.runnables)

	var mainErr error
	if d.mainModule != nil {
		spawned-- // main module runs here, not on a spawned goroutine
		loopDone := make(chan struct{})
		go func() {
			defer close(loopDone)
			d.runLoop(total)
		}()
		mainErr = d.runModule(d.mainModule, total)
		<-loopDone
	} else {
		d.runLoop(total)
	}

	for ; spawned > 0; spawned-- {
		<-done
	}
	return mainErr
}

// runModule is the run wrapper entered by every async module's goroutine:
// start self and slave children, report to the barrier, wait for the
// barrier, then drain, run, drain and finish.
func (d *Dispatcher) runModule(m Module, total int) error {
	ok := d.startModule(m)

	var slaves []Module
	if owner, isOwner := m.(slaveOwner); isOwner {
		slaves = owner.slaveModules()
	}
	if ok {
		for _, s := range slaves {
			if !d.startModule(s) {
				ok = false
			}
		}
	}

	d.reportStarted(ok)
	d.awaitBarrier(total)

	if !d.startOK.Load() {
		d.Quit()
		return ErrModuleStartFailed
	}

	queue := m.CallbackQueue()

	// Process events deferred during start-up, which may include a quit.
	queue.CallAll()
	if d.IsQuit() {
		return nil
	}

	var err error
	if runner, isRunner := m.(Runner); isRunner {
		err = runner.Run()
	} else {
		d.defaultRun(m)
	}

	queue.CallAll()

	for _, s := range slaves {
		d.finishModule(s)
	}
	d.finishModule(m)
	return err
}

// defaultRun is the run loop async modules get unless they implement
// Runner: wait on the mailbox for the configured period, drain, repeat.
func (d *Dispatcher) defaultRun(m Module) {
	queue := m.CallbackQueue()
	for !d.IsQuit() {
		queue.WaitFor(d.waitPeriod)
		queue.CallAll()
	}
}

// runLoop is the dispatcher's own loop: start dispatcher-bound slaves,
// report to the barrier, then serve the dispatcher mailbox until quit.
// On quit all timers are destroyed before the final drain, so their
// firings can no longer touch live modules.
func (d *Dispatcher) runLoop(total int) {
	ok := true
	for _, s := range d.dispSlaves {
		if !d.startModule(s) {
			ok = false
		}
	}

	d.reportStarted(ok)
	d.awaitBarrier(total)

	if d.startOK.Load() {
		d.emitEvent(EventTypeRuntimeStarted, nil)
	} else {
		d.Quit()
	}

	for !d.IsQuit() {
		d.queue.WaitFor(d.waitPeriod)
		d.queue.CallAll()
	}

	d.timers.DestroyAll()
	d.queue.CallAll()
}

// reportStarted increments the barrier counter, recording a failure when
// any start in this wrapper returned an error.
func (d *Dispatcher) reportStarted(ok bool) {
	if !ok {
		d.startOK.Store(false)
	}
	d.startedCount.Add(1)
}

// awaitBarrier spins until every runnable entity has reported.
func (d *Dispatcher) awaitBarrier(total int) {
	for int(d.startedCount.Load()) < total {
		time.Sleep(barrierSpin)
	}
}

// startModule runs OnStart, records the started flag and reports the
// per-module lifecycle event. Returns false on failure, which the caller
// translates per its stage.
func (d *Dispatcher) startModule(m Module) bool {
	c := m.core()
	if err := m.OnStart(d.settings); err != nil {
		d.LogError("failed to start module", "module", c.name, "error", err)
		return false
	}
	c.started = true
	d.LogDebug("module started", "module", c.name)
	d.emitEvent(EventTypeModuleStarted, map[string]any{"moduleName": c.name})
	return true
}

// finishModule runs OnFinish exactly once for a started module. Failures
// are logged as warnings and teardown continues.
func (d *Dispatcher) finishModule(m Module) {
	c := m.core()
	if !c.started || c.finished {
		return
	}
	c.finished = true
	if err := m.OnFinish(); err != nil {
		d.LogWarn("failed to finalize module", "module", c.name, "error", err)
	}
	d.emitEvent(EventTypeModuleFinished, map[string]any{"moduleName": c.name})
}

// finalize tears the runtime down: destroy the timer pool first so no
// firing can reach a dying module, drain (or clear, when start failed)
// the dispatcher mailbox, return log routing to synchronous, finish every
// started module that its run wrapper did not finish, disconnect the API
// table and unregister everything. Idempotent.
func (d *Dispatcher) finalize(wasStarted bool) {
	d.finalizeMu.Lock()
	defer d.finalizeMu.Unlock()

	d.timers.Close()
	d.stopWatchers()

	if wasStarted {
		d.queue.CallAll()
	} else {
		d.queue.Clear()
	}

	d.asyncLog.Store(false)

	if len(d.specs) > 0 {
		for _, name := range d.order {
			spec, ok := d.specs[name]
			if !ok {
				continue
			}
			d.finishModule(spec.module)
		}

		d.disconnectAll()
		d.unregisterAll()
	}

	d.queue.CallAll()
	d.emitEvent(EventTypeRuntimeStopped, nil)
}

// unregisterAll destroys modules in reverse registration order. Modules
// loaded from libraries are destroyed through their resolved destroyer
// before the library handle is released.
func (d *Dispatcher) unregisterAll() {
	d.runnables = nil
	d.dispSlaves = nil
	d.mainModule = nil

	for i := len(d.order) - 1; i >= 0; i-- {
		name := d.order[i]
		spec, ok := d.specs[name]
		if !ok {
			continue
		}
		m := spec.module

		// Drop any connections still pointing at the module.
		m.slots().DisconnectAll()
		m.core().unbind()

		if spec.dtor != nil {
			spec.dtor(m)
		}
		spec.module = nil
		// spec.library is released after the module it produced.
		spec.library = nil

		d.LogDebug("module unregistered", "module", name)
	}

	d.specs = make(map[string]*moduleSpec)
	d.order = nil
}

// Close finalizes the dispatcher. It is safe to call after Exec returned
// and from hosts that never ran Exec.
func (d *Dispatcher) Close() {
	d.finalize(true)
}
