package crosswire

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crosswirehq/crosswire/internal/gid"
)

// Slave slots always execute on the master's goroutine, wherever the
// emission comes from.
func TestSlaveSlotRunsOnMasterGoroutine(t *testing.T) {
	t.Parallel()
	d, _ := newTestDispatcher([]APIPoint{NewAPIPoint[int](2, "tags")})

	var masterGID, slotGID atomic.Uint64

	master := &testAsyncModule{}
	master.onStart = func(*Settings) error {
		// OnStart for an async module runs inside its run wrapper, on
		// the module's own goroutine.
		masterGID.Store(gid.ID())
		return nil
	}

	slave := &testSlaveModule{}
	done := make(chan struct{})
	slave.detectors = []DetectorBinding{{ID: 2, Slot: func(int) {
		slotGID.Store(gid.ID())
		close(done)
	}}}

	var sig Signal[int]
	source := &testPlainModule{
		emitters: []EmitterBinding{{ID: 2, Signal: &sig}},
	}

	require.NoError(t, d.RegisterModule("hub", "", master))
	require.NoError(t, d.RegisterModule("follower", "hub", slave))
	require.NoError(t, d.RegisterModule("source", "", source))

	go func() {
		// Emit from a third goroutine once the run phase is underway.
		time.Sleep(30 * time.Millisecond)
		sig.Emit(5)
		<-done
		d.Quit()
	}()

	require.NoError(t, d.Exec())

	require.NotZero(t, masterGID.Load())
	assert.Equal(t, masterGID.Load(), slotGID.Load())
}

// Async slots execute on the receiver's own goroutine; plain slots on the
// emitting goroutine.
func TestSlotGoroutineAffinityByKind(t *testing.T) {
	t.Parallel()
	d, _ := newTestDispatcher([]APIPoint{NewAPIPoint[int](1, "readings")})

	var asyncGID, asyncSlotGID, plainSlotGID atomic.Uint64
	asyncDone := make(chan struct{})

	async := &testAsyncModule{}
	async.onStart = func(*Settings) error {
		asyncGID.Store(gid.ID())
		return nil
	}
	async.detectors = []DetectorBinding{{ID: 1, Slot: func(int) {
		asyncSlotGID.Store(gid.ID())
		close(asyncDone)
	}}}

	plain := &testPlainModule{}
	plain.detectors = []DetectorBinding{{ID: 1, Slot: func(int) {
		plainSlotGID.Store(gid.ID())
	}}}

	var sig Signal[int]
	source := &testPlainModule{
		emitters: []EmitterBinding{{ID: 1, Signal: &sig}},
	}

	require.NoError(t, d.RegisterModule("async", "", async))
	require.NoError(t, d.RegisterModule("plain", "", plain))
	require.NoError(t, d.RegisterModule("source", "", source))

	var emitterGID atomic.Uint64
	go func() {
		time.Sleep(30 * time.Millisecond)
		emitterGID.Store(gid.ID())
		sig.Emit(9)
		<-asyncDone
		d.Quit()
	}()

	require.NoError(t, d.Exec())

	assert.Equal(t, emitterGID.Load(), plainSlotGID.Load(),
		"plain slot must run on the emitting goroutine")
	assert.Equal(t, asyncGID.Load(), asyncSlotGID.Load(),
		"async slot must run on the receiver's goroutine")
	assert.NotEqual(t, emitterGID.Load(), asyncSlotGID.Load())
}

// Slaves attached to an async master are started and finished by the
// master's run wrapper.
func TestSlaveLifecycleFollowsMaster(t *testing.T) {
	t.Parallel()
	d, _ := newTestDispatcher(nil)

	var mu sync.Mutex
	var order []string
	record := func(step string) {
		mu.Lock()
		order = append(order, step)
		mu.Unlock()
	}

	master := &testAsyncModule{}
	master.onStart = func(*Settings) error {
		record("master.start")
		return nil
	}
	master.onFinish = func() error {
		record("master.finish")
		return nil
	}

	slave := &testSlaveModule{}
	slave.onStart = func(*Settings) error {
		record("slave.start")
		return nil
	}

	require.NoError(t, d.RegisterModule("hub", "", master))
	require.NoError(t, d.RegisterModule("follower", "hub", slave))

	quitAfter(d, 40*time.Millisecond)
	require.NoError(t, d.Exec())

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(order), 3)
	assert.Equal(t, "master.start", order[0])
	assert.Equal(t, "slave.start", order[1])
	assert.Equal(t, 1, slave.finishCalls)
	assert.Equal(t, 1, master.finishCalls)
}

// A failing slave start counts as a barrier failure for its master's
// wrapper.
func TestSlaveStartFailureFailsExec(t *testing.T) {
	t.Parallel()
	d, _ := newTestDispatcher(nil)

	master := &testAsyncModule{}
	slave := &testSlaveModule{onStart: func(*Settings) error { return assert.AnError }}

	require.NoError(t, d.RegisterModule("hub", "", master))
	require.NoError(t, d.RegisterModule("follower", "hub", slave))

	err := d.Exec()
	assert.ErrorIs(t, err, ErrModuleStartFailed)
	assert.False(t, slave.IsStarted())
}
