package crosswire

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireCronTimerRejectsBadExpression(t *testing.T) {
	t.Parallel()
	d, logger := newTestDispatcher(nil)

	_, err := d.AcquireCronTimer("not a cron spec", nil, func() {})
	assert.Error(t, err)
	assert.Positive(t, logger.count("error"))
}

func TestAcquireCronTimerFiresAndRearms(t *testing.T) {
	t.Parallel()
	d, _ := newTestDispatcher(nil)

	var count atomic.Int32
	// Seconds-granularity schedule: every second.
	ct, err := d.AcquireCronTimer("* * * * * *", nil, func() {
		count.Add(1)
	})
	require.NoError(t, err)
	defer ct.Stop()

	// Firings route through the dispatcher mailbox; drain it as the run
	// loop would.
	deadline := time.Now().Add(5 * time.Second)
	for count.Load() < 2 && time.Now().Before(deadline) {
		d.queue.CallAll()
		time.Sleep(10 * time.Millisecond)
	}
	assert.GreaterOrEqual(t, count.Load(), int32(2))
}

func TestCronTimerStop(t *testing.T) {
	t.Parallel()
	d, _ := newTestDispatcher(nil)

	var count atomic.Int32
	ct, err := d.AcquireCronTimer("@every 1s", nil, func() {
		count.Add(1)
	})
	require.NoError(t, err)

	ct.Stop()
	ct.Stop() // idempotent

	time.Sleep(1200 * time.Millisecond)
	d.queue.CallAll()
	assert.Zero(t, count.Load())
	assert.Zero(t, d.TimerCount())
}

func TestCronTimerDescriptorSchedules(t *testing.T) {
	t.Parallel()
	d, _ := newTestDispatcher(nil)

	ct, err := d.AcquireCronTimer("@hourly", nil, func() {})
	require.NoError(t, err)
	assert.Equal(t, 1, d.TimerCount())
	ct.Stop()
	assert.Zero(t, d.TimerCount())
}
