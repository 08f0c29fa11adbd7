package crosswire

import (
	"container/heap"
	"sync"
	"time"

	"github.com/crosswirehq/crosswire/internal/gid"
)

// TimerID identifies a scheduled timer. Valid ids are never zero and are
// never reused within one pool.
type TimerID uint32

// timerItem is the record behind one scheduled timer.
type timerItem struct {
	id      TimerID
	next    time.Time
	period  time.Duration // zero = one-shot
	cb      func()
	running bool
	done    chan struct{} // set by Destroy racing an in-flight callback
}

// queueEntry is a reference to a timer item at a particular fire time.
// Entries go stale when the item is destroyed or rescheduled; the worker
// validates against the active map before acting on one.
type queueEntry struct {
	item *timerItem
	at   time.Time
}

type timerQueue []*queueEntry

func (q timerQueue) Len() int           { return len(q) }
func (q timerQueue) Less(i, j int) bool { return q[i].at.Before(q[j].at) }
func (q timerQueue) Swap(i, j int)      { q[i], q[j] = q[j], q[i] }
func (q *timerQueue) Push(x any)        { *q = append(*q, x.(*queueEntry)) }
func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return e
}

// TimerPool schedules one-shot and periodic callbacks on a single worker
// goroutine, started lazily on the first Create. Destroy synchronizes
// with an in-flight callback: once it returns, the callback is not
// running and will never run again.
type TimerPool struct {
	mu        sync.Mutex
	nextID    TimerID
	active    map[TimerID]*timerItem
	queue     timerQueue
	wake      chan struct{}
	quit      chan struct{}
	workerRun bool
	workerGID uint64
	workerEnd chan struct{}
	closed    bool
}

// NewTimerPool returns a pool with no worker goroutine yet.
func NewTimerPool() *TimerPool {
	return &TimerPool{
		nextID: 1,
		active: make(map[TimerID]*timerItem),
		wake:   make(chan struct{}, 1),
		quit:   make(chan struct{}),
	}
}

// Create schedules cb to fire after delay, and every period thereafter
// when period is non-zero. One-shot timers remove themselves after
// firing. Returns zero if the pool is closed.
func (p *TimerPool) Create(delay, period time.Duration, cb func()) TimerID {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0
	}
	if !p.workerRun {
		p.workerRun = true
		p.workerEnd = make(chan struct{})
		go p.worker()
	}

	id := p.nextID
	p.nextID++

	it := &timerItem{
		id:     id,
		next:   time.Now().Add(delay),
		period: period,
		cb:     cb,
	}
	p.active[id] = it
	e := &queueEntry{item: it, at: it.next}
	heap.Push(&p.queue, e)
	needNotify := p.queue[0] == e
	p.mu.Unlock()

	if needNotify {
		p.notify()
	}
	return id
}

// Destroy cancels the timer. If its callback is currently running on the
// worker, the call blocks until the callback returns; calling Destroy
// from inside that very callback returns immediately instead of
// deadlocking. Reports whether the id named a live timer.
func (p *TimerPool) Destroy(id TimerID) bool {
	p.mu.Lock()
	it, ok := p.active[id]
	if !ok {
		p.mu.Unlock()
		return false
	}

	if it.running {
		// Flag the in-flight callback's record for removal by the worker.
		it.running = false

		if gid.ID() == p.workerGID {
			// Called from inside the timer's own callback; the worker
			// removes the record as soon as the callback returns.
			p.mu.Unlock()
			return true
		}

		if it.done == nil {
			it.done = make(chan struct{})
		}
		done := it.done
		p.mu.Unlock()
		<-done
		return true
	}

	// Not firing: drop the record. The queue entry goes stale and is
	// skipped by the worker.
	delete(p.active, id)
	p.mu.Unlock()
	p.notify()
	return true
}

// DestroyAll cancels every current timer, with the same synchronization
// as Destroy. Id uniqueness is preserved across the call.
func (p *TimerPool) DestroyAll() {
	p.mu.Lock()
	ids := make([]TimerID, 0, len(p.active))
	for id := range p.active {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.Destroy(id)
	}
}

// Size returns the number of live timers.
func (p *TimerPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.active)
}

// Empty reports whether no timers are live.
func (p *TimerPool) Empty() bool {
	return p.Size() == 0
}

// Close stops the worker. Any callback in flight has returned by the time
// Close returns; timers still scheduled are dropped without firing.
// Subsequent Create calls return zero.
func (p *TimerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	running := p.workerRun
	p.mu.Unlock()

	close(p.quit)
	if running {
		<-p.workerEnd
	}
}

func (p *TimerPool) notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// peek discards stale queue entries and returns the earliest valid one.
// Caller holds p.mu.
func (p *TimerPool) peek() *queueEntry {
	for len(p.queue) > 0 {
		e := p.queue[0]
		if p.active[e.item.id] == e.item && !e.item.running && e.item.next.Equal(e.at) {
			return e
		}
		heap.Pop(&p.queue)
	}
	return nil
}

func (p *TimerPool) worker() {
	defer close(p.workerEnd)

	p.mu.Lock()
	p.workerGID = gid.ID()

	for !p.closed {
		e := p.peek()
		if e == nil {
			p.mu.Unlock()
			select {
			case <-p.wake:
			case <-p.quit:
			}
			p.mu.Lock()
			continue
		}

		now := time.Now()
		if now.Before(e.at) {
			wait := e.at.Sub(now)
			p.mu.Unlock()
			t := time.NewTimer(wait)
			select {
			case <-p.wake:
			case <-t.C:
			case <-p.quit:
			}
			t.Stop()
			p.mu.Lock()
			continue
		}

		heap.Pop(&p.queue)
		it := e.item
		it.running = true
		p.mu.Unlock()

		it.cb()

		p.mu.Lock()
		if it.running {
			it.running = false
			if it.period > 0 {
				it.next = it.next.Add(it.period)
				heap.Push(&p.queue, &queueEntry{item: it, at: it.next})
			} else {
				delete(p.active, it.id)
			}
		} else {
			// Destroy raced the callback; release the destroyer and drop
			// the record.
			if it.done != nil {
				close(it.done)
			}
			delete(p.active, it.id)
		}
	}
	p.mu.Unlock()
}
