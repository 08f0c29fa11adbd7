package crosswire

import "sync"

// Receiver is the slot-holding side of the bus. Every module is a
// receiver, and so is the dispatcher. The delivery discipline of a slot
// invocation is a property of the receiver, never of the sender:
//
//   - plain receivers run slots synchronously on the emitting goroutine
//   - queued (async) receivers have slots enqueued into their own mailbox
//   - slave receivers have slots enqueued into their master's mailbox
type Receiver interface {
	// UsesQueuedSlots reports whether slot invocations are deferred to
	// the receiver's own mailbox.
	UsesQueuedSlots() bool

	// IsSlave reports whether slot invocations are redirected to a master.
	IsSlave() bool

	// Master returns the delivery target of a slave receiver, nil for
	// other kinds.
	Master() Receiver

	// CallbackQueue returns the receiver's mailbox. Only queued receivers
	// own one.
	CallbackQueue() *Mailbox

	slots() *SlotHolder
}

// signalRef is the view of a signal that a SlotHolder keeps for symmetric
// teardown.
type signalRef interface {
	dropReceiver(r Receiver)
}

// SlotHolder tracks the set of signals currently connected to a receiver,
// so that tearing the receiver down leaves no dangling connection on any
// signal. The module kind bases and the dispatcher embed it; it is not
// used on its own.
type SlotHolder struct {
	mu      sync.Mutex
	owner   Receiver
	senders map[signalRef]int // live connection count per signal
}

func (h *SlotHolder) slots() *SlotHolder { return h }

func (h *SlotHolder) signalConnect(s signalRef, owner Receiver) {
	h.mu.Lock()
	if h.senders == nil {
		h.senders = make(map[signalRef]int)
	}
	h.owner = owner
	h.senders[s]++
	h.mu.Unlock()
}

func (h *SlotHolder) signalDisconnect(s signalRef) {
	h.mu.Lock()
	if n, ok := h.senders[s]; ok {
		if n <= 1 {
			delete(h.senders, s)
		} else {
			h.senders[s] = n - 1
		}
	}
	h.mu.Unlock()
}

// SenderCount returns the number of distinct signals currently connected
// to the receiver.
func (h *SlotHolder) SenderCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.senders)
}

// DisconnectAll detaches the receiver from every signal pointing at it.
// The sender set is snapshotted under the holder lock and the signals are
// notified outside it, so signal-lock before holder-lock stays the only
// acquisition order on the bus.
func (h *SlotHolder) DisconnectAll() {
	h.mu.Lock()
	owner := h.owner
	refs := make([]signalRef, 0, len(h.senders))
	for s := range h.senders {
		refs = append(refs, s)
	}
	h.senders = nil
	h.mu.Unlock()

	for _, s := range refs {
		s.dropReceiver(owner)
	}
}

// connection binds a receiver together with the slot to invoke on it.
type connection[T any] struct {
	dest Receiver
	slot func(T)
}

// Signal is a typed many-to-many broadcaster. Signals are owned as data
// members by the module that emits them, never by the dispatcher. The
// zero value is ready to use.
//
// A connection stays live until either endpoint is torn down or
// Disconnect is called explicitly; teardown from either side leaves no
// dangling entry on the other.
type Signal[T any] struct {
	mu    sync.Mutex
	conns []connection[T]
}

// Connect appends a connection invoking slot on r for every emission.
func (s *Signal[T]) Connect(r Receiver, slot func(T)) {
	s.mu.Lock()
	s.conns = append(s.conns, connection[T]{dest: r, slot: slot})
	r.slots().signalConnect(s, r)
	s.mu.Unlock()
}

// Disconnect removes every connection to r and drops the back-reference.
func (s *Signal[T]) Disconnect(r Receiver) {
	s.mu.Lock()
	removed := s.remove(r)
	s.mu.Unlock()
	for ; removed > 0; removed-- {
		r.slots().signalDisconnect(s)
	}
}

// DisconnectAll removes every connection, notifying each receiver so its
// back-reference set stays consistent.
func (s *Signal[T]) DisconnectAll() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		c.dest.slots().signalDisconnect(s)
	}
}

// dropReceiver removes connections to r without notifying it back. Called
// by the receiver's own teardown, which already cleared its side.
func (s *Signal[T]) dropReceiver(r Receiver) {
	s.mu.Lock()
	s.remove(r)
	s.mu.Unlock()
}

// remove deletes connections to r, returning how many. Caller holds s.mu.
func (s *Signal[T]) remove(r Receiver) int {
	kept := s.conns[:0]
	for _, c := range s.conns {
		if c.dest != r {
			kept = append(kept, c)
		}
	}
	removed := len(s.conns) - len(kept)
	for i := len(kept); i < len(s.conns); i++ {
		s.conns[i] = connection[T]{}
	}
	s.conns = kept
	return removed
}

// IsConnected reports whether at least one connection is live.
func (s *Signal[T]) IsConnected() bool {
	return s.ConnectionCount() > 0
}

// ConnectionCount returns the number of live connections.
func (s *Signal[T]) ConnectionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Emit dispatches v to every connection, visiting them in registration
// order. The signal's lock is held across the dispatch, making one
// emission atomic with respect to Connect and Disconnect on the same
// signal. A plain slot that re-emits, connects or disconnects the same
// signal therefore deadlocks; this is a property of the design.
//
// For queued and slave receivers the argument is captured by value and
// arrival order within one receiver's mailbox matches emission order.
func (s *Signal[T]) Emit(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conns {
		deliver(c.dest, c.slot, v)
	}
}

func deliver[T any](dest Receiver, slot func(T), v T) {
	switch {
	case dest.UsesQueuedSlots():
		dest.CallbackQueue().Push(func() { slot(v) })
	case dest.IsSlave():
		dest.Master().CallbackQueue().Push(func() { slot(v) })
	default:
		slot(v)
	}
}
