package autotrace

import (
	"context"
	"fmt"
	"sync/atomic"
)

// threadKeyType is a private type for context keys to avoid collisions.
type threadKeyType string

const (
	threadKey threadKeyType = "autotrace"
)

// ThreadState is the lifecycle position of a Thread buffer.
type ThreadState int32

const (
	// StateUnregistered is the zero state before ThreadInit.
	StateUnregistered ThreadState = iota
	// StateActive accepts appends.
	StateActive
	// StateDraining is set while a flush is in progress.
	StateDraining
	// StateRetired is terminal.
	StateRetired
)

// String returns the string representation of ThreadState.
func (s ThreadState) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateActive:
		return "active"
	case StateDraining:
		return "draining"
	case StateRetired:
		return "retired"
	default:
		return "unknown"
	}
}

// Thread is a fixed-capacity event buffer owned by one thread of execution.
// Only the owner may call Enter, Exit and Quit; the runtime reads the buffer
// during the owner's own flushes and, after Quit on the runtime, during the
// force-flush of threads that never quit.
type Thread struct {
	rt      *Runtime
	events  []Event
	pending []FlushInfo // overflow flushes not yet shown to handlers
	last    uint64
	id      uint32
	state   atomic.Int32
}

// pendingFlushes bounds the queued flush notifications per thread. Further
// overflow flushes are merged into the last queued one.
const pendingFlushes = 64

// Enter records a function entry for addr.
//
// Enter must not be called after Quit on the thread or on the runtime; doing
// so panics with ErrUseAfterQuit.
func (t *Thread) Enter(addr uintptr) {
	t.record(KindBegin, uint64(addr))
}

// Exit records a function exit for addr.
func (t *Thread) Exit(addr uintptr) {
	t.record(KindEnd, uint64(addr))
}

// record is the capture hot path: no locks, no allocation, and nothing that
// can reach instrumented code. It blocks only when the buffer is full.
func (t *Thread) record(kind EventKind, addr uint64) {
	if t.rt.state.Load() != runtimeActive || ThreadState(t.state.Load()) != StateActive {
		t.misuse()
	}
	if t.rt.failed.Load() {
		t.rt.w.dropped.Add(1)
		return
	}
	if len(t.events) == cap(t.events) && !t.flush() {
		t.misuse()
	}

	// Read after the flush so a slow sink cannot reorder timestamps.
	ts := t.rt.clock.now()
	if ts < t.last {
		ts = t.last
	}
	t.last = ts
	t.events = append(t.events, Event{
		Timestamp: ts,
		Address:   addr,
		ThreadID:  t.id,
		Kind:      kind,
	})
}

func (t *Thread) misuse() {
	panic(fmt.Errorf("%w: thread %d is %s", ErrUseAfterQuit, t.id, t.State()))
}

// flush drains a full buffer through the writer and returns to Active.
// It reports false if the thread was taken out of Active by someone else.
// Handlers are not run here; the flush is queued for Sync or Quit.
func (t *Thread) flush() bool {
	if !t.state.CompareAndSwap(int32(StateActive), int32(StateDraining)) {
		return false
	}
	w := t.rt.w
	w.mu.Lock()
	info := w.flushLocked(t.id, t.events)
	t.events = t.events[:0]
	t.state.Store(int32(StateActive))
	t.rt.drained.Broadcast()
	w.mu.Unlock()

	t.rt.noteFailure(info)
	t.queue(info)
	return true
}

// queue stores info for delivery on the owning thread.
func (t *Thread) queue(info FlushInfo) {
	if len(t.pending) < cap(t.pending) {
		t.pending = append(t.pending, info)
		return
	}
	last := &t.pending[len(t.pending)-1]
	last.Events += info.Events
	last.Flushes += info.Flushes
	last.Offset = info.Offset
	if last.Err == nil {
		last.Err = info.Err
	}
}

// deliver runs the handlers for every queued flush, oldest first. Flushes
// queued by the handlers themselves are delivered in the same call.
func (t *Thread) deliver() {
	for len(t.pending) > 0 {
		info := t.pending[0]
		t.pending = append(t.pending[:0], t.pending[1:]...)
		t.rt.executeHandlers(info)
	}
}

// Sync runs the OnFlush handlers for flushes caused by a full buffer since
// the last Sync. Only the owner may call it, and only from code that is not
// itself traced. Handlers run on the calling thread and may record events.
func (t *Thread) Sync() {
	t.deliver()
}

// Quit drains the buffer, retires the thread and removes it from the
// runtime. Quitting a thread that is not active is a logged no-op.
func (t *Thread) Quit() {
	t.rt.retire(t)
}

// ID returns the caller-supplied thread identifier.
func (t *Thread) ID() uint32 {
	return t.id
}

// State returns the current lifecycle state.
func (t *Thread) State() ThreadState {
	return ThreadState(t.state.Load())
}

// Len returns the number of unflushed events. Only the owner may call it.
func (t *Thread) Len() int {
	return len(t.events)
}

// Cap returns the fixed buffer capacity.
func (t *Thread) Cap() int {
	return cap(t.events)
}

// WithThread returns a context carrying th, so hooks deep in a call chain
// can find the buffer of the thread they run on.
func WithThread(ctx context.Context, th *Thread) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, threadKey, th)
}

// ThreadFromContext extracts the thread from a context.
// Returns nil if no thread is present.
func ThreadFromContext(ctx context.Context) *Thread {
	if ctx == nil {
		return nil
	}
	if th, ok := ctx.Value(threadKey).(*Thread); ok {
		return th
	}
	return nil
}
