package autotrace

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

const (
	runtimeUninitialized int32 = iota
	runtimeActive
	runtimeQuitting
	runtimeQuit
)

// FlushHandler is called after a buffer has been flushed.
type FlushHandler func(info FlushInfo)

type handlerEntry struct {
	handler FlushHandler
	id      uint64
}

// Stats is a point-in-time snapshot of a Runtime.
type Stats struct {
	Err     error // sticky sink error
	Bytes   int64
	Events  uint64
	Dropped uint64
	Threads int
}

// Runtime is the process-wide tracing registry. The zero value is ready for
// Init; a Runtime is initialized at most once and cannot be reused after Quit.
//
//nolint:govet // Field order optimized for functionality over memory
type Runtime struct {
	handlers     []handlerEntry
	panicHook    func(handlerID uint64, r interface{})
	w            *Writer
	threads      map[uint32]*Thread // guarded by w.mu
	drained      *sync.Cond         // on w.mu, signaled when a thread leaves Draining
	pool         *BufferPool
	logger       zerolog.Logger
	clock        clockSource
	cfg          Config
	handlersLock sync.RWMutex
	initMu       sync.Mutex
	nextID       atomic.Uint64
	state        atomic.Int32
	failed       atomic.Bool
}

// Init creates the trace file at cfg.Output and starts the runtime.
// It returns an *InitError if the file cannot be created or the runtime was
// already initialized.
func (r *Runtime) Init(cfg Config, opts ...Option) error {
	if cfg.Output == "" {
		return &InitError{Err: errors.New("empty output path")}
	}

	r.initMu.Lock()
	defer r.initMu.Unlock()

	if err := r.checkUninitialized(); err != nil {
		return &InitError{Target: cfg.Output, Err: err}
	}
	o := newOptions(opts)
	clock, err := newClockSource(o.clock)
	if err != nil {
		return &InitError{Target: cfg.Output, Err: err}
	}

	f, err := os.Create(cfg.Output)
	if err != nil {
		return &InitError{Target: cfg.Output, Err: err}
	}
	if err := r.initLocked(f, cfg, o, clock); err != nil {
		_ = f.Close()
		return &InitError{Target: cfg.Output, Err: err}
	}
	return nil
}

// InitWriter starts the runtime against an arbitrary sink. The sink is
// closed by Quit if it implements io.Closer, and its header is patched if it
// implements io.WriteSeeker.
func (r *Runtime) InitWriter(sink io.Writer, cfg Config, opts ...Option) error {
	if sink == nil {
		return &InitError{Target: cfg.Output, Err: errors.New("nil sink")}
	}

	r.initMu.Lock()
	defer r.initMu.Unlock()

	if err := r.checkUninitialized(); err != nil {
		return &InitError{Target: cfg.Output, Err: err}
	}
	o := newOptions(opts)
	clock, err := newClockSource(o.clock)
	if err != nil {
		return &InitError{Target: cfg.Output, Err: err}
	}
	if err := r.initLocked(sink, cfg, o, clock); err != nil {
		return &InitError{Target: cfg.Output, Err: err}
	}
	return nil
}

func (r *Runtime) checkUninitialized() error {
	switch r.state.Load() {
	case runtimeUninitialized:
		return nil
	case runtimeActive:
		return ErrAlreadyInitialized
	default:
		return ErrUseAfterQuit
	}
}

func (r *Runtime) initLocked(sink io.Writer, cfg Config, o options, clock clockSource) error {
	cfg = cfg.withDefaults()
	h := Header{
		Version:        FormatVersion,
		PointerSize:    PointerSize,
		Epoch:          clock.epochNanos(),
		TicksPerSecond: TicksPerSecond,
	}
	w, err := newWriter(sink, h, o.logger)
	if err != nil {
		return err
	}

	r.cfg = cfg
	r.clock = clock
	r.logger = o.logger
	r.w = w
	r.drained = sync.NewCond(&w.mu)
	r.threads = make(map[uint32]*Thread)
	r.pool = NewBufferPool(cfg.PoolSize, cfg.BufferCapacity)
	r.state.Store(runtimeActive)

	r.logger.Info().
		Str("output", cfg.Output).
		Int("buffer_capacity", cfg.BufferCapacity).
		Int("pointer_size", PointerSize).
		Msg("trace started")
	return nil
}

// ThreadInit registers a buffer for the calling thread. A capacity of zero
// or less selects Config.BufferCapacity; more than MaxBufferCapacity is
// rejected.
func (r *Runtime) ThreadInit(tid uint32, capacity int) (*Thread, error) {
	if err := r.checkActive(); err != nil {
		return nil, &ThreadInitError{ThreadID: tid, Err: err}
	}
	if capacity <= 0 {
		capacity = r.cfg.BufferCapacity
	}
	if capacity > MaxBufferCapacity {
		return nil, &ThreadInitError{
			ThreadID: tid,
			Err:      fmt.Errorf("%w: %d exceeds %d", ErrInvalidCapacity, capacity, MaxBufferCapacity),
		}
	}

	th := &Thread{
		rt:      r,
		id:      tid,
		events:  r.pool.Get(capacity),
		pending: make([]FlushInfo, 0, pendingFlushes),
	}
	if err := r.register(th); err != nil {
		r.pool.Put(th.events)
		return nil, &ThreadInitError{ThreadID: tid, Err: err}
	}

	r.logger.Debug().Uint32("thread", tid).Int("capacity", capacity).Msg("thread registered")
	return th, nil
}

func (r *Runtime) register(th *Thread) error {
	r.w.mu.Lock()
	defer r.w.mu.Unlock()

	// Quit flips the state before taking the lock.
	if err := r.checkActive(); err != nil {
		return err
	}
	if _, ok := r.threads[th.id]; ok {
		return ErrAlreadyRegistered
	}
	th.state.Store(int32(StateActive))
	r.threads[th.id] = th
	return nil
}

func (r *Runtime) checkActive() error {
	switch r.state.Load() {
	case runtimeUninitialized:
		return ErrNotInitialized
	case runtimeActive:
		return nil
	default:
		return ErrUseAfterQuit
	}
}

// Thread returns the registered buffer for tid, or nil.
func (r *Runtime) Thread(tid uint32) *Thread {
	if r.state.Load() != runtimeActive {
		return nil
	}
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	return r.threads[tid]
}

// ThreadQuit quits the thread registered as tid. Unknown ids are a logged
// no-op.
func (r *Runtime) ThreadQuit(tid uint32) {
	th := r.Thread(tid)
	if th == nil {
		r.logger.Debug().Uint32("thread", tid).Msg("thread quit ignored: no active buffer")
		return
	}
	th.Quit()
}

// retire performs the final flush of t, deregisters it and delivers its
// queued flushes followed by the final one.
func (r *Runtime) retire(t *Thread) {
	if !t.state.CompareAndSwap(int32(StateActive), int32(StateDraining)) {
		r.logger.Debug().
			Uint32("thread", t.id).
			Stringer("state", t.State()).
			Msg("thread quit ignored: no active buffer")
		return
	}

	r.w.mu.Lock()
	info := r.w.flushLocked(t.id, t.events)
	if r.threads[t.id] == t {
		delete(r.threads, t.id)
	}
	t.state.Store(int32(StateRetired))
	r.drained.Broadcast()
	r.w.mu.Unlock()

	r.recycle(t)
	r.noteFailure(info)
	r.logger.Debug().Uint32("thread", t.id).Int("events", info.Events).Msg("thread retired")
	t.deliver()
	r.executeHandlers(info)
}

func (r *Runtime) recycle(t *Thread) {
	r.pool.Put(t.events)
	t.events = nil
}

// claimLocked moves t to Draining for a forced flush. A flush or retire
// already running on the owner is waited out; it reports false if t retired
// meanwhile. The caller holds w.mu.
func (r *Runtime) claimLocked(t *Thread) bool {
	for {
		if t.state.CompareAndSwap(int32(StateActive), int32(StateDraining)) {
			return true
		}
		if t.State() != StateDraining {
			return false
		}
		r.drained.Wait()
	}
}

// Quit force-flushes every thread that is still registered, finalizes the
// trace and tears the runtime down. Threads that have not quit must no
// longer be appending; a flush or Thread.Quit already in progress is waited
// for. Any Enter or Exit afterwards panics.
func (r *Runtime) Quit() error {
	if !r.state.CompareAndSwap(runtimeActive, runtimeQuitting) {
		if r.state.Load() == runtimeUninitialized {
			return ErrNotInitialized
		}
		return ErrUseAfterQuit
	}

	r.w.mu.Lock()
	ids := make([]uint32, 0, len(r.threads))
	for id := range r.threads {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	type forcedFlush struct {
		th   *Thread
		info FlushInfo
	}
	forced := make([]forcedFlush, 0, len(ids))
	for _, id := range ids {
		th := r.threads[id]
		if th == nil || !r.claimLocked(th) {
			continue
		}
		info := r.w.flushLocked(id, th.events)
		info.Forced = true
		th.state.Store(int32(StateRetired))
		forced = append(forced, forcedFlush{th: th, info: info})
		r.logger.Info().Uint32("thread", id).Int("events", info.Events).Msg("force flushed thread that never quit")
	}
	r.threads = make(map[uint32]*Thread)
	err := r.w.finalizeLocked()
	events, dropped := r.w.events, r.w.dropped.Load()
	r.w.mu.Unlock()

	for _, f := range forced {
		r.recycle(f.th)
		f.th.deliver()
		r.executeHandlers(f.info)
	}
	r.pool.Close()
	r.state.Store(runtimeQuit)

	ev := r.logger.Info()
	if err != nil {
		ev = r.logger.Error().Err(err)
	}
	ev.Uint64("events", events).Uint64("dropped", dropped).Msg("trace finalized")
	return err
}

// NameAddress records a symbol name for addr in the trace footer.
func (r *Runtime) NameAddress(addr uintptr, name string) error {
	if err := r.checkActive(); err != nil {
		return err
	}
	r.w.NameAddress(uint64(addr), name)
	return nil
}

// Stats returns a snapshot of the runtime counters.
func (r *Runtime) Stats() Stats {
	if r.state.Load() == runtimeUninitialized {
		return Stats{}
	}
	r.w.mu.Lock()
	defer r.w.mu.Unlock()
	return Stats{
		Threads: len(r.threads),
		Events:  r.w.events,
		Dropped: r.w.dropped.Load(),
		Bytes:   r.w.offset,
		Err:     r.w.err,
	}
}

// Header returns the trace header as last written.
func (r *Runtime) Header() (Header, error) {
	if r.state.Load() == runtimeUninitialized {
		return Header{}, ErrNotInitialized
	}
	return r.w.Header(), nil
}

// noteFailure makes a sink failure visible to the capture path.
func (r *Runtime) noteFailure(info FlushInfo) {
	if info.Err != nil && errors.Is(info.Err, ErrWriterFailed) {
		r.failed.Store(true)
	}
}

// OnFlush registers a handler called once per flush, outside the write lock.
//
// Handlers never run inside Enter or Exit. A flush caused by a full buffer
// is queued on its thread and delivered by Thread.Sync or Thread.Quit on the
// owning thread; up to 64 are queued, later ones are merged into the last
// (see FlushInfo.Flushes). The final flush of Thread.Quit and the forced
// flushes of Runtime.Quit are delivered right after them.
func (r *Runtime) OnFlush(handler FlushHandler) uint64 {
	if handler == nil {
		return 0
	}

	id := r.nextID.Add(1)

	r.handlersLock.Lock()
	defer r.handlersLock.Unlock()

	r.handlers = append(r.handlers, handlerEntry{
		id:      id,
		handler: handler,
	})

	return id
}

// RemoveHandler removes a handler by ID.
func (r *Runtime) RemoveHandler(id uint64) {
	r.handlersLock.Lock()
	defer r.handlersLock.Unlock()

	// Preserve order
	for i, h := range r.handlers {
		if h.id == id {
			copy(r.handlers[i:], r.handlers[i+1:])
			r.handlers = r.handlers[:len(r.handlers)-1]
			return
		}
	}
}

// SetPanicHook sets a function to be called when a handler panics.
func (r *Runtime) SetPanicHook(hook func(handlerID uint64, r interface{})) {
	r.handlersLock.Lock()
	defer r.handlersLock.Unlock()
	r.panicHook = hook
}

func (r *Runtime) executeHandlers(info FlushInfo) {
	r.handlersLock.RLock()
	if len(r.handlers) == 0 {
		r.handlersLock.RUnlock()
		return
	}

	handlers := make([]handlerEntry, len(r.handlers))
	copy(handlers, r.handlers)
	hook := r.panicHook
	r.handlersLock.RUnlock()

	for _, h := range handlers {
		safeCall(h, info, hook)
	}
}

func safeCall(entry handlerEntry, info FlushInfo, hook func(uint64, interface{})) {
	defer func() {
		if rec := recover(); rec != nil {
			if hook != nil {
				hook(entry.id, rec)
			}
		}
	}()
	entry.handler(info)
}
