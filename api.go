// Package autotrace provides a low-overhead call-graph tracing runtime.
//
// autotrace records every function entry and exit reported by an external
// instrumentation hook, stages the events in per-thread fixed-size buffers
// and persists them as a compact binary trace for an offline viewer. It does
// not sample, unwind stacks or stream to live consumers.
//
// Core Components:
//   - Runtime: Process-wide registry with explicit init and teardown.
//   - Thread: Fixed-capacity, single-writer event buffer owned by one thread.
//   - Writer: Serializes flushed buffers into the trace sink under one lock.
//   - Event: A timestamped Begin or End record for one code address.
//
// Basic Usage:
//
//	var rt autotrace.Runtime
//	if err := rt.Init(autotrace.Config{Output: "trace.bin"}); err != nil {
//		// tracing disabled, program continues
//	}
//
//	th, err := rt.ThreadInit(1, autotrace.DefaultBufferCapacity)
//	if err != nil {
//		return err
//	}
//	th.Enter(addr)
//	th.Exit(addr)
//	th.Quit()
//
//	err = rt.Quit()
//
// Thread Safety:
//
// Runtime methods are safe for concurrent use. A Thread must only be written
// by the goroutine (or locked OS thread) that registered it; Enter and Exit
// take no locks and never allocate. The only blocking point is a flush of a
// full buffer, which contends on the Writer's mutex.
//
// OnFlush handlers never run inside Enter or Exit. They run on the owning
// thread at Thread.Sync or Thread.Quit; forced flushes are reported by
// Runtime.Quit.
//
// Ordering:
//
// Within one thread, file order is call order. Across threads, file order is
// flush arrival order; consumers sort by the embedded timestamp to rebuild a
// global timeline.
//
// Lifecycle Errors:
//
// Init reports an *InitError, ThreadInit a *ThreadInitError. Calling Enter or
// Exit after Quit is a programming error and panics with ErrUseAfterQuit.
// Quitting a thread twice is a no-op.
package autotrace

// DefaultBufferCapacity is the per-thread event capacity used when a caller
// does not pick one.
const DefaultBufferCapacity = 16 * 1024

// MaxBufferCapacity is the largest per-thread event capacity ThreadInit
// accepts.
const MaxBufferCapacity = 1 << 22
