package autotrace

import (
	"context"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Threads spawns and joins worker threads with stable identifiers. Each
// spawned function runs locked to its own OS thread.
type Threads struct {
	g    errgroup.Group
	next atomic.Uint32
}

// NewThreads returns a spawner whose first thread gets id first.
func NewThreads(first uint32) *Threads {
	ts := &Threads{}
	ts.next.Store(first)
	return ts
}

// Spawn runs fn on a new locked thread and returns its id.
func (ts *Threads) Spawn(fn func(id uint32) error) uint32 {
	id := ts.next.Add(1) - 1
	ts.g.Go(func() error {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		return fn(id)
	})
	return id
}

// SpawnTraced registers a buffer for the new thread, passes it to fn through
// ctx and quits it when fn returns.
func (ts *Threads) SpawnTraced(ctx context.Context, rt *Runtime, capacity int, fn func(ctx context.Context) error) uint32 {
	return ts.Spawn(func(id uint32) error {
		th, err := rt.ThreadInit(id, capacity)
		if err != nil {
			return err
		}
		defer th.Quit()
		return fn(WithThread(ctx, th))
	})
}

// Join waits for every spawned thread and returns the first error.
func (ts *Threads) Join() error {
	return ts.g.Wait()
}

// CurrentID returns the id of the traced thread carried by ctx.
func CurrentID(ctx context.Context) (uint32, bool) {
	th := ThreadFromContext(ctx)
	if th == nil {
		return 0, false
	}
	return th.id, true
}
