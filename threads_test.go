package autotrace

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
)

func TestThreadsSpawnJoin(t *testing.T) {
	threads := NewThreads(1)

	var mu sync.Mutex
	seen := make(map[uint32]bool)
	for i := 0; i < 3; i++ {
		threads.Spawn(func(id uint32) error {
			mu.Lock()
			defer mu.Unlock()
			seen[id] = true
			return nil
		})
	}
	if err := threads.Join(); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	for id := uint32(1); id <= 3; id++ {
		if !seen[id] {
			t.Errorf("Expected thread %d to run", id)
		}
	}
}

func TestThreadsJoinReturnsError(t *testing.T) {
	threads := NewThreads(0)
	boom := errors.New("boom")
	threads.Spawn(func(uint32) error { return nil })
	threads.Spawn(func(uint32) error { return boom })
	if err := threads.Join(); !errors.Is(err, boom) {
		t.Errorf("Expected boom, got %v", err)
	}
}

func TestThreadsSpawnTraced(t *testing.T) {
	var buf bytes.Buffer
	var rt Runtime
	if err := rt.InitWriter(&buf, Config{BufferCapacity: 8}); err != nil {
		t.Fatalf("InitWriter failed: %v", err)
	}

	threads := NewThreads(10)
	for i := 0; i < 2; i++ {
		threads.SpawnTraced(context.Background(), &rt, 0, func(ctx context.Context) error {
			th := ThreadFromContext(ctx)
			if th == nil {
				return errors.New("no thread in context")
			}
			if id, ok := CurrentID(ctx); !ok || id != th.ID() {
				return errors.New("current id does not match thread")
			}
			for j := 0; j < 20; j++ {
				th.Enter(uintptr(j))
				th.Exit(uintptr(j))
			}
			return nil
		})
	}
	if err := threads.Join(); err != nil {
		t.Fatalf("Join failed: %v", err)
	}
	if n := rt.Stats().Threads; n != 0 {
		t.Errorf("Expected traced threads to quit themselves, %d still registered", n)
	}
	if err := rt.Quit(); err != nil {
		t.Fatalf("Quit failed: %v", err)
	}

	tr, err := Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	ids := tr.ThreadIDs()
	if len(ids) != 2 || ids[0] != 10 || ids[1] != 11 {
		t.Errorf("Expected threads [10 11], got %v", ids)
	}
	if len(tr.Events) != 80 {
		t.Errorf("Expected 80 events, got %d", len(tr.Events))
	}
}

func TestThreadContext(t *testing.T) {
	if ThreadFromContext(context.Background()) != nil {
		t.Error("Expected nil thread from empty context")
	}
	if _, ok := CurrentID(context.Background()); ok {
		t.Error("Expected no current id from empty context")
	}
	//nolint:staticcheck // nil context handled explicitly
	if ThreadFromContext(nil) != nil {
		t.Error("Expected nil thread from nil context")
	}

	th := &Thread{id: 4}
	//nolint:staticcheck // nil context handled explicitly
	ctx := WithThread(nil, th)
	if got := ThreadFromContext(ctx); got != th {
		t.Errorf("Expected thread 4, got %v", got)
	}
}

func TestThreadStateString(t *testing.T) {
	states := map[ThreadState]string{
		StateUnregistered: "unregistered",
		StateActive:       "active",
		StateDraining:     "draining",
		StateRetired:      "retired",
		ThreadState(42):   "unknown",
	}
	for s, want := range states {
		if s.String() != want {
			t.Errorf("Expected %s, got %s", want, s.String())
		}
	}
}
