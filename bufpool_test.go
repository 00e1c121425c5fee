package autotrace

import (
	"sync"
	"testing"
)

func TestBufferPoolReuse(t *testing.T) {
	pool := NewBufferPool(2, 16)
	defer pool.Close()

	buf := pool.Get(16)
	if cap(buf) != 16 || len(buf) != 0 {
		t.Fatalf("Expected empty buffer of capacity 16, got len %d cap %d", len(buf), cap(buf))
	}
	buf = append(buf, Event{Address: 1})
	pool.Put(buf)
	if pool.Len() != 1 {
		t.Fatalf("Expected 1 idle buffer, got %d", pool.Len())
	}

	again := pool.Get(16)
	if len(again) != 0 {
		t.Errorf("Expected reset buffer, got len %d", len(again))
	}
	if &again[:1][0] != &buf[0] {
		t.Error("Expected pooled backing array to be reused")
	}
}

func TestBufferPoolForeignCapacity(t *testing.T) {
	pool := NewBufferPool(2, 16)
	defer pool.Close()

	buf := pool.Get(8)
	if cap(buf) != 8 {
		t.Errorf("Expected capacity 8, got %d", cap(buf))
	}
	pool.Put(buf)
	if pool.Len() != 0 {
		t.Errorf("Expected foreign buffer to be dropped, got %d idle", pool.Len())
	}
}

func TestBufferPoolFullAndClosed(t *testing.T) {
	pool := NewBufferPool(1, 4)
	pool.Put(make([]Event, 0, 4))
	pool.Put(make([]Event, 0, 4))
	if pool.Len() != 1 {
		t.Errorf("Expected pool to hold 1 buffer, got %d", pool.Len())
	}

	pool.Close()
	pool.Close()
	if pool.Len() != 0 {
		t.Errorf("Expected closed pool to be drained, got %d", pool.Len())
	}
	pool.Put(make([]Event, 0, 4))
	if pool.Len() != 0 {
		t.Error("Expected Put after Close to be dropped")
	}
}

func TestBufferPoolConcurrentAccess(t *testing.T) {
	pool := NewBufferPool(8, 32)
	defer pool.Close()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				buf := pool.Get(32)
				if cap(buf) != 32 {
					t.Errorf("Expected capacity 32, got %d", cap(buf))
					return
				}
				pool.Put(buf)
			}
		}()
	}
	wg.Wait()
}
