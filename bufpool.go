package autotrace

import (
	"sync"
)

// BufferPool recycles event buffers of one capacity so that threads which
// come and go do not each allocate a fresh buffer at registration.
type BufferPool struct {
	bufs     chan []Event
	capacity int
	mu       sync.Mutex
	closed   bool
}

// NewBufferPool creates a pool holding up to size buffers of the given capacity.
func NewBufferPool(size, capacity int) *BufferPool {
	if size < 1 {
		size = 1
	}
	return &BufferPool{
		bufs:     make(chan []Event, size),
		capacity: capacity,
	}
}

// Get returns an empty buffer with exactly the requested capacity.
func (p *BufferPool) Get(capacity int) []Event {
	if capacity == p.capacity {
		select {
		case buf := <-p.bufs:
			return buf[:0]
		default:
			// Pool empty, allocate directly.
		}
	}
	return make([]Event, 0, capacity)
}

// Put hands a retired buffer back. Buffers of a foreign capacity and
// buffers offered to a full or closed pool are dropped.
func (p *BufferPool) Put(buf []Event) {
	if cap(buf) != p.capacity {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.bufs <- buf[:0]:
	default:
	}
}

// Len returns the number of idle buffers.
func (p *BufferPool) Len() int {
	return len(p.bufs)
}

// Close releases idle buffers. Later Put calls are dropped.
func (p *BufferPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	for {
		select {
		case <-p.bufs:
		default:
			return
		}
	}
}
