package autotrace

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// FlushInfo describes one completed flush.
type FlushInfo struct {
	Err      error
	Offset   int64 // file offset after the flush
	Events   int
	Flushes  int // more than 1 when queued notifications were merged
	ThreadID uint32
	Forced   bool // issued by Quit for a thread that never quit
}

// Writer owns the trace sink. Flushes from any thread are serialized by a
// single mutex, which also guards the runtime's thread registry.
// After the first sink error the writer stops accepting events.
//
//nolint:govet // Field order groups lock-protected state
type Writer struct {
	sink      io.Writer
	err       error
	threads   map[uint32]*ThreadSummary
	symbols   map[uint64]string
	scratch   []byte
	logger    zerolog.Logger
	header    Header
	offset    int64
	events    uint64
	dropped   atomic.Uint64
	mu        sync.Mutex
	finalized bool
}

// newWriter writes the header to sink and returns a writer positioned
// after it.
func newWriter(sink io.Writer, h Header, logger zerolog.Logger) (*Writer, error) {
	w := &Writer{
		sink:    sink,
		header:  h,
		threads: make(map[uint32]*ThreadSummary),
		symbols: make(map[uint64]string),
		logger:  logger,
		scratch: make([]byte, 0, 64*EventSize(int(h.PointerSize))),
	}
	hdr := AppendHeader(make([]byte, 0, HeaderSize), h)
	n, err := sink.Write(hdr)
	if err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	w.offset = int64(n)
	return w, nil
}

// flushLocked encodes events and appends them to the sink as one write.
// The caller holds w.mu.
func (w *Writer) flushLocked(tid uint32, events []Event) FlushInfo {
	info := FlushInfo{ThreadID: tid, Events: len(events), Flushes: 1}
	if len(events) == 0 {
		info.Offset = w.offset
		return info
	}
	if w.finalized {
		w.dropped.Add(uint64(len(events)))
		info.Offset = w.offset
		info.Err = ErrUseAfterQuit
		return info
	}
	if w.err != nil {
		w.dropped.Add(uint64(len(events)))
		info.Offset = w.offset
		info.Err = fmt.Errorf("%w: %w", ErrWriterFailed, w.err)
		return info
	}

	ptrSize := int(w.header.PointerSize)
	buf := w.scratch[:0]
	for i := range events {
		buf = AppendEvent(buf, events[i], ptrSize)
	}
	w.scratch = buf

	n, err := w.sink.Write(buf)
	w.offset += int64(n)
	info.Offset = w.offset
	if err == nil && n < len(buf) {
		err = io.ErrShortWrite
	}
	if err != nil {
		w.err = err
		w.dropped.Add(uint64(len(events)))
		w.logger.Error().Err(err).Uint32("thread", tid).Int("events", len(events)).
			Msg("trace sink failed, writer stops accepting events")
		info.Err = fmt.Errorf("%w: %w", ErrWriterFailed, err)
		return info
	}

	w.events += uint64(len(events))
	sum, ok := w.threads[tid]
	if !ok {
		sum = &ThreadSummary{ID: tid}
		w.threads[tid] = sum
	}
	sum.Events += uint64(len(events))
	sum.Flushes++
	return info
}

// NameAddress records a symbol name for addr in the footer.
func (w *Writer) NameAddress(addr uint64, name string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.symbols[addr] = name
}

// footerLocked builds the footer from the current counts.
func (w *Writer) footerLocked() *Footer {
	f := &Footer{
		Events:  w.events,
		Threads: make([]ThreadSummary, 0, len(w.threads)),
		Symbols: make([]Symbol, 0, len(w.symbols)),
	}
	for _, sum := range w.threads {
		f.Threads = append(f.Threads, *sum)
	}
	sort.Slice(f.Threads, func(i, j int) bool { return f.Threads[i].ID < f.Threads[j].ID })
	for addr, name := range w.symbols {
		f.Symbols = append(f.Symbols, Symbol{Address: addr, Name: name})
	}
	sort.Slice(f.Symbols, func(i, j int) bool { return f.Symbols[i].Address < f.Symbols[j].Address })
	return f
}

// finalizeLocked writes the footer, patches the header on seekable sinks and
// closes the sink. Calling it twice is a programming error and panics.
func (w *Writer) finalizeLocked() error {
	if w.finalized {
		panic("autotrace: writer finalized twice")
	}
	w.finalized = true

	var firstErr error
	if w.err != nil {
		firstErr = fmt.Errorf("%w: %w", ErrWriterFailed, w.err)
	} else if err := w.writeFooterLocked(); err != nil {
		firstErr = err
	}

	if c, ok := w.sink.(io.Closer); ok {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close sink: %w", err)
		}
	}
	return firstErr
}

func (w *Writer) writeFooterLocked() error {
	footer := w.footerLocked()
	buf, err := AppendFooter(w.scratch[:0], footer)
	if err != nil {
		return err
	}
	w.scratch = buf
	n, err := w.sink.Write(buf)
	w.offset += int64(n)
	if err != nil {
		w.err = err
		return fmt.Errorf("write footer: %w", err)
	}

	ws, ok := w.sink.(io.WriteSeeker)
	if !ok {
		return nil
	}
	w.header.Flags |= FlagFinalized
	w.header.Events = w.events
	w.header.Threads = uint32(len(footer.Threads))
	if _, err := ws.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("patch header: %w", err)
	}
	if _, err := ws.Write(AppendHeader(w.scratch[:0], w.header)); err != nil {
		return fmt.Errorf("patch header: %w", err)
	}
	if _, err := ws.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("patch header: %w", err)
	}
	return nil
}

// Offset returns the number of bytes written so far.
func (w *Writer) Offset() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.offset
}

// Events returns the number of events persisted so far.
func (w *Writer) Events() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.events
}

// Dropped returns the number of events discarded after a sink failure.
func (w *Writer) Dropped() uint64 {
	return w.dropped.Load()
}

// Err returns the sticky sink error, if any.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Header returns the header as last written.
func (w *Writer) Header() Header {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.header
}
