package autotrace

import (
	"fmt"
	"io"
	"os"
	"sort"
)

// Trace is a decoded trace file.
type Trace struct {
	Footer *Footer // nil if the file was not finalized
	Events []Event // in file order
	Header Header
}

// ReadFile decodes the trace file at path.
func ReadFile(path string) (*Trace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Read decodes a trace from r.
func Read(r io.Reader) (*Trace, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a complete trace. On a damaged body it returns the events
// decoded so far together with the error, which is the best that can be done
// for files from a process that died before Quit.
func Parse(data []byte) (*Trace, error) {
	h, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	t := &Trace{Header: h}
	ptrSize := int(h.PointerSize)
	if size := h.EventSize(); len(data) > HeaderSize {
		t.Events = make([]Event, 0, (len(data)-HeaderSize)/size)
	}

	off := HeaderSize
	for off < len(data) {
		if data[off] == tagFooter {
			f, n, err := DecodeFooter(data[off:])
			if err != nil {
				return t, fmt.Errorf("footer at offset %d: %w", off, err)
			}
			t.Footer = f
			off += n
			if off != len(data) {
				return t, fmt.Errorf("%d bytes after footer", len(data)-off)
			}
			break
		}
		ev, n, err := DecodeEvent(data[off:], ptrSize)
		if err != nil {
			return t, fmt.Errorf("event at offset %d: %w", off, err)
		}
		t.Events = append(t.Events, ev)
		off += n
	}
	return t, nil
}

// ThreadIDs returns the distinct thread ids present, ascending.
func (t *Trace) ThreadIDs() []uint32 {
	seen := make(map[uint32]struct{})
	ids := make([]uint32, 0)
	for i := range t.Events {
		id := t.Events[i].ThreadID
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// ByThread splits the events into per-thread sequences, keeping file order.
func (t *Trace) ByThread() map[uint32][]Event {
	out := make(map[uint32][]Event)
	for _, ev := range t.Events {
		out[ev.ThreadID] = append(out[ev.ThreadID], ev)
	}
	return out
}

// Timeline returns the events ordered by timestamp. Events with equal
// timestamps keep their file order.
func (t *Trace) Timeline() []Event {
	out := make([]Event, len(t.Events))
	copy(out, t.Events)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// Symbols returns the footer symbol table as a map.
func (t *Trace) Symbols() map[uint64]string {
	out := make(map[uint64]string)
	if t.Footer == nil {
		return out
	}
	for _, s := range t.Footer.Symbols {
		out[s.Address] = s.Name
	}
	return out
}
