package autotrace

import (
	"encoding/binary"
	"fmt"
	"math/bits"

	"fortio.org/safecast"
	"github.com/vmihailenco/msgpack/v5"
)

// EventKind tags a trace record.
type EventKind uint8

const (
	// KindBegin marks a function entry.
	KindBegin EventKind = iota + 1
	// KindEnd marks a function exit.
	KindEnd
)

// tagFooter introduces the trailing footer record.
const tagFooter = 0xFF

// String returns the string representation of EventKind.
func (k EventKind) String() string {
	switch k {
	case KindBegin:
		return "begin"
	case KindEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Event is a single call boundary observed on one thread.
type Event struct {
	Timestamp uint64    // ticks since the trace epoch
	Address   uint64    // code location
	ThreadID  uint32    // caller-supplied thread identity
	Kind      EventKind // begin or end
}

func (e Event) String() string {
	return fmt.Sprintf("%s tid=%d ts=%d addr=%#x", e.Kind, e.ThreadID, e.Timestamp, e.Address)
}

// Format constants. A consumer must read the header to learn the pointer
// size before decoding event records.
const (
	FormatVersion uint16 = 1
	HeaderSize           = 40
	PointerSize          = bits.UintSize / 8
)

// FlagFinalized is set in Header.Flags once the footer has been written.
const FlagFinalized uint8 = 1 << 0

var magic = [4]byte{'A', 'T', 'R', 'C'}

// Header is the fixed-size preamble of every trace file.
//
// Layout (little endian): magic[4] version u16 ptrsize u8 flags u8
// epoch i64 tickrate u64 threads u32 reserved u32 events u64.
type Header struct {
	Epoch          int64 // unix nanoseconds at init
	TicksPerSecond uint64
	Events         uint64 // 0 until patched at finalize
	Threads        uint32 // 0 until patched at finalize
	Version        uint16
	PointerSize    uint8
	Flags          uint8
}

// Finalized reports whether the writer completed the file.
func (h Header) Finalized() bool {
	return h.Flags&FlagFinalized != 0
}

// EventSize returns the encoded width of one event record.
func (h Header) EventSize() int {
	return EventSize(int(h.PointerSize))
}

// EventSize returns the encoded width of one event record for a pointer size.
func EventSize(ptrSize int) int {
	return 1 + 4 + 8 + ptrSize
}

// AppendHeader appends the encoded header to dst.
func AppendHeader(dst []byte, h Header) []byte {
	dst = append(dst, magic[:]...)
	dst = binary.LittleEndian.AppendUint16(dst, h.Version)
	dst = append(dst, h.PointerSize, h.Flags)
	dst = binary.LittleEndian.AppendUint64(dst, uint64(h.Epoch))
	dst = binary.LittleEndian.AppendUint64(dst, h.TicksPerSecond)
	dst = binary.LittleEndian.AppendUint32(dst, h.Threads)
	dst = binary.LittleEndian.AppendUint32(dst, 0)
	dst = binary.LittleEndian.AppendUint64(dst, h.Events)
	return dst
}

// DecodeHeader parses the header at the start of src.
func DecodeHeader(src []byte) (Header, error) {
	if len(src) < HeaderSize {
		return Header{}, ErrTruncated
	}
	if [4]byte(src[0:4]) != magic {
		return Header{}, ErrBadMagic
	}
	h := Header{
		Version:        binary.LittleEndian.Uint16(src[4:6]),
		PointerSize:    src[6],
		Flags:          src[7],
		Epoch:          int64(binary.LittleEndian.Uint64(src[8:16])),
		TicksPerSecond: binary.LittleEndian.Uint64(src[16:24]),
		Threads:        binary.LittleEndian.Uint32(src[24:28]),
		Events:         binary.LittleEndian.Uint64(src[32:40]),
	}
	if h.Version != FormatVersion {
		return Header{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version)
	}
	if h.PointerSize != 4 && h.PointerSize != 8 {
		return Header{}, fmt.Errorf("%w: pointer size %d", ErrUnsupportedVersion, h.PointerSize)
	}
	return h, nil
}

// AppendEvent appends the encoded event to dst. It allocates only when dst
// lacks capacity.
func AppendEvent(dst []byte, ev Event, ptrSize int) []byte {
	dst = append(dst, byte(ev.Kind))
	dst = binary.LittleEndian.AppendUint32(dst, ev.ThreadID)
	dst = binary.LittleEndian.AppendUint64(dst, ev.Timestamp)
	if ptrSize == 4 {
		return binary.LittleEndian.AppendUint32(dst, uint32(ev.Address))
	}
	return binary.LittleEndian.AppendUint64(dst, ev.Address)
}

// DecodeEvent decodes one event record from src and returns the number of
// bytes consumed.
func DecodeEvent(src []byte, ptrSize int) (Event, int, error) {
	n := EventSize(ptrSize)
	if len(src) < 1 {
		return Event{}, 0, ErrTruncated
	}
	kind := EventKind(src[0])
	if kind != KindBegin && kind != KindEnd {
		return Event{}, 0, fmt.Errorf("%w: %#x", ErrUnknownTag, src[0])
	}
	if len(src) < n {
		return Event{}, 0, ErrTruncated
	}
	ev := Event{
		Kind:      kind,
		ThreadID:  binary.LittleEndian.Uint32(src[1:5]),
		Timestamp: binary.LittleEndian.Uint64(src[5:13]),
	}
	if ptrSize == 4 {
		ev.Address = uint64(binary.LittleEndian.Uint32(src[13:17]))
	} else {
		ev.Address = binary.LittleEndian.Uint64(src[13:21])
	}
	return ev, n, nil
}

// Footer closes a finalized trace.
type Footer struct {
	Threads []ThreadSummary `msgpack:"threads"`
	Symbols []Symbol        `msgpack:"symbols"`
	Events  uint64          `msgpack:"events"`
}

// ThreadSummary counts what one thread contributed to the file.
type ThreadSummary struct {
	Events  uint64 `msgpack:"events"`
	Flushes uint64 `msgpack:"flushes"`
	ID      uint32 `msgpack:"id"`
}

// Symbol names a code address.
type Symbol struct {
	Name    string `msgpack:"name"`
	Address uint64 `msgpack:"address"`
}

// AppendFooter appends the footer record: tag, u32 length, msgpack body.
func AppendFooter(dst []byte, f *Footer) ([]byte, error) {
	body, err := msgpack.Marshal(f)
	if err != nil {
		return dst, fmt.Errorf("encode footer: %w", err)
	}
	n, err := safecast.Conv[uint32](len(body))
	if err != nil {
		return dst, fmt.Errorf("footer length: %w", err)
	}
	dst = append(dst, tagFooter)
	dst = binary.LittleEndian.AppendUint32(dst, n)
	return append(dst, body...), nil
}

// DecodeFooter decodes a footer record from src and returns the number of
// bytes consumed.
func DecodeFooter(src []byte) (*Footer, int, error) {
	if len(src) < 5 {
		return nil, 0, ErrTruncated
	}
	if src[0] != tagFooter {
		return nil, 0, fmt.Errorf("%w: %#x", ErrUnknownTag, src[0])
	}
	n := int(binary.LittleEndian.Uint32(src[1:5]))
	if len(src)-5 < n {
		return nil, 0, ErrTruncated
	}
	var f Footer
	if err := msgpack.Unmarshal(src[5:5+n], &f); err != nil {
		return nil, 0, fmt.Errorf("decode footer: %w", err)
	}
	return &f, 5 + n, nil
}
