package autotrace

import (
	"errors"
	"fmt"
)

// Lifecycle errors.
var (
	ErrAlreadyInitialized = errors.New("autotrace: runtime already initialized")
	ErrNotInitialized     = errors.New("autotrace: runtime not initialized")
	ErrAlreadyRegistered  = errors.New("autotrace: thread already registered")
	ErrInvalidCapacity    = errors.New("autotrace: invalid buffer capacity")
	ErrUseAfterQuit       = errors.New("autotrace: use after quit")
	ErrClockUnavailable   = errors.New("autotrace: clock unavailable")
	ErrWriterFailed       = errors.New("autotrace: writer stopped after sink failure")
)

// Trace file errors.
var (
	ErrBadMagic           = errors.New("autotrace: bad magic")
	ErrUnsupportedVersion = errors.New("autotrace: unsupported format version")
	ErrTruncated          = errors.New("autotrace: truncated trace")
	ErrUnknownTag         = errors.New("autotrace: unknown record tag")
)

// InitError reports why Init could not bring the runtime up.
// Tracing stays disabled; the host program may continue.
type InitError struct {
	Target string
	Err    error
}

func (e *InitError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("autotrace: init: %v", e.Err)
	}
	return fmt.Sprintf("autotrace: init %q: %v", e.Target, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// ThreadInitError reports why a thread could not be registered.
// Only that thread's tracing is affected.
type ThreadInitError struct {
	Err      error
	ThreadID uint32
}

func (e *ThreadInitError) Error() string {
	return fmt.Sprintf("autotrace: thread %d: %v", e.ThreadID, e.Err)
}

func (e *ThreadInitError) Unwrap() error { return e.Err }
