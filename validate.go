package autotrace

import (
	"errors"
	"fmt"
	"sort"
)

// NestingError reports a violation of per-thread stack discipline or
// timestamp order. These are contract violations by the hook caller.
type NestingError struct {
	Reason   string
	Event    Event
	Index    int
	ThreadID uint32
}

func (e *NestingError) Error() string {
	return fmt.Sprintf("autotrace: thread %d event %d (%s): %s", e.ThreadID, e.Index, e.Event, e.Reason)
}

// CheckNesting verifies that one thread's events form a well-nested
// Begin/End sequence. Begins still open at the end are allowed; a thread
// may have been force-flushed mid-call.
func CheckNesting(events []Event) error {
	stack := make([]uint64, 0, 64)
	for i, ev := range events {
		switch ev.Kind {
		case KindBegin:
			stack = append(stack, ev.Address)
		case KindEnd:
			if len(stack) == 0 {
				return &NestingError{ThreadID: ev.ThreadID, Index: i, Event: ev, Reason: "end without begin"}
			}
			top := stack[len(stack)-1]
			if top != ev.Address {
				return &NestingError{
					ThreadID: ev.ThreadID,
					Index:    i,
					Event:    ev,
					Reason:   fmt.Sprintf("end does not match open begin %#x", top),
				}
			}
			stack = stack[:len(stack)-1]
		default:
			return &NestingError{ThreadID: ev.ThreadID, Index: i, Event: ev, Reason: "unknown kind"}
		}
	}
	return nil
}

// CheckMonotonic verifies that timestamps never decrease.
func CheckMonotonic(events []Event) error {
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp < events[i-1].Timestamp {
			return &NestingError{
				ThreadID: events[i].ThreadID,
				Index:    i,
				Event:    events[i],
				Reason:   fmt.Sprintf("timestamp goes backwards from %d", events[i-1].Timestamp),
			}
		}
	}
	return nil
}

// Validate checks nesting and monotonicity for every thread in t and
// returns all violations joined.
func Validate(t *Trace) error {
	byThread := t.ByThread()
	ids := make([]uint32, 0, len(byThread))
	for id := range byThread {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var errs []error
	for _, id := range ids {
		events := byThread[id]
		if err := CheckNesting(events); err != nil {
			errs = append(errs, err)
		}
		if err := CheckMonotonic(events); err != nil {
			errs = append(errs, err)
		}
	}
	if t.Footer != nil && t.Footer.Events != uint64(len(t.Events)) {
		errs = append(errs, fmt.Errorf("autotrace: footer declares %d events, body has %d", t.Footer.Events, len(t.Events)))
	}
	return errors.Join(errs...)
}
