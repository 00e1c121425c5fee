package autotrace

import (
	"time"

	"github.com/zoobzio/clockz"
)

// TicksPerSecond is the resolution of event timestamps.
const TicksPerSecond = uint64(time.Second / time.Nanosecond)

// clockSource turns a clockz.Clock into monotonic ticks since the trace epoch.
// It never calls back into traced code.
type clockSource struct {
	clock clockz.Clock
	epoch time.Time
}

func newClockSource(clock clockz.Clock) (clockSource, error) {
	if clock == nil {
		return clockSource{}, ErrClockUnavailable
	}
	epoch := clock.Now()
	if epoch.IsZero() {
		return clockSource{}, ErrClockUnavailable
	}
	return clockSource{clock: clock, epoch: epoch}, nil
}

// now returns nanoseconds elapsed since the epoch.
func (c clockSource) now() uint64 {
	d := c.clock.Now().Sub(c.epoch)
	if d < 0 {
		return 0
	}
	return uint64(d)
}

// epochNanos is the epoch as Unix nanoseconds, recorded in the file header.
func (c clockSource) epochNanos() int64 {
	return c.epoch.UnixNano()
}
