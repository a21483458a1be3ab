package blesvc

import (
	"time"

	"github.com/hidbridge/hidbridge/internal/sdep"
)

// Timestamps for latency accounting are 16-bit wrapping milliseconds,
// good for diffs up to ~65s. All transport deadlines are far below that.
func timerRead(c sdep.Clock) uint16 {
	return uint16(c.Now().UnixMilli())
}

func timerDiff(later, earlier uint16) uint16 {
	return later - earlier
}

func timerElapsed(c sdep.Clock, since uint16) uint16 {
	return timerDiff(timerRead(c), since)
}

func millis(d time.Duration) uint16 {
	return uint16(d.Milliseconds())
}
