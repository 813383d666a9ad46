package kms

import (
	"time"

	"golang.org/x/sys/unix"
)

// ClockID names a kernel clock.
type ClockID int32

const (
	ClockRealtime  ClockID = unix.CLOCK_REALTIME
	ClockMonotonic ClockID = unix.CLOCK_MONOTONIC
)

func (c ClockID) String() string {
	switch c {
	case ClockRealtime:
		return "realtime"
	case ClockMonotonic:
		return "monotonic"
	}
	return "unknown"
}

// ClockReader samples the current time of a clock.
type ClockReader func(ClockID) time.Duration

// SystemClock reads clocks with clock_gettime.
func SystemClock(id ClockID) time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(int32(id), &ts); err != nil {
		return 0
	}
	return time.Duration(ts.Nano())
}

// ConvertTimestamp moves ts from the source clock's domain into the target
// clock's by sampling both clocks now and applying their difference.
func ConvertTimestamp(read ClockReader, source, target ClockID, ts time.Duration) time.Duration {
	if source == target {
		return ts
	}
	sourceNow := read(source)
	targetNow := read(target)
	return targetNow - (sourceNow - ts)
}

func eventTimestamp(sec, usec uint32) time.Duration {
	return time.Duration(sec)*time.Second + time.Duration(usec)*time.Microsecond
}
