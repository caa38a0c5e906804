package clock

import "golang.org/x/sys/unix"

func read(id int32) uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(id, &ts); err != nil {
		return 0
	}
	return uint64(ts.Nano())
}

func bootTimeNs() uint64  { return read(unix.CLOCK_BOOTTIME) }
func monotonicNs() uint64 { return read(unix.CLOCK_MONOTONIC) }
func rawNs() uint64       { return read(unix.CLOCK_MONOTONIC_RAW) }
