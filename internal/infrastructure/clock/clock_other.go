//go:build !linux

package clock

import "time"

var start = time.Now()

// Without CLOCK_BOOTTIME every clock is time since process start.
func since() uint64 { return uint64(time.Since(start)) }

func bootTimeNs() uint64  { return since() }
func monotonicNs() uint64 { return since() }
func rawNs() uint64       { return since() }
