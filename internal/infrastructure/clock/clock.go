// Package clock reads the kernel clocks the guest and host traces are
// aligned on.
package clock

// System reads the real clocks. The zero value is ready to use.
type System struct{}

func (System) BootTimeNs() uint64  { return bootTimeNs() }
func (System) MonotonicNs() uint64 { return monotonicNs() }

// CPUTicks stands in for the raw cycle counter. It is MONOTONIC_RAW in
// nanoseconds, which never slews with NTP.
func (System) CPUTicks() uint64 { return rawNs() }
