package domain

// ClockSample is one guest clock reading taken by the clock-sync emitter.
type ClockSample struct {
	BootTimeNs  uint64 `json:"boottime_ns"`
	MonotonicNs uint64 `json:"monotonic_ns"`
	CPUTicks    uint64 `json:"cputime"`
	Source      string `json:"source,omitempty"`
}
