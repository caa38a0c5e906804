package domain

// TraceConfig is a snapshot of the host tracer state.
type TraceConfig struct {
	Initialized        bool   `json:"initialized"`
	TracingDisabled    bool   `json:"tracing_disabled"`
	PacketsWritten     uint64 `json:"packets_written"`
	SequenceIDWritten  bool   `json:"sequence_id_written"`
	CurrentInterningID uint64 `json:"current_interning_id"`
	CurrentThreadID    uint32 `json:"current_thread_id"`
	HostFilename       string `json:"host_filename"`
	GuestFilename      string `json:"guest_filename"`
	CombinedFilename   string `json:"combined_filename"`
	HostStartTime      uint64 `json:"host_start_time"`
	GuestStartTime     uint64 `json:"guest_start_time"`
	GuestTimeDiff      uint64 `json:"guest_time_diff"`
	PerThreadStorageMB int    `json:"per_thread_storage_mb"`
	Saving             bool   `json:"saving"`
}

// TraceFilesRequest sets the trace file names. Empty guest or combined names
// mean only the host trace is saved.
type TraceFilesRequest struct {
	HostFile     string `json:"host_file" validate:"required"`
	GuestFile    string `json:"guest_file"`
	CombinedFile string `json:"combined_file" validate:"required_with=GuestFile"`
}

// GuestTimeRequest carries a guest boot-time reading in nanoseconds. An
// operator sets GuestTimeNs; the guest reporter posts a ClockSample whose
// boottime_ns lands in BootTimeNs.
type GuestTimeRequest struct {
	GuestTimeNs uint64 `json:"guest_time_ns" validate:"required_without=BootTimeNs"`
	BootTimeNs  uint64 `json:"boottime_ns" validate:"required_without=GuestTimeNs"`
	MonotonicNs uint64 `json:"monotonic_ns"`
	CPUTicks    uint64 `json:"cputime"`
	Source      string `json:"source"`
}

// Sample reports whether r came from the guest reporter, and the sample if so.
func (r GuestTimeRequest) Sample() (ClockSample, bool) {
	if r.GuestTimeNs != 0 {
		return ClockSample{}, false
	}
	return ClockSample{BootTimeNs: r.BootTimeNs, MonotonicNs: r.MonotonicNs, CPUTicks: r.CPUTicks, Source: r.Source}, true
}

// DefaultCategory is used for track events that do not name one.
const DefaultCategory = "gfxstream"

// TraceCategories lists the categories a host track event may be recorded under.
var TraceCategories = map[string]string{
	DefaultCategory: "Graphics stream events",
	"OpenGL":        "OpenGL(ES) calls",
	"Vulkan":        "Vulkan calls",
	"EGL":           "EGL calls",
	"Driver":        "Driver internals",
	"VMM":           "VMM internals",
	"gfx":           "General graphics events that don't fall under the above categories",
	"misc":          "General events that aren't graphics",
	"cros":          "Chrome OS guest time sync events",
}

// Track event kinds accepted by the control API.
const (
	EventBegin   = "begin"
	EventEnd     = "end"
	EventCounter = "counter"
)

// TrackEventRequest records one event on a named host track.
type TrackEventRequest struct {
	Track    string `json:"track" validate:"required,max=64"`
	Kind     string `json:"kind" validate:"required,oneof=begin end counter"`
	Category string `json:"category" validate:"omitempty,tracecategory"`
	Name     string `json:"name" validate:"required_unless=Kind end,max=256"`
	Value    int64  `json:"value"`
}
