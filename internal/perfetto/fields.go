// Package perfetto reads, writes and rewrites the subset of the Perfetto
// trace protobuf format used by guest/host trace merging.
//
// Messages are handled at the wire level with protowire so that fields this
// package does not know about pass through a rewrite byte for byte.
package perfetto

import "google.golang.org/protobuf/encoding/protowire"

// Trace
const fieldTracePacket protowire.Number = 1

// TracePacket
const (
	fieldPacketFtraceEvents    protowire.Number = 1
	fieldPacketProcessTree     protowire.Number = 2
	fieldPacketTrustedUID      protowire.Number = 3
	fieldPacketClockSnapshot   protowire.Number = 6
	fieldPacketTimestamp       protowire.Number = 8
	fieldPacketSequenceID      protowire.Number = 10
	fieldPacketTrackEvent      protowire.Number = 11
	fieldPacketInternedData    protowire.Number = 12
	fieldPacketSequenceFlags   protowire.Number = 13
	fieldPacketDefaults        protowire.Number = 59
	fieldPacketTrackDescriptor protowire.Number = 60
	fieldPacketServiceEvent    protowire.Number = 69
)

// Packet fields that can be dropped from a trace.
const (
	ClockSnapshotField = fieldPacketClockSnapshot
	ServiceEventField  = fieldPacketServiceEvent
)

// FtraceEventBundle / FtraceEvent
const (
	fieldBundleCPU   protowire.Number = 1
	fieldBundleEvent protowire.Number = 2

	fieldFtraceTimestamp protowire.Number = 1
	fieldFtracePid       protowire.Number = 2
)

// Scheduler ftrace events whose pid fields are remapped, keyed by their
// FtraceEvent field number. Values are the pid-valued subfields.
var schedPidFields = map[protowire.Number][]protowire.Number{
	4:   {2, 6}, // sched_switch: prev_pid, next_pid
	17:  {2},    // sched_wakeup
	18:  {1},    // sched_blocked_reason
	20:  {2},    // sched_waking
	311: {2},    // sched_wakeup_new
	312: {2, 3}, // sched_process_exec: pid, old_pid
	313: {2, 3}, // sched_process_exit: pid, tgid
	314: {2, 4}, // sched_process_fork: parent_pid, child_pid
	315: {2},    // sched_process_free
	316: {2},    // sched_process_hang
	317: {2},    // sched_process_wait
}

const (
	fieldSchedSwitch    protowire.Number = 4
	fieldSchedPrevPid   protowire.Number = 2
	fieldSchedNextPid   protowire.Number = 6
	fieldSchedWakeup    protowire.Number = 17
	fieldSchedWakeupPid protowire.Number = 2
	fieldSchedFork      protowire.Number = 314
	fieldSchedParentPid protowire.Number = 2
	fieldSchedChildPid  protowire.Number = 4
)

// ProcessTree
const (
	fieldTreeProcesses protowire.Number = 1
	fieldTreeThreads   protowire.Number = 2

	fieldTreeProcessPid protowire.Number = 1
	fieldTreeThreadTid  protowire.Number = 1
	fieldTreeThreadTgid protowire.Number = 5
)

// TrackDescriptor / ProcessDescriptor / ThreadDescriptor
const (
	fieldDescUUID       protowire.Number = 1
	fieldDescName       protowire.Number = 2
	fieldDescProcess    protowire.Number = 3
	fieldDescThread     protowire.Number = 4
	fieldDescParentUUID protowire.Number = 5
	fieldDescCounter    protowire.Number = 8

	fieldProcessPid  protowire.Number = 1
	fieldProcessName protowire.Number = 6
	fieldThreadPid   protowire.Number = 1
	fieldThreadTid   protowire.Number = 2
)

// TrackEvent / TracePacketDefaults
const (
	fieldEventCategoryIIDs protowire.Number = 3
	fieldEventAnnotations  protowire.Number = 4
	fieldEventType         protowire.Number = 9
	fieldEventNameIID      protowire.Number = 10
	fieldEventTrackUUID    protowire.Number = 11
	fieldEventCategories   protowire.Number = 22
	fieldEventName         protowire.Number = 23
	fieldEventCounterValue protowire.Number = 30

	fieldDefaultsTrackEvent protowire.Number = 11
	fieldEventDefaultsUUID  protowire.Number = 11
)

// InternedData and its entries
const (
	fieldInternedCategories      protowire.Number = 1
	fieldInternedEventNames      protowire.Number = 2
	fieldInternedAnnotationNames protowire.Number = 3

	fieldInternedIID  protowire.Number = 1
	fieldInternedName protowire.Number = 2
)

// DebugAnnotation
const (
	fieldAnnotationNameIID protowire.Number = 1
	fieldAnnotationUint    protowire.Number = 3
	fieldAnnotationInt     protowire.Number = 4
	fieldAnnotationName    protowire.Number = 10
)

// ClockSnapshot
const (
	fieldSnapshotClocks protowire.Number = 1

	fieldClockID        protowire.Number = 1
	fieldClockTimestamp protowire.Number = 2
)

// Builtin clock ids.
const (
	ClockMonotonic uint32 = 3
	ClockBoottime  uint32 = 6
)

// TracePacket.sequence_flags values.
const (
	SeqIncrementalStateCleared uint32 = 1
	SeqNeedsIncrementalState   uint32 = 2
)

// EventType is TrackEvent.Type.
type EventType int32

const (
	EventTypeUnspecified EventType = 0
	EventTypeSliceBegin  EventType = 1
	EventTypeSliceEnd    EventType = 2
	EventTypeInstant     EventType = 3
	EventTypeCounter     EventType = 4
)
