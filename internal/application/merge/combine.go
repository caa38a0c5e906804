package merge

import (
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/741g/vperfetto/internal/domain"
	"github.com/741g/vperfetto/internal/perfetto"
)

// MaxIDs are the largest identifiers found in a guest trace. Host identifiers
// are shifted past them so the two traces do not collide.
type MaxIDs struct {
	UID int32
	Seq uint32
	Pid int32
	Tid int32
	CPU uint32
}

// newTrackUUID returns the low 64 bits of a random v4 UUID.
var newTrackUUID = func() uint64 {
	u := uuid.New()
	return binary.LittleEndian.Uint64(u[8:])
}

// CalcMaxIDs scans guest. A guest trace that fails to parse yields zero maxima.
func CalcMaxIDs(guest []byte) MaxIDs {
	var m MaxIDs
	rw := &perfetto.Rewriter{
		TrustedUID: func(v int32) int32 { m.UID = max(m.UID, v); return v },
		SequenceID: func(v uint32) uint32 { m.Seq = max(m.Seq, v); return v },
		Pid:        func(v int32) int32 { m.Pid = max(m.Pid, v); return v },
		Tid:        func(v int32) int32 { m.Tid = max(m.Tid, v); return v },
		CPU:        func(v uint32) uint32 { m.CPU = max(m.CPU, v); return v },
	}
	if _, err := rw.Trace(guest); err != nil {
		slog.Warn("could not parse guest trace, host ids are not offset", "error", err)
		return MaxIDs{}
	}
	slog.Debug("guest max ids", "uid", m.UID, "seq", m.Seq, "pid", m.Pid, "tid", m.Tid, "cpu", m.CPU)
	return m
}

// Combine returns guest followed by host, with host timestamps shifted by
// diff and host identifiers moved past the guest's.
func Combine(guest, host []byte, diff uint64) ([]byte, error) {
	ids := CalcMaxIDs(guest)

	pid := func(v int32) int32 {
		if v == 0 {
			return 0
		}
		return v + ids.Pid
	}
	remap := make(map[uint64]uint64)

	rw := &perfetto.Rewriter{
		Timestamp:  func(ts uint64) uint64 { return ts + diff },
		TrustedUID: func(v int32) int32 { return v + ids.UID },
		SequenceID: func(v uint32) uint32 { return v + ids.Seq },
		Pid:        pid,
		Tid: func(v int32) int32 {
			if v == 0 {
				return 0
			}
			return v + ids.Tid
		},
		CPU: func(v uint32) uint32 { return v + ids.CPU + 1 },
		DescriptorPid: func(v int32, trackUUID uint64) int32 {
			next := pid(v)
			if next != v {
				if _, ok := remap[trackUUID]; !ok {
					remap[trackUUID] = newTrackUUID()
				}
			}
			return next
		},
		Drop: []protowire.Number{perfetto.ClockSnapshotField, perfetto.ServiceEventField},
	}

	out, err := rw.Trace(host)
	if err != nil {
		return nil, fmt.Errorf("host trace: %w: %v", domain.ErrInvalidTrace, err)
	}

	if len(remap) > 0 {
		slog.Info("remapping host track uuids", "tracks", len(remap))
		fix := &perfetto.Rewriter{TrackUUID: func(u uint64) uint64 {
			if next, ok := remap[u]; ok {
				return next
			}
			slog.Warn("track uuid has no remapping", "uuid", u)
			return 0
		}}
		if out, err = fix.Trace(out); err != nil {
			return nil, fmt.Errorf("host trace: %w: %v", domain.ErrInvalidTrace, err)
		}
	}

	return perfetto.Concat(guest, out), nil
}

// TimeDiff picks the offset added to host timestamps. A guest boot time wins
// over an explicit diff; with neither, the diff is derived from the first
// timestamps of both traces.
func TimeDiff(req domain.MergeRequest, guest, host []byte) (uint64, domain.TimeDiffMode) {
	switch {
	case req.GuestBootTimeNs != nil:
		diff := *req.GuestBootTimeNs - traceStartTime("host", host)
		slog.Info("time diff from guest boot time", "guest_boot_time_ns", *req.GuestBootTimeNs, "diff", diff)
		return diff, domain.TimeDiffGuestBootTime
	case req.GuestTimeDiffNs != nil:
		return *req.GuestTimeDiffNs, domain.TimeDiffExplicit
	default:
		diff := traceStartTime("guest", guest) - traceStartTime("host", host)
		slog.Info("time diff derived from trace start times", "diff", diff)
		return diff, domain.TimeDiffDerived
	}
}

// traceStartTime is the first packet timestamp, or 0 when there is none.
func traceStartTime(which string, trace []byte) uint64 {
	ts, ok, err := perfetto.FirstTimestamp(trace)
	if err != nil {
		slog.Warn("could not parse trace for start time", "trace", which, "error", err)
		return 0
	}
	if !ok {
		slog.Warn("no timestamps in trace", "trace", which)
		return 0
	}
	return ts
}
