package perfetto

import (
	"slices"

	"google.golang.org/protobuf/encoding/protowire"
)

// Rewriter maps identifiers and timestamps in a serialized trace. A nil
// function leaves its fields as they are; unknown fields are copied verbatim.
type Rewriter struct {
	Timestamp  func(uint64) uint64
	TrustedUID func(int32) int32
	SequenceID func(uint32) uint32
	Pid        func(int32) int32
	Tid        func(int32) int32
	CPU        func(uint32) uint32

	// DescriptorPid maps the pid of a track descriptor's process or thread.
	// It receives the descriptor's uuid. When nil, Pid is used.
	DescriptorPid func(pid int32, trackUUID uint64) int32

	// TrackUUID maps track_event.track_uuid, the track_event_defaults
	// track_uuid and track_descriptor uuid/parent_uuid.
	TrackUUID func(uint64) uint64

	// Drop lists TracePacket fields removed from every packet.
	Drop []protowire.Number
}

// Trace rewrites every packet of a serialized Trace.
func (rw *Rewriter) Trace(trace []byte) ([]byte, error) {
	return rewrite(trace, func(out []byte, f field) ([]byte, error) {
		if !f.isBytes(fieldTracePacket) {
			return append(out, f.raw...), nil
		}
		pkt, err := rw.Packet(f.b)
		if err != nil {
			return nil, err
		}
		return appendBytes(out, fieldTracePacket, pkt), nil
	})
}

// Packet rewrites one serialized TracePacket.
func (rw *Rewriter) Packet(pkt []byte) ([]byte, error) {
	return rewrite(pkt, func(out []byte, f field) ([]byte, error) {
		if slices.Contains(rw.Drop, f.num) {
			return out, nil
		}
		var (
			sub []byte
			err error
		)
		switch {
		case f.isVarint(fieldPacketTimestamp) && rw.Timestamp != nil:
			return appendVarint(out, f.num, rw.Timestamp(f.u)), nil
		case f.isVarint(fieldPacketTrustedUID) && rw.TrustedUID != nil:
			return appendInt32(out, f.num, rw.TrustedUID(int32(f.u))), nil
		case f.isVarint(fieldPacketSequenceID) && rw.SequenceID != nil:
			return appendVarint(out, f.num, uint64(rw.SequenceID(uint32(f.u)))), nil
		case f.isBytes(fieldPacketFtraceEvents):
			sub, err = rw.ftraceBundle(f.b)
		case f.isBytes(fieldPacketProcessTree):
			sub, err = rw.processTree(f.b)
		case f.isBytes(fieldPacketTrackDescriptor):
			sub, err = rw.trackDescriptor(f.b)
		case f.isBytes(fieldPacketTrackEvent) && rw.TrackUUID != nil:
			sub, err = mapVarint(f.b, fieldEventTrackUUID, rw.TrackUUID)
		case f.isBytes(fieldPacketDefaults) && rw.TrackUUID != nil:
			sub, err = rewrite(f.b, func(out []byte, d field) ([]byte, error) {
				if !d.isBytes(fieldDefaultsTrackEvent) {
					return append(out, d.raw...), nil
				}
				ev, err := mapVarint(d.b, fieldEventDefaultsUUID, rw.TrackUUID)
				if err != nil {
					return nil, err
				}
				return appendBytes(out, d.num, ev), nil
			})
		default:
			return append(out, f.raw...), nil
		}
		if err != nil {
			return nil, err
		}
		return appendBytes(out, f.num, sub), nil
	})
}

func (rw *Rewriter) ftraceBundle(b []byte) ([]byte, error) {
	return rewrite(b, func(out []byte, f field) ([]byte, error) {
		switch {
		case f.isVarint(fieldBundleCPU) && rw.CPU != nil:
			return appendVarint(out, f.num, uint64(rw.CPU(uint32(f.u)))), nil
		case f.isBytes(fieldBundleEvent):
			ev, err := rw.ftraceEvent(f.b)
			if err != nil {
				return nil, err
			}
			return appendBytes(out, f.num, ev), nil
		}
		return append(out, f.raw...), nil
	})
}

func (rw *Rewriter) ftraceEvent(b []byte) ([]byte, error) {
	return rewrite(b, func(out []byte, f field) ([]byte, error) {
		switch {
		case f.isVarint(fieldFtraceTimestamp) && rw.Timestamp != nil:
			return appendVarint(out, f.num, rw.Timestamp(f.u)), nil
		case f.isVarint(fieldFtracePid) && rw.Pid != nil:
			return appendInt32(out, f.num, rw.Pid(int32(f.u))), nil
		case f.typ == protowire.BytesType && rw.Pid != nil:
			subfields, ok := schedPidFields[f.num]
			if !ok {
				break
			}
			// Zero pids in scheduler events mean "idle" and stay zero.
			ev, err := rewrite(f.b, func(out []byte, sf field) ([]byte, error) {
				if sf.typ == protowire.VarintType && sf.u != 0 && slices.Contains(subfields, sf.num) {
					return appendInt32(out, sf.num, rw.Pid(int32(sf.u))), nil
				}
				return append(out, sf.raw...), nil
			})
			if err != nil {
				return nil, err
			}
			return appendBytes(out, f.num, ev), nil
		}
		return append(out, f.raw...), nil
	})
}

func (rw *Rewriter) processTree(b []byte) ([]byte, error) {
	return rewrite(b, func(out []byte, f field) ([]byte, error) {
		var (
			sub []byte
			err error
		)
		switch {
		case f.isBytes(fieldTreeProcesses):
			sub, err = mapInt32(f.b, fieldTreeProcessPid, rw.Pid)
		case f.isBytes(fieldTreeThreads):
			sub, err = rewrite(f.b, func(out []byte, tf field) ([]byte, error) {
				switch {
				case tf.isVarint(fieldTreeThreadTid) && rw.Tid != nil:
					return appendInt32(out, tf.num, rw.Tid(int32(tf.u))), nil
				case tf.isVarint(fieldTreeThreadTgid) && rw.Pid != nil:
					return appendInt32(out, tf.num, rw.Pid(int32(tf.u))), nil
				}
				return append(out, tf.raw...), nil
			})
		default:
			return append(out, f.raw...), nil
		}
		if err != nil {
			return nil, err
		}
		return appendBytes(out, f.num, sub), nil
	})
}

func (rw *Rewriter) trackDescriptor(b []byte) ([]byte, error) {
	var uuid uint64
	if err := eachField(b, func(f field) error {
		if f.isVarint(fieldDescUUID) {
			uuid = f.u
		}
		return nil
	}); err != nil {
		return nil, err
	}

	pidFn := rw.Pid
	if rw.DescriptorPid != nil {
		pidFn = func(pid int32) int32 { return rw.DescriptorPid(pid, uuid) }
	}

	return rewrite(b, func(out []byte, f field) ([]byte, error) {
		switch {
		case (f.isVarint(fieldDescUUID) || f.isVarint(fieldDescParentUUID)) && rw.TrackUUID != nil:
			return appendVarint(out, f.num, rw.TrackUUID(f.u)), nil
		case f.isBytes(fieldDescProcess):
			sub, err := mapInt32(f.b, fieldProcessPid, pidFn)
			if err != nil {
				return nil, err
			}
			return appendBytes(out, f.num, sub), nil
		case f.isBytes(fieldDescThread):
			sub, err := mapInt32(f.b, fieldThreadPid, pidFn)
			if err != nil {
				return nil, err
			}
			return appendBytes(out, f.num, sub), nil
		}
		return append(out, f.raw...), nil
	})
}

func mapVarint(b []byte, num protowire.Number, fn func(uint64) uint64) ([]byte, error) {
	return rewrite(b, func(out []byte, f field) ([]byte, error) {
		if f.isVarint(num) {
			return appendVarint(out, num, fn(f.u)), nil
		}
		return append(out, f.raw...), nil
	})
}

func mapInt32(b []byte, num protowire.Number, fn func(int32) int32) ([]byte, error) {
	if fn == nil {
		return b, nil
	}
	return rewrite(b, func(out []byte, f field) ([]byte, error) {
		if f.isVarint(num) {
			return appendInt32(out, num, fn(int32(f.u))), nil
		}
		return append(out, f.raw...), nil
	})
}
