package perfetto

import "google.golang.org/protobuf/encoding/protowire"

// Packet is the subset of TracePacket this package can build and decode.
// Zero-valued scalars are not encoded.
type Packet struct {
	Timestamp        uint64
	TrustedUID       int32
	SequenceID       uint32
	SequenceFlags    uint32
	DefaultTrackUUID uint64 // trace_packet_defaults.track_event_defaults.track_uuid
	TrackEvent       *TrackEvent
	TrackDescriptor  *TrackDescriptor
	InternedData     *InternedData
	Ftrace           *FtraceBundle
	ProcessTree      *ProcessTree
	ClockSnapshot    *ClockSnapshot
	ServiceEvent     []byte
}

type TrackEvent struct {
	Type         EventType
	TrackUUID    uint64
	CategoryIIDs []uint64
	Categories   []string
	NameIID      uint64
	Name         string
	CounterValue int64
	Annotations  []DebugAnnotation
}

// DebugAnnotation carries an unsigned value under either an inline or an interned name.
type DebugAnnotation struct {
	Name      string
	NameIID   uint64
	UintValue uint64
}

type TrackDescriptor struct {
	UUID       uint64
	ParentUUID uint64
	Name       string
	Counter    bool
	Process    *ProcessDescriptor
	Thread     *ThreadDescriptor
}

type ProcessDescriptor struct {
	Pid  int32
	Name string
}

type ThreadDescriptor struct {
	Pid int32
	Tid int32
}

type InternedData struct {
	Categories      []Interned
	EventNames      []Interned
	AnnotationNames []Interned
}

type Interned struct {
	IID  uint64
	Name string
}

type FtraceBundle struct {
	CPU    uint32
	Events []FtraceEvent
}

type FtraceEvent struct {
	Timestamp   uint64
	Pid         int32
	SchedSwitch *SchedSwitch
	SchedWakeup *SchedWakeup
	SchedFork   *SchedFork
}

type SchedSwitch struct {
	PrevPid int32
	NextPid int32
}

type SchedWakeup struct {
	Pid int32
}

type SchedFork struct {
	ParentPid int32
	ChildPid  int32
}

type ProcessTree struct {
	Pids    []int32
	Threads []TreeThread
}

type TreeThread struct {
	Tid  int32
	Tgid int32
}

type ClockSnapshot struct {
	Clocks []Clock
}

type Clock struct {
	ID        uint32
	Timestamp uint64
}

// Marshal encodes the packet as a TracePacket message.
func (p *Packet) Marshal() []byte {
	var b []byte
	if p.Ftrace != nil {
		b = appendBytes(b, fieldPacketFtraceEvents, p.Ftrace.marshal())
	}
	if p.ProcessTree != nil {
		b = appendBytes(b, fieldPacketProcessTree, p.ProcessTree.marshal())
	}
	if p.TrustedUID != 0 {
		b = appendInt32(b, fieldPacketTrustedUID, p.TrustedUID)
	}
	if p.ClockSnapshot != nil {
		b = appendBytes(b, fieldPacketClockSnapshot, p.ClockSnapshot.marshal())
	}
	if p.Timestamp != 0 {
		b = appendVarint(b, fieldPacketTimestamp, p.Timestamp)
	}
	if p.SequenceID != 0 {
		b = appendVarint(b, fieldPacketSequenceID, uint64(p.SequenceID))
	}
	if p.TrackEvent != nil {
		b = appendBytes(b, fieldPacketTrackEvent, p.TrackEvent.marshal())
	}
	if p.InternedData != nil {
		b = appendBytes(b, fieldPacketInternedData, p.InternedData.marshal())
	}
	if p.SequenceFlags != 0 {
		b = appendVarint(b, fieldPacketSequenceFlags, uint64(p.SequenceFlags))
	}
	if p.DefaultTrackUUID != 0 {
		defaults := appendVarint(nil, fieldEventDefaultsUUID, p.DefaultTrackUUID)
		b = appendBytes(b, fieldPacketDefaults, appendBytes(nil, fieldDefaultsTrackEvent, defaults))
	}
	if p.TrackDescriptor != nil {
		b = appendBytes(b, fieldPacketTrackDescriptor, p.TrackDescriptor.marshal())
	}
	if p.ServiceEvent != nil {
		b = appendBytes(b, fieldPacketServiceEvent, p.ServiceEvent)
	}
	return b
}

func (e *TrackEvent) marshal() []byte {
	var b []byte
	for _, iid := range e.CategoryIIDs {
		b = appendVarint(b, fieldEventCategoryIIDs, iid)
	}
	for _, a := range e.Annotations {
		b = appendBytes(b, fieldEventAnnotations, a.marshal())
	}
	if e.Type != EventTypeUnspecified {
		b = appendVarint(b, fieldEventType, uint64(e.Type))
	}
	if e.NameIID != 0 {
		b = appendVarint(b, fieldEventNameIID, e.NameIID)
	}
	if e.TrackUUID != 0 {
		b = appendVarint(b, fieldEventTrackUUID, e.TrackUUID)
	}
	for _, c := range e.Categories {
		b = appendString(b, fieldEventCategories, c)
	}
	if e.Name != "" {
		b = appendString(b, fieldEventName, e.Name)
	}
	if e.Type == EventTypeCounter {
		b = appendVarint(b, fieldEventCounterValue, uint64(e.CounterValue))
	}
	return b
}

func (a DebugAnnotation) marshal() []byte {
	var b []byte
	if a.NameIID != 0 {
		b = appendVarint(b, fieldAnnotationNameIID, a.NameIID)
	}
	b = appendVarint(b, fieldAnnotationUint, a.UintValue)
	if a.Name != "" {
		b = appendString(b, fieldAnnotationName, a.Name)
	}
	return b
}

func (d *TrackDescriptor) marshal() []byte {
	var b []byte
	if d.UUID != 0 {
		b = appendVarint(b, fieldDescUUID, d.UUID)
	}
	if d.Name != "" {
		b = appendString(b, fieldDescName, d.Name)
	}
	if d.Process != nil {
		var p []byte
		p = appendInt32(p, fieldProcessPid, d.Process.Pid)
		if d.Process.Name != "" {
			p = appendString(p, fieldProcessName, d.Process.Name)
		}
		b = appendBytes(b, fieldDescProcess, p)
	}
	if d.Thread != nil {
		var t []byte
		t = appendInt32(t, fieldThreadPid, d.Thread.Pid)
		t = appendInt32(t, fieldThreadTid, d.Thread.Tid)
		b = appendBytes(b, fieldDescThread, t)
	}
	if d.ParentUUID != 0 {
		b = appendVarint(b, fieldDescParentUUID, d.ParentUUID)
	}
	if d.Counter {
		b = appendBytes(b, fieldDescCounter, nil)
	}
	return b
}

func (d *InternedData) marshal() []byte {
	var b []byte
	for _, e := range d.Categories {
		b = appendBytes(b, fieldInternedCategories, e.marshal())
	}
	for _, e := range d.EventNames {
		b = appendBytes(b, fieldInternedEventNames, e.marshal())
	}
	for _, e := range d.AnnotationNames {
		b = appendBytes(b, fieldInternedAnnotationNames, e.marshal())
	}
	return b
}

func (e Interned) marshal() []byte {
	b := appendVarint(nil, fieldInternedIID, e.IID)
	return appendString(b, fieldInternedName, e.Name)
}

func (f *FtraceBundle) marshal() []byte {
	b := appendVarint(nil, fieldBundleCPU, uint64(f.CPU))
	for _, ev := range f.Events {
		b = appendBytes(b, fieldBundleEvent, ev.marshal())
	}
	return b
}

func (e FtraceEvent) marshal() []byte {
	var b []byte
	if e.Timestamp != 0 {
		b = appendVarint(b, fieldFtraceTimestamp, e.Timestamp)
	}
	b = appendInt32(b, fieldFtracePid, e.Pid)
	if e.SchedSwitch != nil {
		var s []byte
		s = appendInt32(s, fieldSchedPrevPid, e.SchedSwitch.PrevPid)
		s = appendInt32(s, fieldSchedNextPid, e.SchedSwitch.NextPid)
		b = appendBytes(b, fieldSchedSwitch, s)
	}
	if e.SchedWakeup != nil {
		b = appendBytes(b, fieldSchedWakeup, appendInt32(nil, fieldSchedWakeupPid, e.SchedWakeup.Pid))
	}
	if e.SchedFork != nil {
		var s []byte
		s = appendInt32(s, fieldSchedParentPid, e.SchedFork.ParentPid)
		s = appendInt32(s, fieldSchedChildPid, e.SchedFork.ChildPid)
		b = appendBytes(b, fieldSchedFork, s)
	}
	return b
}

func (t *ProcessTree) marshal() []byte {
	var b []byte
	for _, pid := range t.Pids {
		b = appendBytes(b, fieldTreeProcesses, appendInt32(nil, fieldTreeProcessPid, pid))
	}
	for _, th := range t.Threads {
		var e []byte
		e = appendInt32(e, fieldTreeThreadTid, th.Tid)
		e = appendInt32(e, fieldTreeThreadTgid, th.Tgid)
		b = appendBytes(b, fieldTreeThreads, e)
	}
	return b
}

func (c *ClockSnapshot) marshal() []byte {
	var b []byte
	for _, clk := range c.Clocks {
		e := appendVarint(nil, fieldClockID, uint64(clk.ID))
		e = appendVarint(e, fieldClockTimestamp, clk.Timestamp)
		b = appendBytes(b, fieldSnapshotClocks, e)
	}
	return b
}

// UnmarshalPacket decodes the known fields of a TracePacket. Unknown fields are skipped.
func UnmarshalPacket(b []byte) (*Packet, error) {
	p := &Packet{}
	err := eachField(b, func(f field) error {
		var err error
		switch {
		case f.isVarint(fieldPacketTimestamp):
			p.Timestamp = f.u
		case f.isVarint(fieldPacketTrustedUID):
			p.TrustedUID = int32(f.u)
		case f.isVarint(fieldPacketSequenceID):
			p.SequenceID = uint32(f.u)
		case f.isVarint(fieldPacketSequenceFlags):
			p.SequenceFlags = uint32(f.u)
		case f.isBytes(fieldPacketTrackEvent):
			p.TrackEvent, err = unmarshalTrackEvent(f.b)
		case f.isBytes(fieldPacketTrackDescriptor):
			p.TrackDescriptor, err = unmarshalTrackDescriptor(f.b)
		case f.isBytes(fieldPacketInternedData):
			p.InternedData, err = unmarshalInternedData(f.b)
		case f.isBytes(fieldPacketDefaults):
			err = eachField(f.b, func(d field) error {
				if !d.isBytes(fieldDefaultsTrackEvent) {
					return nil
				}
				return eachField(d.b, func(e field) error {
					if e.isVarint(fieldEventDefaultsUUID) {
						p.DefaultTrackUUID = e.u
					}
					return nil
				})
			})
		case f.isBytes(fieldPacketFtraceEvents):
			p.Ftrace, err = unmarshalFtrace(f.b)
		case f.isBytes(fieldPacketProcessTree):
			p.ProcessTree, err = unmarshalProcessTree(f.b)
		case f.isBytes(fieldPacketClockSnapshot):
			p.ClockSnapshot, err = unmarshalClockSnapshot(f.b)
		case f.isBytes(fieldPacketServiceEvent):
			p.ServiceEvent = append([]byte{}, f.b...)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Decode splits and decodes every packet of a serialized Trace.
func Decode(trace []byte) ([]*Packet, error) {
	raw, err := Packets(trace)
	if err != nil {
		return nil, err
	}
	out := make([]*Packet, 0, len(raw))
	for _, r := range raw {
		p, err := UnmarshalPacket(r)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func unmarshalTrackEvent(b []byte) (*TrackEvent, error) {
	e := &TrackEvent{}
	err := eachField(b, func(f field) error {
		switch {
		case f.isVarint(fieldEventCategoryIIDs):
			e.CategoryIIDs = append(e.CategoryIIDs, f.u)
		case f.isBytes(fieldEventCategoryIIDs):
			// packed encoding
			for rest := f.b; len(rest) > 0; {
				v, n := protowire.ConsumeVarint(rest)
				if n < 0 {
					return ErrMalformed
				}
				e.CategoryIIDs = append(e.CategoryIIDs, v)
				rest = rest[n:]
			}
		case f.isBytes(fieldEventAnnotations):
			a, err := unmarshalAnnotation(f.b)
			if err != nil {
				return err
			}
			e.Annotations = append(e.Annotations, a)
		case f.isVarint(fieldEventType):
			e.Type = EventType(f.u)
		case f.isVarint(fieldEventNameIID):
			e.NameIID = f.u
		case f.isVarint(fieldEventTrackUUID):
			e.TrackUUID = f.u
		case f.isBytes(fieldEventCategories):
			e.Categories = append(e.Categories, string(f.b))
		case f.isBytes(fieldEventName):
			e.Name = string(f.b)
		case f.isVarint(fieldEventCounterValue):
			e.CounterValue = int64(f.u)
		}
		return nil
	})
	return e, err
}

func unmarshalAnnotation(b []byte) (DebugAnnotation, error) {
	var a DebugAnnotation
	err := eachField(b, func(f field) error {
		switch {
		case f.isVarint(fieldAnnotationNameIID):
			a.NameIID = f.u
		case f.isVarint(fieldAnnotationUint), f.isVarint(fieldAnnotationInt):
			a.UintValue = f.u
		case f.isBytes(fieldAnnotationName):
			a.Name = string(f.b)
		}
		return nil
	})
	return a, err
}

func unmarshalTrackDescriptor(b []byte) (*TrackDescriptor, error) {
	d := &TrackDescriptor{}
	err := eachField(b, func(f field) error {
		switch {
		case f.isVarint(fieldDescUUID):
			d.UUID = f.u
		case f.isVarint(fieldDescParentUUID):
			d.ParentUUID = f.u
		case f.isBytes(fieldDescName):
			d.Name = string(f.b)
		case f.isBytes(fieldDescCounter):
			d.Counter = true
		case f.isBytes(fieldDescProcess):
			d.Process = &ProcessDescriptor{}
			return eachField(f.b, func(pf field) error {
				switch {
				case pf.isVarint(fieldProcessPid):
					d.Process.Pid = int32(pf.u)
				case pf.isBytes(fieldProcessName):
					d.Process.Name = string(pf.b)
				}
				return nil
			})
		case f.isBytes(fieldDescThread):
			d.Thread = &ThreadDescriptor{}
			return eachField(f.b, func(tf field) error {
				switch {
				case tf.isVarint(fieldThreadPid):
					d.Thread.Pid = int32(tf.u)
				case tf.isVarint(fieldThreadTid):
					d.Thread.Tid = int32(tf.u)
				}
				return nil
			})
		}
		return nil
	})
	return d, err
}

func unmarshalInternedData(b []byte) (*InternedData, error) {
	d := &InternedData{}
	err := eachField(b, func(f field) error {
		if f.typ != protowire.BytesType {
			return nil
		}
		var target *[]Interned
		switch f.num {
		case fieldInternedCategories:
			target = &d.Categories
		case fieldInternedEventNames:
			target = &d.EventNames
		case fieldInternedAnnotationNames:
			target = &d.AnnotationNames
		default:
			return nil
		}
		var e Interned
		if err := eachField(f.b, func(ef field) error {
			switch {
			case ef.isVarint(fieldInternedIID):
				e.IID = ef.u
			case ef.isBytes(fieldInternedName):
				e.Name = string(ef.b)
			}
			return nil
		}); err != nil {
			return err
		}
		*target = append(*target, e)
		return nil
	})
	return d, err
}

func unmarshalFtrace(b []byte) (*FtraceBundle, error) {
	bundle := &FtraceBundle{}
	err := eachField(b, func(f field) error {
		switch {
		case f.isVarint(fieldBundleCPU):
			bundle.CPU = uint32(f.u)
		case f.isBytes(fieldBundleEvent):
			var ev FtraceEvent
			if err := eachField(f.b, func(ef field) error {
				switch {
				case ef.isVarint(fieldFtraceTimestamp):
					ev.Timestamp = ef.u
				case ef.isVarint(fieldFtracePid):
					ev.Pid = int32(ef.u)
				case ef.isBytes(fieldSchedSwitch):
					ev.SchedSwitch = &SchedSwitch{}
					return eachField(ef.b, func(sf field) error {
						switch {
						case sf.isVarint(fieldSchedPrevPid):
							ev.SchedSwitch.PrevPid = int32(sf.u)
						case sf.isVarint(fieldSchedNextPid):
							ev.SchedSwitch.NextPid = int32(sf.u)
						}
						return nil
					})
				case ef.isBytes(fieldSchedWakeup):
					ev.SchedWakeup = &SchedWakeup{}
					return eachField(ef.b, func(sf field) error {
						if sf.isVarint(fieldSchedWakeupPid) {
							ev.SchedWakeup.Pid = int32(sf.u)
						}
						return nil
					})
				case ef.isBytes(fieldSchedFork):
					ev.SchedFork = &SchedFork{}
					return eachField(ef.b, func(sf field) error {
						switch {
						case sf.isVarint(fieldSchedParentPid):
							ev.SchedFork.ParentPid = int32(sf.u)
						case sf.isVarint(fieldSchedChildPid):
							ev.SchedFork.ChildPid = int32(sf.u)
						}
						return nil
					})
				}
				return nil
			}); err != nil {
				return err
			}
			bundle.Events = append(bundle.Events, ev)
		}
		return nil
	})
	return bundle, err
}

func unmarshalProcessTree(b []byte) (*ProcessTree, error) {
	t := &ProcessTree{}
	err := eachField(b, func(f field) error {
		switch {
		case f.isBytes(fieldTreeProcesses):
			return eachField(f.b, func(pf field) error {
				if pf.isVarint(fieldTreeProcessPid) {
					t.Pids = append(t.Pids, int32(pf.u))
				}
				return nil
			})
		case f.isBytes(fieldTreeThreads):
			var th TreeThread
			if err := eachField(f.b, func(tf field) error {
				switch {
				case tf.isVarint(fieldTreeThreadTid):
					th.Tid = int32(tf.u)
				case tf.isVarint(fieldTreeThreadTgid):
					th.Tgid = int32(tf.u)
				}
				return nil
			}); err != nil {
				return err
			}
			t.Threads = append(t.Threads, th)
		}
		return nil
	})
	return t, err
}

func unmarshalClockSnapshot(b []byte) (*ClockSnapshot, error) {
	s := &ClockSnapshot{}
	err := eachField(b, func(f field) error {
		if !f.isBytes(fieldSnapshotClocks) {
			return nil
		}
		var c Clock
		if err := eachField(f.b, func(cf field) error {
			switch {
			case cf.isVarint(fieldClockID):
				c.ID = uint32(cf.u)
			case cf.isVarint(fieldClockTimestamp):
				c.Timestamp = cf.u
			}
			return nil
		}); err != nil {
			return err
		}
		s.Clocks = append(s.Clocks, c)
		return nil
	})
	return s, err
}
