package tracer

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/741g/vperfetto/internal/domain"
	"github.com/741g/vperfetto/internal/perfetto"
)

// MaxStackDepth bounds nested slices on one track. Begin and End past it are ignored.
const MaxStackDepth = 16

const (
	sequenceID       = 1
	trackNamePrefix  = "emu-"
	counterNameInfix = "-count-"
)

// Track is one producer's event stream. Its methods are safe for concurrent
// use, but slices only nest correctly when one goroutine drives a track.
type Track struct {
	t *Tracer

	mu         sync.Mutex
	buf        []byte
	first      bool
	tid        uint32
	counterID  uint32
	depth      int
	categories [MaxStackDepth]uint64
	names      [MaxStackDepth]uint64
	catIIDs    map[string]uint64
	nameIIDs   map[string]uint64
	counters   map[string]uint64
	closed     bool
}

// Begin opens a slice in the default category.
func (tr *Track) Begin(name string) {
	tr.BeginArgs(domain.DefaultCategory, name, nil)
}

// BeginIn opens a slice in category.
func (tr *Track) BeginIn(category, name string) {
	tr.BeginArgs(category, name, nil)
}

// BeginArgs opens a slice carrying debug annotations.
func (tr *Track) BeginArgs(category, name string, args []perfetto.DebugAnnotation) {
	if !tr.t.enabled.Load() {
		return
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.closed || tr.depth == MaxStackDepth {
		return
	}

	tr.ensureInfoLocked()
	catIID := tr.internLocked(tr.catIIDs, category, true)
	nameIID := tr.internLocked(tr.nameIIDs, name, false)
	tr.categories[tr.depth] = catIID
	tr.names[tr.depth] = nameIID

	tr.writeLocked(&perfetto.Packet{
		Timestamp:     tr.t.timestamp(),
		SequenceID:    sequenceID,
		SequenceFlags: perfetto.SeqNeedsIncrementalState,
		TrackEvent: &perfetto.TrackEvent{
			Type:         perfetto.EventTypeSliceBegin,
			TrackUUID:    uint64(tr.tid),
			CategoryIIDs: []uint64{catIID},
			NameIID:      nameIID,
			Annotations:  args,
		},
	})
	tr.depth++
}

// End closes the innermost open slice.
func (tr *Track) End() {
	if !tr.t.enabled.Load() {
		return
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.closed || tr.depth == MaxStackDepth || tr.depth == 0 {
		return
	}
	tr.depth--

	tr.writeLocked(&perfetto.Packet{
		Timestamp:     tr.t.timestamp(),
		SequenceID:    sequenceID,
		SequenceFlags: perfetto.SeqNeedsIncrementalState,
		TrackEvent: &perfetto.TrackEvent{
			Type:         perfetto.EventTypeSliceEnd,
			TrackUUID:    uint64(tr.tid),
			CategoryIIDs: []uint64{tr.categories[tr.depth]},
			NameIID:      tr.names[tr.depth],
		},
	})
}

// Counter records value on the counter track called name, creating the track on first use.
func (tr *Track) Counter(name string, value int64) {
	if !tr.t.enabled.Load() {
		return
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.closed {
		return
	}

	tr.ensureInfoLocked()
	uuid, ok := tr.counters[name]
	if !ok {
		uuid = uint64(tr.counterID)<<32 | uint64(tr.tid)
		tr.counters[name] = uuid
		slog.Debug("counter track created", "tid", tr.tid, "counter_id", tr.counterID, "uuid", uuid)
		tr.counterID++
		tr.writeLocked(&perfetto.Packet{
			TrackDescriptor: &perfetto.TrackDescriptor{
				UUID:    uuid,
				Name:    fmt.Sprintf("%s%d%s%s", trackNamePrefix, tr.tid, counterNameInfix, name),
				Counter: true,
			},
		})
	}

	tr.writeLocked(&perfetto.Packet{
		Timestamp:     tr.t.timestamp(),
		SequenceID:    sequenceID,
		SequenceFlags: perfetto.SeqNeedsIncrementalState,
		TrackEvent: &perfetto.TrackEvent{
			Type:         perfetto.EventTypeCounter,
			TrackUUID:    uuid,
			CounterValue: value,
		},
	})
}

// ThreadID returns the id assigned to the track, or 0 before its first event.
func (tr *Track) ThreadID() uint32 {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.tid
}

// Close hands any buffered packets to storage and unregisters the track.
func (tr *Track) Close() {
	tr.t.mu.Lock()
	delete(tr.t.tracks, tr)
	tr.t.mu.Unlock()

	tr.mu.Lock()
	defer tr.mu.Unlock()
	if tr.closed {
		return
	}
	tr.closed = true
	if len(tr.buf) > 0 {
		tr.t.store.add(tr.buf, tr.first)
	}
	tr.buf = nil
	tr.first = false
}

// ensureInfoLocked writes the sequence header (once per session), the
// default category interning and this track's descriptor.
func (tr *Track) ensureInfoLocked() {
	if tr.t.packetsWritten.Add(1) == 1 {
		tr.first = true
		tr.writeLocked(&perfetto.Packet{
			SequenceID:    sequenceID,
			SequenceFlags: perfetto.SeqIncrementalStateCleared,
		})
		tr.t.sequenceWritten.Store(true)
	}

	tr.internLocked(tr.catIIDs, domain.DefaultCategory, true)

	if tr.tid == 0 {
		tr.tid = tr.t.threadID.Add(1)
		slog.Debug("track thread id assigned", "tid", tr.tid)
		tr.writeLocked(&perfetto.Packet{
			SequenceID:    sequenceID,
			SequenceFlags: perfetto.SeqNeedsIncrementalState,
			TrackDescriptor: &perfetto.TrackDescriptor{
				UUID: uint64(tr.tid),
				Name: fmt.Sprintf("%s%d", trackNamePrefix, tr.tid),
			},
		})
	}
}

// internLocked returns the interning id for s, emitting an interned-data
// packet the first time s is seen on this track.
func (tr *Track) internLocked(table map[string]uint64, s string, category bool) uint64 {
	if iid, ok := table[s]; ok {
		return iid
	}
	iid := tr.t.nextInterningID()
	table[s] = iid

	data := &perfetto.InternedData{}
	entry := []perfetto.Interned{{IID: iid, Name: s}}
	if category {
		data.Categories = entry
	} else {
		data.EventNames = entry
	}
	tr.writeLocked(&perfetto.Packet{
		SequenceID:    sequenceID,
		SequenceFlags: perfetto.SeqNeedsIncrementalState,
		InternedData:  data,
	})
	return iid
}

// writeLocked appends a packet, first handing the buffer to storage when
// the packet would not fit. Only the first chunk keeps the first flag.
func (tr *Track) writeLocked(p *perfetto.Packet) {
	limit := int(tr.t.storageBytes.Load())
	before := len(tr.buf)
	tr.buf = perfetto.AppendPacket(tr.buf, p.Marshal())
	if len(tr.buf) <= limit || before == 0 {
		return
	}
	pkt := append([]byte(nil), tr.buf[before:]...)
	tr.t.store.add(tr.buf[:before:before], tr.first)
	tr.first = false
	tr.buf = pkt
}

// flush hands the buffer to storage and forgets the track's session state,
// so its next event starts with a fresh thread descriptor.
func (tr *Track) flush() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	if len(tr.buf) > 0 {
		tr.t.store.add(tr.buf, tr.first)
	}
	tr.buf = nil
	tr.first = false
	tr.resetLocked()
}

func (tr *Track) resetLocked() {
	tr.tid = 0
	tr.counterID = 1
	tr.depth = 0
	tr.catIIDs = make(map[string]uint64)
	tr.nameIIDs = make(map[string]uint64)
	tr.counters = make(map[string]uint64)
}
