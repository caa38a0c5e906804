package tracer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/741g/vperfetto/internal/domain"
	"github.com/741g/vperfetto/internal/perfetto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ ns atomic.Uint64 }

func (c *fakeClock) BootTimeNs() uint64 { return c.ns.Add(10) }

type fakeSaver struct {
	mu   sync.Mutex
	reqs []SaveRequest
	err  error
}

func (s *fakeSaver) Save(_ context.Context, req SaveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	return s.err
}

func (s *fakeSaver) last(t *testing.T) SaveRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.reqs)
	return s.reqs[len(s.reqs)-1]
}

func newTracer(env map[string]string) (*Tracer, *fakeClock, *fakeSaver) {
	clk := &fakeClock{}
	clk.ns.Store(1000)
	sv := &fakeSaver{}
	tr := New(clk, sv)
	tr.getenv = func(k string) string { return env[k] }
	return tr, clk, sv
}

func withHostFile(tr *Tracer) {
	tr.SetTraceConfig(func(c *domain.TraceConfig) { c.HostFilename = "host.trace" })
}

func TestNew_Defaults(t *testing.T) {
	tr, _, _ := newTracer(nil)
	cfg := tr.QueryTraceConfig()
	assert.True(t, cfg.TracingDisabled)
	assert.Equal(t, uint64(1), cfg.CurrentInterningID)
	assert.Equal(t, uint32(1), cfg.CurrentThreadID)
	assert.Equal(t, 1, cfg.PerThreadStorageMB)
	assert.False(t, cfg.Saving)
}

func TestEnable_NoHostFileIsNoop(t *testing.T) {
	tr, _, _ := newTracer(nil)
	tr.Enable()
	assert.False(t, tr.Enabled())
}

func TestEnable_EnvOverridesFiles(t *testing.T) {
	tr, _, _ := newTracer(map[string]string{
		EnvHostFile:     "env-host.trace",
		EnvGuestFile:    "env-guest.trace",
		EnvCombinedFile: "",
	})
	tr.SetTraceConfig(func(c *domain.TraceConfig) { c.CombinedFilename = "combined.trace" })
	tr.Enable()
	cfg := tr.QueryTraceConfig()
	assert.False(t, cfg.TracingDisabled)
	assert.Equal(t, "env-host.trace", cfg.HostFilename)
	assert.Equal(t, "env-guest.trace", cfg.GuestFilename)
	assert.Equal(t, "combined.trace", cfg.CombinedFilename)
}

func TestEnable_NotWhileSaving(t *testing.T) {
	tr, _, _ := newTracer(nil)
	withHostFile(tr)
	tr.saving.Store(true)
	tr.Enable()
	assert.False(t, tr.Enabled())
}

func TestTrack_DisabledIsNoop(t *testing.T) {
	tr, _, _ := newTracer(nil)
	track := tr.NewTrack()
	track.Begin("x")
	track.Counter("c", 1)
	track.End()
	assert.Equal(t, uint32(0), track.ThreadID())
	assert.Equal(t, uint64(0), tr.QueryTraceConfig().PacketsWritten)
}

func TestTrace_FirstPacketsAndDescriptors(t *testing.T) {
	tr, _, sv := newTracer(nil)
	withHostFile(tr)
	tr.Enable()

	track := tr.NewTrack()
	track.Begin("draw")
	track.End()
	assert.Equal(t, uint32(2), track.ThreadID())

	tr.Disable()
	tr.Wait()

	req := sv.last(t)
	assert.Equal(t, "host.trace", req.HostFile)
	assert.Equal(t, uint64(1), req.PacketsWritten)

	pkts, err := perfetto.Decode(req.Host)
	require.NoError(t, err)
	require.Len(t, pkts, 6)

	// header
	assert.Equal(t, uint32(1), pkts[0].SequenceID)
	assert.Equal(t, perfetto.SeqIncrementalStateCleared, pkts[0].SequenceFlags)

	// category interning, then the thread descriptor
	require.NotNil(t, pkts[1].InternedData)
	assert.Equal(t, []perfetto.Interned{{IID: 1, Name: "gfxstream"}}, pkts[1].InternedData.Categories)
	require.NotNil(t, pkts[2].TrackDescriptor)
	assert.Equal(t, uint64(2), pkts[2].TrackDescriptor.UUID)
	assert.Equal(t, "emu-2", pkts[2].TrackDescriptor.Name)

	assert.Equal(t, []perfetto.Interned{{IID: 2, Name: "draw"}}, pkts[3].InternedData.EventNames)

	begin := pkts[4].TrackEvent
	require.NotNil(t, begin)
	assert.Equal(t, perfetto.EventTypeSliceBegin, begin.Type)
	assert.Equal(t, uint64(2), begin.TrackUUID)
	assert.Equal(t, []uint64{1}, begin.CategoryIIDs)
	assert.Equal(t, uint64(2), begin.NameIID)
	assert.Equal(t, perfetto.SeqNeedsIncrementalState, pkts[4].SequenceFlags)

	end := pkts[5].TrackEvent
	assert.Equal(t, perfetto.EventTypeSliceEnd, end.Type)
	assert.Equal(t, uint64(2), end.NameIID)
	assert.Greater(t, pkts[5].Timestamp, pkts[4].Timestamp)

	cfg := tr.QueryTraceConfig()
	assert.True(t, cfg.TracingDisabled)
	assert.False(t, cfg.Saving)
	assert.Equal(t, uint64(0), cfg.PacketsWritten)
	assert.Equal(t, uint64(1), cfg.CurrentInterningID)
	assert.Equal(t, uint32(1), cfg.CurrentThreadID)
}

func TestTrack_Counter(t *testing.T) {
	tr, _, sv := newTracer(nil)
	withHostFile(tr)
	tr.Enable()

	track := tr.NewTrack()
	track.Counter("fps", 60)
	track.Counter("fps", 59)
	track.Counter("frames", 3)
	tr.Disable()
	tr.Wait()

	pkts, err := perfetto.Decode(sv.last(t).Host)
	require.NoError(t, err)

	var descs []*perfetto.TrackDescriptor
	var values []int64
	for _, p := range pkts {
		if p.TrackDescriptor != nil && p.TrackDescriptor.Counter {
			descs = append(descs, p.TrackDescriptor)
		}
		if p.TrackEvent != nil && p.TrackEvent.Type == perfetto.EventTypeCounter {
			values = append(values, p.TrackEvent.CounterValue)
			assert.Empty(t, p.TrackEvent.CategoryIIDs)
		}
	}
	require.Len(t, descs, 2)
	assert.Equal(t, uint64(1<<32|2), descs[0].UUID)
	assert.Equal(t, "emu-2-count-fps", descs[0].Name)
	assert.Equal(t, uint64(2<<32|2), descs[1].UUID)
	assert.Equal(t, "emu-2-count-frames", descs[1].Name)
	assert.Equal(t, []int64{60, 59, 3}, values)
}

func TestTrack_StackDepthLimits(t *testing.T) {
	tr, _, sv := newTracer(nil)
	withHostFile(tr)
	tr.Enable()

	track := tr.NewTrack()
	track.End() // depth 0: ignored
	for i := 0; i < MaxStackDepth+3; i++ {
		track.Begin("nested")
	}
	track.End() // at max depth: ignored
	tr.Disable()
	tr.Wait()

	pkts, err := perfetto.Decode(sv.last(t).Host)
	require.NoError(t, err)
	var begins, ends int
	for _, p := range pkts {
		if p.TrackEvent == nil {
			continue
		}
		switch p.TrackEvent.Type {
		case perfetto.EventTypeSliceBegin:
			begins++
		case perfetto.EventTypeSliceEnd:
			ends++
		}
	}
	assert.Equal(t, MaxStackDepth, begins)
	assert.Equal(t, 0, ends)
}

func TestTracks_ThreadIDsAndFirstChunkOrdering(t *testing.T) {
	tr, _, sv := newTracer(nil)
	withHostFile(tr)
	tr.Enable()

	a := tr.NewTrack()
	b := tr.NewTrack()
	a.Begin("a")
	b.Begin("b")
	// b closes first, so its chunk reaches storage before a's first chunk.
	b.Close()
	tr.Disable()
	tr.Wait()

	pkts, err := perfetto.Decode(sv.last(t).Host)
	require.NoError(t, err)
	require.NotEmpty(t, pkts)
	assert.Equal(t, perfetto.SeqIncrementalStateCleared, pkts[0].SequenceFlags)

	var names []string
	for _, p := range pkts {
		if p.TrackDescriptor != nil {
			names = append(names, p.TrackDescriptor.Name)
		}
	}
	assert.Equal(t, []string{"emu-2", "emu-3"}, names)
}

func TestTrack_PartialSaveKeepsFirstOnFirstChunk(t *testing.T) {
	tr, _, sv := newTracer(nil)
	withHostFile(tr)
	tr.Enable()
	tr.storageBytes.Store(64)

	other := tr.NewTrack()
	track := tr.NewTrack()
	track.Begin("first")
	other.Begin("other")
	for i := 0; i < 20; i++ {
		track.Counter("n", int64(i))
	}
	tr.Disable()
	tr.Wait()

	pkts, err := perfetto.Decode(sv.last(t).Host)
	require.NoError(t, err)
	assert.Equal(t, perfetto.SeqIncrementalStateCleared, pkts[0].SequenceFlags)

	var flags int
	for _, p := range pkts {
		if p.SequenceFlags == perfetto.SeqIncrementalStateCleared {
			flags++
		}
	}
	assert.Equal(t, 1, flags)
}

func TestSetGuestTime(t *testing.T) {
	tr, clk, _ := newTracer(nil)
	clk.ns.Store(5000)
	require.NoError(t, tr.SetGuestTime(2000))

	cfg := tr.QueryTraceConfig()
	assert.Equal(t, uint64(2000), cfg.GuestStartTime)
	assert.Equal(t, uint64(5010), cfg.HostStartTime)
	// wraps like the C++ uint64 subtraction
	assert.Equal(t, ^uint64(0)-3009, cfg.GuestTimeDiff)

	withHostFile(tr)
	tr.Enable()
	assert.ErrorIs(t, tr.SetGuestTime(1), domain.ErrTracingActive)
}

func TestTimestamps_IncludeGuestDiff(t *testing.T) {
	tr, clk, sv := newTracer(nil)
	withHostFile(tr)
	clk.ns.Store(0)
	require.NoError(t, tr.SetGuestTime(1_000_010)) // host reads 10
	tr.Enable()

	track := tr.NewTrack()
	track.Begin("x")
	tr.Disable()
	tr.Wait()

	req := sv.last(t)
	assert.Equal(t, uint64(1_000_000), req.GuestTimeDiff)
	pkts, err := perfetto.Decode(req.Host)
	require.NoError(t, err)
	last := pkts[len(pkts)-1]
	require.NotNil(t, last.TrackEvent)
	assert.Equal(t, uint64(1_000_020), last.Timestamp)

	assert.Equal(t, uint64(0), tr.QueryTraceConfig().GuestTimeDiff)
}

func TestDisable_NoHostFileIsNoop(t *testing.T) {
	tr, _, sv := newTracer(nil)
	tr.SetTraceConfig(func(c *domain.TraceConfig) { c.GuestTimeDiff = 7 })
	tr.Disable()
	tr.Wait()
	assert.Empty(t, sv.reqs)
	assert.Equal(t, uint64(7), tr.QueryTraceConfig().GuestTimeDiff)
}

func TestDisable_WhenAlreadyDisabledResetsWithoutSaving(t *testing.T) {
	tr, _, sv := newTracer(nil)
	withHostFile(tr)
	tr.SetTraceConfig(func(c *domain.TraceConfig) { c.GuestTimeDiff = 7 })
	tr.Disable()
	tr.Wait()
	assert.Empty(t, sv.reqs)
	assert.Equal(t, uint64(0), tr.QueryTraceConfig().GuestTimeDiff)
}

func TestReenable_TracksStartFresh(t *testing.T) {
	tr, _, sv := newTracer(nil)
	withHostFile(tr)

	track := tr.NewTrack()
	tr.Enable()
	track.Begin("one")
	tr.Disable()
	tr.Wait()

	tr.Enable()
	track.Begin("two")
	tr.Disable()
	tr.Wait()

	pkts, err := perfetto.Decode(sv.last(t).Host)
	require.NoError(t, err)
	assert.Equal(t, perfetto.SeqIncrementalStateCleared, pkts[0].SequenceFlags)
	assert.Equal(t, "emu-2", pkts[2].TrackDescriptor.Name)
}
