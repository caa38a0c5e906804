// Package clocksync emits guest clock readings into the guest trace so the
// host can line its own trace up with the guest's.
package clocksync

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/741g/vperfetto/internal/domain"
	"github.com/741g/vperfetto/internal/perfetto"
	"github.com/741g/vperfetto/internal/tracer"
)

const (
	Category  = "cros"
	EventName = "guest_clock_sync"

	AnnotationBootTime  = "clock_sync_boottime"
	AnnotationMonotonic = "clock_sync_monotonic"
	AnnotationCPUTime   = "clock_sync_cputime"

	DefaultTickInterval   = 100 * time.Millisecond
	DefaultReportInterval = time.Second
)

// Clocks are the readings captured on every tick.
type Clocks interface {
	BootTimeNs() uint64
	MonotonicNs() uint64
	CPUTicks() uint64
}

// Reporter forwards a sample to the host.
type Reporter interface {
	Name() string
	Report(ctx context.Context, s domain.ClockSample) error
}

type Metrics interface {
	RecordClockSync()
	RecordReport(reporter string, err error)
}

type EmitterDeps struct {
	Tracer         *tracer.Tracer
	Clocks         Clocks
	Reporters      []Reporter
	Metrics        Metrics // optional
	TickInterval   time.Duration
	ReportInterval time.Duration
	Source         string
}

// Emitter is the guest side of time sync. Init starts it once; Close stops it
// and writes the guest trace.
type Emitter struct {
	deps EmitterDeps

	once    sync.Once
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	reports chan domain.ClockSample

	mu         sync.Mutex
	last       domain.ClockSample
	lastReport time.Time
	ticks      uint64
}

func NewEmitter(deps EmitterDeps) *Emitter {
	if deps.TickInterval <= 0 {
		deps.TickInterval = DefaultTickInterval
	}
	if deps.ReportInterval <= 0 {
		deps.ReportInterval = DefaultReportInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Emitter{
		deps:    deps,
		ctx:     ctx,
		cancel:  cancel,
		reports: make(chan domain.ClockSample, 1),
	}
}

// Init enables the guest tracer and starts ticking. Only the first call does
// anything; it returns without waiting for the first tick.
func (e *Emitter) Init() {
	e.once.Do(func() {
		e.deps.Tracer.Initialize()
		e.deps.Tracer.Enable()
		if !e.deps.Tracer.Enabled() {
			slog.Warn("guest tracing not enabled: no trace file configured")
		}
		track := e.deps.Tracer.NewTrack()
		e.wg.Add(2)
		go e.tickLoop(track)
		go e.reportLoop()
		slog.Info("clock sync started", "interval", e.deps.TickInterval, "reporters", len(e.deps.Reporters))
	})
}

// Sample reads every clock twice and keeps the second reading. The first
// pass pulls the clock code and data into cache.
func Sample(c Clocks) domain.ClockSample {
	_, _, _ = c.BootTimeNs(), c.CPUTicks(), c.MonotonicNs()
	boot := c.BootTimeNs()
	ticks := c.CPUTicks()
	mono := c.MonotonicNs()
	return domain.ClockSample{BootTimeNs: boot, MonotonicNs: mono, CPUTicks: ticks}
}

func (e *Emitter) tickLoop(track *tracer.Track) {
	defer e.wg.Done()
	defer track.Close()
	ticker := time.NewTicker(e.deps.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.tick(track)
		}
	}
}

func (e *Emitter) tick(track *tracer.Track) {
	s := Sample(e.deps.Clocks)
	s.Source = e.deps.Source

	track.BeginArgs(Category, EventName, []perfetto.DebugAnnotation{
		{Name: AnnotationBootTime, UintValue: s.BootTimeNs},
		{Name: AnnotationMonotonic, UintValue: s.MonotonicNs},
		{Name: AnnotationCPUTime, UintValue: s.CPUTicks},
	})
	track.End()

	if e.deps.Metrics != nil {
		e.deps.Metrics.RecordClockSync()
	}

	e.mu.Lock()
	e.last = s
	e.ticks++
	due := len(e.deps.Reporters) > 0 && time.Since(e.lastReport) >= e.deps.ReportInterval
	if due {
		e.lastReport = time.Now()
	}
	e.mu.Unlock()

	if due {
		// A slow reporter drops samples rather than delaying the tick.
		select {
		case e.reports <- s:
		default:
		}
	}
}

func (e *Emitter) reportLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case s := <-e.reports:
			for _, r := range e.deps.Reporters {
				err := r.Report(e.ctx, s)
				if err != nil && e.ctx.Err() == nil {
					slog.Warn("clock sample not reported", "reporter", r.Name(), "error", err)
				}
				if e.deps.Metrics != nil {
					e.deps.Metrics.RecordReport(r.Name(), err)
				}
			}
		}
	}
}

// Last returns the most recent sample and how many ticks have run.
func (e *Emitter) Last() (domain.ClockSample, uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last, e.ticks
}

// Close stops ticking and writes the guest trace. It waits for the write to
// finish or ctx to end.
func (e *Emitter) Close(ctx context.Context) error {
	e.cancel()
	e.wg.Wait()

	e.deps.Tracer.Disable()
	done := make(chan struct{})
	go func() {
		e.deps.Tracer.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
