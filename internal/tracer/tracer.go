// Package tracer records host-side track events into per-track Perfetto
// buffers and hands the finished host trace to a Saver when tracing stops.
package tracer

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"github.com/741g/vperfetto/internal/domain"
)

// Environment variables that override the configured trace file names on Enable.
const (
	EnvHostFile     = "VPERFETTO_HOST_FILE"
	EnvGuestFile    = "VPERFETTO_GUEST_FILE"
	EnvCombinedFile = "VPERFETTO_COMBINED_FILE"
)

// Clock reads CLOCK_BOOTTIME in nanoseconds.
type Clock interface {
	BootTimeNs() uint64
}

// SaveRequest is the host trace and file configuration captured when tracing is disabled.
type SaveRequest struct {
	Host           []byte
	HostFile       string
	GuestFile      string
	CombinedFile   string
	GuestTimeDiff  uint64
	PacketsWritten uint64
}

// Saver persists a finished host trace. Save runs on its own goroutine and
// tracing cannot be re-enabled until it returns.
type Saver interface {
	Save(ctx context.Context, req SaveRequest) error
}

// Tracer is the process-wide host trace session.
type Tracer struct {
	clock  Clock
	saver  Saver
	getenv func(string) string

	// mu guards cfg and tracks. Hot-path state lives in the atomics below.
	mu     sync.Mutex
	cfg    domain.TraceConfig
	tracks map[*Track]struct{}
	store  storage
	wg     sync.WaitGroup

	enabled         atomic.Bool
	saving          atomic.Bool
	sequenceWritten atomic.Bool
	packetsWritten  atomic.Uint64
	interningID     atomic.Uint64
	threadID        atomic.Uint32
	guestTimeDiff   atomic.Uint64
	storageBytes    atomic.Int64
}

// New returns a disabled tracer with 1 MiB of per-track storage.
func New(clock Clock, saver Saver) *Tracer {
	t := &Tracer{
		clock:  clock,
		saver:  saver,
		getenv: os.Getenv,
		tracks: make(map[*Track]struct{}),
		cfg: domain.TraceConfig{
			TracingDisabled:    true,
			PerThreadStorageMB: 1,
		},
	}
	t.interningID.Store(1)
	t.threadID.Store(1)
	t.storageBytes.Store(1 << 20)
	return t
}

// Initialize marks the tracer as initialized. It is safe to call more than once.
func (t *Tracer) Initialize() {
	t.mu.Lock()
	t.cfg.Initialized = true
	t.mu.Unlock()
}

// Enabled reports whether events are currently being recorded.
func (t *Tracer) Enabled() bool {
	return t.enabled.Load()
}

// Saving reports whether a save started by Disable is still running.
func (t *Tracer) Saving() bool {
	return t.saving.Load()
}

// SetTraceConfig applies f to the configuration. Changes to counters and
// flags that the tracer keeps in atomics are applied as well.
func (t *Tracer) SetTraceConfig(f func(*domain.TraceConfig)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cfg := t.snapshotLocked()
	f(&cfg)
	t.cfg = cfg
	t.packetsWritten.Store(cfg.PacketsWritten)
	t.sequenceWritten.Store(cfg.SequenceIDWritten)
	t.interningID.Store(cfg.CurrentInterningID)
	t.threadID.Store(cfg.CurrentThreadID)
	t.guestTimeDiff.Store(cfg.GuestTimeDiff)
	t.saving.Store(cfg.Saving)
	t.enabled.Store(!cfg.TracingDisabled)
	if cfg.PerThreadStorageMB > 0 {
		t.storageBytes.Store(int64(cfg.PerThreadStorageMB) << 20)
	}
}

// QueryTraceConfig returns a copy of the current configuration.
func (t *Tracer) QueryTraceConfig() domain.TraceConfig {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracer) snapshotLocked() domain.TraceConfig {
	cfg := t.cfg
	cfg.TracingDisabled = !t.enabled.Load()
	cfg.Saving = t.saving.Load()
	cfg.PacketsWritten = t.packetsWritten.Load()
	cfg.SequenceIDWritten = t.sequenceWritten.Load()
	cfg.CurrentInterningID = t.interningID.Load()
	cfg.CurrentThreadID = t.threadID.Load()
	cfg.GuestTimeDiff = t.guestTimeDiff.Load()
	return cfg
}

// Enable starts recording. File names are taken from the environment when
// set. Enable does nothing without a host file name, when tracing is already
// on, or while a previous save is still running.
func (t *Tracer) Enable() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if v := t.getenv(EnvHostFile); v != "" {
		t.cfg.HostFilename = v
	}
	if v := t.getenv(EnvGuestFile); v != "" {
		t.cfg.GuestFilename = v
	}
	if v := t.getenv(EnvCombinedFile); v != "" {
		t.cfg.CombinedFilename = v
	}

	if t.cfg.HostFilename == "" || t.enabled.Load() || t.saving.Load() {
		return
	}

	slog.Info("tracing begins",
		"host_file", t.cfg.HostFilename,
		"guest_file", t.cfg.GuestFilename,
		"combined_file", t.cfg.CombinedFilename,
		"guest_time_diff", t.guestTimeDiff.Load())

	t.resetCountersLocked()
	t.store.reset()
	t.enabled.Store(true)
}

// Disable stops recording. When tracing was on, the collected host trace is
// handed to the Saver in the background. Counters and the guest time diff
// are reset either way.
func (t *Tracer) Disable() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cfg.HostFilename == "" {
		return
	}

	if t.enabled.Swap(false) {
		t.saving.Store(true)
		for tr := range t.tracks {
			tr.flush()
		}
		req := SaveRequest{
			Host:           t.store.drain(),
			HostFile:       t.cfg.HostFilename,
			GuestFile:      t.cfg.GuestFilename,
			CombinedFile:   t.cfg.CombinedFilename,
			GuestTimeDiff:  t.guestTimeDiff.Load(),
			PacketsWritten: t.packetsWritten.Load(),
		}
		slog.Info("tracing ended", "host_file", req.HostFile, "host_bytes", len(req.Host))
		t.wg.Add(1)
		go t.save(req)
	}

	t.resetCountersLocked()
	t.guestTimeDiff.Store(0)
}

func (t *Tracer) save(req SaveRequest) {
	defer t.wg.Done()
	defer t.saving.Store(false)
	if t.saver == nil {
		return
	}
	if err := t.saver.Save(context.Background(), req); err != nil {
		slog.Error("trace save failed", "host_file", req.HostFile, "error", err)
	}
}

// Wait blocks until every save started by Disable has returned.
func (t *Tracer) Wait() {
	t.wg.Wait()
}

func (t *Tracer) resetCountersLocked() {
	t.packetsWritten.Store(0)
	t.sequenceWritten.Store(false)
	t.interningID.Store(1)
	t.threadID.Store(1)
}

// SetGuestTime records the guest boot time t so host timestamps can be
// shifted onto the guest clock. It fails while tracing is on.
func (t *Tracer) SetGuestTime(guestNs uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.enabled.Load() {
		return domain.ErrTracingActive
	}
	t.cfg.GuestStartTime = guestNs
	t.cfg.HostStartTime = t.clock.BootTimeNs()
	t.guestTimeDiff.Store(t.cfg.GuestStartTime - t.cfg.HostStartTime)
	return nil
}

// NewTrack registers a producer. Each goroutine that records events uses its own Track.
func (t *Tracer) NewTrack() *Track {
	tr := &Track{t: t}
	tr.resetLocked()
	t.mu.Lock()
	t.tracks[tr] = struct{}{}
	t.mu.Unlock()
	return tr
}

func (t *Tracer) timestamp() uint64 {
	return t.clock.BootTimeNs() + t.guestTimeDiff.Load()
}

func (t *Tracer) nextInterningID() uint64 {
	return t.interningID.Add(1) - 1
}
