package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/741g/vperfetto/internal/application/merge"
	"github.com/741g/vperfetto/internal/domain"
	"github.com/741g/vperfetto/internal/tracer"
)

type Service interface {
	Config() domain.TraceConfig
	SetFiles(req domain.TraceFilesRequest) (domain.TraceConfig, error)
	SetGuestTime(guestNs uint64) error
	ObserveGuestSample(s domain.ClockSample) string
	Enable() (domain.TraceConfig, error)
	Disable() domain.TraceConfig
	RecordEvent(req domain.TrackEventRequest) error
	WaitSavingDone(ctx context.Context) error
	Close()
}

type ServiceDeps struct {
	Tracer   *tracer.Tracer
	Recorder Recorder // optional
	// TraceDir confines file names set through SetFiles.
	TraceDir     string
	PollInterval time.Duration
}

type service struct {
	tracer   *tracer.Tracer
	recorder Recorder
	traceDir string
	poll     time.Duration

	mu     sync.Mutex
	tracks map[string]*tracer.Track
}

func NewService(deps ServiceDeps) Service {
	poll := deps.PollInterval
	if poll <= 0 {
		poll = time.Second
	}
	deps.Tracer.Initialize()
	return &service{
		tracer:   deps.Tracer,
		recorder: deps.Recorder,
		traceDir: deps.TraceDir,
		poll:     poll,
		tracks:   make(map[string]*tracer.Track),
	}
}

func (s *service) Config() domain.TraceConfig {
	return s.tracer.QueryTraceConfig()
}

func (s *service) SetFiles(req domain.TraceFilesRequest) (domain.TraceConfig, error) {
	if s.tracer.Enabled() {
		return domain.TraceConfig{}, fmt.Errorf("set trace files: %w", domain.ErrTracingActive)
	}
	host, err := merge.ResolvePath(s.traceDir, req.HostFile)
	if err != nil {
		return domain.TraceConfig{}, err
	}
	guest, err := merge.ResolvePath(s.traceDir, req.GuestFile)
	if err != nil {
		return domain.TraceConfig{}, err
	}
	combined, err := merge.ResolvePath(s.traceDir, req.CombinedFile)
	if err != nil {
		return domain.TraceConfig{}, err
	}
	s.tracer.SetTraceConfig(func(c *domain.TraceConfig) {
		c.HostFilename = host
		c.GuestFilename = guest
		c.CombinedFilename = combined
	})
	return s.tracer.QueryTraceConfig(), nil
}

func (s *service) SetGuestTime(guestNs uint64) error {
	return s.tracer.SetGuestTime(guestNs)
}

// Guest sample outcomes returned by ObserveGuestSample.
const (
	SampleApplied = "applied"
	SampleIgnored = "ignored"
)

// ObserveGuestSample keeps the guest time diff current while tracing is off.
// Samples arriving during tracing are dropped.
func (s *service) ObserveGuestSample(sample domain.ClockSample) string {
	if s.tracer.Enabled() {
		return SampleIgnored
	}
	if err := s.tracer.SetGuestTime(sample.BootTimeNs); err != nil {
		return SampleIgnored
	}
	return SampleApplied
}

func (s *service) Enable() (domain.TraceConfig, error) {
	s.tracer.Enable()
	cfg := s.tracer.QueryTraceConfig()
	if cfg.TracingDisabled {
		if cfg.Saving {
			return cfg, fmt.Errorf("enable tracing: %w", domain.ErrSaving)
		}
		return cfg, fmt.Errorf("enable tracing: no host trace file: %w", domain.ErrBadRequest)
	}
	s.record("enabled")
	return cfg, nil
}

func (s *service) Disable() domain.TraceConfig {
	wasEnabled := s.tracer.Enabled()
	s.tracer.Disable()
	if wasEnabled {
		s.record("disabled")
	}
	return s.tracer.QueryTraceConfig()
}

func (s *service) RecordEvent(req domain.TrackEventRequest) error {
	if !s.tracer.Enabled() {
		return fmt.Errorf("record event: tracing is disabled: %w", domain.ErrConflict)
	}
	tr := s.track(req.Track)
	category := req.Category
	if category == "" {
		category = domain.DefaultCategory
	}
	switch req.Kind {
	case domain.EventBegin:
		tr.BeginIn(category, req.Name)
	case domain.EventEnd:
		tr.End()
	case domain.EventCounter:
		tr.Counter(req.Name, req.Value)
	default:
		return fmt.Errorf("unknown event kind %q: %w", req.Kind, domain.ErrBadRequest)
	}
	return nil
}

func (s *service) track(name string) *tracer.Track {
	s.mu.Lock()
	defer s.mu.Unlock()
	tr, ok := s.tracks[name]
	if !ok {
		tr = s.tracer.NewTrack()
		s.tracks[name] = tr
	}
	return tr
}

// WaitSavingDone returns once no save is running.
func (s *service) WaitSavingDone(ctx context.Context) error {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for s.tracer.Saving() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Close releases every named track.
func (s *service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, tr := range s.tracks {
		tr.Close()
		delete(s.tracks, name)
	}
}

func (s *service) record(state string) {
	if s.recorder != nil {
		s.recorder.RecordTracing(state)
	}
}
