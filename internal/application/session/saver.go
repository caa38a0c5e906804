package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/741g/vperfetto/internal/application/merge"
	"github.com/741g/vperfetto/internal/domain"
	"github.com/741g/vperfetto/internal/tracer"
)

// Poll controls how long a save waits for the guest trace to stop growing.
type Poll struct {
	Interval    time.Duration
	MaxIters    int
	StableIters int
}

// DefaultPoll checks once a second for up to 20 seconds and needs two equal sizes.
var DefaultPoll = Poll{Interval: time.Second, MaxIters: 20, StableIters: 2}

// Save outcomes reported to the Recorder.
const (
	SaveHostOnly = "host_only"
	SaveCombined = "combined"
	SaveTimedOut = "timed_out"
	SaveFailed   = "failed"
)

// Recorder receives session events for metrics.
type Recorder interface {
	RecordTracing(state string)
	RecordPackets(n uint64)
	RecordSave(outcome string)
}

// Saver writes the host trace and, when guest and combined files are
// configured, combines it with the guest trace once that file is stable.
type Saver struct {
	merge    merge.Service
	poll     Poll
	recorder Recorder
}

func NewSaver(m merge.Service, poll Poll, rec Recorder) *Saver {
	if poll.Interval <= 0 {
		poll.Interval = DefaultPoll.Interval
	}
	if poll.MaxIters <= 0 {
		poll.MaxIters = DefaultPoll.MaxIters
	}
	if poll.StableIters <= 0 {
		poll.StableIters = DefaultPoll.StableIters
	}
	return &Saver{merge: m, poll: poll, recorder: rec}
}

// Save implements tracer.Saver.
func (s *Saver) Save(ctx context.Context, req tracer.SaveRequest) error {
	s.recordPackets(req.PacketsWritten)

	if dir := filepath.Dir(req.HostFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			s.record(SaveFailed)
			return fmt.Errorf("create trace dir: %w", err)
		}
	}
	if err := os.WriteFile(req.HostFile, req.Host, 0o644); err != nil {
		s.record(SaveFailed)
		return fmt.Errorf("write host trace: %w", err)
	}
	slog.Info("saved host trace", "file", req.HostFile, "bytes", len(req.Host))

	if req.GuestFile == "" || req.CombinedFile == "" {
		slog.Info("skipping combined trace: guest or combined file name not set",
			"guest_file", req.GuestFile, "combined_file", req.CombinedFile)
		s.record(SaveHostOnly)
		return nil
	}

	if _, err := WaitStable(ctx, req.GuestFile, s.poll); err != nil {
		slog.Warn("skipping combined trace", "guest_file", req.GuestFile, "error", err)
		s.record(SaveTimedOut)
		return err
	}

	// Host timestamps were shifted by the guest time diff when recorded.
	zero := uint64(0)
	rec, err := s.merge.CombineFiles(ctx, domain.MergeRequest{
		GuestFile:       req.GuestFile,
		HostFile:        req.HostFile,
		CombinedFile:    req.CombinedFile,
		GuestTimeDiffNs: &zero,
		Source:          domain.MergeSourceSession,
	})
	if err != nil {
		s.record(SaveFailed)
		return err
	}
	slog.Info("wrote combined trace", "file", rec.CombinedFile, "merge_id", rec.MergeID, "guest_time_diff", req.GuestTimeDiff)
	s.record(SaveCombined)
	return nil
}

func (s *Saver) record(outcome string) {
	if s.recorder != nil {
		s.recorder.RecordSave(outcome)
	}
}

func (s *Saver) recordPackets(n uint64) {
	if s.recorder != nil {
		s.recorder.RecordPackets(n)
	}
}

// WaitStable polls the size of path until it is non-zero and unchanged for
// p.StableIters consecutive polls. It gives up after p.MaxIters polls.
func WaitStable(ctx context.Context, path string, p Poll) (int64, error) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	var last int64
	stable := 0
	for i := 0; i < p.MaxIters; i++ {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}

		var size int64
		if info, err := os.Stat(path); err == nil {
			size = info.Size()
		}
		switch {
		case size == 0:
			slog.Debug("guest trace empty, waiting", "file", path)
			stable = 0
		case size != last:
			slog.Debug("guest trace size changed, waiting", "file", path, "from", last, "to", size)
			last = size
			stable = 0
		default:
			stable++
			if stable == p.StableIters {
				return size, nil
			}
		}
	}
	return 0, fmt.Errorf("%s after %d polls: %w", path, p.MaxIters, domain.ErrGuestNotStable)
}
