package merge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/741g/vperfetto/internal/domain"
	"github.com/741g/vperfetto/internal/pkg/id"
)

// Ledger records every combined trace.
type Ledger interface {
	Put(ctx context.Context, r *domain.MergeRecord) error
	Get(ctx context.Context, mergeID string) (*domain.MergeRecord, error)
	ListRecent(ctx context.Context, limit int) ([]domain.MergeRecord, error)
	SetObjectKey(ctx context.Context, mergeID, key string) error
}

// ObjectStore keeps combined traces off the host.
type ObjectStore interface {
	Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	Download(ctx context.Context, key string) (io.ReadCloser, error)
}

// Presigner is implemented by object stores that can hand out direct links.
type Presigner interface {
	PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// Deleter is implemented by object stores that can remove objects.
type Deleter interface {
	Delete(ctx context.Context, key string) error
}

// Recorder receives merge outcomes for metrics.
type Recorder interface {
	RecordMerge(mode string, d time.Duration, err error)
}

type Service interface {
	CombineFiles(ctx context.Context, req domain.MergeRequest) (*domain.MergeRecord, error)
	Get(ctx context.Context, mergeID string) (*domain.MergeRecord, error)
	List(ctx context.Context, limit int) ([]domain.MergeRecord, error)
	Download(ctx context.Context, mergeID string) (io.ReadCloser, *domain.MergeRecord, error)
	DownloadURL(ctx context.Context, mergeID string, ttl time.Duration) (string, error)
}

type ServiceDeps struct {
	Ledger   Ledger
	Store    ObjectStore // optional
	Recorder Recorder    // optional
	// TraceDir confines request paths for API-sourced merges.
	TraceDir string
}

type service struct {
	ledger   Ledger
	store    ObjectStore
	recorder Recorder
	traceDir string
}

func NewService(deps ServiceDeps) Service {
	return &service{
		ledger:   deps.Ledger,
		store:    deps.Store,
		recorder: deps.Recorder,
		traceDir: deps.TraceDir,
	}
}

// CombinedKey is the object store key of a merge's combined trace.
func CombinedKey(mergeID string) string {
	return fmt.Sprintf("traces/%s/combined.trace", mergeID)
}

func (s *service) CombineFiles(ctx context.Context, req domain.MergeRequest) (*domain.MergeRecord, error) {
	start := time.Now()
	rec, err := s.combineFiles(ctx, req)
	if s.recorder != nil {
		mode := ""
		if rec != nil {
			mode = string(rec.TimeDiffMode)
		}
		s.recorder.RecordMerge(mode, time.Since(start), err)
	}
	return rec, err
}

func (s *service) combineFiles(ctx context.Context, req domain.MergeRequest) (*domain.MergeRecord, error) {
	if req.Source == domain.MergeSourceAPI {
		for _, p := range []*string{&req.GuestFile, &req.HostFile, &req.CombinedFile} {
			resolved, err := ResolvePath(s.traceDir, *p)
			if err != nil {
				return nil, err
			}
			*p = resolved
		}
	}
	if err := ValidateTraceFile(req.GuestFile); err != nil {
		return nil, fmt.Errorf("guest trace: %w", err)
	}
	if err := ValidateTraceFile(req.HostFile); err != nil {
		return nil, fmt.Errorf("host trace: %w", err)
	}
	if req.GuestTSCOffset != 0 {
		slog.Info("using guest tsc offset", "guest_tsc_offset", req.GuestTSCOffset)
	}

	guest, err := os.ReadFile(req.GuestFile)
	if err != nil {
		return nil, fmt.Errorf("read guest trace: %w", err)
	}
	host, err := os.ReadFile(req.HostFile)
	if err != nil {
		return nil, fmt.Errorf("read host trace: %w", err)
	}

	diff, mode := TimeDiff(req, guest, host)
	combined, err := Combine(guest, host, diff)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(req.CombinedFile, combined, 0o644); err != nil {
		return nil, fmt.Errorf("write combined trace: %w", err)
	}
	slog.Info("wrote combined trace", "file", req.CombinedFile, "bytes", len(combined), "time_diff_ns", diff, "mode", mode)

	source := req.Source
	if source == "" {
		source = domain.MergeSourceCLI
	}
	now := time.Now().UTC()
	rec := &domain.MergeRecord{
		MergeID:            id.New(),
		Source:             source,
		GuestFile:          req.GuestFile,
		HostFile:           req.HostFile,
		CombinedFile:       req.CombinedFile,
		GuestBytes:         int64(len(guest)),
		HostBytes:          int64(len(host)),
		CombinedBytes:      int64(len(combined)),
		TimeDiffNs:         diff,
		TimeDiffMode:       mode,
		GuestTSCOffset:     req.GuestTSCOffset,
		MergeGuestIntoHost: req.MergeGuestIntoHost,
		AddTraces:          req.AddTraces,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if s.ledger != nil {
		if err := s.ledger.Put(ctx, rec); err != nil {
			return nil, fmt.Errorf("record merge: %w", err)
		}
	}

	if s.store != nil {
		key := CombinedKey(rec.MergeID)
		if _, err := s.store.Upload(ctx, key, bytes.NewReader(combined), "application/octet-stream"); err != nil {
			// The combined file is on disk; a failed upload only loses the remote copy.
			slog.Error("upload combined trace", "merge_id", rec.MergeID, "error", err)
			return rec, nil
		}
		if s.ledger != nil {
			if err := s.ledger.SetObjectKey(ctx, rec.MergeID, key); err != nil {
				slog.Error("record object key", "merge_id", rec.MergeID, "error", err)
				// Nothing points at the object any more.
				if d, ok := s.store.(Deleter); ok {
					if err := d.Delete(ctx, key); err != nil {
						slog.Warn("delete orphaned object", "key", key, "error", err)
					}
				}
				return rec, nil
			}
		}
		rec.ObjectKey = key
	}
	return rec, nil
}

func (s *service) Get(ctx context.Context, mergeID string) (*domain.MergeRecord, error) {
	if s.ledger == nil {
		return nil, fmt.Errorf("merge %s: %w", mergeID, domain.ErrNotFound)
	}
	return s.ledger.Get(ctx, mergeID)
}

func (s *service) List(ctx context.Context, limit int) ([]domain.MergeRecord, error) {
	if s.ledger == nil {
		return []domain.MergeRecord{}, nil
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.ledger.ListRecent(ctx, limit)
}

func (s *service) Download(ctx context.Context, mergeID string) (io.ReadCloser, *domain.MergeRecord, error) {
	rec, err := s.Get(ctx, mergeID)
	if err != nil {
		return nil, nil, err
	}
	if rec.ObjectKey == "" || s.store == nil {
		// Fall back to the local combined file.
		f, err := os.Open(rec.CombinedFile)
		if err != nil {
			return nil, nil, fmt.Errorf("combined trace for %s: %w", mergeID, domain.ErrNotFound)
		}
		return f, rec, nil
	}
	rc, err := s.store.Download(ctx, rec.ObjectKey)
	if err != nil {
		return nil, nil, err
	}
	return rc, rec, nil
}

// DownloadURL returns a time-limited link to the uploaded combined trace.
func (s *service) DownloadURL(ctx context.Context, mergeID string, ttl time.Duration) (string, error) {
	rec, err := s.Get(ctx, mergeID)
	if err != nil {
		return "", err
	}
	p, ok := s.store.(Presigner)
	if rec.ObjectKey == "" || !ok {
		return "", fmt.Errorf("no uploaded trace for %s: %w", mergeID, domain.ErrNotFound)
	}
	return p.PresignedURL(ctx, rec.ObjectKey, ttl)
}
