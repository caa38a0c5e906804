package merge

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/741g/vperfetto/internal/domain"
	"github.com/741g/vperfetto/internal/perfetto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockLedger struct{ mock.Mock }

func (m *mockLedger) Put(ctx context.Context, r *domain.MergeRecord) error {
	return m.Called(ctx, r).Error(0)
}
func (m *mockLedger) Get(ctx context.Context, mergeID string) (*domain.MergeRecord, error) {
	args := m.Called(ctx, mergeID)
	if r, _ := args.Get(0).(*domain.MergeRecord); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockLedger) ListRecent(ctx context.Context, limit int) ([]domain.MergeRecord, error) {
	args := m.Called(ctx, limit)
	if r, _ := args.Get(0).([]domain.MergeRecord); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockLedger) SetObjectKey(ctx context.Context, mergeID, key string) error {
	return m.Called(ctx, mergeID, key).Error(0)
}

type mockStore struct{ mock.Mock }

func (m *mockStore) Upload(ctx context.Context, key string, r io.Reader, contentType string) (string, error) {
	args := m.Called(ctx, key, r, contentType)
	return args.String(0), args.Error(1)
}
func (m *mockStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	args := m.Called(ctx, key)
	if rc, _ := args.Get(0).(io.ReadCloser); rc != nil {
		return rc, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockStore) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, key, ttl)
	return args.String(0), args.Error(1)
}
func (m *mockStore) Delete(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type mockRecorder struct{ mock.Mock }

func (m *mockRecorder) RecordMerge(mode string, d time.Duration, err error) {
	m.Called(mode, d, err)
}

// --- helpers ---

func writeTraces(t *testing.T) (dir, guest, host string) {
	t.Helper()
	dir = t.TempDir()
	guest = filepath.Join(dir, "guest.trace")
	host = filepath.Join(dir, "host.trace")
	require.NoError(t, os.WriteFile(guest, guestTrace(), 0o644))
	require.NoError(t, os.WriteFile(host, buildTrace(&perfetto.Packet{Timestamp: 100, SequenceID: 1}), 0o644))
	return dir, guest, host
}

// --- tests ---

func TestCombineFiles_WritesAndRecords(t *testing.T) {
	dir, guest, host := writeTraces(t)
	combined := filepath.Join(dir, "combined.trace")

	ledger := &mockLedger{}
	store := &mockStore{}
	rec := &mockRecorder{}
	ledger.On("Put", mock.Anything, mock.AnythingOfType("*domain.MergeRecord")).Return(nil)
	store.On("Upload", mock.Anything, mock.MatchedBy(func(k string) bool {
		return strings.HasPrefix(k, "traces/") && strings.HasSuffix(k, "/combined.trace")
	}), mock.Anything, "application/octet-stream").Return("s3://b/k", nil)
	ledger.On("SetObjectKey", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	rec.On("RecordMerge", "explicit", mock.Anything, nil).Return()

	svc := NewService(ServiceDeps{Ledger: ledger, Store: store, Recorder: rec})
	diff := uint64(10)
	r, err := svc.CombineFiles(context.Background(), domain.MergeRequest{
		GuestFile:       guest,
		HostFile:        host,
		CombinedFile:    combined,
		GuestTimeDiffNs: &diff,
		GuestTSCOffset:  -42,
	})
	require.NoError(t, err)

	assert.Equal(t, domain.MergeSourceCLI, r.Source)
	assert.Equal(t, domain.TimeDiffExplicit, r.TimeDiffMode)
	assert.Equal(t, uint64(10), r.TimeDiffNs)
	assert.Equal(t, int64(-42), r.GuestTSCOffset)
	assert.Equal(t, CombinedKey(r.MergeID), r.ObjectKey)

	out, err := os.ReadFile(combined)
	require.NoError(t, err)
	assert.Equal(t, r.CombinedBytes, int64(len(out)))
	ts, ok, err := perfetto.FirstTimestamp(out[r.GuestBytes:])
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(110), ts)

	ledger.AssertExpectations(t)
	store.AssertExpectations(t)
	rec.AssertExpectations(t)
}

func TestCombineFiles_UploadFailureKeepsRecord(t *testing.T) {
	dir, guest, host := writeTraces(t)
	ledger := &mockLedger{}
	store := &mockStore{}
	ledger.On("Put", mock.Anything, mock.Anything).Return(nil)
	store.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("s3 down"))

	svc := NewService(ServiceDeps{Ledger: ledger, Store: store})
	r, err := svc.CombineFiles(context.Background(), domain.MergeRequest{
		GuestFile: guest, HostFile: host, CombinedFile: filepath.Join(dir, "c.trace"),
	})
	require.NoError(t, err)
	assert.Empty(t, r.ObjectKey)
	ledger.AssertNotCalled(t, "SetObjectKey", mock.Anything, mock.Anything, mock.Anything)
}

func TestCombineFiles_OrphanedObjectIsDeleted(t *testing.T) {
	dir, guest, host := writeTraces(t)
	ledger := &mockLedger{}
	store := &mockStore{}
	ledger.On("Put", mock.Anything, mock.Anything).Return(nil)
	store.On("Upload", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("s3://b/k", nil)
	ledger.On("SetObjectKey", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("ledger down"))
	store.On("Delete", mock.Anything, mock.MatchedBy(func(k string) bool { return strings.HasPrefix(k, "traces/") })).Return(nil)

	svc := NewService(ServiceDeps{Ledger: ledger, Store: store})
	r, err := svc.CombineFiles(context.Background(), domain.MergeRequest{
		GuestFile: guest, HostFile: host, CombinedFile: filepath.Join(dir, "c.trace"),
	})
	require.NoError(t, err)
	assert.Empty(t, r.ObjectKey)
	store.AssertExpectations(t)
}

func TestCombineFiles_InvalidInputs(t *testing.T) {
	dir, guest, _ := writeTraces(t)
	empty := filepath.Join(dir, "empty.trace")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))

	svc := NewService(ServiceDeps{})
	ctx := context.Background()

	_, err := svc.CombineFiles(ctx, domain.MergeRequest{GuestFile: "", HostFile: guest, CombinedFile: "c"})
	assert.ErrorIs(t, err, domain.ErrBadRequest)

	_, err = svc.CombineFiles(ctx, domain.MergeRequest{GuestFile: guest, HostFile: filepath.Join(dir, "missing"), CombinedFile: "c"})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.CombineFiles(ctx, domain.MergeRequest{GuestFile: guest, HostFile: empty, CombinedFile: "c"})
	assert.ErrorIs(t, err, domain.ErrBadRequest)

	_, err = svc.CombineFiles(ctx, domain.MergeRequest{GuestFile: dir, HostFile: guest, CombinedFile: "c"})
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestCombineFiles_APIPathsConfined(t *testing.T) {
	dir, _, _ := writeTraces(t)
	ledger := &mockLedger{}
	ledger.On("Put", mock.Anything, mock.Anything).Return(nil)
	svc := NewService(ServiceDeps{Ledger: ledger, TraceDir: dir})

	_, err := svc.CombineFiles(context.Background(), domain.MergeRequest{
		GuestFile: "../etc/passwd", HostFile: "host.trace", CombinedFile: "c.trace",
		Source: domain.MergeSourceAPI,
	})
	assert.ErrorIs(t, err, domain.ErrBadRequest)

	r, err := svc.CombineFiles(context.Background(), domain.MergeRequest{
		GuestFile: "guest.trace", HostFile: "host.trace", CombinedFile: "c.trace",
		Source: domain.MergeSourceAPI,
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "c.trace"), r.CombinedFile)
	assert.Equal(t, domain.MergeSourceAPI, r.Source)
	assert.FileExists(t, filepath.Join(dir, "c.trace"))
}

func TestGet_NoLedger(t *testing.T) {
	svc := NewService(ServiceDeps{})
	_, err := svc.Get(context.Background(), "x")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestList_ClampsLimit(t *testing.T) {
	ledger := &mockLedger{}
	ledger.On("ListRecent", mock.Anything, 20).Return([]domain.MergeRecord{{MergeID: "a"}}, nil)
	svc := NewService(ServiceDeps{Ledger: ledger})
	recs, err := svc.List(context.Background(), 1000)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestDownload_FromStoreAndLocal(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "c.trace")
	require.NoError(t, os.WriteFile(local, []byte("local"), 0o644))

	ledger := &mockLedger{}
	store := &mockStore{}
	ledger.On("Get", mock.Anything, "remote").Return(&domain.MergeRecord{MergeID: "remote", ObjectKey: "traces/remote/combined.trace"}, nil)
	ledger.On("Get", mock.Anything, "local").Return(&domain.MergeRecord{MergeID: "local", CombinedFile: local}, nil)
	store.On("Download", mock.Anything, "traces/remote/combined.trace").Return(io.NopCloser(strings.NewReader("remote")), nil)

	svc := NewService(ServiceDeps{Ledger: ledger, Store: store})

	rc, _, err := svc.Download(context.Background(), "remote")
	require.NoError(t, err)
	b, _ := io.ReadAll(rc)
	assert.Equal(t, "remote", string(b))

	rc, _, err = svc.Download(context.Background(), "local")
	require.NoError(t, err)
	defer rc.Close()
	b, _ = io.ReadAll(rc)
	assert.Equal(t, "local", string(b))
}

func TestResolvePath(t *testing.T) {
	p, err := ResolvePath("", "../x")
	require.NoError(t, err)
	assert.Equal(t, "../x", p)

	p, err = ResolvePath("/traces", "a/b.trace")
	require.NoError(t, err)
	assert.Equal(t, "/traces/a/b.trace", p)

	_, err = ResolvePath("/traces", "/etc/passwd")
	assert.ErrorIs(t, err, domain.ErrBadRequest)

	_, err = ResolvePath("/traces", "a/../../x")
	assert.ErrorIs(t, err, domain.ErrBadRequest)
}

func TestDownloadURL(t *testing.T) {
	ledger := &mockLedger{}
	store := &mockStore{}
	ledger.On("Get", mock.Anything, "up").Return(&domain.MergeRecord{MergeID: "up", ObjectKey: "traces/up/combined.trace"}, nil)
	ledger.On("Get", mock.Anything, "local").Return(&domain.MergeRecord{MergeID: "local"}, nil)
	store.On("PresignedURL", mock.Anything, "traces/up/combined.trace", time.Minute).Return("https://signed", nil)

	svc := NewService(ServiceDeps{Ledger: ledger, Store: store})
	u, err := svc.DownloadURL(context.Background(), "up", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "https://signed", u)

	_, err = svc.DownloadURL(context.Background(), "local", time.Minute)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
