package handler

import (
	"context"
	"io"
	"time"

	"github.com/741g/vperfetto/internal/domain"
	"github.com/stretchr/testify/mock"
)

// --- session mock ---

type mockSessionSvc struct{ mock.Mock }

func (m *mockSessionSvc) Config() domain.TraceConfig {
	return m.Called().Get(0).(domain.TraceConfig)
}

func (m *mockSessionSvc) SetFiles(req domain.TraceFilesRequest) (domain.TraceConfig, error) {
	args := m.Called(req)
	return args.Get(0).(domain.TraceConfig), args.Error(1)
}

func (m *mockSessionSvc) SetGuestTime(guestNs uint64) error {
	return m.Called(guestNs).Error(0)
}

func (m *mockSessionSvc) ObserveGuestSample(s domain.ClockSample) string {
	return m.Called(s).String(0)
}

func (m *mockSessionSvc) Enable() (domain.TraceConfig, error) {
	args := m.Called()
	return args.Get(0).(domain.TraceConfig), args.Error(1)
}

func (m *mockSessionSvc) Disable() domain.TraceConfig {
	return m.Called().Get(0).(domain.TraceConfig)
}

func (m *mockSessionSvc) RecordEvent(req domain.TrackEventRequest) error {
	return m.Called(req).Error(0)
}

func (m *mockSessionSvc) WaitSavingDone(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockSessionSvc) Close() { m.Called() }

// --- merge mock ---

type mockMergeSvc struct{ mock.Mock }

func (m *mockMergeSvc) CombineFiles(ctx context.Context, req domain.MergeRequest) (*domain.MergeRecord, error) {
	args := m.Called(ctx, req)
	if r, _ := args.Get(0).(*domain.MergeRecord); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockMergeSvc) Get(ctx context.Context, mergeID string) (*domain.MergeRecord, error) {
	args := m.Called(ctx, mergeID)
	if r, _ := args.Get(0).(*domain.MergeRecord); r != nil {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockMergeSvc) List(ctx context.Context, limit int) ([]domain.MergeRecord, error) {
	args := m.Called(ctx, limit)
	recs, _ := args.Get(0).([]domain.MergeRecord)
	return recs, args.Error(1)
}

func (m *mockMergeSvc) Download(ctx context.Context, mergeID string) (io.ReadCloser, *domain.MergeRecord, error) {
	args := m.Called(ctx, mergeID)
	if rc, _ := args.Get(0).(io.ReadCloser); rc != nil {
		return rc, args.Get(1).(*domain.MergeRecord), args.Error(2)
	}
	return nil, nil, args.Error(2)
}

func (m *mockMergeSvc) DownloadURL(ctx context.Context, mergeID string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, mergeID, ttl)
	return args.String(0), args.Error(1)
}

// --- recorder mock ---

type mockSampleRecorder struct{ mock.Mock }

func (m *mockSampleRecorder) RecordGuestSample(outcome string) { m.Called(outcome) }
