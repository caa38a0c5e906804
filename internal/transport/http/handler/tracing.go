package handler

import (
	"net/http"

	"github.com/741g/vperfetto/internal/application/session"
	"github.com/741g/vperfetto/internal/domain"
)

// SampleRecorder counts guest clock samples by outcome.
type SampleRecorder interface {
	RecordGuestSample(outcome string)
}

// Outcome recorded for an explicit operator-set guest time.
const sampleSet = "set"

// TracingHandler drives the host tracer.
type TracingHandler struct {
	svc      session.Service
	recorder SampleRecorder
}

func NewTracingHandler(svc session.Service, rec SampleRecorder) *TracingHandler {
	return &TracingHandler{svc: svc, recorder: rec}
}

func (h *TracingHandler) Config(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Config())
}

func (h *TracingHandler) SetFiles(w http.ResponseWriter, r *http.Request) {
	var req domain.TraceFilesRequest
	if !decode(w, r, &req) {
		return
	}
	cfg, err := h.svc.SetFiles(req)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// GuestTime accepts either an operator-set guest_time_ns or a sample posted
// by the guest reporter. Samples are ignored while tracing; an explicit time
// is refused with 409.
func (h *TracingHandler) GuestTime(w http.ResponseWriter, r *http.Request) {
	var req domain.GuestTimeRequest
	if !decode(w, r, &req) {
		h.record("invalid")
		return
	}
	if sample, ok := req.Sample(); ok {
		outcome := h.svc.ObserveGuestSample(sample)
		h.record(outcome)
		writeJSON(w, http.StatusAccepted, SampleEnvelope{Outcome: outcome})
		return
	}
	if err := h.svc.SetGuestTime(req.GuestTimeNs); err != nil {
		httpError(w, err)
		return
	}
	h.record(sampleSet)
	writeJSON(w, http.StatusOK, h.svc.Config())
}

func (h *TracingHandler) Enable(w http.ResponseWriter, _ *http.Request) {
	cfg, err := h.svc.Enable()
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// Disable stops tracing. The save runs in the background; poll Config until
// saving is false.
func (h *TracingHandler) Disable(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusAccepted, h.svc.Disable())
}

func (h *TracingHandler) Event(w http.ResponseWriter, r *http.Request) {
	var req domain.TrackEventRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.RecordEvent(req); err != nil {
		httpError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TracingHandler) record(outcome string) {
	if h.recorder != nil {
		h.recorder.RecordGuestSample(outcome)
	}
}
