package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/741g/vperfetto/internal/application/merge"
	"github.com/741g/vperfetto/internal/domain"
	"github.com/go-chi/chi/v5"
)

// MergeHandler handles combine requests and the merge ledger.
type MergeHandler struct {
	svc        merge.Service
	presignTTL time.Duration
}

func NewMergeHandler(svc merge.Service, presignTTL time.Duration) *MergeHandler {
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}
	return &MergeHandler{svc: svc, presignTTL: presignTTL}
}

func (h *MergeHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.MergeRequest
	if !decode(w, r, &req) {
		return
	}
	req.Source = domain.MergeSourceAPI
	rec, err := h.svc.CombineFiles(r.Context(), req)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *MergeHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	recs, err := h.svc.List(r.Context(), limit)
	if err != nil {
		httpError(w, err)
		return
	}
	if recs == nil {
		recs = []domain.MergeRecord{}
	}
	writeJSON(w, http.StatusOK, MergesEnvelope{Count: len(recs), Data: recs})
}

func (h *MergeHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Download streams the combined trace. With ?redirect=true it redirects to a
// presigned object store link when one is available.
func (h *MergeHandler) Download(w http.ResponseWriter, r *http.Request) {
	mergeID := chi.URLParam(r, "id")
	if r.URL.Query().Get("redirect") == "true" {
		url, err := h.svc.DownloadURL(r.Context(), mergeID, h.presignTTL)
		switch {
		case err == nil:
			http.Redirect(w, r, url, http.StatusTemporaryRedirect)
			return
		case !errors.Is(err, domain.ErrNotFound):
			httpError(w, err)
			return
		}
	}

	rc, rec, err := h.svc.Download(r.Context(), mergeID)
	if err != nil {
		httpError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.trace"`, rec.MergeID))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		slog.Warn("stream combined trace", "merge_id", mergeID, "error", err)
	}
}
