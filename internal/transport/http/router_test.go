package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/741g/vperfetto/internal/application/merge"
	"github.com/741g/vperfetto/internal/application/session"
	"github.com/741g/vperfetto/internal/config"
	jwtinfra "github.com/741g/vperfetto/internal/infrastructure/jwt"
	"github.com/741g/vperfetto/internal/infrastructure/metrics"
	"github.com/741g/vperfetto/internal/tracer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct{ ns uint64 }

func (c *fixedClock) BootTimeNs() uint64 { return c.ns }

func newTestRouter(t *testing.T, secret string) (http.Handler, *jwtinfra.Provider) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := &config.Config{
		AllowedOrigins: []string{"https://ui.perfetto.dev"},
		RateLimitRPS:   100,
		RateLimitBurst: 100,
		JWTSecret:      secret,
		JWTExpiry:      time.Hour,
	}
	mergeSvc := merge.NewService(merge.ServiceDeps{TraceDir: t.TempDir()})
	tr := tracer.New(&fixedClock{ns: 1_000_000}, session.NewSaver(mergeSvc, session.Poll{}, nil))
	sess := session.NewService(session.ServiceDeps{Tracer: tr, TraceDir: t.TempDir()})
	t.Cleanup(sess.Close)

	deps := &Deps{Session: sess, Merge: mergeSvc, Metrics: metrics.NewMetrics("", "test")}
	var p *jwtinfra.Provider
	if secret != "" {
		var err error
		p, err = jwtinfra.NewProvider(cfg)
		require.NoError(t, err)
		deps.JWTProvider = p
	}
	return NewRouter(ctx, cfg, deps), p
}

func serve(h http.Handler, method, target, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouter_OpenWithoutSecret(t *testing.T) {
	h, _ := newTestRouter(t, "")

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/v1/health-check/ping", "", "").Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/v1/tracing/config", "", "").Code)

	rr := serve(h, http.MethodPost, "/v1/tracing/guest-time", "", `{"boottime_ns":5000000}`)
	assert.Equal(t, http.StatusAccepted, rr.Code)

	rr = serve(h, http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `vperfetto_guest_samples_received_total{outcome="applied"} 1`)
}

func TestRouter_ScopesWithSecret(t *testing.T) {
	h, p := newTestRouter(t, "router-test-secret-0123456789")

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/v1/health-check/ping", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodGet, "/v1/tracing/config", "", "").Code)

	report, err := p.Sign("guest", jwtinfra.ScopeReport)
	require.NoError(t, err)
	control, err := p.Sign("ops", jwtinfra.ScopeControl)
	require.NoError(t, err)

	assert.Equal(t, http.StatusAccepted, serve(h, http.MethodPost, "/v1/tracing/guest-time", report, `{"boottime_ns":7}`).Code)
	assert.Equal(t, http.StatusForbidden, serve(h, http.MethodGet, "/v1/tracing/config", report, "").Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/v1/tracing/config", control, "").Code)
	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/v1/merges", control, "").Code)
}

func TestRouter_EnableWithoutHostFile(t *testing.T) {
	h, _ := newTestRouter(t, "")
	rr := serve(h, http.MethodPost, "/v1/tracing/enable", "", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouter_CORSPreflight(t *testing.T) {
	h, _ := newTestRouter(t, "")
	req := httptest.NewRequest(http.MethodOptions, "/v1/merges", nil)
	req.Header.Set("Origin", "https://ui.perfetto.dev")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, "https://ui.perfetto.dev", rr.Header().Get("Access-Control-Allow-Origin"))
}
