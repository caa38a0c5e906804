package hostclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/741g/vperfetto/internal/config"
	"github.com/741g/vperfetto/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReporter_PostsSample(t *testing.T) {
	var got domain.ClockSample
	var auth, path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	r := NewReporter(srv.Client(), srv.URL+"/", " tok ")
	assert.Equal(t, "http", r.Name())
	require.NoError(t, r.Report(context.Background(), domain.ClockSample{BootTimeNs: 5, MonotonicNs: 4, CPUTicks: 3}))

	assert.Equal(t, GuestTimePath, path)
	assert.Equal(t, "Bearer tok", auth)
	assert.Equal(t, uint64(5), got.BootTimeNs)
}

func TestReporter_NoTokenNoHeader(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	require.NoError(t, NewReporter(nil, srv.URL, "").Report(context.Background(), domain.ClockSample{BootTimeNs: 1}))
	assert.Empty(t, auth)
}

func TestReporter_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"tracing is active"}`, http.StatusConflict)
	}))
	defer srv.Close()

	err := NewReporter(srv.Client(), srv.URL, "").Report(context.Background(), domain.ClockSample{BootTimeNs: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 409")
	assert.Contains(t, err.Error(), "tracing is active")
}

func TestBuildHTTP2Client_RequiresPaths(t *testing.T) {
	_, err := BuildHTTP2Client("", "k", "c")
	assert.EqualError(t, err, "certPath required")
	_, err = BuildHTTP2Client("c", "", "c")
	assert.EqualError(t, err, "keyPath required")
	_, err = BuildHTTP2Client("c", "k", "")
	assert.EqualError(t, err, "caPath required")
}

func TestBuildHTTP2Client_BadFiles(t *testing.T) {
	dir := t.TempDir()
	cert := filepath.Join(dir, "c.pem")
	require.NoError(t, os.WriteFile(cert, []byte("junk"), 0o600))
	_, err := BuildHTTP2Client(cert, cert, cert)
	assert.ErrorContains(t, err, "load client certificate")
}

func TestClientFromConfig_PlainWithoutCert(t *testing.T) {
	c, err := ClientFromConfig(config.Guest{})
	require.NoError(t, err)
	assert.Nil(t, c.Transport)
	assert.Equal(t, requestTimeout, c.Timeout)
}
