package hostclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/741g/vperfetto/internal/domain"
)

// GuestTimePath is the host endpoint that accepts guest clock samples.
const GuestTimePath = "/v1/tracing/guest-time"

// Reporter posts guest clock samples to the host control API.
type Reporter struct {
	client *http.Client
	url    string
	token  string
}

func NewReporter(client *http.Client, hostURL, token string) *Reporter {
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}
	return &Reporter{
		client: client,
		url:    strings.TrimRight(strings.TrimSpace(hostURL), "/") + GuestTimePath,
		token:  strings.TrimSpace(token),
	}
}

func (r *Reporter) Name() string { return "http" }

func (r *Reporter) Report(ctx context.Context, s domain.ClockSample) error {
	body, err := json.Marshal(s)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build guest time request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("post guest time: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("post guest time: status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
