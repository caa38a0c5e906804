package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/741g/vperfetto/internal/domain"
)

const maxAttempts = 5

// Recorder observes each publish attempt.
type Recorder interface {
	RecordNotify(poster string, d time.Duration, err error)
}

// NtfyPoster publishes the notification to an ntfy topic.
type NtfyPoster struct {
	client    *http.Client
	topicURL  string
	token     string
	baseDelay time.Duration
	recorder  Recorder
}

func NewNtfyPoster(client *http.Client, topicURL, token string, rec Recorder) *NtfyPoster {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &NtfyPoster{
		client:    client,
		topicURL:  strings.TrimSpace(topicURL),
		token:     strings.TrimSpace(token),
		baseDelay: time.Second,
		recorder:  rec,
	}
}

func (p *NtfyPoster) Name() string { return "ntfy" }

func (p *NtfyPoster) Post(ctx context.Context, ch domain.Channel, n domain.Notification) error {
	if p.topicURL == "" {
		return errors.New("ntfy: topic url not configured")
	}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.topicURL, strings.NewReader(n.Text))
		if err != nil {
			return fmt.Errorf("ntfy: build request: %w", err)
		}
		if p.token != "" {
			req.Header.Set("Authorization", "Bearer "+p.token)
		}
		req.Header.Set("Title", n.Title)
		req.Header.Set("Tags", ch.ID)
		req.Header.Set("Priority", priority(ch.Importance))

		start := time.Now()
		resp, err := p.client.Do(req)
		elapsed := time.Since(start)

		if err != nil {
			p.record(elapsed, err)
			slog.Warn("ntfy publish failed", "attempt", attempt, "max", maxAttempts, "error", err)
			if attempt == maxAttempts {
				return fmt.Errorf("ntfy: %w", err)
			}
			if err := sleep(ctx, retryAfterDelay("", attempt, p.baseDelay)); err != nil {
				return err
			}
			continue
		}

		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			wait := retryAfterDelay(resp.Header.Get("Retry-After"), attempt, p.baseDelay)
			p.record(elapsed, errors.New("rate limited"))
			slog.Warn("ntfy rate limited", "attempt", attempt, "max", maxAttempts, "wait", wait)
			if attempt == maxAttempts {
				return fmt.Errorf("ntfy: rate limited after %d attempts: %s", maxAttempts, body)
			}
			if err := sleep(ctx, wait); err != nil {
				return err
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			err := fmt.Errorf("ntfy: status %d: %s", resp.StatusCode, body)
			p.record(elapsed, err)
			return err
		}

		p.record(elapsed, nil)
		slog.Info("ntfy publish ok", "topic", p.topicURL, "notification_id", n.ID)
		return nil
	}
	return fmt.Errorf("ntfy: publish failed after %d attempts", maxAttempts)
}

func (p *NtfyPoster) record(d time.Duration, err error) {
	if p.recorder != nil {
		p.recorder.RecordNotify(p.Name(), d, err)
	}
}

// priority maps channel importance onto ntfy's 1..5 scale.
func priority(imp domain.Importance) string {
	switch imp {
	case domain.ImportanceNone, domain.ImportanceMin:
		return "min"
	case domain.ImportanceLow:
		return "low"
	case domain.ImportanceHigh:
		return "high"
	default:
		return "default"
	}
}

// retryAfterDelay honours a Retry-After header given in seconds or as an
// HTTP date, and otherwise backs off exponentially with jitter.
func retryAfterDelay(header string, attempt int, base time.Duration) time.Duration {
	if header != "" {
		if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
		if t, err := http.ParseTime(header); err == nil {
			if d := time.Until(t); d > 0 {
				return d
			}
		}
	}
	backoff := base * time.Duration(1<<uint(attempt-1))
	if base <= 0 {
		return backoff
	}
	return backoff + time.Duration(rand.Int63n(int64(base)))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
