package notify

import (
	"context"
	"log/slog"

	"github.com/741g/vperfetto/internal/domain"
)

// LogPoster writes the notification to the structured log. It is the default
// on hosts with no notification surface.
type LogPoster struct{}

func (LogPoster) Name() string { return "log" }

func (LogPoster) Post(_ context.Context, ch domain.Channel, n domain.Notification) error {
	slog.Info("foreground notification",
		"channel", ch.ID,
		"id", n.ID,
		"title", n.Title,
		"text", n.Text,
		"ticker", n.Ticker,
	)
	return nil
}
