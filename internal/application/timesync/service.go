package timesync

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/741g/vperfetto/internal/domain"
	"github.com/741g/vperfetto/internal/resources"
)

const (
	ChannelID      = "TimeTrace"
	NotificationID = 12345
	IdleInterval   = 1000 * time.Second
)

// Foreground is the platform surface that keeps the service privileged.
type Foreground interface {
	CreateChannel(ctx context.Context, ch domain.Channel) error
	StartForeground(ctx context.Context, n domain.Notification) (stop func(), err error)
}

type Service interface {
	// Start sets up the foreground notification, runs Init once and then
	// idles until ctx is cancelled. It always returns ctx.Err().
	Start(ctx context.Context) error
}

type ServiceDeps struct {
	Foreground      Foreground
	Strings         resources.Strings
	Init            func()
	RequiresChannel bool
	NotificationID  int
	IdleInterval    time.Duration
	// Interrupts wake the idle wait early. They are swallowed.
	Interrupts <-chan os.Signal
}

type service struct {
	deps ServiceDeps
}

func NewService(deps ServiceDeps) Service {
	if deps.NotificationID == 0 {
		deps.NotificationID = NotificationID
	}
	if deps.IdleInterval <= 0 {
		deps.IdleInterval = IdleInterval
	}
	if deps.Init == nil {
		deps.Init = func() {}
	}
	return &service{deps: deps}
}

func (s *service) Start(ctx context.Context) error {
	n := domain.Notification{
		ID:        s.deps.NotificationID,
		ChannelID: ChannelID,
		Title:     s.deps.Strings.NotificationTitle,
		Text:      s.deps.Strings.NotificationMessage,
		Ticker:    s.deps.Strings.TickerText,
		CreatedAt: time.Now().UTC(),
	}

	if s.deps.Foreground != nil {
		if s.deps.RequiresChannel {
			name := s.deps.Strings.ChannelName
			if name == "" {
				name = ChannelID
			}
			ch := domain.Channel{ID: ChannelID, Name: name, Importance: domain.ImportanceMin}
			if err := s.deps.Foreground.CreateChannel(ctx, ch); err != nil {
				slog.Warn("create notification channel", "channel", ChannelID, "error", err)
			}
		}
		stop, err := s.deps.Foreground.StartForeground(ctx, n)
		if err != nil {
			slog.Warn("start foreground", "id", n.ID, "error", err)
		} else {
			defer stop()
		}
	}

	s.runInit()
	return s.idle(ctx)
}

// runInit hides every outcome of the init call, panics included.
func (s *service) runInit() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("init panicked", "panic", r)
		}
	}()
	s.deps.Init()
}

func (s *service) idle(ctx context.Context) error {
	ticker := time.NewTicker(s.deps.IdleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("time sync service stopping", "reason", ctx.Err())
			return ctx.Err()
		case sig := <-s.deps.Interrupts:
			slog.Debug("idle wait interrupted", "signal", sig)
		case <-ticker.C:
		}
	}
}
