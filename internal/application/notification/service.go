package notification

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/741g/vperfetto/internal/domain"
)

// Poster delivers a foreground notification to one backend.
type Poster interface {
	Name() string
	Post(ctx context.Context, ch domain.Channel, n domain.Notification) error
}

type Service interface {
	CreateChannel(ctx context.Context, ch domain.Channel) error
	Channels() []domain.Channel
	// StartForeground posts n and marks it ongoing. The returned stop func
	// ends the foreground state.
	StartForeground(ctx context.Context, n domain.Notification) (stop func(), err error)
	Active() []domain.Notification
}

type ServiceDeps struct {
	Posters []Poster
	// RequireChannel rejects notifications whose channel was never created.
	RequireChannel bool
}

type service struct {
	posters        []Poster
	requireChannel bool

	mu       sync.Mutex
	channels map[string]domain.Channel
	order    []string
	active   map[int]domain.Notification
}

func NewService(deps ServiceDeps) Service {
	return &service{
		posters:        deps.Posters,
		requireChannel: deps.RequireChannel,
		channels:       make(map[string]domain.Channel),
		active:         make(map[int]domain.Notification),
	}
}

func (s *service) CreateChannel(_ context.Context, ch domain.Channel) error {
	if ch.ID == "" {
		return fmt.Errorf("channel id is required: %w", domain.ErrBadRequest)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.channels[ch.ID]; ok {
		return nil
	}
	s.channels[ch.ID] = ch
	s.order = append(s.order, ch.ID)
	slog.Debug("notification channel created", "channel", ch.ID, "importance", ch.Importance)
	return nil
}

func (s *service) Channels() []domain.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Channel, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.channels[id])
	}
	return out
}

func (s *service) StartForeground(ctx context.Context, n domain.Notification) (func(), error) {
	s.mu.Lock()
	ch, ok := s.channels[n.ChannelID]
	if !ok {
		if s.requireChannel {
			s.mu.Unlock()
			return nil, fmt.Errorf("channel %q: %w", n.ChannelID, domain.ErrNotFound)
		}
		ch = domain.Channel{ID: n.ChannelID, Importance: domain.ImportanceDefault}
	}
	n.Ongoing = true
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	s.active[n.ID] = n
	s.mu.Unlock()

	for _, p := range s.posters {
		if err := p.Post(ctx, ch, n); err != nil {
			slog.Warn("foreground notification not delivered", "poster", p.Name(), "id", n.ID, "error", err)
		}
	}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.active, n.ID)
			s.mu.Unlock()
			slog.Info("foreground stopped", "id", n.ID)
		})
	}
	return stop, nil
}

func (s *service) Active() []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Notification, 0, len(s.active))
	for _, n := range s.active {
		out = append(out, n)
	}
	return out
}
