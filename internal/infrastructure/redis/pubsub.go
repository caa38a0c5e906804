package redisinfra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/741g/vperfetto/internal/config"
	"github.com/741g/vperfetto/internal/domain"
	"github.com/redis/go-redis/v9"
)

// DefaultChannel carries guest clock samples.
const DefaultChannel = "vperfetto:guest-time"

// Publisher is the subset of the Redis client the reporter uses.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// NewClient connects to cfg.Addr and pings it.
func NewClient(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	if cfg.Addr == "" {
		return nil, errors.New("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

func channelOrDefault(ch string) string {
	if ch == "" {
		return DefaultChannel
	}
	return ch
}

// Reporter publishes guest clock samples for the host to pick up.
type Reporter struct {
	client  Publisher
	channel string
}

func NewReporter(client Publisher, channel string) *Reporter {
	return &Reporter{client: client, channel: channelOrDefault(channel)}
}

func (r *Reporter) Name() string { return "redis" }

func (r *Reporter) Report(ctx context.Context, s domain.ClockSample) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", r.channel, err)
	}
	return nil
}

// Subscribe delivers every sample on channel to handle until ctx is done.
func Subscribe(ctx context.Context, client *redis.Client, channel string, handle func(domain.ClockSample)) error {
	channel = channelOrDefault(channel)
	sub := client.Subscribe(ctx, channel)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", channel, err)
	}
	slog.Info("subscribed to guest time", "channel", channel)
	return consume(ctx, sub.Channel(), handle)
}

func consume(ctx context.Context, msgs <-chan *redis.Message, handle func(domain.ClockSample)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return errors.New("redis subscription closed")
			}
			s, err := decodeSample(msg.Payload)
			if err != nil {
				slog.Warn("dropping guest time sample", "channel", msg.Channel, "error", err)
				continue
			}
			handle(s)
		}
	}
}

func decodeSample(payload string) (domain.ClockSample, error) {
	var s domain.ClockSample
	if err := json.Unmarshal([]byte(payload), &s); err != nil {
		return s, fmt.Errorf("decode sample: %w", err)
	}
	if s.BootTimeNs == 0 {
		return s, errors.New("sample has no boottime")
	}
	return s, nil
}
