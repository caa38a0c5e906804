// Command timesyncd runs inside the guest. It keeps a foreground notification
// up, writes guest_clock_sync slices into the guest trace and reports clock
// samples to the host.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/741g/vperfetto/internal/application/clocksync"
	"github.com/741g/vperfetto/internal/application/merge"
	"github.com/741g/vperfetto/internal/application/notification"
	"github.com/741g/vperfetto/internal/application/session"
	"github.com/741g/vperfetto/internal/application/timesync"
	"github.com/741g/vperfetto/internal/config"
	"github.com/741g/vperfetto/internal/domain"
	"github.com/741g/vperfetto/internal/infrastructure/clock"
	"github.com/741g/vperfetto/internal/infrastructure/hostclient"
	"github.com/741g/vperfetto/internal/infrastructure/metrics"
	"github.com/741g/vperfetto/internal/infrastructure/notify"
	redisinfra "github.com/741g/vperfetto/internal/infrastructure/redis"
	"github.com/741g/vperfetto/internal/infrastructure/sns"
	"github.com/741g/vperfetto/internal/resources"
	"github.com/741g/vperfetto/internal/tracer"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	// SIGINT and SIGHUP only wake the idle loop.
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, syscall.SIGINT, syscall.SIGHUP)

	m := metrics.FromConfig(cfg.Metrics)
	go m.PushEvery(ctx, cfg.Metrics.PushInterval)

	strs, err := resources.LoadFile(cfg.Guest.ResourcesFile)
	if err != nil {
		log.Fatalf("load resources: %v", err)
	}

	notifier := notification.NewService(notification.ServiceDeps{
		Posters:        buildPosters(cfg, m),
		RequireChannel: cfg.Guest.RequiresChannel,
	})

	// The guest trace has no guest or combined file, so saves write it as is.
	saver := session.NewSaver(merge.NewService(merge.ServiceDeps{}), session.DefaultPoll, m)
	tr := tracer.New(clock.System{}, saver)
	tr.SetTraceConfig(func(c *domain.TraceConfig) {
		c.HostFilename = cfg.Guest.TraceFile
		c.PerThreadStorageMB = cfg.Tracing.PerThreadStorageMB
	})

	source, _ := os.Hostname()
	emitter := clocksync.NewEmitter(clocksync.EmitterDeps{
		Tracer:         tr,
		Clocks:         clock.System{},
		Reporters:      buildReporters(ctx, cfg),
		Metrics:        m,
		TickInterval:   cfg.Guest.TickInterval,
		ReportInterval: cfg.Guest.ReportInterval,
		Source:         source,
	})

	svc := timesync.NewService(timesync.ServiceDeps{
		Foreground:      notifier,
		Strings:         strs,
		Init:            emitter.Init,
		RequiresChannel: cfg.Guest.RequiresChannel,
		NotificationID:  cfg.Guest.NotificationID,
		IdleInterval:    cfg.Guest.IdleInterval,
		Interrupts:      interrupts,
	})

	log.Printf("timesyncd starting (trace=%s, env=%s)", cfg.Guest.TraceFile, cfg.AppEnv)
	_ = svc.Start(ctx)

	log.Println("Shutting down, writing guest trace...")
	closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := emitter.Close(closeCtx); err != nil {
		log.Printf("WARN: guest trace not written: %v", err)
	}
	if _, ticks := emitter.Last(); ticks > 0 {
		log.Printf("wrote %d clock sync ticks", ticks)
	}
	if err := m.Push(closeCtx); err != nil {
		log.Printf("WARN: %v", err)
	}
	log.Println("timesyncd stopped")
}

func buildPosters(cfg *config.Config, m *metrics.Metrics) []notification.Poster {
	var posters []notification.Poster
	for _, name := range cfg.Notify.Posters {
		switch name {
		case "log":
			posters = append(posters, notify.LogPoster{})
		case "ntfy":
			if cfg.Notify.NtfyTopicURL == "" {
				log.Printf("WARN: ntfy poster requested but NTFY_TOPIC_URL is empty")
				continue
			}
			posters = append(posters, notify.NewNtfyPoster(nil, cfg.Notify.NtfyTopicURL, cfg.Notify.NtfyToken, m))
		case "sns":
			p, err := sns.NewTopicPoster(cfg)
			if err != nil {
				log.Printf("WARN: SNS poster not available: %v", err)
				continue
			}
			posters = append(posters, p)
		default:
			log.Printf("WARN: unknown notification poster %q", name)
		}
	}
	return posters
}

func buildReporters(ctx context.Context, cfg *config.Config) []clocksync.Reporter {
	var reporters []clocksync.Reporter
	if cfg.Redis.Addr != "" {
		client, err := redisinfra.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Printf("WARN: redis reporter not available: %v", err)
		} else {
			reporters = append(reporters, redisinfra.NewReporter(client, cfg.Redis.Channel))
		}
	}
	if cfg.Guest.HostURL != "" {
		client, err := hostclient.ClientFromConfig(cfg.Guest)
		if err != nil {
			log.Printf("WARN: host reporter not available: %v", err)
		} else {
			reporters = append(reporters, hostclient.NewReporter(client, cfg.Guest.HostURL, cfg.Guest.HostToken))
		}
	}
	return reporters
}
