// Command vperfetto-host serves the host tracing control API.
//
//	vperfetto-host             run the server
//	vperfetto-host mint-token  print a bearer token: mint-token <subject> [control|report]
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/741g/vperfetto/internal/application/merge"
	"github.com/741g/vperfetto/internal/application/session"
	"github.com/741g/vperfetto/internal/config"
	"github.com/741g/vperfetto/internal/domain"
	"github.com/741g/vperfetto/internal/infrastructure/clock"
	"github.com/741g/vperfetto/internal/infrastructure/dynamo"
	jwtinfra "github.com/741g/vperfetto/internal/infrastructure/jwt"
	"github.com/741g/vperfetto/internal/infrastructure/metrics"
	redisinfra "github.com/741g/vperfetto/internal/infrastructure/redis"
	s3infra "github.com/741g/vperfetto/internal/infrastructure/s3"
	"github.com/741g/vperfetto/internal/infrastructure/sqlite"
	"github.com/741g/vperfetto/internal/tracer"
	transporthttp "github.com/741g/vperfetto/internal/transport/http"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()

	if len(os.Args) > 1 && os.Args[1] == "mint-token" {
		if err := mintToken(cfg, os.Args[2:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.FromConfig(cfg.Metrics)

	ledger, closeLedger, err := openLedger(ctx, cfg)
	if err != nil {
		log.Fatalf("open merge ledger: %v", err)
	}
	defer closeLedger()

	// S3 store (optional; combined traces stay on disk without it).
	var store merge.ObjectStore
	if cfg.S3BucketName != "" {
		s3Client, err := s3infra.NewClient(cfg)
		if err != nil {
			log.Printf("WARN: S3 store not available: %v", err)
		} else {
			store = s3infra.NewStore(s3Client, cfg.S3BucketName)
		}
	}

	mergeSvc := merge.NewService(merge.ServiceDeps{
		Ledger:   ledger,
		Store:    store,
		Recorder: m,
		TraceDir: cfg.Tracing.Dir,
	})

	saver := session.NewSaver(mergeSvc, session.Poll{
		Interval:    cfg.Tracing.PollInterval,
		MaxIters:    cfg.Tracing.MaxPollIters,
		StableIters: cfg.Tracing.StableIters,
	}, m)
	tr := tracer.New(clock.System{}, saver)
	tr.SetTraceConfig(func(c *domain.TraceConfig) {
		c.HostFilename = cfg.Tracing.HostFile
		c.GuestFilename = cfg.Tracing.GuestFile
		c.CombinedFilename = cfg.Tracing.CombinedFile
		c.PerThreadStorageMB = cfg.Tracing.PerThreadStorageMB
	})
	sessionSvc := session.NewService(session.ServiceDeps{
		Tracer:       tr,
		Recorder:     m,
		TraceDir:     cfg.Tracing.Dir,
		PollInterval: cfg.Tracing.PollInterval,
	})
	defer sessionSvc.Close()

	// Redis guest-time subscriber (optional).
	if cfg.Redis.Addr != "" {
		client, err := redisinfra.NewClient(ctx, cfg.Redis)
		if err != nil {
			log.Printf("WARN: redis subscriber not available: %v", err)
		} else {
			defer client.Close()
			go func() {
				err := redisinfra.Subscribe(ctx, client, cfg.Redis.Channel, func(s domain.ClockSample) {
					m.RecordGuestSample(sessionSvc.ObserveGuestSample(s))
				})
				if err != nil && !errors.Is(err, context.Canceled) {
					log.Printf("WARN: guest time subscription ended: %v", err)
				}
			}()
		}
	}

	// JWT provider (optional; the API is open without CONTROL_JWT_SECRET).
	var jwtProvider *jwtinfra.Provider
	if p, err := jwtinfra.NewProvider(cfg); err == nil {
		jwtProvider = p
	} else {
		log.Printf("WARN: control API auth disabled: %v", err)
	}

	deps := &transporthttp.Deps{
		Session:     sessionSvc,
		Merge:       mergeSvc,
		JWTProvider: jwtProvider,
		Metrics:     m,
	}
	router := transporthttp.NewRouter(ctx, cfg, deps)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.AppPort),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		// Combined trace downloads can be large.
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s (env=%s, ledger=%s)", cfg.AppPort, cfg.AppEnv, cfg.LedgerBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()

	log.Println("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("forced shutdown: %v", err)
	}

	// Finish a trace that is still running so it is not lost.
	sessionSvc.Disable()
	if err := sessionSvc.WaitSavingDone(shutdownCtx); err != nil {
		log.Printf("WARN: trace save did not finish: %v", err)
	}
	log.Println("Server stopped")
}

func openLedger(ctx context.Context, cfg *config.Config) (merge.Ledger, func(), error) {
	switch cfg.LedgerBackend {
	case "dynamo":
		client, err := dynamo.NewClient(cfg)
		if err != nil {
			return nil, nil, err
		}
		dynamo.Bootstrap(ctx, client, cfg.DynamoTables)
		return dynamo.NewMergeRepo(client, cfg.DynamoTables.Merges), func() {}, nil
	case "sqlite", "":
		l, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return l, func() { _ = l.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown LEDGER_BACKEND %q", cfg.LedgerBackend)
	}
}

func mintToken(cfg *config.Config, args []string) error {
	if len(args) < 1 {
		return errors.New("usage: vperfetto-host mint-token <subject> [control|report]")
	}
	scope := jwtinfra.ScopeControl
	if len(args) > 1 {
		scope = args[1]
	}
	if scope != jwtinfra.ScopeControl && scope != jwtinfra.ScopeReport {
		return fmt.Errorf("unknown scope %q", scope)
	}
	p, err := jwtinfra.NewProvider(cfg)
	if err != nil {
		return err
	}
	token, err := p.Sign(args[0], scope)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
