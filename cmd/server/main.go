// Package main is the entry point for the Booking Manager calendar sync server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/booking-manager/backend/internal/api"
	"github.com/booking-manager/backend/internal/audit"
	"github.com/booking-manager/backend/internal/calendar"
	"github.com/booking-manager/backend/internal/config"
	"github.com/booking-manager/backend/internal/lease"
	"github.com/booking-manager/backend/internal/logger"
	"github.com/booking-manager/backend/internal/storage"
	"github.com/booking-manager/backend/internal/websocket"
)

// version is set at build time via -ldflags "-X main.version=x.y.z".
// Defaults to "dev" when not provided.
var version = "dev"

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, config.ErrHelp) {
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// Health check mode for Docker HEALTHCHECK
	if cfg.HealthCheck {
		if err := runHealthCheck(cfg.Addr); err != nil {
			fmt.Fprintf(os.Stderr, "health check failed: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	if envVer := os.Getenv("VERSION"); envVer != "" {
		version = envVer
	}

	log := logger.New(cfg.LogLevel, cfg.PrettyLog)
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("server failed", logger.Error(err))
	}
}

func run(cfg *config.Config, log logger.Logger) error {
	log.Info("starting booking manager calendar sync", logger.String("version", version))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.NewDB(cfg.DBPath())
	if err != nil {
		return err
	}
	defer db.Close()

	schemaVersion, err := storage.RunMigrations(db)
	if err != nil {
		return err
	}
	log.Info("database ready", logger.String("path", db.Path()), logger.Int64("schema_version", int64(schemaVersion)))

	hub := websocket.NewHub(log.With(logger.String("component", "websocket")))
	go hub.Run(ctx)
	broadcaster := websocket.NewEventBroadcaster(hub, log)

	feedRepo := storage.NewFeedRepository(db)
	eventRepo := storage.NewEventRepository(db)
	store := calendar.NewSQLStore(db, feedRepo, eventRepo)

	syncLog := log.With(logger.String("component", "sync"))
	adapters := calendar.NewAdapters(calendar.NewParser(syncLog))
	fetcher := calendar.NewFetcher(nil, cfg.UserAgent, cfg.Policy.Fetch, syncLog)

	locker, closeLocker, err := newLocker(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeLocker()

	syncService := calendar.NewSyncService(store, adapters, fetcher, locker, cfg.Policy, broadcaster, syncLog)
	scheduler := calendar.NewScheduler(syncService, store, cfg.SyncSchedule, broadcaster, syncLog)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	auditor := audit.NewAuditor(eventRepo, cfg.Policy.Duplicates, broadcaster,
		log.With(logger.String("component", "audit")))

	router := api.NewRouter(api.Services{
		DB:        db,
		Feeds:     feedRepo,
		Events:    eventRepo,
		Hub:       hub,
		Scheduler: scheduler,
		Auditor:   auditor,
		Policy:    cfg.Policy,
		StaticDir: cfg.StaticDir,
		Log:       log.With(logger.String("component", "http")),
	})

	// On-demand syncs may wait out a rate limit, so writes get the lease TTL.
	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Policy.LeaseTTL,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server listening", logger.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serving http: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}

	log.Info("server stopped")
	return nil
}

// newLocker returns a Redis-backed lease locker when Redis is configured and
// an in-process one otherwise.
func newLocker(ctx context.Context, cfg *config.Config, log logger.Logger) (lease.Locker, func(), error) {
	if cfg.RedisAddr == "" {
		log.Info("using in-memory feed leases")
		return lease.NewMemoryLocker(), func() {}, nil
	}

	client, err := lease.Connect(ctx, lease.ConnectOptions{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, log)
	if err != nil {
		return nil, nil, err
	}

	locker := lease.NewRedisLocker(client, "booking-manager:", log.With(logger.String("component", "lease")))
	return locker, func() { client.Close() }, nil
}

// runHealthCheck performs a health check against the running server.
func runHealthCheck(addr string) error {
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get("http://localhost" + addr + "/api/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
