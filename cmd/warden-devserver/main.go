package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"warden/internal/config"
	"warden/internal/handlers"
	"warden/internal/middleware"
	"warden/internal/store"
)

// AppVersion defines the current version of the simulator
const AppVersion = "v1.0.0"

func main() {
	configPath := flag.String("config", "devserver.yaml", "path to the YAML config")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("main: .env not loaded")
	}

	// Create root context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Fatal("main: failed to load config")
	}
	if cfg.Server.JWTSecret == "" {
		log.Fatalf("main: %s must be set", config.EnvJWTSecret)
	}

	ledger, closeLedger := openLedger(ctx, &cfg.Server, log)
	defer closeLedger()

	geo := middleware.OpenGeo(cfg.Server.GeoIPDatabase, log)
	defer geo.Close()

	srv := handlers.NewServer(&cfg.Server, ledger, geo, log)

	sched := cron.New()
	if _, err := sched.AddFunc("@every 1m", func() {
		n := srv.MW.PruneVisitors(10 * time.Minute)
		if mem, ok := ledger.(*store.Memory); ok {
			n += mem.Prune()
		}
		if n > 0 {
			log.WithField("pruned", n).Debug("cron: pruned expired entries")
		}
	}); err != nil {
		log.WithError(err).Fatal("main: schedule pruning")
	}
	sched.Start()
	defer sched.Stop()

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithFields(logrus.Fields{"addr": server.Addr, "version": AppVersion}).Info("main: starting mining API simulator")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("main: could not start server")
		}
	}()

	// Block until shutdown signal
	<-ctx.Done()
	stop()
	log.Info("main: shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("main: server forced to shutdown")
		return
	}
	log.Info("main: server exited gracefully")
}

// openLedger prefers Redis when configured and reachable so several
// simulator instances share single-use tokens and attempt windows.
func openLedger(ctx context.Context, cfg *config.ServerConfig, log logrus.FieldLogger) (store.Ledger, func()) {
	if cfg.RedisAddr == "" {
		return store.NewMemory(), func() {}
	}
	rdb := store.NewRedis(cfg.RedisAddr)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx); err != nil {
		log.WithError(err).WithField("addr", cfg.RedisAddr).Warn("openLedger: redis unreachable, using memory ledger")
		_ = rdb.Close()
		return store.NewMemory(), func() {}
	}
	log.WithField("addr", cfg.RedisAddr).Info("openLedger: using redis ledger")
	return rdb, func() { _ = rdb.Close() }
}
