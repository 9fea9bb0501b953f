package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/geo"
	httpapi "github.com/example/ride-dispatch/internal/http"
	"github.com/example/ride-dispatch/internal/ingest"
	"github.com/example/ride-dispatch/internal/lifecycle"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/payments"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/storage"
	"github.com/example/ride-dispatch/internal/ws"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	if cfg.PGDSN != "" && cfg.RunMigrations {
		runMigrations(cfg.PGDSN, logger)
	}

	hub := ws.NewHub(logger)
	registry := presence.NewRegistry(hub, logger)
	index := geo.NewIndex(logger)
	rides := lifecycle.NewManager(cfg.RideRequestTTL, logger)

	coord := dispatch.NewCoordinator(registry, index, rides, hub, logger)
	coord.RadiusKm = cfg.DispatchRadiusKm
	coord.Estimator = &eta.Estimator{
		SpeedKmh: cfg.DefaultSpeedKmh,
		Cache:    eta.NewCache(5 * time.Minute),
	}
	if cfg.OSRMEndpoint != "" {
		coord.Estimator.Client = eta.NewOSRMClient(cfg.OSRMEndpoint)
	}

	if cfg.PGDSN != "" {
		if ps, err := storage.NewPostgresStore(cfg.PGDSN); err == nil {
			coord.Store = ps
			defer ps.Close()
		} else {
			logger.Error("postgres unavailable, ride history disabled", "error", err)
		}
	}
	if coord.Store == nil {
		coord.Store = storage.NewMemoryStore()
	}

	if len(cfg.KafkaBrokers) > 0 {
		kp := ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		coord.Events = kp
		defer kp.Close()
	}
	if cfg.RedisAddr != "" {
		flags := dispatch.NewRedisFlags(cfg.RedisAddr, cfg.RedisPassword)
		coord.Flags = flags
		defer flags.Close()
	}
	if cfg.StripeEnabled {
		coord.Payments = payments.NewStripeClient()
		coord.HoldAmount = cfg.FareHoldAmount
		coord.HoldCurrency = cfg.FareHoldCurrency
	}

	var verifier auth.Verifier = auth.OpaqueVerifier{}
	if cfg.AuthSecret != "" {
		verifier = auth.NewJWTVerifier(cfg.AuthSecret)
	}

	api := httpapi.NewServer(hub, coord, verifier, logger)
	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("ride-dispatch listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}

// runMigrations applies the basic schema if requested. Failures are logged,
// not fatal; the server can still run with the in-memory store.
func runMigrations(dsn string, logger *slog.Logger) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("migration db open error", "error", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_rides.sql"))
	if err != nil {
		logger.Error("migration read error", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logger.Error("migration exec error", "error", err)
		return
	}
	logger.Info("migration applied", "file", "001_create_rides.sql")
}
