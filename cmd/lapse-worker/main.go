package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/brightsteps/clinic-booking/internal/booking"
	"github.com/brightsteps/clinic-booking/internal/config"
	"github.com/brightsteps/clinic-booking/internal/db"
	"github.com/brightsteps/clinic-booking/internal/observability/metrics"
	redisclient "github.com/brightsteps/clinic-booking/internal/redis"
)

// The lapse worker sweeps pending bookings whose appointment date has passed
// without staff action and rejects them so the day's roster stays clean.
func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("component", "lapse-worker").Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("config load error")
	}

	logger.Info().Str("env", cfg.Env).Dur("interval", cfg.WorkerInterval).Msg("lapse-worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	repo := booking.NewPgRepository(pgPool)
	locker := redisclient.NewRedisQueueLocker(rdb, cfg.LockTTL)
	svc := booking.NewService(repo, locker, cfg, logger)

	registry := prometheus.NewRegistry()
	bookingMetrics := metrics.NewBookingMetrics(registry)

	// Scrape endpoint for the worker's own metrics
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		if err := http.ListenAndServe(":"+cfg.HTTPPort, mux); err != nil {
			logger.Error().Err(err).Msg("metrics listener failed")
		}
	}()

	// Run once at startup
	runOnce(rootCtx, svc, bookingMetrics, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping lapse worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, bookingMetrics, logger)
		}
	}
}

func runOnce(ctx context.Context, svc *booking.Service, m *metrics.BookingMetrics, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.RejectLapsedBookings(runCtx)
	if err != nil {
		logger.Error().Err(err).Msg("lapse sweep error")
		return
	}
	m.ObserveLapsed(n)
	logger.Info().Int("rejected", n).Dur("took", time.Since(start)).Msg("lapse sweep complete")
}
