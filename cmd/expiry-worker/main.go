package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/homefix/appointment-scheduling/internal/appointment"
	"github.com/homefix/appointment-scheduling/internal/config"
	"github.com/homefix/appointment-scheduling/internal/db"
	"github.com/homefix/appointment-scheduling/internal/lock"
	redisclient "github.com/homefix/appointment-scheduling/internal/redis"
)

// The worker runs both sweeps on one ticker: expired pending appointments
// and timed-out scope changes.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config load error: " + err.Error())
	}

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync() //nolint:errcheck

	log.Info("expiry-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
		zap.Int("batch_size", cfg.ExpiryBatchSize))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	registry := lock.NewMemoryRegistry()
	if cfg.LockBackend == "redis" {
		rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
		if err != nil {
			log.Fatal("redis connection error", zap.Error(err))
		}
		defer rdb.Close()
		registry = redisclient.NewLockRegistry(rdb, cfg.LockTTL)
		log.Info("connected to Redis, using distributed locks")
	}

	repo := appointment.NewPgRepository(pgPool)
	svc := appointment.NewService(repo, registry, appointment.Collaborators{}, cfg, log)

	// Run once at startup, then on every tick.
	runOnce(rootCtx, svc, cfg.ExpiryBatchSize, log)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			log.Info("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, svc, cfg.ExpiryBatchSize, log)
		}
	}
}

func runOnce(ctx context.Context, svc *appointment.Service, batchSize int, log *zap.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()

	expiredAppointments, err := svc.ExpirePendingAppointments(runCtx, batchSize)
	if err != nil {
		log.Error("appointment expiry run failed", zap.Error(err))
	}

	expiredScopeChanges, err := svc.ExpirePendingScopeChanges(runCtx, batchSize)
	if err != nil {
		log.Error("scope change expiry run failed", zap.Error(err))
	}

	log.Info("expiry run complete",
		zap.Int("expired_appointments", expiredAppointments),
		zap.Int("expired_scope_changes", expiredScopeChanges),
		zap.Duration("duration", time.Since(start)))
}
