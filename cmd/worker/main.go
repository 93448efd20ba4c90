package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/oakmont/leadpipe/internal/config"
	"github.com/oakmont/leadpipe/internal/engine"
	"github.com/oakmont/leadpipe/internal/ghl"
	"github.com/oakmont/leadpipe/internal/queue"
	"github.com/oakmont/leadpipe/internal/ratelimit"
	"github.com/oakmont/leadpipe/internal/storage"
	"github.com/oakmont/leadpipe/internal/worker"
)

func newLogger(appEnv string) *zap.Logger {
	if appEnv == "production" {
		log, _ := zap.NewProduction()
		return log
	}
	log, _ := zap.NewDevelopment()
	return log
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config load failed", zap.Error(err))
	}
	log := newLogger(cfg.AppEnv)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect failed", zap.Error(err))
	}
	defer db.Close()
	store := storage.New(db)

	accounts, err := cfg.Accounts()
	if err != nil {
		log.Fatal("account config invalid", zap.Error(err))
	}

	// One limiter shared by every account client: the destination call rate
	// is bounded per worker process, not per account.
	limiter := ratelimit.New(ratelimit.Options{
		MaxConcurrent: cfg.RateMaxConcurrent,
		PerSecond:     cfg.RatePerSecond,
		Reservoir:     cfg.RateReservoir,
		RefillEvery:   time.Duration(cfg.RateRefillSec) * time.Second,
		Cooldown:      time.Duration(cfg.RateCooldownSec) * time.Second,
	})
	destinations := make([]engine.Destination, 0, len(accounts))
	for _, acct := range accounts {
		destinations = append(destinations, ghl.NewClient(acct, cfg.GHLBaseURL, cfg.GHLAPIVersion, limiter, log))
	}

	eng := engine.New(store, destinations, log)
	backoff := time.Duration(cfg.BackoffBaseSec) * time.Second
	staleAge := 2 * time.Duration(cfg.JobExpirySec) * time.Second
	expiryAge := time.Duration(cfg.JobExpirySec) * time.Second

	done := make(chan struct{})

	if cfg.RedisAddr != "" {
		rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		q := queue.New(rdb, cfg.QueueName)
		pool := worker.NewPool(store, q, eng, cfg.Workers, cfg.MaxAttempts, backoff, log)
		poller := queue.NewPoller(store, q, nil, time.Second, staleAge, expiryAge, log)

		go func() { _ = poller.Run(ctx) }()
		go func() {
			_ = pool.Run(ctx)
			close(done)
		}()
		log.Info("worker pool started",
			zap.Int("workers", cfg.Workers),
			zap.String("queue", cfg.QueueName),
			zap.Int("accounts", len(accounts)))
	} else {
		// No broker configured: the poller claims and runs jobs itself.
		pool := worker.NewPool(store, nil, eng, 1, cfg.MaxAttempts, backoff, log)
		poller := queue.NewPoller(store, nil, pool.ProcessClaimed, time.Second, staleAge, expiryAge, log)
		go func() {
			_ = poller.Run(ctx)
			close(done)
		}()
		log.Info("polling worker started (no broker configured)")
	}

	<-ctx.Done()
	log.Info("shutdown requested, draining in-flight jobs",
		zap.Int("waitSec", cfg.ShutdownWaitSec))

	select {
	case <-done:
		log.Info("drained cleanly")
	case <-time.After(time.Duration(cfg.ShutdownWaitSec) * time.Second):
		log.Warn("drain window elapsed, forcing stop")
	}
}
