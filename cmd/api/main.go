package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/oakmont/leadpipe/internal/config"
	"github.com/oakmont/leadpipe/internal/httpapi"
	"github.com/oakmont/leadpipe/internal/producer"
	"github.com/oakmont/leadpipe/internal/queue"
	"github.com/oakmont/leadpipe/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config load failed", zap.Error(err))
	}
	log, _ := zap.NewProduction()
	if cfg.AppEnv != "production" {
		log, _ = zap.NewDevelopment()
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect failed", zap.Error(err))
	}
	defer db.Close()
	store := storage.New(db)

	var q *queue.RedisQ
	if cfg.RedisAddr != "" {
		rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer rdb.Close()
		q = queue.New(rdb, cfg.QueueName)
	}

	var enq producer.Enqueuer
	var broker httpapi.Broker
	if q != nil {
		enq, broker = q, q
	}
	prod := producer.New(store, enq, cfg.BatchSize, cfg.MaxAttempts, log)
	srv := httpapi.NewServer(store, prod, broker, cfg.WebhookSecret, log)

	httpSrv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("api listening", zap.String("addr", cfg.APIAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("serve failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		log.Warn("shutdown incomplete", zap.Error(err))
	}
}
