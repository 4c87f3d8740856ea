package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/shoptk/backend-shoptk/internal/app"
	"github.com/shoptk/backend-shoptk/internal/config"
	"github.com/shoptk/backend-shoptk/internal/fulfill"
	"github.com/shoptk/backend-shoptk/internal/notify"
	"github.com/shoptk/backend-shoptk/internal/obs"
	"github.com/shoptk/backend-shoptk/internal/order"
	"github.com/shoptk/backend-shoptk/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		l := obs.NewLogger("json", "info")
		l.Fatal().Err(err).Msg("load config")
	}

	deps, err := app.Build(ctx, cfg)
	if err != nil {
		l := obs.NewLogger(cfg.LogFormat, cfg.LogLevel)
		l.Fatal().Err(err).Msg("build dependencies")
	}
	defer deps.Close()
	logger := deps.Logger

	obs.MustRegisterDomainMetrics("shoptk", nil)

	enc, err := fulfill.NewEncryptor(cfg.CredentialEncKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("init encryptor")
	}

	orders := &order.Repo{Pool: deps.Pool, Logger: logger}
	emitter := &notify.Emitter{
		Store:  &notify.Store{Pool: deps.Pool},
		Pusher: &notify.Pusher{Client: deps.Redis, Logger: logger},
		Logger: logger,
	}
	fulfillSvc := &fulfill.Service{
		Store: &fulfill.Store{Pool: deps.Pool},
		Enc:   enc,
		Gen: fulfill.Generator{
			Domain:      cfg.CredentialDomain,
			PasswordLen: cfg.CredentialPasswordLen,
		},
		Notifier: emitter,
		Logger:   logger,
	}

	handlers := &worker.Handlers{
		Orders:      orders,
		Fulfill:     fulfillSvc,
		GracePeriod: cfg.DeliveryGracePeriod,
		BatchSize:   100,
		Logger:      logger,
	}

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url for task queue")
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 5,
		Queues: map[string]int{
			"deliveries": 6,
			"default":    3,
		},
		ShutdownTimeout: 15 * time.Second,
	})
	mux := asynq.NewServeMux()
	handlers.Register(mux)

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC})
	if _, err := scheduler.Register("@every 5m", worker.NewDeliveryBackfillTask(), asynq.Queue("deliveries")); err != nil {
		logger.Fatal().Err(err).Msg("register backfill schedule")
	}

	go func() {
		if err := scheduler.Run(); err != nil {
			logger.Error().Err(err).Msg("scheduler stopped")
			stop()
		}
	}()

	go func() {
		logger.Info().Msg("worker running")
		if err := srv.Run(mux); err != nil {
			logger.Error().Err(err).Msg("worker stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	scheduler.Shutdown()
	srv.Shutdown()
}
