package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	validator "github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ulule/limiter/v3"
	limitermw "github.com/ulule/limiter/v3/drivers/middleware/stdlib"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"

	"github.com/shoptk/backend-shoptk/internal/app"
	"github.com/shoptk/backend-shoptk/internal/auth"
	"github.com/shoptk/backend-shoptk/internal/config"
	"github.com/shoptk/backend-shoptk/internal/db"
	"github.com/shoptk/backend-shoptk/internal/fulfill"
	"github.com/shoptk/backend-shoptk/internal/health"
	"github.com/shoptk/backend-shoptk/internal/notify"
	"github.com/shoptk/backend-shoptk/internal/obs"
	"github.com/shoptk/backend-shoptk/internal/order"
	"github.com/shoptk/backend-shoptk/internal/payment"
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

	if err := db.Migrate(cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("run migrations")
	}

	if cfg.OTLPEndpoint != "" {
		shutdown, err := obs.InitTracer(ctx, obs.TracingConfig{
			ServiceName:   "shoptk-api",
			Endpoint:      cfg.OTLPEndpoint,
			SamplingRatio: cfg.TraceSampling,
			Environment:   cfg.AppEnv,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("init tracer")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("tracer shutdown")
			}
		}()
	}

	obs.MustRegisterDomainMetrics("shoptk", nil)

	redisOpt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url for task queue")
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	router, err := buildRouter(deps, asynqClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("build router")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		os.Exit(1)
	}
}

func buildRouter(deps *app.Dependencies, asynqClient *asynq.Client) (chi.Router, error) {
	cfg, logger := deps.Cfg, deps.Logger

	enc, err := fulfill.NewEncryptor(cfg.CredentialEncKey)
	if err != nil {
		return nil, err
	}

	orders := &order.Repo{Pool: deps.Pool, Logger: logger}
	notifyStore := &notify.Store{Pool: deps.Pool}
	emitter := &notify.Emitter{
		Store:  notifyStore,
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

	vnpay := &payment.VNPay{
		TmnCode:    cfg.VNPay.TmnCode,
		HashSecret: cfg.VNPay.HashSecret,
		PayURL:     cfg.VNPay.PayURL,
		ReturnURL:  cfg.VNPay.ReturnURL,
	}
	momo := &payment.MoMo{
		PartnerCode: cfg.MoMo.PartnerCode,
		AccessKey:   cfg.MoMo.AccessKey,
		SecretKey:   cfg.MoMo.SecretKey,
		Endpoint:    cfg.MoMo.Endpoint,
	}
	stripeProvider := &payment.Stripe{
		SecretKey:     cfg.Stripe.SecretKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
	}

	engine := &payment.Engine{
		Orders:    orders,
		Deliverer: fulfillSvc,
		Notifier:  emitter,
		Retry:     &worker.Enqueuer{Client: asynqClient, Logger: logger},
		Logger:    logger,
	}
	webhooks := &payment.WebhookHandler{
		Engine: engine,
		VNPay:  vnpay,
		MoMo:   momo,
		Stripe: stripeProvider,
		Replay: &payment.ReplayGuard{
			Client: deps.Redis,
			TTL:    cfg.WebhookReplayTTL,
			Logger: logger,
		},
		ResultPageURL: cfg.ResultPageURL,
		Logger:        logger,
	}

	validate := validator.New()
	intentSvc := &payment.Service{
		Orders: orders,
		Providers: map[string]payment.Provider{
			vnpay.Name():          vnpay,
			momo.Name():           momo,
			stripeProvider.Name(): stripeProvider,
		},
		IntentTTL: cfg.IntentTTL,
		ReturnURL: cfg.PublicBaseURL + "/payment/vnpay/return",
		NotifyURL: func(provider string) string {
			return cfg.PublicBaseURL + "/webhooks/" + provider
		},
		Logger: logger,
	}

	orderHandler := &order.Handler{Repo: orders, Validate: validate, Notify: emitter}
	paymentHandler := &payment.Handler{Service: intentSvc, Validate: validate}
	fulfillHandler := &fulfill.Handler{Service: fulfillSvc, Orders: orders, Validate: validate}
	notifyHandler := &notify.Handler{Store: notifyStore}
	healthHandler := &health.Handler{Pool: deps.Pool, Redis: deps.Redis}
	authMW := auth.Middleware{Secret: cfg.JWTSecret, ClockSkew: 30 * time.Second}

	webhookLimiter, err := buildWebhookLimiter(deps)
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.RoutePatternMiddleware)
	r.Use(obs.TracingMiddleware)
	r.Use(obs.RequestLogger{Logger: logger}.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", healthHandler.Live)
	r.Get("/readyz", healthHandler.Ready)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(webhookLimiter.Handler)
		r.Post("/webhooks/vnpay", webhooks.HandleVNPayIPN)
		r.Post("/webhooks/momo", webhooks.HandleMoMoIPN)
		r.Post("/webhooks/stripe", webhooks.HandleStripe)
		r.Get("/payment/vnpay/return", webhooks.HandleVNPayReturn)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(authMW.RequireAuth)
		r.Post("/orders", orderHandler.Create)
		r.Get("/orders/{id}", orderHandler.Get)
		r.Post("/payments/intent", paymentHandler.CreateIntent)
		r.Get("/payments/{id}/status", paymentHandler.Status)
		r.Get("/deliveries/{orderId}/credentials", fulfillHandler.Credentials)
		r.Get("/notifications", notifyHandler.List)
		r.Post("/notifications/{id}/read", notifyHandler.MarkRead)
		r.Post("/notifications/read-all", notifyHandler.MarkAllRead)

		r.Group(func(r chi.Router) {
			r.Use(authMW.RequireAdmin)
			r.Post("/admin/orders/{id}/delivery", fulfillHandler.AdminDeliver)
			r.Post("/admin/orders/{id}/cancel", orderHandler.Cancel)
		})
	})

	return r, nil
}

func buildWebhookLimiter(deps *app.Dependencies) (*limitermw.Middleware, error) {
	store, err := limiterredis.NewStoreWithOptions(deps.Redis, limiter.StoreOptions{
		Prefix: "ratelimit:webhook",
	})
	if err != nil {
		return nil, err
	}
	instance := limiter.New(store, limiter.Rate{
		Period: deps.Cfg.WebhookRatePeriod,
		Limit:  int64(deps.Cfg.WebhookRateMax),
	})
	return limitermw.NewMiddleware(instance), nil
}
