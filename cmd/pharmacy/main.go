package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/DanielPopoola/ficmart-pharmacy/internal/adapters/audit"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/adapters/cache"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/adapters/gateway"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/adapters/handler"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/adapters/notifier"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/adapters/postgres"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/adapters/storage"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/config"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/ports"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/core/service"
	"github.com/DanielPopoola/ficmart-pharmacy/internal/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := cfg.Logger.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting pharmacy service",
		"env", cfg.Primary.Env,
		"port", cfg.Server.Port,
		"log_level", cfg.Logger.Level,
	)

	ctx := context.Background()
	db, err := postgres.Connect(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := cache.NewRedisClient(ctx, &cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	amqpConn, err := notifier.Dial(&cfg.RabbitMQ, logger)
	if err != nil {
		logger.Error("failed to connect to rabbitmq", "error", err)
		os.Exit(1)
	}
	defer amqpConn.Close()

	queue, err := notifier.NewQueue(amqpConn, &cfg.RabbitMQ, logger)
	if err != nil {
		logger.Error("failed to declare notification queue", "error", err)
		os.Exit(1)
	}
	defer queue.Close()

	callbackLog, err := audit.Connect(ctx, &cfg.Mongo, logger)
	if err != nil {
		logger.Error("failed to connect to callback log", "error", err)
		os.Exit(1)
	}
	defer callbackLog.Close(context.Background())

	minioClient, err := storage.NewMinioClient(&cfg.Minio)
	if err != nil {
		logger.Error("failed to create minio client", "error", err)
		os.Exit(1)
	}
	prescriptionStore, err := storage.NewPrescriptionStore(ctx, minioClient, cfg.Minio.Bucket, logger)
	if err != nil {
		logger.Error("failed to prepare prescription bucket", "error", err)
		os.Exit(1)
	}

	repo := postgres.NewRepository(db)
	tokens := cache.NewTokenCache(rdb)
	mpesaCallback := strings.TrimRight(cfg.Server.PublicBaseURL, "/") + "/webhooks/mpesa"

	gateways := service.NewGateways(
		gateway.NewRetryGateway(gateway.NewMpesaGateway(cfg.Mpesa, mpesaCallback, tokens, logger), cfg.Retry),
		gateway.NewRetryGateway(gateway.NewPesapalGateway(cfg.Pesapal, tokens, logger), cfg.Retry),
		gateway.NewRetryGateway(gateway.NewPayPalGateway(cfg.PayPal, tokens, logger), cfg.Retry),
		gateway.NewRetryGateway(gateway.NewFlutterwaveGateway(cfg.Flutterwave), cfg.Retry),
		gateway.NewRetryGateway(gateway.NewCardGateway(cfg.Flutterwave), cfg.Retry),
	)

	trigger := service.NewNotificationTrigger(queue, logger)
	reconciler := service.NewReconcileService(repo, gateways, trigger, logger)
	checkout := service.NewCheckoutService(repo, gateways, cfg.Server.StorefrontURL, logger)
	prescriptions := service.NewPrescriptionService(repo, prescriptionStore, reconciler, logger)
	callbacks := service.NewCallbackService(gateways, reconciler, callbackLog, logger)
	queries := service.NewQueryService(repo)
	poller := service.NewStatusPoller(repo, cfg.Poll.Attempts, cfg.Poll.Interval, logger)

	h, err := handler.NewHandler(handler.Services{
		Checkout:      checkout,
		Queries:       queries,
		Poller:        poller,
		Reconciler:    reconciler,
		Prescriptions: prescriptions,
		Callbacks:     callbacks,
		CallbackLog:   callbackLog,
		Probes: map[string]handler.Probe{
			"postgres": db.Ping,
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
			"mongo":    callbackLog.Ping,
		},
	}, handler.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.AdminRole, logger), logger)
	if err != nil {
		logger.Error("failed to build http handler", "error", err)
		os.Exit(1)
	}

	router := h.Routes(handler.RouterConfig{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		WebhookRateLimit: cfg.Server.WebhookRateLimit,
		RequestTimeout:   cfg.Server.ReadTimeout,
	})

	// the status long-poll must be able to finish its window before the write deadline
	writeTimeout := cfg.Server.WriteTimeout
	if pollWindow := time.Duration(cfg.Poll.Attempts)*cfg.Poll.Interval + 10*time.Second; writeTimeout < pollWindow {
		writeTimeout = pollWindow
	}

	server := &http.Server{
		Addr:         "0.0.0.0:" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	senders := []notifier.ChannelSender{notifier.NewEmailSender(&cfg.Notification)}
	if cfg.Notification.SMSBaseURL != "" {
		senders = append(senders, notifier.NewSMSSender(&cfg.Notification))
	}
	var sender ports.NotificationSender = notifier.NewMultiSender(logger, senders...)

	paymentReconciler := worker.NewReconciler(
		repo,
		reconciler,
		cfg.Worker.Interval,
		cfg.Worker.BatchSize,
		cfg.Worker.StaleAfter,
		logger,
	)
	notificationWorker := worker.NewNotificationWorker(
		queue,
		sender,
		cfg.Worker.Interval,
		cfg.RabbitMQ.Prefetch,
		cfg.RabbitMQ.MaxAttempts,
		logger,
	)

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	var workers sync.WaitGroup
	workers.Go(func() { paymentReconciler.Start(workerCtx) })
	workers.Go(func() { notificationWorker.Start(workerCtx) })

	go func() {
		logger.Info("server starting", "addr", server.Addr, "write_timeout", writeTimeout)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	cancelWorkers()
	workers.Wait()

	logger.Info("server exited")
}
