package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/getsluice/sluice/pkg/app/admission"
	"github.com/getsluice/sluice/pkg/config"
	handlers "github.com/getsluice/sluice/pkg/handlers/http"
	"github.com/getsluice/sluice/pkg/infra/backend"
	"github.com/getsluice/sluice/pkg/infra/breaker"
	infraLogger "github.com/getsluice/sluice/pkg/infra/logger"
	"github.com/getsluice/sluice/pkg/infra/limiter"
	"github.com/getsluice/sluice/pkg/infra/queue"
	"github.com/getsluice/sluice/pkg/infra/store"
	"github.com/getsluice/sluice/pkg/server"
)

func main() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Println("no .env file found, using system environment variables")
	}

	logger := infraLogger.NewLogger()

	if err := config.Load("./config"); err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	cfg := config.GetConfig()

	storeClient, err := store.NewClient(store.Config{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TLS:      cfg.Redis.TLS,
	}, logger)
	if err != nil {
		logger.Fatalf("failed to initialize shared store: %v", err)
	}
	defer storeClient.Close()

	bucket := limiter.NewTokenBucket(
		storeClient.RedisClient(),
		logger,
		cfg.Limiter.Key,
		cfg.Limiter.Capacity,
		cfg.Limiter.FillRate,
		nil,
	)
	deferralQueue := queue.NewDeferralQueue(
		storeClient.RedisClient(),
		cfg.Queue.Name,
		cfg.Queue.MaxLength,
		nil,
	)
	invoker := newInvoker(cfg)

	// the coordinator and each worker sense backend health independently
	coordinator := admission.NewCoordinator(
		logger, bucket, deferralQueue,
		newBreaker("admission", cfg), invoker,
	)

	handlerTransport := handlers.HandlerTransport{
		AdmitHandler:  handlers.NewAdmitHandler(logger, coordinator),
		StatusHandler: handlers.NewStatusHandler(logger, coordinator),
	}

	srv := server.NewAdmissionServer(server.AdmissionServerDI{
		HandlerTransport: handlerTransport,
		Config:           cfg,
		Logger:           logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return srv.Run()
	})

	for i := 0; i < cfg.Worker.Count; i++ {
		worker := admission.NewRequeueWorker(
			logger, bucket, deferralQueue,
			newBreaker(fmt.Sprintf("worker-%d", i), cfg), invoker,
			cfg.Worker.PollTimeout,
			cfg.Worker.RetryPause,
			cfg.Worker.MaxAttempts,
		)
		group.Go(func() error {
			return worker.Run(groupCtx)
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down admission server")
		return srv.Shutdown()
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).Error("service exited with error")
		os.Exit(1)
	}
	logger.Info("service stopped")
}

func newBreaker(name string, cfg *config.Config) *breaker.CircuitBreaker {
	return breaker.NewCircuitBreaker(breaker.Settings{
		Name:             name,
		FailureThreshold: cfg.Breaker.FailureThreshold,
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
	}, nil)
}

func newInvoker(cfg *config.Config) backend.Invoker {
	if cfg.Backend.Mode == "mock" {
		return backend.NewFlakyInvoker(cfg.Backend.FailureRate, cfg.Backend.Latency)
	}
	return backend.NewHTTPInvoker(cfg.Backend.URL, cfg.Backend.Timeout)
}
