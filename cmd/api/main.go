package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nimasrn/transaction-guard/internal/config"
	"github.com/nimasrn/transaction-guard/internal/fraud"
	"github.com/nimasrn/transaction-guard/internal/handlers"
	"github.com/nimasrn/transaction-guard/internal/queue"
	"github.com/nimasrn/transaction-guard/internal/repository"
	"github.com/nimasrn/transaction-guard/internal/services"
	"github.com/nimasrn/transaction-guard/pkg/gcs"
	xhttp "github.com/nimasrn/transaction-guard/pkg/http"
	"github.com/nimasrn/transaction-guard/pkg/logger"
	"github.com/nimasrn/transaction-guard/pkg/pg"
	"github.com/nimasrn/transaction-guard/pkg/prom"
	"github.com/nimasrn/transaction-guard/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	defer logger.Sync()

	err := config.Load(config.EnvPathFromArgs(os.Args))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}
	cfg := config.Get()
	logger.Info("starting api", "version", version, "commit", commit, "date", date)

	// transport (tcp for now)
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Use(xhttp.RecoverMiddleware)
	s.Use(xhttp.RequestIDMiddleware)
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.TimeoutMiddleware(time.Second * 30))
	s.Use(xhttp.CompressMiddleware(6))

	db, err := pg.CreateReadWrite(cfg.PostgresRead(), cfg.PostgresWrite(), cfg.AppEnv == "dev")
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}
	defer db.Close()

	redisAdap, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, cfg.RedisOptions("api"))
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	ctx := context.Background()
	bucket, err := gcs.NewBucket(ctx, cfg.Gcs())
	if err != nil {
		logger.Error("failed creating gcs client", "error", err)
		return
	}
	defer bucket.Close()

	q, err := queue.NewQueue(redisAdap, cfg.Queue())
	if err != nil {
		logger.Error("failed creating queue", "error", err)
		return
	}

	fraudConf, err := cfg.Fraud()
	if err != nil {
		logger.Error("invalid fraud configuration", "error", err)
		return
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	if err := prom.Create(hostname, cfg.AppEnv, cfg.PromNamespace); err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}
	go func() {
		if err := prom.ListenAndServe(cfg.PromListenAddr, "/metrics"); err != nil {
			logger.Error("metrics server stopped", "error", err)
		}
	}()

	transactionRepo := repository.NewTransactionRepository(db)

	// services
	uploadService := services.NewUploadService(bucket, q, int64(cfg.UploadMaxBytes), cfg.NotifyDefaultEmail)
	transactionService := services.NewTransactionService(transactionRepo, fraud.NewEngine(transactionRepo, fraudConf))
	healthService := services.NewHealthService(map[string]services.Pinger{
		"postgres": db,
		"redis":    redisAdap,
		"gcs":      bucket,
	})

	handlers.RegisterTransactionRoutes(s.Router, handlers.NewTransactionHandler(uploadService, transactionService))
	handlers.RegisterHealthRoutes(s.Router, handlers.NewHealthHandler(healthService))

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		var err = s.ListenAndServe(cfg.HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	<-c
	s.Shutdown()
}
