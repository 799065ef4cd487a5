package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nimasrn/transaction-guard/internal/config"
	"github.com/nimasrn/transaction-guard/internal/notifier"
	"github.com/nimasrn/transaction-guard/internal/processor"
	"github.com/nimasrn/transaction-guard/internal/repository"
	"github.com/nimasrn/transaction-guard/pkg/gcs"
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
	logger.Info("starting processor", "version", version, "commit", commit, "date", date)

	db, err := pg.CreateReadWrite(cfg.PostgresRead(), cfg.PostgresWrite(), cfg.AppEnv == "dev")
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}
	defer db.Close()

	redisAdap, err := redis.NewRedisAdapter("default", cfg.RedisUniversalKeyPrefix, cfg.RedisOptions("processor"))
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	bucket, err := gcs.NewBucket(context.Background(), cfg.Gcs())
	if err != nil {
		logger.Error("failed creating gcs client", "error", err)
		return
	}
	defer bucket.Close()

	var mailer processor.Notifier = notifier.LogNotifier{}
	if mailConf, ok := cfg.Notifier(); ok {
		client, err := notifier.NewClient(mailConf)
		if err != nil {
			logger.Error("failed to create mail client", "error", err)
			return
		}
		defer client.Close()
		mailer = client
	} else {
		logger.Warn("no mail relay configured, notifications are only logged")
	}

	idempotencyService := processor.NewIdempotencyService(redisAdap, processor.DefaultIdempotencyConfig())
	ingestion := processor.NewIngestionProcessor(bucket, repository.NewTransactionRepository(db), mailer, idempotencyService, cfg.MailFrom)

	service, err := processor.NewProcessorService(redisAdap, ingestion, processor.ServiceConfig{
		Queue:      cfg.Queue(),
		Consumers:  cfg.ProcessorConsumers,
		Workers:    cfg.ProcessorWorkers,
		JobTimeout: cfg.ProcessorJobTimeout,
	})
	if err != nil {
		logger.Error("failed to create the processor", "error", err)
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

	if err := service.Start(); err != nil {
		logger.Error("failed to start processor", "error", err)
		service.Stop()
		return
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	service.Stop()
}
