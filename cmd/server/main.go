package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"neobank/internal/config"
	"neobank/internal/handler"
	"neobank/internal/infrastructure/cache"
	"neobank/internal/infrastructure/database"
	"neobank/internal/infrastructure/lock"
	"neobank/internal/infrastructure/logger"
	"neobank/internal/infrastructure/mq"
	"neobank/internal/job"
	"neobank/internal/notify"
	"neobank/internal/repository"
	"neobank/internal/service"
	"neobank/pkg/idgen"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the config file")
	workerID := flag.Int64("worker-id", 1, "snowflake worker id of this instance")
	flag.Parse()

	cfg := config.LoadConfig(*configPath)
	log := logger.New(&cfg.Log)

	if err := idgen.Init(*workerID); err != nil {
		log.WithError(err).Fatal("failed to init id generator")
	}

	db := database.InitDatabase(&cfg.Database, log)

	// Redis account locks are optional; the database guards hold without them.
	var locker lock.AccountLocker = lock.NoopLocker{}
	redisClient, err := cache.InitRedis(&cfg.Redis)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to redis")
	}
	if redisClient != nil {
		defer redisClient.Close()
		locker = lock.NewRedisAccountLocker(redisClient, cfg.Ledger.LockTTL, cfg.Ledger.LockRetryInterval, cfg.Ledger.LockMaxRetries)
		log.Info("redis account locks enabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// outbox: topics without a publisher are not written at all
	outboxSender := job.NewOutboxSender(db, &cfg.Jobs, log)
	var topics service.EventTopics

	if cfg.Kafka.Enabled {
		producer, err := mq.NewProducer(&cfg.Kafka)
		if err != nil {
			log.WithError(err).Fatal("failed to connect to kafka")
		}
		kafkaPublisher := mq.NewKafkaPublisher(producer)
		defer kafkaPublisher.Close()

		topics.LedgerEvents = cfg.Kafka.Topic.LedgerEvents
		outboxSender.Register(topics.LedgerEvents, kafkaPublisher)
		log.WithField("brokers", cfg.Kafka.Brokers).Info("kafka publisher enabled")
	}

	if cfg.Notify.Enabled {
		topics.Notifications = cfg.Kafka.Topic.Notifications
		outboxSender.Register(topics.Notifications, notify.NewEmailNotifier(&cfg.Notify, log))
		log.WithField("smtp_host", cfg.Notify.SMTPHost).Info("email notifications enabled")
	}

	if topics.LedgerEvents != "" || topics.Notifications != "" {
		go outboxSender.Start(ctx)
	}

	reconcileJob := job.NewReconcileJob(db, &cfg.Jobs, log)
	if err := reconcileJob.Start(ctx); err != nil {
		log.WithError(err).Fatal("failed to start reconcile job")
	}

	authService := service.NewAuthService(repository.NewAccountRepository(db), &cfg.Auth, log)
	transferService, err := service.NewTransferService(db, locker, &cfg.Ledger, topics, log)
	if err != nil {
		log.WithError(err).Fatal("failed to create transfer service")
	}

	h := handler.NewHandler(authService, transferService, &cfg.Ledger, db, log)
	router := handler.SetupRouter(h, log, cfg.Server.Mode)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.WithField("port", cfg.Server.Port).Info("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	// stop accepting requests first, then the background jobs
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown failed")
	}

	outboxSender.Stop()
	reconcileJob.Stop()
	cancel()

	log.Info("server stopped")
}
