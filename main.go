package main

import (
	"context"
	"log"
	"strings"

	"github.com/clinsys/capture-service/config"
	"github.com/clinsys/capture-service/database"
	"github.com/clinsys/capture-service/handler"
	"github.com/clinsys/capture-service/pkg/metrics"
	"github.com/clinsys/capture-service/repository"
	"github.com/clinsys/capture-service/router"
	"github.com/clinsys/capture-service/service"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(logrus.InfoLevel)

	cfg := config.LoadConfig()

	metrics.StartMetricsServer(cfg.Server.MetricsPort)
	logger.Infof("Prometheus metrics server started on :%s", cfg.Server.MetricsPort)

	db := database.InitDB(cfg)

	taskRepo := repository.NewTaskRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	logRepo := repository.NewSessaoLogRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)

	brokers := splitBrokers(cfg.Kafka.Brokers)
	dispatcher := service.NewKafkaDispatcher(brokers, cfg.Kafka.JobsTopic, cfg.Kafka.ReprocessTopic, logger)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	locker := service.NewRedisSessionLocker(redisClient, cfg.Reprocess.LockTTL)

	var archive service.SnapshotArchive
	if cfg.MinIO.Endpoint != "" {
		minioArchive, err := service.NewMinioSnapshotArchive(cfg.MinIO)
		if err != nil {
			log.Fatalf("failed to create snapshot archive: %v", err)
		}
		archive = minioArchive
	} else {
		logger.Warn("snapshot archive disabled (missing MinIO config)")
	}

	taskService := service.NewTaskService(taskRepo, dispatcher, logger)
	ledgerService := service.NewLedgerService(sessionRepo, logRepo, logger)
	reprocessService := service.NewReprocessService(
		ledgerService, sessionRepo, logRepo, outboxRepo,
		dispatcher, locker, logger,
		cfg.Reprocess.DispatchTimeout, cfg.Reprocess.OutboxBaseBackoff,
	)

	ctx := context.Background()

	consumer := service.NewResultConsumer(brokers, cfg.Kafka.ResultsTopic, cfg.Kafka.GroupID, taskService, ledgerService, archive, logger)
	go consumer.Run(ctx)

	outboxWorker := service.NewOutboxWorker(
		outboxRepo, sessionRepo, logRepo, dispatcher, logger,
		cfg.Reprocess.OutboxPollInterval, cfg.Reprocess.OutboxBaseBackoff, cfg.Reprocess.OutboxMaxAttempts,
	)
	go outboxWorker.Run(ctx)

	taskHandler := handler.NewTaskHandler(taskService, logger)
	sessionHandler := handler.NewSessionHandler(ledgerService, reprocessService, logRepo, archive, logger)

	r := router.Setup(taskHandler, sessionHandler)
	logger.Infof("capture-service HTTP server listening on :%s", cfg.Server.Port)
	if err := r.Run(":" + cfg.Server.Port); err != nil {
		log.Fatalf("serve error: %v", err)
	}
}

func splitBrokers(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
