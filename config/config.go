package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Kafka     KafkaConfig
	Redis     RedisConfig
	MinIO     MinIOConfig
	Reprocess ReprocessConfig
}

type DatabaseConfig struct {
	DBUser     string
	DBPassword string
	DBHost     string
	DBPort     string
	DBName     string
}

type ServerConfig struct {
	Port        string
	MetricsPort string
}

type KafkaConfig struct {
	Brokers        string
	JobsTopic      string
	ReprocessTopic string
	ResultsTopic   string
	GroupID        string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	BucketName      string
}

type ReprocessConfig struct {
	LockTTL            time.Duration
	DispatchTimeout    time.Duration
	OutboxPollInterval time.Duration
	OutboxBaseBackoff  time.Duration
	OutboxMaxAttempts  int
}

func LoadConfig() *Config {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found, using system env")
	}

	return &Config{
		Database: DatabaseConfig{
			DBUser:     getEnv("DB_USER", "postgres"),
			DBPassword: getEnv("DB_PASSWORD", "password"),
			DBHost:     getEnv("DB_HOST", "localhost"),
			DBPort:     getEnv("DB_PORT", "5432"),
			DBName:     getEnv("DB_NAME", "capturedb"),
		},
		Server: ServerConfig{
			Port:        getEnv("HTTP_PORT", "8080"),
			MetricsPort: getEnv("METRICS_PORT", "2112"),
		},
		Kafka: KafkaConfig{
			Brokers:        getEnv("KAFKA_BROKERS", "localhost:9092"),
			JobsTopic:      getEnv("KAFKA_JOBS_TOPIC", "capture.jobs"),
			ReprocessTopic: getEnv("KAFKA_REPROCESS_TOPIC", "capture.reprocess"),
			ResultsTopic:   getEnv("KAFKA_RESULTS_TOPIC", "capture.results"),
			GroupID:        getEnv("KAFKA_GROUP_ID", "capture-service"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		MinIO: MinIOConfig{
			Endpoint:        getEnv("MINIO_ENDPOINT", ""),
			AccessKeyID:     getEnv("MINIO_ACCESS_KEY", ""),
			SecretAccessKey: getEnv("MINIO_SECRET_KEY", ""),
			UseSSL:          false,
			BucketName:      getEnv("MINIO_BUCKET_NAME", "capture-snapshots"),
		},
		Reprocess: ReprocessConfig{
			LockTTL:            getEnvDuration("REPROCESS_LOCK_TTL", 5*time.Minute),
			DispatchTimeout:    getEnvDuration("REPROCESS_DISPATCH_TIMEOUT", 30*time.Second),
			OutboxPollInterval: getEnvDuration("OUTBOX_POLL_INTERVAL", 15*time.Second),
			OutboxBaseBackoff:  getEnvDuration("OUTBOX_BASE_BACKOFF", 30*time.Second),
			OutboxMaxAttempts:  getEnvInt("OUTBOX_MAX_ATTEMPTS", 5),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
