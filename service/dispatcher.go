package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/clinsys/capture-service/pkg/metrics"
	kafka "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// LaunchParams is the message handed to the capture routine when a task is
// dispatched.
type LaunchParams struct {
	TaskID    string `json:"task_id"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	MaxGuides int    `json:"max_guides"`
}

// ReprocessParams is the message handed to the capture routine to re-attempt
// a single failed session.
type ReprocessParams struct {
	SessaoID     string `json:"sessao_id"`
	ExecutionID  string `json:"execution_id"`
	TaskID       string `json:"task_id"`
	NumeroGuia   string `json:"numero_guia"`
	DataExecucao string `json:"data_execucao"`
	CodigoFicha  string `json:"codigo_ficha"`
}

// Dispatcher is the boundary to the external capture routine. It only knows
// whether the launch message went out; the scrape outcome comes back later
// through the result consumer.
type Dispatcher interface {
	Launch(ctx context.Context, params LaunchParams) error
	Reprocess(ctx context.Context, params ReprocessParams) error
}

// KafkaDispatcher publishes launch and reprocess jobs to the topics the
// capture robot consumes.
type KafkaDispatcher struct {
	jobs      *kafka.Writer
	reprocess *kafka.Writer
	logger    *logrus.Logger
}

func NewKafkaDispatcher(brokers []string, jobsTopic, reprocessTopic string, logger *logrus.Logger) *KafkaDispatcher {
	return &KafkaDispatcher{
		jobs: kafka.NewWriter(kafka.WriterConfig{
			Brokers:  brokers,
			Topic:    jobsTopic,
			Balancer: &kafka.LeastBytes{},
		}),
		reprocess: kafka.NewWriter(kafka.WriterConfig{
			Brokers:  brokers,
			Topic:    reprocessTopic,
			Balancer: &kafka.LeastBytes{},
		}),
		logger: logger,
	}
}

func (d *KafkaDispatcher) Launch(ctx context.Context, params LaunchParams) error {
	return d.publish(ctx, d.jobs, params.TaskID, params)
}

func (d *KafkaDispatcher) Reprocess(ctx context.Context, params ReprocessParams) error {
	return d.publish(ctx, d.reprocess, params.SessaoID, params)
}

func (d *KafkaDispatcher) publish(ctx context.Context, w *kafka.Writer, key string, payload interface{}) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal dispatch payload: %w", err)
	}
	err = w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		metrics.KafkaMessagesTotal.WithLabelValues("capture-service", w.Topic, "error").Inc()
		d.logger.WithError(err).WithField("topic", w.Topic).Error("kafka publish failed")
		return err
	}
	metrics.KafkaMessagesTotal.WithLabelValues("capture-service", w.Topic, "ok").Inc()
	return nil
}

// Close flushes and closes both writers.
func (d *KafkaDispatcher) Close() error {
	if err := d.jobs.Close(); err != nil {
		return err
	}
	return d.reprocess.Close()
}
