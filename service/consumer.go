package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/clinsys/capture-service/models"
	"github.com/clinsys/capture-service/pkg/metrics"
	"github.com/google/uuid"
	kafka "github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// captureEvent mirrors the schema published by the capture robot.
type captureEvent struct {
	Type        string        `json:"type"` // task_started, session, task_completed, task_failed
	TaskID      string        `json:"task_id"`
	TotalGuides int           `json:"total_guides,omitempty"`
	Error       string        `json:"error,omitempty"`
	Session     *sessionEvent `json:"session,omitempty"`
}

type sessionEvent struct {
	// SessaoID and ExecutionID are set only on reprocessing outcomes.
	SessaoID    string `json:"sessao_id,omitempty"`
	ExecutionID string `json:"execution_id,omitempty"`

	NumeroGuia              string `json:"numero_guia"`
	DataExecucao            string `json:"data_execucao"`
	DataAtendimentoCompleta string `json:"data_atendimento_completa,omitempty"`
	PacienteNome            string `json:"paciente_nome,omitempty"`
	PacienteCarteirinha     string `json:"paciente_carteirinha,omitempty"`
	CodigoFicha             string `json:"codigo_ficha,omitempty"`
	ProfissionalExecutante  string `json:"profissional_executante,omitempty"`
	ConselhoProfissional    string `json:"conselho_profissional,omitempty"`
	NumeroConselho          string `json:"numero_conselho,omitempty"`
	UFConselho              string `json:"uf_conselho,omitempty"`
	CodigoCBO               string `json:"codigo_cbo,omitempty"`
	Origem                  string `json:"origem,omitempty"`

	Status string          `json:"status"` // sucesso | erro
	Error  string          `json:"error,omitempty"`
	Raw    json.RawMessage `json:"raw,omitempty"`
}

const (
	eventTaskStarted   = "task_started"
	eventSession       = "session"
	eventTaskCompleted = "task_completed"
	eventTaskFailed    = "task_failed"

	resolutionSucesso = "sucesso"
	resolutionErro    = "erro"
)

// ResultConsumer reads the robot's result stream and is the adapter that
// turns robot events into Task Registry and Session Ledger callbacks.
type ResultConsumer struct {
	reader  *kafka.Reader
	tasks   TaskService
	ledger  LedgerService
	archive SnapshotArchive
	logger  *logrus.Logger
}

func NewResultConsumer(brokers []string, topic, groupID string, tasks TaskService, ledger LedgerService, archive SnapshotArchive, logger *logrus.Logger) *ResultConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10 << 20,
	})
	return &ResultConsumer{reader: reader, tasks: tasks, ledger: ledger, archive: archive, logger: logger}
}

// Run blocks consuming result messages until ctx is cancelled. Malformed or
// unprocessable messages are logged and committed; redelivery cannot fix them
// and the upsert path is idempotent anyway.
func (c *ResultConsumer) Run(ctx context.Context) {
	defer c.reader.Close()
	c.logger.WithField("topic", c.reader.Config().Topic).Info("result consumer started")

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.WithError(err).Error("kafka fetch failed")
			time.Sleep(time.Second)
			continue
		}

		if err := c.handle(msg.Value); err != nil {
			metrics.KafkaMessagesTotal.WithLabelValues("capture-service", c.reader.Config().Topic, "error").Inc()
			c.logger.WithError(err).Error("result event handling failed")
		} else {
			metrics.KafkaMessagesTotal.WithLabelValues("capture-service", c.reader.Config().Topic, "ok").Inc()
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.WithError(err).Error("kafka commit failed")
		}
	}
}

func (c *ResultConsumer) handle(value []byte) error {
	var event captureEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return fmt.Errorf("bad event json: %w", err)
	}

	taskID, err := uuid.Parse(event.TaskID)
	if err != nil && event.Type != eventSession {
		return fmt.Errorf("bad task id %q: %w", event.TaskID, err)
	}

	switch event.Type {
	case eventTaskStarted:
		return c.tasks.MarkCapturing(taskID, event.TotalGuides)
	case eventTaskCompleted:
		return c.tasks.Complete(taskID)
	case eventTaskFailed:
		msg := event.Error
		if msg == "" {
			msg = "capture routine reported failure"
		}
		return c.tasks.Fail(taskID, msg)
	case eventSession:
		if event.Session == nil {
			return fmt.Errorf("session event without session payload")
		}
		if event.Session.SessaoID != "" {
			return c.handleReprocessOutcome(event.Session)
		}
		return c.handleCapturedSession(event.TaskID, event.Session)
	default:
		return fmt.Errorf("unknown event type %q", event.Type)
	}
}

// handleCapturedSession upserts one streamed guide and resolves it, then
// advances the owning task's counters. A failed session never fails the task.
func (c *ResultConsumer) handleCapturedSession(taskID string, ev *sessionEvent) error {
	owner, err := uuid.Parse(taskID)
	if err != nil {
		return fmt.Errorf("bad task id %q: %w", taskID, err)
	}

	sess, err := c.ledger.UpsertFromCapture(CaptureData{
		TaskID:                  owner,
		NumeroGuia:              ev.NumeroGuia,
		DataExecucao:            ev.DataExecucao,
		DataAtendimentoCompleta: ev.DataAtendimentoCompleta,
		PacienteNome:            ev.PacienteNome,
		PacienteCarteirinha:     ev.PacienteCarteirinha,
		CodigoFicha:             ev.CodigoFicha,
		ProfissionalExecutante:  ev.ProfissionalExecutante,
		ConselhoProfissional:    ev.ConselhoProfissional,
		NumeroConselho:          ev.NumeroConselho,
		UFConselho:              ev.UFConselho,
		CodigoCBO:               ev.CodigoCBO,
		Origem:                  ev.Origem,
	})
	if err != nil {
		return err
	}

	detalhes := c.archiveSnapshot(sess, ev.Raw)

	switch ev.Status {
	case resolutionSucesso:
		if err := c.ledger.MarkProcessed(sess.ID, detalhes); err != nil {
			return err
		}
		metrics.GuidesCaptured.WithLabelValues(models.SessionStatusProcessado).Inc()
		return c.tasks.RecordProgress(owner, 1, 0, 0)
	case resolutionErro:
		msg := ev.Error
		if msg == "" {
			msg = "falha na captura da guia"
		}
		if err := c.ledger.MarkError(sess.ID, msg, detalhes); err != nil {
			return err
		}
		metrics.GuidesCaptured.WithLabelValues(models.SessionStatusErro).Inc()
		return c.tasks.RecordProgress(owner, 0, 1, 0)
	default:
		return fmt.Errorf("unknown session resolution %q", ev.Status)
	}
}

// handleReprocessOutcome resolves a single reprocessed session. Task counters
// stay untouched: the run that owned the session already accounted for it.
func (c *ResultConsumer) handleReprocessOutcome(ev *sessionEvent) error {
	sessionID, err := uuid.Parse(ev.SessaoID)
	if err != nil {
		return fmt.Errorf("bad sessao id %q: %w", ev.SessaoID, err)
	}

	sess, err := c.ledger.GetByID(sessionID)
	if err != nil {
		return err
	}
	if ev.ExecutionID != "" && ev.ExecutionID != sess.ExecutionID.String() {
		// Outcome of a superseded attempt; the newer execution owns the row.
		c.logger.WithFields(logrus.Fields{
			"sessao_id":    sessionID,
			"execution_id": ev.ExecutionID,
		}).Warn("dropping stale reprocess outcome")
		return nil
	}

	detalhes := c.archiveSnapshot(sess, ev.Raw)

	switch ev.Status {
	case resolutionSucesso:
		return c.ledger.MarkProcessed(sessionID, detalhes)
	case resolutionErro:
		msg := ev.Error
		if msg == "" {
			msg = "falha no reprocessamento da guia"
		}
		return c.ledger.MarkError(sessionID, msg, detalhes)
	default:
		return fmt.Errorf("unknown session resolution %q", ev.Status)
	}
}

// archiveSnapshot stores the raw robot payload for forensics and returns the
// detalhes blob for the resolution log. Archive failures only cost the
// snapshot reference.
func (c *ResultConsumer) archiveSnapshot(sess *models.CapturedSession, raw json.RawMessage) datatypes.JSON {
	if len(raw) == 0 {
		return nil
	}
	detalhes := map[string]interface{}{}
	if c.archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		object, err := c.archive.Store(ctx, sess.TaskID, sess.ExecutionID, raw)
		cancel()
		if err != nil {
			c.logger.WithError(err).WithField("sessao_id", sess.ID).Warn("snapshot archive failed")
		} else {
			detalhes["snapshot"] = object
		}
	}
	detalhes["raw"] = raw
	out, err := json.Marshal(detalhes)
	if err != nil {
		return nil
	}
	return out
}
