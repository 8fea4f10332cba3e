package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/clinsys/capture-service/models"
	"github.com/clinsys/capture-service/pkg/metrics"
	"github.com/clinsys/capture-service/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// OutboxWorker redelivers reprocessing dispatches that previously failed to
// reach the capture routine. Entries live in Postgres so the retry state
// survives process restarts.
type OutboxWorker struct {
	outbox      repository.OutboxRepository
	sessions    repository.SessionRepository
	logs        repository.SessaoLogRepository
	dispatcher  Dispatcher
	logger      *logrus.Logger
	interval    time.Duration
	baseBackoff time.Duration
	maxAttempts int
}

func NewOutboxWorker(
	outbox repository.OutboxRepository,
	sessions repository.SessionRepository,
	logs repository.SessaoLogRepository,
	dispatcher Dispatcher,
	logger *logrus.Logger,
	interval, baseBackoff time.Duration,
	maxAttempts int,
) *OutboxWorker {
	return &OutboxWorker{
		outbox:      outbox,
		sessions:    sessions,
		logs:        logs,
		dispatcher:  dispatcher,
		logger:      logger,
		interval:    interval,
		baseBackoff: baseBackoff,
		maxAttempts: maxAttempts,
	}
}

// Run polls for due entries until ctx is cancelled.
func (w *OutboxWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.logger.WithField("interval", w.interval).Info("dispatch outbox worker started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Tick(ctx)
		}
	}
}

// Tick processes one batch of due entries.
func (w *OutboxWorker) Tick(ctx context.Context) {
	entries, err := w.outbox.Due(time.Now(), 50)
	if err != nil {
		w.logger.WithError(err).Error("outbox poll failed")
		return
	}
	for _, entry := range entries {
		w.deliver(ctx, entry)
	}
	if pending, err := w.outbox.CountPending(); err == nil {
		metrics.OutboxPending.Set(float64(pending))
	}
}

func (w *OutboxWorker) deliver(ctx context.Context, entry *models.OutboxEntry) {
	if entry.Kind != models.OutboxKindReprocess {
		w.abandon(entry, fmt.Sprintf("unknown outbox kind %q", entry.Kind))
		return
	}

	var params ReprocessParams
	if err := json.Unmarshal(entry.Payload, &params); err != nil {
		w.abandon(entry, "unreadable payload: "+err.Error())
		return
	}
	sessionID, err := uuid.Parse(params.SessaoID)
	if err != nil {
		w.abandon(entry, "bad sessao id: "+err.Error())
		return
	}
	executionID, err := uuid.Parse(params.ExecutionID)
	if err != nil {
		w.abandon(entry, "bad execution id: "+err.Error())
		return
	}

	// Re-arm only while the session is still erro under the same execution.
	// If the operator already queued a newer attempt this entry is obsolete.
	ok, err := w.sessions.RequeueExecution(sessionID, executionID)
	if err != nil {
		w.logger.WithError(err).WithField("sessao_id", sessionID).Error("outbox requeue failed")
		return
	}
	if !ok {
		w.logger.WithField("sessao_id", sessionID).Info("dropping obsolete outbox entry")
		if err := w.outbox.MarkDelivered(entry.ID); err != nil {
			w.logger.WithError(err).Error("failed to retire outbox entry")
		}
		return
	}

	if err := w.dispatcher.Reprocess(ctx, params); err != nil {
		// Put the session back where the operator can see it.
		if _, rerr := w.sessions.RevertToError(sessionID, executionID, CommunicationFailureMsg); rerr != nil {
			w.logger.WithError(rerr).WithField("sessao_id", sessionID).Error("failed to revert session after outbox failure")
		}
		w.retryOrAbandon(entry, sessionID, executionID, err)
		return
	}

	if err := w.outbox.MarkDelivered(entry.ID); err != nil {
		w.logger.WithError(err).Error("failed to mark outbox entry delivered")
	}
	w.appendLog(sessionID, executionID, models.LogStatusInfo, "reprocessamento reenviado pelo outbox")
	w.logger.WithFields(logrus.Fields{
		"sessao_id":    sessionID,
		"execution_id": executionID,
		"attempts":     entry.Attempts + 1,
	}).Info("outbox entry redelivered")
}

func (w *OutboxWorker) retryOrAbandon(entry *models.OutboxEntry, sessionID, executionID uuid.UUID, cause error) {
	attempts := entry.Attempts + 1
	if attempts >= w.maxAttempts {
		w.abandon(entry, cause.Error())
		w.appendLog(sessionID, executionID, models.LogStatusWarning, "reenvio automático abandonado; reprocessar manualmente")
		return
	}
	next := time.Now().Add(w.backoff(attempts))
	if err := w.outbox.Reschedule(entry.ID, attempts, next, cause.Error()); err != nil {
		w.logger.WithError(err).Error("failed to reschedule outbox entry")
	}
}

// backoff doubles per attempt starting from the base, capped at one hour.
func (w *OutboxWorker) backoff(attempts int) time.Duration {
	d := w.baseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= time.Hour {
			return time.Hour
		}
	}
	return d
}

func (w *OutboxWorker) abandon(entry *models.OutboxEntry, reason string) {
	w.logger.WithFields(logrus.Fields{"outbox_id": entry.ID, "reason": reason}).Warn("abandoning outbox entry")
	if err := w.outbox.Abandon(entry.ID, reason); err != nil {
		w.logger.WithError(err).Error("failed to abandon outbox entry")
	}
}

func (w *OutboxWorker) appendLog(sessionID, executionID uuid.UUID, status, mensagem string) {
	entry := &models.SessaoLog{
		SessaoID:    sessionID,
		ExecutionID: executionID,
		Status:      status,
		Mensagem:    mensagem,
	}
	if err := w.logs.Append(entry); err != nil {
		w.logger.WithError(err).WithField("sessao_id", sessionID).Error("failed to append session log")
	}
}
