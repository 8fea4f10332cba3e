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

// CommunicationFailureMsg is the ledger error recorded when the external
// reprocessing call cannot be reached.
const CommunicationFailureMsg = "communication failure with reprocessing service"

// ReprocessResult is returned immediately after the attempt is queued.
type ReprocessResult struct {
	SessaoID    uuid.UUID `json:"sessao_id"`
	ExecutionID uuid.UUID `json:"execution_id"`
}

type ReprocessService interface {
	// Reprocess re-arms a single erro session for another attempt and
	// queues the external call without waiting for it.
	Reprocess(ctx context.Context, sessionID uuid.UUID) (*ReprocessResult, error)
}

type ReprocessServiceImpl struct {
	ledger          LedgerService
	sessions        repository.SessionRepository
	logs            repository.SessaoLogRepository
	outbox          repository.OutboxRepository
	dispatcher      Dispatcher
	locker          SessionLocker
	logger          *logrus.Logger
	dispatchTimeout time.Duration
	outboxBackoff   time.Duration
}

func NewReprocessService(
	ledger LedgerService,
	sessions repository.SessionRepository,
	logs repository.SessaoLogRepository,
	outbox repository.OutboxRepository,
	dispatcher Dispatcher,
	locker SessionLocker,
	logger *logrus.Logger,
	dispatchTimeout time.Duration,
	outboxBackoff time.Duration,
) ReprocessService {
	return &ReprocessServiceImpl{
		ledger:          ledger,
		sessions:        sessions,
		logs:            logs,
		outbox:          outbox,
		dispatcher:      dispatcher,
		locker:          locker,
		logger:          logger,
		dispatchTimeout: dispatchTimeout,
		outboxBackoff:   outboxBackoff,
	}
}

func (s *ReprocessServiceImpl) Reprocess(ctx context.Context, sessionID uuid.UUID) (*ReprocessResult, error) {
	sess, err := s.ledger.GetByID(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != models.SessionStatusErro {
		return nil, fmt.Errorf("%w: only sessions in error state may be reprocessed", ErrInvalidState)
	}

	acquired, err := s.locker.Acquire(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("acquire reprocess lock: %w", err)
	}
	if !acquired {
		metrics.ReprocessAttempts.WithLabelValues("conflict").Inc()
		return nil, fmt.Errorf("%w: session %s", ErrConflict, sessionID)
	}

	// A fresh execution id for every attempt, never reused.
	executionID := uuid.New()
	ok, err := s.sessions.Requeue(sessionID, executionID)
	if err != nil {
		s.release(sessionID)
		return nil, fmt.Errorf("requeue session: %w", err)
	}
	if !ok {
		// The session left erro between the read and the update.
		s.release(sessionID)
		return nil, fmt.Errorf("%w: only sessions in error state may be reprocessed", ErrInvalidState)
	}

	s.appendLog(sessionID, executionID, models.LogStatusInfo, "sessão enfileirada para reprocessamento", map[string]interface{}{
		"numero_guia":   sess.NumeroGuia,
		"data_execucao": sess.DataExecucao,
	})

	params := ReprocessParams{
		SessaoID:     sessionID.String(),
		ExecutionID:  executionID.String(),
		TaskID:       sess.TaskID.String(),
		NumeroGuia:   sess.NumeroGuia,
		DataExecucao: sess.DataExecucao,
		CodigoFicha:  sess.CodigoFicha,
	}
	go s.dispatch(sessionID, executionID, params)

	metrics.ReprocessAttempts.WithLabelValues("queued").Inc()
	s.logger.WithFields(logrus.Fields{
		"sessao_id":    sessionID,
		"execution_id": executionID,
	}).Info("session queued for reprocessing")

	return &ReprocessResult{SessaoID: sessionID, ExecutionID: executionID}, nil
}

// dispatch performs the external call off the request path. Whatever happens
// the session is left either pendente (call delivered, outcome to follow) or
// erro with a trail — never parked without forward progress.
func (s *ReprocessServiceImpl) dispatch(sessionID, executionID uuid.UUID, params ReprocessParams) {
	defer s.release(sessionID)

	ctx, cancel := context.WithTimeout(context.Background(), s.dispatchTimeout)
	defer cancel()

	err := s.dispatcher.Reprocess(ctx, params)
	if err == nil {
		return
	}

	s.logger.WithError(err).WithFields(logrus.Fields{
		"sessao_id":    sessionID,
		"execution_id": executionID,
	}).Error("reprocess dispatch failed")
	metrics.ReprocessAttempts.WithLabelValues("dispatch_error").Inc()

	if _, rerr := s.sessions.RevertToError(sessionID, executionID, CommunicationFailureMsg); rerr != nil {
		s.logger.WithError(rerr).WithField("sessao_id", sessionID).Error("failed to revert session after dispatch failure")
	}
	s.appendLog(sessionID, executionID, models.LogStatusErro, CommunicationFailureMsg, map[string]interface{}{
		"detail": err.Error(),
	})
	s.enqueueRetry(sessionID, params)
}

func (s *ReprocessServiceImpl) enqueueRetry(sessionID uuid.UUID, params ReprocessParams) {
	payload, err := json.Marshal(params)
	if err != nil {
		s.logger.WithError(err).WithField("sessao_id", sessionID).Error("failed to marshal outbox payload")
		return
	}
	entry := &models.OutboxEntry{
		Kind:          models.OutboxKindReprocess,
		Payload:       payload,
		Status:        models.OutboxStatusPendente,
		NextAttemptAt: time.Now().Add(s.outboxBackoff),
	}
	if err := s.outbox.Create(entry); err != nil {
		s.logger.WithError(err).WithField("sessao_id", sessionID).Error("failed to enqueue outbox retry")
	}
}

func (s *ReprocessServiceImpl) release(sessionID uuid.UUID) {
	if err := s.locker.Release(context.Background(), sessionID); err != nil {
		s.logger.WithError(err).WithField("sessao_id", sessionID).Warn("failed to release reprocess lock")
	}
}

func (s *ReprocessServiceImpl) appendLog(sessionID, executionID uuid.UUID, status, mensagem string, detalhes map[string]interface{}) {
	var raw []byte
	if detalhes != nil {
		raw, _ = json.Marshal(detalhes)
	}
	entry := &models.SessaoLog{
		SessaoID:    sessionID,
		ExecutionID: executionID,
		Status:      status,
		Mensagem:    mensagem,
		Detalhes:    raw,
	}
	if err := s.logs.Append(entry); err != nil {
		s.logger.WithError(err).WithField("sessao_id", sessionID).Error("failed to append session log")
	}
}
