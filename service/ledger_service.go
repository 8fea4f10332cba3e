package service

import (
	"errors"
	"fmt"

	"github.com/clinsys/capture-service/models"
	"github.com/clinsys/capture-service/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// CaptureData is one guide as streamed by the capture routine.
type CaptureData struct {
	TaskID                  uuid.UUID
	NumeroGuia              string
	DataExecucao            string
	DataAtendimentoCompleta string
	PacienteNome            string
	PacienteCarteirinha     string
	CodigoFicha             string
	ProfissionalExecutante  string
	ConselhoProfissional    string
	NumeroConselho          string
	UFConselho              string
	CodigoCBO               string
	Origem                  string
}

type LedgerService interface {
	// UpsertFromCapture records a captured guide, idempotently under
	// at-least-once delivery. First insert lands in pendente with a fresh
	// execution id; a replay refreshes the captured fields only.
	UpsertFromCapture(data CaptureData) (*models.CapturedSession, error)
	MarkProcessed(sessionID uuid.UUID, detalhes datatypes.JSON) error
	MarkError(sessionID uuid.UUID, errMsg string, detalhes datatypes.JSON) error
	GetByID(sessionID uuid.UUID) (*models.CapturedSession, error)
	List(status, search string, page, pageSize int) ([]*models.CapturedSession, int64, error)
}

type LedgerServiceImpl struct {
	sessions repository.SessionRepository
	logs     repository.SessaoLogRepository
	logger   *logrus.Logger
}

func NewLedgerService(sessions repository.SessionRepository, logs repository.SessaoLogRepository, logger *logrus.Logger) LedgerService {
	return &LedgerServiceImpl{sessions: sessions, logs: logs, logger: logger}
}

func (s *LedgerServiceImpl) UpsertFromCapture(data CaptureData) (*models.CapturedSession, error) {
	if data.NumeroGuia == "" || data.DataExecucao == "" {
		return nil, fmt.Errorf("%w: numero_guia and data_execucao are required", ErrValidation)
	}

	sess := &models.CapturedSession{
		TaskID:                  data.TaskID,
		NumeroGuia:              data.NumeroGuia,
		DataExecucao:            data.DataExecucao,
		DataAtendimentoCompleta: data.DataAtendimentoCompleta,
		PacienteNome:            data.PacienteNome,
		PacienteCarteirinha:     data.PacienteCarteirinha,
		CodigoFicha:             data.CodigoFicha,
		ProfissionalExecutante:  data.ProfissionalExecutante,
		ConselhoProfissional:    data.ConselhoProfissional,
		NumeroConselho:          data.NumeroConselho,
		UFConselho:              data.UFConselho,
		CodigoCBO:               data.CodigoCBO,
		Origem:                  data.Origem,
		Status:                  models.SessionStatusPendente,
		ExecutionID:             uuid.New(),
	}
	if err := s.sessions.Upsert(sess); err != nil {
		return nil, fmt.Errorf("upsert session: %w", err)
	}

	// Reload by the natural key: on a replay the conflict clause kept the
	// existing row, whose id and execution id differ from the candidate's.
	stored, err := s.sessions.GetByNaturalKey(data.NumeroGuia, data.DataExecucao)
	if err != nil {
		return nil, fmt.Errorf("reload session: %w", err)
	}
	return stored, nil
}

func (s *LedgerServiceImpl) MarkProcessed(sessionID uuid.UUID, detalhes datatypes.JSON) error {
	sess, err := s.GetByID(sessionID)
	if err != nil {
		return err
	}

	ok, err := s.sessions.MarkProcessed(sessionID)
	if err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: session %s is not pendente", ErrInvalidState, sessionID)
	}

	s.appendLog(sessionID, sess.ExecutionID, models.LogStatusSucesso, "guia processada com sucesso", detalhes)
	return nil
}

func (s *LedgerServiceImpl) MarkError(sessionID uuid.UUID, errMsg string, detalhes datatypes.JSON) error {
	sess, err := s.GetByID(sessionID)
	if err != nil {
		return err
	}

	ok, err := s.sessions.MarkError(sessionID, errMsg)
	if err != nil {
		return fmt.Errorf("mark error: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: session %s is already erro", ErrInvalidState, sessionID)
	}

	s.appendLog(sessionID, sess.ExecutionID, models.LogStatusErro, errMsg, detalhes)
	return nil
}

func (s *LedgerServiceImpl) GetByID(sessionID uuid.UUID) (*models.CapturedSession, error) {
	sess, err := s.sessions.GetByID(sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
		}
		return nil, err
	}
	return sess, nil
}

func (s *LedgerServiceImpl) List(status, search string, page, pageSize int) ([]*models.CapturedSession, int64, error) {
	if status != "" && !models.ValidSessionStatus(status) {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}
	if page <= 0 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize
	return s.sessions.List(status, search, pageSize, offset)
}

func (s *LedgerServiceImpl) appendLog(sessionID, executionID uuid.UUID, status, mensagem string, detalhes datatypes.JSON) {
	entry := &models.SessaoLog{
		SessaoID:    sessionID,
		ExecutionID: executionID,
		Status:      status,
		Mensagem:    mensagem,
		Detalhes:    detalhes,
	}
	if err := s.logs.Append(entry); err != nil {
		// The resolution already happened; a missing log line must not undo it.
		s.logger.WithError(err).WithField("sessao_id", sessionID).Error("failed to append session log")
	}
}
