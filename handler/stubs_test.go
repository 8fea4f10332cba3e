package handler

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/clinsys/capture-service/models"
	"github.com/clinsys/capture-service/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func doRequest(r *gin.Engine, method, path string, body []byte) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ---- task service stub -----------------------------------------------------

type stubTaskService struct {
	submitTask  *models.ProcessingTask
	submitErr   error
	dispatchErr error
	task        *models.ProcessingTask
	taskErr     error
	latest      *models.ProcessingTask
	latestErr   error
	dispatched  []uuid.UUID
}

func (s *stubTaskService) Submit(req service.SubmitRequest) (*models.ProcessingTask, error) {
	return s.submitTask, s.submitErr
}

func (s *stubTaskService) Dispatch(ctx context.Context, taskID uuid.UUID) error {
	s.dispatched = append(s.dispatched, taskID)
	return s.dispatchErr
}

func (s *stubTaskService) MarkCapturing(taskID uuid.UUID, totalGuides int) error { return nil }
func (s *stubTaskService) RecordProgress(taskID uuid.UUID, processedDelta, retryDelta, total int) error {
	return nil
}
func (s *stubTaskService) Complete(taskID uuid.UUID) error            { return nil }
func (s *stubTaskService) Fail(taskID uuid.UUID, errMsg string) error { return nil }

func (s *stubTaskService) GetByID(taskID uuid.UUID) (*models.ProcessingTask, error) {
	return s.task, s.taskErr
}

func (s *stubTaskService) GetLatest() (*models.ProcessingTask, error) {
	return s.latest, s.latestErr
}

// ---- ledger service stub ---------------------------------------------------

type stubLedgerService struct {
	session    *models.CapturedSession
	sessionErr error
	list       []*models.CapturedSession
	listTotal  int64
	listErr    error

	// captured call arguments
	listStatus   string
	listSearch   string
	listPage     int
	listPageSize int
}

func (s *stubLedgerService) UpsertFromCapture(data service.CaptureData) (*models.CapturedSession, error) {
	return s.session, s.sessionErr
}

func (s *stubLedgerService) MarkProcessed(sessionID uuid.UUID, detalhes datatypes.JSON) error {
	return nil
}

func (s *stubLedgerService) MarkError(sessionID uuid.UUID, errMsg string, detalhes datatypes.JSON) error {
	return nil
}

func (s *stubLedgerService) GetByID(sessionID uuid.UUID) (*models.CapturedSession, error) {
	return s.session, s.sessionErr
}

func (s *stubLedgerService) List(status, search string, page, pageSize int) ([]*models.CapturedSession, int64, error) {
	s.listStatus = status
	s.listSearch = search
	s.listPage = page
	s.listPageSize = pageSize
	return s.list, s.listTotal, s.listErr
}

// ---- reprocess service stub ------------------------------------------------

type stubReprocessService struct {
	result *service.ReprocessResult
	err    error
	calls  []uuid.UUID
}

func (s *stubReprocessService) Reprocess(ctx context.Context, sessionID uuid.UUID) (*service.ReprocessResult, error) {
	s.calls = append(s.calls, sessionID)
	return s.result, s.err
}

// ---- log repository stub ---------------------------------------------------

type stubLogRepo struct {
	entries []*models.SessaoLog
	counts  map[string]int64
}

func (s *stubLogRepo) Append(entry *models.SessaoLog) error { return nil }

func (s *stubLogRepo) ListBySessao(sessaoID uuid.UUID) ([]*models.SessaoLog, error) {
	return s.entries, nil
}

func (s *stubLogRepo) ListByExecution(executionID uuid.UUID) ([]*models.SessaoLog, error) {
	return s.entries, nil
}

func (s *stubLogRepo) CountsBySessao(sessaoID uuid.UUID) (map[string]int64, error) {
	return s.counts, nil
}

// ---- snapshot archive stub -------------------------------------------------

type stubArchive struct {
	exists bool
	url    string
}

func (s *stubArchive) Store(ctx context.Context, taskID, executionID uuid.UUID, payload []byte) (string, error) {
	return service.SnapshotObjectName(taskID, executionID), nil
}

func (s *stubArchive) PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	return s.url, nil
}

func (s *stubArchive) Exists(ctx context.Context, objectName string) (bool, error) {
	return s.exists, nil
}

func sampleTask(t *testing.T) *models.ProcessingTask {
	t.Helper()
	return &models.ProcessingTask{
		Base:      models.Base{ID: uuid.New()},
		Status:    models.TaskStatusPending,
		StartDate: "2024-03-01",
		EndDate:   "2024-03-05",
		MaxGuides: 100,
	}
}

func sampleSession(t *testing.T, status string) *models.CapturedSession {
	t.Helper()
	return &models.CapturedSession{
		Base:         models.Base{ID: uuid.New()},
		TaskID:       uuid.New(),
		ExecutionID:  uuid.New(),
		NumeroGuia:   "G-100",
		DataExecucao: "2024-03-01",
		PacienteNome: "Maria Souza",
		Status:       status,
	}
}
