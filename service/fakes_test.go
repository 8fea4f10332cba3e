package service

import (
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/clinsys/capture-service/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

// ---- task repository -------------------------------------------------------

type fakeTaskRepo struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*models.ProcessingTask
	order []uuid.UUID
}

func newFakeTaskRepo() *fakeTaskRepo {
	return &fakeTaskRepo{tasks: make(map[uuid.UUID]*models.ProcessingTask)}
}

func (r *fakeTaskRepo) Create(task *models.ProcessingTask) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	task.CreatedAt = time.Now()
	cp := *task
	r.tasks[task.ID] = &cp
	r.order = append(r.order, task.ID)
	return nil
}

func (r *fakeTaskRepo) GetByID(id uuid.UUID) (*models.ProcessingTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *task
	return &cp, nil
}

func (r *fakeTaskRepo) GetLatest() (*models.ProcessingTask, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.order) == 0 {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *r.tasks[r.order[len(r.order)-1]]
	return &cp, nil
}

func (r *fakeTaskRepo) transition(id uuid.UUID, from []string, apply func(*models.ProcessingTask)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if task.Status == s {
			apply(task)
			task.LastUpdate = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeTaskRepo) MarkProcessing(id uuid.UUID) (bool, error) {
	return r.transition(id, []string{models.TaskStatusPending, models.TaskStatusWaiting}, func(t *models.ProcessingTask) {
		now := time.Now()
		t.Status = models.TaskStatusProcessing
		t.StartedAt = &now
	})
}

func (r *fakeTaskRepo) MarkCapturing(id uuid.UUID) (bool, error) {
	return r.transition(id, []string{models.TaskStatusProcessing}, func(t *models.ProcessingTask) {
		t.Status = models.TaskStatusCapturing
	})
}

func (r *fakeTaskRepo) MarkCompleted(id uuid.UUID) (bool, error) {
	return r.transition(id, []string{models.TaskStatusProcessing, models.TaskStatusCapturing}, func(t *models.ProcessingTask) {
		now := time.Now()
		t.Status = models.TaskStatusCompleted
		t.CompletedAt = &now
	})
}

func (r *fakeTaskRepo) MarkFailed(id uuid.UUID, errMsg string) (bool, error) {
	nonTerminal := []string{
		models.TaskStatusPending, models.TaskStatusWaiting,
		models.TaskStatusProcessing, models.TaskStatusCapturing,
	}
	return r.transition(id, nonTerminal, func(t *models.ProcessingTask) {
		now := time.Now()
		t.Status = models.TaskStatusError
		t.Error = &errMsg
		t.ErrorAt = &now
	})
}

func (r *fakeTaskRepo) IncrementProgress(id uuid.UUID, processedDelta, retryDelta, total int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	task, ok := r.tasks[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	task.ProcessedGuides += processedDelta
	task.RetryGuides += retryDelta
	if total > task.TotalGuides {
		task.TotalGuides = total
	}
	task.LastUpdate = time.Now()
	return nil
}

// ---- session repository ----------------------------------------------------

type fakeSessionRepo struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.CapturedSession
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: make(map[uuid.UUID]*models.CapturedSession)}
}

func (r *fakeSessionRepo) byNaturalKey(numeroGuia, dataExecucao string) *models.CapturedSession {
	for _, s := range r.sessions {
		if s.NumeroGuia == numeroGuia && s.DataExecucao == dataExecucao {
			return s
		}
	}
	return nil
}

func (r *fakeSessionRepo) Upsert(sess *models.CapturedSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing := r.byNaturalKey(sess.NumeroGuia, sess.DataExecucao); existing != nil {
		existing.TaskID = sess.TaskID
		existing.DataAtendimentoCompleta = sess.DataAtendimentoCompleta
		existing.PacienteNome = sess.PacienteNome
		existing.PacienteCarteirinha = sess.PacienteCarteirinha
		existing.CodigoFicha = sess.CodigoFicha
		existing.ProfissionalExecutante = sess.ProfissionalExecutante
		existing.ConselhoProfissional = sess.ConselhoProfissional
		existing.NumeroConselho = sess.NumeroConselho
		existing.UFConselho = sess.UFConselho
		existing.CodigoCBO = sess.CodigoCBO
		existing.Origem = sess.Origem
		existing.UpdatedAt = time.Now()
		return nil
	}
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	sess.CreatedAt = time.Now()
	cp := *sess
	r.sessions[sess.ID] = &cp
	return nil
}

func (r *fakeSessionRepo) GetByID(id uuid.UUID) (*models.CapturedSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *sess
	return &cp, nil
}

func (r *fakeSessionRepo) GetByNaturalKey(numeroGuia, dataExecucao string) (*models.CapturedSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess := r.byNaturalKey(numeroGuia, dataExecucao)
	if sess == nil {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *sess
	return &cp, nil
}

func (r *fakeSessionRepo) MarkProcessed(id uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok || sess.Status != models.SessionStatusPendente {
		return false, nil
	}
	now := time.Now()
	sess.Status = models.SessionStatusProcessado
	sess.Error = nil
	sess.ProcessedAt = &now
	sess.UpdatedAt = now
	return true, nil
}

func (r *fakeSessionRepo) MarkError(id uuid.UUID, errMsg string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok || sess.Status == models.SessionStatusErro {
		return false, nil
	}
	sess.Status = models.SessionStatusErro
	sess.Error = &errMsg
	sess.UpdatedAt = time.Now()
	return true, nil
}

func (r *fakeSessionRepo) Requeue(id uuid.UUID, executionID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok || sess.Status != models.SessionStatusErro {
		return false, nil
	}
	sess.Status = models.SessionStatusPendente
	sess.Error = nil
	sess.ExecutionID = executionID
	sess.UpdatedAt = time.Now()
	return true, nil
}

func (r *fakeSessionRepo) RequeueExecution(id uuid.UUID, executionID uuid.UUID) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok || sess.Status != models.SessionStatusErro || sess.ExecutionID != executionID {
		return false, nil
	}
	sess.Status = models.SessionStatusPendente
	sess.Error = nil
	sess.UpdatedAt = time.Now()
	return true, nil
}

func (r *fakeSessionRepo) RevertToError(id uuid.UUID, executionID uuid.UUID, errMsg string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[id]
	if !ok || sess.Status != models.SessionStatusPendente || sess.ExecutionID != executionID {
		return false, nil
	}
	sess.Status = models.SessionStatusErro
	sess.Error = &errMsg
	sess.UpdatedAt = time.Now()
	return true, nil
}

func (r *fakeSessionRepo) List(status, search string, limit, offset int) ([]*models.CapturedSession, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []*models.CapturedSession
	needle := strings.ToLower(search)
	for _, s := range r.sessions {
		if status != "" && s.Status != status {
			continue
		}
		if needle != "" &&
			!strings.Contains(strings.ToLower(s.NumeroGuia), needle) &&
			!strings.Contains(strings.ToLower(s.PacienteNome), needle) &&
			!strings.Contains(strings.ToLower(s.PacienteCarteirinha), needle) {
			continue
		}
		cp := *s
		matched = append(matched, &cp)
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := int64(len(matched))
	if offset >= len(matched) {
		return nil, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (r *fakeSessionRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ---- log repository --------------------------------------------------------

type fakeLogRepo struct {
	mu      sync.Mutex
	entries []*models.SessaoLog
}

func newFakeLogRepo() *fakeLogRepo {
	return &fakeLogRepo{}
}

func (r *fakeLogRepo) Append(entry *models.SessaoLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now()
	cp := *entry
	r.entries = append(r.entries, &cp)
	return nil
}

func (r *fakeLogRepo) ListBySessao(sessaoID uuid.UUID) ([]*models.SessaoLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SessaoLog
	for _, e := range r.entries {
		if e.SessaoID == sessaoID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeLogRepo) ListByExecution(executionID uuid.UUID) ([]*models.SessaoLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.SessaoLog
	for _, e := range r.entries {
		if e.ExecutionID == executionID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeLogRepo) CountsBySessao(sessaoID uuid.UUID) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int64)
	for _, e := range r.entries {
		if e.SessaoID == sessaoID {
			counts[e.Status]++
		}
	}
	return counts, nil
}

// ---- outbox repository -----------------------------------------------------

type fakeOutboxRepo struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*models.OutboxEntry
}

func newFakeOutboxRepo() *fakeOutboxRepo {
	return &fakeOutboxRepo{entries: make(map[uuid.UUID]*models.OutboxEntry)}
}

func (r *fakeOutboxRepo) Create(entry *models.OutboxEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	entry.CreatedAt = time.Now()
	cp := *entry
	r.entries[entry.ID] = &cp
	return nil
}

func (r *fakeOutboxRepo) Due(now time.Time, limit int) ([]*models.OutboxEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var due []*models.OutboxEntry
	for _, e := range r.entries {
		if e.Status == models.OutboxStatusPendente && !e.NextAttemptAt.After(now) {
			cp := *e
			due = append(due, &cp)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextAttemptAt.Before(due[j].NextAttemptAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (r *fakeOutboxRepo) MarkDelivered(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.Status = models.OutboxStatusEntregue
	}
	return nil
}

func (r *fakeOutboxRepo) Reschedule(id uuid.UUID, attempts int, nextAttemptAt time.Time, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.Attempts = attempts
		e.NextAttemptAt = nextAttemptAt
		e.LastError = &lastError
	}
	return nil
}

func (r *fakeOutboxRepo) Abandon(id uuid.UUID, lastError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[id]; ok {
		e.Status = models.OutboxStatusAbandonado
		e.LastError = &lastError
	}
	return nil
}

func (r *fakeOutboxRepo) CountPending() (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, e := range r.entries {
		if e.Status == models.OutboxStatusPendente {
			n++
		}
	}
	return n, nil
}

func (r *fakeOutboxRepo) all() []*models.OutboxEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.OutboxEntry
	for _, e := range r.entries {
		cp := *e
		out = append(out, &cp)
	}
	return out
}

// ---- dispatcher ------------------------------------------------------------

type fakeDispatcher struct {
	mu           sync.Mutex
	launchErr    error
	reprocessErr error
	// block, when set, holds Reprocess open until the channel is closed.
	block       chan struct{}
	launches    []LaunchParams
	reprocesses []ReprocessParams
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{}
}

func (d *fakeDispatcher) Launch(ctx context.Context, params LaunchParams) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.launchErr != nil {
		return d.launchErr
	}
	d.launches = append(d.launches, params)
	return nil
}

func (d *fakeDispatcher) Reprocess(ctx context.Context, params ReprocessParams) error {
	d.mu.Lock()
	block := d.block
	err := d.reprocessErr
	d.mu.Unlock()
	if block != nil {
		<-block
	}
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.reprocesses = append(d.reprocesses, params)
	d.mu.Unlock()
	return nil
}

func (d *fakeDispatcher) launchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.launches)
}

func (d *fakeDispatcher) reprocessCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.reprocesses)
}

func (d *fakeDispatcher) reprocessAt(i int) ReprocessParams {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reprocesses[i]
}
