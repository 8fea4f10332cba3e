package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clinsys/capture-service/models"
	"github.com/clinsys/capture-service/repository"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SubmitRequest carries the parameters of one capture run.
type SubmitRequest struct {
	StartDate string
	EndDate   string
	MaxGuides int
}

type TaskService interface {
	Submit(req SubmitRequest) (*models.ProcessingTask, error)
	// Dispatch moves the task to processing and launches the capture
	// routine. A synchronous launch failure fails the task immediately so it
	// is never left stuck in processing.
	Dispatch(ctx context.Context, taskID uuid.UUID) error
	MarkCapturing(taskID uuid.UUID, totalGuides int) error
	// RecordProgress atomically advances the task counters; invoked
	// concurrently once per resolved session.
	RecordProgress(taskID uuid.UUID, processedDelta, retryDelta, total int) error
	Complete(taskID uuid.UUID) error
	Fail(taskID uuid.UUID, errMsg string) error
	GetByID(taskID uuid.UUID) (*models.ProcessingTask, error)
	GetLatest() (*models.ProcessingTask, error)
}

type TaskServiceImpl struct {
	repo       repository.TaskRepository
	dispatcher Dispatcher
	logger     *logrus.Logger
}

func NewTaskService(repo repository.TaskRepository, dispatcher Dispatcher, logger *logrus.Logger) TaskService {
	return &TaskServiceImpl{repo: repo, dispatcher: dispatcher, logger: logger}
}

func (s *TaskServiceImpl) Submit(req SubmitRequest) (*models.ProcessingTask, error) {
	if req.StartDate == "" || req.EndDate == "" {
		return nil, fmt.Errorf("%w: start_date and end_date are required", ErrValidation)
	}
	if req.MaxGuides < models.MinGuidesPerTask || req.MaxGuides > models.MaxGuidesPerTask {
		return nil, fmt.Errorf("%w: max_guides must be between %d and %d",
			ErrValidation, models.MinGuidesPerTask, models.MaxGuidesPerTask)
	}

	task := &models.ProcessingTask{
		Status:     models.TaskStatusPending,
		StartDate:  req.StartDate,
		EndDate:    req.EndDate,
		MaxGuides:  req.MaxGuides,
		LastUpdate: time.Now(),
	}
	if err := s.repo.Create(task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	s.logger.WithFields(logrus.Fields{
		"task_id":    task.ID,
		"start_date": task.StartDate,
		"end_date":   task.EndDate,
		"max_guides": task.MaxGuides,
	}).Info("capture task submitted")
	return task, nil
}

func (s *TaskServiceImpl) Dispatch(ctx context.Context, taskID uuid.UUID) error {
	task, err := s.GetByID(taskID)
	if err != nil {
		return err
	}

	ok, err := s.repo.MarkProcessing(taskID)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: task %s is not pending", ErrInvalidState, taskID)
	}

	params := LaunchParams{
		TaskID:    task.ID.String(),
		StartDate: task.StartDate,
		EndDate:   task.EndDate,
		MaxGuides: task.MaxGuides,
	}
	if err := s.dispatcher.Launch(ctx, params); err != nil {
		msg := fmt.Sprintf("launch failed: %v", err)
		if _, ferr := s.repo.MarkFailed(taskID, msg); ferr != nil {
			s.logger.WithError(ferr).WithField("task_id", taskID).Error("failed to record launch failure")
		}
		s.logger.WithError(err).WithField("task_id", taskID).Error("capture launch failed")
		return fmt.Errorf("%w: %v", ErrLaunch, err)
	}

	s.logger.WithField("task_id", taskID).Info("capture task dispatched")
	return nil
}

func (s *TaskServiceImpl) MarkCapturing(taskID uuid.UUID, totalGuides int) error {
	ok, err := s.repo.MarkCapturing(taskID)
	if err != nil {
		return fmt.Errorf("mark capturing: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: task %s is not processing", ErrInvalidState, taskID)
	}
	if totalGuides > 0 {
		if err := s.repo.IncrementProgress(taskID, 0, 0, totalGuides); err != nil {
			return fmt.Errorf("set total guides: %w", err)
		}
	}
	return nil
}

func (s *TaskServiceImpl) RecordProgress(taskID uuid.UUID, processedDelta, retryDelta, total int) error {
	return s.repo.IncrementProgress(taskID, processedDelta, retryDelta, total)
}

func (s *TaskServiceImpl) Complete(taskID uuid.UUID) error {
	ok, err := s.repo.MarkCompleted(taskID)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: task %s is not processing or capturing", ErrInvalidState, taskID)
	}
	s.logger.WithField("task_id", taskID).Info("capture task completed")
	return nil
}

func (s *TaskServiceImpl) Fail(taskID uuid.UUID, errMsg string) error {
	ok, err := s.repo.MarkFailed(taskID, errMsg)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: task %s is already terminal", ErrInvalidState, taskID)
	}
	s.logger.WithFields(logrus.Fields{"task_id": taskID, "error": errMsg}).Warn("capture task failed")
	return nil
}

func (s *TaskServiceImpl) GetByID(taskID uuid.UUID) (*models.ProcessingTask, error) {
	task, err := s.repo.GetByID(taskID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
		}
		return nil, err
	}
	return task, nil
}

func (s *TaskServiceImpl) GetLatest() (*models.ProcessingTask, error) {
	task, err := s.repo.GetLatest()
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: no tasks", ErrNotFound)
		}
		return nil, err
	}
	return task, nil
}
