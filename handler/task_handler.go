package handler

import (
	"errors"
	"net/http"

	"github.com/clinsys/capture-service/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type TaskHandler struct {
	tasks  service.TaskService
	logger *logrus.Logger
}

func NewTaskHandler(tasks service.TaskService, logger *logrus.Logger) *TaskHandler {
	return &TaskHandler{tasks: tasks, logger: logger}
}

type startCaptureRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	MaxGuides int    `json:"max_guides"`
}

// StartCapture submits and dispatches one capture run.
// POST /api/capture/tasks
func (h *TaskHandler) StartCapture(c *gin.Context) {
	var req startCaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "detail": err.Error()})
		return
	}

	task, err := h.tasks.Submit(service.SubmitRequest{
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		MaxGuides: req.MaxGuides,
	})
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.WithError(err).Error("StartCapture submit failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	if err := h.tasks.Dispatch(c.Request.Context(), task.ID); err != nil {
		if errors.Is(err, service.ErrLaunch) {
			// The task is already marked error; surface both to the caller.
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "task_id": task.ID})
			return
		}
		h.logger.WithError(err).WithField("task_id", task.ID).Error("StartCapture dispatch failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error", "task_id": task.ID})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"task_id": task.ID,
	})
}

// GetTask returns one task with its counters and timestamps.
// GET /api/capture/tasks/:id
func (h *TaskHandler) GetTask(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}

	task, err := h.tasks.GetByID(id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		h.logger.WithError(err).Error("GetTask failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": task})
}

// GetLastTask returns the most recent task, used to resume a dashboard view.
// GET /api/capture/tasks/last
func (h *TaskHandler) GetLastTask(c *gin.Context) {
	task, err := h.tasks.GetLatest()
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no tasks found"})
			return
		}
		h.logger.WithError(err).Error("GetLastTask failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "data": task})
}
