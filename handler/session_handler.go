package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/clinsys/capture-service/repository"
	"github.com/clinsys/capture-service/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type SessionHandler struct {
	ledger    service.LedgerService
	reprocess service.ReprocessService
	logs      repository.SessaoLogRepository
	archive   service.SnapshotArchive
	logger    *logrus.Logger
}

func NewSessionHandler(
	ledger service.LedgerService,
	reprocess service.ReprocessService,
	logs repository.SessaoLogRepository,
	archive service.SnapshotArchive,
	logger *logrus.Logger,
) *SessionHandler {
	return &SessionHandler{ledger: ledger, reprocess: reprocess, logs: logs, archive: archive, logger: logger}
}

// ListSessions returns captured sessions filtered by status and free text.
// GET /api/sessoes?status=&search=&page=1&page_size=20
func (h *SessionHandler) ListSessions(c *gin.Context) {
	status := c.Query("status")
	search := c.Query("search")

	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page <= 0 {
		page = 1
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if err != nil || pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}

	sessions, total, err := h.ledger.List(status, search, page, pageSize)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.WithError(err).Error("ListSessions failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"sessoes":   sessions,
			"total":     total,
			"page":      page,
			"page_size": pageSize,
		},
	})
}

// GetSessionLogs returns the full ordered log trail of a session, with the
// per-status counts derived on read.
// GET /api/sessoes/:id/logs
func (h *SessionHandler) GetSessionLogs(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	if _, err := h.ledger.GetByID(id); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		h.logger.WithError(err).Error("GetSessionLogs lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	logs, err := h.logs.ListBySessao(id)
	if err != nil {
		h.logger.WithError(err).Error("GetSessionLogs list failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	counts, err := h.logs.CountsBySessao(id)
	if err != nil {
		h.logger.WithError(err).Error("GetSessionLogs counts failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data": gin.H{
			"logs":   logs,
			"counts": counts,
		},
	})
}

type reprocessRequest struct {
	SessaoID string `json:"sessao_id" binding:"required"`
}

// ReprocessSession queues another attempt for a failed session and returns
// without waiting for the external call.
// POST /api/sessoes/reprocessar
func (h *SessionHandler) ReprocessSession(c *gin.Context) {
	var req reprocessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "sessao_id is required"})
		return
	}
	id, err := uuid.Parse(req.SessaoID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sessao_id"})
		return
	}

	result, err := h.reprocess.Reprocess(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		case errors.Is(err, service.ErrInvalidState):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrConflict):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			h.logger.WithError(err).WithField("sessao_id", id).Error("ReprocessSession failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success":      true,
		"sessao_id":    result.SessaoID,
		"execution_id": result.ExecutionID,
	})
}

// GetSessionSnapshot returns a presigned URL for the raw capture payload of
// the session's current execution.
// GET /api/sessoes/:id/snapshot
func (h *SessionHandler) GetSessionSnapshot(c *gin.Context) {
	if h.archive == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "snapshot archive is not configured"})
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	sess, err := h.ledger.GetByID(id)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		h.logger.WithError(err).Error("GetSessionSnapshot lookup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	objectName := service.SnapshotObjectName(sess.TaskID, sess.ExecutionID)
	exists, err := h.archive.Exists(c.Request.Context(), objectName)
	if err != nil {
		h.logger.WithError(err).Error("GetSessionSnapshot stat failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "no snapshot for current execution"})
		return
	}

	url, err := h.archive.PresignedURL(c.Request.Context(), objectName, 15*time.Minute)
	if err != nil {
		h.logger.WithError(err).Error("GetSessionSnapshot presign failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "url": url})
}
