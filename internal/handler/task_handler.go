package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"taskmaster/internal/model"
	"taskmaster/internal/recurrence"
	"taskmaster/internal/syncer"
)

const requestTimeout = 5 * time.Second

type TaskHandler struct {
	engine     *syncer.Engine
	recurrence *recurrence.Engine
	logger     *zap.Logger
}

func NewTaskHandler(engine *syncer.Engine, rec *recurrence.Engine, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		engine:     engine,
		recurrence: rec,
		logger:     logger,
	}
}

// identity reads the authenticated identity set by the auth middleware.
func (h *TaskHandler) identity(c *gin.Context) (model.Identity, bool) {
	v, ok := c.Get("identity")
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
		return model.Identity{}, false
	}
	return v.(model.Identity), true
}

// writeTaskError maps engine errors to HTTP responses.
func (h *TaskHandler) writeTaskError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, syncer.ErrDuplicateTask):
		c.JSON(http.StatusConflict, gin.H{"error": "a task with this name already exists"})
	case errors.Is(err, syncer.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": "you can only modify your own tasks"})
	case errors.Is(err, syncer.ErrStoreUnavailable):
		h.logger.Error("Task store unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "task store unavailable"})
	default:
		h.logger.Error("Task operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

type taskRequest struct {
	Name      string `json:"name" binding:"required"`
	Date      string `json:"date" binding:"required"`
	Notes     string `json:"notes"`
	Priority  string `json:"priority"`
	Status    string `json:"status"`
	Recurring bool   `json:"recurring"`
}

func (r taskRequest) validDate() bool {
	_, err := time.Parse(model.DateLayout, r.Date)
	return err == nil
}

// GetTasks handles GET /tasks. Tasks come back in display order: overdue
// first, then today's, then by date and priority.
func (h *TaskHandler) GetTasks(c *gin.Context) {
	if _, ok := h.identity(c); !ok {
		return
	}

	tasks := h.engine.Tasks()
	model.SortTasks(tasks, model.FormatDate(time.Now()))

	c.JSON(http.StatusOK, gin.H{
		"tasks":     tasks,
		"status":    h.engine.Status(),
		"last_sync": h.engine.LastSync(),
	})
}

// GetStats handles GET /tasks/stats
func (h *TaskHandler) GetStats(c *gin.Context) {
	if _, ok := h.identity(c); !ok {
		return
	}
	c.JSON(http.StatusOK, h.engine.Stats())
}

// CreateTask handles POST /tasks
func (h *TaskHandler) CreateTask(c *gin.Context) {
	identity, ok := h.identity(c)
	if !ok {
		return
	}

	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if !req.validDate() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	task := model.Task{
		Name:      req.Name,
		Date:      req.Date,
		Notes:     req.Notes,
		Priority:  model.Priority(req.Priority),
		Status:    model.Status(req.Status),
		Recurring: req.Recurring,
	}
	saved, err := h.engine.Save(ctx, identity, task)
	if err != nil {
		h.writeTaskError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"task": saved})
}

// UpdateTask handles PUT /tasks/:id
func (h *TaskHandler) UpdateTask(c *gin.Context) {
	identity, ok := h.identity(c)
	if !ok {
		return
	}

	id := c.Param("id")
	existing, found := h.engine.Find(id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}

	var req taskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if !req.validDate() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	existing.Name = req.Name
	existing.Date = req.Date
	existing.Notes = req.Notes
	if req.Priority != "" {
		existing.Priority = model.Priority(req.Priority)
	}
	if req.Status != "" {
		existing.Status = model.Status(req.Status)
	}
	existing.Recurring = req.Recurring

	saved, err := h.engine.Save(ctx, identity, existing)
	if err != nil {
		h.writeTaskError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"task": saved})
}

// DeleteTask handles DELETE /tasks/:id
func (h *TaskHandler) DeleteTask(c *gin.Context) {
	identity, ok := h.identity(c)
	if !ok {
		return
	}

	id := c.Param("id")
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "task id required"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	result, err := h.engine.Delete(ctx, identity, id)
	if err != nil {
		h.writeTaskError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// CompleteTask handles POST /tasks/:id/complete. Recurring tasks roll
// forward to tomorrow's occurrence.
func (h *TaskHandler) CompleteTask(c *gin.Context) {
	identity, ok := h.identity(c)
	if !ok {
		return
	}

	id := c.Param("id")
	if _, found := h.engine.Find(id); !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	result, err := h.recurrence.OnTaskCompleted(ctx, identity, id)
	if err != nil {
		h.writeTaskError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"task": result})
}

// ReopenTask handles POST /tasks/:id/reopen
func (h *TaskHandler) ReopenTask(c *gin.Context) {
	identity, ok := h.identity(c)
	if !ok {
		return
	}

	id := c.Param("id")
	task, found := h.engine.Find(id)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	task.Status = model.StatusPending
	saved, err := h.engine.Save(ctx, identity, task)
	if err != nil {
		h.writeTaskError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"task": saved})
}

// DeleteCompleted handles DELETE /tasks/completed
func (h *TaskHandler) DeleteCompleted(c *gin.Context) {
	if _, ok := h.identity(c); !ok {
		return
	}

	// Purging can fan out over many deletes; give it more room.
	ctx, cancel := context.WithTimeout(c.Request.Context(), 30*time.Second)
	defer cancel()

	count, err := h.engine.DeleteAllCompleted(ctx)
	if err != nil {
		h.logger.Error("Purge of completed tasks failed",
			zap.Int("deleted", count),
			zap.Error(err),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "some tasks could not be deleted",
			"deleted": count,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"deleted": count})
}

// SeedTasks handles POST /tasks/seed
func (h *TaskHandler) SeedTasks(c *gin.Context) {
	identity, ok := h.identity(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	created, err := h.engine.SeedSamples(ctx, identity)
	if err != nil {
		h.writeTaskError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"created": created})
}
