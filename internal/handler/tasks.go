package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"vodhub/internal/models"
	"vodhub/internal/repository"
	"vodhub/internal/service"
)

// TaskHandler exposes the collection task lifecycle.
type TaskHandler struct {
	Engine *service.TaskEngine
	Repo   repository.Repository
}

func (h *TaskHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/tasks")
	group.POST("", h.create)
	group.GET("", h.list)
	group.GET("/:id", h.get)
	group.GET("/:id/logs", h.logs)
	group.POST("/:id/start", h.start)
	group.POST("/:id/pause", h.pause)
	group.POST("/:id/resume", h.resume)
	group.POST("/:id/cancel", h.cancel)
}

type createTaskRequest struct {
	Type        string   `json:"type"`
	SourceIDs   []uint64 `json:"source_ids"`
	CategoryIDs []int    `json:"category_ids"`
	StartPage   int      `json:"start_page"`
	EndPage     int      `json:"end_page"`
	Hours       int      `json:"hours"`
	AutoStart   bool     `json:"auto_start"`
}

func (h *TaskHandler) create(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	task, err := h.Engine.CreateTask(c.Request.Context(), req.Type, service.TaskConfig{
		SourceIDs:   req.SourceIDs,
		CategoryIDs: req.CategoryIDs,
		StartPage:   req.StartPage,
		EndPage:     req.EndPage,
		Hours:       req.Hours,
	})
	if err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if req.AutoStart {
		if err := h.Engine.Start(c.Request.Context(), task.ID); err != nil {
			Error(c, http.StatusConflict, err.Error(), nil)
			return
		}
		task.Status = models.TaskRunning
	}
	Ok(c, task, nil)
}

func (h *TaskHandler) list(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	items, err := h.Repo.ListTasks(c.Request.Context(), repository.ListTasksParams{
		Status: strings.TrimSpace(c.Query("status")),
		Type:   strings.TrimSpace(c.Query("type")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, int64(len(items))))
}

func (h *TaskHandler) get(c *gin.Context) {
	id, ok := uint64Param(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid task id", nil)
		return
	}
	task, err := h.Repo.GetTask(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if task == nil {
		Error(c, http.StatusNotFound, "task not found", nil)
		return
	}
	Ok(c, task, nil)
}

func (h *TaskHandler) logs(c *gin.Context) {
	id, ok := uint64Param(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid task id", nil)
		return
	}
	limit := intQuery(c, "limit", 100)
	offset := intQuery(c, "offset", 0)
	items, err := h.Repo.ListCollectionLogs(c.Request.Context(), id, limit, offset)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, int64(len(items))))
}

func (h *TaskHandler) start(c *gin.Context) {
	h.control(c, h.Engine.Start)
}

func (h *TaskHandler) pause(c *gin.Context) {
	h.control(c, h.Engine.Pause)
}

func (h *TaskHandler) resume(c *gin.Context) {
	h.control(c, h.Engine.Resume)
}

func (h *TaskHandler) cancel(c *gin.Context) {
	h.control(c, h.Engine.Cancel)
}

func (h *TaskHandler) control(c *gin.Context, move func(ctx context.Context, id uint64) error) {
	id, ok := uint64Param(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid task id", nil)
		return
	}
	if err := move(c.Request.Context(), id); err != nil {
		Error(c, http.StatusConflict, err.Error(), nil)
		return
	}
	task, err := h.Repo.GetTask(c.Request.Context(), id)
	if err != nil || task == nil {
		Ok(c, map[string]any{"id": id}, nil)
		return
	}
	Ok(c, task, nil)
}
