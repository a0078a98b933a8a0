package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"vodhub/internal/models"
	"vodhub/internal/service"
)

// SourceHandler exposes source registry CRUD plus the health and taxonomy
// operations scoped to one source.
type SourceHandler struct {
	Registry *service.Registry
	Monitor  *service.HealthMonitor
	Syncer   *service.CategorySyncer
}

func (h *SourceHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/sources")
	group.GET("", h.list)
	group.POST("", h.create)
	group.GET("/:id", h.get)
	group.PUT("/:id", h.update)
	group.GET("/:id/health", h.getHealth)
	group.POST("/:id/probe", h.probe)
	group.POST("/:id/sync-categories", h.syncCategories)
	r.GET("/api/v1/source-health", h.listHealth)
}

type sourceRequest struct {
	Key            string  `json:"key"`
	Name           string  `json:"name"`
	DisplayName    *string `json:"display_name"`
	EndpointURL    string  `json:"endpoint_url"`
	ResponseFormat string  `json:"response_format"`
	Weight         *string `json:"weight"`
	Active         *bool   `json:"active"`
}

func (req *sourceRequest) apply(item *models.Source) string {
	if req.Key != "" {
		item.Key = strings.TrimSpace(req.Key)
	}
	if req.Name != "" {
		item.Name = strings.TrimSpace(req.Name)
	}
	if req.DisplayName != nil {
		item.DisplayName = req.DisplayName
	}
	if req.EndpointURL != "" {
		item.EndpointURL = strings.TrimSpace(req.EndpointURL)
	}
	if req.ResponseFormat != "" {
		format := strings.ToLower(strings.TrimSpace(req.ResponseFormat))
		switch format {
		case models.FormatAuto, models.FormatJSON, models.FormatXML:
			item.ResponseFormat = format
		default:
			return "response_format must be json, xml or auto"
		}
	}
	if req.Weight != nil {
		w, err := decimal.NewFromString(*req.Weight)
		if err != nil || w.IsNegative() {
			return "weight must be a non-negative decimal"
		}
		item.Weight = w
	}
	if req.Active != nil {
		item.Active = *req.Active
	}
	return ""
}

func (h *SourceHandler) list(c *gin.Context) {
	activeOnly := boolQueryDefault(c, "active", false)
	items, err := h.Registry.Repo.ListSources(c.Request.Context(), activeOnly)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

func (h *SourceHandler) create(c *gin.Context) {
	var req sourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	item := models.Source{
		ResponseFormat: models.FormatAuto,
		Weight:         decimal.NewFromInt(1),
		Active:         true,
	}
	if msg := req.apply(&item); msg != "" {
		Error(c, http.StatusBadRequest, msg, nil)
		return
	}
	if item.Key == "" || item.Name == "" || item.EndpointURL == "" {
		Error(c, http.StatusBadRequest, "key, name and endpoint_url required", nil)
		return
	}
	if err := h.Registry.Repo.CreateSource(c.Request.Context(), &item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

func (h *SourceHandler) get(c *gin.Context) {
	id, ok := uint64Param(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid source id", nil)
		return
	}
	item, err := h.Registry.Repo.GetSource(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "source not found", nil)
		return
	}
	Ok(c, item, nil)
}

func (h *SourceHandler) update(c *gin.Context) {
	id, ok := uint64Param(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid source id", nil)
		return
	}
	item, err := h.Registry.Repo.GetSource(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "source not found", nil)
		return
	}
	var req sourceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if msg := req.apply(item); msg != "" {
		Error(c, http.StatusBadRequest, msg, nil)
		return
	}
	if err := h.Registry.Repo.UpdateSource(c.Request.Context(), item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

func (h *SourceHandler) getHealth(c *gin.Context) {
	id, ok := uint64Param(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid source id", nil)
		return
	}
	health, err := h.Registry.GetHealth(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if health == nil {
		Error(c, http.StatusNotFound, "no health record yet", nil)
		return
	}
	Ok(c, health, nil)
}

func (h *SourceHandler) listHealth(c *gin.Context) {
	items, err := h.Registry.Repo.ListSourceHealth(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

func (h *SourceHandler) probe(c *gin.Context) {
	if h.Monitor == nil {
		Error(c, http.StatusServiceUnavailable, "health monitor disabled", nil)
		return
	}
	id, ok := uint64Param(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid source id", nil)
		return
	}
	src, err := h.Registry.Repo.GetSource(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if src == nil {
		Error(c, http.StatusNotFound, "source not found", nil)
		return
	}
	res := h.Monitor.Probe(c.Request.Context(), src)
	Ok(c, map[string]any{
		"status":     res.Status,
		"success":    res.Success,
		"latency_ms": res.Latency.Milliseconds(),
	}, nil)
}

func (h *SourceHandler) syncCategories(c *gin.Context) {
	if h.Syncer == nil {
		Error(c, http.StatusServiceUnavailable, "category syncer disabled", nil)
		return
	}
	id, ok := uint64Param(c, "id")
	if !ok {
		Error(c, http.StatusBadRequest, "invalid source id", nil)
		return
	}
	report, err := h.Syncer.Sync(c.Request.Context(), id)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, report, nil)
}
