package handler

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"vodhub/internal/service"
)

// CatalogHandler serves the collected library and the live federated search.
type CatalogHandler struct {
	Query      *service.CatalogQuery
	Aggregator *service.Aggregator
}

func (h *CatalogHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/catalog")
	group.GET("", h.list)
	group.GET("/:id", h.detail)
	group.DELETE("/:id/play-sources/:name", h.removePlaySource)
	r.GET("/api/v1/search", h.search)
}

func (h *CatalogHandler) list(c *gin.Context) {
	q := service.CatalogListQuery{
		CategoryID:    intQuery(c, "category_id", 0),
		SubCategoryID: intQuery(c, "sub_category_id", 0),
		Area:          strings.TrimSpace(c.Query("area")),
		Year:          intQuery(c, "year", 0),
		Keyword:       strings.TrimSpace(c.Query("keyword")),
		OrderBy:       strings.TrimSpace(c.Query("order_by")),
		Asc:           boolQueryDefault(c, "asc", false),
		Page:          intQuery(c, "page", 1),
		PageSize:      intQuery(c, "page_size", 0),
	}
	result, err := h.Query.List(c.Request.Context(), q)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	meta := paginationMeta(result.PageSize, (result.Page-1)*result.PageSize, result.Total)
	Ok(c, result.Items, meta)
}

func (h *CatalogHandler) detail(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		Error(c, http.StatusBadRequest, "item id required", nil)
		return
	}
	detail, err := h.Query.Detail(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, service.ErrCatalogItemNotFound) {
			Error(c, http.StatusNotFound, "item not found", nil)
			return
		}
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, detail, nil)
}

func (h *CatalogHandler) removePlaySource(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	name := strings.TrimSpace(c.Param("name"))
	if id == "" || name == "" {
		Error(c, http.StatusBadRequest, "item id and play source name required", nil)
		return
	}
	item, err := h.Query.RemovePlaySource(c.Request.Context(), id, name)
	if err != nil {
		if errors.Is(err, service.ErrCatalogItemNotFound) {
			Error(c, http.StatusNotFound, "item not found", nil)
			return
		}
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

// search is the federated live query: it fans out to every healthy source,
// merges what came back in time, and reports which sources missed the window.
func (h *CatalogHandler) search(c *gin.Context) {
	q := service.AggregateQuery{
		Keyword:    strings.TrimSpace(c.Query("wd")),
		CategoryID: intQuery(c, "t", 0),
		Page:       intQuery(c, "pg", 1),
	}
	opts := service.AggregateOptions{
		IncludeLowPrioritySources: boolQueryDefault(c, "all_sources", false),
		CacheOnly:                 boolQueryDefault(c, "cache_only", false),
	}
	if raw := strings.TrimSpace(c.Query("timeout")); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			opts.Timeout = d
		}
	}
	result, err := h.Aggregator.Aggregate(c.Request.Context(), q, opts)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, result, map[string]any{
		"succeeded": len(result.SucceededSources),
		"failed":    len(result.FailedSources),
	})
}
