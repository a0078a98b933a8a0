package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"vodhub/internal/collect"
	"vodhub/internal/repository"
)

// CategoryHandler serves the canonical taxonomy and the per-source mapping
// table, including the operator correction path.
type CategoryHandler struct {
	Repo       repository.Repository
	Classifier *collect.Classifier
}

func (h *CategoryHandler) Register(r *gin.Engine) {
	group := r.Group("/api/v1/categories")
	group.GET("", h.list)
	group.GET("/mappings", h.listMappings)
	group.POST("/mappings", h.correctMapping)
}

func (h *CategoryHandler) list(c *gin.Context) {
	items, err := h.Repo.ListCategories(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

func (h *CategoryHandler) listMappings(c *gin.Context) {
	sourceID := intQuery(c, "source_id", 0)
	if sourceID <= 0 {
		Error(c, http.StatusBadRequest, "source_id required", nil)
		return
	}
	items, err := h.Repo.ListCategoryMappings(c.Request.Context(), uint64(sourceID))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

type correctMappingRequest struct {
	SourceID            uint64 `json:"source_id"`
	SourceCategoryID    int    `json:"source_category_id"`
	SourceCategoryName  string `json:"source_category_name"`
	TargetCategoryID    int    `json:"target_category_id"`
	TargetSubCategoryID *int   `json:"target_sub_category_id"`
}

// correctMapping lets an operator pin a source category to a canonical one.
// Manual decisions are stored as exact mappings with full confidence, so they
// override whatever the heuristics guessed.
func (h *CategoryHandler) correctMapping(c *gin.Context) {
	var req correctMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if req.SourceID == 0 || req.SourceCategoryID == 0 {
		Error(c, http.StatusBadRequest, "source_id and source_category_id required", nil)
		return
	}
	cl := collect.Classification{
		CategoryID:    req.TargetCategoryID,
		SubCategoryID: req.TargetSubCategoryID,
		Confidence:    1.0,
		Method:        collect.MethodMapped,
	}
	err := h.Classifier.LearnMapping(c.Request.Context(),
		req.SourceID, req.SourceCategoryID, strings.TrimSpace(req.SourceCategoryName), cl)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, map[string]any{
		"source_id":          req.SourceID,
		"source_category_id": req.SourceCategoryID,
		"target_category_id": req.TargetCategoryID,
	}, nil)
}
