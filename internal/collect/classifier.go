package collect

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"vodhub/internal/cache"
	"vodhub/internal/models"
)

const (
	MethodMapped    = "mapped"
	MethodHeuristic = "heuristic"
	MethodFallback  = "fallback"
)

// Classification is the classifier's decision for one raw category.
type Classification struct {
	CategoryID    int
	SubCategoryID *int
	Confidence    float64
	Method        string
}

// MappingStore is the slice of the repository the classifier needs.
type MappingStore interface {
	GetCategoryMapping(ctx context.Context, sourceID uint64, sourceCategoryID int) (*models.CategoryMapping, error)
	UpsertCategoryMapping(ctx context.Context, item *models.CategoryMapping) error
	ListCategories(ctx context.Context) ([]models.Category, error)
}

// Classifier maps source-local categories into the canonical taxonomy.
// Resolution order: persisted mapping row, keyword heuristics, fallback
// bucket. It never fails; worst case is the unclassified bucket with
// confidence 0.
type Classifier struct {
	Store  MappingStore
	Cache  *cache.Cache
	Logger *zap.Logger
}

func (c *Classifier) Classify(ctx context.Context, sourceID uint64, rawCategoryID int, rawCategoryName, title string) Classification {
	if m := c.lookupMapping(ctx, sourceID, rawCategoryID); m != nil {
		return Classification{
			CategoryID:    m.TargetCategoryID,
			SubCategoryID: m.TargetSubCategoryID,
			Confidence:    1.0,
			Method:        MethodMapped,
		}
	}

	if cl, ok := c.heuristic(ctx, rawCategoryName, title); ok {
		return cl
	}

	return Classification{
		CategoryID: models.CategoryUnclassified,
		Confidence: 0,
		Method:     MethodFallback,
	}
}

// LearnMapping persists a heuristic decision so the next lookup for the same
// source category is an exact O(1) match.
func (c *Classifier) LearnMapping(ctx context.Context, sourceID uint64, rawCategoryID int, rawCategoryName string, cl Classification) error {
	if c.Store == nil {
		return nil
	}
	err := c.Store.UpsertCategoryMapping(ctx, &models.CategoryMapping{
		SourceID:            sourceID,
		SourceCategoryID:    rawCategoryID,
		SourceCategoryName:  rawCategoryName,
		TargetCategoryID:    cl.CategoryID,
		TargetSubCategoryID: cl.SubCategoryID,
		Method:              cl.Method,
		Confidence:          cl.Confidence,
	})
	if err != nil {
		return fmt.Errorf("persist category mapping: %w", err)
	}
	if c.Cache != nil {
		c.Cache.Invalidate(mappingCacheKey(sourceID, rawCategoryID))
	}
	return nil
}

func (c *Classifier) lookupMapping(ctx context.Context, sourceID uint64, rawCategoryID int) *models.CategoryMapping {
	if c.Store == nil || rawCategoryID == 0 {
		return nil
	}
	key := mappingCacheKey(sourceID, rawCategoryID)
	if c.Cache != nil {
		if v, ok := c.Cache.Get(key); ok {
			m, _ := v.(*models.CategoryMapping)
			return m
		}
	}
	m, err := c.Store.GetCategoryMapping(ctx, sourceID, rawCategoryID)
	if err != nil {
		if c.Logger != nil {
			c.Logger.Warn("category mapping lookup failed",
				zap.Uint64("source_id", sourceID),
				zap.Int("source_category_id", rawCategoryID),
				zap.Error(err),
			)
		}
		return nil
	}
	if c.Cache != nil && m != nil {
		c.Cache.Put(key, m, 10*time.Minute)
	}
	return m
}

// heuristic resolves a raw category name against the canonical keyword table.
// Specificity ordering: exact canonical name, sub-category keyword, top-level
// keyword, then the 片/剧 suffix rules.
func (c *Classifier) heuristic(ctx context.Context, rawCategoryName, title string) (Classification, bool) {
	name := strings.TrimSpace(rawCategoryName)
	probe := name
	if probe == "" {
		probe = strings.TrimSpace(title)
	}
	if probe == "" {
		return Classification{}, false
	}

	categories := c.categories(ctx)

	// Pass 1: the raw name equals a canonical name outright.
	for _, cat := range categories {
		if cat.Name == probe {
			return classificationFor(cat, 0.9), true
		}
	}

	// Pass 2: keyword/substring match; sub-categories first since a
	// sub-category hit is strictly more specific.
	for _, pass := range []bool{true, false} {
		for _, cat := range categories {
			if (cat.ParentID != 0) != pass {
				continue
			}
			for _, kw := range splitKeywords(cat.Keywords) {
				if kw != "" && strings.Contains(probe, kw) {
					return classificationFor(cat, 0.7), true
				}
			}
		}
	}

	// Pass 3: suffix conventions of the dialect.
	switch {
	case strings.HasSuffix(probe, "片"):
		return Classification{CategoryID: models.CategoryMovie, Confidence: 0.6, Method: MethodHeuristic}, true
	case strings.HasSuffix(probe, "剧"):
		return Classification{CategoryID: models.CategorySeries, Confidence: 0.6, Method: MethodHeuristic}, true
	}
	return Classification{}, false
}

func classificationFor(cat models.Category, confidence float64) Classification {
	if cat.ParentID != 0 {
		sub := cat.ID
		return Classification{
			CategoryID:    cat.ParentID,
			SubCategoryID: &sub,
			Confidence:    confidence,
			Method:        MethodHeuristic,
		}
	}
	return Classification{CategoryID: cat.ID, Confidence: confidence, Method: MethodHeuristic}
}

const categoriesCacheKey = "categories:canonical"

func (c *Classifier) categories(ctx context.Context) []models.Category {
	if c.Cache != nil {
		if v, ok := c.Cache.Get(categoriesCacheKey); ok {
			if cats, ok := v.([]models.Category); ok {
				return cats
			}
		}
	}
	var cats []models.Category
	if c.Store != nil {
		loaded, err := c.Store.ListCategories(ctx)
		if err == nil {
			cats = loaded
		} else if c.Logger != nil {
			c.Logger.Warn("canonical category load failed", zap.Error(err))
		}
	}
	if len(cats) == 0 {
		cats = DefaultCategories()
	}
	if c.Cache != nil {
		c.Cache.Put(categoriesCacheKey, cats, 10*time.Minute)
	}
	return cats
}

func splitKeywords(raw string) []string {
	raw = strings.ReplaceAll(raw, "，", ",")
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func mappingCacheKey(sourceID uint64, rawCategoryID int) string {
	return fmt.Sprintf("catmap:%d:%d", sourceID, rawCategoryID)
}
