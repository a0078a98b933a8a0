package collect

import (
	"context"
	"testing"

	"vodhub/internal/models"
)

// stubMappingStore is an in-memory MappingStore.
type stubMappingStore struct {
	mappings map[uint64]map[int]*models.CategoryMapping
}

func newStubMappingStore() *stubMappingStore {
	return &stubMappingStore{mappings: map[uint64]map[int]*models.CategoryMapping{}}
}

func (s *stubMappingStore) GetCategoryMapping(ctx context.Context, sourceID uint64, sourceCategoryID int) (*models.CategoryMapping, error) {
	return s.mappings[sourceID][sourceCategoryID], nil
}

func (s *stubMappingStore) UpsertCategoryMapping(ctx context.Context, item *models.CategoryMapping) error {
	if s.mappings[item.SourceID] == nil {
		s.mappings[item.SourceID] = map[int]*models.CategoryMapping{}
	}
	s.mappings[item.SourceID][item.SourceCategoryID] = item
	return nil
}

func (s *stubMappingStore) ListCategories(ctx context.Context) ([]models.Category, error) {
	return DefaultCategories(), nil
}

func TestClassifyUsesPersistedMapping(t *testing.T) {
	store := newStubMappingStore()
	sub := 25
	store.UpsertCategoryMapping(context.Background(), &models.CategoryMapping{
		SourceID:            1,
		SourceCategoryID:    42,
		TargetCategoryID:    models.CategorySeries,
		TargetSubCategoryID: &sub,
	})
	c := &Classifier{Store: store}

	cl := c.Classify(context.Background(), 1, 42, "whatever", "")
	if cl.Method != MethodMapped || cl.Confidence != 1.0 {
		t.Fatalf("classification = %+v", cl)
	}
	if cl.CategoryID != models.CategorySeries || cl.SubCategoryID == nil || *cl.SubCategoryID != 25 {
		t.Fatalf("classification = %+v", cl)
	}
}

func TestClassifyHeuristicExactName(t *testing.T) {
	c := &Classifier{Store: newStubMappingStore()}
	cl := c.Classify(context.Background(), 1, 7, "科幻片", "")
	if cl.Method != MethodHeuristic || cl.Confidence != 0.9 {
		t.Fatalf("classification = %+v", cl)
	}
	if cl.CategoryID != models.CategoryMovie || cl.SubCategoryID == nil || *cl.SubCategoryID != 14 {
		t.Fatalf("classification = %+v", cl)
	}
}

func TestClassifyHeuristicKeywordPrefersSubCategory(t *testing.T) {
	c := &Classifier{Store: newStubMappingStore()}
	// 悬疑 appears only in the 悬疑剧 sub-category keywords.
	cl := c.Classify(context.Background(), 1, 8, "悬疑推理", "")
	if cl.Method != MethodHeuristic || cl.Confidence != 0.7 {
		t.Fatalf("classification = %+v", cl)
	}
	if cl.CategoryID != models.CategorySeries || cl.SubCategoryID == nil || *cl.SubCategoryID != 25 {
		t.Fatalf("classification = %+v", cl)
	}
}

func TestClassifyHeuristicSuffix(t *testing.T) {
	c := &Classifier{Store: newStubMappingStore()}
	cl := c.Classify(context.Background(), 1, 9, "伦理片", "")
	if cl.CategoryID != models.CategoryMovie || cl.Confidence != 0.6 {
		t.Fatalf("classification = %+v", cl)
	}
	cl = c.Classify(context.Background(), 1, 10, "泰剧", "")
	if cl.CategoryID != models.CategorySeries || cl.Confidence != 0.6 {
		t.Fatalf("classification = %+v", cl)
	}
}

func TestClassifyFallback(t *testing.T) {
	c := &Classifier{Store: newStubMappingStore()}
	cl := c.Classify(context.Background(), 1, 11, "资讯", "")
	if cl.Method != MethodFallback || cl.CategoryID != models.CategoryUnclassified || cl.Confidence != 0 {
		t.Fatalf("classification = %+v", cl)
	}
}

func TestLearnMappingMakesLookupExact(t *testing.T) {
	store := newStubMappingStore()
	c := &Classifier{Store: store}

	first := c.Classify(context.Background(), 3, 42, "悬疑推理", "")
	if first.Method != MethodHeuristic {
		t.Fatalf("first pass = %+v", first)
	}
	if err := c.LearnMapping(context.Background(), 3, 42, "悬疑推理", first); err != nil {
		t.Fatalf("learn: %v", err)
	}

	second := c.Classify(context.Background(), 3, 42, "悬疑推理", "")
	if second.Method != MethodMapped || second.Confidence != 1.0 {
		t.Fatalf("second pass = %+v", second)
	}
	if second.CategoryID != first.CategoryID {
		t.Fatalf("learned mapping changed the target: %+v vs %+v", first, second)
	}
}

func TestClassifyFallsBackToTitleWhenCategoryNameEmpty(t *testing.T) {
	c := &Classifier{Store: newStubMappingStore()}
	cl := c.Classify(context.Background(), 1, 0, "", "海岛动作电影精选")
	if cl.CategoryID != models.CategoryMovie {
		t.Fatalf("classification = %+v", cl)
	}
}
