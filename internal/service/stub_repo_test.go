package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"vodhub/internal/models"
	"vodhub/internal/repository"
)

// stubRepo is a test-only in-memory implementation of repository.Repository.
// Writes are mutex-guarded because the aggregator and the task engine both
// touch it from multiple goroutines.
type stubRepo struct {
	mu sync.Mutex

	sources  map[uint64]models.Source
	health   map[uint64]models.SourceHealth
	cats     []models.Category
	mappings map[uint64]map[int]models.CategoryMapping
	catalog  map[string]models.CatalogItem
	tasks    map[uint64]models.CollectionTask
	logs     []models.CollectionLog

	nextTaskID uint64
	// txFailures makes the next N InTx calls roll back before running the
	// callback, simulating transient transaction failures.
	txFailures int
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		sources:  map[uint64]models.Source{},
		health:   map[uint64]models.SourceHealth{},
		mappings: map[uint64]map[int]models.CategoryMapping{},
		catalog:  map[string]models.CatalogItem{},
		tasks:    map[uint64]models.CollectionTask{},
	}
}

func (s *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	s.mu.Lock()
	if s.txFailures > 0 {
		s.txFailures--
		s.mu.Unlock()
		return errors.New("transaction rolled back")
	}
	s.mu.Unlock()
	return fn(nil)
}

func (s *stubRepo) CreateSource(ctx context.Context, item *models.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item.ID == 0 {
		item.ID = uint64(len(s.sources) + 1)
	}
	s.sources[item.ID] = *item
	return nil
}

func (s *stubRepo) UpdateSource(ctx context.Context, item *models.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[item.ID] = *item
	return nil
}

func (s *stubRepo) GetSource(ctx context.Context, id uint64) (*models.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if src, ok := s.sources[id]; ok {
		out := src
		return &out, nil
	}
	return nil, nil
}

func (s *stubRepo) GetSourceByKey(ctx context.Context, key string) (*models.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, src := range s.sources {
		if src.Key == key {
			out := src
			return &out, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) ListSources(ctx context.Context, activeOnly bool) ([]models.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Source
	for _, src := range s.sources {
		if activeOnly && !src.Active {
			continue
		}
		out = append(out, src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *stubRepo) UpdateSourceFormat(ctx context.Context, id uint64, format string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if src, ok := s.sources[id]; ok {
		src.ResponseFormat = format
		s.sources[id] = src
	}
	return nil
}

func (s *stubRepo) GetSourceHealth(ctx context.Context, sourceID uint64) (*models.SourceHealth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.health[sourceID]; ok {
		out := h
		return &out, nil
	}
	return nil, nil
}

func (s *stubRepo) ListSourceHealth(ctx context.Context) ([]models.SourceHealth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SourceHealth
	for _, h := range s.health {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceID < out[j].SourceID })
	return out, nil
}

func (s *stubRepo) UpsertSourceHealth(ctx context.Context, item *models.SourceHealth) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health[item.SourceID] = *item
	return nil
}

func (s *stubRepo) ListCategories(ctx context.Context) ([]models.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Category(nil), s.cats...), nil
}

func (s *stubRepo) SeedCategories(ctx context.Context, items []models.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.cats) == 0 {
		s.cats = append(s.cats, items...)
	}
	return nil
}

func (s *stubRepo) GetCategoryMapping(ctx context.Context, sourceID uint64, sourceCategoryID int) (*models.CategoryMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.mappings[sourceID][sourceCategoryID]; ok {
		out := m
		return &out, nil
	}
	return nil, nil
}

func (s *stubRepo) UpsertCategoryMapping(ctx context.Context, item *models.CategoryMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mappings[item.SourceID] == nil {
		s.mappings[item.SourceID] = map[int]models.CategoryMapping{}
	}
	s.mappings[item.SourceID][item.SourceCategoryID] = *item
	return nil
}

func (s *stubRepo) ListCategoryMappings(ctx context.Context, sourceID uint64) ([]models.CategoryMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CategoryMapping
	for _, m := range s.mappings[sourceID] {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceCategoryID < out[j].SourceCategoryID })
	return out, nil
}

func (s *stubRepo) GetCatalogItem(ctx context.Context, id string) (*models.CatalogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.catalog[id]; ok {
		out := item
		return &out, nil
	}
	return nil, nil
}

func (s *stubRepo) GetCatalogItemByKey(ctx context.Context, titleNorm string, year int) (*models.CatalogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.catalog {
		if item.TitleNorm == titleNorm && item.Year == year && item.IsValid {
			out := item
			return &out, nil
		}
	}
	return nil, nil
}

func (s *stubRepo) UpsertCatalogItem(ctx context.Context, item *models.CatalogItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog[item.ID] = *item
	return nil
}

func (s *stubRepo) UpsertCatalogItemTx(ctx context.Context, tx *gorm.DB, item *models.CatalogItem) error {
	return s.UpsertCatalogItem(ctx, item)
}

func (s *stubRepo) ListCatalogItems(ctx context.Context, params repository.ListCatalogParams) ([]models.CatalogItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CatalogItem
	for _, item := range s.catalog {
		if params.ValidOnly && !item.IsValid {
			continue
		}
		if params.CategoryID != nil && item.CategoryID != *params.CategoryID {
			continue
		}
		if params.Year != nil && item.Year != *params.Year {
			continue
		}
		if kw := strings.TrimSpace(params.Keyword); kw != "" &&
			!strings.Contains(strings.ToLower(item.Title), strings.ToLower(kw)) {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *stubRepo) CountCatalogItems(ctx context.Context, params repository.ListCatalogParams) (int64, error) {
	items, _ := s.ListCatalogItems(ctx, params)
	return int64(len(items)), nil
}

func (s *stubRepo) InvalidateCatalogItem(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if item, ok := s.catalog[id]; ok {
		item.IsValid = false
		s.catalog[id] = item
	}
	return nil
}

func (s *stubRepo) CreateTask(ctx context.Context, item *models.CollectionTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTaskID++
	item.ID = s.nextTaskID
	item.CreatedAt = time.Now().UTC()
	s.tasks[item.ID] = *item
	return nil
}

func (s *stubRepo) GetTask(ctx context.Context, id uint64) (*models.CollectionTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task, ok := s.tasks[id]; ok {
		out := task
		return &out, nil
	}
	return nil, nil
}

func (s *stubRepo) ListTasks(ctx context.Context, params repository.ListTasksParams) ([]models.CollectionTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CollectionTask
	for _, task := range s.tasks {
		if params.Status != "" && task.Status != params.Status {
			continue
		}
		if params.Type != "" && task.Type != params.Type {
			continue
		}
		out = append(out, task)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *stubRepo) TransitionTask(ctx context.Context, id uint64, from []string, to string, updates map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return false, nil
	}
	matched := false
	for _, f := range from {
		if task.Status == f {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	task.Status = to
	for key, val := range updates {
		switch key {
		case "started_at":
			if ts, ok := val.(time.Time); ok {
				task.StartedAt = &ts
			}
		case "paused_at":
			if ts, ok := val.(time.Time); ok {
				task.PausedAt = &ts
			} else {
				task.PausedAt = nil
			}
		case "completed_at":
			if ts, ok := val.(time.Time); ok {
				task.CompletedAt = &ts
			}
		case "last_error":
			if msg, ok := val.(string); ok {
				task.LastError = &msg
			}
		}
	}
	s.tasks[id] = task
	return true, nil
}

func (s *stubRepo) SaveTaskProgressTx(ctx context.Context, tx *gorm.DB, task *models.CollectionTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.tasks[task.ID]
	if !ok {
		return nil
	}
	stored.Checkpoint = task.Checkpoint
	stored.CurrentSourceID = task.CurrentSourceID
	stored.CurrentPage = task.CurrentPage
	stored.TotalPages = task.TotalPages
	stored.ProcessedCount = task.ProcessedCount
	stored.NewCount = task.NewCount
	stored.UpdateCount = task.UpdateCount
	stored.SkipCount = task.SkipCount
	stored.ErrorCount = task.ErrorCount
	s.tasks[task.ID] = stored
	return nil
}

func (s *stubRepo) InsertCollectionLog(ctx context.Context, item *models.CollectionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.ID = uint64(len(s.logs) + 1)
	item.CreatedAt = time.Now().UTC()
	s.logs = append(s.logs, *item)
	return nil
}

func (s *stubRepo) ListCollectionLogs(ctx context.Context, taskID uint64, limit, offset int) ([]models.CollectionLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CollectionLog
	for _, l := range s.logs {
		if l.TaskID == taskID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *stubRepo) PruneCollectionLogs(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []models.CollectionLog
	var pruned int64
	for _, l := range s.logs {
		if l.CreatedAt.Before(before) {
			pruned++
			continue
		}
		kept = append(kept, l)
	}
	s.logs = kept
	return pruned, nil
}
