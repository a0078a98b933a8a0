package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vodhub/internal/models"
	"vodhub/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- sources ----------------------------------------------------------------

func (s *Store) CreateSource(ctx context.Context, item *models.Source) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) UpdateSource(ctx context.Context, item *models.Source) error {
	if s == nil || s.db == nil || item == nil || item.ID == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) GetSource(ctx context.Context, id uint64) (*models.Source, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Source
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetSourceByKey(ctx context.Context, key string) (*models.Source, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, nil
	}
	var item models.Source
	err := s.db.WithContext(ctx).First(&item, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSources(ctx context.Context, activeOnly bool) ([]models.Source, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Source{})
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	var items []models.Source
	if err := query.Order("weight desc, id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateSourceFormat(ctx context.Context, id uint64, format string) error {
	if s == nil || s.db == nil || id == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Source{}).
		Where("id = ?", id).
		Update("response_format", format).Error
}

// --- source health ----------------------------------------------------------

func (s *Store) GetSourceHealth(ctx context.Context, sourceID uint64) (*models.SourceHealth, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.SourceHealth
	err := s.db.WithContext(ctx).First(&item, "source_id = ?", sourceID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListSourceHealth(ctx context.Context) ([]models.SourceHealth, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.SourceHealth
	if err := s.db.WithContext(ctx).
		Model(&models.SourceHealth{}).
		Order("source_id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpsertSourceHealth(ctx context.Context, item *models.SourceHealth) error {
	if s == nil || s.db == nil || item == nil || item.SourceID == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "source_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status",
			"avg_response_time_ms",
			"success_rate",
			"consecutive_failures",
			"last_error",
			"last_checked_at",
		}),
	}).Create(item).Error
}

// --- taxonomy ---------------------------------------------------------------

func (s *Store) ListCategories(ctx context.Context) ([]models.Category, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Category
	if err := s.db.WithContext(ctx).
		Model(&models.Category{}).
		Where("is_active = ?", true).
		Order("parent_id asc, sort asc, id asc").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) SeedCategories(ctx context.Context, items []models.Category) error {
	if s == nil || s.db == nil || len(items) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoNothing: true,
	}).Create(&items).Error
}

func (s *Store) GetCategoryMapping(ctx context.Context, sourceID uint64, sourceCategoryID int) (*models.CategoryMapping, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.CategoryMapping
	err := s.db.WithContext(ctx).
		First(&item, "source_id = ? AND source_category_id = ?", sourceID, sourceCategoryID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpsertCategoryMapping(ctx context.Context, item *models.CategoryMapping) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "source_id"}, {Name: "source_category_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"source_category_name",
			"target_category_id",
			"target_sub_category_id",
			"method",
			"confidence",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) ListCategoryMappings(ctx context.Context, sourceID uint64) ([]models.CategoryMapping, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.CategoryMapping{})
	if sourceID > 0 {
		query = query.Where("source_id = ?", sourceID)
	}
	var items []models.CategoryMapping
	if err := query.Order("source_id asc, source_category_id asc").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- catalog ----------------------------------------------------------------

func (s *Store) GetCatalogItem(ctx context.Context, id string) (*models.CatalogItem, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.CatalogItem
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetCatalogItemByKey(ctx context.Context, titleNorm string, year int) (*models.CatalogItem, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.CatalogItem
	err := s.db.WithContext(ctx).
		First(&item, "title_norm = ? AND year = ? AND is_valid = ?", titleNorm, year, true).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) UpsertCatalogItem(ctx context.Context, item *models.CatalogItem) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return upsertCatalogItem(s.db.WithContext(ctx), item)
}

func (s *Store) UpsertCatalogItemTx(ctx context.Context, tx *gorm.DB, item *models.CatalogItem) error {
	if item == nil {
		return nil
	}
	if tx == nil {
		return s.UpsertCatalogItem(ctx, item)
	}
	return upsertCatalogItem(tx, item)
}

func upsertCatalogItem(db *gorm.DB, item *models.CatalogItem) error {
	return db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title",
			"title_norm",
			"year",
			"area",
			"category_id",
			"sub_category_id",
			"actors",
			"director",
			"synopsis",
			"cover_url",
			"play_sources",
			"quality_score",
			"source_name",
			"source_weight",
			"is_valid",
			"updated_at",
		}),
	}).Create(item).Error
}

func (s *Store) ListCatalogItems(ctx context.Context, params repository.ListCatalogParams) ([]models.CatalogItem, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := applyCatalogFilters(s.db.WithContext(ctx).Model(&models.CatalogItem{}), params)
	query = applyOrder(query, params.OrderBy, params.Asc, "updated_at")
	limit := normalizeLimit(params.Limit, 20)
	offset := normalizeOffset(params.Offset)
	var items []models.CatalogItem
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountCatalogItems(ctx context.Context, params repository.ListCatalogParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var count int64
	query := applyCatalogFilters(s.db.WithContext(ctx).Model(&models.CatalogItem{}), params)
	if err := query.Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func applyCatalogFilters(query *gorm.DB, params repository.ListCatalogParams) *gorm.DB {
	if params.ValidOnly {
		query = query.Where("is_valid = ?", true)
	}
	if params.CategoryID != nil {
		query = query.Where("category_id = ?", *params.CategoryID)
	}
	if params.SubCategoryID != nil {
		query = query.Where("sub_category_id = ?", *params.SubCategoryID)
	}
	if area := strings.TrimSpace(params.Area); area != "" {
		query = query.Where("area = ?", area)
	}
	if params.Year != nil {
		query = query.Where("year = ?", *params.Year)
	}
	if kw := strings.TrimSpace(params.Keyword); kw != "" {
		query = query.Where("title ILIKE ?", "%"+kw+"%")
	}
	return query
}

func (s *Store) InvalidateCatalogItem(ctx context.Context, id string) error {
	if s == nil || s.db == nil || id == "" {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.CatalogItem{}).
		Where("id = ?", id).
		Update("is_valid", false).Error
}

// --- collection tasks -------------------------------------------------------

func (s *Store) CreateTask(ctx context.Context, item *models.CollectionTask) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetTask(ctx context.Context, id uint64) (*models.CollectionTask, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.CollectionTask
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListTasks(ctx context.Context, params repository.ListTasksParams) ([]models.CollectionTask, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.CollectionTask{})
	if status := strings.TrimSpace(params.Status); status != "" {
		query = query.Where("status = ?", status)
	}
	if typ := strings.TrimSpace(params.Type); typ != "" {
		query = query.Where("type = ?", typ)
	}
	limit := normalizeLimit(params.Limit, 50)
	offset := normalizeOffset(params.Offset)
	var items []models.CollectionTask
	if err := query.Order("id desc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) TransitionTask(ctx context.Context, id uint64, from []string, to string, updates map[string]any) (bool, error) {
	if s == nil || s.db == nil || id == 0 {
		return false, nil
	}
	if updates == nil {
		updates = map[string]any{}
	}
	updates["status"] = to
	res := s.db.WithContext(ctx).
		Model(&models.CollectionTask{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) SaveTaskProgressTx(ctx context.Context, tx *gorm.DB, task *models.CollectionTask) error {
	if task == nil || task.ID == 0 {
		return nil
	}
	db := tx
	if db == nil {
		if s == nil || s.db == nil {
			return nil
		}
		db = s.db.WithContext(ctx)
	}
	return db.Model(&models.CollectionTask{}).
		Where("id = ?", task.ID).
		Updates(map[string]any{
			"checkpoint":        task.Checkpoint,
			"current_source_id": task.CurrentSourceID,
			"current_page":      task.CurrentPage,
			"total_pages":       task.TotalPages,
			"processed_count":   task.ProcessedCount,
			"new_count":         task.NewCount,
			"update_count":      task.UpdateCount,
			"skip_count":        task.SkipCount,
			"error_count":       task.ErrorCount,
		}).Error
}

// --- collection logs --------------------------------------------------------

func (s *Store) InsertCollectionLog(ctx context.Context, item *models.CollectionLog) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListCollectionLogs(ctx context.Context, taskID uint64, limit, offset int) ([]models.CollectionLog, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	limit = normalizeLimit(limit, 100)
	offset = normalizeOffset(offset)
	var items []models.CollectionLog
	if err := s.db.WithContext(ctx).
		Model(&models.CollectionLog{}).
		Where("task_id = ?", taskID).
		Order("id desc").
		Limit(limit).Offset(offset).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) PruneCollectionLogs(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	if before.IsZero() {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("created_at < ?", before).
		Delete(&models.CollectionLog{})
	return res.RowsAffected, res.Error
}

// --- helpers ----------------------------------------------------------------

// orderableColumns is the allowlist for caller-supplied sort columns; the
// order_by value arrives straight from the query string.
var orderableColumns = map[string]bool{
	"updated_at":    true,
	"created_at":    true,
	"year":          true,
	"quality_score": true,
	"title":         true,
}

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(strings.ToLower(orderBy))
	if !orderableColumns[column] {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
