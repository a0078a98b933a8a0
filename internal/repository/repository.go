package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"vodhub/internal/models"
)

type ListCatalogParams struct {
	CategoryID    *int
	SubCategoryID *int
	Area          string
	Year          *int
	Keyword       string
	ValidOnly     bool
	OrderBy       string
	Asc           *bool
	Limit         int
	Offset        int
}

type ListTasksParams struct {
	Status string
	Type   string
	Limit  int
	Offset int
}

// Repository is the single persistence surface shared by the aggregator, the
// task engine, the health monitor and the handlers. Concurrent writers (a
// live aggregate discovering a new item while a task runs) converge because
// every catalog write goes through the same dedup-key upsert.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Sources.
	CreateSource(ctx context.Context, item *models.Source) error
	UpdateSource(ctx context.Context, item *models.Source) error
	GetSource(ctx context.Context, id uint64) (*models.Source, error)
	GetSourceByKey(ctx context.Context, key string) (*models.Source, error)
	ListSources(ctx context.Context, activeOnly bool) ([]models.Source, error)
	UpdateSourceFormat(ctx context.Context, id uint64, format string) error

	// Source health.
	GetSourceHealth(ctx context.Context, sourceID uint64) (*models.SourceHealth, error)
	ListSourceHealth(ctx context.Context) ([]models.SourceHealth, error)
	UpsertSourceHealth(ctx context.Context, item *models.SourceHealth) error

	// Canonical taxonomy and learned mappings.
	ListCategories(ctx context.Context) ([]models.Category, error)
	SeedCategories(ctx context.Context, items []models.Category) error
	GetCategoryMapping(ctx context.Context, sourceID uint64, sourceCategoryID int) (*models.CategoryMapping, error)
	UpsertCategoryMapping(ctx context.Context, item *models.CategoryMapping) error
	ListCategoryMappings(ctx context.Context, sourceID uint64) ([]models.CategoryMapping, error)

	// Catalog.
	GetCatalogItem(ctx context.Context, id string) (*models.CatalogItem, error)
	GetCatalogItemByKey(ctx context.Context, titleNorm string, year int) (*models.CatalogItem, error)
	UpsertCatalogItem(ctx context.Context, item *models.CatalogItem) error
	UpsertCatalogItemTx(ctx context.Context, tx *gorm.DB, item *models.CatalogItem) error
	ListCatalogItems(ctx context.Context, params ListCatalogParams) ([]models.CatalogItem, error)
	CountCatalogItems(ctx context.Context, params ListCatalogParams) (int64, error)
	InvalidateCatalogItem(ctx context.Context, id string) error

	// Collection tasks.
	CreateTask(ctx context.Context, item *models.CollectionTask) error
	GetTask(ctx context.Context, id uint64) (*models.CollectionTask, error)
	ListTasks(ctx context.Context, params ListTasksParams) ([]models.CollectionTask, error)
	// TransitionTask is a compare-and-set status move: it succeeds only if
	// the task is currently in one of from, and applies updates atomically.
	TransitionTask(ctx context.Context, id uint64, from []string, to string, updates map[string]any) (bool, error)
	SaveTaskProgressTx(ctx context.Context, tx *gorm.DB, task *models.CollectionTask) error

	// Collection logs.
	InsertCollectionLog(ctx context.Context, item *models.CollectionLog) error
	ListCollectionLogs(ctx context.Context, taskID uint64, limit, offset int) ([]models.CollectionLog, error)
	PruneCollectionLogs(ctx context.Context, before time.Time) (int64, error)
}
