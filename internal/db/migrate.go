package db

import (
	"vodhub/internal/models"
)

func AutoMigrate(db *DB) error {
	if db == nil || db.Gorm == nil || db.SQL == nil {
		return nil
	}

	return db.Gorm.AutoMigrate(
		&models.Source{},
		&models.SourceHealth{},
		&models.Category{},
		&models.CategoryMapping{},
		&models.CatalogItem{},
		&models.CollectionTask{},
		&models.CollectionLog{},
	)
}
