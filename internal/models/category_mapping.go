package models

import "time"

// CategoryMapping is the persisted classifier decision for one source-local
// category, so repeat lookups are exact instead of heuristic.
type CategoryMapping struct {
	ID                  uint64  `gorm:"primaryKey;autoIncrement"`
	SourceID            uint64  `gorm:"uniqueIndex:idx_mapping_source_cat;not null;comment:源ID"`
	SourceCategoryID    int     `gorm:"uniqueIndex:idx_mapping_source_cat;not null;comment:源分类ID"`
	SourceCategoryName  string  `gorm:"type:varchar(100);comment:源分类名称"`
	TargetCategoryID    int     `gorm:"not null;index;comment:标准分类ID"`
	TargetSubCategoryID *int    `gorm:"comment:标准子分类ID"`
	Method              string  `gorm:"type:varchar(20);not null;comment:判定方式 mapped|heuristic|fallback"`
	Confidence          float64 `gorm:"not null;default:0;comment:置信度"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (CategoryMapping) TableName() string {
	return "category_mappings"
}
