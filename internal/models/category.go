package models

import "time"

// Category is one node of the canonical taxonomy that every source-specific
// category is mapped into. Keywords drive the classifier's heuristic match.
type Category struct {
	ID       int    `gorm:"primaryKey;comment:标准分类ID"`
	Name     string `gorm:"type:varchar(50);not null;index;comment:分类名称"`
	ParentID int    `gorm:"not null;default:0;index;comment:父分类ID"`
	Keywords string `gorm:"type:text;comment:关键词,逗号分隔"`
	Sort     int    `gorm:"not null;default:0;comment:排序"`
	IsActive bool   `gorm:"not null;default:true;comment:是否启用"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Category) TableName() string {
	return "categories"
}

// Canonical top-level category ids. CategoryUnclassified is the fallback
// bucket; classification never fails.
const (
	CategoryUnclassified = 0
	CategoryMovie        = 1
	CategorySeries       = 2
	CategoryVariety      = 3
	CategoryAnime        = 4
	CategoryShorts       = 5
)
