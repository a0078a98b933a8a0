package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// CatalogItem is one canonical title in the deduplicated library. The ID is
// derived from (normalized title, year, area) so repeated collection runs
// converge onto the same row. PlaySources holds the merged per-source episode
// lists as canonical JSON.
type CatalogItem struct {
	ID            string           `gorm:"primaryKey;type:varchar(40);comment:派生主键"`
	Title         string           `gorm:"type:varchar(500);not null;index;comment:标题"`
	TitleNorm     string           `gorm:"type:varchar(500);not null;index;comment:归一化标题"`
	Year          int              `gorm:"not null;default:0;index;comment:年份"`
	Area          string           `gorm:"type:varchar(100);index;comment:地区"`
	CategoryID    int              `gorm:"not null;default:0;index;comment:标准分类ID"`
	SubCategoryID *int             `gorm:"index;comment:标准子分类ID"`
	Actors        string           `gorm:"type:varchar(1000);comment:演员"`
	Director      string           `gorm:"type:varchar(500);comment:导演"`
	Synopsis      string           `gorm:"type:text;comment:简介"`
	CoverURL      string           `gorm:"type:varchar(1000);comment:封面图"`
	PlaySources   datatypes.JSON   `gorm:"type:jsonb;comment:播放源JSON"`
	QualityScore  decimal.Decimal  `gorm:"type:numeric(12,4);not null;default:0;comment:质量分"`
	SourceName    string           `gorm:"type:varchar(200);comment:元数据来源"`
	SourceWeight  decimal.Decimal  `gorm:"type:numeric(10,4);not null;default:0;comment:元数据来源权重"`
	IsValid       bool             `gorm:"not null;default:true;index;comment:是否有效"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (CatalogItem) TableName() string {
	return "catalog_items"
}
