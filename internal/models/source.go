package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Source is one third-party video listing endpoint. The response format is
// declared by the operator or learned once by the parser and written back.
type Source struct {
	ID             uint64          `gorm:"primaryKey;autoIncrement"`
	Key            string          `gorm:"type:varchar(50);uniqueIndex;not null;comment:资源站标识"`
	Name           string          `gorm:"type:varchar(200);not null;comment:资源站名称"`
	DisplayName    *string         `gorm:"type:varchar(200);comment:前台展示名称"`
	EndpointURL    string          `gorm:"type:varchar(500);not null;comment:采集接口地址"`
	ResponseFormat string          `gorm:"type:varchar(10);not null;default:'auto';comment:响应格式 json|xml|auto"`
	Weight         decimal.Decimal `gorm:"type:numeric(10,4);not null;default:1;comment:源权重"`
	Active         bool            `gorm:"not null;default:true;index;comment:是否启用"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Source) TableName() string {
	return "sources"
}

const (
	FormatAuto = "auto"
	FormatJSON = "json"
	FormatXML  = "xml"
)
