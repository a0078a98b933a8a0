package models

import "time"

// SourceHealth is the rolling probe state for one source. One row per source,
// overwritten in place; safe under concurrent probes since every update is a
// whole-row upsert scoped to one source id.
type SourceHealth struct {
	SourceID            uint64     `gorm:"primaryKey;comment:源ID"`
	Status              string     `gorm:"type:varchar(20);not null;default:'unknown';comment:健康状态 healthy|slow|timeout|error"`
	AvgResponseTimeMs   int64      `gorm:"not null;default:0;comment:平均响应时间毫秒"`
	SuccessRate         float64    `gorm:"not null;default:0;comment:滚动成功率"`
	ConsecutiveFailures int        `gorm:"not null;default:0;comment:连续失败次数"`
	LastError           *string    `gorm:"type:text;comment:最近错误"`
	LastCheckedAt       *time.Time `gorm:"type:timestamptz;comment:最近探测时间"`
}

func (SourceHealth) TableName() string {
	return "source_health"
}

const (
	HealthHealthy = "healthy"
	HealthSlow    = "slow"
	HealthTimeout = "timeout"
	HealthError   = "error"
	HealthUnknown = "unknown"
)
