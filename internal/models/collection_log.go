package models

import "time"

// CollectionLog is an append-only per-task log line, pruned on a retention
// schedule.
type CollectionLog struct {
	ID      uint64  `gorm:"primaryKey;autoIncrement"`
	TaskID  uint64  `gorm:"index;not null;comment:任务ID"`
	Level   string  `gorm:"type:varchar(10);not null;comment:级别"`
	Action  string  `gorm:"type:varchar(50);not null;index;comment:动作"`
	Message string  `gorm:"type:text;comment:内容"`
	VodID   *string `gorm:"type:varchar(40);comment:条目ID"`
	VodName *string `gorm:"type:varchar(500);comment:条目名称"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (CollectionLog) TableName() string {
	return "collection_logs"
}
